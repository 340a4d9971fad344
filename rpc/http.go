package rpc

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"synthengine/native/common"
	"synthengine/native/synth"
	"synthengine/observability"
)

const (
	jsonRPCVersion  = "2.0"
	maxRequestBytes = 1 << 20 // 1 MiB
	rateLimitWindow = time.Minute
	maxTxPerWindow  = 30
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeUnauthorized   = -32001
	codeServerError    = -32000
	codeEngineBusy     = -32010
	codeRateLimited    = -32020
)

// Server exposes the engine façade over JSON-RPC. Mutating methods require the
// bearer token published through the SYNTH_RPC_TOKEN environment variable and
// are rate limited per source host.
type Server struct {
	engine  *synth.Engine
	logger  *slog.Logger
	metrics *observability.EngineMetrics

	mu       sync.Mutex
	feeds    map[string]*synth.ManualFeed
	limiters map[string]*rate.Limiter

	authToken string
}

func NewServer(engine *synth.Engine, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	token := strings.TrimSpace(os.Getenv("SYNTH_RPC_TOKEN"))
	return &Server{
		engine:    engine,
		logger:    logger,
		metrics:   observability.Metrics(),
		feeds:     make(map[string]*synth.ManualFeed),
		limiters:  make(map[string]*rate.Limiter),
		authToken: token,
	}
}

// RegisterManualFeed exposes a manual feed for the synth_setPrice override.
func (s *Server) RegisterManualFeed(feedID string, feed *synth.ManualFeed) {
	if s == nil || feed == nil {
		return
	}
	trimmed := strings.ToLower(strings.TrimSpace(feedID))
	if trimmed == "" {
		return
	}
	s.mu.Lock()
	s.feeds[trimmed] = feed
	s.mu.Unlock()
}

// Router assembles the HTTP surface: the RPC endpoint plus health and metrics.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Post("/", s.handle)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())
	return r
}

func (s *Server) Start(addr string) error {
	s.logger.Info("starting JSON-RPC server", slog.String("addr", addr))
	return http.ListenAndServe(addr, s.Router())
}

type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      int               `json:"id"`
}

type RPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func writeError(w http.ResponseWriter, status int, id interface{}, code int, message string, data interface{}) {
	if status <= 0 {
		status = http.StatusBadRequest
	}
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	errObj := &RPCError{Code: code, Message: message}
	if data != nil {
		errObj.Data = data
	}
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Error: errObj}
	_ = json.NewEncoder(w).Encode(resp)
}

func writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Result: result}
	_ = json.NewEncoder(w).Encode(resp)
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBytes+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "failed to read request body", nil)
		return
	}
	if len(body) > maxRequestBytes {
		writeError(w, http.StatusRequestEntityTooLarge, nil, codeInvalidRequest, "request body too large", nil)
		return
	}

	var req RPCRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "invalid JSON payload", err.Error())
		return
	}
	if req.JSONRPC != "" && req.JSONRPC != jsonRPCVersion {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "unsupported jsonrpc version", nil)
		return
	}

	method := strings.TrimSpace(req.Method)
	handler, ok := s.methods()[method]
	if !ok {
		writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, "method not found", method)
		return
	}

	if mutatingMethods[method] {
		if !s.authorized(r) {
			writeError(w, http.StatusUnauthorized, req.ID, codeUnauthorized, "unauthorized", nil)
			return
		}
		if !s.allow(r) {
			writeError(w, http.StatusTooManyRequests, req.ID, codeRateLimited, "rate limit exceeded", nil)
			return
		}
	}

	started := time.Now()
	code := handler(w, r, &req)
	s.metrics.Observe(method, codeLabel(code), time.Since(started))
}

func codeLabel(code int) string {
	if code == 0 {
		return ""
	}
	return strconv.Itoa(code)
}

func (s *Server) authorized(r *http.Request) bool {
	if s.authToken == "" {
		return true
	}
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return false
	}
	supplied := strings.TrimSpace(strings.TrimPrefix(header, prefix))
	return subtle.ConstantTimeCompare([]byte(supplied), []byte(s.authToken)) == 1
}

// allow applies the per-source rate limit for mutating methods.
func (s *Server) allow(r *http.Request) bool {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	s.mu.Lock()
	limiter, ok := s.limiters[host]
	if !ok {
		limiter = rate.NewLimiter(rate.Every(rateLimitWindow/maxTxPerWindow), maxTxPerWindow)
		s.limiters[host] = limiter
	}
	s.mu.Unlock()
	return limiter.Allow()
}

// errorCode maps engine errors onto JSON-RPC error codes so clients can
// distinguish validation failures from solvency and collaborator failures.
func errorCode(err error) int {
	switch {
	case errors.Is(err, synth.ErrAmountMustBePositive),
		errors.Is(err, synth.ErrAssetNotAllowed),
		errors.Is(err, synth.ErrLengthMismatch):
		return codeInvalidParams
	case errors.Is(err, synth.ErrEngineBusy):
		return codeEngineBusy
	case errors.Is(err, common.ErrModulePaused):
		return codeServerError
	default:
		return codeServerError
	}
}
