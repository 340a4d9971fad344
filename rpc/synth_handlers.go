package rpc

import (
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"time"

	"synthengine/crypto"
)

type handlerFunc func(w http.ResponseWriter, r *http.Request, req *RPCRequest) int

var mutatingMethods = map[string]bool{
	"synth_depositCollateral":  true,
	"synth_redeemCollateral":   true,
	"synth_mint":               true,
	"synth_burn":               true,
	"synth_depositAndMint":     true,
	"synth_redeemForSynthetic": true,
	"synth_liquidate":          true,
	"synth_setPrice":           true,
}

func (s *Server) methods() map[string]handlerFunc {
	return map[string]handlerFunc{
		"synth_depositCollateral":  s.handleDepositCollateral,
		"synth_redeemCollateral":   s.handleRedeemCollateral,
		"synth_mint":               s.handleMint,
		"synth_burn":               s.handleBurn,
		"synth_depositAndMint":     s.handleDepositAndMint,
		"synth_redeemForSynthetic": s.handleRedeemForSynthetic,
		"synth_liquidate":          s.handleLiquidate,
		"synth_setPrice":           s.handleSetPrice,
		"synth_getAccount":         s.handleGetAccount,
		"synth_getCollateral":      s.handleGetCollateral,
		"synth_healthFactor":       s.handleHealthFactor,
		"synth_listCollateral":     s.handleListCollateral,
	}
}

type collateralOpParams struct {
	Caller string `json:"caller"`
	Asset  string `json:"asset"`
	Amount string `json:"amount"`
}

type debtOpParams struct {
	Caller string `json:"caller"`
	Amount string `json:"amount"`
}

type combinedOpParams struct {
	Caller           string `json:"caller"`
	Asset            string `json:"asset"`
	AmountCollateral string `json:"amountCollateral"`
	AmountSynthetic  string `json:"amountSynthetic"`
}

type liquidateParams struct {
	Liquidator  string `json:"liquidator"`
	User        string `json:"user"`
	Asset       string `json:"asset"`
	DebtToCover string `json:"debtToCover"`
}

type accountParams struct {
	Address string `json:"address"`
}

type collateralQueryParams struct {
	Address string `json:"address"`
	Asset   string `json:"asset"`
}

type setPriceParams struct {
	Feed  string `json:"feed"`
	Price string `json:"price"`
}

type accountResult struct {
	Address            string   `json:"address"`
	DebtUSD            *big.Int `json:"debtUSD"`
	CollateralValueUSD *big.Int `json:"collateralValueUSD"`
	HealthFactor       *big.Int `json:"healthFactor"`
}

type collateralAssetResult struct {
	Asset string `json:"asset"`
	Feed  string `json:"feed"`
}

type ackResult struct {
	Status string `json:"status"`
}

func decodeParams(req *RPCRequest, out interface{}) error {
	if len(req.Params) != 1 {
		return fmt.Errorf("expected exactly one parameter object")
	}
	return json.Unmarshal(req.Params[0], out)
}

func parseAddress(raw string) (crypto.Address, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return crypto.Address{}, fmt.Errorf("address required")
	}
	return crypto.DecodeAddress(trimmed)
}

func parseAmount(raw string) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, fmt.Errorf("amount required")
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", raw)
	}
	return amount, nil
}

func (s *Server) writeEngineError(w http.ResponseWriter, req *RPCRequest, err error) int {
	code := errorCode(err)
	writeError(w, http.StatusOK, req.ID, code, err.Error(), nil)
	return code
}

func (s *Server) handleDepositCollateral(w http.ResponseWriter, _ *http.Request, req *RPCRequest) int {
	var params collateralOpParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return codeInvalidParams
	}
	caller, asset, amount, code := s.collateralOpArgs(w, req, params)
	if code != 0 {
		return code
	}
	if err := s.engine.DepositCollateral(caller, asset, amount); err != nil {
		return s.writeEngineError(w, req, err)
	}
	writeResult(w, req.ID, ackResult{Status: "ok"})
	return 0
}

func (s *Server) handleRedeemCollateral(w http.ResponseWriter, _ *http.Request, req *RPCRequest) int {
	var params collateralOpParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return codeInvalidParams
	}
	caller, asset, amount, code := s.collateralOpArgs(w, req, params)
	if code != 0 {
		return code
	}
	if err := s.engine.RedeemCollateral(caller, asset, amount); err != nil {
		return s.writeEngineError(w, req, err)
	}
	writeResult(w, req.ID, ackResult{Status: "ok"})
	return 0
}

func (s *Server) collateralOpArgs(w http.ResponseWriter, req *RPCRequest, params collateralOpParams) (crypto.Address, crypto.Address, *big.Int, int) {
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid caller", err.Error())
		return crypto.Address{}, crypto.Address{}, nil, codeInvalidParams
	}
	asset, err := parseAddress(params.Asset)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid asset", err.Error())
		return crypto.Address{}, crypto.Address{}, nil, codeInvalidParams
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid amount", err.Error())
		return crypto.Address{}, crypto.Address{}, nil, codeInvalidParams
	}
	return caller, asset, amount, 0
}

func (s *Server) handleMint(w http.ResponseWriter, _ *http.Request, req *RPCRequest) int {
	var params debtOpParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return codeInvalidParams
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid caller", err.Error())
		return codeInvalidParams
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid amount", err.Error())
		return codeInvalidParams
	}
	if err := s.engine.MintSynthetic(caller, amount); err != nil {
		return s.writeEngineError(w, req, err)
	}
	writeResult(w, req.ID, ackResult{Status: "ok"})
	return 0
}

func (s *Server) handleBurn(w http.ResponseWriter, _ *http.Request, req *RPCRequest) int {
	var params debtOpParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return codeInvalidParams
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid caller", err.Error())
		return codeInvalidParams
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid amount", err.Error())
		return codeInvalidParams
	}
	if err := s.engine.BurnSynthetic(caller, amount); err != nil {
		return s.writeEngineError(w, req, err)
	}
	writeResult(w, req.ID, ackResult{Status: "ok"})
	return 0
}

func (s *Server) handleDepositAndMint(w http.ResponseWriter, _ *http.Request, req *RPCRequest) int {
	caller, asset, amountCollateral, amountSynthetic, code := s.combinedOpArgs(w, req)
	if code != 0 {
		return code
	}
	if err := s.engine.DepositCollateralAndMint(caller, asset, amountCollateral, amountSynthetic); err != nil {
		return s.writeEngineError(w, req, err)
	}
	writeResult(w, req.ID, ackResult{Status: "ok"})
	return 0
}

func (s *Server) handleRedeemForSynthetic(w http.ResponseWriter, _ *http.Request, req *RPCRequest) int {
	caller, asset, amountCollateral, amountSynthetic, code := s.combinedOpArgs(w, req)
	if code != 0 {
		return code
	}
	if err := s.engine.RedeemCollateralForSynthetic(caller, asset, amountCollateral, amountSynthetic); err != nil {
		return s.writeEngineError(w, req, err)
	}
	writeResult(w, req.ID, ackResult{Status: "ok"})
	return 0
}

func (s *Server) combinedOpArgs(w http.ResponseWriter, req *RPCRequest) (crypto.Address, crypto.Address, *big.Int, *big.Int, int) {
	var params combinedOpParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return crypto.Address{}, crypto.Address{}, nil, nil, codeInvalidParams
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid caller", err.Error())
		return crypto.Address{}, crypto.Address{}, nil, nil, codeInvalidParams
	}
	asset, err := parseAddress(params.Asset)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid asset", err.Error())
		return crypto.Address{}, crypto.Address{}, nil, nil, codeInvalidParams
	}
	amountCollateral, err := parseAmount(params.AmountCollateral)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid collateral amount", err.Error())
		return crypto.Address{}, crypto.Address{}, nil, nil, codeInvalidParams
	}
	amountSynthetic, err := parseAmount(params.AmountSynthetic)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid synthetic amount", err.Error())
		return crypto.Address{}, crypto.Address{}, nil, nil, codeInvalidParams
	}
	return caller, asset, amountCollateral, amountSynthetic, 0
}

func (s *Server) handleLiquidate(w http.ResponseWriter, _ *http.Request, req *RPCRequest) int {
	var params liquidateParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return codeInvalidParams
	}
	liquidator, err := parseAddress(params.Liquidator)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid liquidator", err.Error())
		return codeInvalidParams
	}
	user, err := parseAddress(params.User)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid user", err.Error())
		return codeInvalidParams
	}
	asset, err := parseAddress(params.Asset)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid asset", err.Error())
		return codeInvalidParams
	}
	debtToCover, err := parseAmount(params.DebtToCover)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid debtToCover", err.Error())
		return codeInvalidParams
	}
	if err := s.engine.Liquidate(liquidator, user, asset, debtToCover); err != nil {
		return s.writeEngineError(w, req, err)
	}
	s.metrics.ObserveLiquidation()
	writeResult(w, req.ID, ackResult{Status: "ok"})
	return 0
}

// handleSetPrice records a manual price override on a registered feed. The
// reading is timestamped with the current time, so it passes the freshness
// window until it ages out.
func (s *Server) handleSetPrice(w http.ResponseWriter, _ *http.Request, req *RPCRequest) int {
	var params setPriceParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return codeInvalidParams
	}
	feedID := strings.ToLower(strings.TrimSpace(params.Feed))
	s.mu.Lock()
	feed := s.feeds[feedID]
	s.mu.Unlock()
	if feed == nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "unknown feed", params.Feed)
		return codeInvalidParams
	}
	if err := feed.SetDecimal(params.Price, time.Now()); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid price", err.Error())
		return codeInvalidParams
	}
	writeResult(w, req.ID, ackResult{Status: "ok"})
	return 0
}

func (s *Server) handleGetAccount(w http.ResponseWriter, _ *http.Request, req *RPCRequest) int {
	var params accountParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return codeInvalidParams
	}
	address, err := parseAddress(params.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid address", err.Error())
		return codeInvalidParams
	}
	info, err := s.engine.AccountInformation(address)
	if err != nil {
		return s.writeEngineError(w, req, err)
	}
	writeResult(w, req.ID, accountResult{
		Address:            address.String(),
		DebtUSD:            info.DebtUSD,
		CollateralValueUSD: info.CollateralValueUSD,
		HealthFactor:       info.HealthFactor,
	})
	return 0
}

func (s *Server) handleGetCollateral(w http.ResponseWriter, _ *http.Request, req *RPCRequest) int {
	var params collateralQueryParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return codeInvalidParams
	}
	address, err := parseAddress(params.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid address", err.Error())
		return codeInvalidParams
	}
	asset, err := parseAddress(params.Asset)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid asset", err.Error())
		return codeInvalidParams
	}
	balance, err := s.engine.CollateralBalance(address, asset)
	if err != nil {
		return s.writeEngineError(w, req, err)
	}
	writeResult(w, req.ID, map[string]interface{}{
		"address": address.String(),
		"asset":   asset.String(),
		"balance": balance,
	})
	return 0
}

func (s *Server) handleHealthFactor(w http.ResponseWriter, _ *http.Request, req *RPCRequest) int {
	var params accountParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return codeInvalidParams
	}
	address, err := parseAddress(params.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid address", err.Error())
		return codeInvalidParams
	}
	factor, err := s.engine.HealthFactor(address)
	if err != nil {
		return s.writeEngineError(w, req, err)
	}
	writeResult(w, req.ID, map[string]interface{}{
		"address":      address.String(),
		"healthFactor": factor,
	})
	return 0
}

func (s *Server) handleListCollateral(w http.ResponseWriter, _ *http.Request, req *RPCRequest) int {
	assets := s.engine.CollateralAssets()
	results := make([]collateralAssetResult, 0, len(assets))
	for _, entry := range assets {
		results = append(results, collateralAssetResult{Asset: entry.Asset.String(), Feed: entry.FeedID})
	}
	writeResult(w, req.ID, results)
	return 0
}
