package main

import (
	"flag"
	"fmt"
	"log/slog"
	"math/big"
	"os"
	"strings"
	"time"

	"synthengine/config"
	"synthengine/core/events"
	"synthengine/crypto"
	"synthengine/native/synth"
	"synthengine/observability/logging"
	"synthengine/rpc"
	"synthengine/storage"
)

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("SYNTH_ENV"))

	cfg, err := config.Load(*configFile)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	logger := logging.Setup("synthd", env, logging.WithRotatingFile(cfg.LogFile))

	moduleAddr, err := resolveModuleAddress(cfg, logger)
	if err != nil {
		logger.Error("Failed to resolve module address", slog.Any("error", err))
		os.Exit(1)
	}

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		panic(fmt.Sprintf("Failed to open database: %v", err))
	}
	defer db.Close()

	oracle := synth.NewOracle(cfg.MaxQuoteAge())
	feeds := make(map[string]*synth.ManualFeed, len(cfg.Collateral))
	assets := make([]crypto.Address, 0, len(cfg.Collateral))
	feedIDs := make([]string, 0, len(cfg.Collateral))
	for _, entry := range cfg.Collateral {
		asset, err := crypto.DecodeAddress(entry.Asset)
		if err != nil {
			logger.Error("Invalid collateral asset", slog.String("asset", entry.Asset), slog.Any("error", err))
			os.Exit(1)
		}
		feed := synth.NewManualFeed(entry.FeedDecimals)
		if strings.TrimSpace(entry.InitialPrice) != "" {
			if err := feed.SetDecimal(entry.InitialPrice, time.Now()); err != nil {
				logger.Error("Invalid initial price", slog.String("feed", entry.Feed), slog.Any("error", err))
				os.Exit(1)
			}
		}
		oracle.Register(entry.Feed, feed)
		feeds[entry.Feed] = feed
		assets = append(assets, asset)
		feedIDs = append(feedIDs, entry.Feed)
	}

	synthetic := synth.NewMemorySynth(moduleAddr)
	engine, err := synth.NewEngine(moduleAddr, assets, feedIDs, synthetic)
	if err != nil {
		logger.Error("Failed to construct engine", slog.Any("error", err))
		os.Exit(1)
	}
	engine.SetState(synth.NewKVState(db))
	engine.SetOracle(oracle)
	engine.SetEmitter(&logEmitter{logger: logger})

	for i, entry := range cfg.Collateral {
		token := synth.NewMemoryToken(moduleAddr)
		for _, balance := range entry.Balances {
			holder, err := crypto.DecodeAddress(balance.Address)
			if err != nil {
				logger.Error("Invalid balance address", slog.String("address", balance.Address), slog.Any("error", err))
				os.Exit(1)
			}
			amount, ok := new(big.Int).SetString(strings.TrimSpace(balance.Amount), 10)
			if !ok || amount.Sign() < 0 {
				logger.Error("Invalid balance amount", slog.String("amount", balance.Amount))
				os.Exit(1)
			}
			token.SetBalance(holder, amount)
		}
		engine.SetTokenLedger(assets[i], token)
	}

	server := rpc.NewServer(engine, logger)
	for feedID, feed := range feeds {
		server.RegisterManualFeed(feedID, feed)
	}

	logger.Info("engine ready",
		slog.String("module", moduleAddr.String()),
		slog.Int("collateral_assets", len(assets)),
	)
	if err := server.Start(cfg.RPCAddress); err != nil {
		logger.Error("RPC server stopped", slog.Any("error", err))
		os.Exit(1)
	}
}

// resolveModuleAddress prefers the configured custody address and falls back
// to generating an ephemeral one, which is only suitable for development.
func resolveModuleAddress(cfg *config.Config, logger *slog.Logger) (crypto.Address, error) {
	if trimmed := strings.TrimSpace(cfg.ModuleAddress); trimmed != "" {
		return crypto.DecodeAddress(trimmed)
	}
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return crypto.Address{}, err
	}
	addr := key.PubKey().Address()
	logger.Warn("ModuleAddress not configured; generated ephemeral custody address", slog.String("address", addr.String()))
	return addr, nil
}

// logEmitter forwards engine events to the structured logger.
type logEmitter struct {
	logger *slog.Logger
}

func (l *logEmitter) Emit(evt events.Event) {
	if l == nil || l.logger == nil {
		return
	}
	l.logger.Info("engine event", slog.String("type", evt.EventType()), slog.Any("event", evt))
}
