package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"synthengine/crypto"

	"github.com/BurntSushi/toml"
)

// Config captures the daemon configuration for the synthetic-asset engine.
type Config struct {
	RPCAddress         string `toml:"RPCAddress"`
	DataDir            string `toml:"DataDir"`
	ModuleAddress      string `toml:"ModuleAddress"`
	MaxQuoteAgeSeconds int64  `toml:"MaxQuoteAgeSeconds"`
	LogEnv             string `toml:"LogEnv"`
	LogFile            string `toml:"LogFile"`

	Collateral []CollateralConfig `toml:"Collateral"`
}

// CollateralConfig declares one allow-listed collateral asset and the price
// feed that values it. The allow-list is fixed at engine construction.
type CollateralConfig struct {
	Asset        string          `toml:"Asset"`
	Feed         string          `toml:"Feed"`
	FeedDecimals uint8           `toml:"FeedDecimals"`
	InitialPrice string          `toml:"InitialPrice"`
	Balances     []BalanceConfig `toml:"Balances"`
}

// BalanceConfig seeds a development account balance on the in-process token
// ledger at startup.
type BalanceConfig struct {
	Address string `toml:"Address"`
	Amount  string `toml:"Amount"`
}

// Load loads the configuration from the given path, creating a default file
// when none exists.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}

	applyDefaults(cfg)
	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	return cfg, nil
}

// MaxQuoteAge returns the configured oracle freshness window as a duration.
func (c *Config) MaxQuoteAge() time.Duration {
	return time.Duration(c.MaxQuoteAgeSeconds) * time.Second
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.RPCAddress) == "" {
		cfg.RPCAddress = ":8645"
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = "./synth-data"
	}
	if cfg.MaxQuoteAgeSeconds <= 0 {
		cfg.MaxQuoteAgeSeconds = 120
	}
	for i := range cfg.Collateral {
		cfg.Collateral[i].Feed = strings.ToLower(strings.TrimSpace(cfg.Collateral[i].Feed))
		if cfg.Collateral[i].FeedDecimals == 0 {
			cfg.Collateral[i].FeedDecimals = 8
		}
	}
}

func validate(cfg *Config) error {
	if strings.TrimSpace(cfg.ModuleAddress) != "" {
		if _, err := crypto.DecodeAddress(cfg.ModuleAddress); err != nil {
			return fmt.Errorf("invalid ModuleAddress: %w", err)
		}
	}
	seen := make(map[string]struct{}, len(cfg.Collateral))
	for _, entry := range cfg.Collateral {
		if strings.TrimSpace(entry.Asset) == "" {
			return fmt.Errorf("collateral entry missing Asset")
		}
		if _, err := crypto.DecodeAddress(entry.Asset); err != nil {
			return fmt.Errorf("invalid collateral asset %q: %w", entry.Asset, err)
		}
		if strings.TrimSpace(entry.Feed) == "" {
			return fmt.Errorf("collateral asset %s missing Feed", entry.Asset)
		}
		if _, dup := seen[entry.Asset]; dup {
			return fmt.Errorf("duplicate collateral asset %s", entry.Asset)
		}
		seen[entry.Asset] = struct{}{}
		for _, balance := range entry.Balances {
			if _, err := crypto.DecodeAddress(balance.Address); err != nil {
				return fmt.Errorf("invalid balance address %q: %w", balance.Address, err)
			}
		}
	}
	return nil
}

// createDefault creates and saves a default configuration file. A fresh module
// custody address is generated so the engine has a stable identity across
// restarts.
func createDefault(path string) (*Config, error) {
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return nil, err
	}
	cfg := &Config{
		ModuleAddress: key.PubKey().Address().String(),
	}
	applyDefaults(cfg)
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	buf := new(bytes.Buffer)
	if err := toml.NewEncoder(buf).Encode(cfg); err != nil {
		return err
	}
	return os.WriteFile(path, buf.Bytes(), 0o644)
}
