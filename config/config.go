package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

type Config struct {
	DataDir       string  `toml:"DataDir"`
	OffchainDBDir string  `toml:"OffchainDBDir"`
	NetworkName   string  `toml:"NetworkName"`
	Engine        Engine  `toml:"Engine"`
	Scanner       Scanner `toml:"Scanner"`
	Pauses        Pauses  `toml:"Pauses"`
}

// Load loads the configuration from the given path.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}

	applyDefaults(cfg)

	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := DefaultConfig()
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// DefaultConfig returns the built-in defaults used when no config file exists.
func DefaultConfig() *Config {
	return &Config{
		DataDir:       "./vault-data",
		OffchainDBDir: "./vault-data/offchain",
		NetworkName:   "vault-local",
		Engine: Engine{
			StableSymbol:     "VUSD",
			CollateralTokens: []string{"WETH", "WBTC"},
			// 150% collateralization floor.
			DefaultLiquidationRatio: "1500000000000000000",
			// One debit unit starts at 0.1 stable units of debt.
			DefaultDebitExchangeRate:       "100000000000000000",
			DefaultLiquidationPenalty:      "100000000000000000",
			MinimumDebitValue:              "10000000000000000000",
			MaxSwapSlippage:                "50000000000000000",
			MaxLiquidationContractSlippage: "150000000000000000",
			MaxLiquidationContracts:        10,
			UnsignedPriority:               1 << 60,
		},
		Scanner: Scanner{
			LockDurationMillis: 100,
			MaxIterations:      1000,
		},
	}
}

func applyDefaults(cfg *Config) {
	defaults := DefaultConfig()
	if strings.TrimSpace(cfg.NetworkName) == "" {
		cfg.NetworkName = defaults.NetworkName
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = defaults.DataDir
	}
	if strings.TrimSpace(cfg.OffchainDBDir) == "" {
		cfg.OffchainDBDir = filepath.Join(cfg.DataDir, "offchain")
	}
	if cfg.Engine.CollateralTokens == nil {
		cfg.Engine.CollateralTokens = []string{}
	}
	if strings.TrimSpace(cfg.Engine.StableSymbol) == "" {
		cfg.Engine.StableSymbol = defaults.Engine.StableSymbol
	}
	if cfg.Engine.DefaultLiquidationRatio == "" {
		cfg.Engine.DefaultLiquidationRatio = defaults.Engine.DefaultLiquidationRatio
	}
	if cfg.Engine.DefaultDebitExchangeRate == "" {
		cfg.Engine.DefaultDebitExchangeRate = defaults.Engine.DefaultDebitExchangeRate
	}
	if cfg.Engine.DefaultLiquidationPenalty == "" {
		cfg.Engine.DefaultLiquidationPenalty = defaults.Engine.DefaultLiquidationPenalty
	}
	if cfg.Engine.MinimumDebitValue == "" {
		cfg.Engine.MinimumDebitValue = defaults.Engine.MinimumDebitValue
	}
	if cfg.Engine.MaxSwapSlippage == "" {
		cfg.Engine.MaxSwapSlippage = defaults.Engine.MaxSwapSlippage
	}
	if cfg.Engine.MaxLiquidationContractSlippage == "" {
		cfg.Engine.MaxLiquidationContractSlippage = defaults.Engine.MaxLiquidationContractSlippage
	}
	if cfg.Engine.MaxLiquidationContracts == 0 {
		cfg.Engine.MaxLiquidationContracts = defaults.Engine.MaxLiquidationContracts
	}
	if cfg.Engine.UnsignedPriority == 0 {
		cfg.Engine.UnsignedPriority = defaults.Engine.UnsignedPriority
	}
	if cfg.Scanner.LockDurationMillis == 0 {
		cfg.Scanner.LockDurationMillis = defaults.Scanner.LockDurationMillis
	}
	if cfg.Scanner.MaxIterations == 0 {
		cfg.Scanner.MaxIterations = defaults.Scanner.MaxIterations
	}
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}
