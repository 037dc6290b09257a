package config

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"vaultchain/native/cdp"
)

// EngineParams converts the validated engine section into runtime parameters.
func (cfg *Config) EngineParams() (cdp.Params, error) {
	params := cdp.Params{
		StableCurrency:          cdp.TokenCurrency(cfg.Engine.StableSymbol),
		MaxLiquidationContracts: cfg.Engine.MaxLiquidationContracts,
		UnsignedPriority:        cfg.Engine.UnsignedPriority,
	}
	for _, sym := range cfg.Engine.CollateralTokens {
		params.CollateralCurrencies = append(params.CollateralCurrencies, cdp.TokenCurrency(sym))
	}

	var err error
	if params.DefaultLiquidationRatio, err = parseFixedAmount(cfg.Engine.DefaultLiquidationRatio); err != nil {
		return cdp.Params{}, fmt.Errorf("invalid Engine.DefaultLiquidationRatio: %w", err)
	}
	if params.DefaultDebitExchangeRate, err = parseFixedAmount(cfg.Engine.DefaultDebitExchangeRate); err != nil {
		return cdp.Params{}, fmt.Errorf("invalid Engine.DefaultDebitExchangeRate: %w", err)
	}
	if params.DefaultLiquidationPenalty, err = parseFixedAmount(cfg.Engine.DefaultLiquidationPenalty); err != nil {
		return cdp.Params{}, fmt.Errorf("invalid Engine.DefaultLiquidationPenalty: %w", err)
	}
	if params.MinimumDebitValue, err = parseFixedAmount(cfg.Engine.MinimumDebitValue); err != nil {
		return cdp.Params{}, fmt.Errorf("invalid Engine.MinimumDebitValue: %w", err)
	}
	if params.MaxSwapSlippage, err = parseFixedAmount(cfg.Engine.MaxSwapSlippage); err != nil {
		return cdp.Params{}, fmt.Errorf("invalid Engine.MaxSwapSlippage: %w", err)
	}
	if params.MaxLiquidationContractSlippage, err = parseFixedAmount(cfg.Engine.MaxLiquidationContractSlippage); err != nil {
		return cdp.Params{}, fmt.Errorf("invalid Engine.MaxLiquidationContractSlippage: %w", err)
	}

	if cfg.Engine.SettlementOrigin != "" {
		params.SettlementOrigin = common.HexToAddress(cfg.Engine.SettlementOrigin)
	}
	if cfg.Engine.RepayDest != "" {
		params.RepayDest = common.HexToAddress(cfg.Engine.RepayDest)
	}
	return params, nil
}

// ScannerLockDuration returns the advisory lock lifetime for the scanner.
func (cfg *Config) ScannerLockDuration() time.Duration {
	return time.Duration(cfg.Scanner.LockDurationMillis) * time.Millisecond
}
