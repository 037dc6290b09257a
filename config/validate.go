package config

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

var fixedScale = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

func ValidateConfig(cfg *Config) error {
	if strings.TrimSpace(cfg.Engine.StableSymbol) == "" {
		return fmt.Errorf("engine: StableSymbol is empty")
	}
	for i, sym := range cfg.Engine.CollateralTokens {
		if strings.TrimSpace(sym) == "" {
			return fmt.Errorf("engine: CollateralTokens[%d] is empty", i)
		}
		if sym == cfg.Engine.StableSymbol {
			return fmt.Errorf("engine: CollateralTokens[%d] equals StableSymbol", i)
		}
	}
	ratio, err := parseFixedAmount(cfg.Engine.DefaultLiquidationRatio)
	if err != nil {
		return fmt.Errorf("engine: invalid DefaultLiquidationRatio: %w", err)
	}
	if ratio.Cmp(fixedScale) < 0 {
		return fmt.Errorf("engine: DefaultLiquidationRatio below 1.0")
	}
	if _, err := parseFixedAmount(cfg.Engine.DefaultDebitExchangeRate); err != nil {
		return fmt.Errorf("engine: invalid DefaultDebitExchangeRate: %w", err)
	}
	if _, err := parseFixedAmount(cfg.Engine.DefaultLiquidationPenalty); err != nil {
		return fmt.Errorf("engine: invalid DefaultLiquidationPenalty: %w", err)
	}
	if _, err := parseFixedAmount(cfg.Engine.MinimumDebitValue); err != nil {
		return fmt.Errorf("engine: invalid MinimumDebitValue: %w", err)
	}
	slippage, err := parseFixedAmount(cfg.Engine.MaxSwapSlippage)
	if err != nil {
		return fmt.Errorf("engine: invalid MaxSwapSlippage: %w", err)
	}
	if slippage.Cmp(fixedScale) >= 0 {
		return fmt.Errorf("engine: MaxSwapSlippage must be below 1.0")
	}
	contractSlippage, err := parseFixedAmount(cfg.Engine.MaxLiquidationContractSlippage)
	if err != nil {
		return fmt.Errorf("engine: invalid MaxLiquidationContractSlippage: %w", err)
	}
	if contractSlippage.Cmp(fixedScale) >= 0 {
		return fmt.Errorf("engine: MaxLiquidationContractSlippage must be below 1.0")
	}
	if cfg.Engine.SettlementOrigin != "" && !common.IsHexAddress(cfg.Engine.SettlementOrigin) {
		return fmt.Errorf("engine: SettlementOrigin is not a hex address")
	}
	if cfg.Engine.RepayDest != "" && !common.IsHexAddress(cfg.Engine.RepayDest) {
		return fmt.Errorf("engine: RepayDest is not a hex address")
	}
	if cfg.Scanner.MaxIterations == 0 {
		return fmt.Errorf("scanner: MaxIterations == 0")
	}
	if cfg.Scanner.LockDurationMillis == 0 {
		return fmt.Errorf("scanner: LockDurationMillis == 0")
	}
	return nil
}

// parseFixedAmount parses a non-negative decimal string in base units.
func parseFixedAmount(raw string) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, fmt.Errorf("empty amount")
	}
	value, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("malformed amount %q", raw)
	}
	if value.Sign() < 0 {
		return nil, fmt.Errorf("negative amount %q", raw)
	}
	return value, nil
}
