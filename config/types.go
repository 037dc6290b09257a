package config

// Engine captures the CDP risk parameters applied when a collateral type has
// no governance override. Fixed-point values are decimal strings scaled by
// 1e18; amounts are decimal strings in base units.
type Engine struct {
	StableSymbol                   string   `toml:"StableSymbol"`
	CollateralTokens               []string `toml:"CollateralTokens"`
	DefaultLiquidationRatio        string   `toml:"DefaultLiquidationRatio"`
	DefaultDebitExchangeRate       string   `toml:"DefaultDebitExchangeRate"`
	DefaultLiquidationPenalty      string   `toml:"DefaultLiquidationPenalty"`
	MinimumDebitValue              string   `toml:"MinimumDebitValue"`
	MaxSwapSlippage                string   `toml:"MaxSwapSlippage"`
	MaxLiquidationContractSlippage string   `toml:"MaxLiquidationContractSlippage"`
	MaxLiquidationContracts        uint32   `toml:"MaxLiquidationContracts"`
	UnsignedPriority               uint64   `toml:"UnsignedPriority"`
	SettlementOrigin               string   `toml:"SettlementOrigin"`
	RepayDest                      string   `toml:"RepayDest"`
}

// Scanner controls the offchain position scanner.
type Scanner struct {
	LockDurationMillis uint64 `toml:"LockDurationMillis"`
	MaxIterations      uint32 `toml:"MaxIterations"`
}

// Pauses gates module entry points during incident response.
type Pauses struct {
	CDP bool
}
