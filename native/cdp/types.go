package cdp

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Position mirrors one ledger entry: locked collateral and outstanding debit
// units for a single owner under a single collateral type. The engine never
// mutates positions itself; all mutation goes through the ledger.
type Position struct {
	Collateral *big.Int
	Debit      *big.Int
}

func (p Position) collateralOrZero() *big.Int {
	if p.Collateral == nil {
		return big.NewInt(0)
	}
	return p.Collateral
}

func (p Position) debitOrZero() *big.Int {
	if p.Debit == nil {
		return big.NewInt(0)
	}
	return p.Debit
}

// StatusKind enumerates the ternary CDP safety verdict.
type StatusKind uint8

const (
	// StatusSafe means the collateral ratio is at or above the liquidation
	// ratio.
	StatusSafe StatusKind = iota
	// StatusUnsafe means the collateral ratio is below the liquidation
	// ratio and the position may be liquidated.
	StatusUnsafe
	// StatusChecksFailed means the verdict is indeterminate: the price feed
	// or the collateral parameters could not be resolved.
	StatusChecksFailed
)

// Status is the derived safety verdict of a position. It is never persisted.
type Status struct {
	Kind StatusKind
	Err  error
}

func safeStatus() Status   { return Status{Kind: StatusSafe} }
func unsafeStatus() Status { return Status{Kind: StatusUnsafe} }

func checksFailedStatus(err error) Status { return Status{Kind: StatusChecksFailed, Err: err} }

// IsUnsafe reports whether the position was definitively judged unsafe.
// Indeterminate verdicts are not actionable and therefore not unsafe.
func (s Status) IsUnsafe() bool { return s.Kind == StatusUnsafe }

// RiskManagementParams holds the governance-controlled risk configuration for
// one collateral type. Nil optional fields fall back to the protocol
// defaults. All rates and ratios are fixed-point 1e18 values.
type RiskManagementParams struct {
	// MaximumTotalDebitValue is the hard cap on total debit value issued
	// against this collateral type.
	MaximumTotalDebitValue *big.Int
	// InterestRatePerSec is the extra per-second interest rate, nil when
	// not set.
	InterestRatePerSec *big.Int
	// LiquidationRatio is the threshold below which a CDP is unsafe, nil
	// when not set.
	LiquidationRatio *big.Int
	// LiquidationPenalty is the extra fraction of debt value charged on
	// liquidation, nil when not set.
	LiquidationPenalty *big.Int
	// RequiredCollateralRatio blocks position adjustments that would drop
	// the ratio below it, nil when not set.
	RequiredCollateralRatio *big.Int
}

// Clone returns a deep copy of the params.
func (p *RiskManagementParams) Clone() *RiskManagementParams {
	if p == nil {
		return nil
	}
	clone := &RiskManagementParams{}
	if p.MaximumTotalDebitValue != nil {
		clone.MaximumTotalDebitValue = new(big.Int).Set(p.MaximumTotalDebitValue)
	}
	if p.InterestRatePerSec != nil {
		clone.InterestRatePerSec = new(big.Int).Set(p.InterestRatePerSec)
	}
	if p.LiquidationRatio != nil {
		clone.LiquidationRatio = new(big.Int).Set(p.LiquidationRatio)
	}
	if p.LiquidationPenalty != nil {
		clone.LiquidationPenalty = new(big.Int).Set(p.LiquidationPenalty)
	}
	if p.RequiredCollateralRatio != nil {
		clone.RequiredCollateralRatio = new(big.Int).Set(p.RequiredCollateralRatio)
	}
	return clone
}

// ParamChange carries an optional update for a nullable risk parameter.
// Set=false leaves the current value untouched; Set=true with a nil Value
// clears it back to the protocol default.
type ParamChange struct {
	Set   bool
	Value *big.Int
}

// CollateralParamsUpdate groups the per-field updates applied by
// SetCollateralParams. MaximumTotalDebitValue is non-nullable, so a nil
// pointer means "do not update".
type CollateralParamsUpdate struct {
	InterestRatePerSec      ParamChange
	LiquidationRatio        ParamChange
	LiquidationPenalty      ParamChange
	RequiredCollateralRatio ParamChange
	MaximumTotalDebitValue  *big.Int
}

// CandidateKind distinguishes the two unsigned operations the scanner emits.
type CandidateKind uint8

const (
	// CandidateLiquidate requests liquidation of an unsafe CDP.
	CandidateLiquidate CandidateKind = iota
	// CandidateSettle requests settlement of an indebted CDP after
	// emergency shutdown.
	CandidateSettle
)

func (k CandidateKind) String() string {
	if k == CandidateSettle {
		return "settle"
	}
	return "liquidate"
}

// Candidate is one unsigned disposal request discovered by the scanner and
// admitted to the transaction pool only after revalidation.
type Candidate struct {
	Kind     CandidateKind
	Currency CurrencyID
	Owner    common.Address
}

// SwapLimitKind selects the semantics of a swap limit.
type SwapLimitKind uint8

const (
	// LimitExactSupply supplies Supply exactly and requires at least Target.
	LimitExactSupply SwapLimitKind = iota
	// LimitExactTarget acquires Target exactly and supplies at most Supply.
	LimitExactTarget
)

// SwapLimit bounds a swap executed through the treasury or DEX router.
type SwapLimit struct {
	Kind   SwapLimitKind
	Supply *big.Int
	Target *big.Int
}

// ValidTransaction describes the pool admission verdict for a candidate.
type ValidTransaction struct {
	Priority  uint64
	Provides  [][]byte
	Longevity uint64
	Propagate bool
}
