package cdp

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Disposal strategy labels, reported in events and metrics.
const (
	StrategyDex       = "dex"
	StrategyContracts = "contracts"
	StrategyAuction   = "auction"
	// StrategyNone means the target was already covered (e.g. by an LP
	// stable leg) and no disposal ran.
	StrategyNone = "none"
)

// Liquidate executes a validated liquidation candidate. The whole sequence is
// all-or-nothing: the confiscation is rolled back when every disposal
// strategy fails.
func (e *Engine) Liquidate(currency CurrencyID, owner common.Address) error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	if e.isShutdown() {
		return ErrAlreadyShutdown
	}
	return e.runTransactional(func() error {
		return e.liquidateUnsafeCDP(owner, currency)
	})
}

// Settle executes a validated settlement candidate after emergency shutdown.
func (e *Engine) Settle(currency CurrencyID, owner common.Address) error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	if !e.isShutdown() {
		return ErrMustAfterShutdown
	}
	return e.runTransactional(func() error {
		return e.settleCDPHasDebit(owner, currency)
	})
}

// CloseCDPByDEX lets the owner of a still-safe CDP close it by swapping just
// enough collateral to cover the outstanding debit value.
func (e *Engine) CloseCDPByDEX(currency CurrencyID, owner common.Address) error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	return e.runTransactional(func() error {
		return e.closeCDPHasDebitByDEX(owner, currency)
	})
}

func (e *Engine) runTransactional(fn func() error) error {
	if e.journal == nil {
		return fn()
	}
	snapshot := e.journal.Snapshot()
	if err := fn(); err != nil {
		e.journal.RevertToSnapshot(snapshot)
		return err
	}
	return nil
}

func (e *Engine) liquidateUnsafeCDP(owner common.Address, currency CurrencyID) error {
	if e.ledger == nil {
		return ErrNilLedger
	}
	// Re-read the live position; the candidate may be stale or already
	// executed by a competing node.
	position, err := e.ledger.Position(currency, owner)
	if err != nil {
		return err
	}
	collateral := position.collateralOrZero()
	debit := position.debitOrZero()
	if !e.IsUnsafe(currency, collateral, debit) {
		return ErrMustBeUnsafe
	}

	if err := e.ledger.ConfiscateCollateralAndDebit(owner, currency, collateral, debit); err != nil {
		return err
	}

	badDebtValue, err := e.GetBadDebtValue(currency, debit)
	if err != nil {
		return err
	}
	penalty, err := e.LiquidationPenalty(currency)
	if err != nil {
		return err
	}
	targetStableAmount := new(big.Int).Add(badDebtValue, fixedMulInt(penalty, badDebtValue))

	var strategy string
	if currency.IsDexShare() {
		strategy, err = e.disposeLPCollateral(owner, currency, collateral, targetStableAmount)
	} else {
		strategy, err = e.dispose(owner, currency, collateral, targetStableAmount)
	}
	if err != nil {
		return err
	}

	e.metrics.RecordLiquidation(strategy)
	e.emit(NewLiquidateEvent(currency, owner, collateral, badDebtValue, strategy))
	return nil
}

// disposeLPCollateral removes the underlying liquidity first. A stable leg is
// applied directly against the target before anything is swapped; otherwise
// the target is split evenly across the two tokens.
func (e *Engine) disposeLPCollateral(owner common.Address, currency CurrencyID, collateral, target *big.Int) (string, error) {
	amount0, amount1, err := e.treasury.RemoveLiquidityForLPCollateral(currency, collateral)
	if err != nil {
		return "", err
	}
	token0, token1 := currency.Underlying()
	stable := e.params.StableCurrency

	switch {
	case token0.Equal(stable):
		return e.disposeWithStableLeg(owner, token1, amount1, amount0, target)
	case token1.Equal(stable):
		return e.disposeWithStableLeg(owner, token0, amount0, amount1, target)
	default:
		half := new(big.Int).Rsh(target, 1)
		strategy0, err := e.dispose(owner, token0, amount0, half)
		if err != nil {
			return "", err
		}
		strategy1, err := e.dispose(owner, token1, amount1, new(big.Int).Sub(target, half))
		if err != nil {
			return "", err
		}
		return joinStrategies(strategy0, strategy1), nil
	}
}

// disposeWithStableLeg applies the stable token amount straight against the
// target, refunds any surplus to the owner, and disposes of only the
// remaining target in the other token.
func (e *Engine) disposeWithStableLeg(owner common.Address, otherCurrency CurrencyID, otherAmount, stableAmount, target *big.Int) (string, error) {
	if stableAmount.Cmp(target) >= 0 {
		surplus := new(big.Int).Sub(stableAmount, target)
		if surplus.Sign() > 0 {
			if err := e.treasury.WithdrawSurplus(owner, surplus); err != nil {
				return "", err
			}
		}
		return e.dispose(owner, otherCurrency, otherAmount, big.NewInt(0))
	}
	remaining := new(big.Int).Sub(target, stableAmount)
	return e.dispose(owner, otherCurrency, otherAmount, remaining)
}

// dispose drives the ordered fallback chain for one (amount, target) pair.
// The first strategy that succeeds terminates the chain; a failed strategy's
// partial effects are reverted before the next one runs.
func (e *Engine) dispose(owner common.Address, currency CurrencyID, available, target *big.Int) (string, error) {
	if target.Sign() == 0 {
		if available.Sign() > 0 {
			if err := e.treasury.WithdrawCollateral(owner, currency, available); err != nil {
				return "", err
			}
		}
		return StrategyNone, nil
	}

	for _, d := range e.disposers {
		var snapshot int
		if e.journal != nil {
			snapshot = e.journal.Snapshot()
		}
		err := d.dispose(owner, currency, available, target)
		if err == nil {
			return d.name(), nil
		}
		if e.journal != nil {
			e.journal.RevertToSnapshot(snapshot)
		}
		e.metrics.RecordDisposerFailure(d.name())
		e.logger.Debug("cdp disposal strategy failed",
			"strategy", d.name(),
			"currency", currency.Key(),
			"error", err,
		)
	}
	return "", ErrLiquidationFailed
}

func joinStrategies(a, b string) string {
	if a == b {
		return a
	}
	return a + "+" + b
}

func (e *Engine) settleCDPHasDebit(owner common.Address, currency CurrencyID) error {
	if e.ledger == nil {
		return ErrNilLedger
	}
	position, err := e.ledger.Position(currency, owner)
	if err != nil {
		return err
	}
	debit := position.debitOrZero()
	if debit.Sign() == 0 {
		return ErrNoDebitValue
	}

	if e.prices == nil {
		return ErrInvalidFeedPrice
	}
	settlePrice := e.prices.GetRelativePrice(e.params.StableCurrency, currency)
	if settlePrice == nil {
		return ErrInvalidFeedPrice
	}
	badDebtValue, err := e.GetBadDebtValue(currency, debit)
	if err != nil {
		return err
	}
	confiscateAmount := minBig(fixedMulInt(settlePrice, badDebtValue), position.collateralOrZero())

	// EVM-hosted collateral is confiscated under the designated settlement
	// origin so the bridge accepts the transfer.
	if currency.IsErc20() && e.evmBridge != nil {
		e.evmBridge.SetOrigin(e.params.SettlementOrigin)
		defer e.evmBridge.KillOrigin()
	}
	if err := e.ledger.ConfiscateCollateralAndDebit(owner, currency, confiscateAmount, debit); err != nil {
		return err
	}

	e.metrics.RecordSettlement()
	e.emit(NewSettleEvent(currency, owner))
	return nil
}

func (e *Engine) closeCDPHasDebitByDEX(owner common.Address, currency CurrencyID) error {
	if e.ledger == nil {
		return ErrNilLedger
	}
	position, err := e.ledger.Position(currency, owner)
	if err != nil {
		return err
	}
	collateral := position.collateralOrZero()
	debit := position.debitOrZero()
	if debit.Sign() == 0 {
		return ErrNoDebitValue
	}
	if e.IsUnsafe(currency, collateral, debit) {
		return ErrIsUnsafe
	}

	if err := e.ledger.ConfiscateCollateralAndDebit(owner, currency, collateral, debit); err != nil {
		return err
	}

	debitValue, err := e.GetDebitValue(currency, debit)
	if err != nil {
		return err
	}
	supplied, _, err := e.treasury.SwapCollateralToStable(currency, SwapLimit{
		Kind:   LimitExactTarget,
		Supply: collateral,
		Target: debitValue,
	})
	if err != nil {
		return err
	}

	refund := new(big.Int).Sub(collateral, supplied)
	if refund.Sign() > 0 {
		if err := e.treasury.WithdrawCollateral(owner, currency, refund); err != nil {
			return err
		}
	}

	e.emit(NewCloseByDEXEvent(currency, owner, supplied, refund, debitValue))
	return nil
}
