package cdp

import (
	"errors"
	"math/big"
	"testing"
)

// swapSucceeds installs a treasury swap that supplies the full requested
// supply and returns exactly the target.
func swapSucceeds(h *testHarness) {
	h.treasury.swapFn = func(_ CurrencyID, limit SwapLimit) (*big.Int, *big.Int, error) {
		return new(big.Int).Set(limit.Supply), new(big.Int).Set(limit.Target), nil
	}
}

func TestLiquidateViaDex(t *testing.T) {
	h := newTestHarness()
	h.prices.set(tokenWETH, stableVUSD, fixed("1"))
	h.ledger.setPosition(tokenWETH, testOwner, 100, 80)
	h.treasury.swapFn = func(_ CurrencyID, limit SwapLimit) (*big.Int, *big.Int, error) {
		return big.NewInt(90), new(big.Int).Set(limit.Target), nil
	}

	if err := h.engine.Liquidate(tokenWETH, testOwner); err != nil {
		t.Fatalf("liquidate: %v", err)
	}

	if len(h.ledger.confiscations) != 1 {
		t.Fatalf("expected 1 confiscation, got %d", len(h.ledger.confiscations))
	}
	seized := h.ledger.confiscations[0]
	if seized.collateral.Cmp(big.NewInt(100)) != 0 || seized.debit.Cmp(big.NewInt(80)) != 0 {
		t.Fatalf("unexpected confiscation %s/%s", seized.collateral, seized.debit)
	}

	// Target is 80 debt plus the 10% penalty; the swap supply ceiling is
	// 88 / (1 * 0.95) truncated.
	if len(h.treasury.swaps) != 1 {
		t.Fatalf("expected 1 swap, got %d", len(h.treasury.swaps))
	}
	swap := h.treasury.swaps[0]
	if swap.Kind != LimitExactTarget {
		t.Fatalf("unexpected swap limit kind %v", swap.Kind)
	}
	if swap.Target.Cmp(big.NewInt(88)) != 0 {
		t.Fatalf("swap target = %s, want 88", swap.Target)
	}
	if swap.Supply.Cmp(big.NewInt(92)) != 0 {
		t.Fatalf("swap supply = %s, want 92", swap.Supply)
	}

	// 90 of 100 collateral was consumed; the rest returns to the owner.
	if len(h.treasury.withdrawals) != 1 {
		t.Fatalf("expected 1 collateral refund, got %d", len(h.treasury.withdrawals))
	}
	refund := h.treasury.withdrawals[0]
	if refund.to != testOwner || refund.amount.Cmp(big.NewInt(10)) != 0 {
		t.Fatalf("unexpected refund %s to %s", refund.amount, refund.to.Hex())
	}

	// The DEX satisfied the target: later strategies never ran.
	if len(h.bridge.calls) != 0 || len(h.treasury.auctions) != 0 {
		t.Fatalf("waterfall did not short-circuit")
	}

	events := h.eventsOfType(EventTypeLiquidate)
	if len(events) != 1 {
		t.Fatalf("expected 1 liquidate event, got %d", len(events))
	}
	if events[0].Attributes["strategy"] != StrategyDex {
		t.Fatalf("unexpected strategy %q", events[0].Attributes["strategy"])
	}
	if events[0].Attributes["badDebtValue"] != "80" {
		t.Fatalf("unexpected bad debt value %q", events[0].Attributes["badDebtValue"])
	}
}

func TestLiquidateFallsBackToAuction(t *testing.T) {
	h := newTestHarness()
	h.prices.set(tokenWETH, stableVUSD, fixed("1"))
	h.ledger.setPosition(tokenWETH, testOwner, 100, 80)
	// No swapFn: the DEX strategy fails. No contracts are registered, so
	// the contract strategy fails too.

	if err := h.engine.Liquidate(tokenWETH, testOwner); err != nil {
		t.Fatalf("liquidate: %v", err)
	}

	if len(h.treasury.auctions) != 1 {
		t.Fatalf("expected 1 auction, got %d", len(h.treasury.auctions))
	}
	auction := h.treasury.auctions[0]
	if auction.amount.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("auction amount = %s, want 100", auction.amount)
	}
	if auction.target.Cmp(big.NewInt(88)) != 0 {
		t.Fatalf("auction target = %s, want 88", auction.target)
	}
	if auction.refund != testOwner {
		t.Fatalf("auction refund receiver = %s", auction.refund.Hex())
	}

	// Each failed strategy's partial effects were reverted before the
	// next attempt.
	if len(h.journal.reverts) != 2 {
		t.Fatalf("expected 2 strategy reverts, got %d", len(h.journal.reverts))
	}

	events := h.eventsOfType(EventTypeLiquidate)
	if len(events) != 1 || events[0].Attributes["strategy"] != StrategyAuction {
		t.Fatalf("unexpected liquidate events %v", events)
	}
}

func TestLiquidateAllStrategiesFailedRollsBack(t *testing.T) {
	h := newTestHarness()
	h.prices.set(tokenWETH, stableVUSD, fixed("1"))
	h.ledger.setPosition(tokenWETH, testOwner, 100, 80)
	h.treasury.auctionErr = errors.New("auction house full")

	err := h.engine.Liquidate(tokenWETH, testOwner)
	if !errors.Is(err, ErrLiquidationFailed) {
		t.Fatalf("expected ErrLiquidationFailed, got %v", err)
	}

	// Three per-strategy reverts plus the outer transactional revert that
	// undoes the confiscation.
	if len(h.journal.reverts) != 4 {
		t.Fatalf("expected 4 reverts, got %d", len(h.journal.reverts))
	}
	if h.journal.reverts[len(h.journal.reverts)-1] != 1 {
		t.Fatalf("outer snapshot not reverted last: %v", h.journal.reverts)
	}
	if len(h.eventsOfType(EventTypeLiquidate)) != 0 {
		t.Fatalf("failed liquidation emitted an event")
	}
}

func TestLiquidateRequiresUnsafePosition(t *testing.T) {
	h := newTestHarness()
	h.prices.set(tokenWETH, stableVUSD, fixed("1"))
	h.ledger.setPosition(tokenWETH, testOwner, 200, 80)

	if err := h.engine.Liquidate(tokenWETH, testOwner); !errors.Is(err, ErrMustBeUnsafe) {
		t.Fatalf("expected ErrMustBeUnsafe, got %v", err)
	}
	if len(h.ledger.confiscations) != 0 {
		t.Fatalf("safe position was confiscated")
	}
}

func TestLiquidateTwiceRejectsSecondAttempt(t *testing.T) {
	h := newTestHarness()
	h.prices.set(tokenWETH, stableVUSD, fixed("1"))
	h.ledger.setPosition(tokenWETH, testOwner, 100, 80)
	swapSucceeds(h)

	if err := h.engine.Liquidate(tokenWETH, testOwner); err != nil {
		t.Fatalf("first liquidation: %v", err)
	}
	// The position was emptied by the first execution; a duplicate
	// candidate in the same block re-reads it and bounces.
	if err := h.engine.Liquidate(tokenWETH, testOwner); !errors.Is(err, ErrMustBeUnsafe) {
		t.Fatalf("expected ErrMustBeUnsafe on replay, got %v", err)
	}
	if len(h.ledger.confiscations) != 1 {
		t.Fatalf("replay confiscated again")
	}
}

func TestLiquidateRejectedDuringShutdown(t *testing.T) {
	h := newTestHarness()
	h.prices.set(tokenWETH, stableVUSD, fixed("1"))
	h.ledger.setPosition(tokenWETH, testOwner, 100, 80)
	h.shutdown.active = true

	if err := h.engine.Liquidate(tokenWETH, testOwner); !errors.Is(err, ErrAlreadyShutdown) {
		t.Fatalf("expected ErrAlreadyShutdown, got %v", err)
	}
}

func TestLiquidateLPCollateralWithStableLeg(t *testing.T) {
	lp := DexShareCurrency("VUSD", "WETH")
	h := newTestHarness(lp)
	h.prices.set(lp, stableVUSD, fixed("1"))
	h.ledger.setPosition(lp, testOwner, 100, 80)
	h.treasury.removeLiquidityFn = func(_ CurrencyID, amount *big.Int) (*big.Int, *big.Int, error) {
		if amount.Cmp(big.NewInt(100)) != 0 {
			t.Fatalf("unexpected LP amount %s", amount)
		}
		// 100 stable and 40 WETH come out of the pool.
		return big.NewInt(100), big.NewInt(40), nil
	}

	if err := h.engine.Liquidate(lp, testOwner); err != nil {
		t.Fatalf("liquidate: %v", err)
	}

	// The stable leg alone covers the 88 target: 12 surplus goes back to
	// the owner and the WETH leg is refunded without any disposal.
	if len(h.treasury.surplusWithdrawals) != 1 {
		t.Fatalf("expected 1 surplus withdrawal, got %d", len(h.treasury.surplusWithdrawals))
	}
	surplus := h.treasury.surplusWithdrawals[0]
	if surplus.to != testOwner || surplus.amount.Cmp(big.NewInt(12)) != 0 {
		t.Fatalf("unexpected surplus %s to %s", surplus.amount, surplus.to.Hex())
	}
	if len(h.treasury.withdrawals) != 1 {
		t.Fatalf("expected 1 collateral refund, got %d", len(h.treasury.withdrawals))
	}
	refund := h.treasury.withdrawals[0]
	if !refund.currency.Equal(tokenWETH) || refund.amount.Cmp(big.NewInt(40)) != 0 {
		t.Fatalf("unexpected refund %s %s", refund.amount, refund.currency)
	}
	if len(h.treasury.swaps) != 0 || len(h.treasury.auctions) != 0 {
		t.Fatalf("covered target still ran a disposal strategy")
	}

	events := h.eventsOfType(EventTypeLiquidate)
	if len(events) != 1 || events[0].Attributes["strategy"] != StrategyNone {
		t.Fatalf("unexpected liquidate events %v", events)
	}
}

func TestLiquidateLPCollateralSplitsTarget(t *testing.T) {
	lp := DexShareCurrency("WETH", "WBTC")
	h := newTestHarness(lp)
	h.prices.set(lp, stableVUSD, fixed("1"))
	h.prices.set(tokenWETH, stableVUSD, fixed("1"))
	h.prices.set(tokenWBTC, stableVUSD, fixed("1"))
	h.ledger.setPosition(lp, testOwner, 100, 80)
	h.treasury.removeLiquidityFn = func(CurrencyID, *big.Int) (*big.Int, *big.Int, error) {
		return big.NewInt(60), big.NewInt(60), nil
	}
	swapSucceeds(h)

	if err := h.engine.Liquidate(lp, testOwner); err != nil {
		t.Fatalf("liquidate: %v", err)
	}

	// Neither leg is stable: the 88 target splits 44/44 and each leg is
	// disposed independently.
	if len(h.treasury.swaps) != 2 {
		t.Fatalf("expected 2 swaps, got %d", len(h.treasury.swaps))
	}
	if h.treasury.swaps[0].Target.Cmp(big.NewInt(44)) != 0 {
		t.Fatalf("first leg target = %s, want 44", h.treasury.swaps[0].Target)
	}
	if h.treasury.swaps[1].Target.Cmp(big.NewInt(44)) != 0 {
		t.Fatalf("second leg target = %s, want 44", h.treasury.swaps[1].Target)
	}

	events := h.eventsOfType(EventTypeLiquidate)
	if len(events) != 1 || events[0].Attributes["strategy"] != StrategyDex {
		t.Fatalf("unexpected liquidate events %v", events)
	}
}

func TestSettleConfiscatesAtSettlePrice(t *testing.T) {
	h := newTestHarness()
	h.shutdown.active = true
	h.ledger.setPosition(tokenWETH, testOwner, 100, 80)
	// One stable unit buys half a WETH at shutdown.
	h.prices.set(stableVUSD, tokenWETH, fixed("0.5"))

	if err := h.engine.Settle(tokenWETH, testOwner); err != nil {
		t.Fatalf("settle: %v", err)
	}

	if len(h.ledger.confiscations) != 1 {
		t.Fatalf("expected 1 confiscation, got %d", len(h.ledger.confiscations))
	}
	seized := h.ledger.confiscations[0]
	// 80 debt at 0.5 WETH per stable unit is 40 collateral, below the 100
	// locked.
	if seized.collateral.Cmp(big.NewInt(40)) != 0 {
		t.Fatalf("confiscated %s collateral, want 40", seized.collateral)
	}
	if seized.debit.Cmp(big.NewInt(80)) != 0 {
		t.Fatalf("confiscated %s debit, want 80", seized.debit)
	}
	if len(h.eventsOfType(EventTypeSettle)) != 1 {
		t.Fatalf("missing settle event")
	}
}

func TestSettleClampsToLockedCollateral(t *testing.T) {
	h := newTestHarness()
	h.shutdown.active = true
	h.ledger.setPosition(tokenWETH, testOwner, 30, 80)
	h.prices.set(stableVUSD, tokenWETH, fixed("0.5"))

	if err := h.engine.Settle(tokenWETH, testOwner); err != nil {
		t.Fatalf("settle: %v", err)
	}
	seized := h.ledger.confiscations[0]
	// The 40 owed exceeds the 30 locked: everything is taken, the rest is
	// bad debt.
	if seized.collateral.Cmp(big.NewInt(30)) != 0 {
		t.Fatalf("confiscated %s collateral, want 30", seized.collateral)
	}
}

func TestSettleGuards(t *testing.T) {
	h := newTestHarness()
	h.ledger.setPosition(tokenWETH, testOwner, 100, 80)
	h.prices.set(stableVUSD, tokenWETH, fixed("0.5"))

	if err := h.engine.Settle(tokenWETH, testOwner); !errors.Is(err, ErrMustAfterShutdown) {
		t.Fatalf("expected ErrMustAfterShutdown, got %v", err)
	}

	h.shutdown.active = true
	other := otherOwner
	if err := h.engine.Settle(tokenWETH, other); !errors.Is(err, ErrNoDebitValue) {
		t.Fatalf("expected ErrNoDebitValue, got %v", err)
	}
}

func TestSettleErc20SetsSettlementOrigin(t *testing.T) {
	usdt := Erc20Currency("USDT", otherOwner)
	h := newTestHarness(usdt)
	h.shutdown.active = true
	h.ledger.setPosition(usdt, testOwner, 100, 80)
	h.prices.set(stableVUSD, usdt, fixed("0.5"))

	if err := h.engine.Settle(usdt, testOwner); err != nil {
		t.Fatalf("settle: %v", err)
	}
	// The origin was installed for the confiscation and removed after.
	if h.bridge.origin != nil {
		t.Fatalf("settlement origin still installed")
	}
	if h.bridge.originKills != 1 {
		t.Fatalf("expected 1 origin teardown, got %d", h.bridge.originKills)
	}
}

func TestCloseCDPByDEX(t *testing.T) {
	h := newTestHarness()
	h.prices.set(tokenWETH, stableVUSD, fixed("1"))
	h.ledger.setPosition(tokenWETH, testOwner, 200, 80)
	h.treasury.swapFn = func(_ CurrencyID, limit SwapLimit) (*big.Int, *big.Int, error) {
		return big.NewInt(85), new(big.Int).Set(limit.Target), nil
	}

	if err := h.engine.CloseCDPByDEX(tokenWETH, testOwner); err != nil {
		t.Fatalf("close by dex: %v", err)
	}

	if len(h.treasury.swaps) != 1 {
		t.Fatalf("expected 1 swap, got %d", len(h.treasury.swaps))
	}
	swap := h.treasury.swaps[0]
	if swap.Kind != LimitExactTarget || swap.Target.Cmp(big.NewInt(80)) != 0 {
		t.Fatalf("unexpected swap %+v", swap)
	}
	// 85 of the 200 confiscated collateral was sold; 115 returns.
	if len(h.treasury.withdrawals) != 1 || h.treasury.withdrawals[0].amount.Cmp(big.NewInt(115)) != 0 {
		t.Fatalf("unexpected refund %+v", h.treasury.withdrawals)
	}

	events := h.eventsOfType(EventTypeCloseByDEX)
	if len(events) != 1 {
		t.Fatalf("missing close event")
	}
	if events[0].Attributes["sold"] != "85" || events[0].Attributes["refunded"] != "115" {
		t.Fatalf("unexpected close event attributes %v", events[0].Attributes)
	}
}

func TestCloseCDPByDEXGuards(t *testing.T) {
	h := newTestHarness()
	h.prices.set(tokenWETH, stableVUSD, fixed("1"))

	h.ledger.setPosition(tokenWETH, testOwner, 100, 80)
	if err := h.engine.CloseCDPByDEX(tokenWETH, testOwner); !errors.Is(err, ErrIsUnsafe) {
		t.Fatalf("expected ErrIsUnsafe, got %v", err)
	}

	other := otherOwner
	h.ledger.setPosition(tokenWETH, other, 100, 0)
	if err := h.engine.CloseCDPByDEX(tokenWETH, other); !errors.Is(err, ErrNoDebitValue) {
		t.Fatalf("expected ErrNoDebitValue, got %v", err)
	}
}
