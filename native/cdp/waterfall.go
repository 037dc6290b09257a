package cdp

import (
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

var (
	errNoLiquidationContracts = errors.New("cdp engine: no liquidation contracts registered")
	errNoEvmAddress           = errors.New("cdp engine: collateral has no evm address")
	errContractsExhausted     = errors.New("cdp engine: no contract produced full repayment")
	errBridgeNotConfigured    = errors.New("cdp engine: evm bridge not configured")
)

// disposer is one strategy in the ordered liquidation waterfall. A nil error
// means the full target was raised and the chain stops.
type disposer interface {
	name() string
	dispose(owner common.Address, currency CurrencyID, available, target *big.Int) error
}

// maxSupplyLimit bounds how much collateral a strategy may give away for the
// target: the amount the target would cost at the oracle price discounted by
// the allowed slippage.
func (e *Engine) maxSupplyLimit(currency CurrencyID, target, slippage *big.Int) (*big.Int, error) {
	if e.prices == nil {
		return nil, ErrInvalidFeedPrice
	}
	price := e.prices.GetRelativePrice(currency, e.params.StableCurrency)
	if price == nil {
		return nil, ErrInvalidFeedPrice
	}
	discounted := fixedMul(price, fixedSub(fixedOne, slippage))
	if discounted.Sign() == 0 {
		return nil, ErrInvalidFeedPrice
	}
	ceiling := new(big.Int).Mul(target, fixedOne)
	ceiling.Quo(ceiling, discounted)
	return ceiling, nil
}

// dexDisposer swaps collateral for the exact stable target through the
// treasury, bounded by the oracle-derived supply ceiling. Unused collateral
// and any overshoot in stable proceeds are refunded to the owner.
type dexDisposer struct {
	engine *Engine
}

func (d *dexDisposer) name() string { return StrategyDex }

func (d *dexDisposer) dispose(owner common.Address, currency CurrencyID, available, target *big.Int) error {
	e := d.engine
	ceiling, err := e.maxSupplyLimit(currency, target, e.params.MaxSwapSlippage)
	if err != nil {
		return err
	}
	supplied, received, err := e.treasury.SwapCollateralToStable(currency, SwapLimit{
		Kind:   LimitExactTarget,
		Supply: minBig(available, ceiling),
		Target: target,
	})
	if err != nil {
		return err
	}

	refund := new(big.Int).Sub(available, supplied)
	if refund.Sign() > 0 {
		if err := e.treasury.WithdrawCollateral(owner, currency, refund); err != nil {
			return err
		}
	}
	// The swap's own limit semantics may overshoot the exact target; the
	// excess belongs to the owner.
	if received.Cmp(target) > 0 {
		if err := e.treasury.WithdrawSurplus(owner, new(big.Int).Sub(received, target)); err != nil {
			return err
		}
	}
	return nil
}

// contractsDisposer offers the collateral to the registered liquidation
// contracts, one at a time, starting at blockNumber mod contract count so no
// single contract is always tried first. A contract wins by repaying at
// least the full target into the repay destination.
type contractsDisposer struct {
	engine *Engine
}

func (d *contractsDisposer) name() string { return StrategyContracts }

func (d *contractsDisposer) dispose(owner common.Address, currency CurrencyID, available, target *big.Int) error {
	e := d.engine
	contracts, err := e.state.LiquidationContracts()
	if err != nil {
		return err
	}
	if len(contracts) == 0 {
		return errNoLiquidationContracts
	}
	if e.evmBridge == nil || e.balances == nil {
		return errBridgeNotConfigured
	}
	if e.evmMapping == nil {
		return errNoEvmAddress
	}
	collateralAddr, ok := e.evmMapping.EvmAddress(currency)
	if !ok {
		return errNoEvmAddress
	}

	ceiling, err := e.maxSupplyLimit(currency, target, e.params.MaxLiquidationContractSlippage)
	if err != nil {
		return err
	}
	supply := minBig(available, ceiling)
	repayDest := e.params.RepayDest

	start := int(e.blockHeight % uint64(len(contracts)))
	for i := range contracts {
		contract := contracts[(start+i)%len(contracts)]

		before := e.balances.StableBalance(repayDest)
		if err := e.evmBridge.Liquidate(contract, collateralAddr, repayDest, supply, target); err != nil {
			e.logger.Debug("liquidation contract call failed",
				"contract", contract.Hex(),
				"currency", currency.Key(),
				"error", err,
			)
			continue
		}
		repayment := new(big.Int).Sub(e.balances.StableBalance(repayDest), before)

		if repayment.Cmp(target) >= 0 {
			if err := e.treasury.WithdrawCollateral(contract, currency, supply); err != nil {
				return err
			}
			e.evmBridge.OnCollateralTransfer(contract, collateralAddr, supply)
			leftover := new(big.Int).Sub(available, supply)
			if leftover.Sign() > 0 {
				if err := e.treasury.WithdrawCollateral(owner, currency, leftover); err != nil {
					return err
				}
			}
			return nil
		}

		// Partial repayment counts as a failed attempt: hand the funds
		// back and move on to the next contract.
		if repayment.Sign() > 0 {
			if err := e.balances.TransferStable(repayDest, contract, repayment); err != nil {
				return err
			}
			e.evmBridge.OnRepaymentRefund(contract, collateralAddr, repayment)
		}
	}
	return errContractsExhausted
}

// auctionDisposer is the guaranteed terminal fallback: it hands the full
// remaining collateral and target to the treasury's auction house.
type auctionDisposer struct {
	engine *Engine
}

func (d *auctionDisposer) name() string { return StrategyAuction }

func (d *auctionDisposer) dispose(owner common.Address, currency CurrencyID, available, target *big.Int) error {
	return d.engine.treasury.CreateCollateralAuctions(currency, available, target, owner, true)
}
