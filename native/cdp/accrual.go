package cdp

import "math/big"

// AccumulateInterest runs once per block. It compounds the effective interest
// rate over the elapsed interval for every collateral type with outstanding
// debit, mints the resulting surplus into the treasury and, only when the
// mint succeeds, advances the type's debit exchange rate. It returns the
// number of collateral types visited.
//
// Accrual is skipped entirely while the system is shutdown and on the first
// block, before the time source is reliable. A mint failure is logged and
// swallowed for that collateral type so one bad type never blocks accrual for
// the others.
func (e *Engine) AccumulateInterest(nowSecs uint64) (uint32, error) {
	if e == nil || e.state == nil {
		return 0, ErrNilState
	}
	if e.ledger == nil {
		return 0, ErrNilLedger
	}
	lastSecs, err := e.state.LastAccumulationSecs()
	if err != nil {
		return 0, err
	}

	var count uint32
	if !e.isShutdown() && nowSecs != 0 {
		intervalSecs := nowSecs - lastSecs
		if nowSecs < lastSecs {
			intervalSecs = 0
		}

		for _, currency := range e.params.CollateralCurrencies {
			if err := e.accumulateFor(currency, intervalSecs); err != nil {
				return count, err
			}
			count++
		}
	}

	if err := e.state.PutLastAccumulationSecs(nowSecs); err != nil {
		return count, err
	}
	return count, nil
}

func (e *Engine) accumulateFor(currency CurrencyID, intervalSecs uint64) error {
	ratePerSec, err := e.InterestRatePerSec(currency)
	if err != nil {
		return err
	}
	rateToAccumulate := compoundInterestRate(ratePerSec, intervalSecs)

	total, err := e.ledger.TotalPosition(currency)
	if err != nil {
		return err
	}
	totalDebits := total.debitOrZero()

	if rateToAccumulate.Sign() == 0 || totalDebits.Sign() == 0 {
		return nil
	}

	exchangeRate, err := e.DebitExchangeRate(currency)
	if err != nil {
		return err
	}
	increment := fixedMul(exchangeRate, rateToAccumulate)
	issued := fixedMulInt(increment, totalDebits)

	// Issue the accrued interest to the surplus pool; only a successful
	// mint advances the exchange rate, otherwise this cycle is retried at
	// the next block.
	if err := e.treasury.OnSystemSurplus(issued); err != nil {
		e.logger.Warn("cdp accrual surplus mint failed",
			"currency", currency.Key(),
			"issued", issued.String(),
			"error", err,
		)
		e.metrics.RecordAccrual(currency.Key(), "mint_failed")
		return nil
	}

	newRate := new(big.Int).Add(exchangeRate, increment)
	if err := e.state.PutDebitExchangeRate(currency, newRate); err != nil {
		return err
	}
	e.metrics.RecordAccrual(currency.Key(), "accrued")
	return nil
}
