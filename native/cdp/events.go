package cdp

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"vaultchain/core/types"
)

const (
	EventTypeLiquidate                       = "cdp.liquidate"
	EventTypeSettle                          = "cdp.settle"
	EventTypeCloseByDEX                      = "cdp.close_by_dex"
	EventTypeInterestRateUpdated             = "cdp.params.interest_rate"
	EventTypeLiquidationRatioUpdated         = "cdp.params.liquidation_ratio"
	EventTypeLiquidationPenaltyUpdated       = "cdp.params.liquidation_penalty"
	EventTypeRequiredCollateralRatioUpdated  = "cdp.params.required_collateral_ratio"
	EventTypeMaximumTotalDebitValueUpdated   = "cdp.params.maximum_total_debit_value"
	EventTypeGlobalInterestRateUpdated       = "cdp.params.global_interest_rate"
	EventTypeLiquidationContractRegistered   = "cdp.liquidation_contract.registered"
	EventTypeLiquidationContractDeregistered = "cdp.liquidation_contract.deregistered"
)

// NewLiquidateEvent returns the canonical payload for a completed
// liquidation, including the winning disposal strategy.
func NewLiquidateEvent(currency CurrencyID, owner common.Address, collateral, badDebtValue *big.Int, strategy string) *types.Event {
	return &types.Event{
		Type: EventTypeLiquidate,
		Attributes: map[string]string{
			"currency":     currency.Key(),
			"owner":        owner.Hex(),
			"collateral":   bigString(collateral),
			"badDebtValue": bigString(badDebtValue),
			"strategy":     strategy,
		},
	}
}

// NewSettleEvent returns the canonical payload for a post-shutdown
// settlement.
func NewSettleEvent(currency CurrencyID, owner common.Address) *types.Event {
	return &types.Event{
		Type: EventTypeSettle,
		Attributes: map[string]string{
			"currency": currency.Key(),
			"owner":    owner.Hex(),
		},
	}
}

// NewCloseByDEXEvent returns the canonical payload for an owner-initiated
// close via swap.
func NewCloseByDEXEvent(currency CurrencyID, owner common.Address, sold, refunded, debitValue *big.Int) *types.Event {
	return &types.Event{
		Type: EventTypeCloseByDEX,
		Attributes: map[string]string{
			"currency":   currency.Key(),
			"owner":      owner.Hex(),
			"sold":       bigString(sold),
			"refunded":   bigString(refunded),
			"debitValue": bigString(debitValue),
		},
	}
}

func NewInterestRateUpdatedEvent(currency CurrencyID, rate *big.Int) *types.Event {
	return newParamEvent(EventTypeInterestRateUpdated, currency, rate)
}

func NewLiquidationRatioUpdatedEvent(currency CurrencyID, ratio *big.Int) *types.Event {
	return newParamEvent(EventTypeLiquidationRatioUpdated, currency, ratio)
}

func NewLiquidationPenaltyUpdatedEvent(currency CurrencyID, penalty *big.Int) *types.Event {
	return newParamEvent(EventTypeLiquidationPenaltyUpdated, currency, penalty)
}

func NewRequiredCollateralRatioUpdatedEvent(currency CurrencyID, ratio *big.Int) *types.Event {
	return newParamEvent(EventTypeRequiredCollateralRatioUpdated, currency, ratio)
}

func NewMaximumTotalDebitValueUpdatedEvent(currency CurrencyID, value *big.Int) *types.Event {
	return newParamEvent(EventTypeMaximumTotalDebitValueUpdated, currency, value)
}

func NewGlobalInterestRateUpdatedEvent(rate *big.Int) *types.Event {
	return &types.Event{
		Type: EventTypeGlobalInterestRateUpdated,
		Attributes: map[string]string{
			"value": bigString(rate),
		},
	}
}

func NewLiquidationContractRegisteredEvent(contract common.Address) *types.Event {
	return &types.Event{
		Type: EventTypeLiquidationContractRegistered,
		Attributes: map[string]string{
			"contract": contract.Hex(),
		},
	}
}

func NewLiquidationContractDeregisteredEvent(contract common.Address) *types.Event {
	return &types.Event{
		Type: EventTypeLiquidationContractDeregistered,
		Attributes: map[string]string{
			"contract": contract.Hex(),
		},
	}
}

func newParamEvent(eventType string, currency CurrencyID, value *big.Int) *types.Event {
	attrs := map[string]string{
		"currency": currency.Key(),
	}
	if value == nil {
		attrs["value"] = "unset"
	} else {
		attrs["value"] = value.String()
	}
	return &types.Event{Type: eventType, Attributes: attrs}
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
