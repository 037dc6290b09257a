package cdp

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// CurrencyKind distinguishes the asset classes that can back a CDP.
type CurrencyKind uint8

const (
	// CurrencyToken is a plain protocol token.
	CurrencyToken CurrencyKind = iota
	// CurrencyDexShare is a pooled liquidity-provider share of two
	// underlying tokens.
	CurrencyDexShare
	// CurrencyErc20 is an EVM-hosted asset addressed by contract.
	CurrencyErc20
)

// CurrencyID identifies a currency handled by the engine. Pair is populated
// only for DEX share currencies and holds the symbols of the two underlying
// tokens; Contract is populated only for ERC20 currencies.
type CurrencyID struct {
	Symbol   string
	Kind     CurrencyKind
	Pair     [2]string
	Contract common.Address
}

// TokenCurrency returns the identifier for a plain token.
func TokenCurrency(symbol string) CurrencyID {
	return CurrencyID{Symbol: strings.ToUpper(strings.TrimSpace(symbol))}
}

// DexShareCurrency returns the identifier of the LP share backed by the two
// given tokens.
func DexShareCurrency(tokenA, tokenB string) CurrencyID {
	a := strings.ToUpper(strings.TrimSpace(tokenA))
	b := strings.ToUpper(strings.TrimSpace(tokenB))
	return CurrencyID{
		Symbol: "LP-" + a + "-" + b,
		Kind:   CurrencyDexShare,
		Pair:   [2]string{a, b},
	}
}

// Erc20Currency returns the identifier for an EVM-hosted asset.
func Erc20Currency(symbol string, contract common.Address) CurrencyID {
	return CurrencyID{
		Symbol:   strings.ToUpper(strings.TrimSpace(symbol)),
		Kind:     CurrencyErc20,
		Contract: contract,
	}
}

// IsDexShare reports whether the currency is an LP share.
func (c CurrencyID) IsDexShare() bool { return c.Kind == CurrencyDexShare }

// IsErc20 reports whether the currency is an EVM-hosted asset.
func (c CurrencyID) IsErc20() bool { return c.Kind == CurrencyErc20 }

// Underlying returns the identifiers of the two tokens backing an LP share.
// It must only be called when IsDexShare is true.
func (c CurrencyID) Underlying() (CurrencyID, CurrencyID) {
	return TokenCurrency(c.Pair[0]), TokenCurrency(c.Pair[1])
}

// Equal reports whether two identifiers denote the same currency.
func (c CurrencyID) Equal(other CurrencyID) bool {
	return c.Kind == other.Kind && c.Symbol == other.Symbol && c.Pair == other.Pair && c.Contract == other.Contract
}

// Key returns a stable string usable as a map or storage key.
func (c CurrencyID) Key() string {
	if c.Kind == CurrencyErc20 {
		return c.Symbol + "@" + strings.ToLower(c.Contract.Hex())
	}
	return c.Symbol
}

func (c CurrencyID) String() string { return c.Symbol }
