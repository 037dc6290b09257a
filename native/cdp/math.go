package cdp

import "math/big"

// Fixed-point values (rates, ratios, exchange rates, prices) are big integers
// scaled by 1e18. Arithmetic saturates at the 128-bit ceiling instead of
// growing without bound, mirroring the saturating semantics the on-chain
// accounting expects.
var (
	fixedOne = mustBigInt("1000000000000000000")
	fixedMax = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 128), big.NewInt(1))
	bigZero  = big.NewInt(0)
)

func mustBigInt(value string) *big.Int {
	v, ok := new(big.Int).SetString(value, 10)
	if !ok {
		panic("invalid big integer constant")
	}
	return v
}

func saturate(v *big.Int) *big.Int {
	if v.Cmp(fixedMax) > 0 {
		return new(big.Int).Set(fixedMax)
	}
	if v.Sign() < 0 {
		return big.NewInt(0)
	}
	return v
}

// fixedMul multiplies two fixed-point values, truncating toward zero.
func fixedMul(a, b *big.Int) *big.Int {
	if a == nil || b == nil {
		return big.NewInt(0)
	}
	product := new(big.Int).Mul(a, b)
	product.Quo(product, fixedOne)
	return saturate(product)
}

// fixedMulInt scales an integer amount by a fixed-point factor.
func fixedMulInt(rate, amount *big.Int) *big.Int {
	if rate == nil || amount == nil {
		return big.NewInt(0)
	}
	product := new(big.Int).Mul(rate, amount)
	product.Quo(product, fixedOne)
	return saturate(product)
}

// fixedAdd adds two fixed-point values with saturation.
func fixedAdd(a, b *big.Int) *big.Int {
	if a == nil {
		a = bigZero
	}
	if b == nil {
		b = bigZero
	}
	return saturate(new(big.Int).Add(a, b))
}

// fixedSub subtracts b from a, flooring at zero.
func fixedSub(a, b *big.Int) *big.Int {
	if a == nil {
		a = bigZero
	}
	if b == nil {
		b = bigZero
	}
	diff := new(big.Int).Sub(a, b)
	if diff.Sign() < 0 {
		return big.NewInt(0)
	}
	return diff
}

// fixedPow raises a fixed-point base to an integer exponent by
// square-and-multiply, saturating on the way up.
func fixedPow(base *big.Int, exp uint64) *big.Int {
	result := new(big.Int).Set(fixedOne)
	acc := new(big.Int).Set(base)
	for exp > 0 {
		if exp&1 == 1 {
			result = fixedMul(result, acc)
		}
		exp >>= 1
		if exp > 0 {
			acc = fixedMul(acc, acc)
		}
	}
	return result
}

// compoundInterestRate computes (1 + ratePerSec)^secs - 1.
func compoundInterestRate(ratePerSec *big.Int, secs uint64) *big.Int {
	if ratePerSec == nil || ratePerSec.Sign() == 0 || secs == 0 {
		return big.NewInt(0)
	}
	grown := fixedPow(fixedAdd(fixedOne, ratePerSec), secs)
	return fixedSub(grown, fixedOne)
}

// ratioFromRational converts num/den into a fixed-point ratio, truncating.
// A zero denominator yields the maximum representable ratio: a position with
// no outstanding debit value can never fall below any liquidation threshold.
func ratioFromRational(num, den *big.Int) *big.Int {
	if den == nil || den.Sign() == 0 {
		return new(big.Int).Set(fixedMax)
	}
	if num == nil {
		return big.NewInt(0)
	}
	ratio := new(big.Int).Mul(num, fixedOne)
	ratio.Quo(ratio, den)
	return saturate(ratio)
}

func minBig(a, b *big.Int) *big.Int {
	if a.Cmp(b) <= 0 {
		return new(big.Int).Set(a)
	}
	return new(big.Int).Set(b)
}
