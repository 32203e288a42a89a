// Package curve implements the amplified invariant-curve math used to price
// swaps. All functions are pure: they take a balance snapshot and an
// amplification parameter and return integer amounts.
//
// The curve family is F(x) = x^((a-1)/a) carried at fixed-point scale 2^64,
// where a is the amplification. Swapping x of the input asset yields
// units U = F(A+x) - F(A); converting units back on the output side yields
// out = B - F⁻¹(F(B) - U). Larger a flattens the curve toward the
// constant-sum extreme; a = 1 would collapse the exponent to zero (the
// logarithmic, constant-product limit), which is why MinAmplification is 2.
//
// All computation is exact integer arithmetic (math/big). Amounts delivered
// to the caller truncate toward zero; amounts retained by the pool round up,
// so rounding never creates value for the caller.
package curve

import (
	"errors"
	"math/big"
)

const (
	// MinAmplification is the lowest accepted amplification. Below it the
	// power curve degenerates into the constant-product limit.
	MinAmplification = 2
	// MaxAmplification bounds the root orders the math will compute.
	MaxAmplification = 128

	// unitShift is the fixed-point scale (2^64) applied to curve values.
	unitShift = 64
)

var (
	ErrZeroAmount            = errors.New("curve: amount must be positive")
	ErrInsufficientLiquidity = errors.New("curve: insufficient liquidity")
	ErrAmplification         = errors.New("curve: amplification out of range")
)

// ValidAmplification reports whether a is inside the accepted range.
func ValidAmplification(a uint64) bool {
	return a >= MinAmplification && a <= MaxAmplification
}

// value computes F(x) = floor(x^((a-1)/a) * 2^64).
func value(x *big.Int, amp uint64) *big.Int {
	if x.Sign() <= 0 {
		return new(big.Int)
	}
	p := new(big.Int).SetUint64(amp - 1)
	v := new(big.Int).Exp(x, p, nil)
	v.Lsh(v, unitShift*uint(amp))
	return floorNthRoot(v, amp)
}

// invValue computes ceil(F⁻¹(w)) for a scaled curve value w > 0: the
// smallest integer balance whose curve value is at least w. Both rounding
// steps round up, keeping the result on the pool's side.
func invValue(w *big.Int, amp uint64) *big.Int {
	p := amp - 1
	t := new(big.Int).Exp(w, new(big.Int).SetUint64(amp), nil)
	t = ceilRsh(t, unitShift*uint(amp))
	return ceilNthRoot(t, p)
}

// ToUnit converts amountIn of the input asset into chain-agnostic units
// given the input-side balance. Units grow sublinearly in amountIn: the
// marginal price worsens as the input balance grows.
func ToUnit(balanceIn *big.Int, amp uint64, amountIn *big.Int) (*big.Int, error) {
	if !ValidAmplification(amp) {
		return nil, ErrAmplification
	}
	if amountIn == nil || amountIn.Sign() <= 0 {
		return nil, ErrZeroAmount
	}
	if balanceIn == nil {
		balanceIn = new(big.Int)
	}
	if balanceIn.Sign() < 0 {
		return nil, ErrInsufficientLiquidity
	}

	after := new(big.Int).Add(balanceIn, amountIn)
	u := value(after, amp)
	u.Sub(u, value(balanceIn, amp))
	return u, nil
}

// FromUnit converts units arriving from a remote leg into a deliverable
// amount of the output asset. The result is strictly below balanceOut; units
// large enough to drain the balance fail with ErrInsufficientLiquidity.
func FromUnit(balanceOut *big.Int, amp uint64, units *big.Int) (*big.Int, error) {
	if !ValidAmplification(amp) {
		return nil, ErrAmplification
	}
	if units == nil || units.Sign() < 0 {
		return nil, ErrZeroAmount
	}
	if balanceOut == nil || balanceOut.Sign() <= 0 {
		return nil, ErrInsufficientLiquidity
	}
	if units.Sign() == 0 {
		return new(big.Int), nil
	}

	w := value(balanceOut, amp)
	w.Sub(w, units)
	if w.Sign() <= 0 {
		return nil, ErrInsufficientLiquidity
	}

	keep := invValue(w, amp)
	out := new(big.Int).Sub(balanceOut, keep)
	if out.Sign() < 0 {
		// Unreachable: invValue never exceeds balanceOut for w <= F(balanceOut).
		return nil, ErrInsufficientLiquidity
	}
	return out, nil
}

// QuoteSwap prices a single swap against one balance snapshot: the
// deliverable output amount for depositing amountIn. Fails with
// ErrInsufficientLiquidity when either balance is zero. The result is
// non-decreasing in amountIn and strictly below balanceOut.
func QuoteSwap(balanceIn, balanceOut *big.Int, amp uint64, amountIn *big.Int) (*big.Int, error) {
	if balanceIn == nil || balanceIn.Sign() <= 0 {
		return nil, ErrInsufficientLiquidity
	}
	return QuoteBoth(balanceIn, balanceOut, amp, amountIn)
}

// QuoteBoth composes ToUnit and FromUnit, the full two-leg price for a pair
// of same-engine pools. Exposed for read-only price discovery: a smaller
// balanceIn relative to balanceOut never quotes a more favorable price in
// the same direction.
func QuoteBoth(balanceIn, balanceOut *big.Int, amp uint64, amountIn *big.Int) (*big.Int, error) {
	units, err := ToUnit(balanceIn, amp, amountIn)
	if err != nil {
		return nil, err
	}
	return FromUnit(balanceOut, amp, units)
}
