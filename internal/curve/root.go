package curve

import "math/big"

var one = big.NewInt(1)

// floorNthRoot returns the largest y with y^n <= x, for x >= 0 and n >= 1.
// Integer Newton iteration, same scheme as big.Int.Sqrt generalized to
// arbitrary root order.
func floorNthRoot(x *big.Int, n uint64) *big.Int {
	if n == 0 {
		panic("curve: zeroth root")
	}
	if x.Sign() <= 0 {
		return new(big.Int)
	}
	if n == 1 {
		return new(big.Int).Set(x)
	}

	nBig := new(big.Int).SetUint64(n)
	n1 := new(big.Int).SetUint64(n - 1)

	// Initial guess 2^(floor(bitlen/n)+1) is always >= the true root.
	y := new(big.Int).Lsh(one, uint(x.BitLen())/uint(n)+1)
	for {
		pow := new(big.Int).Exp(y, n1, nil)
		next := new(big.Int).Quo(x, pow)
		next.Add(next, new(big.Int).Mul(n1, y))
		next.Quo(next, nBig)
		if next.Cmp(y) >= 0 {
			return y
		}
		y = next
	}
}

// ceilNthRoot returns the smallest y with y^n >= x.
func ceilNthRoot(x *big.Int, n uint64) *big.Int {
	y := floorNthRoot(x, n)
	if x.Sign() <= 0 {
		return y
	}
	pow := new(big.Int).Exp(y, new(big.Int).SetUint64(n), nil)
	if pow.Cmp(x) < 0 {
		y.Add(y, one)
	}
	return y
}

// ceilRsh shifts x right by s bits, rounding up.
func ceilRsh(x *big.Int, s uint) *big.Int {
	out := new(big.Int).Rsh(x, s)
	rem := new(big.Int).And(x, new(big.Int).Sub(new(big.Int).Lsh(one, s), one))
	if rem.Sign() > 0 {
		out.Add(out, one)
	}
	return out
}
