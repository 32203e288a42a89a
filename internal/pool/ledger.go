// Package pool holds the authoritative per-asset balances of one liquidity
// pool and the safe mutation primitives over them.
package pool

import (
	"errors"
	"fmt"
	"math/big"
	"sort"

	"github.com/sengulatik66/catalyst/internal/curve"
)

var (
	ErrBalanceUnderflow = errors.New("pool: balance underflow")
	ErrUnknownAsset     = errors.New("pool: unknown asset")
)

// Ledger owns the balances and the amplification parameter of one pool.
// Provisional escrow deltas are applied to the same balances that quoting
// reads, so in-flight swaps affect pricing immediately.
//
// A Ledger is not safe for concurrent use; the settlement engine serializes
// access per pool.
type Ledger struct {
	amp      uint64
	balances map[string]*big.Int
}

// NewLedger builds a ledger from initial balances. Balances must be
// non-negative and the amplification inside the curve's accepted range.
func NewLedger(amp uint64, balances map[string]*big.Int) (*Ledger, error) {
	if !curve.ValidAmplification(amp) {
		return nil, curve.ErrAmplification
	}
	owned := make(map[string]*big.Int, len(balances))
	for asset, bal := range balances {
		if asset == "" {
			return nil, fmt.Errorf("pool: empty asset identifier")
		}
		if bal == nil {
			bal = new(big.Int)
		}
		if bal.Sign() < 0 {
			return nil, fmt.Errorf("pool: negative balance for %s: %w", asset, ErrBalanceUnderflow)
		}
		owned[asset] = new(big.Int).Set(bal)
	}
	return &Ledger{amp: amp, balances: owned}, nil
}

// Amplification returns the pool's curve parameter.
func (l *Ledger) Amplification() uint64 { return l.amp }

// Assets returns the pool's asset identifiers in stable order.
func (l *Ledger) Assets() []string {
	assets := make([]string, 0, len(l.balances))
	for asset := range l.balances {
		assets = append(assets, asset)
	}
	sort.Strings(assets)
	return assets
}

// Has reports whether the pool carries the asset.
func (l *Ledger) Has(asset string) bool {
	_, ok := l.balances[asset]
	return ok
}

// Balance returns a copy of the current balance for the asset.
func (l *Ledger) Balance(asset string) (*big.Int, error) {
	bal, ok := l.balances[asset]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAsset, asset)
	}
	return new(big.Int).Set(bal), nil
}

// Balances returns a copy of every balance, keyed by asset.
func (l *Ledger) Balances() map[string]*big.Int {
	out := make(map[string]*big.Int, len(l.balances))
	for asset, bal := range l.balances {
		out[asset] = new(big.Int).Set(bal)
	}
	return out
}

// ApplyDelta adds signed delta to the asset's balance. A result below zero
// fails with ErrBalanceUnderflow and leaves the balance untouched; that
// error indicates broken escrow accounting upstream, not a user mistake.
func (l *Ledger) ApplyDelta(asset string, delta *big.Int) error {
	bal, ok := l.balances[asset]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownAsset, asset)
	}
	if delta == nil {
		return nil
	}
	next := new(big.Int).Add(bal, delta)
	if next.Sign() < 0 {
		return fmt.Errorf("pool: %s delta %s on balance %s: %w", asset, delta, bal, ErrBalanceUnderflow)
	}
	l.balances[asset] = next
	return nil
}

// ToUnit prices a deposit of amountIn of asset into units against the
// current balance.
func (l *Ledger) ToUnit(asset string, amountIn *big.Int) (*big.Int, error) {
	bal, err := l.Balance(asset)
	if err != nil {
		return nil, err
	}
	return curve.ToUnit(bal, l.amp, amountIn)
}

// FromUnit prices units into a deliverable amount of asset against the
// current balance.
func (l *Ledger) FromUnit(asset string, units *big.Int) (*big.Int, error) {
	bal, err := l.Balance(asset)
	if err != nil {
		return nil, err
	}
	return curve.FromUnit(bal, l.amp, units)
}

// QuoteSwap prices assetIn -> assetOut for amountIn over current balances.
func (l *Ledger) QuoteSwap(assetIn, assetOut string, amountIn *big.Int) (*big.Int, error) {
	balIn, err := l.Balance(assetIn)
	if err != nil {
		return nil, err
	}
	balOut, err := l.Balance(assetOut)
	if err != nil {
		return nil, err
	}
	return curve.QuoteSwap(balIn, balOut, l.amp, amountIn)
}

// QuoteBoth exposes the two-leg composition for read-only price discovery.
func (l *Ledger) QuoteBoth(assetIn, assetOut string, amountIn *big.Int) (*big.Int, error) {
	balIn, err := l.Balance(assetIn)
	if err != nil {
		return nil, err
	}
	balOut, err := l.Balance(assetOut)
	if err != nil {
		return nil, err
	}
	return curve.QuoteBoth(balIn, balOut, l.amp, amountIn)
}
