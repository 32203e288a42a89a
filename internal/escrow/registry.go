// Package escrow keeps the in-flight swap book: one entry per outbound swap,
// created at initiation and removed exactly once at resolution.
package escrow

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/sengulatik66/catalyst/internal/model"
)

var (
	// ErrDuplicateKey is defensive; engine-assigned sequences make it
	// unreachable unless key allocation upstream is broken.
	ErrDuplicateKey = errors.New("escrow: duplicate key")
	// ErrUnknownOrResolved is the expected outcome of a redundant resolution
	// attempt. Callers treat it as "nothing to do", not as a failure.
	ErrUnknownOrResolved = errors.New("escrow: unknown or already resolved")
)

// Entry records everything needed to reverse one in-flight swap.
type Entry struct {
	Key         model.EscrowKey
	AssetIn     string
	AmountIn    *big.Int
	AssetOut    string
	Escrowed    *big.Int
	Beneficiary string
}

// Registry is the keyed store of pending entries for one pool. Removal on
// resolve is the sole enforcement point of the exactly-once guarantee: once
// an entry is gone, every later resolution attempt for its key fails.
//
// A Registry is not safe for concurrent use; the settlement engine
// serializes access per pool.
type Registry struct {
	pending map[model.EscrowKey]Entry
}

func NewRegistry() *Registry {
	return &Registry{pending: make(map[model.EscrowKey]Entry)}
}

// Register stores a pending entry. Fails with ErrDuplicateKey when the key
// is already present.
func (r *Registry) Register(e Entry) error {
	if _, ok := r.pending[e.Key]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateKey, e.Key)
	}
	if e.Escrowed == nil {
		e.Escrowed = new(big.Int)
	}
	if e.AmountIn == nil {
		e.AmountIn = new(big.Int)
	}
	r.pending[e.Key] = e
	return nil
}

// Resolve removes and returns the entry for key. Fails with
// ErrUnknownOrResolved when the key was never registered or was already
// resolved, whichever outcome claimed it first.
func (r *Registry) Resolve(key model.EscrowKey) (Entry, error) {
	e, ok := r.pending[key]
	if !ok {
		return Entry{}, fmt.Errorf("%w: %s", ErrUnknownOrResolved, key)
	}
	delete(r.pending, key)
	return e, nil
}

// Len returns the number of pending entries.
func (r *Registry) Len() int { return len(r.pending) }

// Pending returns a snapshot of all pending entries.
func (r *Registry) Pending() []Entry {
	out := make([]Entry, 0, len(r.pending))
	for _, e := range r.pending {
		out = append(out, e)
	}
	return out
}
