package escrow

import (
	"errors"
	"math/big"
	"testing"

	"github.com/sengulatik66/catalyst/internal/model"
)

func testEntry(seq uint64) Entry {
	return Entry{
		Key:         model.EscrowKey{Channel: "channel-0", Sequence: seq},
		AssetIn:     "X",
		AmountIn:    big.NewInt(100),
		AssetOut:    "Y",
		Escrowed:    big.NewInt(72),
		Beneficiary: "berg",
	}
}

func TestRegisterAndResolve(t *testing.T) {
	r := NewRegistry()
	e := testEntry(1)

	if err := r.Register(e); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if r.Len() != 1 {
		t.Fatalf("Len = %d, want 1", r.Len())
	}

	got, err := r.Resolve(e.Key)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got.Escrowed.Cmp(e.Escrowed) != 0 || got.AssetOut != "Y" || got.Beneficiary != "berg" {
		t.Fatalf("resolved entry mismatch: %+v", got)
	}
	if r.Len() != 0 {
		t.Fatalf("entry not removed: Len = %d", r.Len())
	}
}

func TestRegisterDuplicateKey(t *testing.T) {
	r := NewRegistry()
	e := testEntry(7)
	if err := r.Register(e); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := r.Register(e); !errors.Is(err, ErrDuplicateKey) {
		t.Fatalf("duplicate register: got %v", err)
	}
}

func TestResolveExactlyOnce(t *testing.T) {
	r := NewRegistry()
	e := testEntry(3)
	if err := r.Register(e); err != nil {
		t.Fatalf("Register: %v", err)
	}

	if _, err := r.Resolve(e.Key); err != nil {
		t.Fatalf("first resolve: %v", err)
	}
	if _, err := r.Resolve(e.Key); !errors.Is(err, ErrUnknownOrResolved) {
		t.Fatalf("second resolve: got %v", err)
	}
}

func TestResolveUnknownKey(t *testing.T) {
	r := NewRegistry()
	key := model.EscrowKey{Channel: "channel-0", Sequence: 99}
	if _, err := r.Resolve(key); !errors.Is(err, ErrUnknownOrResolved) {
		t.Fatalf("unknown key: got %v", err)
	}
}

func TestKeyReuseAfterResolveIsRejectedByCaller(t *testing.T) {
	// The registry itself allows re-registering a retired key; uniqueness
	// for the lifetime of the system comes from monotone sequences upstream.
	// Pending snapshots must not alias internal state.
	r := NewRegistry()
	if err := r.Register(testEntry(1)); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := r.Register(testEntry(2)); err != nil {
		t.Fatalf("Register: %v", err)
	}
	pending := r.Pending()
	if len(pending) != 2 {
		t.Fatalf("Pending len = %d, want 2", len(pending))
	}
}
