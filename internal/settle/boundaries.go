package settle

import (
	"context"
	"math/big"

	"github.com/sengulatik66/catalyst/internal/model"
)

// PacketSink receives one outbound packet per initiated swap. It is an
// outbox for the relay boundary: packets can always be re-derived from the
// pending escrow book, so a sink failure never unwinds a committed swap.
type PacketSink interface {
	EmitPacket(ctx context.Context, pkt model.OutboundPacket) error
}

// Custody performs token transfers on behalf of the engine. The engine only
// calls it strictly after its own state mutation is complete, never
// interleaved mid-mutation.
type Custody interface {
	TransferOut(ctx context.Context, asset string, amount *big.Int, to string) error
}

// Store persists pool and escrow state. Every call must apply atomically:
// an in-flight escrow surviving a process restart is a correctness
// requirement, and a half-applied initiation would corrupt the ledger.
type Store interface {
	SavePool(ctx context.Context, p model.PoolRecord) error
	// SaveInitiation stores the escrow-adjusted pool snapshot together with
	// the new pending escrow row.
	SaveInitiation(ctx context.Context, p model.PoolRecord, e model.EscrowRecord) error
	// SaveResolution stores the pool snapshot and retires the escrow row.
	SaveResolution(ctx context.Context, p model.PoolRecord, key model.EscrowKey) error
}

type nullStore struct{}

func (nullStore) SavePool(context.Context, model.PoolRecord) error { return nil }
func (nullStore) SaveInitiation(context.Context, model.PoolRecord, model.EscrowRecord) error {
	return nil
}
func (nullStore) SaveResolution(context.Context, model.PoolRecord, model.EscrowKey) error {
	return nil
}

// NullStore returns a Store that keeps nothing. Useful for tests and
// dry-run tooling.
func NullStore() Store { return nullStore{} }
