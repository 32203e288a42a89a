// Package settle orchestrates escrowed cross-domain swaps: initiation
// against the local invariant curve, and the exactly-once ack/timeout
// resolution of their remote leg.
package settle

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sengulatik66/catalyst/internal/escrow"
	"github.com/sengulatik66/catalyst/internal/model"
	"github.com/sengulatik66/catalyst/internal/pool"
)

var (
	ErrUnknownPool    = errors.New("settle: unknown pool")
	ErrDuplicatePool  = errors.New("settle: pool already exists")
	ErrSlippage       = errors.New("settle: minimum output not met")
	ErrInvalidRequest = errors.New("settle: invalid request")
)

// SwapRequest describes one outbound swap initiation. AmountIn is the
// deposit already transferred in by custody before this call; MinOut, when
// set, is the caller's slippage bound on the locally escrowed output.
type SwapRequest struct {
	Channel     string
	AssetIn     string
	AssetOut    string
	AmountIn    *big.Int
	MinOut      *big.Int
	Beneficiary string
}

func (r SwapRequest) validate() error {
	if r.Channel == "" {
		return fmt.Errorf("%w: channel is required", ErrInvalidRequest)
	}
	if r.AssetIn == "" || r.AssetOut == "" {
		return fmt.Errorf("%w: asset identifiers are required", ErrInvalidRequest)
	}
	if r.AssetIn == r.AssetOut {
		return fmt.Errorf("%w: asset_in equals asset_out", ErrInvalidRequest)
	}
	if r.Beneficiary == "" {
		return fmt.Errorf("%w: beneficiary is required", ErrInvalidRequest)
	}
	if r.AmountIn == nil || r.AmountIn.Sign() <= 0 {
		return fmt.Errorf("%w: amount_in must be positive", ErrInvalidRequest)
	}
	if r.MinOut != nil && r.MinOut.Sign() < 0 {
		return fmt.Errorf("%w: min_out must not be negative", ErrInvalidRequest)
	}
	return nil
}

// SwapReceipt is returned from a successful initiation.
type SwapReceipt struct {
	Key      model.EscrowKey
	Units    *big.Int
	Escrowed *big.Int
	Packet   model.OutboundPacket
}

// poolState is one pool aggregate: ledger, escrow book, and per-channel
// sequences, all guarded by a single mutex so quotes always observe every
// prior mutation.
type poolState struct {
	mu      sync.Mutex
	ledger  *pool.Ledger
	escrows *escrow.Registry
	seqs    map[string]uint64
}

// Engine coordinates the pool ledgers and escrow registries. It holds no
// swap state of its own between calls; the pool aggregates own everything.
type Engine struct {
	mu    sync.RWMutex
	pools map[string]*poolState

	store   Store
	sink    PacketSink
	custody Custody
	logger  *zap.Logger
}

// NewEngine builds an engine. store may be nil (state is then kept only in
// memory); sink and custody may be nil when no relay or custody collaborator
// is wired, e.g. in read-only tooling.
func NewEngine(store Store, sink PacketSink, custody Custody, logger *zap.Logger) *Engine {
	if store == nil {
		store = nullStore{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		pools:   make(map[string]*poolState),
		store:   store,
		sink:    sink,
		custody: custody,
		logger:  logger,
	}
}

// CreatePool registers and persists a new pool.
func (e *Engine) CreatePool(ctx context.Context, id string, amp uint64, balances map[string]*big.Int) (model.PoolRecord, error) {
	if id == "" {
		return model.PoolRecord{}, fmt.Errorf("%w: pool id is required", ErrInvalidRequest)
	}
	ledger, err := pool.NewLedger(amp, balances)
	if err != nil {
		return model.PoolRecord{}, err
	}

	e.mu.Lock()
	if _, ok := e.pools[id]; ok {
		e.mu.Unlock()
		return model.PoolRecord{}, fmt.Errorf("%w: %s", ErrDuplicatePool, id)
	}
	ps := &poolState{ledger: ledger, escrows: escrow.NewRegistry(), seqs: make(map[string]uint64)}
	e.pools[id] = ps
	e.mu.Unlock()

	rec := poolRecord(id, ps)
	if err := e.store.SavePool(ctx, rec); err != nil {
		e.mu.Lock()
		delete(e.pools, id)
		e.mu.Unlock()
		return model.PoolRecord{}, fmt.Errorf("persist pool: %w", err)
	}

	e.logger.Info("pool created", zap.String("pool", id), zap.Uint64("amplification", amp))
	return rec, nil
}

// Restore rebuilds in-memory state from persisted records. Persisted pool
// balances already include the provisional deductions of pending escrows,
// so restoring is a plain load followed by re-registering escrow entries.
func (e *Engine) Restore(pools []model.PoolRecord, escrows []model.EscrowRecord) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, rec := range pools {
		balances, err := parseBalances(rec.Balances)
		if err != nil {
			return fmt.Errorf("pool %s: %w", rec.ID, err)
		}
		ledger, err := pool.NewLedger(rec.Amplification, balances)
		if err != nil {
			return fmt.Errorf("pool %s: %w", rec.ID, err)
		}
		seqs := make(map[string]uint64, len(rec.Sequences))
		for ch, seq := range rec.Sequences {
			seqs[ch] = seq
		}
		e.pools[rec.ID] = &poolState{ledger: ledger, escrows: escrow.NewRegistry(), seqs: seqs}
	}

	for _, rec := range escrows {
		ps, ok := e.pools[rec.PoolID]
		if !ok {
			return fmt.Errorf("escrow %s: %w: %s", rec.Key, ErrUnknownPool, rec.PoolID)
		}
		entry, err := entryFromRecord(rec)
		if err != nil {
			return fmt.Errorf("escrow %s: %w", rec.Key, err)
		}
		if err := ps.escrows.Register(entry); err != nil {
			return fmt.Errorf("escrow %s: %w", rec.Key, err)
		}
	}
	return nil
}

// Pools returns the known pool identifiers in stable order.
func (e *Engine) Pools() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	ids := make([]string, 0, len(e.pools))
	for id := range e.pools {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// PoolRecord returns the current snapshot of one pool.
func (e *Engine) PoolRecord(id string) (model.PoolRecord, error) {
	ps, err := e.poolState(id)
	if err != nil {
		return model.PoolRecord{}, err
	}
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return poolRecord(id, ps), nil
}

// PendingEscrows returns the pending escrow rows of one pool.
func (e *Engine) PendingEscrows(id string) ([]model.EscrowRecord, error) {
	ps, err := e.poolState(id)
	if err != nil {
		return nil, err
	}
	ps.mu.Lock()
	defer ps.mu.Unlock()

	entries := ps.escrows.Pending()
	out := make([]model.EscrowRecord, 0, len(entries))
	for _, entry := range entries {
		out = append(out, escrowRecord(id, entry, ""))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Key.Channel != out[j].Key.Channel {
			return out[i].Key.Channel < out[j].Key.Channel
		}
		return out[i].Key.Sequence < out[j].Key.Sequence
	})
	return out, nil
}

// Quote prices assetIn -> assetOut over the pool's current, possibly
// escrow-adjusted balances. Read-only.
func (e *Engine) Quote(poolID, assetIn, assetOut string, amountIn *big.Int) (*big.Int, error) {
	ps, err := e.poolState(poolID)
	if err != nil {
		return nil, err
	}
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return ps.ledger.QuoteBoth(assetIn, assetOut, amountIn)
}

// ToUnit converts a local amount into units over current balances. Read-only.
func (e *Engine) ToUnit(poolID, asset string, amountIn *big.Int) (*big.Int, error) {
	ps, err := e.poolState(poolID)
	if err != nil {
		return nil, err
	}
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return ps.ledger.ToUnit(asset, amountIn)
}

// FromUnit converts units into a local amount over current balances.
// Read-only.
func (e *Engine) FromUnit(poolID, asset string, units *big.Int) (*big.Int, error) {
	ps, err := e.poolState(poolID)
	if err != nil {
		return nil, err
	}
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return ps.ledger.FromUnit(asset, units)
}

// Initiate executes the local leg of a cross-domain swap: quote, provisional
// balance deduction, escrow registration, persistence, packet emission.
// Validation failures leave no residual state.
func (e *Engine) Initiate(ctx context.Context, poolID string, req SwapRequest) (SwapReceipt, error) {
	if err := req.validate(); err != nil {
		return SwapReceipt{}, err
	}
	ps, err := e.poolState(poolID)
	if err != nil {
		return SwapReceipt{}, err
	}

	ps.mu.Lock()
	defer ps.mu.Unlock()

	units, err := ps.ledger.ToUnit(req.AssetIn, req.AmountIn)
	if err != nil {
		return SwapReceipt{}, err
	}
	out, err := ps.ledger.FromUnit(req.AssetOut, units)
	if err != nil {
		return SwapReceipt{}, err
	}
	if req.MinOut != nil && out.Cmp(req.MinOut) < 0 {
		return SwapReceipt{}, fmt.Errorf("%w: quoted %s below min_out %s", ErrSlippage, out, req.MinOut)
	}

	// Validation complete; everything below either commits or is rolled
	// back before returning.
	if err := ps.ledger.ApplyDelta(req.AssetOut, new(big.Int).Neg(out)); err != nil {
		return SwapReceipt{}, err
	}

	seq := ps.seqs[req.Channel] + 1
	key := model.EscrowKey{Channel: req.Channel, Sequence: seq}
	entry := escrow.Entry{
		Key:         key,
		AssetIn:     req.AssetIn,
		AmountIn:    new(big.Int).Set(req.AmountIn),
		AssetOut:    req.AssetOut,
		Escrowed:    new(big.Int).Set(out),
		Beneficiary: req.Beneficiary,
	}
	if err := ps.escrows.Register(entry); err != nil {
		_ = ps.ledger.ApplyDelta(req.AssetOut, out)
		return SwapReceipt{}, err
	}
	ps.seqs[req.Channel] = seq

	now := time.Now().UTC().Format(time.RFC3339Nano)
	rec := poolRecord(poolID, ps)
	rec.UpdatedAt = now
	if err := e.store.SaveInitiation(ctx, rec, escrowRecord(poolID, entry, now)); err != nil {
		ps.seqs[req.Channel] = seq - 1
		_, _ = ps.escrows.Resolve(key)
		_ = ps.ledger.ApplyDelta(req.AssetOut, out)
		return SwapReceipt{}, fmt.Errorf("persist initiation: %w", err)
	}

	pkt := model.OutboundPacket{
		PoolID:      poolID,
		Key:         key,
		Units:       units.String(),
		AssetIn:     req.AssetIn,
		AssetOut:    req.AssetOut,
		Beneficiary: req.Beneficiary,
		EmittedAt:   now,
	}
	if e.sink != nil {
		if err := e.sink.EmitPacket(ctx, pkt); err != nil {
			// Outbox failure: the swap stays escrowed and the packet can be
			// re-derived from the pending escrow book.
			e.logger.Warn("emit packet", zap.Error(err), zap.String("key", key.String()))
		}
	}

	e.logger.Info("swap initiated",
		zap.String("pool", poolID),
		zap.String("key", key.String()),
		zap.String("asset_in", req.AssetIn),
		zap.String("asset_out", req.AssetOut),
		zap.String("amount_in", req.AmountIn.String()),
		zap.String("escrowed", out.String()),
	)

	return SwapReceipt{Key: key, Units: units, Escrowed: out, Packet: pkt}, nil
}

// Acknowledge finalizes a swap: the escrowed value has truly left the pool
// toward the remote leg, so retiring the escrow entry is the only effect.
// A redundant call fails with escrow.ErrUnknownOrResolved and changes
// nothing.
func (e *Engine) Acknowledge(ctx context.Context, poolID string, key model.EscrowKey) error {
	ps, err := e.poolState(poolID)
	if err != nil {
		return err
	}

	ps.mu.Lock()
	defer ps.mu.Unlock()

	entry, err := ps.escrows.Resolve(key)
	if err != nil {
		return err
	}

	rec := poolRecord(poolID, ps)
	rec.UpdatedAt = time.Now().UTC().Format(time.RFC3339Nano)
	if err := e.store.SaveResolution(ctx, rec, key); err != nil {
		_ = ps.escrows.Register(entry)
		return fmt.Errorf("persist resolution: %w", err)
	}

	e.logger.Info("swap acknowledged",
		zap.String("pool", poolID),
		zap.String("key", key.String()),
		zap.String("escrowed", entry.Escrowed.String()),
	)
	return nil
}

// Timeout reverses a swap: the escrowed amount is reinstated on the output
// asset and custody is instructed to refund the input asset to the
// beneficiary, strictly after the core mutation. A redundant call fails
// with escrow.ErrUnknownOrResolved and changes nothing.
func (e *Engine) Timeout(ctx context.Context, poolID string, key model.EscrowKey) error {
	ps, err := e.poolState(poolID)
	if err != nil {
		return err
	}

	ps.mu.Lock()
	defer ps.mu.Unlock()

	entry, err := ps.escrows.Resolve(key)
	if err != nil {
		return err
	}
	if err := ps.ledger.ApplyDelta(entry.AssetOut, entry.Escrowed); err != nil {
		_ = ps.escrows.Register(entry)
		return err
	}

	rec := poolRecord(poolID, ps)
	rec.UpdatedAt = time.Now().UTC().Format(time.RFC3339Nano)
	if err := e.store.SaveResolution(ctx, rec, key); err != nil {
		_ = ps.ledger.ApplyDelta(entry.AssetOut, new(big.Int).Neg(entry.Escrowed))
		_ = ps.escrows.Register(entry)
		return fmt.Errorf("persist resolution: %w", err)
	}

	e.logger.Info("swap timed out",
		zap.String("pool", poolID),
		zap.String("key", key.String()),
		zap.String("refund_asset", entry.AssetIn),
		zap.String("refund_amount", entry.AmountIn.String()),
	)

	if e.custody != nil {
		if err := e.custody.TransferOut(ctx, entry.AssetIn, entry.AmountIn, entry.Beneficiary); err != nil {
			return fmt.Errorf("refund transfer: %w", err)
		}
	}
	return nil
}

func (e *Engine) poolState(id string) (*poolState, error) {
	e.mu.RLock()
	ps, ok := e.pools[id]
	e.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPool, id)
	}
	return ps, nil
}

func poolRecord(id string, ps *poolState) model.PoolRecord {
	balances := make(map[string]string)
	for asset, bal := range ps.ledger.Balances() {
		balances[asset] = bal.String()
	}
	seqs := make(map[string]uint64, len(ps.seqs))
	for ch, seq := range ps.seqs {
		seqs[ch] = seq
	}
	return model.PoolRecord{
		ID:            id,
		Amplification: ps.ledger.Amplification(),
		Balances:      balances,
		Sequences:     seqs,
	}
}

func escrowRecord(poolID string, entry escrow.Entry, createdAt string) model.EscrowRecord {
	return model.EscrowRecord{
		PoolID:      poolID,
		Key:         entry.Key,
		AssetIn:     entry.AssetIn,
		AmountIn:    entry.AmountIn.String(),
		AssetOut:    entry.AssetOut,
		Escrowed:    entry.Escrowed.String(),
		Beneficiary: entry.Beneficiary,
		CreatedAt:   createdAt,
	}
}

func entryFromRecord(rec model.EscrowRecord) (escrow.Entry, error) {
	amountIn, err := parseAmount(rec.AmountIn)
	if err != nil {
		return escrow.Entry{}, fmt.Errorf("amount_in: %w", err)
	}
	escrowed, err := parseAmount(rec.Escrowed)
	if err != nil {
		return escrow.Entry{}, fmt.Errorf("escrowed: %w", err)
	}
	return escrow.Entry{
		Key:         rec.Key,
		AssetIn:     rec.AssetIn,
		AmountIn:    amountIn,
		AssetOut:    rec.AssetOut,
		Escrowed:    escrowed,
		Beneficiary: rec.Beneficiary,
	}, nil
}

func parseBalances(raw map[string]string) (map[string]*big.Int, error) {
	balances := make(map[string]*big.Int, len(raw))
	for asset, val := range raw {
		amount, err := parseAmount(val)
		if err != nil {
			return nil, fmt.Errorf("balance %s: %w", asset, err)
		}
		balances[asset] = amount
	}
	return balances, nil
}

func parseAmount(val string) (*big.Int, error) {
	amount, ok := new(big.Int).SetString(val, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", val)
	}
	if amount.Sign() < 0 {
		return nil, fmt.Errorf("negative amount %q", val)
	}
	return amount, nil
}
