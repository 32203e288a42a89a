package settle

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"testing"

	"github.com/sengulatik66/catalyst/internal/escrow"
	"github.com/sengulatik66/catalyst/internal/model"
)

type memStore struct {
	mu      sync.Mutex
	pools   map[string]model.PoolRecord
	escrows map[string]model.EscrowRecord

	failInitiation bool
	failResolution bool
}

func newMemStore() *memStore {
	return &memStore{
		pools:   make(map[string]model.PoolRecord),
		escrows: make(map[string]model.EscrowRecord),
	}
}

func (s *memStore) SavePool(_ context.Context, p model.PoolRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pools[p.ID] = p
	return nil
}

func (s *memStore) SaveInitiation(_ context.Context, p model.PoolRecord, e model.EscrowRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failInitiation {
		return fmt.Errorf("store down")
	}
	s.pools[p.ID] = p
	s.escrows[e.PoolID+"|"+e.Key.String()] = e
	return nil
}

func (s *memStore) SaveResolution(_ context.Context, p model.PoolRecord, key model.EscrowKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failResolution {
		return fmt.Errorf("store down")
	}
	s.pools[p.ID] = p
	delete(s.escrows, p.ID+"|"+key.String())
	return nil
}

func (s *memStore) state() ([]model.PoolRecord, []model.EscrowRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pools := make([]model.PoolRecord, 0, len(s.pools))
	for _, p := range s.pools {
		pools = append(pools, p)
	}
	escrows := make([]model.EscrowRecord, 0, len(s.escrows))
	for _, e := range s.escrows {
		escrows = append(escrows, e)
	}
	return pools, escrows
}

type memSink struct {
	packets []model.OutboundPacket
}

func (s *memSink) EmitPacket(_ context.Context, pkt model.OutboundPacket) error {
	s.packets = append(s.packets, pkt)
	return nil
}

type memCustody struct {
	transfers []model.TransferRecord
}

func (c *memCustody) TransferOut(_ context.Context, asset string, amount *big.Int, to string) error {
	c.transfers = append(c.transfers, model.TransferRecord{Asset: asset, Amount: amount.String(), To: to})
	return nil
}

type testHarness struct {
	engine  *Engine
	store   *memStore
	sink    *memSink
	custody *memCustody
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()
	h := &testHarness{store: newMemStore(), sink: &memSink{}, custody: &memCustody{}}
	h.engine = NewEngine(h.store, h.sink, h.custody, nil)
	_, err := h.engine.CreatePool(context.Background(), "amp-pool", 4, map[string]*big.Int{
		"X": big.NewInt(1000),
		"Y": big.NewInt(1000),
	})
	if err != nil {
		t.Fatalf("CreatePool: %v", err)
	}
	return h
}

func (h *testHarness) balance(t *testing.T, asset string) *big.Int {
	t.Helper()
	rec, err := h.engine.PoolRecord("amp-pool")
	if err != nil {
		t.Fatalf("PoolRecord: %v", err)
	}
	bal, ok := new(big.Int).SetString(rec.Balances[asset], 10)
	if !ok {
		t.Fatalf("bad balance %q", rec.Balances[asset])
	}
	return bal
}

func (h *testHarness) initiate(t *testing.T) SwapReceipt {
	t.Helper()
	receipt, err := h.engine.Initiate(context.Background(), "amp-pool", SwapRequest{
		Channel:     "channel-0",
		AssetIn:     "X",
		AssetOut:    "Y",
		AmountIn:    big.NewInt(100),
		Beneficiary: "berg",
	})
	if err != nil {
		t.Fatalf("Initiate: %v", err)
	}
	return receipt
}

func TestInitiateEscrowsAndEmits(t *testing.T) {
	h := newHarness(t)

	before, err := h.engine.Quote("amp-pool", "X", "Y", big.NewInt(100))
	if err != nil {
		t.Fatalf("quote before: %v", err)
	}

	receipt := h.initiate(t)
	if receipt.Units.Sign() <= 0 {
		t.Fatalf("units = %s, want positive", receipt.Units)
	}
	if receipt.Escrowed.Sign() <= 0 {
		t.Fatalf("escrowed = %s, want positive", receipt.Escrowed)
	}
	if receipt.Key.Channel != "channel-0" || receipt.Key.Sequence != 1 {
		t.Fatalf("key = %s, want channel-0/1", receipt.Key)
	}

	wantY := new(big.Int).Sub(big.NewInt(1000), receipt.Escrowed)
	if got := h.balance(t, "Y"); got.Cmp(wantY) != 0 {
		t.Fatalf("balance Y = %s, want %s", got, wantY)
	}
	if got := h.balance(t, "X"); got.Int64() != 1000 {
		t.Fatalf("balance X = %s, want 1000 (input custody is external)", got)
	}

	// The same-direction quote is strictly worse after initiate.
	after, err := h.engine.Quote("amp-pool", "X", "Y", big.NewInt(100))
	if err != nil {
		t.Fatalf("quote after: %v", err)
	}
	if after.Cmp(before) >= 0 {
		t.Fatalf("provisional pricing missing: before=%s after=%s", before, after)
	}

	if len(h.sink.packets) != 1 {
		t.Fatalf("packets emitted = %d, want 1", len(h.sink.packets))
	}
	pkt := h.sink.packets[0]
	if pkt.Units != receipt.Units.String() || pkt.Key != receipt.Key || pkt.Beneficiary != "berg" {
		t.Fatalf("packet mismatch: %+v", pkt)
	}

	pending, err := h.engine.PendingEscrows("amp-pool")
	if err != nil {
		t.Fatalf("PendingEscrows: %v", err)
	}
	if len(pending) != 1 || pending[0].Escrowed != receipt.Escrowed.String() {
		t.Fatalf("pending escrows = %+v", pending)
	}
}

func TestProvisionalReverseQuoteNoWorse(t *testing.T) {
	h := newHarness(t)

	revBefore, err := h.engine.Quote("amp-pool", "Y", "X", big.NewInt(100))
	if err != nil {
		t.Fatalf("reverse quote before: %v", err)
	}
	h.initiate(t)
	revAfter, err := h.engine.Quote("amp-pool", "Y", "X", big.NewInt(100))
	if err != nil {
		t.Fatalf("reverse quote after: %v", err)
	}
	if revAfter.Cmp(revBefore) < 0 {
		t.Fatalf("reverse quote got worse: before=%s after=%s", revBefore, revAfter)
	}
}

func TestTimeoutRestoresExactly(t *testing.T) {
	// Timeout reinstates the pre-initiation balance and quotes exactly.
	h := newHarness(t)

	quoteBefore, err := h.engine.Quote("amp-pool", "X", "Y", big.NewInt(100))
	if err != nil {
		t.Fatalf("quote before: %v", err)
	}

	receipt := h.initiate(t)
	if err := h.engine.Timeout(context.Background(), "amp-pool", receipt.Key); err != nil {
		t.Fatalf("Timeout: %v", err)
	}

	if got := h.balance(t, "Y"); got.Int64() != 1000 {
		t.Fatalf("balance Y = %s, want exactly 1000", got)
	}
	quoteAfter, err := h.engine.Quote("amp-pool", "X", "Y", big.NewInt(100))
	if err != nil {
		t.Fatalf("quote after timeout: %v", err)
	}
	if quoteAfter.Cmp(quoteBefore) != 0 {
		t.Fatalf("quote not restored: before=%s after=%s", quoteBefore, quoteAfter)
	}

	// The user's original input funds are refunded through custody.
	if len(h.custody.transfers) != 1 {
		t.Fatalf("custody transfers = %d, want 1", len(h.custody.transfers))
	}
	tr := h.custody.transfers[0]
	if tr.Asset != "X" || tr.Amount != "100" || tr.To != "berg" {
		t.Fatalf("refund mismatch: %+v", tr)
	}
}

func TestAcknowledgeIsPermanent(t *testing.T) {
	// Ack finalizes; a late timeout fails and changes nothing.
	h := newHarness(t)

	receipt := h.initiate(t)
	escrowedY := h.balance(t, "Y")

	if err := h.engine.Acknowledge(context.Background(), "amp-pool", receipt.Key); err != nil {
		t.Fatalf("Acknowledge: %v", err)
	}
	if got := h.balance(t, "Y"); got.Cmp(escrowedY) != 0 {
		t.Fatalf("ack mutated balance: %s != %s", got, escrowedY)
	}

	err := h.engine.Timeout(context.Background(), "amp-pool", receipt.Key)
	if !errors.Is(err, escrow.ErrUnknownOrResolved) {
		t.Fatalf("late timeout: got %v", err)
	}
	if got := h.balance(t, "Y"); got.Cmp(escrowedY) != 0 {
		t.Fatalf("failed timeout mutated balance: %s != %s", got, escrowedY)
	}
	if len(h.custody.transfers) != 0 {
		t.Fatalf("failed timeout triggered a refund: %+v", h.custody.transfers)
	}
}

func TestResolutionExactlyOnce(t *testing.T) {
	// After a timeout, both further resolution attempts fail cleanly.
	h := newHarness(t)
	receipt := h.initiate(t)

	if err := h.engine.Timeout(context.Background(), "amp-pool", receipt.Key); err != nil {
		t.Fatalf("first timeout: %v", err)
	}
	if err := h.engine.Timeout(context.Background(), "amp-pool", receipt.Key); !errors.Is(err, escrow.ErrUnknownOrResolved) {
		t.Fatalf("second timeout: got %v", err)
	}
	if err := h.engine.Acknowledge(context.Background(), "amp-pool", receipt.Key); !errors.Is(err, escrow.ErrUnknownOrResolved) {
		t.Fatalf("ack after timeout: got %v", err)
	}
	if got := h.balance(t, "Y"); got.Int64() != 1000 {
		t.Fatalf("redundant resolutions mutated balance: %s", got)
	}
	if len(h.custody.transfers) != 1 {
		t.Fatalf("refund applied %d times, want once", len(h.custody.transfers))
	}
}

func TestConservation(t *testing.T) {
	// Over initiate + exactly one resolution, pool plus beneficiary holdings
	// balance out on both paths.
	for _, path := range []string{"ack", "timeout"} {
		h := newHarness(t)
		receipt := h.initiate(t)

		var err error
		if path == "ack" {
			err = h.engine.Acknowledge(context.Background(), "amp-pool", receipt.Key)
		} else {
			err = h.engine.Timeout(context.Background(), "amp-pool", receipt.Key)
		}
		if err != nil {
			t.Fatalf("%s: %v", path, err)
		}

		poolY := h.balance(t, "Y")
		switch path {
		case "ack":
			// The escrowed amount left toward the remote leg, nothing more.
			want := new(big.Int).Sub(big.NewInt(1000), receipt.Escrowed)
			if poolY.Cmp(want) != 0 {
				t.Fatalf("ack path: pool Y = %s, want %s", poolY, want)
			}
			if len(h.custody.transfers) != 0 {
				t.Fatalf("ack path: unexpected refund %+v", h.custody.transfers)
			}
		case "timeout":
			if poolY.Int64() != 1000 {
				t.Fatalf("timeout path: pool Y = %s, want 1000", poolY)
			}
			if len(h.custody.transfers) != 1 || h.custody.transfers[0].Amount != "100" {
				t.Fatalf("timeout path: refund %+v, want the full 100 input", h.custody.transfers)
			}
		}
	}
}

func TestSlippageLeavesNoResidualState(t *testing.T) {
	h := newHarness(t)

	quote, err := h.engine.Quote("amp-pool", "X", "Y", big.NewInt(100))
	if err != nil {
		t.Fatalf("Quote: %v", err)
	}
	minOut := new(big.Int).Add(quote, big.NewInt(1))

	_, err = h.engine.Initiate(context.Background(), "amp-pool", SwapRequest{
		Channel:     "channel-0",
		AssetIn:     "X",
		AssetOut:    "Y",
		AmountIn:    big.NewInt(100),
		MinOut:      minOut,
		Beneficiary: "berg",
	})
	if !errors.Is(err, ErrSlippage) {
		t.Fatalf("expected slippage error, got %v", err)
	}

	if got := h.balance(t, "Y"); got.Int64() != 1000 {
		t.Fatalf("failed initiate mutated balance: %s", got)
	}
	if len(h.sink.packets) != 0 {
		t.Fatalf("failed initiate emitted packets: %d", len(h.sink.packets))
	}
	// The next successful initiate starts at sequence 1.
	receipt := h.initiate(t)
	if receipt.Key.Sequence != 1 {
		t.Fatalf("sequence = %d after failed initiate, want 1", receipt.Key.Sequence)
	}
}

func TestInitiateValidation(t *testing.T) {
	h := newHarness(t)
	cases := []SwapRequest{
		{AssetIn: "X", AssetOut: "Y", AmountIn: big.NewInt(1), Beneficiary: "b"},                          // no channel
		{Channel: "c", AssetIn: "X", AssetOut: "X", AmountIn: big.NewInt(1), Beneficiary: "b"},           // same asset
		{Channel: "c", AssetIn: "X", AssetOut: "Y", AmountIn: big.NewInt(0), Beneficiary: "b"},           // zero amount
		{Channel: "c", AssetIn: "X", AssetOut: "Y", AmountIn: big.NewInt(1)},                             // no beneficiary
		{Channel: "c", AssetIn: "X", AssetOut: "Y", AmountIn: big.NewInt(1), MinOut: big.NewInt(-1), Beneficiary: "b"}, // negative bound
	}
	for i, req := range cases {
		if _, err := h.engine.Initiate(context.Background(), "amp-pool", req); !errors.Is(err, ErrInvalidRequest) {
			t.Fatalf("case %d: got %v", i, err)
		}
	}
	if got := h.balance(t, "Y"); got.Int64() != 1000 {
		t.Fatalf("validation failures mutated balance: %s", got)
	}
}

func TestUnknownPool(t *testing.T) {
	h := newHarness(t)
	if _, err := h.engine.Initiate(context.Background(), "nope", SwapRequest{
		Channel: "c", AssetIn: "X", AssetOut: "Y", AmountIn: big.NewInt(1), Beneficiary: "b",
	}); !errors.Is(err, ErrUnknownPool) {
		t.Fatalf("got %v", err)
	}
	key := model.EscrowKey{Channel: "c", Sequence: 1}
	if err := h.engine.Acknowledge(context.Background(), "nope", key); !errors.Is(err, ErrUnknownPool) {
		t.Fatalf("got %v", err)
	}
}

func TestStoreFailureRollsBackInitiate(t *testing.T) {
	h := newHarness(t)
	h.store.failInitiation = true

	_, err := h.engine.Initiate(context.Background(), "amp-pool", SwapRequest{
		Channel: "channel-0", AssetIn: "X", AssetOut: "Y", AmountIn: big.NewInt(100), Beneficiary: "berg",
	})
	if err == nil {
		t.Fatalf("expected persistence error")
	}
	if got := h.balance(t, "Y"); got.Int64() != 1000 {
		t.Fatalf("failed persist left residual balance: %s", got)
	}
	pending, _ := h.engine.PendingEscrows("amp-pool")
	if len(pending) != 0 {
		t.Fatalf("failed persist left pending escrow: %+v", pending)
	}

	h.store.failInitiation = false
	receipt := h.initiate(t)
	if receipt.Key.Sequence != 1 {
		t.Fatalf("sequence = %d, want 1", receipt.Key.Sequence)
	}
}

func TestStoreFailureRollsBackResolution(t *testing.T) {
	h := newHarness(t)
	receipt := h.initiate(t)

	h.store.failResolution = true
	if err := h.engine.Acknowledge(context.Background(), "amp-pool", receipt.Key); err == nil {
		t.Fatalf("expected persistence error")
	}
	pending, _ := h.engine.PendingEscrows("amp-pool")
	if len(pending) != 1 {
		t.Fatalf("entry lost on failed persist: %+v", pending)
	}

	h.store.failResolution = false
	if err := h.engine.Acknowledge(context.Background(), "amp-pool", receipt.Key); err != nil {
		t.Fatalf("retry after store recovery: %v", err)
	}
}

func TestRestoreSurvivesRestart(t *testing.T) {
	h := newHarness(t)
	receipt := h.initiate(t)

	pools, escrows := h.store.state()
	restored := NewEngine(newMemStore(), nil, h.custody, nil)
	if err := restored.Restore(pools, escrows); err != nil {
		t.Fatalf("Restore: %v", err)
	}

	// The pending escrow survived: a timeout after restart still refunds
	// and restores the balance exactly.
	if err := restored.Timeout(context.Background(), "amp-pool", receipt.Key); err != nil {
		t.Fatalf("Timeout after restart: %v", err)
	}
	rec, err := restored.PoolRecord("amp-pool")
	if err != nil {
		t.Fatalf("PoolRecord: %v", err)
	}
	if rec.Balances["Y"] != "1000" {
		t.Fatalf("balance Y = %s, want 1000", rec.Balances["Y"])
	}

	// Sequences restart monotonically: the next key never repeats.
	receipt2, err := restored.Initiate(context.Background(), "amp-pool", SwapRequest{
		Channel: "channel-0", AssetIn: "X", AssetOut: "Y", AmountIn: big.NewInt(50), Beneficiary: "berg",
	})
	if err != nil {
		t.Fatalf("Initiate after restart: %v", err)
	}
	if receipt2.Key.Sequence != 2 {
		t.Fatalf("sequence after restart = %d, want 2", receipt2.Key.Sequence)
	}
}

func TestSequencesPerChannel(t *testing.T) {
	h := newHarness(t)
	a := h.initiate(t)
	b, err := h.engine.Initiate(context.Background(), "amp-pool", SwapRequest{
		Channel: "channel-1", AssetIn: "X", AssetOut: "Y", AmountIn: big.NewInt(10), Beneficiary: "berg",
	})
	if err != nil {
		t.Fatalf("Initiate: %v", err)
	}
	if a.Key.Sequence != 1 || b.Key.Sequence != 1 {
		t.Fatalf("sequences not scoped per channel: %s %s", a.Key, b.Key)
	}
	c, err := h.engine.Initiate(context.Background(), "amp-pool", SwapRequest{
		Channel: "channel-0", AssetIn: "X", AssetOut: "Y", AmountIn: big.NewInt(10), Beneficiary: "berg",
	})
	if err != nil {
		t.Fatalf("Initiate: %v", err)
	}
	if c.Key.Sequence != 2 {
		t.Fatalf("sequence = %d, want 2", c.Key.Sequence)
	}
}
