package model

import "fmt"

// EscrowKey identifies an in-flight swap: the relay channel plus a
// monotonically increasing sequence scoped to that channel. Keys are never
// reused for the lifetime of the pool.
type EscrowKey struct {
	Channel  string `json:"channel"`
	Sequence uint64 `json:"sequence"`
}

func (k EscrowKey) String() string {
	return fmt.Sprintf("%s/%d", k.Channel, k.Sequence)
}

// EscrowRecord is the persisted representation of a pending swap. It holds
// everything needed to reverse the swap's balance effect on timeout.
// Amounts are decimal strings in the smallest indivisible unit.
type EscrowRecord struct {
	PoolID      string    `json:"pool_id"`
	Key         EscrowKey `json:"key"`
	AssetIn     string    `json:"asset_in"`
	AmountIn    string    `json:"amount_in"`
	AssetOut    string    `json:"asset_out"`
	Escrowed    string    `json:"escrowed"`
	Beneficiary string    `json:"beneficiary"`
	CreatedAt   string    `json:"created_at,omitempty"`
}
