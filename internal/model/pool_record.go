package model

// PoolRecord is the persisted representation of a pool: authoritative
// balances, curve parameter, and the next outbound sequence per channel.
// Balances are decimal strings in the asset's smallest indivisible unit.
type PoolRecord struct {
	ID            string            `json:"id"`
	Amplification uint64            `json:"amplification"`
	Balances      map[string]string `json:"balances"`
	Sequences     map[string]uint64 `json:"sequences,omitempty"`
	UpdatedAt     string            `json:"updated_at,omitempty"`
}
