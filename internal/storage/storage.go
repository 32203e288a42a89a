// Package storage provides the durable backends for pool and escrow state.
// An in-flight escrow must survive a process restart, so every write applies
// the pool snapshot and the escrow change together.
package storage

import "github.com/sengulatik66/catalyst/internal/model"

// State is everything the settlement engine needs to restore on startup.
type State struct {
	Pools   []model.PoolRecord
	Escrows []model.EscrowRecord
}
