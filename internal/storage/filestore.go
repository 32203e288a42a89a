package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/sengulatik66/catalyst/internal/model"
)

// FileStore keeps the full engine state in a single JSON snapshot file,
// rewritten atomically (tmp file + rename) on every change. Suitable for a
// single-node deployment; use the postgres store otherwise.
type FileStore struct {
	path string

	mu      sync.Mutex
	loaded  bool
	pools   map[string]model.PoolRecord
	escrows map[string]model.EscrowRecord
}

type fileSnapshot struct {
	Pools     []model.PoolRecord   `json:"pools"`
	Escrows   []model.EscrowRecord `json:"escrows"`
	UpdatedAt string               `json:"updated_at"`
}

func NewFileStore(path string) *FileStore {
	return &FileStore{
		path:    path,
		pools:   make(map[string]model.PoolRecord),
		escrows: make(map[string]model.EscrowRecord),
	}
}

// Load reads the snapshot from disk. A missing file yields empty state.
func (s *FileStore) Load(_ context.Context) (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoaded(); err != nil {
		return State{}, err
	}
	return s.stateLocked(), nil
}

func (s *FileStore) SavePool(_ context.Context, p model.PoolRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoaded(); err != nil {
		return err
	}
	s.pools[p.ID] = p
	return s.writeLocked()
}

func (s *FileStore) SaveInitiation(_ context.Context, p model.PoolRecord, e model.EscrowRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoaded(); err != nil {
		return err
	}
	s.pools[p.ID] = p
	s.escrows[escrowID(e.PoolID, e.Key)] = e
	return s.writeLocked()
}

func (s *FileStore) SaveResolution(_ context.Context, p model.PoolRecord, key model.EscrowKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoaded(); err != nil {
		return err
	}
	s.pools[p.ID] = p
	delete(s.escrows, escrowID(p.ID, key))
	return s.writeLocked()
}

func (s *FileStore) ensureLoaded() error {
	if s.loaded {
		return nil
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			s.loaded = true
			return nil
		}
		return fmt.Errorf("read state: %w", err)
	}

	var snap fileSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("parse state: %w", err)
	}
	for _, p := range snap.Pools {
		s.pools[p.ID] = p
	}
	for _, e := range snap.Escrows {
		s.escrows[escrowID(e.PoolID, e.Key)] = e
	}
	s.loaded = true
	return nil
}

func (s *FileStore) stateLocked() State {
	st := State{
		Pools:   make([]model.PoolRecord, 0, len(s.pools)),
		Escrows: make([]model.EscrowRecord, 0, len(s.escrows)),
	}
	for _, p := range s.pools {
		st.Pools = append(st.Pools, p)
	}
	for _, e := range s.escrows {
		st.Escrows = append(st.Escrows, e)
	}
	sort.Slice(st.Pools, func(i, j int) bool { return st.Pools[i].ID < st.Pools[j].ID })
	sort.Slice(st.Escrows, func(i, j int) bool {
		return escrowID(st.Escrows[i].PoolID, st.Escrows[i].Key) < escrowID(st.Escrows[j].PoolID, st.Escrows[j].Key)
	})
	return st
}

func (s *FileStore) writeLocked() error {
	dir := filepath.Dir(s.path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create state dir: %w", err)
		}
	}

	st := s.stateLocked()
	snap := fileSnapshot{
		Pools:     st.Pools,
		Escrows:   st.Escrows,
		UpdatedAt: time.Now().UTC().Format(time.RFC3339Nano),
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write state tmp: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("rename state: %w", err)
	}
	return nil
}

func escrowID(poolID string, key model.EscrowKey) string {
	return poolID + "|" + key.String()
}
