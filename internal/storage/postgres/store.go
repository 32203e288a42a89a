package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sengulatik66/catalyst/internal/model"
	"github.com/sengulatik66/catalyst/internal/storage"
)

// Store provides Postgres persistence for pool and escrow state. Initiation
// and resolution writes run inside one transaction so the pool snapshot and
// the escrow row can never diverge.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// EnsureSchema creates the tables when they do not exist yet.
func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS pools (
			id            TEXT PRIMARY KEY,
			amplification BIGINT NOT NULL,
			balances      JSONB NOT NULL,
			sequences     JSONB NOT NULL,
			updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
		);
		CREATE TABLE IF NOT EXISTS escrows (
			pool_id     TEXT NOT NULL,
			channel     TEXT NOT NULL,
			sequence    BIGINT NOT NULL,
			asset_in    TEXT NOT NULL,
			amount_in   TEXT NOT NULL,
			asset_out   TEXT NOT NULL,
			escrowed    TEXT NOT NULL,
			beneficiary TEXT NOT NULL,
			created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (pool_id, channel, sequence)
		);
	`)
	return err
}

// SavePool upserts one pool snapshot.
func (s *Store) SavePool(ctx context.Context, p model.PoolRecord) error {
	return s.upsertPool(ctx, s.pool, p)
}

// SaveInitiation stores the escrow-adjusted pool snapshot and the new
// escrow row atomically.
func (s *Store) SaveInitiation(ctx context.Context, p model.PoolRecord, e model.EscrowRecord) error {
	return s.withTx(ctx, func(tx pgx.Tx) error {
		if err := s.upsertPool(ctx, tx, p); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO escrows (
				pool_id, channel, sequence, asset_in, amount_in, asset_out, escrowed, beneficiary, created_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())
		`,
			e.PoolID,
			e.Key.Channel,
			int64(e.Key.Sequence),
			e.AssetIn,
			e.AmountIn,
			e.AssetOut,
			e.Escrowed,
			e.Beneficiary,
		)
		return err
	})
}

// SaveResolution stores the pool snapshot and retires the escrow row
// atomically.
func (s *Store) SaveResolution(ctx context.Context, p model.PoolRecord, key model.EscrowKey) error {
	return s.withTx(ctx, func(tx pgx.Tx) error {
		if err := s.upsertPool(ctx, tx, p); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `
			DELETE FROM escrows WHERE pool_id = $1 AND channel = $2 AND sequence = $3
		`, p.ID, key.Channel, int64(key.Sequence))
		return err
	})
}

// LoadState reads every pool and pending escrow.
func (s *Store) LoadState(ctx context.Context) (storage.State, error) {
	var st storage.State

	rows, err := s.pool.Query(ctx, `SELECT id, amplification, balances::text, sequences::text FROM pools ORDER BY id`)
	if err != nil {
		return storage.State{}, fmt.Errorf("load pools: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			rec       model.PoolRecord
			amp       int64
			balances  string
			sequences string
		)
		if err := rows.Scan(&rec.ID, &amp, &balances, &sequences); err != nil {
			return storage.State{}, fmt.Errorf("scan pool: %w", err)
		}
		rec.Amplification = uint64(amp)
		if err := json.Unmarshal([]byte(balances), &rec.Balances); err != nil {
			return storage.State{}, fmt.Errorf("pool %s balances: %w", rec.ID, err)
		}
		if err := json.Unmarshal([]byte(sequences), &rec.Sequences); err != nil {
			return storage.State{}, fmt.Errorf("pool %s sequences: %w", rec.ID, err)
		}
		st.Pools = append(st.Pools, rec)
	}
	if err := rows.Err(); err != nil {
		return storage.State{}, fmt.Errorf("load pools: %w", err)
	}

	erows, err := s.pool.Query(ctx, `
		SELECT pool_id, channel, sequence, asset_in, amount_in, asset_out, escrowed, beneficiary
		FROM escrows ORDER BY pool_id, channel, sequence
	`)
	if err != nil {
		return storage.State{}, fmt.Errorf("load escrows: %w", err)
	}
	defer erows.Close()
	for erows.Next() {
		var (
			rec model.EscrowRecord
			seq int64
		)
		if err := erows.Scan(&rec.PoolID, &rec.Key.Channel, &seq, &rec.AssetIn, &rec.AmountIn, &rec.AssetOut, &rec.Escrowed, &rec.Beneficiary); err != nil {
			return storage.State{}, fmt.Errorf("scan escrow: %w", err)
		}
		rec.Key.Sequence = uint64(seq)
		st.Escrows = append(st.Escrows, rec)
	}
	if err := erows.Err(); err != nil {
		return storage.State{}, fmt.Errorf("load escrows: %w", err)
	}

	return st, nil
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func (s *Store) upsertPool(ctx context.Context, q execer, p model.PoolRecord) error {
	balances, err := json.Marshal(p.Balances)
	if err != nil {
		return fmt.Errorf("marshal balances: %w", err)
	}
	sequences := p.Sequences
	if sequences == nil {
		sequences = map[string]uint64{}
	}
	seqJSON, err := json.Marshal(sequences)
	if err != nil {
		return fmt.Errorf("marshal sequences: %w", err)
	}
	_, err = q.Exec(ctx, `
		INSERT INTO pools (id, amplification, balances, sequences, updated_at)
		VALUES ($1, $2, $3::jsonb, $4::jsonb, now())
		ON CONFLICT (id) DO UPDATE SET
			amplification = EXCLUDED.amplification,
			balances = EXCLUDED.balances,
			sequences = EXCLUDED.sequences,
			updated_at = now()
	`, p.ID, int64(p.Amplification), string(balances), string(seqJSON))
	return err
}

func (s *Store) withTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}
