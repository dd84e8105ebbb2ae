// Package postgres persists audit chains to PostgreSQL.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"actiongate/internal/audit"
)

const schema = `
CREATE TABLE IF NOT EXISTS audit_records (
	chain_id   TEXT        NOT NULL,
	sequence   BIGINT      NOT NULL,
	ts         TIMESTAMPTZ NOT NULL,
	event_type TEXT        NOT NULL,
	category   TEXT        NOT NULL,
	data       JSONB       NOT NULL,
	raw_data   TEXT        NOT NULL,
	prev_hash  TEXT        NOT NULL,
	hash       TEXT        NOT NULL,
	PRIMARY KEY (chain_id, sequence)
)`

type Store struct {
	pool *pgxpool.Pool
}

// Connect opens a pool for dsn and ensures the schema exists.
func Connect(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect audit postgres: %w", err)
	}
	s := New(pool)
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func New(pool *pgxpool.Pool) *Store { return &Store{pool: pool} }

func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("migrate audit postgres: %w", err)
	}
	return nil
}

func (s *Store) Name() string { return "postgres" }

// Write inserts the batch in one round trip. JSONB normalizes the payload,
// so the exact bytes that were hashed are kept in raw_data.
func (s *Store) Write(ctx context.Context, records []audit.Record) error {
	batch := &pgx.Batch{}
	for _, r := range records {
		batch.Queue(`INSERT INTO audit_records
			(chain_id, sequence, ts, event_type, category, data, raw_data, prev_hash, hash)
			VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7, $8, $9)
			ON CONFLICT (chain_id, sequence) DO NOTHING`,
			r.ChainID, int64(r.Sequence), r.Timestamp, string(r.Type),
			string(r.Type.Category()), string(r.Data), string(r.Data), r.PrevHash, r.Hash)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin audit batch: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert audit batch: %w", err)
	}
	return tx.Commit(ctx)
}

// ReadChains returns every stored chain keyed by chain ID, in sequence order.
func (s *Store) ReadChains(ctx context.Context) (map[string][]audit.Record, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT chain_id, sequence, ts, event_type, raw_data, prev_hash, hash
		FROM audit_records
		ORDER BY chain_id, sequence`)
	if err != nil {
		return nil, fmt.Errorf("query audit records: %w", err)
	}
	defer rows.Close()

	chains := make(map[string][]audit.Record)
	for rows.Next() {
		var (
			r      audit.Record
			seq    int64
			evType string
			raw    string
		)
		if err := rows.Scan(&r.ChainID, &seq, &r.Timestamp, &evType, &raw, &r.PrevHash, &r.Hash); err != nil {
			return nil, fmt.Errorf("scan audit record: %w", err)
		}
		r.Sequence = uint64(seq)
		r.Timestamp = r.Timestamp.UTC()
		r.Type = audit.EventType(evType)
		r.Data = []byte(raw)
		chains[r.ChainID] = append(chains[r.ChainID], r)
	}
	return chains, rows.Err()
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}
