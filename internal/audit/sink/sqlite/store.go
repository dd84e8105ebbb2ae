// Package sqlite persists audit chains to a local SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"actiongate/internal/audit"
)

// Store is an audit.Sink and a chain reader backed by one SQLite database.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite audit store: %w", err)
	}
	// SQLite serializes writers; one connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	s := &Store{db: db}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
	CREATE TABLE IF NOT EXISTS audit_records (
		chain_id   TEXT    NOT NULL,
		sequence   INTEGER NOT NULL,
		timestamp  TEXT    NOT NULL,
		event_type TEXT    NOT NULL,
		data       TEXT    NOT NULL,
		prev_hash  TEXT    NOT NULL,
		hash       TEXT    NOT NULL,
		PRIMARY KEY (chain_id, sequence)
	);`)
	if err != nil {
		return fmt.Errorf("migrate sqlite audit store: %w", err)
	}
	return nil
}

func (s *Store) Name() string { return "sqlite" }

// Write inserts the batch in one transaction. Already-stored sequences are
// ignored so retried batches do not fail.
func (s *Store) Write(ctx context.Context, records []audit.Record) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin audit batch: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `INSERT OR IGNORE INTO audit_records
		(chain_id, sequence, timestamp, event_type, data, prev_hash, hash)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare audit insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, r := range records {
		if _, err := stmt.ExecContext(ctx,
			r.ChainID, r.Sequence, r.Timestamp.UTC().Format(time.RFC3339Nano),
			string(r.Type), string(r.Data), r.PrevHash, r.Hash,
		); err != nil {
			return fmt.Errorf("insert audit record %d: %w", r.Sequence, err)
		}
	}
	return tx.Commit()
}

// ReadChains returns every stored chain keyed by chain ID, in sequence order.
func (s *Store) ReadChains(ctx context.Context) (map[string][]audit.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT chain_id, sequence, timestamp, event_type, data, prev_hash, hash
		FROM audit_records
		ORDER BY chain_id, sequence`)
	if err != nil {
		return nil, fmt.Errorf("query audit records: %w", err)
	}
	defer func() { _ = rows.Close() }()

	chains := make(map[string][]audit.Record)
	for rows.Next() {
		var (
			r       audit.Record
			ts      string
			evType  string
			payload string
		)
		if err := rows.Scan(&r.ChainID, &r.Sequence, &ts, &evType, &payload, &r.PrevHash, &r.Hash); err != nil {
			return nil, fmt.Errorf("scan audit record: %w", err)
		}
		r.Timestamp, err = time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, fmt.Errorf("parse audit timestamp: %w", err)
		}
		r.Type = audit.EventType(evType)
		r.Data = []byte(payload)
		chains[r.ChainID] = append(chains[r.ChainID], r)
	}
	return chains, rows.Err()
}

func (s *Store) Close() error { return s.db.Close() }
