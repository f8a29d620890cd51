package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/kilianp07/griddispatch/core/model"
)

// SQLiteBackend persists dispatches in a SQLite database: one row per
// record with the full JSON envelope, plus a sequences table holding
// the per-microgrid id high-water marks.
type SQLiteBackend struct {
	db *sql.DB
}

// NewSQLiteBackend opens (and creates if needed) the database at path
// and ensures the schema exists.
func NewSQLiteBackend(ctx context.Context, path string) (*SQLiteBackend, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is empty")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := db.ExecContext(pctx, "PRAGMA busy_timeout = 5000;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy_timeout: %w", err)
	}
	schema := []string{
		`CREATE TABLE IF NOT EXISTS dispatches (
  microgrid_id INTEGER NOT NULL,
  id           INTEGER NOT NULL,
  record       TEXT NOT NULL,
  update_time  TEXT NOT NULL,
  PRIMARY KEY (microgrid_id, id)
);`,
		`CREATE TABLE IF NOT EXISTS sequences (
  microgrid_id INTEGER PRIMARY KEY,
  next_id      INTEGER NOT NULL
);`,
	}
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("ensure schema: %w", err)
		}
	}
	return &SQLiteBackend{db: db}, nil
}

// Load reads every record and the persisted id sequences.
func (b *SQLiteBackend) Load(ctx context.Context) ([]model.Dispatch, map[model.MicrogridID]uint64, error) {
	rows, err := b.db.QueryContext(ctx, `SELECT record FROM dispatches`)
	if err != nil {
		return nil, nil, fmt.Errorf("load dispatches: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var records []model.Dispatch
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, nil, fmt.Errorf("scan dispatch: %w", err)
		}
		var d model.Dispatch
		if err := json.Unmarshal([]byte(raw), &d); err != nil {
			return nil, nil, fmt.Errorf("decode dispatch: %w", err)
		}
		records = append(records, d)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("load dispatches: %w", err)
	}

	seqRows, err := b.db.QueryContext(ctx, `SELECT microgrid_id, next_id FROM sequences`)
	if err != nil {
		return nil, nil, fmt.Errorf("load sequences: %w", err)
	}
	defer func() { _ = seqRows.Close() }()
	seqs := make(map[model.MicrogridID]uint64)
	for seqRows.Next() {
		var mg, next int64
		if err := seqRows.Scan(&mg, &next); err != nil {
			return nil, nil, fmt.Errorf("scan sequence: %w", err)
		}
		seqs[model.MicrogridID(mg)] = uint64(next)
	}
	if err := seqRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("load sequences: %w", err)
	}
	return records, seqs, nil
}

// Put inserts or replaces one record.
func (b *SQLiteBackend) Put(ctx context.Context, d model.Dispatch) error {
	raw, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("encode dispatch: %w", err)
	}
	_, err = b.db.ExecContext(ctx,
		`INSERT INTO dispatches (microgrid_id, id, record, update_time) VALUES (?, ?, ?, ?)
         ON CONFLICT(microgrid_id, id) DO UPDATE SET record = excluded.record, update_time = excluded.update_time`,
		int64(d.MicrogridID), int64(d.ID), string(raw), d.UpdateTime.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("put dispatch: %w", err)
	}
	return nil
}

// Remove deletes one record.
func (b *SQLiteBackend) Remove(ctx context.Context, mg model.MicrogridID, id model.DispatchID) error {
	if _, err := b.db.ExecContext(ctx,
		`DELETE FROM dispatches WHERE microgrid_id = ? AND id = ?`,
		int64(mg), int64(id)); err != nil {
		return fmt.Errorf("remove dispatch: %w", err)
	}
	return nil
}

// PutSequence records the id high-water mark for one microgrid.
func (b *SQLiteBackend) PutSequence(ctx context.Context, mg model.MicrogridID, seq uint64) error {
	if _, err := b.db.ExecContext(ctx,
		`INSERT INTO sequences (microgrid_id, next_id) VALUES (?, ?)
         ON CONFLICT(microgrid_id) DO UPDATE SET next_id = excluded.next_id`,
		int64(mg), int64(seq)); err != nil {
		return fmt.Errorf("put sequence: %w", err)
	}
	return nil
}

// Close closes the database.
func (b *SQLiteBackend) Close() error { return b.db.Close() }
