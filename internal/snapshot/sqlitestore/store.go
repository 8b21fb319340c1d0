// Package sqlitestore is the sqlite-backed snapshot.Store, grounded on the
// teacher's internal/infra/persistence/sqlite store: a pure-Go driver, one
// table, upserted on every Save.
package sqlitestore

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"symcache/internal/snapshot"

	_ "modernc.org/sqlite" // pure go sqlite driver
)

// Store persists snapshot records to a single sqlite table, one row per
// symbol name, upserted on Save.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// NewStore opens (creating if necessary) the sqlite file at path and ensures
// the symcache_stats table exists.
func NewStore(path string) (*Store, error) {
	if path == "" {
		path = "symcache.db"
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("sqlitestore: mkdir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: open: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS symcache_stats (
		name TEXT PRIMARY KEY,
		hits INTEGER NOT NULL,
		misses INTEGER NOT NULL,
		total_time_ns INTEGER NOT NULL,
		frequency REAL NOT NULL
	)`); err != nil {
		return nil, fmt.Errorf("sqlitestore: create table: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

// Load reads every persisted record.
func (s *Store) Load(ctx context.Context) ([]snapshot.SnapshotRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name, hits, misses, total_time_ns, frequency FROM symcache_stats`)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: select: %w", err)
	}
	defer rows.Close()

	var records []snapshot.SnapshotRecord
	for rows.Next() {
		var rec snapshot.SnapshotRecord
		if err := rows.Scan(&rec.Name, &rec.Hits, &rec.Misses, &rec.TotalTimeNs, &rec.Frequency); err != nil {
			return nil, fmt.Errorf("sqlitestore: scan: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Save upserts every record within a single transaction.
func (s *Store) Save(ctx context.Context, records []snapshot.SnapshotRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlitestore: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO symcache_stats (name, hits, misses, total_time_ns, frequency)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET hits=excluded.hits, misses=excluded.misses,
			total_time_ns=excluded.total_time_ns, frequency=excluded.frequency`)
	if err != nil {
		return fmt.Errorf("sqlitestore: prepare: %w", err)
	}
	defer stmt.Close()

	for _, rec := range records {
		if _, err := stmt.ExecContext(ctx, rec.Name, rec.Hits, rec.Misses, rec.TotalTimeNs, rec.Frequency); err != nil {
			return fmt.Errorf("sqlitestore: upsert %q: %w", rec.Name, err)
		}
	}
	return tx.Commit()
}
