// Package postgresstore is the postgres-backed snapshot.Store for
// deployments sharing frequency data across processes (spec §4.8): the
// Resolver's plan stays per-process, only the seed data is shared, honoring
// the distributed-coordination Non-goal.
package postgresstore

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"symcache/internal/snapshot"
)

const defaultDSN = "postgres://localhost/symcache?sslmode=disable"

// Store persists snapshot records to a postgres table, one row per symbol
// name, upserted on Save.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore connects to dsn (falling back to defaultDSN) and ensures the
// symcache_stats table exists.
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		dsn = defaultDSN
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgresstore: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgresstore: ping: %w", err)
	}
	if _, err := pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS symcache_stats (
		name TEXT PRIMARY KEY,
		hits BIGINT NOT NULL,
		misses BIGINT NOT NULL,
		total_time_ns BIGINT NOT NULL,
		frequency DOUBLE PRECISION NOT NULL
	)`); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgresstore: create table: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Close releases the connection pool.
func (s *Store) Close() { s.pool.Close() }

// Load reads every persisted record.
func (s *Store) Load(ctx context.Context) ([]snapshot.SnapshotRecord, error) {
	rows, err := s.pool.Query(ctx, `SELECT name, hits, misses, total_time_ns, frequency FROM symcache_stats`)
	if err != nil {
		return nil, fmt.Errorf("postgresstore: select: %w", err)
	}
	defer rows.Close()

	var records []snapshot.SnapshotRecord
	for rows.Next() {
		var rec snapshot.SnapshotRecord
		if err := rows.Scan(&rec.Name, &rec.Hits, &rec.Misses, &rec.TotalTimeNs, &rec.Frequency); err != nil {
			return nil, fmt.Errorf("postgresstore: scan: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Save upserts every record within a single transaction.
func (s *Store) Save(ctx context.Context, records []snapshot.SnapshotRecord) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgresstore: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, rec := range records {
		if _, err := tx.Exec(ctx, `INSERT INTO symcache_stats (name, hits, misses, total_time_ns, frequency)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (name) DO UPDATE SET hits=excluded.hits, misses=excluded.misses,
				total_time_ns=excluded.total_time_ns, frequency=excluded.frequency`,
			rec.Name, rec.Hits, rec.Misses, rec.TotalTimeNs, rec.Frequency); err != nil {
			return fmt.Errorf("postgresstore: upsert %q: %w", rec.Name, err)
		}
	}
	return tx.Commit(ctx)
}
