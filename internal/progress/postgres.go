package progress

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlUserProgress = `
CREATE TABLE IF NOT EXISTS user_progress (
    user_id     TEXT         PRIMARY KEY,
    progress    INT          NOT NULL DEFAULT -1,
    updated_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
);
`

// PostgresStore is a [Store] backed by a user_progress table.
// All methods are safe for concurrent use.
type PostgresStore struct {
	pool *pgxpool.Pool
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a store, establishes a connection pool to the
// database at dsn, and ensures the user_progress table exists.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("progress store: parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("progress store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("progress store: ping: %w", err)
	}

	if _, err := pool.Exec(ctx, ddlUserProgress); err != nil {
		pool.Close()
		return nil, fmt.Errorf("progress store: migrate: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

// Get implements [Store].
func (s *PostgresStore) Get(ctx context.Context, userID string) (int, error) {
	const q = `SELECT progress FROM user_progress WHERE user_id = $1`

	var progress int
	err := s.pool.QueryRow(ctx, q, userID).Scan(&progress)
	if errors.Is(err, pgx.ErrNoRows) {
		return Unseen, nil
	}
	if err != nil {
		return Unseen, fmt.Errorf("progress store: get: %w", err)
	}
	return progress, nil
}

// Track implements [Store]. A user with no record lands on 0.
func (s *PostgresStore) Track(ctx context.Context, userID string) (int, error) {
	const q = `
		INSERT INTO user_progress (user_id, progress)
		VALUES ($1, 0)
		ON CONFLICT (user_id) DO UPDATE
		    SET progress = user_progress.progress + 1, updated_at = now()
		RETURNING progress`

	var progress int
	if err := s.pool.QueryRow(ctx, q, userID).Scan(&progress); err != nil {
		return Unseen, fmt.Errorf("progress store: track: %w", err)
	}
	return progress, nil
}

// Set implements [Store].
func (s *PostgresStore) Set(ctx context.Context, userID string, progress int) error {
	const q = `
		INSERT INTO user_progress (user_id, progress)
		VALUES ($1, $2)
		ON CONFLICT (user_id) DO UPDATE
		    SET progress = EXCLUDED.progress, updated_at = now()`

	if _, err := s.pool.Exec(ctx, q, userID, progress); err != nil {
		return fmt.Errorf("progress store: set: %w", err)
	}
	return nil
}

// Ping probes the database connection. Used by readiness checks.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases all connections held by the underlying pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}
