// Package postgres provides a PostgreSQL-backed analysis cache.
//
// Analyses are stored as JSONB keyed by (audio digest, target language).
//
// Usage:
//
//	s, err := postgres.NewStore(ctx, dsn)
//	if err != nil { … }
//	defer s.Close()
//
//	_ = s.Put(ctx, store.NewKey(digest, "english"), analysis)
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/sinfonia/internal/store"
	"github.com/MrWong99/sinfonia/pkg/lyrics"
)

var _ store.Store = (*Store)(nil)

// Store is a [store.Store] backed by a [pgxpool.Pool]. It is safe for
// concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore connects to the database at dsn, verifies the connection and runs
// [Migrate].
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}

	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: migrate: %w", err)
	}

	return &Store{pool: pool}, nil
}

// Get implements [store.Store]. A hit refreshes the entry's access time.
func (s *Store) Get(ctx context.Context, key store.Key) (*lyrics.Analysis, error) {
	const q = `
UPDATE analyses SET accessed_at = now()
WHERE digest = $1 AND language = $2
RETURNING analysis`

	var raw []byte
	err := s.pool.QueryRow(ctx, q, key.Digest, key.Language).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres store: get %s: %w", key, err)
	}

	var a lyrics.Analysis
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, fmt.Errorf("postgres store: decode %s: %w", key, err)
	}
	return &a, nil
}

// Put implements [store.Store].
func (s *Store) Put(ctx context.Context, key store.Key, a *lyrics.Analysis) error {
	raw, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("postgres store: encode %s: %w", key, err)
	}

	const q = `
INSERT INTO analyses (digest, language, analysis)
VALUES ($1, $2, $3)
ON CONFLICT (digest, language) DO UPDATE
SET analysis = EXCLUDED.analysis, created_at = now(), accessed_at = now()`

	if _, err := s.pool.Exec(ctx, q, key.Digest, key.Language, raw); err != nil {
		return fmt.Errorf("postgres store: put %s: %w", key, err)
	}
	return nil
}

// Delete implements [store.Store].
func (s *Store) Delete(ctx context.Context, key store.Key) error {
	const q = `DELETE FROM analyses WHERE digest = $1 AND language = $2`
	if _, err := s.pool.Exec(ctx, q, key.Digest, key.Language); err != nil {
		return fmt.Errorf("postgres store: delete %s: %w", key, err)
	}
	return nil
}

// Prune removes entries not read for longer than maxIdle and returns how
// many were removed.
func (s *Store) Prune(ctx context.Context, maxIdle time.Duration) (int64, error) {
	const q = `DELETE FROM analyses WHERE accessed_at < $1`
	tag, err := s.pool.Exec(ctx, q, time.Now().Add(-maxIdle))
	if err != nil {
		return 0, fmt.Errorf("postgres store: prune: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Ping implements [store.Store].
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases all pooled connections.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}
