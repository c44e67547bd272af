package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlAnalyses = `
CREATE TABLE IF NOT EXISTS analyses (
    digest      TEXT         NOT NULL,
    language    TEXT         NOT NULL,
    analysis    JSONB        NOT NULL,
    created_at  TIMESTAMPTZ  NOT NULL DEFAULT now(),
    accessed_at TIMESTAMPTZ  NOT NULL DEFAULT now(),
    PRIMARY KEY (digest, language)
);

CREATE INDEX IF NOT EXISTS idx_analyses_accessed_at
    ON analyses (accessed_at);
`

// Migrate creates the cache table and its index if they do not exist. It is
// idempotent and safe to call on every application start.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, ddlAnalyses); err != nil {
		return fmt.Errorf("postgres migrate: %w", err)
	}
	return nil
}
