package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Connect opens a pgx connection pool using the provided DSN.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	cfg.MaxConns = 8
	cfg.MaxConnIdleTime = 5 * time.Minute
	return pgxpool.NewWithConfig(ctx, cfg)
}

// EnsureSchema creates the jobs, quotas, and search_documents tables if
// needed. Having the migration in code keeps the stack self-contained so
// docker-compose can bootstrap everything.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	const stmt = `
CREATE TABLE IF NOT EXISTS jobs (
	id TEXT PRIMARY KEY,
	tenant TEXT NOT NULL,
	source_ref TEXT NOT NULL,
	title TEXT NOT NULL DEFAULT '',
	uploader TEXT NOT NULL DEFAULT '',
	duration_seconds INT NOT NULL DEFAULT 0,
	status TEXT NOT NULL,
	step_log JSONB NOT NULL DEFAULT '[]',
	retry_count INT NOT NULL DEFAULT 0,
	max_retries INT NOT NULL DEFAULT 0,
	error_message TEXT,
	audio_key TEXT,
	transcript_key TEXT,
	indexed_doc_id TEXT,
	url_expires_at TIMESTAMPTZ,
	started_at TIMESTAMPTZ,
	completed_at TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
CREATE INDEX IF NOT EXISTS idx_jobs_tenant ON jobs(tenant);
CREATE TABLE IF NOT EXISTS quotas (
	tenant TEXT PRIMARY KEY,
	daily_limit INT NOT NULL,
	monthly_limit INT NOT NULL,
	max_duration_seconds INT NOT NULL,
	used_today INT NOT NULL DEFAULT 0,
	used_this_month INT NOT NULL DEFAULT 0,
	last_daily_reset TIMESTAMPTZ NOT NULL,
	last_monthly_reset TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS search_documents (
	id TEXT PRIMARY KEY,
	tenant TEXT NOT NULL,
	title TEXT NOT NULL,
	body TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_search_documents_tenant ON search_documents(tenant);`
	_, err := pool.Exec(ctx, stmt)
	if err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}
