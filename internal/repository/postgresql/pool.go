package postgresql

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

func NewPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return pool, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS export_jobs (
	id                 UUID PRIMARY KEY,
	owner_id           TEXT NOT NULL,
	template_id        UUID,
	kind               TEXT NOT NULL,
	format             TEXT NOT NULL,
	filters            JSONB,
	options            JSONB,
	status             TEXT NOT NULL DEFAULT 'pending',
	progress           JSONB NOT NULL DEFAULT '{"totalUnits":0,"completedUnits":0,"percentage":0,"stage":"preparing"}',
	attempts           INT NOT NULL DEFAULT 0,
	max_attempts       INT NOT NULL DEFAULT 3,
	backoff_multiplier DOUBLE PRECISION NOT NULL DEFAULT 2,
	last_attempt_at    TIMESTAMPTZ,
	next_retry_at      TIMESTAMPTZ,
	error              JSONB,
	result             JSONB,
	start_time         TIMESTAMPTZ,
	end_time           TIMESTAMPTZ,
	duration_ms        BIGINT NOT NULL DEFAULT 0,
	created_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at         TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS export_jobs_owner_created_idx ON export_jobs (owner_id, created_at DESC);
CREATE INDEX IF NOT EXISTS export_jobs_status_idx ON export_jobs (status);
CREATE INDEX IF NOT EXISTS export_jobs_template_idx ON export_jobs (template_id) WHERE template_id IS NOT NULL;

CREATE TABLE IF NOT EXISTS export_templates (
	id          UUID PRIMARY KEY,
	owner_id    TEXT NOT NULL,
	name        TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	kind        TEXT NOT NULL,
	format      TEXT NOT NULL,
	filters     JSONB,
	options     JSONB,
	schedule    JSONB NOT NULL DEFAULT '{"enabled":false}',
	sharing     JSONB NOT NULL DEFAULT '[]',
	times_used  INT NOT NULL DEFAULT 0,
	last_used   TIMESTAMPTZ,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS export_templates_owner_idx ON export_templates (owner_id);
`

// EnsureSchema creates the tables if they do not exist yet.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}
