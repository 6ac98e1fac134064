// Package sqlitestore implements the store contract on an embedded SQLite
// database for single-node and development deployments.
package sqlitestore

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Fixed-width fraction keeps string comparison of stored timestamps
// consistent with time ordering (RFC3339Nano trims trailing zeros).
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

const schema = `
CREATE TABLE IF NOT EXISTS export_jobs (
	id                 TEXT PRIMARY KEY,
	owner_id           TEXT NOT NULL,
	template_id        TEXT,
	kind               TEXT NOT NULL,
	format             TEXT NOT NULL,
	filters            TEXT NOT NULL DEFAULT '{}',
	options            TEXT NOT NULL DEFAULT '{}',
	status             TEXT NOT NULL DEFAULT 'pending',
	progress           TEXT NOT NULL DEFAULT '{"totalUnits":0,"completedUnits":0,"percentage":0,"stage":"preparing"}',
	attempts           INTEGER NOT NULL DEFAULT 0,
	max_attempts       INTEGER NOT NULL DEFAULT 3,
	backoff_multiplier REAL NOT NULL DEFAULT 2,
	last_attempt_at    TEXT,
	next_retry_at      TEXT,
	error              TEXT,
	result             TEXT,
	start_time         TEXT,
	end_time           TEXT,
	duration_ms        INTEGER NOT NULL DEFAULT 0,
	created_at         TEXT NOT NULL,
	updated_at         TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS export_jobs_owner_created_idx ON export_jobs (owner_id, created_at DESC);
CREATE INDEX IF NOT EXISTS export_jobs_status_idx ON export_jobs (status);

CREATE TABLE IF NOT EXISTS export_templates (
	id          TEXT PRIMARY KEY,
	owner_id    TEXT NOT NULL,
	name        TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	kind        TEXT NOT NULL,
	format      TEXT NOT NULL,
	filters     TEXT NOT NULL DEFAULT '{}',
	options     TEXT NOT NULL DEFAULT '{}',
	schedule    TEXT NOT NULL DEFAULT '{"enabled":false}',
	sharing     TEXT NOT NULL DEFAULT '[]',
	times_used  INTEGER NOT NULL DEFAULT 0,
	last_used   TEXT,
	created_at  TEXT NOT NULL,
	updated_at  TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS export_templates_owner_idx ON export_templates (owner_id);
`

// Open opens (and creates, if needed) the database at path. A single
// connection keeps the conditional-update claim serialized without busy
// retries.
func Open(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return db, nil
}

func fmtTime(t time.Time) string { return t.UTC().Format(timeFormat) }

func fmtTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return fmtTime(*t)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func parseTimePtr(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t := parseTime(s.String)
	return &t
}
