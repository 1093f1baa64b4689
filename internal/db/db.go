package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// DB is the run ledger backed by Postgres.
type DB struct {
	*sql.DB
}

func New(databaseURL string) (*DB, error) {
	conn, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	conn.SetMaxOpenConns(10)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return &DB{conn}, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id             UUID PRIMARY KEY,
	status         TEXT NOT NULL,
	request        JSONB,
	cut_count      INTEGER,
	cut_seconds    INTEGER,
	final_filename TEXT,
	error_kind     TEXT,
	error_message  TEXT,
	started_at     TIMESTAMPTZ,
	finished_at    TIMESTAMPTZ,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS run_clips (
	run_id       UUID NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	ordinal      INTEGER NOT NULL,
	scene_text   TEXT NOT NULL,
	job_id       TEXT NOT NULL,
	artifact_url TEXT,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (run_id, ordinal)
);

CREATE INDEX IF NOT EXISTS runs_status_idx ON runs (status);
`

// Migrate creates the ledger tables when they do not exist yet.
func (db *DB) Migrate(ctx context.Context) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to migrate: %w", err)
	}
	return nil
}
