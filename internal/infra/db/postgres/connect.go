package postgres

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/lib/pq"
)

func Connect(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	ctx2, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx2); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS lint_runs (
 id             TEXT        PRIMARY KEY,
 repo_url       TEXT        NOT NULL,
 revision       TEXT        NOT NULL,
 commit_sha     TEXT        NOT NULL DEFAULT '',
 status         TEXT        NOT NULL,
 error_kind     TEXT        NOT NULL DEFAULT '',
 error          TEXT,
 tools          JSONB,
 errors         INTEGER     NOT NULL DEFAULT 0,
 warnings       INTEGER     NOT NULL DEFAULT 0,
 infos          INTEGER     NOT NULL DEFAULT 0,
 findings_total INTEGER     NOT NULL DEFAULT 0,
 started_at     TIMESTAMPTZ NOT NULL,
 duration_ms    BIGINT      NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_lint_runs_started ON lint_runs (started_at DESC);`

func EnsureSchema(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, schema)
	return err
}
