package mysql

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

func Connect(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	// test ping
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
 id             VARCHAR(36)   NOT NULL PRIMARY KEY,
 repo_url       VARCHAR(1024) NOT NULL,
 revision       VARCHAR(255)  NOT NULL,
 commit_sha     VARCHAR(64)   NOT NULL DEFAULT '',
 status         VARCHAR(16)   NOT NULL,
 error_kind     VARCHAR(32)   NOT NULL DEFAULT '',
 error          TEXT,
 tools          JSON,
 errors         INT           NOT NULL DEFAULT 0,
 warnings       INT           NOT NULL DEFAULT 0,
 infos          INT           NOT NULL DEFAULT 0,
 findings_total INT           NOT NULL DEFAULT 0,
 started_at     DATETIME(3)   NOT NULL,
 duration_ms    BIGINT        NOT NULL DEFAULT 0,
 INDEX idx_lint_runs_started (started_at)
);`

// EnsureSchema creates the run history table when it does not exist.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, schema)
	return err
}
