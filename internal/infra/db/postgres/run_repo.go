package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	domain "github.com/bryanwahyu/automaton-lint/internal/domain/analysis"
)

type RunRepository struct{ db *sql.DB }

func NewRunRepository(db *sql.DB) *RunRepository { return &RunRepository{db: db} }

const runColumns = `id, repo_url, revision, commit_sha, status, error_kind, error, tools,
       errors, warnings, infos, findings_total, started_at, duration_ms`

// Save insert/update Run record
func (r *RunRepository) Save(ctx context.Context, run *domain.Run) error {
	const q = `
INSERT INTO lint_runs
(id, repo_url, revision, commit_sha, status, error_kind, error, tools,
 errors, warnings, infos, findings_total, started_at, duration_ms)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,
        $9,$10,$11,$12,$13,$14)
ON CONFLICT (id) DO UPDATE SET
 commit_sha = EXCLUDED.commit_sha,
 status = EXCLUDED.status,
 error_kind = EXCLUDED.error_kind,
 error = EXCLUDED.error,
 tools = EXCLUDED.tools,
 errors = EXCLUDED.errors,
 warnings = EXCLUDED.warnings,
 infos = EXCLUDED.infos,
 findings_total = EXCLUDED.findings_total,
 duration_ms = EXCLUDED.duration_ms;`

	tools := []byte("{}")
	if len(run.Tools) > 0 {
		b, err := json.Marshal(run.Tools)
		if err != nil {
			return fmt.Errorf("encoding tools: %w", err)
		}
		tools = b
	}
	started := run.StartedAt
	if started.IsZero() {
		started = time.Now()
	}

	_, err := r.db.ExecContext(ctx, q,
		run.ID, run.RepoURL, run.Revision, run.Commit, string(run.Status),
		string(run.ErrorKind), run.Error, tools,
		run.Counts.Error, run.Counts.Warning, run.Counts.Info, run.Counts.Total,
		started, run.DurationMS,
	)
	return err
}

// Get by ID
func (r *RunRepository) Get(ctx context.Context, id domain.RunID) (*domain.Run, error) {
	q := `SELECT ` + runColumns + ` FROM lint_runs WHERE id=$1 LIMIT 1;`
	run, err := scanRun(r.db.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", domain.ErrRunNotFound, id)
	}
	return run, err
}

// Latest runs, newest first
func (r *RunRepository) Latest(ctx context.Context, limit int) ([]*domain.Run, error) {
	if limit <= 0 {
		limit = 20
	}
	q := `SELECT ` + runColumns + ` FROM lint_runs ORDER BY started_at DESC LIMIT $1;`
	rows, err := r.db.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("querying runs: %w", err)
	}
	defer rows.Close()

	var out []*domain.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		out = append(out, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rows: %w", err)
	}
	return out, nil
}

func scanRun(row interface{ Scan(...any) error }) (*domain.Run, error) {
	var run domain.Run
	var errText sql.NullString
	var tools []byte
	if err := row.Scan(
		&run.ID, &run.RepoURL, &run.Revision, &run.Commit, &run.Status, &run.ErrorKind, &errText, &tools,
		&run.Counts.Error, &run.Counts.Warning, &run.Counts.Info, &run.Counts.Total,
		&run.StartedAt, &run.DurationMS,
	); err != nil {
		return nil, err
	}
	run.Error = errText.String
	if len(tools) > 0 {
		if err := json.Unmarshal(tools, &run.Tools); err != nil {
			return nil, fmt.Errorf("decoding tools of %s: %w", run.ID, err)
		}
		if len(run.Tools) == 0 {
			run.Tools = nil
		}
	}
	return &run, nil
}
