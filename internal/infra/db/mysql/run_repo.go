package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	domain "github.com/bryanwahyu/automaton-lint/internal/domain/analysis"
)

type RunRepository struct {
	db *sql.DB
}

func NewRunRepository(db *sql.DB) *RunRepository {
	return &RunRepository{db: db}
}

const runColumns = `id, repo_url, revision, commit_sha, status, error_kind, error, tools,
       errors, warnings, infos, findings_total, started_at, duration_ms`

// Save insert/update Run record
func (r *RunRepository) Save(ctx context.Context, run *domain.Run) error {
	const q = `
INSERT INTO lint_runs
(id, repo_url, revision, commit_sha, status, error_kind, error, tools,
 errors, warnings, infos, findings_total, started_at, duration_ms)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)
ON DUPLICATE KEY UPDATE
 commit_sha=VALUES(commit_sha), status=VALUES(status),
 error_kind=VALUES(error_kind), error=VALUES(error), tools=VALUES(tools),
 errors=VALUES(errors), warnings=VALUES(warnings), infos=VALUES(infos),
 findings_total=VALUES(findings_total), duration_ms=VALUES(duration_ms);
`
	tools, err := encodeTools(run.Tools)
	if err != nil {
		return fmt.Errorf("encoding tools: %w", err)
	}
	started := run.StartedAt
	if started.IsZero() {
		started = time.Now()
	}

	_, err = r.db.ExecContext(ctx, q,
		run.ID, run.RepoURL, run.Revision, run.Commit, stringOrDash(string(run.Status)),
		string(run.ErrorKind), run.Error, tools,
		run.Counts.Error, run.Counts.Warning, run.Counts.Info, run.Counts.Total,
		started.UTC(), run.DurationMS,
	)
	return err
}

// Get by ID
func (r *RunRepository) Get(ctx context.Context, id domain.RunID) (*domain.Run, error) {
	q := `SELECT ` + runColumns + ` FROM lint_runs WHERE id=? LIMIT 1;`
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
	q := `SELECT ` + runColumns + ` FROM lint_runs ORDER BY started_at DESC LIMIT ?;`
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
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*domain.Run, error) {
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
	t, err := decodeTools(tools)
	if err != nil {
		return nil, fmt.Errorf("decoding tools of %s: %w", run.ID, err)
	}
	run.Tools = t
	return &run, nil
}
