package mysql

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/bryanwahyu/automaton-lint/internal/domain/analysis"
)

var columns = []string{
	"id", "repo_url", "revision", "commit_sha", "status", "error_kind", "error", "tools",
	"errors", "warnings", "infos", "findings_total", "started_at", "duration_ms",
}

func newMock(t *testing.T) (*RunRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewRunRepository(db), mock
}

func TestSaveRun(t *testing.T) {
	repo, mock := newMock(t)
	started := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	run := &domain.Run{
		ID:       "0b6f3c64-2f7f-4a53-9d49-8e0a3c2f8f11",
		RepoURL:  "https://github.com/acme/demo",
		Revision: "main",
		Commit:   "abc123",
		Status:   domain.RunCompleted,
		Tools: map[domain.ToolID]domain.ToolReport{
			"vet": {Status: domain.ToolOK, Findings: 2},
		},
		Counts:     domain.SeverityCounts{Warning: 2, Total: 2},
		StartedAt:  started,
		DurationMS: 1500,
	}

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO lint_runs")).
		WithArgs(run.ID, run.RepoURL, "main", "abc123", "completed", "", "",
			sqlmock.AnyArg(), 0, 2, 0, 2, started, int64(1500)).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, repo.Save(context.Background(), run))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetRun(t *testing.T) {
	repo, mock := newMock(t)
	started := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows(columns).AddRow(
		"id-1", "https://github.com/acme/demo", "main", "abc", "failed", "Busy", "busy: 16 waiting",
		[]byte(`{"vet":{"status":"timeout","exit_code":-1,"findings":0,"duration_ms":5000}}`),
		0, 0, 0, 0, started, 12,
	)
	mock.ExpectQuery(regexp.QuoteMeta("FROM lint_runs WHERE id=?")).WithArgs("id-1").WillReturnRows(rows)

	run, err := repo.Get(context.Background(), "id-1")
	require.NoError(t, err)
	assert.Equal(t, domain.RunFailed, run.Status)
	assert.Equal(t, domain.KindBusy, run.ErrorKind)
	assert.Equal(t, "busy: 16 waiting", run.Error)
	assert.Equal(t, domain.ToolTimeout, run.Tools["vet"].Status)
	assert.Equal(t, started, run.StartedAt)
}

func TestGetMissingRun(t *testing.T) {
	repo, mock := newMock(t)
	mock.ExpectQuery("FROM lint_runs").WillReturnError(sql.ErrNoRows)

	_, err := repo.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, domain.ErrRunNotFound)
}

func TestLatestRuns(t *testing.T) {
	repo, mock := newMock(t)
	now := time.Now().UTC()
	rows := sqlmock.NewRows(columns).
		AddRow("b", "u", "main", "", "completed", "", nil, nil, 1, 0, 0, 1, now, 5).
		AddRow("a", "u", "main", "", "completed", "", nil, []byte(`{}`), 0, 0, 0, 0, now.Add(-time.Minute), 5)
	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY started_at DESC LIMIT ?")).WithArgs(20).WillReturnRows(rows)

	runs, err := repo.Latest(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, domain.RunID("b"), runs[0].ID)
	assert.Nil(t, runs[1].Tools)
	assert.NoError(t, mock.ExpectationsWereMet())
}
