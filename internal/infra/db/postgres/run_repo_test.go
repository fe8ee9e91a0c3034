package postgres

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

func TestRunRepository(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewRunRepository(db)
	ctx := context.Background()
	started := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	mock.ExpectExec(regexp.QuoteMeta("ON CONFLICT (id) DO UPDATE")).
		WithArgs("r1", "https://github.com/acme/demo", "v1", "", "failed", "RevisionNotFound", "revision not found: v1",
			[]byte("{}"), 0, 0, 0, 0, started, int64(40)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.Save(ctx, &domain.Run{
		ID: "r1", RepoURL: "https://github.com/acme/demo", Revision: "v1",
		Status: domain.RunFailed, ErrorKind: domain.KindRevisionNotFound, Error: "revision not found: v1",
		StartedAt: started, DurationMS: 40,
	}))

	cols := []string{"id", "repo_url", "revision", "commit_sha", "status", "error_kind", "error", "tools",
		"errors", "warnings", "infos", "findings_total", "started_at", "duration_ms"}
	mock.ExpectQuery(regexp.QuoteMeta("WHERE id=$1")).WithArgs("r1").
		WillReturnRows(sqlmock.NewRows(cols).AddRow("r1", "https://github.com/acme/demo", "v1", "", "failed",
			"RevisionNotFound", "revision not found: v1", []byte("{}"), 0, 0, 0, 0, started, 40))
	run, err := repo.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, domain.KindRevisionNotFound, run.ErrorKind)
	assert.Nil(t, run.Tools)

	mock.ExpectQuery("FROM lint_runs").WithArgs("r2").WillReturnError(sql.ErrNoRows)
	_, err = repo.Get(ctx, "r2")
	assert.ErrorIs(t, err, domain.ErrRunNotFound)

	mock.ExpectQuery(regexp.QuoteMeta("LIMIT $1")).WithArgs(5).
		WillReturnRows(sqlmock.NewRows(cols).AddRow("r1", "u", "v1", "abc", "completed", "", nil,
			[]byte(`{"lint":{"status":"ok","exit_code":1,"findings":3,"duration_ms":900}}`), 1, 2, 0, 3, started, 900))
	runs, err := repo.Latest(ctx, 5)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, 3, runs[0].Tools["lint"].Findings)
	assert.Equal(t, 3, runs[0].Counts.Total)

	assert.NoError(t, mock.ExpectationsWereMet())
}
