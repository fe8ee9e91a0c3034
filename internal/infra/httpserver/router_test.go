package httpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appanalysis "github.com/bryanwahyu/automaton-lint/internal/application/analysis"
	domain "github.com/bryanwahyu/automaton-lint/internal/domain/analysis"
	"github.com/bryanwahyu/automaton-lint/internal/middleware"
)

type stubAnalyzer struct {
	err       error
	submitErr error
	last      domain.Request
	runs      []*domain.Run
	submitted []domain.Request
}

func (s *stubAnalyzer) Submit(_ context.Context, req domain.Request) (string, error) {
	if s.submitErr != nil {
		return "", s.submitErr
	}
	s.submitted = append(s.submitted, req)
	return "req-async", nil
}

func (s *stubAnalyzer) Analyze(_ context.Context, req domain.Request) (domain.Result, error) {
	s.last = req
	if s.err != nil {
		return domain.Result{RequestID: "req-1"}, s.err
	}
	return domain.Result{
		RequestID: "req-1",
		RepoURL:   req.RepoURL,
		Revision:  req.Revision,
		Commit:    "abc",
		Findings: []domain.Finding{
			{Path: "main.go", Line: 10, Column: 2, Severity: domain.SeverityWarning, Message: "x declared and not used", Tool: "vet"},
		},
		Tools: map[domain.ToolID]domain.ToolReport{
			"vet":  {Status: domain.ToolOK, Findings: 1},
			"lint": {Status: domain.ToolOK, Findings: 1},
		},
		Counts: domain.SeverityCounts{Warning: 1, Total: 1},
	}, nil
}

func (s *stubAnalyzer) Run(_ context.Context, id domain.RunID) (*domain.Run, error) {
	if s.err != nil {
		return nil, s.err
	}
	for _, r := range s.runs {
		if r.ID == id {
			return r, nil
		}
	}
	return nil, domain.ErrRunNotFound
}

func (s *stubAnalyzer) LatestRuns(_ context.Context, limit int) ([]*domain.Run, error) {
	if s.err != nil {
		return nil, s.err
	}
	if len(s.runs) > limit {
		return s.runs[:limit], nil
	}
	return s.runs, nil
}

func (s *stubAnalyzer) ToolSpecs() []domain.ToolSpec {
	return []domain.ToolSpec{{ID: "lint", Format: "golangci", Image: "golangci/golangci-lint:v1.64"}, {ID: "vet", Format: "vet"}}
}

var testTools = map[domain.ToolID]domain.ToolSpec{"vet": {ID: "vet"}, "lint": {ID: "lint"}}

func newTestRouter(svc Analyzer) http.Handler {
	return NewRouter(svc, Options{Tools: testTools})
}

func post(t *testing.T, h http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/analyze", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var body errorBody
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return body
}

func TestAnalyzeOK(t *testing.T) {
	svc := &stubAnalyzer{}
	rec := post(t, newTestRouter(svc), `{"repoUrl":"https://github.com/acme/demo.git","revision":"main","tools":["vet","lint"]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var res domain.Result
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&res))
	assert.Len(t, res.Findings, 1)
	assert.Equal(t, domain.ToolOK, res.Tools["lint"].Status)
	assert.Equal(t, []domain.ToolID{"vet", "lint"}, svc.last.Tools)
	assert.Equal(t, "main", svc.last.Revision)
}

func TestAnalyzeErrorMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
		kind   domain.Kind
	}{
		{fmt.Errorf("%w: 20 in flight", domain.ErrBusy), http.StatusConflict, domain.KindBusy},
		{fmt.Errorf("%w: nope", domain.ErrRevisionNotFound), http.StatusUnprocessableEntity, domain.KindRevisionNotFound},
		{fmt.Errorf("%w: dns", domain.ErrFetchUnavailable), http.StatusBadGateway, domain.KindFetchUnavailable},
		{fmt.Errorf("%w: waited", domain.ErrWorkspaceUnavailable), http.StatusServiceUnavailable, domain.KindWorkspaceUnavailable},
		{fmt.Errorf("%w: read-only fs", domain.ErrWorkspaceRootUnwritable), http.StatusInternalServerError, domain.KindFatal},
		{fmt.Errorf("boom"), http.StatusInternalServerError, domain.KindInternal},
	}
	for _, tc := range cases {
		t.Run(string(tc.kind), func(t *testing.T) {
			rec := post(t, newTestRouter(&stubAnalyzer{err: tc.err}), `{"repoUrl":"https://github.com/acme/demo","revision":"main"}`)
			assert.Equal(t, tc.status, rec.Code)
			body := decodeError(t, rec)
			assert.Equal(t, tc.kind, body.Error.Kind)
			assert.Equal(t, tc.err.Error(), body.Error.Message)
			assert.Equal(t, "req-1", body.RequestID)
			if tc.kind == domain.KindWorkspaceUnavailable {
				assert.Equal(t, "5", rec.Header().Get("Retry-After"))
			}
		})
	}
}

func TestAnalyzeRejectsBadInput(t *testing.T) {
	svc := &stubAnalyzer{}
	h := newTestRouter(svc)
	for _, body := range []string{
		`not json`,
		`{"revision":"main"}`,
		`{"repoUrl":"https://127.0.0.1/x"}`,
		`{"repoUrl":"https://github.com/acme/demo","revision":"--upload-pack=x"}`,
		`{"repoUrl":"https://github.com/acme/demo","tools":["trivy"]}`,
	} {
		rec := post(t, h, body)
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code, body)
		assert.Equal(t, domain.KindInvalidRequest, decodeError(t, rec).Error.Kind, body)
	}
	assert.Empty(t, svc.last.RepoURL)
}

func TestAnalyzeLocalReposWhenAllowed(t *testing.T) {
	svc := &stubAnalyzer{}
	h := NewRouter(svc, Options{AllowLocalRepos: true})
	rec := post(t, h, `{"repoUrl":"/srv/git/demo","tools":["anything"]}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "/srv/git/demo", svc.last.RepoURL)
}

func TestRuns(t *testing.T) {
	id := "0b6f3c64-2f7f-4a53-9d49-8e0a3c2f8f11"
	svc := &stubAnalyzer{runs: []*domain.Run{{ID: domain.RunID(id), Status: domain.RunCompleted}}}
	h := newTestRouter(svc)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/runs/"+id, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var run domain.Run
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&run))
	assert.Equal(t, domain.RunCompleted, run.Status)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/runs/1b6f3c64-2f7f-4a53-9d49-8e0a3c2f8f11", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/runs/not-an-id", nil))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/runs/latest?limit=5", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Runs []domain.Run `json:"runs"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&list))
	assert.Len(t, list.Runs, 1)
}

func TestTools(t *testing.T) {
	rec := httptest.NewRecorder()
	newTestRouter(&stubAnalyzer{}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/tools", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Tools []toolInfo `json:"tools"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, []toolInfo{{ID: "lint", Format: "golangci", Container: true}, {ID: "vet", Format: "vet"}}, body.Tools)
}

func TestRunsWithoutHistory(t *testing.T) {
	h := newTestRouter(&stubAnalyzer{err: appanalysis.ErrHistoryDisabled})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/runs/latest", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, domain.KindNotFound, decodeError(t, rec).Error.Kind)
}

func TestAuthAndHealth(t *testing.T) {
	h := NewRouter(&stubAnalyzer{}, Options{
		APIKeys: map[string]string{"ci": "k"},
		Health: map[string]middleware.HealthChecker{
			"workspace_root": middleware.CheckFunc(func(context.Context) error { return nil }),
		},
	})

	rec := post(t, h, `{"repoUrl":"https://github.com/acme/demo"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/analyze", strings.NewReader(`{"repoUrl":"https://github.com/acme/demo"}`))
	req.Header.Set("Authorization", "Bearer k")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "workspace_root")
}
