package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/bryanwahyu/automaton-lint/internal/domain/analysis"
)

func TestAnalyze(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/analyze", r.URL.Path)
		assert.Equal(t, "Bearer k", r.Header.Get("Authorization"))
		var req domain.Request
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, []domain.ToolID{"vet"}, req.Tools)
		json.NewEncoder(w).Encode(domain.Result{RequestID: "r1", Revision: req.Revision, Counts: domain.SeverityCounts{Total: 3}})
	}))
	defer srv.Close()

	res, err := New(srv.URL+"/", "k").Analyze(context.Background(), domain.Request{RepoURL: "https://x/y", Revision: "main", Tools: []domain.ToolID{"vet"}})
	require.NoError(t, err)
	assert.Equal(t, "r1", res.RequestID)
	assert.Equal(t, 3, res.Counts.Total)
}

func TestSubmit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/analyze/async", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		w.Write([]byte(`{"request_id":"r2","status":"accepted","run":"/v1/runs/r2"}`))
	}))
	defer srv.Close()

	sub, err := New(srv.URL, "").Submit(context.Background(), domain.Request{RepoURL: "https://x/y"})
	require.NoError(t, err)
	assert.Equal(t, "r2", sub.RequestID)
	assert.Equal(t, "/v1/runs/r2", sub.Run)
}

func TestAnalyzeErrorEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "5")
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"error":{"kind":"WorkspaceUnavailable","message":"workspace unavailable: waited 2m0s"},"request_id":"r9"}`))
	}))
	defer srv.Close()

	_, err := New(srv.URL, "").Analyze(context.Background(), domain.Request{RepoURL: "https://x/y"})
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, domain.KindWorkspaceUnavailable, apiErr.Kind)
	assert.Equal(t, "r9", apiErr.RequestID)
	assert.Equal(t, 5*time.Second, apiErr.RetryAfter)
	assert.True(t, apiErr.Retryable())
	assert.Equal(t, "WorkspaceUnavailable: workspace unavailable: waited 2m0s", err.Error())
}

func TestPlainTextError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid API key", http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := New(srv.URL, "bad").LatestRuns(context.Background(), 5)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
	assert.Equal(t, "server returned 401: invalid API key", err.Error())
	assert.False(t, apiErr.Retryable())
}

func TestUnhealthyStillReturnsReport(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"status":"unhealthy","checks":{"tool:lint":{"status":"unhealthy","message":"not found"}}}`))
	}))
	defer srv.Close()

	hs, err := New(srv.URL, "").Health(context.Background())
	assert.Error(t, err)
	require.NotNil(t, hs)
	assert.Equal(t, "unhealthy", hs.Status)
	assert.Equal(t, "not found", hs.Checks["tool:lint"].Message)
}

func TestRunsPaths(t *testing.T) {
	var (
		mu    sync.Mutex
		paths []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		paths = append(paths, r.URL.RequestURI())
		mu.Unlock()
		if r.URL.Path == "/v1/runs/latest" {
			w.Write([]byte(`{"runs":[{"id":"a","status":"completed"}]}`))
			return
		}
		w.Write([]byte(`{"id":"a","status":"failed"}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "")
	runs, err := c.LatestRuns(context.Background(), 3)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	run, err := c.Run(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, domain.RunFailed, run.Status)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"/v1/runs/latest?limit=3", "/v1/runs/a"}, paths)
}
