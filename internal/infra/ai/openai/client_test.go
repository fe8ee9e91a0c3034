package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/bryanwahyu/automaton-lint/internal/domain/analysis"
)

func completionServer(t *testing.T, content string, seen *map[string]any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		if seen != nil {
			require.NoError(t, json.NewDecoder(r.Body).Decode(seen))
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"model":   "gpt-4o-mini",
			"choices": []map[string]any{{"index": 0, "message": map[string]any{"role": "assistant", "content": content}, "finish_reason": "stop"}},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

var result = domain.Result{
	RepoURL:  "https://github.com/acme/demo",
	Revision: "main",
	Findings: []domain.Finding{{Path: "main.go", Line: 3, Column: 1, Severity: domain.SeverityWarning, Message: "unused variable x", Tool: "vet"}},
	Tools:    map[domain.ToolID]domain.ToolReport{"vet": {Status: domain.ToolOK, Findings: 1}},
	Counts:   domain.SeverityCounts{Warning: 1, Total: 1},
}

func TestSummarize(t *testing.T) {
	var body map[string]any
	srv := completionServer(t, `{"summary":"One unused variable in main.go.","hotspots":["main.go"]}`, &body)

	got, err := NewClient("sk-test", "", srv.URL).Summarize(context.Background(), result)
	require.NoError(t, err)
	assert.Equal(t, "One unused variable in main.go.", got)

	assert.Equal(t, "gpt-4o-mini", body["model"])
	assert.EqualValues(t, maxTokens, body["max_tokens"])
	msgs := body["messages"].([]any)
	require.Len(t, msgs, 2)
	assert.Contains(t, msgs[1].(map[string]any)["content"], "main.go:3:1 [warning/vet] unused variable x")
}

func TestSummarizeReasoningModelAndPlainText(t *testing.T) {
	var body map[string]any
	srv := completionServer(t, "  plain words  ", &body)

	got, err := NewClient("sk-test", "o3-mini", srv.URL).Summarize(context.Background(), result)
	require.NoError(t, err)
	assert.Equal(t, "plain words", got)
	assert.EqualValues(t, maxTokens, body["max_completion_tokens"])
	assert.NotContains(t, body, "max_tokens")
}

func TestSummarizeAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"quota","type":"insufficient_quota"}}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := NewClient("sk-test", "", srv.URL).Summarize(context.Background(), result)
	assert.ErrorContains(t, err, "chat completion")
}
