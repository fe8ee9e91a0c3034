// Package client talks to a running automaton-lint server.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	domain "github.com/bryanwahyu/automaton-lint/internal/domain/analysis"
	"github.com/bryanwahyu/automaton-lint/internal/middleware"
)

// APIError is a non-2xx answer from the server.
type APIError struct {
	Status     int
	Kind       domain.Kind
	Message    string
	RequestID  string
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	if e.Kind == "" {
		return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Retryable reports whether the same request may succeed later.
func (e *APIError) Retryable() bool {
	return e.Kind == domain.KindWorkspaceUnavailable || e.Kind == domain.KindBusy || e.Status == http.StatusTooManyRequests
}

type Client struct {
	BaseURL string
	APIKey  string
	HTTP    *http.Client
}

func New(baseURL, apiKey string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		APIKey:  apiKey,
		HTTP:    &http.Client{},
	}
}

// Analyze blocks until the server finished the request.
func (c *Client) Analyze(ctx context.Context, req domain.Request) (*domain.Result, error) {
	var res domain.Result
	if err := c.do(ctx, http.MethodPost, "/analyze", req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Submission acknowledges a background run.
type Submission struct {
	RequestID string `json:"request_id"`
	Status    string `json:"status"`
	Run       string `json:"run"`
}

// Submit starts req in the background; its outcome is read later with Run.
func (c *Client) Submit(ctx context.Context, req domain.Request) (*Submission, error) {
	var sub Submission
	if err := c.do(ctx, http.MethodPost, "/v1/analyze/async", req, &sub); err != nil {
		return nil, err
	}
	return &sub, nil
}

// Health returns the server's health report. A 503 still decodes the report
// and comes back together with an *APIError.
func (c *Client) Health(ctx context.Context) (*middleware.HealthStatus, error) {
	var hs middleware.HealthStatus
	err := c.do(ctx, http.MethodGet, "/health", nil, &hs)
	if err != nil && hs.Status == "" {
		return nil, err
	}
	return &hs, err
}

func (c *Client) Run(ctx context.Context, id string) (*domain.Run, error) {
	var run domain.Run
	if err := c.do(ctx, http.MethodGet, "/v1/runs/"+url.PathEscape(id), nil, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

func (c *Client) LatestRuns(ctx context.Context, limit int) ([]*domain.Run, error) {
	var out struct {
		Runs []*domain.Run `json:"runs"`
	}
	path := "/v1/runs/latest"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Runs, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}

	httpc := c.HTTP
	if httpc == nil {
		httpc = http.DefaultClient
	}
	resp, err := httpc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode/100 == 2 {
		return json.Unmarshal(raw, out)
	}
	if path == "/health" && resp.StatusCode == http.StatusServiceUnavailable {
		_ = json.Unmarshal(raw, out)
	}
	return decodeError(resp, raw)
}

func decodeError(resp *http.Response, raw []byte) error {
	apiErr := &APIError{Status: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
	var env struct {
		Error struct {
			Kind    domain.Kind `json:"kind"`
			Message string      `json:"message"`
		} `json:"error"`
		RequestID string `json:"request_id"`
	}
	if json.Unmarshal(raw, &env) == nil && env.Error.Kind != "" {
		apiErr.Kind = env.Error.Kind
		apiErr.Message = env.Error.Message
		apiErr.RequestID = env.RequestID
	}
	if s, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil {
		apiErr.RetryAfter = time.Duration(s) * time.Second
	}
	return apiErr
}
