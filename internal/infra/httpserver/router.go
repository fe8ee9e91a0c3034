package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	appanalysis "github.com/bryanwahyu/automaton-lint/internal/application/analysis"
	domain "github.com/bryanwahyu/automaton-lint/internal/domain/analysis"
	"github.com/bryanwahyu/automaton-lint/internal/middleware"
)

// statusClientClosedRequest is what the log shows for requests whose caller went away.
const statusClientClosedRequest = 499

const maxBodyBytes = 1 << 20

// Analyzer is what the router needs from the orchestrator.
type Analyzer interface {
	Analyze(ctx context.Context, req domain.Request) (domain.Result, error)
	Submit(ctx context.Context, req domain.Request) (string, error)
	Run(ctx context.Context, id domain.RunID) (*domain.Run, error)
	LatestRuns(ctx context.Context, limit int) ([]*domain.Run, error)
	ToolSpecs() []domain.ToolSpec
}

type Options struct {
	Logger      *slog.Logger
	APIKeys     map[string]string
	CORSOrigins []string
	RateLimiter *middleware.RateLimiter
	Health      map[string]middleware.HealthChecker
	Readiness   middleware.WorkspaceRoot
	// Tools is the set of configured tools requests may name.
	Tools           map[domain.ToolID]domain.ToolSpec
	AllowLocalRepos bool
	// RetryAfter is advertised when no workspace became available in time.
	RetryAfter time.Duration
	// Slack enables /slack/commands when a signing secret is set.
	Slack SlashCommands
}

type Router struct {
	svc  Analyzer
	opts Options
	log  *slog.Logger
}

func NewRouter(svc Analyzer, opts Options) http.Handler {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.RetryAfter <= 0 {
		opts.RetryAfter = 5 * time.Second
	}
	r := &Router{svc: svc, opts: opts, log: opts.Logger}

	mux := chi.NewRouter()
	mux.Use(chimw.RequestID)
	mux.Use(chimw.Recoverer)
	mux.Use(middleware.LoggingMiddleware(opts.Logger))
	mux.Use(middleware.MetricsMiddleware)
	if len(opts.CORSOrigins) > 0 {
		mux.Use(cors.Handler(cors.Options{
			AllowedOrigins: opts.CORSOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Authorization", "Content-Type", "X-API-Key"},
			MaxAge:         300,
		}))
	}

	mux.Group(func(api chi.Router) {
		api.Use(middleware.APIKeyAuth(opts.APIKeys))
		if opts.RateLimiter != nil {
			api.Use(middleware.RateLimitMiddleware(opts.RateLimiter))
		}

		api.Get("/health", middleware.HealthHandler(opts.Health))
		api.Get("/livez", middleware.LivenessHandler)
		api.Get("/readyz", middleware.ReadinessHandler(opts.Readiness))
		api.Get("/metrics", middleware.MetricsHandler)

		api.Post("/analyze", r.wrap(r.handleAnalyze))
		api.Route("/v1", func(rt chi.Router) {
			rt.Post("/analyze", r.wrap(r.handleAnalyze))
			rt.Post("/analyze/async", r.wrap(r.handleSubmit))
			rt.Get("/tools", r.wrap(r.handleTools))
			rt.Get("/runs/latest", r.wrap(r.handleLatest))
			rt.Get("/runs/{id}", r.wrap(r.handleGet))
		})
	})

	// Slack signs its requests instead of sending an API key.
	if opts.Slack.SigningSecret != "" {
		mux.Group(func(sl chi.Router) {
			if opts.RateLimiter != nil {
				sl.Use(middleware.RateLimitMiddleware(opts.RateLimiter))
			}
			sl.Post("/slack/commands", r.handleSlackCommand)
		})
	}

	return mux
}

type handlerFunc func(http.ResponseWriter, *http.Request) error

// requestError carries the orchestrator's request id to the error envelope.
type requestError struct {
	id  string
	err error
}

func (e *requestError) Error() string { return e.err.Error() }
func (e *requestError) Unwrap() error { return e.err }

type errorBody struct {
	Error struct {
		Kind    domain.Kind `json:"kind"`
		Message string      `json:"message"`
	} `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

func (r *Router) wrap(h handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		err := h(w, req)
		if err == nil {
			return
		}

		var body errorBody
		body.Error.Message = err.Error()
		body.RequestID = chimw.GetReqID(req.Context())
		var re *requestError
		if errors.As(err, &re) && re.id != "" {
			body.RequestID = re.id
		}

		status := http.StatusInternalServerError
		kind := domain.KindOf(err)
		switch {
		case errors.Is(err, appanalysis.ErrHistoryDisabled), errors.Is(err, appanalysis.ErrNoDelivery):
			status, kind = http.StatusNotFound, domain.KindNotFound
		case kind == domain.KindInvalidRequest, kind == domain.KindRevisionNotFound:
			status = http.StatusUnprocessableEntity
		case kind == domain.KindBusy:
			status = http.StatusConflict
		case kind == domain.KindFetchUnavailable:
			status = http.StatusBadGateway
		case kind == domain.KindWorkspaceUnavailable:
			status = http.StatusServiceUnavailable
			w.Header().Set("Retry-After", strconv.Itoa(int(r.opts.RetryAfter.Round(time.Second).Seconds())))
		case kind == domain.KindNotFound:
			status = http.StatusNotFound
		case kind == domain.KindCanceled:
			status = statusClientClosedRequest
		case kind == domain.KindFatal:
			r.log.Error("fatal workspace error", "error", err)
		}
		body.Error.Kind = kind

		writeJSON(w, status, body)
	}
}

type analyzeBody struct {
	RepoURL   string   `json:"repoUrl"`
	Revision  string   `json:"revision"`
	Tools     []string `json:"tools"`
	Summarize bool     `json:"summarize"`
}

func decodeAnalyze(req *http.Request) (analyzeBody, error) {
	var body analyzeBody
	dec := json.NewDecoder(io.LimitReader(req.Body, maxBodyBytes))
	if err := dec.Decode(&body); err != nil {
		return body, fmt.Errorf("%w: malformed body: %v", domain.ErrInvalidRequest, err)
	}
	return body, nil
}

// request validates body at the edge and turns it into an analysis request.
func (r *Router) request(body analyzeBody) (domain.Request, error) {
	body.RepoURL = middleware.SanitizeString(body.RepoURL)
	body.Revision = strings.TrimSpace(body.Revision)

	if err := middleware.ValidateRepoURL(body.RepoURL, r.opts.AllowLocalRepos); err != nil {
		return domain.Request{}, err
	}
	if err := middleware.ValidateRevision(body.Revision); err != nil {
		return domain.Request{}, err
	}
	tools := make([]domain.ToolID, 0, len(body.Tools))
	for _, t := range body.Tools {
		t = strings.TrimSpace(t)
		if r.opts.Tools != nil {
			if err := middleware.ValidateTool(t, r.opts.Tools); err != nil {
				return domain.Request{}, err
			}
		}
		tools = append(tools, domain.ToolID(t))
	}
	return domain.Request{
		RepoURL:   body.RepoURL,
		Revision:  body.Revision,
		Tools:     tools,
		Summarize: body.Summarize,
	}, nil
}

// POST /analyze
// Body: {"repoUrl": "...", "revision": "main", "tools": ["vet", "lint"]}
func (r *Router) handleAnalyze(w http.ResponseWriter, req *http.Request) error {
	body, err := decodeAnalyze(req)
	if err != nil {
		return err
	}
	areq, err := r.request(body)
	if err != nil {
		return err
	}

	res, err := r.svc.Analyze(req.Context(), areq)
	if err != nil {
		return &requestError{id: res.RequestID, err: err}
	}
	writeJSON(w, http.StatusOK, res)
	return nil
}

type submitted struct {
	RequestID string `json:"request_id"`
	Status    string `json:"status"`
	Run       string `json:"run"`
}

// POST /v1/analyze/async
// Same body as /analyze; the outcome is recorded and announced, not returned.
func (r *Router) handleSubmit(w http.ResponseWriter, req *http.Request) error {
	body, err := decodeAnalyze(req)
	if err != nil {
		return err
	}
	areq, err := r.request(body)
	if err != nil {
		return err
	}

	id, err := r.svc.Submit(req.Context(), areq)
	if err != nil {
		return err
	}
	w.Header().Set("Location", "/v1/runs/"+id)
	writeJSON(w, http.StatusAccepted, submitted{RequestID: id, Status: "accepted", Run: "/v1/runs/" + id})
	return nil
}

type toolInfo struct {
	ID        domain.ToolID `json:"id"`
	Format    string        `json:"format"`
	Container bool          `json:"container"`
	TimeoutMS int64         `json:"timeout_ms,omitempty"`
}

// GET /v1/tools
func (r *Router) handleTools(w http.ResponseWriter, req *http.Request) error {
	specs := r.svc.ToolSpecs()
	out := make([]toolInfo, 0, len(specs))
	for _, s := range specs {
		out = append(out, toolInfo{ID: s.ID, Format: s.Format, Container: s.Image != "", TimeoutMS: s.Timeout.Milliseconds()})
	}
	writeJSON(w, http.StatusOK, map[string]any{"tools": out})
	return nil
}

// GET /v1/runs/latest?limit=
func (r *Router) handleLatest(w http.ResponseWriter, req *http.Request) error {
	limit, _ := strconv.Atoi(req.URL.Query().Get("limit"))
	runs, err := r.svc.LatestRuns(req.Context(), middleware.ValidateLimit(limit))
	if err != nil {
		return err
	}
	if runs == nil {
		runs = []*domain.Run{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
	return nil
}

// GET /v1/runs/{id}
func (r *Router) handleGet(w http.ResponseWriter, req *http.Request) error {
	id := chi.URLParam(req, "id")
	if err := middleware.ValidateRunID(id); err != nil {
		return err
	}
	run, err := r.svc.Run(req.Context(), domain.RunID(id))
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, run)
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
