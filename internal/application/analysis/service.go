package analysis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	domain "github.com/bryanwahyu/automaton-lint/internal/domain/analysis"
)

var (
	// ErrHistoryDisabled is returned by the run history queries when no
	// repository is configured.
	ErrHistoryDisabled = errors.New("run history not configured")
	// ErrNoDelivery is returned by Submit when a background run would have
	// nowhere to report its outcome.
	ErrNoDelivery = errors.New("background runs need run history or notifications")
)

const sideEffectTimeout = 10 * time.Second

// Metrics receives request and tool outcomes.
type Metrics interface {
	AnalysisStarted()
	AnalysisFinished(kind domain.Kind, d time.Duration)
	ToolFinished(id domain.ToolID, status domain.ToolStatus, d time.Duration)
}

// Service orchestrates one analysis request end to end: acquire a
// workspace, fetch the revision, run every tool concurrently, aggregate.
// It is safe for concurrent use; per-request state never leaves Analyze.
type Service struct {
	Workspaces domain.WorkspaceManager
	Fetcher    domain.Fetcher
	Runner     domain.Runner
	Aggregator *Aggregator

	// Tools is the registry of launchable tools, DefaultTools what runs when
	// a request names none.
	Tools        map[domain.ToolID]domain.ToolSpec
	DefaultTools []domain.ToolID
	ToolTimeout  time.Duration

	// optional
	Runs       domain.RunRepository
	Artifacts  domain.ArtifactStore
	Summarizer domain.Summarizer
	Notifier   domain.Notifier
	Metrics    Metrics
	OnStage    StageObserver

	// Background is the parent of runs started by Submit; when it is done
	// they are canceled. Submit detaches from the caller when nil.
	Background context.Context

	// Now stamps request start times; time.Now when nil.
	Now    func() time.Time
	Logger *slog.Logger

	inflight sync.WaitGroup
}

// Analyze runs req to completion. Tool failures are reported inside the
// result; only request-level failures (invalid input, acquire, fetch,
// cancellation) are returned as errors.
func (s *Service) Analyze(ctx context.Context, req domain.Request) (domain.Result, error) {
	return s.execute(ctx, uuid.NewString(), req)
}

// Submit checks req and runs it in the background. The returned request id
// is also the id of the run record; the outcome reaches the caller only
// through run history and notifications.
func (s *Service) Submit(ctx context.Context, req domain.Request) (string, error) {
	if s.Runs == nil && s.Notifier == nil {
		return "", ErrNoDelivery
	}
	if _, err := s.selectTools(req.Tools); err != nil {
		return "", err
	}
	if _, err := domain.NewRepoIdentity(req.RepoURL, req.Revision); err != nil {
		return "", err
	}

	parent := s.Background
	if parent == nil {
		parent = context.WithoutCancel(ctx)
	}
	id := uuid.NewString()
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		_, _ = s.execute(parent, id, req)
	}()
	return id, nil
}

// Wait blocks until every run started by Submit has finished.
func (s *Service) Wait() { s.inflight.Wait() }

func (s *Service) execute(ctx context.Context, requestID string, req domain.Request) (domain.Result, error) {
	started := s.now()
	t := &tracker{id: requestID, stage: StageAccepted, observer: s.OnStage}
	log := s.logger().With("request_id", t.id, "repo", req.RepoURL, "revision", req.Revision)
	s.metrics().AnalysisStarted()
	if s.OnStage != nil {
		s.OnStage(t.id, "", StageAccepted)
	}

	res, err := s.analyze(ctx, t, req, log)
	res.RequestID = t.id
	res.RepoURL = req.RepoURL
	res.Revision = req.Revision
	res.StartedAt = started
	res.DurationMS = s.now().Sub(started).Milliseconds()

	if err != nil {
		_ = t.advance(StageFailed)
		log.Warn("analysis failed", "kind", domain.KindOf(err), "error", err)
	} else {
		if aerr := t.advance(StageCompleted); aerr != nil {
			err = aerr
		}
		log.Info("analysis completed",
			"commit", res.Commit, "findings", res.Counts.Total,
			"failed_tools", res.Failed(), "duration_ms", res.DurationMS)
	}
	s.metrics().AnalysisFinished(domain.KindOf(err), time.Duration(res.DurationMS)*time.Millisecond)
	s.record(ctx, res, err, log)
	if err != nil {
		return domain.Result{RequestID: t.id}, err
	}
	return res, nil
}

func (s *Service) analyze(ctx context.Context, t *tracker, req domain.Request, log *slog.Logger) (domain.Result, error) {
	tools, err := s.selectTools(req.Tools)
	if err != nil {
		return domain.Result{}, err
	}
	id, err := domain.NewRepoIdentity(req.RepoURL, req.Revision)
	if err != nil {
		return domain.Result{}, err
	}

	if err := t.advance(StageAcquiring); err != nil {
		return domain.Result{}, err
	}
	ws, err := s.Workspaces.Acquire(ctx, id)
	if err != nil {
		return domain.Result{}, err
	}
	defer func() {
		if err := s.Workspaces.Release(ws); err != nil {
			log.Error("workspace release failed", "error", err)
		}
	}()

	if err := t.advance(StageFetching); err != nil {
		return domain.Result{}, err
	}
	if err := s.Workspaces.Transition(ws, domain.WorkspaceFetching); err != nil {
		return domain.Result{}, err
	}
	out, err := s.Fetcher.Fetch(ctx, ws, req.RepoURL, req.Revision)
	if err != nil {
		ws.Discard()
		return domain.Result{}, err
	}
	log.Debug("revision fetched", "commit", out.Commit, "cloned", out.Cloned, "attempts", out.Attempts)
	if err := s.Workspaces.Transition(ws, domain.WorkspaceReady); err != nil {
		return domain.Result{}, err
	}

	if err := t.advance(StageAnalyzing); err != nil {
		return domain.Result{}, err
	}
	if err := s.Workspaces.Transition(ws, domain.WorkspaceAnalyzing); err != nil {
		return domain.Result{}, err
	}
	invs := s.runTools(ctx, tools, ws.SourceDir())
	if err := ctx.Err(); err != nil {
		// a half-run tool may have left junk behind
		ws.Discard()
		return domain.Result{}, fmt.Errorf("%w: %v", domain.ErrCanceled, err)
	}
	if err := s.Workspaces.Transition(ws, domain.WorkspaceReady); err != nil {
		return domain.Result{}, err
	}

	if err := t.advance(StageAggregating); err != nil {
		return domain.Result{}, err
	}
	res := s.Aggregator.Aggregate(invs)
	res.Commit = out.Commit
	res.TreeHash = out.TreeHash
	for id, rep := range res.Tools {
		s.metrics().ToolFinished(id, rep.Status, time.Duration(rep.DurationMS)*time.Millisecond)
	}
	s.archive(ctx, t.id, invs, log)
	if req.Summarize && s.Summarizer != nil {
		sum, err := s.Summarizer.Summarize(ctx, res)
		if err != nil {
			log.Warn("summary failed", "error", err)
		} else {
			res.Summary = sum
		}
	}
	return res, nil
}

// runTools waits for every tool; one tool failing never stops the others.
func (s *Service) runTools(ctx context.Context, tools []domain.ToolID, workdir string) []domain.Invocation {
	invs := make([]domain.Invocation, len(tools))
	var g errgroup.Group
	for i, id := range tools {
		spec := s.Tools[id]
		timeout := spec.Timeout
		if timeout <= 0 {
			timeout = s.ToolTimeout
		}
		g.Go(func() error {
			invs[i] = s.Runner.Run(ctx, spec, workdir, timeout)
			return nil
		})
	}
	_ = g.Wait()
	return invs
}

// selectTools validates and copies the requested tool list.
func (s *Service) selectTools(requested []domain.ToolID) ([]domain.ToolID, error) {
	if len(requested) == 0 {
		requested = s.DefaultTools
	}
	if len(requested) == 0 {
		return nil, fmt.Errorf("%w: no tools requested", domain.ErrInvalidRequest)
	}
	seen := make(map[domain.ToolID]bool, len(requested))
	out := make([]domain.ToolID, 0, len(requested))
	var unknown []string
	for _, id := range requested {
		id = domain.ToolID(strings.TrimSpace(string(id)))
		if seen[id] {
			continue
		}
		seen[id] = true
		if _, ok := s.Tools[id]; !ok {
			unknown = append(unknown, string(id))
			continue
		}
		out = append(out, id)
	}
	if len(unknown) > 0 {
		return nil, fmt.Errorf("%w: unknown tools %s", domain.ErrInvalidRequest, strings.Join(unknown, ", "))
	}
	return out, nil
}

// ToolSpecs returns the registered tools ordered by id.
func (s *Service) ToolSpecs() []domain.ToolSpec {
	out := make([]domain.ToolSpec, 0, len(s.Tools))
	for _, spec := range s.Tools {
		out = append(out, spec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// archive uploads raw tool output when an artifact store is configured.
func (s *Service) archive(ctx context.Context, requestID string, invs []domain.Invocation, log *slog.Logger) {
	if s.Artifacts == nil {
		return
	}
	for _, inv := range invs {
		for stream, data := range map[string][]byte{"stdout": inv.Stdout, "stderr": inv.Stderr} {
			if len(data) == 0 {
				continue
			}
			key := fmt.Sprintf("runs/%s/%s.%s.log", requestID, inv.Tool, stream)
			if _, err := s.Artifacts.Put(ctx, key, data, "text/plain"); err != nil {
				log.Warn("raw output upload failed", "key", key, "error", err)
			}
		}
	}
}

// record persists and announces the run. Both are best effort and run on
// a context that outlives a canceled request.
func (s *Service) record(ctx context.Context, res domain.Result, err error, log *slog.Logger) {
	if s.Runs == nil && s.Notifier == nil {
		return
	}
	run := domain.NewRunFromResult(res)
	if err != nil {
		run.Status = domain.RunFailed
		run.ErrorKind = domain.KindOf(err)
		run.Error = err.Error()
	}
	bg, cancel := context.WithTimeout(context.WithoutCancel(ctx), sideEffectTimeout)
	defer cancel()
	if s.Runs != nil {
		if err := s.Runs.Save(bg, run); err != nil {
			log.Warn("run history save failed", "error", err)
		}
	}
	if s.Notifier != nil {
		if err := s.Notifier.Notify(bg, run); err != nil {
			log.Warn("notification failed", "error", err)
		}
	}
}

// Run returns one persisted run.
func (s *Service) Run(ctx context.Context, id domain.RunID) (*domain.Run, error) {
	if s.Runs == nil {
		return nil, ErrHistoryDisabled
	}
	return s.Runs.Get(ctx, id)
}

// LatestRuns returns the most recent runs, newest first.
func (s *Service) LatestRuns(ctx context.Context, limit int) ([]*domain.Run, error) {
	if s.Runs == nil {
		return nil, ErrHistoryDisabled
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return s.Runs.Latest(ctx, limit)
}

func (s *Service) now() time.Time {
	if s.Now == nil {
		return time.Now()
	}
	return s.Now()
}

func (s *Service) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}

func (s *Service) metrics() Metrics {
	if s.Metrics == nil {
		return noMetrics{}
	}
	return s.Metrics
}

type noMetrics struct{}

func (noMetrics) AnalysisStarted() {}
func (noMetrics) AnalysisFinished(domain.Kind, time.Duration) {}
func (noMetrics) ToolFinished(domain.ToolID, domain.ToolStatus, time.Duration) {}
