package workspace

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"
	"golang.org/x/sync/semaphore"

	domain "github.com/bryanwahyu/automaton-lint/internal/domain/analysis"
)

const trashDir = ".trash"

// Config holds configuration for the workspace manager
type Config struct {
	Root string
	// MaxConcurrent bounds the number of checked-out workspaces.
	MaxConcurrent int
	// MaxQueue bounds the number of requests waiting for a workspace.
	MaxQueue int
	// AcquireTimeout bounds how long a request waits; zero waits for the caller's context.
	AcquireTimeout time.Duration
	// Retain is the number of released checkouts kept for reuse.
	Retain int
}

// Observer sees every state change of every workspace, under the manager lock.
type Observer func(id domain.RepoIdentity, from, to domain.WorkspaceState)

type Option func(*Manager)

func WithLogger(l *slog.Logger) Option { return func(m *Manager) { m.logger = l } }

func WithObserver(o Observer) Option { return func(m *Manager) { m.observer = o } }

// Manager owns the workspace root and hands out one checkout per repository
// identity at a time. Requests for the same identity are served in arrival
// order; different identities proceed in parallel up to MaxConcurrent.
type Manager struct {
	cfg      Config
	logger   *slog.Logger
	observer Observer

	slots    *semaphore.Weighted
	admitted atomic.Int64
	seq      atomic.Uint64
	reapers  sync.WaitGroup

	mu     sync.Mutex
	queues map[string]*keyQueue
	active map[string]*Handle
	warm   *simplelru.LRU[string, string]
	doomed []string
	fatal  error
}

type keyQueue struct {
	waiters []chan struct{}
}

// New prepares the root directory. An unwritable root is fatal.
func New(cfg Config, opts ...Option) (*Manager, error) {
	if cfg.Root == "" {
		return nil, fmt.Errorf("workspace root is required")
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 4
	}
	if cfg.MaxQueue < 0 {
		cfg.MaxQueue = 0
	}

	m := &Manager{
		cfg:    cfg,
		logger: slog.Default(),
		slots:  semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		queues: make(map[string]*keyQueue),
		active: make(map[string]*Handle),
	}
	for _, o := range opts {
		o(m)
	}

	if cfg.Retain > 0 {
		warm, err := simplelru.NewLRU[string, string](cfg.Retain, m.onEvict)
		if err != nil {
			return nil, err
		}
		m.warm = warm
	}

	if err := m.prepareRoot(); err != nil {
		return nil, err
	}
	return m, nil
}

// prepareRoot creates the root and sweeps slots left by a previous process;
// they are not tracked and could be half written.
func (m *Manager) prepareRoot() error {
	if err := os.MkdirAll(filepath.Join(m.cfg.Root, trashDir), 0o755); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrWorkspaceRootUnwritable, err)
	}
	if err := m.CheckWritable(); err != nil {
		return err
	}
	entries, err := os.ReadDir(m.cfg.Root)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrWorkspaceRootUnwritable, err)
	}
	m.mu.Lock()
	for _, e := range entries {
		if e.Name() == trashDir || !e.IsDir() {
			continue
		}
		m.trash(filepath.Join(m.cfg.Root, e.Name()))
	}
	stale, _ := os.ReadDir(filepath.Join(m.cfg.Root, trashDir))
	for _, e := range stale {
		m.doomed = append(m.doomed, filepath.Join(m.cfg.Root, trashDir, e.Name()))
	}
	m.mu.Unlock()
	m.reap()
	return nil
}

// Root returns the workspace root directory.
func (m *Manager) Root() string { return m.cfg.Root }

// CheckWritable checks that the root still accepts writes.
func (m *Manager) CheckWritable() error {
	f, err := os.CreateTemp(m.cfg.Root, ".writable-*")
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrWorkspaceRootUnwritable, err)
	}
	name := f.Name()
	f.Close()
	if err := os.Remove(name); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrWorkspaceRootUnwritable, err)
	}
	return nil
}

// Fatal returns the error that stopped the manager, if any.
func (m *Manager) Fatal() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fatal
}

// Acquire blocks until the workspace for id is free and a slot is available.
// It fails with ErrBusy when too many requests are already waiting and with
// ErrWorkspaceUnavailable once AcquireTimeout has passed.
func (m *Manager) Acquire(ctx context.Context, id domain.RepoIdentity) (domain.Workspace, error) {
	if err := m.Fatal(); err != nil {
		return nil, err
	}
	limit := int64(m.cfg.MaxConcurrent + m.cfg.MaxQueue)
	if n := m.admitted.Add(1); n > limit {
		m.admitted.Add(-1)
		return nil, fmt.Errorf("%w: %d requests in flight", domain.ErrBusy, n-1)
	}
	ok := false
	defer func() {
		if !ok {
			m.admitted.Add(-1)
		}
	}()

	waitCtx := ctx
	if m.cfg.AcquireTimeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, m.cfg.AcquireTimeout)
		defer cancel()
	}

	key := id.Key()
	if err := m.lockKey(waitCtx, key); err != nil {
		return nil, m.waitErr(ctx, id)
	}
	if err := m.slots.Acquire(waitCtx, 1); err != nil {
		m.unlockKey(key)
		return nil, m.waitErr(ctx, id)
	}

	h, err := m.bind(id)
	if err != nil {
		m.slots.Release(1)
		m.unlockKey(key)
		return nil, err
	}
	ok = true
	return h, nil
}

func (m *Manager) waitErr(ctx context.Context, id domain.RepoIdentity) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrCanceled, err)
	}
	return fmt.Errorf("%w: waited %s for %s", domain.ErrWorkspaceUnavailable, m.cfg.AcquireTimeout, id)
}

func (m *Manager) bind(id domain.RepoIdentity) (*Handle, error) {
	dir := filepath.Join(m.cfg.Root, id.Slug())
	h := &Handle{m: m, id: id, dir: dir, state: domain.WorkspaceFree}

	m.mu.Lock()
	m.active[id.Key()] = h
	if m.warm != nil {
		// active entries are skipped by onEvict, so this only drops the entry
		m.warm.Remove(id.Key())
	}
	m.mu.Unlock()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		fatal := fmt.Errorf("%w: %v", domain.ErrWorkspaceRootUnwritable, err)
		m.mu.Lock()
		delete(m.active, id.Key())
		if m.fatal == nil {
			m.fatal = fatal
		}
		m.mu.Unlock()
		m.logger.Error("workspace root unwritable, refusing further requests", "root", m.cfg.Root, "error", err)
		return nil, fatal
	}
	return h, nil
}

var transitions = map[domain.WorkspaceState][]domain.WorkspaceState{
	domain.WorkspaceFree:      {domain.WorkspaceFetching},
	domain.WorkspaceFetching:  {domain.WorkspaceReady},
	domain.WorkspaceReady:     {domain.WorkspaceAnalyzing},
	domain.WorkspaceAnalyzing: {domain.WorkspaceReady},
}

// Transition moves ws to state to. Releasing is reserved for Release.
func (m *Manager) Transition(ws domain.Workspace, to domain.WorkspaceState) error {
	h, err := m.own(ws)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if h.released {
		return fmt.Errorf("workspace %s already released", h.id)
	}
	for _, allowed := range transitions[h.state] {
		if allowed == to {
			m.setState(h, to)
			return nil
		}
	}
	return fmt.Errorf("invalid workspace transition %s -> %s", h.state, to)
}

// Release returns ws to the pool. Calling it again is a no-op.
func (m *Manager) Release(ws domain.Workspace) error {
	h, err := m.own(ws)
	if err != nil {
		return err
	}

	m.mu.Lock()
	if h.released {
		m.mu.Unlock()
		return nil
	}
	h.released = true
	key := h.id.Key()
	m.setState(h, domain.WorkspaceReleasing)
	delete(m.active, key)

	if m.warm != nil && h.ready && !h.discard {
		m.warm.Add(key, h.dir)
	} else {
		m.trash(h.dir)
	}
	m.setState(h, domain.WorkspaceFree)
	m.mu.Unlock()

	m.reap()
	m.slots.Release(1)
	m.unlockKey(key)
	m.admitted.Add(-1)
	return nil
}

// Close waits for background removals to finish.
func (m *Manager) Close() {
	m.reapers.Wait()
}

// Stats is a point-in-time view used by health and metrics.
type Stats struct {
	Active   int `json:"active"`
	Admitted int `json:"admitted"`
	Warm     int `json:"warm"`
}

func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := Stats{Active: len(m.active), Admitted: int(m.admitted.Load())}
	if m.warm != nil {
		s.Warm = m.warm.Len()
	}
	return s
}

func (m *Manager) own(ws domain.Workspace) (*Handle, error) {
	h, ok := ws.(*Handle)
	if !ok || h == nil || h.m != m {
		return nil, errors.New("workspace handle does not belong to this manager")
	}
	return h, nil
}

// setState requires m.mu.
func (m *Manager) setState(h *Handle, to domain.WorkspaceState) {
	from := h.state
	h.state = to
	if to == domain.WorkspaceReady {
		h.ready = true
	}
	if m.observer != nil {
		m.observer(h.id, from, to)
	}
}

// onEvict runs under m.mu from inside the LRU.
func (m *Manager) onEvict(key string, dir string) {
	if _, busy := m.active[key]; busy {
		return
	}
	m.trash(dir)
}

// trash renames dir out of the way so the slot path is free immediately;
// the actual removal happens in reap. Requires m.mu.
func (m *Manager) trash(dir string) {
	dst := filepath.Join(m.cfg.Root, trashDir, fmt.Sprintf("%s-%d", filepath.Base(dir), m.seq.Add(1)))
	if err := os.Rename(dir, dst); err != nil {
		if os.IsNotExist(err) {
			return
		}
		m.logger.Warn("rename into trash failed, removing in place", "dir", dir, "error", err)
		if err := os.RemoveAll(dir); err != nil {
			m.logger.Error("failed to remove workspace", "dir", dir, "error", err)
		}
		return
	}
	m.doomed = append(m.doomed, dst)
}

func (m *Manager) reap() {
	m.mu.Lock()
	doomed := m.doomed
	m.doomed = nil
	m.mu.Unlock()
	if len(doomed) == 0 {
		return
	}
	m.reapers.Add(1)
	go func() {
		defer m.reapers.Done()
		for _, d := range doomed {
			if err := os.RemoveAll(d); err != nil {
				m.logger.Warn("failed to remove trashed workspace", "dir", d, "error", err)
			}
		}
	}()
}

func (m *Manager) lockKey(ctx context.Context, key string) error {
	m.mu.Lock()
	q, held := m.queues[key]
	if !held {
		m.queues[key] = &keyQueue{}
		m.mu.Unlock()
		return nil
	}
	ch := make(chan struct{})
	q.waiters = append(q.waiters, ch)
	m.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		m.mu.Lock()
		for i, w := range q.waiters {
			if w == ch {
				q.waiters = append(q.waiters[:i], q.waiters[i+1:]...)
				m.mu.Unlock()
				return ctx.Err()
			}
		}
		m.mu.Unlock()
		// ownership was handed over while we gave up; pass it on
		m.unlockKey(key)
		return ctx.Err()
	}
}

func (m *Manager) unlockKey(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q := m.queues[key]
	if q == nil {
		return
	}
	if len(q.waiters) == 0 {
		delete(m.queues, key)
		return
	}
	next := q.waiters[0]
	q.waiters = q.waiters[1:]
	close(next)
}
