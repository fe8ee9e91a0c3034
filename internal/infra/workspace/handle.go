package workspace

import (
	"path/filepath"

	domain "github.com/bryanwahyu/automaton-lint/internal/domain/analysis"
)

// Handle is the exclusive claim of one request on one workspace slot.
type Handle struct {
	m   *Manager
	id  domain.RepoIdentity
	dir string

	// guarded by m.mu
	state    domain.WorkspaceState
	ready    bool
	discard  bool
	released bool
}

func (h *Handle) Identity() domain.RepoIdentity { return h.id }

func (h *Handle) Dir() string { return h.dir }

func (h *Handle) SourceDir() string { return filepath.Join(h.dir, "src") }

func (h *Handle) State() domain.WorkspaceState {
	h.m.mu.Lock()
	defer h.m.mu.Unlock()
	return h.state
}

func (h *Handle) Discard() {
	h.m.mu.Lock()
	h.discard = true
	h.m.mu.Unlock()
}
