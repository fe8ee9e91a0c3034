package analysis

import "context"

// WorkspaceState of a checkout slot
type WorkspaceState string

const (
	WorkspaceFree      WorkspaceState = "free"
	WorkspaceFetching  WorkspaceState = "fetching"
	WorkspaceReady     WorkspaceState = "ready"
	WorkspaceAnalyzing WorkspaceState = "analyzing"
	WorkspaceReleasing WorkspaceState = "releasing"
)

// Workspace is a handle on a checkout slot held by exactly one request.
// Callers never build paths themselves; they ask the handle.
type Workspace interface {
	Identity() RepoIdentity
	// Dir is the slot directory owned by the handle.
	Dir() string
	// SourceDir is where the checked-out tree lives inside Dir.
	SourceDir() string
	State() WorkspaceState
	// Discard marks the slot for destruction on release.
	Discard()
}

// WorkspaceManager port
type WorkspaceManager interface {
	Acquire(ctx context.Context, id RepoIdentity) (Workspace, error)
	Transition(ws Workspace, to WorkspaceState) error
	Release(ws Workspace) error
	// Fatal returns the process-level error that stopped acquisition, if any.
	Fatal() error
}

// Fetcher port (repository checkout)
type Fetcher interface {
	Fetch(ctx context.Context, ws Workspace, url, revision string) (FetchOutcome, error)
}
