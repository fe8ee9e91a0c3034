package analysis

import (
	"context"
	"time"
)

// RunID identifies a persisted run record
type RunID string

// RunStatus enum
type RunStatus string

const (
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// Run is the history record of one request. It keeps the status summary
// only; findings are never stored.
type Run struct {
	ID         RunID                 `json:"id"`
	RepoURL    string                `json:"repo_url"`
	Revision   string                `json:"revision"`
	Commit     string                `json:"commit,omitempty"`
	Status     RunStatus             `json:"status"`
	ErrorKind  Kind                  `json:"error_kind,omitempty"`
	Error      string                `json:"error,omitempty"`
	Tools      map[ToolID]ToolReport `json:"tools,omitempty"`
	Counts     SeverityCounts        `json:"counts"`
	StartedAt  time.Time             `json:"started_at"`
	DurationMS int64                 `json:"duration_ms"`
}

// NewRunFromResult builds the completed history record of res.
func NewRunFromResult(res Result) *Run {
	return &Run{
		ID:         RunID(res.RequestID),
		RepoURL:    res.RepoURL,
		Revision:   res.Revision,
		Commit:     res.Commit,
		Status:     RunCompleted,
		Tools:      res.Tools,
		Counts:     res.Counts,
		StartedAt:  res.StartedAt,
		DurationMS: res.DurationMS,
	}
}

// RunRepository port (persistence of run history)
type RunRepository interface {
	Save(ctx context.Context, r *Run) error
	Get(ctx context.Context, id RunID) (*Run, error)
	Latest(ctx context.Context, limit int) ([]*Run, error)
}
