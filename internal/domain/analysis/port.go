package analysis

import (
	"context"
	"time"
)

// Parser turns the raw output of one tool into ordered findings.
type Parser interface {
	Parse(raw []byte) ([]Finding, error)
}

// FetchOutcome describes the checkout left in a workspace by a successful fetch.
type FetchOutcome struct {
	Commit   string `json:"commit"`
	TreeHash string `json:"tree_hash"`
	Cloned   bool   `json:"cloned"`
	Attempts int    `json:"attempts"`
}

// Runner port (external tool execution)
type Runner interface {
	Run(ctx context.Context, spec ToolSpec, workdir string, timeout time.Duration) Invocation
	Resolve(spec ToolSpec) error
}

// ArtifactStore port (raw output archive)
type ArtifactStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
}

// Summarizer produces a short human summary for a result.
type Summarizer interface {
	Summarize(ctx context.Context, res Result) (string, error)
}

// Notifier announces finished runs.
type Notifier interface {
	Notify(ctx context.Context, run *Run) error
}
