package analysis

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// ToolID identifies a configured analysis tool ("vet", "lint", ...).
type ToolID string

// Severity of a single finding
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
)

// ParseSeverity maps tool-specific severity labels onto the three levels we serve.
func ParseSeverity(s string, fallback Severity) Severity {
	switch s {
	case "error", "Error", "ERROR", "critical", "high", "fatal":
		return SeverityError
	case "warning", "Warning", "WARNING", "warn", "medium":
		return SeverityWarning
	case "info", "Info", "INFO", "note", "low", "informational":
		return SeverityInfo
	}
	return fallback
}

// ToolStatus as reported to the caller
type ToolStatus string

const (
	ToolOK      ToolStatus = "ok"
	ToolFailed  ToolStatus = "failed"
	ToolTimeout ToolStatus = "timeout"
)

// Request is the accepted analysis request. Treat it as a value: the
// service copies Tools before using it.
type Request struct {
	RepoURL   string   `json:"repoUrl"`
	Revision  string   `json:"revision"`
	Tools     []ToolID `json:"tools"`
	Summarize bool     `json:"summarize,omitempty"`
}

// Finding is an immutable normalized issue.
type Finding struct {
	Path     string   `json:"path"`
	Line     int      `json:"line"`
	Column   int      `json:"column"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
	Tool     ToolID   `json:"tool"`
	Rule     string   `json:"rule,omitempty"`
}

// FindingKey is the uniqueness key of a Finding.
type FindingKey struct {
	Path        string
	Line        int
	Column      int
	MessageHash string
}

func (f Finding) Key() FindingKey {
	sum := sha256.Sum256([]byte(f.Message))
	return FindingKey{
		Path:        f.Path,
		Line:        f.Line,
		Column:      f.Column,
		MessageHash: hex.EncodeToString(sum[:]),
	}
}

// Less orders findings by (path, line, column); message and tool break ties
// so that sorting is total and repeatable.
func (f Finding) Less(o Finding) bool {
	if f.Path != o.Path {
		return f.Path < o.Path
	}
	if f.Line != o.Line {
		return f.Line < o.Line
	}
	if f.Column != o.Column {
		return f.Column < o.Column
	}
	if f.Message != o.Message {
		return f.Message < o.Message
	}
	return f.Tool < o.Tool
}

// SeverityCounts value object
type SeverityCounts struct {
	Error   int `json:"error"`
	Warning int `json:"warning"`
	Info    int `json:"info"`
	Total   int `json:"total"`
}

func (c *SeverityCounts) Add(s Severity) {
	switch s {
	case SeverityError:
		c.Error++
	case SeverityWarning:
		c.Warning++
	default:
		c.Info++
	}
	c.Total++
}

// ToolReport is the per-tool status summary of one request.
type ToolReport struct {
	Status     ToolStatus `json:"status"`
	ExitCode   int        `json:"exit_code"`
	// Findings is what the tool reported. Kept is how many of those survived
	// deduplication; Kept summed over all tools equals Counts.Total.
	Findings   int        `json:"findings"`
	Kept       int        `json:"kept"`
	Error      string     `json:"error,omitempty"`
	DurationMS int64      `json:"duration_ms"`
}

// Result is returned to the caller and never stored as a whole.
type Result struct {
	RequestID  string                `json:"request_id"`
	RepoURL    string                `json:"repo_url"`
	Revision   string                `json:"revision"`
	Commit     string                `json:"commit,omitempty"`
	TreeHash   string                `json:"tree_hash,omitempty"`
	Findings   []Finding             `json:"findings"`
	Tools      map[ToolID]ToolReport `json:"tools"`
	Counts     SeverityCounts        `json:"counts"`
	StartedAt  time.Time             `json:"started_at"`
	DurationMS int64                 `json:"duration_ms"`
	Summary    string                `json:"summary,omitempty"`
}

// Failed reports whether any requested tool could not produce a clean report.
func (r Result) Failed() []ToolID {
	var out []ToolID
	for id, rep := range r.Tools {
		if rep.Status != ToolOK {
			out = append(out, id)
		}
	}
	return out
}
