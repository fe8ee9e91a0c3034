package analysis

import "time"

// Stream selects which output stream of a tool carries its findings.
type Stream string

const (
	StreamStdout Stream = "stdout"
	StreamStderr Stream = "stderr"
)

// ToolSpec describes how to launch one external tool.
type ToolSpec struct {
	ID      ToolID
	Binary  string
	Args    []string
	Image   string // when set the tool runs in a container with the tree mounted read-only
	Env     []string
	Stream  Stream
	Format  string // parser name: vet | golangci | gotest
	Timeout time.Duration
}

// InvocationStatus is the execution-level outcome of a tool process.
type InvocationStatus string

const (
	InvocationExited   InvocationStatus = "exited"
	InvocationTimeout  InvocationStatus = "timeout"
	InvocationCanceled InvocationStatus = "canceled"
	InvocationFailed   InvocationStatus = "failed"
)

// Invocation is one tool run against one workspace. WorkspacePath is a
// plain reference; the invocation never owns the workspace. Invocations are
// dropped after aggregation.
type Invocation struct {
	Tool          ToolID
	WorkspacePath string
	StartedAt     time.Time
	EndedAt       time.Time
	Status        InvocationStatus
	ExitCode      int
	Stdout        []byte
	Stderr        []byte
	Stream        Stream
	Err           error
}

// Raw returns the bytes of the stream that carries findings.
func (i Invocation) Raw() []byte {
	if i.Stream == StreamStderr {
		return i.Stderr
	}
	return i.Stdout
}

func (i Invocation) Duration() time.Duration {
	if i.EndedAt.IsZero() {
		return 0
	}
	return i.EndedAt.Sub(i.StartedAt)
}
