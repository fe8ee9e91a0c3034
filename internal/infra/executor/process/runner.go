package process

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"time"

	"github.com/google/uuid"

	domain "github.com/bryanwahyu/automaton-lint/internal/domain/analysis"
)

const (
	defaultWaitDelay = 2 * time.Second
	defaultMaxOutput = 16 << 20
	// ContainerSrc is where the checkout is mounted inside a tool container.
	ContainerSrc     = "/src"
)

type Option func(*Runner)

// WithDocker sets the container CLI used for tools that declare an image.
func WithDocker(bin string) Option { return func(r *Runner) { r.docker = bin } }

// WithWaitDelay bounds how long Run waits for output pipes after the tool was killed.
func WithWaitDelay(d time.Duration) Option { return func(r *Runner) { r.waitDelay = d } }

// WithMaxOutput caps the bytes kept per stream; the rest is drained and dropped.
func WithMaxOutput(n int) Option { return func(r *Runner) { r.maxOutput = n } }

func WithLogger(l *slog.Logger) Option { return func(r *Runner) { r.logger = l } }

// Runner launches analysis tools as child processes, either directly or
// inside a container with the checkout mounted read-only.
type Runner struct {
	docker    string
	waitDelay time.Duration
	maxOutput int
	logger    *slog.Logger
}

func NewRunner(opts ...Option) *Runner {
	r := &Runner{
		docker:    "docker",
		waitDelay: defaultWaitDelay,
		maxOutput: defaultMaxOutput,
		logger:    slog.Default(),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Run executes spec in workdir and always returns an invocation; failures
// are described by its Status and Err. timeout falls back to spec.Timeout
// when zero. The whole process group is killed when the deadline passes or
// ctx is canceled.
func (r *Runner) Run(ctx context.Context, spec domain.ToolSpec, workdir string, timeout time.Duration) domain.Invocation {
	inv := domain.Invocation{
		Tool:          spec.ID,
		WorkspacePath: workdir,
		Stream:        spec.Stream,
		StartedAt:     time.Now(),
		ExitCode:      -1,
	}
	if inv.Stream == "" {
		inv.Stream = domain.StreamStdout
	}
	if timeout <= 0 {
		timeout = spec.Timeout
	}

	var (
		runCtx context.Context
		cancel context.CancelFunc
	)
	if timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, timeout)
	} else {
		runCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	name, args, container := r.command(spec, workdir)
	cmd := exec.CommandContext(runCtx, name, args...)
	cmd.Dir = workdir
	cmd.Env = append(os.Environ(), spec.Env...)
	stdout := &capped{max: r.maxOutput}
	stderr := &capped{max: r.maxOutput}
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.WaitDelay = r.waitDelay

	var stopContainer func()
	if container != "" {
		stopContainer = func() {
			// the CLI dying does not stop the container
			kill := exec.Command(r.docker, "kill", container)
			if err := kill.Run(); err != nil {
				r.logger.Debug("container kill failed", "container", container, "error", err)
			}
		}
	}
	killGroup(cmd, stopContainer)

	err := cmd.Run()
	inv.EndedAt = time.Now()
	inv.Stdout = stdout.Bytes()
	inv.Stderr = stderr.Bytes()
	if stdout.truncated || stderr.truncated {
		r.logger.Warn("tool output truncated", "tool", spec.ID, "limit", r.maxOutput)
	}

	var exitErr *exec.ExitError
	switch {
	case ctx.Err() != nil:
		inv.Status = domain.InvocationCanceled
		inv.Err = fmt.Errorf("%w: %v", domain.ErrCanceled, ctx.Err())
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		inv.Status = domain.InvocationTimeout
		inv.Err = fmt.Errorf("%w: %s exceeded %s", domain.ErrTimeout, spec.ID, timeout)
	case err == nil:
		inv.Status = domain.InvocationExited
		inv.ExitCode = 0
	case errors.Is(err, exec.ErrWaitDelay) && cmd.ProcessState != nil:
		// exited on its own but left a child holding the pipes
		inv.Status = domain.InvocationExited
		inv.ExitCode = cmd.ProcessState.ExitCode()
	case errors.As(err, &exitErr) && exitErr.ExitCode() >= 0:
		inv.Status = domain.InvocationExited
		inv.ExitCode = exitErr.ExitCode()
	default:
		inv.Status = domain.InvocationFailed
		inv.Err = fmt.Errorf("%w: %s: %v", domain.ErrToolExecutionFailed, spec.ID, err)
	}
	return inv
}

// Resolve checks that the executable behind spec can be found.
func (r *Runner) Resolve(spec domain.ToolSpec) error {
	bin := spec.Binary
	if spec.Image != "" {
		bin = r.docker
	}
	if bin == "" {
		return fmt.Errorf("%w: %s has no binary configured", domain.ErrToolExecutionFailed, spec.ID)
	}
	if _, err := exec.LookPath(bin); err != nil {
		return fmt.Errorf("%w: %s: %v", domain.ErrToolExecutionFailed, spec.ID, err)
	}
	return nil
}

// command returns the program and arguments for spec, and the container
// name when it runs in one.
func (r *Runner) command(spec domain.ToolSpec, workdir string) (string, []string, string) {
	if spec.Image == "" {
		return spec.Binary, spec.Args, ""
	}
	name := fmt.Sprintf("lint-%s-%s", spec.ID, uuid.NewString()[:8])
	args := []string{"run", "--rm", "--name", name,
		"-v", fmt.Sprintf("%s:%s:ro", workdir, ContainerSrc),
		"-w", ContainerSrc,
	}
	for _, e := range spec.Env {
		args = append(args, "-e", e)
	}
	args = append(args, spec.Image)
	if spec.Binary != "" {
		args = append(args, spec.Binary)
	}
	args = append(args, spec.Args...)
	return r.docker, args, name
}

// capped keeps the first max bytes written and silently drops the rest.
type capped struct {
	buf       []byte
	max       int
	truncated bool
}

func (c *capped) Write(p []byte) (int, error) {
	room := c.max - len(c.buf)
	if room <= 0 {
		c.truncated = c.truncated || len(p) > 0
		return len(p), nil
	}
	if len(p) > room {
		c.buf = append(c.buf, p[:room]...)
		c.truncated = true
		return len(p), nil
	}
	c.buf = append(c.buf, p...)
	return len(p), nil
}

func (c *capped) Bytes() []byte { return c.buf }
