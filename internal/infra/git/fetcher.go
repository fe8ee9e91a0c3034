package git

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	domain "github.com/bryanwahyu/automaton-lint/internal/domain/analysis"
)

const (
	srcDir     = "src"
	readyFile  = "READY"
	stagingPfx = ".staging-"
)

type Config struct {
	// Binary is the git executable, "git" when empty.
	Binary string
	// RecloneAttempts bounds how many times a corrupt checkout is thrown away
	// and cloned again before the fetch gives up.
	RecloneAttempts int
	// Timeout bounds a whole fetch; zero leaves it to the caller.
	Timeout time.Duration
}

// Fetcher materializes a repository revision inside a workspace using the
// git command line.
type Fetcher struct {
	cfg    Config
	logger *slog.Logger
}

func NewFetcher(cfg Config, logger *slog.Logger) *Fetcher {
	if cfg.Binary == "" {
		cfg.Binary = "git"
	}
	if cfg.RecloneAttempts < 0 {
		cfg.RecloneAttempts = 0
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Fetcher{cfg: cfg, logger: logger}
}

// Fetch leaves ws.SourceDir() checked out at revision with no local
// modifications. A checkout left by an earlier request is updated in place;
// anything else is cloned from scratch.
func (f *Fetcher) Fetch(ctx context.Context, ws domain.Workspace, url, revision string) (domain.FetchOutcome, error) {
	revision = strings.TrimSpace(revision)
	if strings.HasPrefix(revision, "-") {
		return domain.FetchOutcome{}, fmt.Errorf("%w: revision %q", domain.ErrInvalidRequest, revision)
	}
	if strings.HasPrefix(url, "-") {
		return domain.FetchOutcome{}, fmt.Errorf("%w: repository url %q", domain.ErrInvalidRequest, url)
	}
	if f.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.cfg.Timeout)
		defer cancel()
	}

	out := domain.FetchOutcome{}
	reuse := f.ready(ws)
	for {
		out.Attempts++
		var (
			commit string
			err    error
		)
		if reuse {
			commit, err = f.update(ctx, ws, url, revision)
		} else {
			commit, err = f.clone(ctx, ws, url, revision)
		}
		if err == nil {
			return f.finish(ctx, ws, commit, !reuse, out)
		}
		if !errors.Is(err, domain.ErrWorkspaceCorrupt) || out.Attempts > f.cfg.RecloneAttempts {
			return out, err
		}
		f.logger.Warn("workspace corrupt, recloning",
			"repo", url, "revision", revision, "attempt", out.Attempts, "error", err)
		reuse = false
	}
}

func (f *Fetcher) finish(ctx context.Context, ws domain.Workspace, commit string, cloned bool, out domain.FetchOutcome) (domain.FetchOutcome, error) {
	src := ws.SourceDir()
	head, err := f.git(ctx, src, "rev-parse", "HEAD")
	if err != nil || head != commit {
		return out, f.fail(ctx, domain.ErrWorkspaceCorrupt, fmt.Errorf("HEAD is %q, want %s: %v", head, commit, err))
	}
	tree, err := f.git(ctx, src, "rev-parse", "HEAD^{tree}")
	if err != nil {
		return out, f.fail(ctx, domain.ErrWorkspaceCorrupt, err)
	}
	if err := os.WriteFile(filepath.Join(ws.Dir(), readyFile), []byte(commit+"\n"), 0o644); err != nil {
		return out, fmt.Errorf("%w: write marker: %v", domain.ErrWorkspaceCorrupt, err)
	}
	out.Commit = commit
	out.TreeHash = tree
	out.Cloned = cloned
	return out, nil
}

// ready reports whether ws holds a checkout a previous fetch completed.
func (f *Fetcher) ready(ws domain.Workspace) bool {
	if _, err := os.Stat(filepath.Join(ws.Dir(), readyFile)); err != nil {
		return false
	}
	st, err := os.Stat(filepath.Join(ws.SourceDir(), ".git"))
	return err == nil && st.IsDir()
}

func (f *Fetcher) clone(ctx context.Context, ws domain.Workspace, url, revision string) (string, error) {
	src := ws.SourceDir()
	_ = os.Remove(filepath.Join(ws.Dir(), readyFile))
	if err := os.RemoveAll(src); err != nil {
		return "", fmt.Errorf("%w: clear checkout: %v", domain.ErrWorkspaceCorrupt, err)
	}
	staging, err := os.MkdirTemp(ws.Dir(), stagingPfx+"*")
	if err != nil {
		return "", fmt.Errorf("%w: staging dir: %v", domain.ErrWorkspaceCorrupt, err)
	}
	ok := false
	defer func() {
		if !ok {
			_ = os.RemoveAll(staging)
		}
	}()

	if _, err := f.git(ctx, "", "clone", "--quiet", "--no-checkout", "--", url, staging); err != nil {
		return "", f.fail(ctx, domain.ErrFetchUnavailable, err)
	}
	commit, err := f.resolve(ctx, staging, revision)
	if err != nil {
		return "", err
	}
	if _, err := f.git(ctx, staging, "checkout", "--quiet", "--force", "--detach", commit); err != nil {
		return "", f.fail(ctx, domain.ErrWorkspaceCorrupt, err)
	}
	if err := os.Rename(staging, src); err != nil {
		return "", fmt.Errorf("%w: publish checkout: %v", domain.ErrWorkspaceCorrupt, err)
	}
	ok = true
	return commit, nil
}

func (f *Fetcher) update(ctx context.Context, ws domain.Workspace, url, revision string) (string, error) {
	src := ws.SourceDir()
	// the marker only comes back once the tree is known good again
	if err := os.Remove(filepath.Join(ws.Dir(), readyFile)); err != nil && !os.IsNotExist(err) {
		return "", fmt.Errorf("%w: clear marker: %v", domain.ErrWorkspaceCorrupt, err)
	}
	top, err := f.git(ctx, src, "rev-parse", "--show-toplevel")
	if err != nil {
		return "", f.fail(ctx, domain.ErrWorkspaceCorrupt, err)
	}
	if !samePath(top, src) {
		return "", fmt.Errorf("%w: checkout root is %s", domain.ErrWorkspaceCorrupt, top)
	}
	if _, err := f.git(ctx, src, "remote", "set-url", "origin", url); err != nil {
		return "", f.fail(ctx, domain.ErrWorkspaceCorrupt, err)
	}
	if _, err := f.git(ctx, src, "fetch", "--quiet", "--prune", "--tags", "--force", "origin"); err != nil {
		return "", f.fail(ctx, domain.ErrFetchUnavailable, err)
	}
	commit, err := f.resolve(ctx, src, revision)
	if err != nil {
		return "", err
	}
	if _, err := f.git(ctx, src, "checkout", "--quiet", "--force", "--detach", commit); err != nil {
		return "", f.fail(ctx, domain.ErrWorkspaceCorrupt, err)
	}
	if _, err := f.git(ctx, src, "clean", "-ffdxq"); err != nil {
		return "", f.fail(ctx, domain.ErrWorkspaceCorrupt, err)
	}
	return commit, nil
}

// objectName matches abbreviated and full commit hashes.
var objectName = regexp.MustCompile(`^[0-9a-fA-F]{4,64}$`)

// resolve maps revision to a commit SHA in the repository at dir. Branch
// names only resolve through origin, so a branch deleted upstream is not
// found even though clone left a local copy of it. Anything unknown is
// asked for from origin directly, which covers SHAs outside advertised refs.
func (f *Fetcher) resolve(ctx context.Context, dir, revision string) (string, error) {
	ref := domain.CanonicalRef(revision)
	candidates := []string{"refs/remotes/origin/" + ref, "refs/tags/" + ref}
	switch {
	case ref == "HEAD":
		candidates = []string{"refs/remotes/origin/HEAD"}
	case objectName.MatchString(ref):
		candidates = append(candidates, ref)
	}
	for _, c := range candidates {
		if sha, err := f.git(ctx, dir, "rev-parse", "--verify", "--quiet", c+"^{commit}"); err == nil && sha != "" {
			return sha, nil
		}
		if ctx.Err() != nil {
			return "", f.fail(ctx, domain.ErrFetchUnavailable, ctx.Err())
		}
	}
	if ref != "HEAD" {
		if _, err := f.git(ctx, dir, "fetch", "--quiet", "origin", ref); err == nil {
			if sha, err := f.git(ctx, dir, "rev-parse", "--verify", "--quiet", "FETCH_HEAD^{commit}"); err == nil && sha != "" {
				return sha, nil
			}
		} else if ctx.Err() != nil {
			return "", f.fail(ctx, domain.ErrFetchUnavailable, err)
		}
	}
	return "", fmt.Errorf("%w: %s", domain.ErrRevisionNotFound, revision)
}

// fail wraps err in kind, unless the context ended first.
func (f *Fetcher) fail(ctx context.Context, kind, err error) error {
	switch {
	case errors.Is(ctx.Err(), context.Canceled):
		return fmt.Errorf("%w: %v", domain.ErrCanceled, err)
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return fmt.Errorf("%w: %w: %v", domain.ErrFetchUnavailable, domain.ErrTimeout, err)
	}
	return fmt.Errorf("%w: %v", kind, err)
}

func (f *Fetcher) git(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, f.cfg.Binary, args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(),
		"GIT_TERMINAL_PROMPT=0",
		"GIT_ASKPASS=true",
		"LC_ALL=C",
	)
	if dir != "" {
		// never let a broken checkout fall through to an enclosing repository
		cmd.Env = append(cmd.Env, "GIT_CEILING_DIRECTORIES="+filepath.Dir(dir))
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return strings.TrimSpace(string(out)), fmt.Errorf("git %s: %w: %s", args[0], err, strings.TrimSpace(stderr.String()))
	}
	return strings.TrimSpace(string(out)), nil
}

func samePath(a, b string) bool {
	ra, err1 := filepath.EvalSymlinks(a)
	rb, err2 := filepath.EvalSymlinks(b)
	if err1 != nil || err2 != nil {
		return filepath.Clean(a) == filepath.Clean(b)
	}
	return ra == rb
}
