package middleware

import (
	"fmt"
	"net"
	"net/url"
	"regexp"
	"sort"
	"strings"

	domain "github.com/bryanwahyu/automaton-lint/internal/domain/analysis"
)

// Input validation and sanitization utilities. Every error wraps
// domain.ErrInvalidRequest.

var (
	toolPattern     = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,31}$`)
	revisionPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._/+-]{0,254}$`)
	runIDPattern    = regexp.MustCompile(`^[a-f0-9]{8}-[a-f0-9]{4}-[a-f0-9]{4}-[a-f0-9]{4}-[a-f0-9]{12}$`)
	scpPattern      = regexp.MustCompile(`^[A-Za-z0-9._-]+@([A-Za-z0-9.-]+):[^\s]+$`)
)

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", domain.ErrInvalidRequest, fmt.Sprintf(format, args...))
}

// ValidateTool checks the tool name against the configured tools
func ValidateTool(tool string, allowed map[domain.ToolID]domain.ToolSpec) error {
	if !toolPattern.MatchString(tool) {
		return invalid("invalid tool name %q", tool)
	}
	if _, ok := allowed[domain.ToolID(tool)]; !ok {
		names := make([]string, 0, len(allowed))
		for id := range allowed {
			names = append(names, string(id))
		}
		sort.Strings(names)
		return invalid("unknown tool %s (configured: %s)", tool, strings.Join(names, ", "))
	}
	return nil
}

// ValidateRepoURL accepts http(s), ssh and git URLs plus scp-style
// addresses. Local repositories (file:// or absolute paths) and hosts on
// loopback or private ranges are only allowed with allowLocal.
func ValidateRepoURL(rawURL string, allowLocal bool) error {
	if rawURL == "" {
		return invalid("repoUrl cannot be empty")
	}
	if strings.ContainsAny(rawURL, "\x00\r\n\t ") {
		return invalid("repoUrl contains whitespace or control characters")
	}
	if strings.HasPrefix(rawURL, "-") {
		return invalid("repoUrl must not start with '-'")
	}

	if strings.HasPrefix(rawURL, "/") {
		if !allowLocal {
			return invalid("local repositories are not allowed")
		}
		return nil
	}
	if !strings.Contains(rawURL, "://") {
		m := scpPattern.FindStringSubmatch(rawURL)
		if m == nil {
			return invalid("invalid repoUrl format")
		}
		return checkHost(m[1], allowLocal)
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return invalid("invalid repoUrl format: %v", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "https", "http", "ssh", "git":
	case "file":
		if !allowLocal {
			return invalid("local repositories are not allowed")
		}
		return nil
	default:
		return invalid("invalid repoUrl scheme: %s (allowed: https, http, ssh, git)", u.Scheme)
	}
	if u.Hostname() == "" {
		return invalid("repoUrl has no host")
	}
	return checkHost(u.Hostname(), allowLocal)
}

// checkHost blocks loopback, link-local and private addresses (SSRF).
func checkHost(host string, allowLocal bool) error {
	if allowLocal {
		return nil
	}
	host = strings.ToLower(strings.Trim(host, "[]"))
	if host == "localhost" || strings.HasSuffix(host, ".localhost") {
		return invalid("localhost/internal hosts are not allowed")
	}
	if ip := net.ParseIP(host); ip != nil {
		if ip.IsLoopback() || ip.IsPrivate() || ip.IsUnspecified() ||
			ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() {
			return invalid("private IP ranges are not allowed")
		}
	}
	return nil
}

// ValidateRevision accepts branch, tag and commit names. Empty means the
// default branch.
func ValidateRevision(rev string) error {
	if rev == "" {
		return nil
	}
	if !revisionPattern.MatchString(rev) || strings.Contains(rev, "..") ||
		strings.HasSuffix(rev, "/") || strings.HasSuffix(rev, ".lock") {
		return invalid("invalid revision %q", rev)
	}
	return nil
}

// ValidateRunID validates run ID format
func ValidateRunID(id string) error {
	if !runIDPattern.MatchString(id) {
		return invalid("invalid run ID format")
	}
	return nil
}

// SanitizeString removes dangerous characters from strings
func SanitizeString(input string) string {
	input = strings.ReplaceAll(input, "\x00", "")

	var result strings.Builder
	for _, r := range input {
		if r >= 32 || r == '\t' || r == '\n' {
			result.WriteRune(r)
		}
	}

	return strings.TrimSpace(result.String())
}

// ValidateLimit validates pagination limit
func ValidateLimit(limit int) int {
	if limit <= 0 {
		return 20 // default
	}
	if limit > 100 {
		return 100 // max limit
	}
	return limit
}
