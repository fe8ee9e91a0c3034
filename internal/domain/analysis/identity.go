package analysis

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// RepoIdentity is the normalized (URL, ref) pair that serializes workspace access.
type RepoIdentity struct {
	URL string
	Ref string
}

var (
	scpLike = regexp.MustCompile(`^([A-Za-z0-9._-]+@)?([A-Za-z0-9.-]+):(.+)$`)
	fullSHA = regexp.MustCompile(`^[0-9a-fA-F]{40}$`)
	slugBad = regexp.MustCompile(`[^a-z0-9._-]+`)
)

// NewRepoIdentity normalizes rawURL and ref so that equivalent requests
// map to the same identity.
func NewRepoIdentity(rawURL, ref string) (RepoIdentity, error) {
	u, err := NormalizeURL(rawURL)
	if err != nil {
		return RepoIdentity{}, err
	}
	return RepoIdentity{URL: u, Ref: CanonicalRef(ref)}, nil
}

// NormalizeURL lower-cases scheme and host, rewrites scp-style addresses to
// ssh:// and trims a trailing ".git" or "/".
func NormalizeURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("%w: repository url is empty", ErrInvalidRequest)
	}

	if !strings.Contains(raw, "://") && !strings.HasPrefix(raw, "/") {
		if m := scpLike.FindStringSubmatch(raw); m != nil {
			raw = "ssh://" + m[1] + m[2] + "/" + strings.TrimPrefix(m[3], "/")
		}
	}
	if strings.HasPrefix(raw, "/") {
		raw = "file://" + raw
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: invalid repository url: %v", ErrInvalidRequest, err)
	}
	if u.Scheme == "" || (u.Host == "" && u.Scheme != "file") {
		return "", fmt.Errorf("%w: invalid repository url %q", ErrInvalidRequest, raw)
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.RawQuery = ""
	u.Fragment = ""

	p := strings.TrimRight(u.Path, "/")
	p = strings.TrimSuffix(p, ".git")
	u.Path = p
	u.RawPath = ""
	return u.String(), nil
}

// CanonicalRef strips well-known ref prefixes; full SHAs are lower-cased.
func CanonicalRef(ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "HEAD"
	}
	ref = strings.TrimPrefix(ref, "refs/heads/")
	ref = strings.TrimPrefix(ref, "refs/tags/")
	if fullSHA.MatchString(ref) {
		ref = strings.ToLower(ref)
	}
	return ref
}

// Key is the serialization key of the identity.
func (id RepoIdentity) Key() string {
	return id.URL + "@" + id.Ref
}

// Slug is a filesystem-safe, collision-resistant directory name.
func (id RepoIdentity) Slug() string {
	sum := sha256.Sum256([]byte(id.Key()))
	name := id.URL
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	name = slugBad.ReplaceAllString(strings.ToLower(name), "-")
	name = strings.Trim(name, "-.")
	if len(name) > 32 {
		name = name[:32]
	}
	if name == "" {
		name = "repo"
	}
	return name + "-" + hex.EncodeToString(sum[:8])
}

func (id RepoIdentity) String() string { return id.Key() }
