package parser

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	domain "github.com/bryanwahyu/automaton-lint/internal/domain/analysis"
)

// ErrUnparseable is returned when a tool produced output that none of the
// expected patterns recognise.
var ErrUnparseable = errors.New("unparseable tool output")

// For returns the parser registered under format. tool is stamped on every
// finding and root is stripped from absolute paths.
func For(format string, tool domain.ToolID, root string) (domain.Parser, error) {
	switch strings.ToLower(format) {
	case "vet", "":
		return &Vet{Tool: tool, Root: root}, nil
	case "golangci", "golangci-lint":
		return &Golangci{Tool: tool, Root: root}, nil
	case "gotest", "go-test":
		return &GoTest{Tool: tool, Root: root}, nil
	default:
		return nil, fmt.Errorf("unsupported output format: %s", format)
	}
}

// relPath makes p relative to root when possible and normalizes separators.
func relPath(root, p string) string {
	p = strings.TrimSpace(p)
	if root != "" && filepath.IsAbs(p) {
		if rel, err := filepath.Rel(root, p); err == nil && !strings.HasPrefix(rel, "..") {
			p = rel
		}
	}
	p = filepath.ToSlash(filepath.Clean(p))
	return strings.TrimPrefix(p, "./")
}
