package parser

import (
	"bufio"
	"bytes"
	"regexp"
	"strconv"
	"strings"

	domain "github.com/bryanwahyu/automaton-lint/internal/domain/analysis"
)

// vet diagnostics: path:line:col: message (column optional)
var vetLine = regexp.MustCompile(`^(?:vet: )?(.+?\.go):(\d+)(?::(\d+))?: (.+)$`)

// Vet parses the line format printed by go vet and x/tools multicheckers.
type Vet struct {
	Tool domain.ToolID
	Root string
}

func (p *Vet) Parse(raw []byte) ([]domain.Finding, error) {
	var (
		out          []domain.Finding
		unrecognised int
	)
	s := bufio.NewScanner(bytes.NewReader(raw))
	s.Buffer(make([]byte, 64*1024), 1024*1024)
	for s.Scan() {
		line := strings.TrimRight(s.Text(), "\r")
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") || toolchainNotice(trimmed) {
			continue
		}
		m := vetLine.FindStringSubmatch(trimmed)
		if m == nil {
			// continuation lines of a multi-line diagnostic are indented
			if strings.HasPrefix(line, "\t") || strings.HasPrefix(line, "    ") {
				continue
			}
			unrecognised++
			continue
		}
		ln, _ := strconv.Atoi(m[2])
		col := 0
		if m[3] != "" {
			col, _ = strconv.Atoi(m[3])
		}
		out = append(out, domain.Finding{
			Path:     relPath(p.Root, m[1]),
			Line:     ln,
			Column:   col,
			Severity: domain.SeverityWarning,
			Message:  strings.TrimSpace(m[4]),
			Tool:     p.Tool,
		})
	}
	if err := s.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 && unrecognised > 0 {
		return nil, ErrUnparseable
	}
	return out, nil
}

// toolchainNotice matches progress lines the go command prints while it
// prepares a build, e.g. "go: downloading example.com/mod v1.2.3".
func toolchainNotice(line string) bool {
	return strings.HasPrefix(line, "go: ")
}
