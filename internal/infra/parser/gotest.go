package parser

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	domain "github.com/bryanwahyu/automaton-lint/internal/domain/analysis"
)

// go test location prefix inside test output: "    foo_test.go:12: message"
var testLoc = regexp.MustCompile(`^\s+([^\s:]+\.go):(\d+): (.+)$`)

// GoTest turns failing tests of a `go test -json` stream into findings.
type GoTest struct {
	Tool domain.ToolID
	Root string
}

type testEvent struct {
	Action  string `json:"Action"`
	Package string `json:"Package"`
	Test    string `json:"Test"`
	Output  string `json:"Output"`
}

func (p *GoTest) Parse(raw []byte) ([]domain.Finding, error) {
	type key struct{ pkg, test string }
	var (
		out     []domain.Finding
		decoded int
		garbage int
	)
	pending := map[key][]domain.Finding{}

	s := bufio.NewScanner(bytes.NewReader(raw))
	s.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for s.Scan() {
		line := bytes.TrimSpace(s.Bytes())
		if len(line) == 0 {
			continue
		}
		var ev testEvent
		if line[0] != '{' || json.Unmarshal(line, &ev) != nil {
			garbage++
			continue
		}
		decoded++
		k := key{ev.Package, ev.Test}

		switch ev.Action {
		case "output":
			if ev.Test == "" {
				if f, ok := p.buildError(ev.Output); ok {
					out = append(out, f)
				}
				continue
			}
			if m := testLoc.FindStringSubmatch(strings.TrimRight(ev.Output, "\n")); m != nil {
				ln, _ := strconv.Atoi(m[2])
				pending[k] = append(pending[k], domain.Finding{
					Path:     relPath(p.Root, m[1]),
					Line:     ln,
					Severity: domain.SeverityError,
					Message:  fmt.Sprintf("%s: %s", ev.Test, strings.TrimSpace(m[3])),
					Tool:     p.Tool,
					Rule:     ev.Package,
				})
			}
		case "build-output":
			if f, ok := p.buildError(ev.Output); ok {
				out = append(out, f)
			}
		case "fail":
			if ev.Test == "" {
				continue
			}
			if fs := pending[k]; len(fs) > 0 {
				out = append(out, fs...)
			} else {
				out = append(out, domain.Finding{
					Path:     ev.Package,
					Severity: domain.SeverityError,
					Message:  ev.Test + " failed",
					Tool:     p.Tool,
					Rule:     ev.Package,
				})
			}
			delete(pending, k)
		case "pass", "skip":
			delete(pending, k)
		}
	}
	if err := s.Err(); err != nil {
		return nil, err
	}
	if decoded == 0 && garbage > 0 {
		return nil, ErrUnparseable
	}
	return out, nil
}

func (p *GoTest) buildError(output string) (domain.Finding, bool) {
	m := vetLine.FindStringSubmatch(strings.TrimSpace(output))
	if m == nil {
		return domain.Finding{}, false
	}
	ln, _ := strconv.Atoi(m[2])
	col := 0
	if m[3] != "" {
		col, _ = strconv.Atoi(m[3])
	}
	return domain.Finding{
		Path:     relPath(p.Root, m[1]),
		Line:     ln,
		Column:   col,
		Severity: domain.SeverityError,
		Message:  strings.TrimSpace(m[4]),
		Tool:     p.Tool,
		Rule:     "build",
	}, true
}
