package parser

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	domain "github.com/bryanwahyu/automaton-lint/internal/domain/analysis"
)

// Golangci parses the JSON report of golangci-lint.
type Golangci struct {
	Tool domain.ToolID
	Root string
}

type golangciReport struct {
	Issues []struct {
		FromLinter string `json:"FromLinter"`
		Text       string `json:"Text"`
		Severity   string `json:"Severity"`
		Pos        struct {
			Filename string `json:"Filename"`
			Line     int    `json:"Line"`
			Column   int    `json:"Column"`
		} `json:"Pos"`
	} `json:"Issues"`
}

func (p *Golangci) Parse(raw []byte) ([]domain.Finding, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, nil
	}
	// some versions print a banner before the report
	if i := bytes.IndexByte(raw, '{'); i > 0 {
		raw = raw[i:]
	}
	var doc golangciReport
	dec := json.NewDecoder(bytes.NewReader(raw))
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnparseable, err)
	}

	out := make([]domain.Finding, 0, len(doc.Issues))
	for _, is := range doc.Issues {
		fallback := domain.SeverityWarning
		if is.FromLinter == "typecheck" {
			fallback = domain.SeverityError
		}
		out = append(out, domain.Finding{
			Path:     relPath(p.Root, is.Pos.Filename),
			Line:     is.Pos.Line,
			Column:   is.Pos.Column,
			Severity: domain.ParseSeverity(strings.TrimSpace(is.Severity), fallback),
			Message:  strings.TrimSpace(is.Text),
			Tool:     p.Tool,
			Rule:     is.FromLinter,
		})
	}
	return out, nil
}
