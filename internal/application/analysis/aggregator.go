package analysis

import (
	"fmt"
	"sort"
	"strings"
	"time"

	domain "github.com/bryanwahyu/automaton-lint/internal/domain/analysis"
)

// ParserFactory returns the parser for tool's output, rooted at the
// workspace path the tool ran in.
type ParserFactory func(tool domain.ToolID, root string) (domain.Parser, error)

// Aggregator merges per-tool invocations into one result. It is stateless
// and safe for concurrent use.
type Aggregator struct {
	Parsers ParserFactory
	// Priority decides which tool keeps a finding reported by several tools.
	// Tools not listed rank after the listed ones, by id.
	Priority []domain.ToolID
}

const maxErrorDetail = 512

// Aggregate parses, deduplicates and sorts the findings of invs and builds
// the per-tool status summary. Only Findings, Tools and Counts are set.
func (a *Aggregator) Aggregate(invs []domain.Invocation) domain.Result {
	ordered := a.byPriority(invs)

	res := domain.Result{
		Findings: []domain.Finding{},
		Tools:    make(map[domain.ToolID]domain.ToolReport, len(invs)),
	}
	seen := make(map[domain.FindingKey]struct{})

	for _, inv := range ordered {
		findings, rep := a.report(inv)
		for _, f := range findings {
			k := f.Key()
			if _, dup := seen[k]; dup {
				continue
			}
			seen[k] = struct{}{}
			res.Findings = append(res.Findings, f)
			rep.Kept++
		}
		res.Tools[inv.Tool] = rep
	}

	sort.SliceStable(res.Findings, func(i, j int) bool {
		return res.Findings[i].Less(res.Findings[j])
	})
	for _, f := range res.Findings {
		res.Counts.Add(f.Severity)
	}
	return res
}

func (a *Aggregator) report(inv domain.Invocation) ([]domain.Finding, domain.ToolReport) {
	rep := domain.ToolReport{
		ExitCode:   inv.ExitCode,
		DurationMS: inv.Duration().Milliseconds(),
	}

	switch inv.Status {
	case domain.InvocationTimeout:
		rep.Status = domain.ToolTimeout
		rep.Error = fmt.Sprintf("timed out after %s", inv.Duration().Round(time.Millisecond))
		return nil, rep
	case domain.InvocationCanceled:
		rep.Status = domain.ToolFailed
		rep.Error = "canceled"
		return nil, rep
	case domain.InvocationFailed:
		rep.Status = domain.ToolFailed
		rep.Error = errText(inv.Err, domain.ErrToolExecutionFailed)
		return nil, rep
	}

	if a.Parsers == nil {
		rep.Status = domain.ToolFailed
		rep.Error = "no parser configured"
		return nil, rep
	}
	p, err := a.Parsers(inv.Tool, inv.WorkspacePath)
	if err != nil {
		rep.Status = domain.ToolFailed
		rep.Error = fmt.Sprintf("%s: %v", domain.ErrToolExecutionFailed, err)
		return nil, rep
	}
	findings, err := p.Parse(inv.Raw())
	if err != nil && inv.ExitCode == 0 {
		// the exit status says clean; unrecognised chatter is not a failure
		findings, err = nil, nil
	}
	if err != nil {
		rep.Status = domain.ToolFailed
		rep.Error = fmt.Sprintf("%s: %v%s", domain.ErrToolExecutionFailed, err, detail(inv))
		return nil, rep
	}
	// a non-zero exit is the normal "issues found" signal, but only when
	// there actually are issues to show for it
	if inv.ExitCode != 0 && len(findings) == 0 {
		rep.Status = domain.ToolFailed
		rep.Error = fmt.Sprintf("%s: exit status %d without findings%s",
			domain.ErrToolExecutionFailed, inv.ExitCode, detail(inv))
		return nil, rep
	}

	for i := range findings {
		findings[i].Tool = inv.Tool
	}
	rep.Status = domain.ToolOK
	rep.Findings = len(findings)
	return findings, rep
}

func (a *Aggregator) byPriority(invs []domain.Invocation) []domain.Invocation {
	rank := make(map[domain.ToolID]int, len(a.Priority))
	for i, id := range a.Priority {
		if _, ok := rank[id]; !ok {
			rank[id] = i
		}
	}
	rankOf := func(id domain.ToolID) int {
		if r, ok := rank[id]; ok {
			return r
		}
		return len(a.Priority)
	}

	out := make([]domain.Invocation, len(invs))
	copy(out, invs)
	sort.SliceStable(out, func(i, j int) bool {
		ri, rj := rankOf(out[i].Tool), rankOf(out[j].Tool)
		if ri != rj {
			return ri < rj
		}
		return out[i].Tool < out[j].Tool
	})
	return out
}

func errText(err, fallback error) string {
	if err == nil {
		return fallback.Error()
	}
	return err.Error()
}

// detail returns a short tail of the tool's stderr for the report.
func detail(inv domain.Invocation) string {
	s := strings.TrimSpace(string(inv.Stderr))
	if inv.Stream == domain.StreamStderr || s == "" {
		return ""
	}
	if len(s) > maxErrorDetail {
		s = "..." + s[len(s)-maxErrorDetail:]
	}
	return ": " + s
}
