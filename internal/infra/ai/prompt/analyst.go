package prompt

import (
	"fmt"
	"slices"
	"strings"

	domain "github.com/bryanwahyu/automaton-lint/internal/domain/analysis"
)

// MaxFindings caps how many findings are quoted to the model.
const MaxFindings = 50

// GetSystemPrompt provides strict directions and schema for JSON output.
func GetSystemPrompt() string {
	return `You are a senior Go reviewer. You receive the merged findings of static analysis tools (go vet, golangci-lint and similar) for one revision of a repository. You must produce one valid JSON object only (no markdown, no commentary) that follows the schema below. Do not include code fences.

Requirements:
- Output must be a single JSON object.
- summary is at most five sentences of plain text for a developer skimming a CI report.
- Group related findings; mention the files that need attention first.
- If a tool failed or timed out, say so and do not guess what it would have reported.
- If there are no findings, say the revision is clean.

Schema (example with empty values):
{
  "summary": "<string>",
  "hotspots": ["<path>"]
}`
}

// GetUserPrompt renders the result as a compact listing.
func GetUserPrompt(res domain.Result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Repository: %s\nRevision: %s", res.RepoURL, res.Revision)
	if res.Commit != "" {
		fmt.Fprintf(&b, " (%s)", res.Commit)
	}
	fmt.Fprintf(&b, "\nCounts: %d error, %d warning, %d info, %d total\n",
		res.Counts.Error, res.Counts.Warning, res.Counts.Info, res.Counts.Total)

	b.WriteString("Tools:\n")
	for _, id := range sortedTools(res.Tools) {
		rep := res.Tools[id]
		fmt.Fprintf(&b, "- %s: %s, %d findings", id, rep.Status, rep.Findings)
		if rep.Error != "" {
			fmt.Fprintf(&b, " (%s)", rep.Error)
		}
		b.WriteByte('\n')
	}

	b.WriteString("Findings:\n")
	for i, f := range res.Findings {
		if i == MaxFindings {
			fmt.Fprintf(&b, "... %d more\n", len(res.Findings)-MaxFindings)
			break
		}
		fmt.Fprintf(&b, "- %s:%d:%d [%s/%s] %s\n", f.Path, f.Line, f.Column, f.Severity, f.Tool, f.Message)
	}
	return b.String()
}

// Suggestion matches the schema used by the system prompt.
type Suggestion struct {
	Summary  string   `json:"summary"`
	Hotspots []string `json:"hotspots"`
}

func sortedTools(m map[domain.ToolID]domain.ToolReport) []domain.ToolID {
	ids := make([]domain.ToolID, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}
