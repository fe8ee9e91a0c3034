package main

import (
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"time"

	"github.com/fatih/color"
	"gopkg.in/yaml.v3"

	domain "github.com/bryanwahyu/automaton-lint/internal/domain/analysis"
)

// displayResult formats and displays an analysis result
func displayResult(w io.Writer, res *domain.Result, format string) error {
	switch format {
	case "json", "yaml":
		return encode(w, res, format)
	case "human":
		fallthrough
	default:
		displayHuman(w, res)
	}
	return nil
}

func encode(w io.Writer, v any, format string) error {
	if format == "yaml" {
		output, err := yaml.Marshal(v)
		if err != nil {
			return err
		}
		_, err = w.Write(output)
		return err
	}
	output, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(w, string(output))
	return nil
}

func displayHuman(w io.Writer, res *domain.Result) {
	red := color.New(color.FgRed, color.Bold)
	yellow := color.New(color.FgYellow, color.Bold)
	cyan := color.New(color.FgCyan, color.Bold)
	green := color.New(color.FgGreen, color.Bold)

	rev := res.Revision
	if rev == "" {
		rev = "(default branch)"
	}
	cyan.Fprintf(w, "%s @ %s", res.RepoURL, rev)
	if res.Commit != "" {
		fmt.Fprintf(w, " (%s)", shortSHA(res.Commit))
	}
	fmt.Fprintln(w)

	for _, f := range res.Findings {
		label := fmt.Sprintf("%-7s", f.Severity)
		switch f.Severity {
		case domain.SeverityError:
			red.Fprint(w, label)
		case domain.SeverityWarning:
			yellow.Fprint(w, label)
		default:
			fmt.Fprint(w, label)
		}
		fmt.Fprintf(w, " %s:%d:%d %s [%s", f.Path, f.Line, f.Column, f.Message, f.Tool)
		if f.Rule != "" {
			fmt.Fprintf(w, "/%s", f.Rule)
		}
		fmt.Fprintln(w, "]")
	}

	ids := make([]domain.ToolID, 0, len(res.Tools))
	for id := range res.Tools {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	fmt.Fprintln(w)
	for _, id := range ids {
		rep := res.Tools[id]
		d := time.Duration(rep.DurationMS) * time.Millisecond
		if rep.Status == domain.ToolOK {
			green.Fprintf(w, "✓ %s", id)
			fmt.Fprintf(w, " %d findings in %s\n", rep.Findings, d)
			continue
		}
		red.Fprintf(w, "✗ %s", id)
		fmt.Fprintf(w, " %s: %s\n", rep.Status, rep.Error)
	}

	fmt.Fprintf(w, "\n%d errors, %d warnings, %d info\n", res.Counts.Error, res.Counts.Warning, res.Counts.Info)
	if res.Summary != "" {
		fmt.Fprintf(w, "\n%s\n", res.Summary)
	}
}

func printRun(w io.Writer, r *domain.Run) {
	fmt.Fprintf(w, "Run:      %s\n", r.ID)
	fmt.Fprintf(w, "Repo:     %s@%s\n", r.RepoURL, r.Revision)
	if r.Commit != "" {
		fmt.Fprintf(w, "Commit:   %s\n", r.Commit)
	}
	fmt.Fprintf(w, "Status:   %s\n", r.Status)
	if r.Error != "" {
		fmt.Fprintf(w, "Error:    %s: %s\n", r.ErrorKind, r.Error)
	}
	fmt.Fprintf(w, "Started:  %s\n", r.StartedAt.Format(time.RFC3339))
	fmt.Fprintf(w, "Findings: %d errors, %d warnings, %d info\n", r.Counts.Error, r.Counts.Warning, r.Counts.Info)
}

func shortSHA(s string) string {
	if len(s) > 12 {
		return s[:12]
	}
	return s
}
