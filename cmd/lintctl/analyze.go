package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/briandowns/spinner"
	"github.com/spf13/cobra"

	"github.com/bryanwahyu/automaton-lint/internal/client"
	domain "github.com/bryanwahyu/automaton-lint/internal/domain/analysis"
)

var (
	revision  string
	tools     []string
	summarize bool
	failOn    string
	async     bool
)

func newAnalyzeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "analyze REPO_URL",
		Short: "Analyze one revision of a repository",
		Long: `Fetch the repository on the server, run the requested tools and print
the merged findings.

Examples:
  # Default tools on the default branch
  lintctl analyze https://github.com/acme/demo.git

  # Only go vet, on a tag
  lintctl analyze https://github.com/acme/demo.git -r v1.2.0 -t vet

  # Fail the CI job on any warning
  lintctl analyze https://github.com/acme/demo.git --fail-on warning

  # Start in the background and look the run up later
  lintctl analyze https://github.com/acme/demo.git --async`,
		Args: cobra.ExactArgs(1),
		RunE: runAnalyze,
	}

	cmd.Flags().StringVarP(&revision, "revision", "r", "", "Branch, tag or commit (default branch when empty)")
	cmd.Flags().StringSliceVarP(&tools, "tool", "t", nil, "Tools to run (server defaults when empty)")
	cmd.Flags().BoolVar(&summarize, "summarize", false, "Ask the server for an AI summary")
	cmd.Flags().BoolVar(&async, "async", false, "Start the run in the background and print its id")
	cmd.Flags().StringVar(&failOn, "fail-on", "error", "Exit non-zero on findings at or above this severity (error, warning, info, none)")

	return cmd
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	if _, err := failThreshold(failOn); err != nil {
		return err
	}
	req := domain.Request{RepoURL: args[0], Revision: revision, Summarize: summarize}
	for _, t := range tools {
		req.Tools = append(req.Tools, domain.ToolID(t))
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	if async {
		sub, err := newClient().Submit(ctx, req)
		if err != nil {
			return err
		}
		if outputFormat != "human" {
			return encode(cmd.OutOrStdout(), sub, outputFormat)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Run %s accepted; follow it with: lintctl runs %s\n", sub.RequestID, sub.RequestID)
		return nil
	}

	s := spinner.New(spinner.CharSets[11], 100*time.Millisecond, spinner.WithWriter(os.Stderr))
	s.Suffix = fmt.Sprintf(" Analyzing %s...", req.RepoURL)
	if outputFormat == "human" {
		s.Start()
	}
	res, err := newClient().Analyze(ctx, req)
	s.Stop()
	if err != nil {
		var apiErr *client.APIError
		if errors.As(err, &apiErr) && apiErr.Retryable() && apiErr.RetryAfter > 0 {
			return fmt.Errorf("%w (retry in %s)", err, apiErr.RetryAfter)
		}
		return err
	}

	if err := displayResult(cmd.OutOrStdout(), res, outputFormat); err != nil {
		return err
	}
	return checkFindings(res, failOn)
}

// failThreshold maps a --fail-on value to the lowest severity that fails.
func failThreshold(level string) (int, error) {
	switch level {
	case "none":
		return 0, nil
	case "error":
		return 1, nil
	case "warning":
		return 2, nil
	case "info":
		return 3, nil
	}
	return 0, fmt.Errorf("unknown --fail-on level %q", level)
}

func checkFindings(res *domain.Result, level string) error {
	n, err := failThreshold(level)
	if err != nil {
		return err
	}
	bad := 0
	if n >= 1 {
		bad += res.Counts.Error
	}
	if n >= 2 {
		bad += res.Counts.Warning
	}
	if n >= 3 {
		bad += res.Counts.Info
	}
	if failed := res.Failed(); len(failed) > 0 && n > 0 {
		return fmt.Errorf("%d tool(s) did not finish cleanly: %v", len(failed), failed)
	}
	if bad > 0 {
		return fmt.Errorf("%d finding(s) at or above %s", bad, level)
	}
	return nil
}
