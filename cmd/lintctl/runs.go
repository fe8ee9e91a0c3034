package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newRunsCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "runs [RUN_ID]",
		Short: "List recent runs, or show one",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			c := newClient()
			out := cmd.OutOrStdout()

			if len(args) == 1 {
				run, err := c.Run(ctx, args[0])
				if err != nil {
					return err
				}
				if outputFormat != "human" {
					return encode(out, run, outputFormat)
				}
				printRun(out, run)
				return nil
			}

			runs, err := c.LatestRuns(ctx, limit)
			if err != nil {
				return err
			}
			if outputFormat != "human" {
				return encode(out, runs, outputFormat)
			}
			for _, r := range runs {
				fmt.Fprintf(out, "%s  %-9s %s@%s  %d findings  %s\n",
					r.ID, r.Status, r.RepoURL, r.Revision, r.Counts.Total,
					(time.Duration(r.DurationMS) * time.Millisecond).String())
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "How many runs to list")
	return cmd
}
