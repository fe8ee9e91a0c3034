package main

import (
	"context"
	"fmt"
	"sort"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func newHealthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Show server health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			hs, err := newClient().Health(ctx)
			if hs == nil {
				return err
			}
			if outputFormat != "human" {
				if encErr := encode(cmd.OutOrStdout(), hs, outputFormat); encErr != nil {
					return encErr
				}
				return err
			}

			out := cmd.OutOrStdout()
			green := color.New(color.FgGreen)
			red := color.New(color.FgRed)

			names := make([]string, 0, len(hs.Checks))
			for name := range hs.Checks {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				c := hs.Checks[name]
				if c.Status == "healthy" {
					green.Fprintf(out, "✓ %s\n", name)
					continue
				}
				red.Fprintf(out, "✗ %s: %s\n", name, c.Message)
			}
			if err != nil {
				return fmt.Errorf("server is %s", hs.Status)
			}
			return nil
		},
	}
}
