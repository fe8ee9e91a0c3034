package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/bryanwahyu/automaton-lint/internal/client"
)

var (
	version = "v0.1.0" // Overwritten at build time
)

var (
	serverURL    string
	apiKey       string
	outputFormat string
	timeout      time.Duration
)

func main() {
	rootCmd := newRootCmd()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "lintctl",
		Short: "Run vet and lint tools on a repository through automaton-lint",
		Long: `lintctl sends analysis requests to an automaton-lint server and prints
the merged findings of every tool that ran.`,
		SilenceUsage: true,
	}

	// Disable automatic 'completion' command added by cobra
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&serverURL, "server", "s", envOr("LINT_SERVER", "http://localhost:8080"), "automaton-lint server URL")
	flags.StringVar(&apiKey, "api-key", os.Getenv("LINT_API_KEY"), "API key sent as a bearer token")
	flags.StringVarP(&outputFormat, "output", "o", "human", "Output format (human, json, yaml)")
	flags.DurationVar(&timeout, "timeout", 20*time.Minute, "How long to wait for the server")

	rootCmd.AddCommand(
		newAnalyzeCmd(),
		newHealthCmd(),
		newRunsCmd(),
		newVersionCmd(),
	)

	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "lintctl version %s\n", version)
		},
	}
}

func newClient() *client.Client {
	return client.New(serverURL, apiKey)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
