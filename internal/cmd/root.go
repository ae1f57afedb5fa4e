// Package cmd wires the lectern command tree.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/lecternhq/lectern/internal/observability"
)

var versionInfo = struct {
	Version   string
	Commit    string
	BuildDate string
}{
	Version:   "dev",
	Commit:    "HEAD",
	BuildDate: "unknown",
}

// SetVersionInfo records build-time version metadata (set via ldflags).
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo.Version = version
	versionInfo.Commit = commit
	versionInfo.BuildDate = buildDate
	rootCmd.Version = fmt.Sprintf("%s (commit %s, built %s)", version, commit, buildDate)
}

var (
	rootVerbose    bool
	rootLogProfile string
	rootAPIURL     string
)

var rootCmd = &cobra.Command{
	Use:   "lectern",
	Short: "Teacher console for document ingestion and RAG sessions",
	Long: `Lectern is a console for configuring a document-ingestion and
retrieval-augmented-answering workflow.

It manages sessions (document collections), uploads documents, starts
server-side batch-ingestion jobs, and supervises those jobs to completion,
tolerating a flaky status endpoint along the way.

This CLI is designed to be agent-friendly:

- stable job ids recorded in a local registry
- optional JSON output for machine parsing
- exit status reflects the job outcome`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, _ []string) {
		observability.InitCLILogger(rootLogProfile, rootVerbose)
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&rootVerbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&rootLogProfile, "log-profile", "console", "Log output profile: console or structured")
	rootCmd.PersistentFlags().StringVar(&rootAPIURL, "api-url", "", "Backend API base URL (overrides config and LECTERN_API_URL)")
}

// Execute runs the root command with signal-aware context cancellation.
// Ctrl-C cancels any in-flight supervision silently, per the cancellation
// contract.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := rootCmd.ExecuteContext(ctx)
	observability.SyncCLILogger()
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// exitError creates an error that records the intended exit code.
func exitError(code int, message string, err error) error {
	return fmt.Errorf("%s: %w (exit code %d)", message, err, code)
}
