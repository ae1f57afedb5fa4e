package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lecternhq/lectern/internal/observability"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Manage sessions",
	Long: `Manage sessions on the backend.

A session is the owner context for uploaded documents, their ingested
chunks, and the RAG settings used to answer questions over them.`,
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List sessions",
	RunE:  runSessionsList,
}

var sessionsCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a session",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsCreate,
}

var sessionsShowCmd = &cobra.Command{
	Use:   "show <session_id>",
	Short: "Show one session",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsShow,
}

var sessionsDeleteCmd = &cobra.Command{
	Use:   "delete <session_id>",
	Short: "Delete a session and everything it owns",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsDelete,
}

func init() {
	rootCmd.AddCommand(sessionsCmd)
	sessionsCmd.AddCommand(sessionsListCmd)
	sessionsCmd.AddCommand(sessionsCreateCmd)
	sessionsCmd.AddCommand(sessionsShowCmd)
	sessionsCmd.AddCommand(sessionsDeleteCmd)

	sessionsListCmd.Flags().Bool("json", false, "Output as JSON")
	sessionsShowCmd.Flags().Bool("json", false, "Output as JSON")
	sessionsDeleteCmd.Flags().Bool("force", false, "Skip the confirmation prompt")
}

func runSessionsList(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	jsonOutput, _ := cmd.Flags().GetBool("json")

	rt, err := loadRuntime(ctx)
	if err != nil {
		return err
	}

	sessions, err := rt.client.ListSessions(ctx)
	if err != nil {
		observability.CLILogger.Error("Failed to list sessions", zap.Error(err))
		return exitError(foundry.ExitExternalServiceUnavailable, "Failed to list sessions", err)
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(sessions)
	}

	if len(sessions) == 0 {
		_, _ = fmt.Fprintln(os.Stdout, "No sessions found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	defer func() { _ = w.Flush() }()

	_, _ = fmt.Fprintln(w, "ID\tNAME\tDOCUMENTS\tCHUNKS\tCREATED")
	for _, s := range sessions {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\n",
			s.ID, s.Name, s.DocumentCount, s.ChunkCount,
			s.CreatedAt.UTC().Format(time.RFC3339))
	}
	return nil
}

func runSessionsCreate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	rt, err := loadRuntime(ctx)
	if err != nil {
		return err
	}

	session, err := rt.client.CreateSession(ctx, args[0])
	if err != nil {
		observability.CLILogger.Error("Failed to create session",
			zap.String("name", args[0]),
			zap.Error(err))
		return exitError(foundry.ExitExternalServiceUnavailable, "Failed to create session", err)
	}

	_, _ = fmt.Fprintf(os.Stdout, "Created session %s (%s)\n", session.ID, session.Name)
	return nil
}

func runSessionsShow(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	jsonOutput, _ := cmd.Flags().GetBool("json")

	rt, err := loadRuntime(ctx)
	if err != nil {
		return err
	}

	session, err := rt.client.GetSession(ctx, args[0])
	if err != nil {
		observability.CLILogger.Error("Failed to fetch session",
			zap.String("session_id", args[0]),
			zap.Error(err))
		return exitError(foundry.ExitExternalServiceUnavailable, "Failed to fetch session", err)
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(session)
	}

	_, _ = fmt.Fprintf(os.Stdout, "id=%s\n", session.ID)
	_, _ = fmt.Fprintf(os.Stdout, "name=%s\n", session.Name)
	_, _ = fmt.Fprintf(os.Stdout, "documents=%d\n", session.DocumentCount)
	_, _ = fmt.Fprintf(os.Stdout, "chunks=%d\n", session.ChunkCount)
	_, _ = fmt.Fprintf(os.Stdout, "created_at=%s\n", session.CreatedAt.UTC().Format(time.RFC3339))
	return nil
}

func runSessionsDelete(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	force, _ := cmd.Flags().GetBool("force")

	if !force {
		_, _ = fmt.Fprintf(os.Stdout, "Delete session %s and all of its documents and chunks? [y/N] ", args[0])
		var answer string
		_, _ = fmt.Fscanln(os.Stdin, &answer)
		if answer != "y" && answer != "Y" && answer != "yes" {
			_, _ = fmt.Fprintln(os.Stdout, "Aborted")
			return nil
		}
	}

	rt, err := loadRuntime(ctx)
	if err != nil {
		return err
	}

	if err := rt.client.DeleteSession(ctx, args[0]); err != nil {
		observability.CLILogger.Error("Failed to delete session",
			zap.String("session_id", args[0]),
			zap.Error(err))
		return exitError(foundry.ExitExternalServiceUnavailable, "Failed to delete session", err)
	}

	_, _ = fmt.Fprintf(os.Stdout, "Deleted session %s\n", args[0])
	return nil
}
