package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lecternhq/lectern/internal/observability"
)

var chunksCmd = &cobra.Command{
	Use:   "chunks",
	Short: "Inspect a session's ingested chunks",
}

var chunksCountCmd = &cobra.Command{
	Use:   "count <session_id>",
	Short: "Count chunks in a session",
	Args:  cobra.ExactArgs(1),
	RunE:  runChunksCount,
}

var chunksListCmd = &cobra.Command{
	Use:   "list <session_id>",
	Short: "List chunks in a session",
	Args:  cobra.ExactArgs(1),
	RunE:  runChunksList,
}

var (
	chunksLimit   int
	chunksOffset  int
	chunksContent bool
)

func init() {
	rootCmd.AddCommand(chunksCmd)
	chunksCmd.AddCommand(chunksCountCmd)
	chunksCmd.AddCommand(chunksListCmd)

	chunksListCmd.Flags().IntVar(&chunksLimit, "limit", 50, "Maximum chunks to return")
	chunksListCmd.Flags().IntVar(&chunksOffset, "offset", 0, "Offset into the chunk list")
	chunksListCmd.Flags().BoolVar(&chunksContent, "content", false, "Include chunk content in output")
	chunksListCmd.Flags().Bool("json", false, "Output as JSON")
}

func runChunksCount(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	rt, err := loadRuntime(ctx)
	if err != nil {
		return err
	}

	n, err := rt.client.Count(ctx, args[0])
	if err != nil {
		observability.CLILogger.Error("Failed to count chunks",
			zap.String("session_id", args[0]),
			zap.Error(err))
		return exitError(foundry.ExitExternalServiceUnavailable, "Failed to count chunks", err)
	}

	_, _ = fmt.Fprintf(os.Stdout, "%d\n", n)
	return nil
}

func runChunksList(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	jsonOutput, _ := cmd.Flags().GetBool("json")

	rt, err := loadRuntime(ctx)
	if err != nil {
		return err
	}

	chunks, total, err := rt.client.ListChunks(ctx, args[0], chunksLimit, chunksOffset)
	if err != nil {
		observability.CLILogger.Error("Failed to list chunks",
			zap.String("session_id", args[0]),
			zap.Error(err))
		return exitError(foundry.ExitExternalServiceUnavailable, "Failed to list chunks", err)
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{"chunks": chunks, "total": total})
	}

	if len(chunks) == 0 {
		_, _ = fmt.Fprintln(os.Stdout, "No chunks found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	defer func() { _ = w.Flush() }()

	_, _ = fmt.Fprintln(w, "ID\tDOCUMENT\tPOSITION")
	for _, c := range chunks {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\n", c.ID, c.Document, c.Position)
		if chunksContent {
			_, _ = fmt.Fprintf(w, "\t%s\t\n", c.Content)
		}
	}
	_, _ = fmt.Fprintf(w, "\t\t\n")
	_, _ = fmt.Fprintf(w, "total\t%d\t\n", total)
	return nil
}
