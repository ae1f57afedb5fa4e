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

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List available models",
	RunE:  runModelsList,
}

func init() {
	rootCmd.AddCommand(modelsCmd)
	modelsCmd.Flags().Bool("json", false, "Output as JSON")
}

func runModelsList(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	jsonOutput, _ := cmd.Flags().GetBool("json")

	rt, err := loadRuntime(ctx)
	if err != nil {
		return err
	}

	models, err := rt.client.ListModels(ctx)
	if err != nil {
		observability.CLILogger.Error("Failed to list models", zap.Error(err))
		return exitError(foundry.ExitExternalServiceUnavailable, "Failed to list models", err)
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(models)
	}

	if len(models) == 0 {
		_, _ = fmt.Fprintln(os.Stdout, "No models available")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	defer func() { _ = w.Flush() }()

	_, _ = fmt.Fprintln(w, "ID\tNAME\tKIND")
	for _, m := range models {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\n", m.ID, m.Name, m.Kind)
	}
	return nil
}
