package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lecternhq/lectern/internal/observability"
	"github.com/lecternhq/lectern/pkg/console"
)

var ragCmd = &cobra.Command{
	Use:   "rag",
	Short: "Inspect and tune a session's RAG settings",
}

var ragShowCmd = &cobra.Command{
	Use:   "show <session_id>",
	Short: "Show RAG settings",
	Args:  cobra.ExactArgs(1),
	RunE:  runRAGShow,
}

var ragSetCmd = &cobra.Command{
	Use:   "set <session_id>",
	Short: "Update RAG settings",
	Long: `Update retrieval settings for a session.

Only flags you pass are changed; everything else keeps its current value:

  lectern rag set sess_123 --top-k 8
  lectern rag set sess_123 --temperature 0.2 --chat-model gpt-4o-mini`,
	Args: cobra.ExactArgs(1),
	RunE: runRAGSet,
}

var (
	ragTopK           int
	ragTemperature    float64
	ragSystemPrompt   string
	ragEmbeddingModel string
	ragChatModel      string
)

func init() {
	rootCmd.AddCommand(ragCmd)
	ragCmd.AddCommand(ragShowCmd)
	ragCmd.AddCommand(ragSetCmd)

	ragShowCmd.Flags().Bool("json", false, "Output as JSON")

	ragSetCmd.Flags().IntVar(&ragTopK, "top-k", 0, "Number of chunks to retrieve per question")
	ragSetCmd.Flags().Float64Var(&ragTemperature, "temperature", 0, "Sampling temperature for answers")
	ragSetCmd.Flags().StringVar(&ragSystemPrompt, "system-prompt", "", "System prompt used when answering")
	ragSetCmd.Flags().StringVar(&ragEmbeddingModel, "embedding-model", "", "Model used to embed chunks")
	ragSetCmd.Flags().StringVar(&ragChatModel, "chat-model", "", "Model used to answer questions")
}

func runRAGShow(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	jsonOutput, _ := cmd.Flags().GetBool("json")

	rt, err := loadRuntime(ctx)
	if err != nil {
		return err
	}

	settings, err := rt.client.GetRAGSettings(ctx, args[0])
	if err != nil {
		observability.CLILogger.Error("Failed to fetch RAG settings",
			zap.String("session_id", args[0]),
			zap.Error(err))
		return exitError(foundry.ExitExternalServiceUnavailable, "Failed to fetch RAG settings", err)
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(settings)
	}

	printRAGSettings(settings)
	return nil
}

func runRAGSet(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	// Changed-flag detection distinguishes "set to zero" from "leave alone".
	var settings console.RAGSettings
	if cmd.Flags().Changed("top-k") {
		settings.TopK = &ragTopK
	}
	if cmd.Flags().Changed("temperature") {
		settings.Temperature = &ragTemperature
	}
	if cmd.Flags().Changed("system-prompt") {
		settings.SystemPrompt = &ragSystemPrompt
	}
	if cmd.Flags().Changed("embedding-model") {
		settings.EmbeddingModel = &ragEmbeddingModel
	}
	if cmd.Flags().Changed("chat-model") {
		settings.ChatModel = &ragChatModel
	}
	if settings == (console.RAGSettings{}) {
		return exitError(foundry.ExitInvalidArgument, "Nothing to update",
			fmt.Errorf("pass at least one setting flag"))
	}

	rt, err := loadRuntime(ctx)
	if err != nil {
		return err
	}

	updated, err := rt.client.UpdateRAGSettings(ctx, args[0], settings)
	if err != nil {
		observability.CLILogger.Error("Failed to update RAG settings",
			zap.String("session_id", args[0]),
			zap.Error(err))
		return exitError(foundry.ExitExternalServiceUnavailable, "Failed to update RAG settings", err)
	}

	printRAGSettings(updated)
	return nil
}

func printRAGSettings(s *console.RAGSettings) {
	if s.TopK != nil {
		_, _ = fmt.Fprintf(os.Stdout, "top_k=%d\n", *s.TopK)
	}
	if s.Temperature != nil {
		_, _ = fmt.Fprintf(os.Stdout, "temperature=%.2f\n", *s.Temperature)
	}
	if s.SystemPrompt != nil {
		_, _ = fmt.Fprintf(os.Stdout, "system_prompt=%s\n", *s.SystemPrompt)
	}
	if s.EmbeddingModel != nil {
		_, _ = fmt.Fprintf(os.Stdout, "embedding_model=%s\n", *s.EmbeddingModel)
	}
	if s.ChatModel != nil {
		_, _ = fmt.Fprintf(os.Stdout, "chat_model=%s\n", *s.ChatModel)
	}
}
