package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lecternhq/lectern/internal/observability"
	"github.com/lecternhq/lectern/pkg/console"
	"github.com/lecternhq/lectern/pkg/manifest"
	"github.com/lecternhq/lectern/pkg/registry"
	"github.com/lecternhq/lectern/pkg/supervise"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest [<session_id> <file>...]",
	Short: "Upload documents and run an ingestion job to completion",
	Long: `Upload local documents into a session, start a server-side
batch-ingestion job over them, and supervise that job until it resolves.

Sources come either from positional arguments (a session id followed by
file paths) or from a YAML plan file:

  lectern ingest sess_123 notes.pdf syllabus.md
  lectern ingest --plan course.yaml

The job is polled on a fixed interval. A flaky status endpoint is
tolerated up to a budget of consecutive failures; past that, completion
is inferred from the session's chunk count before giving up.

Exit status reflects the outcome: success and presumed completion exit 0,
completion with per-file errors exits 0 with the errors listed, failure
exits non-zero.`,
	RunE: runIngest,
}

var (
	ingestPlanPath     string
	ingestChunkSize    int
	ingestChunkOverlap int
	ingestDetach       bool
	ingestJSONL        bool
)

func init() {
	rootCmd.AddCommand(ingestCmd)

	ingestCmd.Flags().StringVarP(&ingestPlanPath, "plan", "p", "", "Path to a YAML ingest plan")
	ingestCmd.Flags().IntVar(&ingestChunkSize, "chunk-size", 0, "Chunk size in characters (0 = server default)")
	ingestCmd.Flags().IntVar(&ingestChunkOverlap, "chunk-overlap", 0, "Chunk overlap in characters (0 = server default)")
	ingestCmd.Flags().BoolVar(&ingestDetach, "detach", false, "Start the job and return without supervising it")
	ingestCmd.Flags().Bool("jsonl", false, "Emit progress and outcome as JSON lines")
}

// ingestBatch is the resolved input of one ingest run, whichever way it was
// specified.
type ingestBatch struct {
	sessionID string
	files     []string
	opts      console.IngestOptions
}

func resolveIngestBatch(args []string) (*ingestBatch, error) {
	if ingestPlanPath != "" {
		if len(args) > 0 {
			return nil, fmt.Errorf("--plan and positional arguments are mutually exclusive")
		}
		plan, err := manifest.Load(ingestPlanPath)
		if err != nil {
			return nil, err
		}
		files, err := plan.Expand()
		if err != nil {
			return nil, err
		}
		return &ingestBatch{
			sessionID: plan.Session.ID,
			files:     files,
			opts: console.IngestOptions{
				ChunkSize:    plan.Ingest.ChunkSize,
				ChunkOverlap: plan.Ingest.ChunkOverlap,
			},
		}, nil
	}

	if len(args) < 2 {
		return nil, fmt.Errorf("expected <session_id> <file>... or --plan")
	}
	return &ingestBatch{
		sessionID: args[0],
		files:     args[1:],
		opts: console.IngestOptions{
			ChunkSize:    ingestChunkSize,
			ChunkOverlap: ingestChunkOverlap,
		},
	}, nil
}

func runIngest(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	ingestJSONL, _ = cmd.Flags().GetBool("jsonl")

	batch, err := resolveIngestBatch(args)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid ingest input", err)
	}
	if len(batch.files) == 0 {
		return exitError(foundry.ExitFileNotFound, "Nothing to ingest", fmt.Errorf("no files matched"))
	}

	rt, err := loadRuntime(ctx)
	if err != nil {
		return err
	}

	// Upload phase. Uploads are throttled by the client; one bad file aborts
	// the batch before any job is started.
	for i, path := range batch.files {
		receipt, err := rt.client.UploadDocument(ctx, batch.sessionID, path)
		if err != nil {
			if ctx.Err() != nil {
				return exitError(foundry.ExitSignalInt, "Ingest cancelled", err)
			}
			observability.CLILogger.Error("Upload failed",
				zap.String("file", path),
				zap.Error(err))
			return exitError(foundry.ExitExternalServiceUnavailable, "Upload failed", err)
		}
		if !ingestJSONL {
			_, _ = fmt.Fprintf(os.Stdout, "uploaded %d/%d %s\n", i+1, len(batch.files), receipt.Filename)
		}
	}

	jobID, err := rt.client.StartIngestion(ctx, batch.sessionID, batch.opts)
	if err != nil {
		observability.CLILogger.Error("Failed to start ingestion",
			zap.String("session_id", batch.sessionID),
			zap.Error(err))
		return exitError(foundry.ExitExternalServiceUnavailable, "Failed to start ingestion", err)
	}

	now := time.Now().UTC()
	rec := &registry.Record{
		JobID:     jobID,
		SessionID: batch.sessionID,
		State:     registry.StateQueued,
		CreatedAt: now,
		Total:     len(batch.files),
	}
	if err := rt.jobs.Write(rec); err != nil {
		observability.CLILogger.Warn("Failed to record job locally",
			zap.String("job_id", jobID),
			zap.Error(err))
	}

	if ingestDetach {
		rec.State = registry.StateDetached
		if err := rt.jobs.Write(rec); err != nil {
			observability.CLILogger.Warn("Failed to record job locally",
				zap.String("job_id", jobID),
				zap.Error(err))
		}
		_, _ = fmt.Fprintf(os.Stdout, "started job %s (detached)\n", jobID)
		_, _ = fmt.Fprintf(os.Stdout, "supervise it later with: lectern jobs watch %s\n", shortJobID(jobID))
		return nil
	}

	_, _ = fmt.Fprintf(os.Stdout, "started job %s\n", jobID)
	return superviseToExit(ctx, rt, jobID, batch.sessionID, ingestJSONL)
}

// superviseToExit runs supervision for one job on the calling goroutine and
// maps its terminal outcome to the process exit contract. Shared with
// 'jobs watch'.
func superviseToExit(ctx context.Context, rt *runtime, jobID, sessionID string, jsonl bool) error {
	sink := newCLISink(os.Stdout, jsonl, rt.jobs)
	sup := supervise.New(rt.client, rt.client, sink, supervise.Config{
		Interval:     rt.cfg.Poll.Interval,
		ErrorCeiling: rt.cfg.Poll.ErrorCeiling,
		FetchTimeout: rt.cfg.Poll.FetchTimeout,
	}, observability.CLILogger)

	job, err := sup.Start(ctx, supervise.Handle{JobID: jobID, SessionID: sessionID})
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Cannot supervise job", err)
	}

	<-job.Done()

	select {
	case out := <-sink.Terminal():
		if out.Tag == supervise.OutcomeFailure {
			return exitError(foundry.ExitExternalServiceUnavailable, "Ingestion failed",
				fmt.Errorf("job %s: %s", jobID, out.Reason))
		}
		return nil
	default:
		// Supervision ended without an outcome: cancelled. Silent by
		// contract, but leave a breadcrumb in the registry.
		updateDetached(rt.jobs, jobID)
		return exitError(foundry.ExitSignalInt, "Supervision cancelled", ctx.Err())
	}
}

func updateDetached(jobs *registry.Store, jobID string) {
	rec, err := jobs.Get(jobID)
	if err != nil {
		return
	}
	if !rec.State.Terminal() {
		rec.State = registry.StateDetached
		_ = jobs.Write(rec)
	}
}
