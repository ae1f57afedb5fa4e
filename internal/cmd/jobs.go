package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lecternhq/lectern/internal/observability"
	"github.com/lecternhq/lectern/pkg/registry"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Manage ingestion jobs",
	Long: `Manage ingestion jobs started from this machine.

Every job started by 'lectern ingest' is recorded in a local registry
under a stable job id. This command group lists those records, fetches
live status from the backend, re-attaches supervision to a detached job,
and garbage collects old records.`,
}

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recorded ingestion jobs",
	RunE:  runJobsList,
}

var jobsStatusCmd = &cobra.Command{
	Use:   "status <job_id>",
	Short: "Show live status for a job",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsStatus,
}

var jobsWatchCmd = &cobra.Command{
	Use:   "watch <job_id>",
	Short: "Supervise a job until it resolves",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsWatch,
}

var jobsGCCmd = &cobra.Command{
	Use:   "gc",
	Short: "Garbage collect old job records",
	RunE:  runJobsGC,
}

func init() {
	rootCmd.AddCommand(jobsCmd)
	jobsCmd.AddCommand(jobsListCmd)
	jobsCmd.AddCommand(jobsStatusCmd)
	jobsCmd.AddCommand(jobsWatchCmd)
	jobsCmd.AddCommand(jobsGCCmd)

	jobsListCmd.Flags().Bool("json", false, "Output as JSON")
	jobsStatusCmd.Flags().Bool("json", false, "Output as JSON")
	jobsWatchCmd.Flags().Bool("jsonl", false, "Emit progress and outcome as JSON lines")
	jobsGCCmd.Flags().String("max-age", "168h", "Delete terminal jobs older than this duration")
	jobsGCCmd.Flags().Bool("dry-run", false, "Show how many jobs would be deleted")
	jobsGCCmd.Flags().Bool("json", false, "Output as JSON")
}

func runJobsList(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	jsonOutput, _ := cmd.Flags().GetBool("json")

	rt, err := loadRuntime(ctx)
	if err != nil {
		return err
	}

	jobs, err := rt.jobs.List()
	if err != nil {
		return err
	}
	if len(jobs) == 0 {
		_, _ = fmt.Fprintln(os.Stdout, "No jobs found")
		return nil
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(jobs)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	defer func() { _ = w.Flush() }()

	_, _ = fmt.Fprintln(w, "JOB ID\tSESSION\tSTATE\tFILES\tSTARTED\tENDED")
	for _, j := range jobs {
		files := "-"
		if j.Total > 0 {
			files = fmt.Sprintf("%d/%d", j.Processed, j.Total)
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			shortJobID(j.JobID),
			j.SessionID,
			j.State,
			files,
			formatOptionalTime(j.StartedAt),
			formatOptionalTime(j.EndedAt),
		)
	}
	return nil
}

func runJobsStatus(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	jsonOutput, _ := cmd.Flags().GetBool("json")

	rt, err := loadRuntime(ctx)
	if err != nil {
		return err
	}

	jobID, err := rt.jobs.Resolve(args[0])
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Unknown job", err)
	}
	rec, err := rt.jobs.Get(jobID)
	if err != nil {
		return exitError(foundry.ExitFileNotFound, "Failed to read job record", err)
	}

	snap, err := rt.client.Fetch(ctx, rec.JobID, rec.SessionID)
	if err != nil {
		observability.CLILogger.Warn("Live status unavailable",
			zap.String("job_id", rec.JobID),
			zap.Error(err))
	}

	if jsonOutput {
		out := map[string]any{"record": rec}
		if snap != nil {
			out["live"] = map[string]any{
				"phase":     string(snap.Phase),
				"artifacts": snap.ArtifactCount,
				"errors":    snap.Errors,
			}
			if snap.Progress != nil {
				out["live"].(map[string]any)["processed"] = snap.Progress.Processed
				out["live"].(map[string]any)["total"] = snap.Progress.Total
			}
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	_, _ = fmt.Fprintf(os.Stdout, "job_id=%s\n", rec.JobID)
	_, _ = fmt.Fprintf(os.Stdout, "session_id=%s\n", rec.SessionID)
	_, _ = fmt.Fprintf(os.Stdout, "state=%s\n", rec.State)
	if rec.Total > 0 {
		_, _ = fmt.Fprintf(os.Stdout, "files=%d/%d\n", rec.Processed, rec.Total)
	}
	if rec.Artifacts > 0 {
		_, _ = fmt.Fprintf(os.Stdout, "chunks=%d\n", rec.Artifacts)
	}
	if rec.Reason != "" {
		_, _ = fmt.Fprintf(os.Stdout, "reason=%s\n", rec.Reason)
	}
	if rec.Note != "" {
		_, _ = fmt.Fprintf(os.Stdout, "note=%s\n", rec.Note)
	}
	if rec.StartedAt != nil {
		_, _ = fmt.Fprintf(os.Stdout, "started_at=%s\n", rec.StartedAt.UTC().Format(time.RFC3339))
	}
	if rec.EndedAt != nil {
		_, _ = fmt.Fprintf(os.Stdout, "ended_at=%s\n", rec.EndedAt.UTC().Format(time.RFC3339))
	}
	if snap != nil {
		_, _ = fmt.Fprintf(os.Stdout, "live_phase=%s\n", snap.Phase)
		if snap.Progress != nil {
			_, _ = fmt.Fprintf(os.Stdout, "live_files=%d/%d\n", snap.Progress.Processed, snap.Progress.Total)
		}
	} else {
		_, _ = fmt.Fprintln(os.Stdout, "live_phase=unavailable")
	}
	return nil
}

func runJobsWatch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	jsonl, _ := cmd.Flags().GetBool("jsonl")

	rt, err := loadRuntime(ctx)
	if err != nil {
		return err
	}

	jobID, err := rt.jobs.Resolve(args[0])
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Unknown job", err)
	}
	rec, err := rt.jobs.Get(jobID)
	if err != nil {
		return exitError(foundry.ExitFileNotFound, "Failed to read job record", err)
	}
	if rec.State.Terminal() {
		_, _ = fmt.Fprintf(os.Stdout, "job %s already resolved: %s\n", shortJobID(rec.JobID), rec.State)
		if rec.State == registry.StateFailed {
			return exitError(foundry.ExitExternalServiceUnavailable, "Ingestion failed",
				fmt.Errorf("job %s: %s", rec.JobID, rec.Reason))
		}
		return nil
	}

	return superviseToExit(ctx, rt, rec.JobID, rec.SessionID, jsonl)
}

type jobsGCResult struct {
	Deleted      int    `json:"deleted"`
	WouldDelete  int    `json:"would_delete"`
	DryRun       bool   `json:"dry_run"`
	MaxAgeString string `json:"max_age"`
}

func runJobsGC(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	maxAgeStr, _ := cmd.Flags().GetString("max-age")
	maxAgeStr = strings.TrimSpace(maxAgeStr)
	if maxAgeStr == "" {
		maxAgeStr = "168h"
	}
	maxAge, err := time.ParseDuration(maxAgeStr)
	if err != nil {
		return fmt.Errorf("invalid --max-age: %w", err)
	}
	if maxAge <= 0 {
		return fmt.Errorf("--max-age must be > 0")
	}

	jsonOutput, _ := cmd.Flags().GetBool("json")
	dryRun, _ := cmd.Flags().GetBool("dry-run")

	rt, err := loadRuntime(ctx)
	if err != nil {
		return err
	}

	jobs, err := rt.jobs.List()
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	deleted := 0
	for _, j := range jobs {
		if j.EndedAt == nil {
			continue
		}
		if now.Sub(j.EndedAt.UTC()) <= maxAge {
			continue
		}
		// Only prune terminal states.
		if !j.State.Terminal() {
			continue
		}

		if !dryRun {
			if err := rt.jobs.Delete(j.JobID); err != nil {
				return fmt.Errorf("remove job dir: %w", err)
			}
		}
		deleted++
	}

	if jsonOutput {
		res := jobsGCResult{DryRun: dryRun, MaxAgeString: maxAgeStr}
		if dryRun {
			res.WouldDelete = deleted
		} else {
			res.Deleted = deleted
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}

	if dryRun {
		_, _ = fmt.Fprintf(os.Stdout, "would_delete=%d\n", deleted)
		return nil
	}
	_, _ = fmt.Fprintf(os.Stdout, "deleted=%d\n", deleted)
	return nil
}
