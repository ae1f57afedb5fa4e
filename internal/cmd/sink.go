package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/lecternhq/lectern/internal/observability"
	"github.com/lecternhq/lectern/pkg/registry"
	"github.com/lecternhq/lectern/pkg/supervise"
)

// cliSink renders supervision events for a terminal (or as JSONL for
// machine parsing) and keeps the local job registry current. Events for a
// single job arrive from one goroutine, so no locking is needed.
type cliSink struct {
	out      io.Writer
	jsonl    bool
	jobs     *registry.Store
	started  time.Time
	terminal chan supervise.Outcome
}

func newCLISink(out io.Writer, jsonl bool, jobs *registry.Store) *cliSink {
	return &cliSink{
		out:      out,
		jsonl:    jsonl,
		jobs:     jobs,
		started:  time.Now(),
		terminal: make(chan supervise.Outcome, 1),
	}
}

// Terminal yields the outcome once supervision finishes. The channel never
// receives on cancellation, so callers must also select on ctx.Done().
func (s *cliSink) Terminal() <-chan supervise.Outcome {
	return s.terminal
}

func (s *cliSink) OnProgress(ev supervise.ProgressEvent) {
	s.updateRecord(ev.JobID, func(rec *registry.Record) {
		rec.State = registry.StateRunning
		if rec.StartedAt == nil {
			now := time.Now().UTC()
			rec.StartedAt = &now
		}
		rec.Processed = ev.Processed
		rec.Total = ev.Total
		if ev.ArtifactCount > 0 {
			rec.Artifacts = ev.ArtifactCount
		}
	})

	if s.jsonl {
		s.emitJSON("progress", map[string]any{
			"job_id":        ev.JobID,
			"processed":     ev.Processed,
			"total":         ev.Total,
			"current_batch": ev.CurrentBatch,
			"total_batches": ev.TotalBatches,
			"current_item":  ev.CurrentItem,
		})
		return
	}

	line := fmt.Sprintf("job %s: %d/%d files", shortJobID(ev.JobID), ev.Processed, ev.Total)
	if ev.TotalBatches > 0 {
		line += fmt.Sprintf(" (batch %d/%d)", ev.CurrentBatch, ev.TotalBatches)
	}
	if ev.CurrentItem != "" {
		line += " " + ev.CurrentItem
	}
	_, _ = fmt.Fprintln(s.out, line)
}

func (s *cliSink) OnTerminal(out supervise.Outcome) {
	s.updateRecord(out.JobID, func(rec *registry.Record) {
		rec.State = stateForOutcome(out.Tag)
		now := time.Now().UTC()
		rec.EndedAt = &now
		rec.Processed = out.Processed
		rec.Total = out.Total
		rec.Artifacts = out.Artifacts
		rec.Reason = out.Reason
		rec.Note = out.Note
	})

	if s.jsonl {
		s.emitJSON("terminal", map[string]any{
			"job_id":    out.JobID,
			"outcome":   string(out.Tag),
			"processed": out.Processed,
			"total":     out.Total,
			"artifacts": out.Artifacts,
			"reason":    out.Reason,
			"note":      out.Note,
			"errors":    out.Errors,
		})
	} else {
		s.printTerminal(out)
	}

	select {
	case s.terminal <- out:
	default:
	}
}

func (s *cliSink) printTerminal(out supervise.Outcome) {
	elapsed := time.Since(s.started).Round(time.Second)
	switch out.Tag {
	case supervise.OutcomeSuccess:
		_, _ = fmt.Fprintf(s.out, "job %s completed: %d/%d files in %s\n",
			shortJobID(out.JobID), out.Processed, out.Total, elapsed)
	case supervise.OutcomePartialSuccess:
		_, _ = fmt.Fprintf(s.out, "job %s completed with errors: %d/%d files in %s\n",
			shortJobID(out.JobID), out.Processed, out.Total, elapsed)
		for _, ie := range out.Errors {
			_, _ = fmt.Fprintf(s.out, "  %s: %s\n", ie.Item, ie.Reason)
		}
	case supervise.OutcomeAssumedSuccess:
		_, _ = fmt.Fprintf(s.out, "job %s presumed complete: %d chunks indexed (%s)\n",
			shortJobID(out.JobID), out.Artifacts, out.Note)
	case supervise.OutcomeFailure:
		_, _ = fmt.Fprintf(s.out, "job %s failed: %s\n", shortJobID(out.JobID), out.Reason)
		for _, ie := range out.Errors {
			_, _ = fmt.Fprintf(s.out, "  %s: %s\n", ie.Item, ie.Reason)
		}
	}
}

func (s *cliSink) emitJSON(event string, fields map[string]any) {
	fields["event"] = event
	fields["ts"] = time.Now().UTC().Format(time.RFC3339)
	enc := json.NewEncoder(s.out)
	if err := enc.Encode(fields); err != nil {
		observability.CLILogger.Warn("Failed to emit event", zap.Error(err))
	}
}

func (s *cliSink) updateRecord(jobID string, mutate func(*registry.Record)) {
	if s.jobs == nil {
		return
	}
	rec, err := s.jobs.Get(jobID)
	if err != nil {
		observability.CLILogger.Debug("No registry record for job",
			zap.String("job_id", jobID),
			zap.Error(err))
		return
	}
	mutate(rec)
	if err := s.jobs.Write(rec); err != nil {
		observability.CLILogger.Warn("Failed to update job record",
			zap.String("job_id", jobID),
			zap.Error(err))
	}
}

func stateForOutcome(tag supervise.OutcomeTag) registry.State {
	switch tag {
	case supervise.OutcomeSuccess:
		return registry.StateSuccess
	case supervise.OutcomePartialSuccess:
		return registry.StatePartial
	case supervise.OutcomeAssumedSuccess:
		return registry.StateAssumed
	case supervise.OutcomeFailure:
		return registry.StateFailed
	}
	return registry.StateUnknown
}
