// Package supervise tracks long-running server-side ingestion jobs from the
// client. The server exposes job lifecycle only through a side-channel status
// endpoint, which can lose the job record, flake, or answer ambiguously, so
// the supervisor pairs a fixed-interval poll loop with a transport-error
// tolerance budget and a fallback reconciliation step that infers completion
// from the session's artifact count.
package supervise

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	// DefaultInterval is the poll cadence.
	DefaultInterval = 3 * time.Second
	// DefaultErrorCeiling is the number of consecutive transport failures
	// tolerated before the job is force-resolved.
	DefaultErrorCeiling = 5
	// DefaultFetchTimeout bounds a single status fetch so one slow call
	// cannot starve the tolerance counter.
	DefaultFetchTimeout = 10 * time.Second
)

// ErrAlreadySupervised is returned by Start when the job id is already
// under supervision.
var ErrAlreadySupervised = errors.New("job is already supervised")

// Config tunes a Supervisor. Zero values use defaults.
type Config struct {
	Interval     time.Duration
	ErrorCeiling int
	FetchTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.ErrorCeiling <= 0 {
		c.ErrorCeiling = DefaultErrorCeiling
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = DefaultFetchTimeout
	}
	return c
}

// Supervisor runs one poll loop per supervised job, keyed by job id.
//
// States per job: polling -> {success, partial_success, failure,
// assumed_success}. Every terminal state is absorbing: the poll ticker is
// stopped before the outcome is emitted and no second outcome can follow.
// Cancellation is silent and emits nothing.
type Supervisor struct {
	cfg    Config
	client StatusClient
	probe  ArtifactProbe
	sink   OutcomeSink
	logger *zap.Logger

	mu   sync.Mutex
	jobs map[string]*jobState
}

// jobState is the private supervision state for one active job. The counter
// and snapshot fields are mutated only by the job's own poll goroutine.
type jobState struct {
	handle Handle
	cancel context.CancelFunc
	done   chan struct{}

	consecutiveErrs int
	last            *Snapshot
}

// Job is the caller's view of one supervised job.
type Job struct {
	handle Handle
	done   <-chan struct{}
}

// ID returns the supervised job's id.
func (j *Job) ID() string { return j.handle.JobID }

// Done is closed when supervision ends, whether by terminal outcome or
// cancellation.
func (j *Job) Done() <-chan struct{} { return j.done }

// New creates a Supervisor. A nil logger disables logging.
func New(client StatusClient, probe ArtifactProbe, sink OutcomeSink, cfg Config, logger *zap.Logger) *Supervisor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Supervisor{
		cfg:    cfg.withDefaults(),
		client: client,
		probe:  probe,
		sink:   sink,
		logger: logger,
		jobs:   make(map[string]*jobState),
	}
}

// Start begins supervising the job identified by h. It returns immediately;
// progress and the terminal outcome are delivered through the sink. The poll
// loop issues one fetch right away and then polls on the configured interval
// until a terminal classification is reached, ctx is cancelled, or Cancel is
// called.
func (s *Supervisor) Start(ctx context.Context, h Handle) (*Job, error) {
	if h.JobID == "" {
		return nil, fmt.Errorf("job id is required")
	}
	if h.SessionID == "" {
		return nil, fmt.Errorf("session id is required")
	}

	s.mu.Lock()
	if _, ok := s.jobs[h.JobID]; ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrAlreadySupervised, h.JobID)
	}
	jctx, cancel := context.WithCancel(ctx)
	st := &jobState{
		handle: h,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	s.jobs[h.JobID] = st
	s.mu.Unlock()

	s.logger.Info("Supervising ingestion job",
		zap.String("job_id", h.JobID),
		zap.String("session_id", h.SessionID),
		zap.Duration("interval", s.cfg.Interval))

	go s.run(jctx, st)

	return &Job{handle: h, done: st.done}, nil
}

// Cancel stops supervising jobID and waits for its poll loop to exit. It is
// silent: no outcome is emitted for a cancelled job. Cancel reports whether
// the job was under supervision. It must not be called from within a sink
// callback.
func (s *Supervisor) Cancel(jobID string) bool {
	s.mu.Lock()
	st, ok := s.jobs[jobID]
	s.mu.Unlock()
	if !ok {
		return false
	}
	st.cancel()
	<-st.done
	return true
}

// Active returns the ids of jobs currently under supervision.
func (s *Supervisor) Active() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.jobs))
	for id := range s.jobs {
		ids = append(ids, id)
	}
	return ids
}

func (s *Supervisor) remove(jobID string) {
	s.mu.Lock()
	delete(s.jobs, jobID)
	s.mu.Unlock()
}

// run is the per-job poll loop. The ticker is scoped to this goroutine and
// stopped on every exit path. Polls never overlap: they run sequentially on
// this goroutine, and a tick that fires mid-poll sits in the ticker's
// one-slot buffer until the current poll returns.
func (s *Supervisor) run(ctx context.Context, st *jobState) {
	defer close(st.done)
	defer s.remove(st.handle.JobID)
	defer st.cancel()

	if s.poll(ctx, st) {
		return
	}

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Debug("Supervision cancelled",
				zap.String("job_id", st.handle.JobID))
			return
		case <-ticker.C:
			if s.poll(ctx, st) {
				return
			}
		}
	}
}

// poll executes one tick. It returns true when a terminal outcome has been
// emitted (or the job was cancelled) and the loop must stop.
func (s *Supervisor) poll(ctx context.Context, st *jobState) bool {
	fctx, cancel := context.WithTimeout(ctx, s.cfg.FetchTimeout)
	snap, err := s.client.Fetch(fctx, st.handle.JobID, st.handle.SessionID)
	cancel()

	// A cancellation that raced the fetch must not produce any event.
	if ctx.Err() != nil {
		return true
	}

	if err != nil {
		return s.handleTransportError(ctx, st, err)
	}

	st.consecutiveErrs = 0
	st.last = snap

	switch snap.Phase {
	case PhaseCompleted:
		s.finish(ctx, st, outcomeFromSnapshot(st.handle.JobID, OutcomeSuccess, snap))
		return true

	case PhaseCompletedWithErrors:
		s.finish(ctx, st, outcomeFromSnapshot(st.handle.JobID, OutcomePartialSuccess, snap))
		return true

	case PhaseFailed:
		reason := "ingestion failed"
		if len(snap.Errors) > 0 && snap.Errors[0].Reason != "" {
			reason = snap.Errors[0].Reason
		}
		out := outcomeFromSnapshot(st.handle.JobID, OutcomeFailure, snap)
		out.Reason = reason
		s.finish(ctx, st, out)
		return true

	case PhaseUnknown, PhaseLikelyCompleted:
		// The server itself signalled ambiguity: reconcile now instead of
		// waiting for the error ceiling. Without evidence, keep polling;
		// the job may genuinely still be running.
		s.logger.Debug("Ambiguous status phase, reconciling",
			zap.String("job_id", st.handle.JobID),
			zap.String("phase", string(snap.Phase)))
		if out, ok := s.reconcile(ctx, st); ok {
			s.finish(ctx, st, out)
			return true
		}
		return false

	default: // queued, running
		if s.sink != nil {
			s.sink.OnProgress(progressEvent(st.handle.JobID, snap))
		}
		return false
	}
}

// handleTransportError applies the tolerance budget. A not_found is treated
// as a strong hint the job may have finished and reconciles before counting
// toward the ceiling; other kinds are transient noise until the ceiling.
func (s *Supervisor) handleTransportError(ctx context.Context, st *jobState, err error) bool {
	kind := KindNetworkError
	var terr *TransportError
	if errors.As(err, &terr) {
		kind = terr.Kind
	}

	if kind == KindNotFound {
		s.logger.Debug("Job record not found, reconciling",
			zap.String("job_id", st.handle.JobID))
		if out, ok := s.reconcile(ctx, st); ok {
			s.finish(ctx, st, out)
			return true
		}
	}

	st.consecutiveErrs++
	s.logger.Debug("Status fetch failed",
		zap.String("job_id", st.handle.JobID),
		zap.String("kind", string(kind)),
		zap.Int("consecutive_errors", st.consecutiveErrs),
		zap.Error(err))

	if st.consecutiveErrs < s.cfg.ErrorCeiling {
		// Within the tolerance budget: no event, wait for the next tick.
		return false
	}

	// Ceiling reached. One last reconciliation attempt, unless this tick
	// already reconciled for not_found and found nothing.
	if kind != KindNotFound {
		if out, ok := s.reconcile(ctx, st); ok {
			s.finish(ctx, st, out)
			return true
		}
	}

	s.finish(ctx, st, Outcome{
		JobID:  st.handle.JobID,
		Tag:    OutcomeFailure,
		Reason: fmt.Sprintf("status unavailable after %d attempts", st.consecutiveErrs),
		Note:   "the server may still be processing; check the session's results manually",
	})
	return true
}

// reconcile is the fallback: infer completion from the presence of output
// artifacts when authoritative status is unavailable or ambiguous. It always
// asks the probe for a fresh count; the last snapshot's artifact count is a
// secondary signal. Probe failure counts as no evidence.
func (s *Supervisor) reconcile(ctx context.Context, st *jobState) (Outcome, bool) {
	count := 0
	if s.probe != nil {
		pctx, cancel := context.WithTimeout(ctx, s.cfg.FetchTimeout)
		n, err := s.probe.Count(pctx, st.handle.SessionID)
		cancel()
		if err != nil {
			s.logger.Debug("Artifact probe failed",
				zap.String("job_id", st.handle.JobID),
				zap.Error(err))
		} else {
			count = n
		}
	}

	if count <= 0 && (st.last == nil || st.last.ArtifactCount <= 0) {
		return Outcome{}, false
	}

	out := Outcome{
		JobID:     st.handle.JobID,
		Tag:       OutcomeAssumedSuccess,
		Artifacts: count,
		Note:      "job status could not be confirmed, but output artifacts were found; assuming completion",
	}
	if st.last != nil {
		if st.last.ArtifactCount > out.Artifacts {
			out.Artifacts = st.last.ArtifactCount
		}
		if st.last.Progress != nil {
			out.Processed = st.last.Progress.Processed
			out.Total = st.last.Progress.Total
		}
	}
	return out, true
}

// finish delivers the terminal outcome. The caller stops the loop right
// after, which makes terminal states absorbing. A cancellation that landed
// between the last poll and here suppresses emission.
func (s *Supervisor) finish(ctx context.Context, st *jobState, out Outcome) {
	if ctx.Err() != nil {
		return
	}

	s.logger.Info("Ingestion job resolved",
		zap.String("job_id", st.handle.JobID),
		zap.String("outcome", string(out.Tag)),
		zap.Int("processed", out.Processed),
		zap.Int("total", out.Total),
		zap.Int("artifacts", out.Artifacts))

	if s.sink != nil {
		s.sink.OnTerminal(out)
	}
}

func outcomeFromSnapshot(jobID string, tag OutcomeTag, snap *Snapshot) Outcome {
	out := Outcome{
		JobID:     jobID,
		Tag:       tag,
		Artifacts: snap.ArtifactCount,
		Errors:    snap.Errors,
	}
	if snap.Progress != nil {
		out.Processed = snap.Progress.Processed
		out.Total = snap.Progress.Total
	}
	return out
}

func progressEvent(jobID string, snap *Snapshot) ProgressEvent {
	ev := ProgressEvent{
		JobID:         jobID,
		ArtifactCount: snap.ArtifactCount,
	}
	if snap.Progress != nil {
		ev.Processed = snap.Progress.Processed
		ev.Total = snap.Progress.Total
		ev.CurrentBatch = snap.Progress.CurrentBatch
		ev.TotalBatches = snap.Progress.TotalBatches
		ev.CurrentItem = snap.Progress.CurrentItem
	}
	return ev
}
