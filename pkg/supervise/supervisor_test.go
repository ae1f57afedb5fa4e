package supervise

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const waitTimeout = 5 * time.Second

// scriptedClient replays a fixed sequence of fetch results; once the script
// is exhausted the last entry repeats.
type scriptedClient struct {
	mu      sync.Mutex
	script  []fetchResult
	fetches int
}

type fetchResult struct {
	snap *Snapshot
	err  error
}

func (c *scriptedClient) Fetch(ctx context.Context, jobID, sessionID string) (*Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	i := c.fetches
	if i >= len(c.script) {
		i = len(c.script) - 1
	}
	c.fetches++
	r := c.script[i]
	return r.snap, r.err
}

func (c *scriptedClient) fetchCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fetches
}

type stubProbe struct {
	count int
	err   error
	calls int32
}

func (p *stubProbe) Count(ctx context.Context, sessionID string) (int, error) {
	atomic.AddInt32(&p.calls, 1)
	return p.count, p.err
}

func (p *stubProbe) callCount() int {
	return int(atomic.LoadInt32(&p.calls))
}

type captureSink struct {
	progress chan ProgressEvent
	terminal chan Outcome
}

func newCaptureSink() *captureSink {
	return &captureSink{
		progress: make(chan ProgressEvent, 64),
		terminal: make(chan Outcome, 64),
	}
}

func (s *captureSink) OnProgress(ev ProgressEvent) { s.progress <- ev }
func (s *captureSink) OnTerminal(out Outcome)      { s.terminal <- out }

func (s *captureSink) waitTerminal(t *testing.T) Outcome {
	t.Helper()
	select {
	case out := <-s.terminal:
		return out
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for terminal outcome")
		return Outcome{}
	}
}

func (s *captureSink) waitProgress(t *testing.T) ProgressEvent {
	t.Helper()
	select {
	case ev := <-s.progress:
		return ev
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for progress event")
		return ProgressEvent{}
	}
}

func testConfig() Config {
	return Config{
		Interval:     2 * time.Millisecond,
		ErrorCeiling: 5,
		FetchTimeout: time.Second,
	}
}

func serverError() error {
	return &TransportError{Kind: KindServerError, Err: errors.New("boom")}
}

func running(processed, total int) *Snapshot {
	return &Snapshot{
		Phase:    PhaseRunning,
		Progress: &Progress{Processed: processed, Total: total},
	}
}

func startJob(t *testing.T, sup *Supervisor) *Job {
	t.Helper()
	job, err := sup.Start(context.Background(), Handle{JobID: "job-1", SessionID: "sess-1"})
	require.NoError(t, err)
	return job
}

func waitDone(t *testing.T, job *Job) {
	t.Helper()
	select {
	case <-job.Done():
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for supervision to end")
	}
}

func TestStartValidation(t *testing.T) {
	sup := New(&scriptedClient{script: []fetchResult{{snap: running(0, 1)}}}, &stubProbe{}, newCaptureSink(), testConfig(), nil)

	t.Run("missing job id", func(t *testing.T) {
		_, err := sup.Start(context.Background(), Handle{SessionID: "sess-1"})
		assert.Error(t, err)
	})

	t.Run("missing session id", func(t *testing.T) {
		_, err := sup.Start(context.Background(), Handle{JobID: "job-1"})
		assert.Error(t, err)
	})

	t.Run("duplicate job id", func(t *testing.T) {
		job := startJob(t, sup)
		defer sup.Cancel(job.ID())

		_, err := sup.Start(context.Background(), Handle{JobID: "job-1", SessionID: "sess-1"})
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrAlreadySupervised)
	})
}

// Authoritative trust: a completed snapshot resolves the job immediately,
// regardless of how many transport errors preceded it.
func TestCompletedTrustedDirectly(t *testing.T) {
	client := &scriptedClient{script: []fetchResult{
		{err: serverError()},
		{err: serverError()},
		{snap: &Snapshot{
			Phase:         PhaseCompleted,
			Progress:      &Progress{Processed: 7, Total: 7},
			ArtifactCount: 42,
		}},
	}}
	probe := &stubProbe{}
	sink := newCaptureSink()
	sup := New(client, probe, sink, testConfig(), nil)

	job := startJob(t, sup)
	out := sink.waitTerminal(t)
	waitDone(t, job)

	assert.Equal(t, OutcomeSuccess, out.Tag)
	assert.Equal(t, 7, out.Processed)
	assert.Equal(t, 7, out.Total)
	assert.Equal(t, 42, out.Artifacts)
	assert.Empty(t, out.Errors)
	// Reconciliation is never needed for an authoritative terminal phase.
	assert.Equal(t, 0, probe.callCount())
	assert.Empty(t, sup.Active())
}

func TestCompletedWithErrorsIsPartial(t *testing.T) {
	itemErrs := []ItemError{
		{Item: "syllabus.pdf", Reason: "unsupported encoding"},
		{Item: "notes.docx", Reason: "file is empty"},
	}
	client := &scriptedClient{script: []fetchResult{
		{snap: &Snapshot{
			Phase:         PhaseCompletedWithErrors,
			Progress:      &Progress{Processed: 8, Total: 10},
			ArtifactCount: 31,
			Errors:        itemErrs,
		}},
	}}
	sink := newCaptureSink()
	sup := New(client, &stubProbe{}, sink, testConfig(), nil)

	job := startJob(t, sup)
	out := sink.waitTerminal(t)
	waitDone(t, job)

	assert.Equal(t, OutcomePartialSuccess, out.Tag)
	assert.Equal(t, 8, out.Processed)
	assert.Equal(t, 10, out.Total)
	assert.Equal(t, 31, out.Artifacts)
	assert.Equal(t, itemErrs, out.Errors)
}

func TestFailedCarriesFirstErrorReason(t *testing.T) {
	t.Run("with error list", func(t *testing.T) {
		client := &scriptedClient{script: []fetchResult{
			{snap: &Snapshot{
				Phase:  PhaseFailed,
				Errors: []ItemError{{Item: "deck.pptx", Reason: "storage quota exceeded"}},
			}},
		}}
		sink := newCaptureSink()
		sup := New(client, &stubProbe{}, sink, testConfig(), nil)

		startJob(t, sup)
		out := sink.waitTerminal(t)

		assert.Equal(t, OutcomeFailure, out.Tag)
		assert.Equal(t, "storage quota exceeded", out.Reason)
	})

	t.Run("empty error list gets generic reason", func(t *testing.T) {
		client := &scriptedClient{script: []fetchResult{
			{snap: &Snapshot{Phase: PhaseFailed}},
		}}
		sink := newCaptureSink()
		sup := New(client, &stubProbe{}, sink, testConfig(), nil)

		startJob(t, sup)
		out := sink.waitTerminal(t)

		assert.Equal(t, OutcomeFailure, out.Tag)
		assert.Equal(t, "ingestion failed", out.Reason)
	})
}

// Tolerance budget: transport errors below the ceiling emit nothing; hitting
// the ceiling reconciles once and, with no artifact evidence, fails with the
// attempt count.
func TestToleranceBudgetExhausted(t *testing.T) {
	client := &scriptedClient{script: []fetchResult{{err: serverError()}}}
	probe := &stubProbe{count: 0}
	sink := newCaptureSink()
	sup := New(client, probe, sink, testConfig(), nil)

	job := startJob(t, sup)
	out := sink.waitTerminal(t)
	waitDone(t, job)

	assert.Equal(t, OutcomeFailure, out.Tag)
	assert.Equal(t, "status unavailable after 5 attempts", out.Reason)
	assert.Equal(t, 5, client.fetchCount())
	assert.Equal(t, 1, probe.callCount())
	assert.Empty(t, sink.progress, "transient misses below the ceiling must emit nothing")
}

func TestToleranceBudgetRecovers(t *testing.T) {
	client := &scriptedClient{script: []fetchResult{
		{err: serverError()},
		{err: serverError()},
		{err: serverError()},
		{err: serverError()},
		{snap: &Snapshot{Phase: PhaseCompleted, Progress: &Progress{Processed: 3, Total: 3}, ArtifactCount: 9}},
	}}
	probe := &stubProbe{}
	sink := newCaptureSink()
	sup := New(client, probe, sink, testConfig(), nil)

	startJob(t, sup)
	out := sink.waitTerminal(t)

	assert.Equal(t, OutcomeSuccess, out.Tag)
	assert.Equal(t, 9, out.Artifacts)
	assert.Equal(t, 0, probe.callCount())
}

// A missing job record is an ambiguous signal, not failure: reconciliation
// runs immediately and artifact evidence yields assumed success.
func TestNotFoundReconcilesToAssumedSuccess(t *testing.T) {
	client := &scriptedClient{script: []fetchResult{
		{err: &TransportError{Kind: KindNotFound, Err: errors.New("no such job")}},
	}}
	probe := &stubProbe{count: 3}
	sink := newCaptureSink()
	sup := New(client, probe, sink, testConfig(), nil)

	job := startJob(t, sup)
	out := sink.waitTerminal(t)
	waitDone(t, job)

	assert.Equal(t, OutcomeAssumedSuccess, out.Tag)
	assert.Equal(t, 3, out.Artifacts)
	assert.NotEmpty(t, out.Note)
	assert.Equal(t, 1, client.fetchCount())
}

func TestNotFoundWithoutEvidenceCountsTowardCeiling(t *testing.T) {
	notFound := fetchResult{err: &TransportError{Kind: KindNotFound, Err: errors.New("no such job")}}
	client := &scriptedClient{script: []fetchResult{notFound}}
	probe := &stubProbe{count: 0}
	sink := newCaptureSink()
	sup := New(client, probe, sink, testConfig(), nil)

	startJob(t, sup)
	out := sink.waitTerminal(t)

	assert.Equal(t, OutcomeFailure, out.Tag)
	assert.Equal(t, "status unavailable after 5 attempts", out.Reason)
	assert.Equal(t, 5, client.fetchCount())
	// One reconciliation per not_found tick, none duplicated at the ceiling.
	assert.Equal(t, 5, probe.callCount())
}

// Ambiguity without evidence keeps polling rather than terminating.
func TestUnknownPhaseKeepsPollingWithoutEvidence(t *testing.T) {
	client := &scriptedClient{script: []fetchResult{
		{snap: &Snapshot{Phase: PhaseUnknown}},
		{snap: &Snapshot{Phase: PhaseUnknown}},
		{snap: &Snapshot{Phase: PhaseCompleted, Progress: &Progress{Processed: 4, Total: 4}, ArtifactCount: 16}},
	}}
	probe := &stubProbe{count: 0}
	sink := newCaptureSink()
	sup := New(client, probe, sink, testConfig(), nil)

	startJob(t, sup)
	out := sink.waitTerminal(t)

	assert.Equal(t, OutcomeSuccess, out.Tag)
	assert.Equal(t, 3, client.fetchCount())
	assert.Equal(t, 2, probe.callCount())
	assert.Empty(t, sink.progress)
}

// likely_completed plus a positive artifact count in the snapshot itself is
// enough evidence even when the fresh probe sees nothing yet.
func TestLikelyCompletedUsesSnapshotArtifactCount(t *testing.T) {
	client := &scriptedClient{script: []fetchResult{
		{snap: &Snapshot{Phase: PhaseLikelyCompleted, ArtifactCount: 12}},
	}}
	probe := &stubProbe{count: 0}
	sink := newCaptureSink()
	sup := New(client, probe, sink, testConfig(), nil)

	startJob(t, sup)
	out := sink.waitTerminal(t)

	assert.Equal(t, OutcomeAssumedSuccess, out.Tag)
	assert.Equal(t, 12, out.Artifacts)
}

// Probe failure is "no evidence", never a supervisor error.
func TestProbeFailureIsNoEvidence(t *testing.T) {
	client := &scriptedClient{script: []fetchResult{
		{err: &TransportError{Kind: KindNotFound, Err: errors.New("no such job")}},
		{snap: &Snapshot{Phase: PhaseCompleted, Progress: &Progress{Processed: 5, Total: 5}, ArtifactCount: 10}},
	}}
	probe := &stubProbe{err: errors.New("chunk store unavailable")}
	sink := newCaptureSink()
	sup := New(client, probe, sink, testConfig(), nil)

	startJob(t, sup)
	out := sink.waitTerminal(t)

	assert.Equal(t, OutcomeSuccess, out.Tag)
	assert.Equal(t, 10, out.Artifacts)
}

// Cancellation is silent: no outcome, ever, after Cancel.
func TestCancelIsSilent(t *testing.T) {
	client := &scriptedClient{script: []fetchResult{{snap: running(1, 10)}}}
	sink := newCaptureSink()
	sup := New(client, &stubProbe{}, sink, testConfig(), nil)

	job := startJob(t, sup)

	// Let at least one poll land before cancelling.
	sink.waitProgress(t)

	require.True(t, sup.Cancel(job.ID()))
	waitDone(t, job)

	select {
	case out := <-sink.terminal:
		t.Fatalf("cancelled job emitted terminal outcome %+v", out)
	case <-time.After(20 * time.Millisecond):
	}
	assert.Empty(t, sup.Active())

	// Cancelling again reports the job as unknown.
	assert.False(t, sup.Cancel(job.ID()))
}

func TestContextCancellationIsSilent(t *testing.T) {
	client := &scriptedClient{script: []fetchResult{{snap: running(1, 10)}}}
	sink := newCaptureSink()
	sup := New(client, &stubProbe{}, sink, testConfig(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	job, err := sup.Start(ctx, Handle{JobID: "job-ctx", SessionID: "sess-1"})
	require.NoError(t, err)

	sink.waitProgress(t)
	cancel()
	waitDone(t, job)

	select {
	case out := <-sink.terminal:
		t.Fatalf("cancelled job emitted terminal outcome %+v", out)
	case <-time.After(20 * time.Millisecond):
	}
}

// End-to-end scenario: two progress updates, then success; the terminal
// state is absorbing and nothing follows it.
func TestRunThroughToCompletion(t *testing.T) {
	client := &scriptedClient{script: []fetchResult{
		{snap: running(2, 10)},
		{snap: running(6, 10)},
		{snap: &Snapshot{
			Phase:         PhaseCompleted,
			Progress:      &Progress{Processed: 10, Total: 10},
			ArtifactCount: 55,
		}},
	}}
	sink := newCaptureSink()
	sup := New(client, &stubProbe{}, sink, testConfig(), nil)

	job := startJob(t, sup)

	first := sink.waitProgress(t)
	assert.Equal(t, 2, first.Processed)
	assert.Equal(t, 10, first.Total)

	second := sink.waitProgress(t)
	assert.Equal(t, 6, second.Processed)

	out := sink.waitTerminal(t)
	assert.Equal(t, OutcomeSuccess, out.Tag)
	assert.Equal(t, 10, out.Processed)
	assert.Equal(t, 10, out.Total)
	assert.Equal(t, 55, out.Artifacts)

	waitDone(t, job)

	// Absorbing: no further events once the outcome has been emitted.
	fetchesAtTerminal := client.fetchCount()
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, sink.progress)
	assert.Empty(t, sink.terminal)
	assert.Equal(t, fetchesAtTerminal, client.fetchCount())
}

func TestIndependentJobsDoNotInterfere(t *testing.T) {
	client := &scriptedClient{script: []fetchResult{
		{snap: &Snapshot{Phase: PhaseCompleted, Progress: &Progress{Processed: 1, Total: 1}, ArtifactCount: 2}},
	}}
	sink := newCaptureSink()
	sup := New(client, &stubProbe{}, sink, testConfig(), nil)

	jobA, err := sup.Start(context.Background(), Handle{JobID: "job-a", SessionID: "sess-1"})
	require.NoError(t, err)
	jobB, err := sup.Start(context.Background(), Handle{JobID: "job-b", SessionID: "sess-2"})
	require.NoError(t, err)

	seen := map[string]bool{}
	for i := 0; i < 2; i++ {
		out := sink.waitTerminal(t)
		assert.Equal(t, OutcomeSuccess, out.Tag)
		seen[out.JobID] = true
	}
	assert.True(t, seen["job-a"])
	assert.True(t, seen["job-b"])

	waitDone(t, jobA)
	waitDone(t, jobB)
	assert.Empty(t, sup.Active())
}
