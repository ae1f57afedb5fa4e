package supervise

import (
	"context"
	"fmt"
)

// Phase is the server-reported lifecycle phase of an ingestion job.
//
// NOTE: These values mirror the wire contract of the status endpoint and are
// part of the stable interpretation layer; new server phases decode as
// PhaseUnknown rather than failing the poll.
type Phase string

const (
	PhaseQueued              Phase = "queued"
	PhaseRunning             Phase = "running"
	PhaseCompleted           Phase = "completed"
	PhaseCompletedWithErrors Phase = "completed_with_errors"
	PhaseFailed              Phase = "failed"
	PhaseUnknown             Phase = "unknown"
	PhaseLikelyCompleted     Phase = "likely_completed"
)

// Progress reports how far the server has gotten through a batch.
type Progress struct {
	Processed    int
	Total        int
	CurrentBatch int
	TotalBatches int
	CurrentItem  string
}

// ItemError is a per-document failure reported by the server.
type ItemError struct {
	Item   string `json:"item"`
	Reason string `json:"reason"`
}

// Snapshot is one poll's interpretation of the remote status payload.
type Snapshot struct {
	Phase         Phase
	Progress      *Progress
	ArtifactCount int
	Errors        []ItemError
}

// Handle identifies one supervised job.
type Handle struct {
	// JobID is the opaque identifier issued by the server when the
	// ingestion was accepted.
	JobID string
	// SessionID is the owner context the job's output belongs to. It is
	// passed along on status fetches to help the server locate a job whose
	// primary record has been evicted, and it scopes fallback probing.
	SessionID string
}

// TransportKind classifies a failed status fetch.
type TransportKind string

const (
	KindNotFound     TransportKind = "not_found"
	KindServerError  TransportKind = "server_error"
	KindNetworkError TransportKind = "network_error"
	KindMalformed    TransportKind = "malformed"
)

// TransportError is returned by a StatusClient when the status endpoint
// could not produce a usable snapshot. Interpretation is the supervisor's
// job; in particular KindNotFound is never failure by itself.
type TransportError struct {
	Kind TransportKind
	Err  error
}

func (e *TransportError) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// OutcomeTag is the terminal classification delivered to the sink.
type OutcomeTag string

const (
	OutcomeSuccess        OutcomeTag = "success"
	OutcomePartialSuccess OutcomeTag = "partial_success"
	OutcomeFailure        OutcomeTag = "failure"
	OutcomeAssumedSuccess OutcomeTag = "assumed_success"
)

// Outcome is the value delivered to an OutcomeSink exactly once per job.
type Outcome struct {
	JobID     string
	Tag       OutcomeTag
	Processed int
	Total     int
	Artifacts int
	Errors    []ItemError
	// Reason is set for OutcomeFailure.
	Reason string
	// Note is set for OutcomeAssumedSuccess, explaining that authoritative
	// confirmation was unavailable.
	Note string
}

// ProgressEvent is a non-terminal update pushed to the sink while the job
// is queued or running.
type ProgressEvent struct {
	JobID         string
	Processed     int
	Total         int
	CurrentBatch  int
	TotalBatches  int
	CurrentItem   string
	ArtifactCount int
}

// StatusClient fetches the raw status snapshot for a job. Implementations
// carry their own network-level timeout and do no retrying; any failure is
// surfaced as a *TransportError.
type StatusClient interface {
	Fetch(ctx context.Context, jobID, sessionID string) (*Snapshot, error)
}

// ArtifactProbe counts the output artifacts currently known for a session.
// It is the supervisor's fallback signal when authoritative status is
// unavailable. A probe failure means "no evidence", not a supervisor error.
type ArtifactProbe interface {
	Count(ctx context.Context, sessionID string) (int, error)
}

// OutcomeSink receives supervision events: zero or more progress events and
// exactly one terminal outcome per job. Callbacks run on the job's poll
// goroutine and should return promptly.
type OutcomeSink interface {
	OnProgress(ev ProgressEvent)
	OnTerminal(out Outcome)
}
