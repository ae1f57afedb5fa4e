package registry

import "time"

// State is the locally recorded lifecycle state of an ingestion job.
//
// NOTE: These values are persisted in job.json and are part of the stable
// on-disk contract.
type State string

const (
	StateQueued  State = "queued"
	StateRunning State = "running"
	StateSuccess State = "success"
	StatePartial State = "partial"
	StateFailed  State = "failed"
	// StateAssumed marks a job whose authoritative status was never
	// confirmed but whose artifacts were found during reconciliation.
	StateAssumed State = "assumed"
	// StateDetached marks a job started with --detach that was never
	// supervised to completion from this machine.
	StateDetached State = "detached"
	StateUnknown  State = "unknown"
)

// terminal states are eligible for gc.
func (s State) Terminal() bool {
	switch s {
	case StateSuccess, StatePartial, StateFailed, StateAssumed, StateUnknown:
		return true
	}
	return false
}

// Record is the persistent record written to job.json.
//
// The schema is designed for backward-compatible extension (additive fields).
type Record struct {
	JobID     string    `json:"job_id"`
	SessionID string    `json:"session_id"`
	State     State     `json:"state"`
	CreatedAt time.Time `json:"created_at"`

	StartedAt *time.Time `json:"started_at,omitempty"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`

	Processed int `json:"processed,omitempty"`
	Total     int `json:"total,omitempty"`
	Artifacts int `json:"artifacts,omitempty"`

	// Reason explains a failed state; Note annotates an assumed one.
	Reason string `json:"reason,omitempty"`
	Note   string `json:"note,omitempty"`
}
