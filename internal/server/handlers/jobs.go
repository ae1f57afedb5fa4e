package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	apperrors "github.com/lecternhq/lectern/internal/errors"
	"github.com/lecternhq/lectern/internal/server/middleware"
	"github.com/lecternhq/lectern/pkg/supervise"
)

// StatusFetcher is the slice of the console client the jobs handler needs.
type StatusFetcher interface {
	Fetch(ctx context.Context, jobID, sessionID string) (*supervise.Snapshot, error)
}

// JobStatusResponse is the proxied, interpreted job status.
type JobStatusResponse struct {
	JobID     string                `json:"job_id"`
	Phase     supervise.Phase       `json:"phase"`
	Progress  *supervise.Progress   `json:"progress,omitempty"`
	Artifacts int                   `json:"artifacts"`
	Errors    []supervise.ItemError `json:"errors,omitempty"`
}

// JobStatus returns a handler that re-serves the backend's job status after
// running it through the same interpretation layer the supervisor uses, so
// dashboards see phases instead of raw backend strings.
func JobStatus(fetcher StatusFetcher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobID := chi.URLParam(r, "jobID")
		sessionID := r.URL.Query().Get("session_id")
		requestID := middleware.GetRequestID(r.Context())

		if jobID == "" {
			apperrors.Write(w, http.StatusBadRequest, apperrors.CodeBadRequest,
				"job id is required", requestID)
			return
		}

		snap, err := fetcher.Fetch(r.Context(), jobID, sessionID)
		if err != nil {
			var terr *supervise.TransportError
			if errors.As(err, &terr) && terr.Kind == supervise.KindNotFound {
				apperrors.Write(w, http.StatusNotFound, apperrors.CodeNotFound,
					"job not found: "+jobID, requestID)
				return
			}
			apperrors.Write(w, http.StatusBadGateway, apperrors.CodeUpstream,
				"status endpoint unavailable: "+err.Error(), requestID)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(JobStatusResponse{
			JobID:     jobID,
			Phase:     snap.Phase,
			Progress:  snap.Progress,
			Artifacts: snap.ArtifactCount,
			Errors:    snap.Errors,
		})
	}
}
