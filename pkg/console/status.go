package console

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/lecternhq/lectern/pkg/supervise"
)

// jobStatusPayload is the backend's wire shape for ingestion job status.
type jobStatusPayload struct {
	Status                string `json:"status"`
	TotalFiles            int    `json:"total_files"`
	ProcessedSuccessfully int    `json:"processed_successfully"`
	CurrentBatch          int    `json:"current_batch"`
	TotalBatches          int    `json:"total_batches"`
	CurrentFile           string `json:"current_file"`
	TotalChunks           int    `json:"total_chunks"`
	Errors                []struct {
		Filename string `json:"filename"`
		Error    string `json:"error"`
	} `json:"errors"`
}

// knownPhases are the status strings the interpretation layer understands;
// anything else decodes as unknown so a newer backend cannot break polling.
var knownPhases = map[string]supervise.Phase{
	"queued":                supervise.PhaseQueued,
	"running":               supervise.PhaseRunning,
	"processing":            supervise.PhaseRunning,
	"completed":             supervise.PhaseCompleted,
	"completed_with_errors": supervise.PhaseCompletedWithErrors,
	"failed":                supervise.PhaseFailed,
	"likely_completed":      supervise.PhaseLikelyCompleted,
}

// Fetch implements supervise.StatusClient. The session id travels as a query
// parameter so the backend can locate a job whose primary record has been
// evicted. Every failure mode is classified as a *supervise.TransportError;
// interpretation (including not_found) is left to the supervisor.
func (c *Client) Fetch(ctx context.Context, jobID, sessionID string) (*supervise.Snapshot, error) {
	if jobID == "" {
		return nil, &supervise.TransportError{
			Kind: supervise.KindMalformed,
			Err:  fmt.Errorf("job id is required"),
		}
	}

	q := url.Values{}
	if sessionID != "" {
		q.Set("session_id", sessionID)
	}
	path := "/v1/ingestions/" + url.PathEscape(jobID) + "/status"

	req, err := c.newRequest(ctx, http.MethodGet, path, q, nil)
	if err != nil {
		return nil, &supervise.TransportError{Kind: supervise.KindMalformed, Err: err}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &supervise.TransportError{Kind: supervise.KindNetworkError, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, &supervise.TransportError{
			Kind: supervise.KindNotFound,
			Err:  fmt.Errorf("job %s not found", jobID),
		}
	case resp.StatusCode >= 500:
		return nil, &supervise.TransportError{
			Kind: supervise.KindServerError,
			Err:  fmt.Errorf("status endpoint returned %s", resp.Status),
		}
	case resp.StatusCode != http.StatusOK:
		return nil, &supervise.TransportError{
			Kind: supervise.KindMalformed,
			Err:  fmt.Errorf("unexpected status %s", resp.Status),
		}
	}

	b, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &supervise.TransportError{Kind: supervise.KindNetworkError, Err: err}
	}

	var payload jobStatusPayload
	if err := json.Unmarshal(b, &payload); err != nil {
		return nil, &supervise.TransportError{Kind: supervise.KindMalformed, Err: err}
	}

	return snapshotFromPayload(&payload), nil
}

func snapshotFromPayload(p *jobStatusPayload) *supervise.Snapshot {
	phase, ok := knownPhases[p.Status]
	if !ok {
		phase = supervise.PhaseUnknown
	}

	snap := &supervise.Snapshot{
		Phase:         phase,
		ArtifactCount: max(p.TotalChunks, 0),
	}

	// Counts must satisfy 0 <= processed <= total before they reach the
	// supervisor. Backends have been seen double-counting retried files, so
	// out-of-range values are clamped rather than failing the poll.
	total := max(p.TotalFiles, 0)
	processed := min(max(p.ProcessedSuccessfully, 0), total)
	if total > 0 {
		snap.Progress = &supervise.Progress{
			Processed:    processed,
			Total:        total,
			CurrentBatch: p.CurrentBatch,
			TotalBatches: p.TotalBatches,
			CurrentItem:  p.CurrentFile,
		}
	}
	for _, e := range p.Errors {
		snap.Errors = append(snap.Errors, supervise.ItemError{
			Item:   e.Filename,
			Reason: e.Error,
		})
	}
	return snap
}

// Count implements supervise.ArtifactProbe: the number of chunks currently
// known for the session, the supervisor's fallback completion signal.
func (c *Client) Count(ctx context.Context, sessionID string) (int, error) {
	var out struct {
		Count int `json:"count"`
	}
	path := "/v1/sessions/" + url.PathEscape(sessionID) + "/chunks/count"
	if err := c.doJSON(ctx, http.MethodGet, path, nil, nil, &out); err != nil {
		return 0, err
	}
	return out.Count, nil
}
