// Package errors defines the JSON error envelope served by the local HTTP
// surface. Every non-2xx response carries exactly this shape so agents can
// parse failures without sniffing content.
package errors

import (
	"encoding/json"
	"net/http"
)

// Stable error codes for the HTTP surface.
const (
	CodeBadRequest         = "BAD_REQUEST"
	CodeNotFound           = "NOT_FOUND"
	CodeInternal           = "INTERNAL_ERROR"
	CodeServiceUnavailable = "SERVICE_UNAVAILABLE"
	CodeUpstream           = "UPSTREAM_ERROR"
)

// HTTPErrorResponse is the envelope for all error responses.
type HTTPErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// ErrorBody carries the error detail.
type ErrorBody struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	RequestID string         `json:"request_id,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

// Write serializes an error envelope with the given status.
func Write(w http.ResponseWriter, status int, code, message, requestID string) {
	WriteWithDetails(w, status, code, message, requestID, nil)
}

// WriteWithDetails serializes an error envelope including structured details.
func WriteWithDetails(w http.ResponseWriter, status int, code, message, requestID string, details map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(HTTPErrorResponse{
		Error: ErrorBody{
			Code:      code,
			Message:   message,
			RequestID: requestID,
			Details:   details,
		},
	})
}
