package middleware

import (
	"fmt"
	"net/http"

	"go.uber.org/zap"

	apperrors "github.com/lecternhq/lectern/internal/errors"
	"github.com/lecternhq/lectern/internal/observability"
)

// ErrorResponse is the envelope written for recovered panics. It mirrors
// apperrors.HTTPErrorResponse so all error bodies decode the same way.
type ErrorResponse = apperrors.HTTPErrorResponse

// Recovery converts panics into a 500 with the standard error envelope.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				observability.CLILogger.Error("Recovered from panic in handler",
					zap.String("path", r.URL.Path),
					zap.Any("panic", rec))

				apperrors.Write(w, http.StatusInternalServerError,
					apperrors.CodeInternal,
					fmt.Sprintf("panic: %v", rec),
					GetRequestID(r.Context()))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// ErrorHandler is an alias for Recovery kept for callers that wire it by
// that name.
func ErrorHandler(next http.Handler) http.Handler {
	return Recovery(next)
}
