package httpx

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/example/expensetracker/internal/apperr"
	"github.com/example/expensetracker/internal/store"
)

// ErrorResponse is the body written for every failed request.
type ErrorResponse struct {
	StatusCode int            `json:"statusCode"`
	Code       apperr.Code    `json:"code"`
	Message    string         `json:"message"`
	Details    apperr.Details `json:"details,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
}

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Default().Error("write json", "error", err)
	}
}

// WriteError renders err. Classified errors keep their status and code;
// store.ErrNotFound becomes a 404; anything else is logged and reported as a
// bare 500 so storage or driver details never reach the client.
func WriteError(w http.ResponseWriter, logger *slog.Logger, err error) {
	if logger == nil {
		logger = slog.Default()
	}
	appErr, ok := apperr.As(err)
	switch {
	case ok:
		if appErr.Unwrap() != nil {
			logger.Debug("request failed", "code", appErr.Code, "error", err)
		}
	case errors.Is(err, store.ErrNotFound):
		appErr = apperr.ResourceNotFound("Requested record not found")
	default:
		logger.Error("unhandled error", "error", err)
		appErr = apperr.InternalServerError("Unexpected error occurred")
	}
	WriteJSON(w, appErr.Status, ErrorResponse{
		StatusCode: appErr.Status,
		Code:       appErr.Code,
		Message:    appErr.Message,
		Details:    appErr.Details,
		Timestamp:  appErr.Timestamp,
	})
}

// DecodeJSON reads a JSON request body into v.
func DecodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return apperr.BadRequest("Invalid request body", nil).WithCause(err)
	}
	return nil
}
