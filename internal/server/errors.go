package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/scrypster/memorytap/internal/audio"
	"github.com/scrypster/memorytap/internal/engine"
	"github.com/scrypster/memorytap/internal/identity"
	"github.com/scrypster/memorytap/internal/llm"
	"github.com/scrypster/memorytap/internal/storage"
	"github.com/scrypster/memorytap/pkg/types"
)

// Error codes returned in ErrorResponse.Code.
const (
	CodeBadRequest         = "BAD_REQUEST"
	CodeUnauthorized       = "UNAUTHORIZED"
	CodeNotFound           = "NOT_FOUND"
	CodeDuplicateID        = "DUPLICATE_ID"
	CodeCaptureInFlight    = "CAPTURE_IN_FLIGHT"
	CodeTooShort           = "TOO_SHORT"
	CodeProcessingFailed   = "PROCESSING_FAILED"
	CodeStorageUnavailable = "STORAGE_UNAVAILABLE"
	CodeDeviceUnavailable  = "DEVICE_UNAVAILABLE"
	CodeRateLimited        = "RATE_LIMITED"
	CodeTooLarge           = "PAYLOAD_TOO_LARGE"
	CodeInternal           = "INTERNAL"
)

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Error  string              `json:"error"`
	Code   string              `json:"code"`
	Reason types.FailureReason `json:"reason,omitempty"`
}

// statusFor maps an error from the core to an HTTP status and error code.
func statusFor(err error) (int, string) {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.Is(err, identity.ErrUnauthenticated), errors.Is(err, engine.ErrSessionClosed):
		return http.StatusUnauthorized, CodeUnauthorized
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound, CodeNotFound
	case errors.Is(err, storage.ErrDuplicateID):
		return http.StatusConflict, CodeDuplicateID
	case errors.Is(err, engine.ErrCaptureInFlight):
		return http.StatusConflict, CodeCaptureInFlight
	case errors.Is(err, engine.ErrTooShort):
		return http.StatusUnprocessableEntity, CodeTooShort
	case errors.Is(err, llm.ErrProcessing):
		return http.StatusBadGateway, CodeProcessingFailed
	case errors.Is(err, storage.ErrStorageUnavailable):
		return http.StatusServiceUnavailable, CodeStorageUnavailable
	case errors.Is(err, audio.ErrDeviceUnavailable):
		return http.StatusServiceUnavailable, CodeDeviceUnavailable
	case errors.Is(err, storage.ErrInvalidInput):
		return http.StatusBadRequest, CodeBadRequest
	case errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge, CodeTooLarge
	default:
		return http.StatusInternalServerError, CodeInternal
	}
}

// respondJSON writes a JSON response with the given status code.
func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if data == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(data); err != nil {
		// Headers are already sent.
		slog.Default().Warn("failed to encode JSON response", "error", err)
	}
}

// respondError writes err with the status statusFor picks. Internal errors
// are logged and replaced with a generic message.
func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		msg = "internal error"
	}
	respondJSON(w, status, ErrorResponse{Error: msg, Code: code, Reason: engine.FailureReasonOf(err)})
}

func respondBadRequest(w http.ResponseWriter, msg string) {
	respondJSON(w, http.StatusBadRequest, ErrorResponse{Error: msg, Code: CodeBadRequest})
}
