package engine

import (
	"errors"
	"fmt"

	"github.com/scrypster/memorytap/pkg/types"
)

var (
	// ErrTooShort is returned when a recording is below the minimum size.
	ErrTooShort = errors.New("recording too short")

	// ErrCaptureInFlight is returned when a capture is started or submitted
	// while another one is still capturing, processing or persisting.
	ErrCaptureInFlight = errors.New("a capture is already in progress")

	// ErrNotCapturing is returned by Stop when no capture was started.
	ErrNotCapturing = errors.New("no capture in progress")

	// ErrSessionClosed is returned by operations on an ended session.
	ErrSessionClosed = errors.New("session closed")
)

// IngestionError is returned when an ingestion attempt ends in StateFailed.
// It unwraps to the underlying cause (ErrTooShort, audio.ErrDeviceUnavailable,
// llm.ErrProcessing or a storage sentinel).
type IngestionError struct {
	Reason types.FailureReason
	Err    error
}

func (e *IngestionError) Error() string {
	return fmt.Sprintf("ingestion failed (%s): %v", e.Reason, e.Err)
}

func (e *IngestionError) Unwrap() error {
	return e.Err
}

// Mutation operation names.
const (
	OpToggleFavorite   = "toggle_favorite"
	OpToggleCompletion = "toggle_completion"
	OpDelete           = "delete"
)

// MutationError is returned when the store rejects a mutation. The cache is
// unchanged when it is returned.
type MutationError struct {
	Op  string
	ID  string
	Err error
}

func (e *MutationError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.ID, e.Err)
}

func (e *MutationError) Unwrap() error {
	return e.Err
}

// FailureReasonOf extracts the ingestion failure reason from err, or
// ReasonNone when err is not an IngestionError.
func FailureReasonOf(err error) types.FailureReason {
	var ie *IngestionError
	if errors.As(err, &ie) {
		return ie.Reason
	}
	return types.ReasonNone
}
