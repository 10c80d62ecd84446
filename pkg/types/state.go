package types

// IngestionState is a step of the capture-to-memory state machine.
type IngestionState string

// Ingestion states
const (
	StateIdle       IngestionState = "idle"
	StateCapturing  IngestionState = "capturing"
	StateProcessing IngestionState = "processing"
	StatePersisting IngestionState = "persisting"
	StateDone       IngestionState = "done"
	StateFailed     IngestionState = "failed"
)

// FailureReason explains why an ingestion attempt reached StateFailed.
type FailureReason string

// Failure reasons
const (
	ReasonNone              FailureReason = ""
	ReasonDeviceUnavailable FailureReason = "device_unavailable"
	ReasonTooShort          FailureReason = "too_short"
	ReasonProcessingError   FailureReason = "processing_error"
	ReasonStorageError      FailureReason = "storage_error"
)

// InFlight reports whether a capture attempt in this state still holds the
// session's single capture slot.
func (s IngestionState) InFlight() bool {
	return s == StateCapturing || s == StateProcessing || s == StatePersisting
}

// Terminal reports whether s ends an attempt.
func (s IngestionState) Terminal() bool {
	return s == StateDone || s == StateFailed
}

// IsValidIngestionTransition validates a move of the ingestion state machine.
//
// Valid transitions:
//
//	idle       -> capturing
//	capturing  -> processing | failed
//	processing -> persisting | failed
//	persisting -> done | failed
//	done       -> idle
//	failed     -> idle
func IsValidIngestionTransition(from, to IngestionState) bool {
	switch from {
	case StateIdle:
		return to == StateCapturing
	case StateCapturing:
		return to == StateProcessing || to == StateFailed
	case StateProcessing:
		return to == StatePersisting || to == StateFailed
	case StatePersisting:
		return to == StateDone || to == StateFailed
	case StateDone, StateFailed:
		return to == StateIdle
	default:
		return false
	}
}
