package types

import "time"

// AudioArtifact is a finished recording handed over by the capture
// collaborator. The bytes are opaque to the core.
type AudioArtifact struct {
	Data        []byte
	ContentType string        // e.g. "audio/webm"
	Duration    time.Duration // zero when unknown
	Filename    string        // optional, used as the upload name for transcription
}

// Size returns the payload length in bytes.
func (a AudioArtifact) Size() int {
	return len(a.Data)
}

// ProcessingResult is the validated output of the transcription and
// classification collaborator.
type ProcessingResult struct {
	Title      string   `json:"title"`
	Summary    string   `json:"summary"`
	Transcript string   `json:"transcription"`
	Category   Category `json:"category"`
}
