// Package llm talks to the hosted and local models that turn a recording into
// a memory: speech-to-text first, then a JSON classification prompt.
package llm

import (
	"context"

	"github.com/scrypster/memorytap/pkg/types"
)

// TextGenerator is the interface for LLM text completion.
// All prompts are single-string completions that ask for a JSON object.
type TextGenerator interface {
	Complete(ctx context.Context, prompt string) (string, error)
	GetModel() string
}

// Transcriber converts a recording to text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio types.AudioArtifact) (string, error)
	TranscriptionModel() string
}
