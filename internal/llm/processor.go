package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/scrypster/memorytap/pkg/types"
)

// ErrProcessing marks every failure of the transcription and classification
// step: transport errors, open circuits, empty transcripts and malformed
// model answers.
var ErrProcessing = errors.New("audio processing failed")

// AudioProcessor turns a recording into a ProcessingResult in two calls:
// speech-to-text, then a JSON classification prompt over the transcript.
type AudioProcessor struct {
	transcriber Transcriber
	generator   TextGenerator
	logger      *slog.Logger
}

// NewAudioProcessor creates an AudioProcessor. A nil logger uses slog.Default().
func NewAudioProcessor(t Transcriber, g TextGenerator, logger *slog.Logger) *AudioProcessor {
	if logger == nil {
		logger = slog.Default()
	}
	return &AudioProcessor{transcriber: t, generator: g, logger: logger}
}

// Process transcribes and classifies audio. Any error wraps ErrProcessing.
func (p *AudioProcessor) Process(ctx context.Context, audio types.AudioArtifact) (*types.ProcessingResult, error) {
	transcript, err := p.transcriber.Transcribe(ctx, audio)
	if err != nil {
		return nil, fmt.Errorf("%w: transcribe: %w", ErrProcessing, err)
	}
	transcript = strings.TrimSpace(transcript)
	if transcript == "" {
		return nil, fmt.Errorf("%w: empty transcript", ErrProcessing)
	}

	raw, err := p.generator.Complete(ctx, ProcessingPrompt(transcript))
	if err != nil {
		return nil, fmt.Errorf("%w: classify: %w", ErrProcessing, err)
	}

	result, err := ParseProcessingResponse(raw, transcript)
	if err != nil {
		p.logger.Warn("llm: rejected processing response",
			"model", p.generator.GetModel(), "error", err)
		return nil, fmt.Errorf("%w: %w", ErrProcessing, err)
	}

	p.logger.Debug("llm: processed recording",
		"bytes", audio.Size(), "category", result.Category,
		"transcription_model", p.transcriber.TranscriptionModel(), "model", p.generator.GetModel())
	return result, nil
}
