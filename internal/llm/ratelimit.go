package llm

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"github.com/scrypster/memorytap/pkg/types"
)

// RateLimitedGenerator caps the request rate of a TextGenerator. Calls wait
// for a token and give up when the context ends.
type RateLimitedGenerator struct {
	next    TextGenerator
	limiter *rate.Limiter
}

// NewRateLimitedGenerator wraps gen with a token bucket of rps requests per
// second and the given burst. A non-positive rps returns gen unchanged.
func NewRateLimitedGenerator(gen TextGenerator, rps float64, burst int) TextGenerator {
	if rps <= 0 {
		return gen
	}
	if burst < 1 {
		burst = 1
	}
	return &RateLimitedGenerator{next: gen, limiter: rate.NewLimiter(rate.Limit(rps), burst)}
}

// Complete waits for a token, then delegates.
func (g *RateLimitedGenerator) Complete(ctx context.Context, prompt string) (string, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("llm rate limit: %w", err)
	}
	return g.next.Complete(ctx, prompt)
}

// GetModel returns the wrapped generator's model.
func (g *RateLimitedGenerator) GetModel() string {
	return g.next.GetModel()
}

// RateLimitedTranscriber caps the request rate of a Transcriber.
type RateLimitedTranscriber struct {
	next    Transcriber
	limiter *rate.Limiter
}

// NewRateLimitedTranscriber wraps t the same way NewRateLimitedGenerator does.
func NewRateLimitedTranscriber(t Transcriber, rps float64, burst int) Transcriber {
	if rps <= 0 {
		return t
	}
	if burst < 1 {
		burst = 1
	}
	return &RateLimitedTranscriber{next: t, limiter: rate.NewLimiter(rate.Limit(rps), burst)}
}

// Transcribe waits for a token, then delegates.
func (t *RateLimitedTranscriber) Transcribe(ctx context.Context, audio types.AudioArtifact) (string, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("llm rate limit: %w", err)
	}
	return t.next.Transcribe(ctx, audio)
}

// TranscriptionModel returns the wrapped transcriber's model.
func (t *RateLimitedTranscriber) TranscriptionModel() string {
	return t.next.TranscriptionModel()
}
