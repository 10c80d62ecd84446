// Package engine holds the per-session state machine for memories: the
// in-process cache, the ingestion pipeline that turns a recording into a
// stored memory, and the mutation router for favorite, completion and delete.
//
// Persistence always happens first. The cache only reflects a change after
// the store has accepted it, so the cache never holds a record the store
// does not.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/scrypster/memorytap/pkg/types"
)

// DefaultMinAudioBytes is the smallest recording worth sending for
// transcription. Anything shorter is almost certainly an accidental tap.
const DefaultMinAudioBytes = 1000

// Processor transcribes and classifies a recording.
type Processor interface {
	Process(ctx context.Context, audio types.AudioArtifact) (*types.ProcessingResult, error)
}

// Config holds configuration for a session's pipeline.
type Config struct {
	// MinAudioBytes rejects recordings below this size with ErrTooShort
	// (default: 1000).
	MinAudioBytes int

	// Now returns the capture time for new memories (default: time.Now).
	Now func() time.Time

	// NewID generates memory IDs (default: uuid.NewString).
	NewID func() string
}

// DefaultConfig returns the default pipeline configuration.
func DefaultConfig() Config {
	return Config{
		MinAudioBytes: DefaultMinAudioBytes,
		Now:           time.Now,
		NewID:         uuid.NewString,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.MinAudioBytes < 0 {
		return fmt.Errorf("MinAudioBytes must be >= 0, got %d", c.MinAudioBytes)
	}
	return nil
}

// withDefaults fills zero-valued function fields.
func (c Config) withDefaults() Config {
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.NewID == nil {
		c.NewID = uuid.NewString
	}
	return c
}
