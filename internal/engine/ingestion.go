package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/scrypster/memorytap/internal/audio"
	"github.com/scrypster/memorytap/internal/storage"
	"github.com/scrypster/memorytap/pkg/types"
)

// Attempt records the outcome of the most recent ingestion attempt.
type Attempt struct {
	State      types.IngestionState
	Reason     types.FailureReason
	Err        error
	MemoryID   string
	StartedAt  time.Time
	FinishedAt time.Time
}

// IngestionPipeline drives one recording at a time through
// idle -> capturing -> processing -> persisting -> done, or to failed with a
// reason. A failed attempt discards its audio and is never retried.
type IngestionPipeline struct {
	ownerID   string
	store     storage.MemoryStore
	cache     *MemoryCache
	processor Processor
	capturer  audio.Capturer
	audioSink storage.AudioHydrator
	notifier  Notifier
	logger    *slog.Logger
	cfg       Config

	mu      sync.Mutex
	state   types.IngestionState
	handle  audio.CaptureHandle
	attempt Attempt
}

// PipelineOption configures an IngestionPipeline.
type PipelineOption func(*IngestionPipeline)

// WithCapturer sets the recording device used by Start and Stop.
func WithCapturer(c audio.Capturer) PipelineOption {
	return func(p *IngestionPipeline) { p.capturer = c }
}

// WithAudioSink stores recordings out of band before insert. The memory then
// carries the sink's reference instead of inline bytes, which is what
// backends without inline audio need.
func WithAudioSink(s storage.AudioHydrator) PipelineOption {
	return func(p *IngestionPipeline) { p.audioSink = s }
}

// WithNotifier sets the event receiver.
func WithNotifier(n Notifier) PipelineOption {
	return func(p *IngestionPipeline) {
		if n != nil {
			p.notifier = n
		}
	}
}

// WithPipelineLogger sets the pipeline's logger.
func WithPipelineLogger(l *slog.Logger) PipelineOption {
	return func(p *IngestionPipeline) {
		if l != nil {
			p.logger = l
		}
	}
}

// NewIngestionPipeline creates a pipeline that saves memories for ownerID
// into store and prepends them to cache.
func NewIngestionPipeline(ownerID string, store storage.MemoryStore, cache *MemoryCache, processor Processor, cfg Config, opts ...PipelineOption) (*IngestionPipeline, error) {
	if ownerID == "" {
		return nil, fmt.Errorf("owner ID is required")
	}
	if store == nil || cache == nil || processor == nil {
		return nil, fmt.Errorf("store, cache and processor are required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	p := &IngestionPipeline{
		ownerID:   ownerID,
		store:     store,
		cache:     cache,
		processor: processor,
		notifier:  NopNotifier{},
		logger:    slog.Default(),
		cfg:       cfg.withDefaults(),
		state:     types.StateIdle,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.attempt.State = types.StateIdle
	return p, nil
}

// State returns the current pipeline state.
func (p *IngestionPipeline) State() types.IngestionState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// LastAttempt returns the record of the current or most recent attempt.
func (p *IngestionPipeline) LastAttempt() Attempt {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.attempt
}

// Reset returns a finished pipeline to idle. It is a no-op when idle and
// fails with ErrCaptureInFlight while an attempt is running.
func (p *IngestionPipeline) Reset() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state.InFlight() {
		return ErrCaptureInFlight
	}
	if p.state.Terminal() {
		p.transitionLocked(types.StateIdle)
	}
	return nil
}

// Start opens the recording device.
func (p *IngestionPipeline) Start(ctx context.Context) error {
	if p.capturer == nil {
		return fmt.Errorf("%w: no capture device configured", audio.ErrDeviceUnavailable)
	}
	if err := p.begin(); err != nil {
		return err
	}

	handle, err := p.capturer.StartCapture(ctx)
	if err != nil {
		return p.fail(types.ReasonDeviceUnavailable, deviceError(err))
	}

	p.mu.Lock()
	p.handle = handle
	p.mu.Unlock()
	return nil
}

// Stop closes the recording started by Start and runs it through the rest of
// the pipeline.
func (p *IngestionPipeline) Stop(ctx context.Context) (*types.Memory, error) {
	p.mu.Lock()
	if p.state != types.StateCapturing || p.handle == "" {
		p.mu.Unlock()
		return nil, ErrNotCapturing
	}
	handle := p.handle
	p.handle = ""
	p.mu.Unlock()

	artifact, err := p.capturer.StopCapture(ctx, handle)
	if err != nil {
		return nil, p.fail(types.ReasonDeviceUnavailable, deviceError(err))
	}
	return p.run(ctx, artifact)
}

// Submit ingests a recording captured elsewhere, such as an upload. It
// passes through capturing like any other attempt.
func (p *IngestionPipeline) Submit(ctx context.Context, artifact types.AudioArtifact) (*types.Memory, error) {
	if err := p.begin(); err != nil {
		return nil, err
	}
	return p.run(ctx, artifact)
}

// begin claims the capture slot and enters capturing. A finished attempt is
// reset implicitly.
func (p *IngestionPipeline) begin() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state.InFlight() {
		return ErrCaptureInFlight
	}
	if p.state.Terminal() {
		p.transitionLocked(types.StateIdle)
	}

	p.attempt = Attempt{StartedAt: p.cfg.Now()}
	p.handle = ""
	p.transitionLocked(types.StateCapturing)
	return nil
}

func (p *IngestionPipeline) run(ctx context.Context, artifact types.AudioArtifact) (*types.Memory, error) {
	if artifact.Size() < p.cfg.MinAudioBytes {
		return nil, p.fail(types.ReasonTooShort,
			fmt.Errorf("%w: %d bytes, need at least %d", ErrTooShort, artifact.Size(), p.cfg.MinAudioBytes))
	}

	p.transition(types.StateProcessing)
	result, err := p.processor.Process(ctx, artifact)
	if err != nil {
		return nil, p.fail(types.ReasonProcessingError, err)
	}

	p.transition(types.StatePersisting)
	memory := &types.Memory{
		ID:          p.cfg.NewID(),
		OwnerID:     p.ownerID,
		Title:       result.Title,
		Summary:     result.Summary,
		Content:     result.Transcript,
		Category:    result.Category,
		CreatedAt:   p.cfg.Now(),
		DurationSec: artifact.Duration.Seconds(),
	}

	if p.audioSink != nil {
		ref, err := p.audioSink.Hydrate(artifact.Data, artifact.ContentType)
		if err != nil {
			return nil, p.fail(types.ReasonStorageError, storage.Unavailable("store audio", err))
		}
		memory.AudioRef = ref
	} else {
		audioCopy := artifact
		memory.Audio = &audioCopy
	}

	stored, err := p.store.Insert(ctx, memory)
	if err != nil {
		return nil, p.fail(types.ReasonStorageError, err)
	}

	p.cache.Prepend(stored)

	p.mu.Lock()
	p.attempt.MemoryID = stored.ID
	p.transitionLocked(types.StateDone)
	p.mu.Unlock()

	p.notifier.MemorySaved(stored.Clone())
	return stored, nil
}

// fail moves the attempt to failed, notifies and returns the IngestionError.
func (p *IngestionPipeline) fail(reason types.FailureReason, cause error) error {
	err := &IngestionError{Reason: reason, Err: cause}

	p.mu.Lock()
	p.handle = ""
	p.attempt.Reason = reason
	p.attempt.Err = cause
	p.transitionLocked(types.StateFailed)
	p.mu.Unlock()

	p.logger.Warn("ingestion: attempt failed", "reason", reason, "error", cause)
	p.notifier.IngestionFailed(reason, err)
	return err
}

func (p *IngestionPipeline) transition(to types.IngestionState) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.transitionLocked(to)
}

// transitionLocked must be called with p.mu held.
func (p *IngestionPipeline) transitionLocked(to types.IngestionState) {
	from := p.state
	if !types.IsValidIngestionTransition(from, to) {
		// Reaching this is a bug in the pipeline itself; keep going so the
		// caller still gets a terminal state.
		p.logger.Error("ingestion: invalid state transition", "from", from, "to", to)
	}
	p.state = to
	p.attempt.State = to
	if to.Terminal() {
		p.attempt.FinishedAt = p.cfg.Now()
	}
	p.logger.Debug("ingestion: state change", "from", from, "to", to)
}

// deviceError makes sure capture failures match audio.ErrDeviceUnavailable.
func deviceError(err error) error {
	if errors.Is(err, audio.ErrDeviceUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %w", audio.ErrDeviceUnavailable, err)
}
