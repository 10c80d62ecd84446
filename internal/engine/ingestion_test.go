package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/memorytap/internal/audio"
	"github.com/scrypster/memorytap/internal/llm"
	"github.com/scrypster/memorytap/internal/storage"
	"github.com/scrypster/memorytap/pkg/types"
)

func testConfig() Config {
	return Config{
		MinAudioBytes: DefaultMinAudioBytes,
		Now:           fixedClock(base),
		NewID:         func() string { return "mem-1" },
	}
}

func newPipeline(t *testing.T, store storage.MemoryStore, proc Processor, opts ...PipelineOption) (*IngestionPipeline, *MemoryCache) {
	t.Helper()
	cache := NewMemoryCache(store)
	p, err := NewIngestionPipeline("owner", store, cache, proc, testConfig(), opts...)
	require.NoError(t, err)
	return p, cache
}

func TestSubmitSavesMemory(t *testing.T) {
	store := newSQLiteStore(t)
	notifier := &recordingNotifier{}
	p, cache := newPipeline(t, store, buyMilk(), WithNotifier(notifier))

	// An earlier memory is already cached.
	_, err := store.Insert(context.Background(), mem("earlier", "owner", base.Add(-time.Hour), types.CategoryNote))
	require.NoError(t, err)
	require.NoError(t, cache.Load(context.Background(), "owner"))

	saved, err := p.Submit(context.Background(), audioOf(4000))
	require.NoError(t, err)

	assert.Equal(t, "mem-1", saved.ID)
	assert.Equal(t, "owner", saved.OwnerID)
	assert.Equal(t, "Buy milk", saved.Title)
	assert.Equal(t, types.CategoryTask, saved.Category)
	assert.Equal(t, "remember to buy milk on the way home", saved.Content)
	assert.False(t, saved.IsFavorite)
	assert.False(t, saved.IsCompleted)
	assert.True(t, saved.CreatedAt.Equal(base))
	assert.Equal(t, 3.0, saved.DurationSec)
	assert.True(t, strings.HasPrefix(saved.AudioRef, "data:audio/webm;base64,"))

	assert.Equal(t, types.StateDone, p.State())
	assert.Equal(t, []string{"mem-1", "earlier"}, ids(cache.Snapshot()))

	stored, err := store.Get(context.Background(), "mem-1")
	require.NoError(t, err)
	assert.Equal(t, "Buy milk", stored.Title)

	require.Len(t, notifier.saved, 1)
	assert.Equal(t, "mem-1", notifier.saved[0].ID)

	attempt := p.LastAttempt()
	assert.Equal(t, types.StateDone, attempt.State)
	assert.Equal(t, "mem-1", attempt.MemoryID)
	assert.Equal(t, types.ReasonNone, attempt.Reason)
}

func TestSubmitTooShortSkipsProcessing(t *testing.T) {
	store := &mockStore{}
	proc := buyMilk()
	notifier := &recordingNotifier{}
	p, cache := newPipeline(t, store, proc, WithNotifier(notifier))

	_, err := p.Submit(context.Background(), audioOf(500))
	require.Error(t, err)

	assert.True(t, errors.Is(err, ErrTooShort))
	assert.Equal(t, types.ReasonTooShort, FailureReasonOf(err))
	assert.Equal(t, types.StateFailed, p.State())
	assert.Equal(t, 0, proc.Calls())
	assert.Equal(t, 0, cache.Len())
	assert.Equal(t, []types.FailureReason{types.ReasonTooShort}, notifier.failures)
	store.AssertNotCalled(t, "Insert", mock.Anything, mock.Anything)
}

func TestSubmitAtThresholdIsAccepted(t *testing.T) {
	store := newSQLiteStore(t)
	p, _ := newPipeline(t, store, buyMilk())

	_, err := p.Submit(context.Background(), audioOf(DefaultMinAudioBytes))
	assert.NoError(t, err)
}

func TestSubmitProcessingError(t *testing.T) {
	store := &mockStore{}
	proc := &fakeProcessor{err: fmt.Errorf("%w: upstream 503", llm.ErrProcessing)}
	p, cache := newPipeline(t, store, proc)

	_, err := p.Submit(context.Background(), audioOf(4000))
	require.Error(t, err)

	assert.True(t, errors.Is(err, llm.ErrProcessing))
	assert.Equal(t, types.ReasonProcessingError, FailureReasonOf(err))
	assert.Equal(t, types.StateFailed, p.State())
	assert.Equal(t, 0, cache.Len())
	store.AssertNotCalled(t, "Insert", mock.Anything, mock.Anything)
}

func TestSubmitStorageUnavailable(t *testing.T) {
	store := &mockStore{}
	store.On("Insert", mock.Anything, mock.Anything).
		Return(nil, storage.Unavailable("sqlite: insert memory", errors.New("disk I/O error")))
	notifier := &recordingNotifier{}
	p, cache := newPipeline(t, store, buyMilk(), WithNotifier(notifier))

	_, err := p.Submit(context.Background(), audioOf(4000))
	require.Error(t, err)

	assert.True(t, errors.Is(err, storage.ErrStorageUnavailable))
	assert.Equal(t, types.ReasonStorageError, FailureReasonOf(err))
	assert.Equal(t, types.StateFailed, p.State())
	assert.Equal(t, 0, cache.Len(), "cache must not hold a record the store rejected")
	assert.Empty(t, notifier.saved)
	assert.Equal(t, []types.FailureReason{types.ReasonStorageError}, notifier.failures)
}

func TestSubmitWithAudioSinkStoresReference(t *testing.T) {
	vault, err := audio.NewVault(t.TempDir(), "https://cdn.example.com/audio")
	require.NoError(t, err)

	store := &mockStore{}
	store.On("Insert", mock.Anything, mock.MatchedBy(func(m *types.Memory) bool {
		return m.Audio == nil && strings.HasPrefix(m.AudioRef, "https://cdn.example.com/audio/")
	})).Return(mem("mem-1", "owner", base, types.CategoryTask), nil)

	p, _ := newPipeline(t, store, buyMilk(), WithAudioSink(vault))
	_, err = p.Submit(context.Background(), audioOf(4000))
	require.NoError(t, err)
	store.AssertExpectations(t)
}

func TestStartStopCapture(t *testing.T) {
	store := newSQLiteStore(t)
	capturer := &fakeCapturer{artifact: audioOf(2048)}
	p, cache := newPipeline(t, store, buyMilk(), WithCapturer(capturer))

	require.NoError(t, p.Start(context.Background()))
	assert.Equal(t, types.StateCapturing, p.State())

	saved, err := p.Stop(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "mem-1", saved.ID)
	assert.Equal(t, 1, cache.Len())
	assert.Equal(t, types.StateDone, p.State())
}

func TestStartDeviceUnavailable(t *testing.T) {
	capturer := &fakeCapturer{startErr: errors.New("permission denied")}
	p, _ := newPipeline(t, &mockStore{}, buyMilk(), WithCapturer(capturer))

	err := p.Start(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, audio.ErrDeviceUnavailable))
	assert.Equal(t, types.ReasonDeviceUnavailable, FailureReasonOf(err))
	assert.Equal(t, types.StateFailed, p.State())
}

func TestStartWithoutCapturer(t *testing.T) {
	p, _ := newPipeline(t, &mockStore{}, buyMilk())
	err := p.Start(context.Background())
	assert.True(t, errors.Is(err, audio.ErrDeviceUnavailable))
	assert.Equal(t, types.StateIdle, p.State())
}

func TestStopWithoutStart(t *testing.T) {
	p, _ := newPipeline(t, &mockStore{}, buyMilk(), WithCapturer(&fakeCapturer{}))
	_, err := p.Stop(context.Background())
	assert.ErrorIs(t, err, ErrNotCapturing)
}

func TestCaptureInFlightIsRejected(t *testing.T) {
	store := newSQLiteStore(t)
	proc := buyMilk()
	proc.block = make(chan struct{})
	p, _ := newPipeline(t, store, proc)

	done := make(chan error, 1)
	go func() {
		_, err := p.Submit(context.Background(), audioOf(4000))
		done <- err
	}()

	require.Eventually(t, func() bool { return p.State() == types.StateProcessing }, time.Second, 5*time.Millisecond)

	_, err := p.Submit(context.Background(), audioOf(4000))
	assert.ErrorIs(t, err, ErrCaptureInFlight)
	assert.ErrorIs(t, p.Reset(), ErrCaptureInFlight)

	close(proc.block)
	require.NoError(t, <-done)
	assert.Equal(t, types.StateDone, p.State())
}

func TestResetAndNextCapture(t *testing.T) {
	store := newSQLiteStore(t)
	n := 0
	cfg := testConfig()
	cfg.NewID = func() string { n++; return fmt.Sprintf("mem-%d", n) }
	cache := NewMemoryCache(store)
	p, err := NewIngestionPipeline("owner", store, cache, buyMilk(), cfg)
	require.NoError(t, err)

	_, err = p.Submit(context.Background(), audioOf(100))
	require.Error(t, err)
	require.NoError(t, p.Reset())
	assert.Equal(t, types.StateIdle, p.State())

	_, err = p.Submit(context.Background(), audioOf(4000))
	require.NoError(t, err)

	// A finished attempt is reset implicitly by the next one.
	_, err = p.Submit(context.Background(), audioOf(4000))
	require.NoError(t, err)
	assert.Equal(t, 2, cache.Len())
}

func TestNewIngestionPipelineValidation(t *testing.T) {
	cache := NewMemoryCache(&mockStore{})
	_, err := NewIngestionPipeline("", &mockStore{}, cache, buyMilk(), testConfig())
	assert.Error(t, err)

	_, err = NewIngestionPipeline("owner", &mockStore{}, cache, nil, testConfig())
	assert.Error(t, err)

	cfg := testConfig()
	cfg.MinAudioBytes = -1
	_, err = NewIngestionPipeline("owner", &mockStore{}, cache, buyMilk(), cfg)
	assert.Error(t, err)
}
