package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/memorytap/internal/audio"
	"github.com/scrypster/memorytap/internal/storage"
	"github.com/scrypster/memorytap/internal/storage/sqlite"
	"github.com/scrypster/memorytap/pkg/types"
)

// mockStore is a testify mock of storage.MemoryStore used to inject failures.
type mockStore struct {
	mock.Mock
}

func (m *mockStore) ListAll(ctx context.Context, ownerID string) ([]*types.Memory, error) {
	args := m.Called(ctx, ownerID)
	mems, _ := args.Get(0).([]*types.Memory)
	return mems, args.Error(1)
}

func (m *mockStore) Get(ctx context.Context, id string) (*types.Memory, error) {
	args := m.Called(ctx, id)
	mem, _ := args.Get(0).(*types.Memory)
	return mem, args.Error(1)
}

func (m *mockStore) Insert(ctx context.Context, memory *types.Memory) (*types.Memory, error) {
	args := m.Called(ctx, memory)
	mem, _ := args.Get(0).(*types.Memory)
	return mem, args.Error(1)
}

func (m *mockStore) ApplyPatch(ctx context.Context, id string, patch types.Patch) error {
	return m.Called(ctx, id, patch).Error(0)
}

func (m *mockStore) Remove(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func (m *mockStore) Close() error { return nil }

var _ storage.MemoryStore = (*mockStore)(nil)

// fakeProcessor returns a canned result or error and counts calls.
type fakeProcessor struct {
	mu     sync.Mutex
	result *types.ProcessingResult
	err    error
	calls  int
	block  chan struct{}
}

func (f *fakeProcessor) Process(ctx context.Context, a types.AudioArtifact) (*types.ProcessingResult, error) {
	f.mu.Lock()
	f.calls++
	block := f.block
	f.mu.Unlock()
	if block != nil {
		<-block
	}
	if f.err != nil {
		return nil, f.err
	}
	r := *f.result
	return &r, nil
}

func (f *fakeProcessor) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func buyMilk() *fakeProcessor {
	return &fakeProcessor{result: &types.ProcessingResult{
		Title:      "Buy milk",
		Summary:    "Pick up milk on the way home.",
		Transcript: "remember to buy milk on the way home",
		Category:   types.CategoryTask,
	}}
}

// fakeCapturer hands out a fixed artifact or fails.
type fakeCapturer struct {
	artifact types.AudioArtifact
	startErr error
	stopErr  error
}

func (f *fakeCapturer) StartCapture(ctx context.Context) (audio.CaptureHandle, error) {
	if f.startErr != nil {
		return "", f.startErr
	}
	return "h-1", nil
}

func (f *fakeCapturer) StopCapture(ctx context.Context, h audio.CaptureHandle) (types.AudioArtifact, error) {
	if f.stopErr != nil {
		return types.AudioArtifact{}, f.stopErr
	}
	return f.artifact, nil
}

// recordingNotifier captures events for assertions.
type recordingNotifier struct {
	mu       sync.Mutex
	saved    []*types.Memory
	updated  []string
	deleted  []string
	failures []types.FailureReason
	mutFails []string
}

func (n *recordingNotifier) MemorySaved(m *types.Memory) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.saved = append(n.saved, m)
}

func (n *recordingNotifier) MemoryUpdated(id string, _ types.Patch) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.updated = append(n.updated, id)
}

func (n *recordingNotifier) MemoryDeleted(id string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.deleted = append(n.deleted, id)
}

func (n *recordingNotifier) IngestionFailed(reason types.FailureReason, _ error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failures = append(n.failures, reason)
}

func (n *recordingNotifier) MutationFailed(op, id string, _ error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.mutFails = append(n.mutFails, op+":"+id)
}

func newSQLiteStore(t *testing.T) *sqlite.MemoryStore {
	t.Helper()
	store, err := sqlite.NewMemoryStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func fixedClock(ts time.Time) func() time.Time {
	return func() time.Time { return ts }
}

func audioOf(n int) types.AudioArtifact {
	return types.AudioArtifact{Data: make([]byte, n), ContentType: "audio/webm", Duration: 3 * time.Second}
}

func mem(id, owner string, createdAt time.Time, cat types.Category) *types.Memory {
	return &types.Memory{
		ID:        id,
		OwnerID:   owner,
		Title:     "title " + id,
		Summary:   "summary " + id,
		Content:   "content " + id,
		Category:  cat,
		CreatedAt: createdAt,
	}
}
