package sqlite

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/memorytap/internal/audio"
	"github.com/scrypster/memorytap/internal/storage"
	"github.com/scrypster/memorytap/pkg/types"
)

// newTestStore creates an in-memory SQLite store for testing.
func newTestStore(t *testing.T, opts ...Option) *MemoryStore {
	t.Helper()
	store, err := NewMemoryStore(":memory:", opts...)
	require.NoError(t, err, "failed to create test store")
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func newMemory(id, owner string, createdAt time.Time, cat types.Category) *types.Memory {
	return &types.Memory{
		ID:        id,
		OwnerID:   owner,
		Title:     "Title " + id,
		Summary:   "Summary " + id,
		Content:   "Transcript for " + id,
		Category:  cat,
		CreatedAt: createdAt,
	}
}

func TestInsertAndGetRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Millisecond)
	reminder := now.Add(2 * time.Hour)
	mem := newMemory("mem-1", "owner-a", now, types.CategoryReminder)
	mem.IsFavorite = true
	mem.DurationSec = 4.5
	mem.ReminderTime = &reminder
	mem.AudioRef = "https://cdn.example.com/a.webm"

	_, err := store.Insert(ctx, mem)
	require.NoError(t, err)

	got, err := store.Get(ctx, "mem-1")
	require.NoError(t, err)

	assert.Equal(t, "owner-a", got.OwnerID)
	assert.Equal(t, mem.Title, got.Title)
	assert.Equal(t, mem.Summary, got.Summary)
	assert.Equal(t, mem.Content, got.Content)
	assert.Equal(t, types.CategoryReminder, got.Category)
	assert.Equal(t, "https://cdn.example.com/a.webm", got.AudioRef)
	assert.True(t, got.IsFavorite)
	assert.False(t, got.IsCompleted)
	assert.True(t, got.CreatedAt.Equal(now), "CreatedAt: got %v, want %v", got.CreatedAt, now)
	assert.Equal(t, 4.5, got.DurationSec)
	require.NotNil(t, got.ReminderTime)
	assert.True(t, got.ReminderTime.Equal(reminder))
}

func TestInsertDuplicateID(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	mem := newMemory("dup", "owner-a", time.Now(), types.CategoryNote)
	_, err := store.Insert(ctx, mem)
	require.NoError(t, err)

	_, err = store.Insert(ctx, mem)
	assert.True(t, errors.Is(err, storage.ErrDuplicateID), "got %v", err)
}

func TestInsertValidation(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	tests := []struct {
		name string
		mem  *types.Memory
	}{
		{"nil", nil},
		{"missing id", newMemory("", "o", time.Now(), types.CategoryNote)},
		{"missing owner", newMemory("x", "", time.Now(), types.CategoryNote)},
		{"bad category", newMemory("x", "o", time.Now(), "journal")},
		{"all sentinel", newMemory("x", "o", time.Now(), types.CategoryAll)},
		{"zero time", newMemory("x", "o", time.Time{}, types.CategoryNote)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := store.Insert(ctx, tt.mem)
			assert.True(t, errors.Is(err, storage.ErrInvalidInput), "got %v", err)
		})
	}
}

func TestListAllScopesByOwner(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, id := range []string{"a1", "a2", "a3"} {
		_, err := store.Insert(ctx, newMemory(id, "owner-a", base.Add(time.Duration(i)*time.Minute), types.CategoryTask))
		require.NoError(t, err)
	}
	_, err := store.Insert(ctx, newMemory("b1", "owner-b", base, types.CategoryIdea))
	require.NoError(t, err)

	got, err := store.ListAll(ctx, "owner-a")
	require.NoError(t, err)
	require.Len(t, got, 3)
	for _, m := range got {
		assert.Equal(t, "owner-a", m.OwnerID)
	}

	none, err := store.ListAll(ctx, "owner-z")
	require.NoError(t, err)
	assert.Empty(t, none)

	_, err = store.ListAll(ctx, "")
	assert.True(t, errors.Is(err, storage.ErrInvalidInput))
}

func TestApplyPatch(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.Insert(ctx, newMemory("p1", "owner-a", time.Now(), types.CategoryTask))
	require.NoError(t, err)

	require.NoError(t, store.ApplyPatch(ctx, "p1", types.FavoritePatch(true)))
	got, err := store.Get(ctx, "p1")
	require.NoError(t, err)
	assert.True(t, got.IsFavorite)
	assert.False(t, got.IsCompleted)

	require.NoError(t, store.ApplyPatch(ctx, "p1", types.CompletionPatch(true)))
	got, err = store.Get(ctx, "p1")
	require.NoError(t, err)
	assert.True(t, got.IsFavorite, "favorite must survive a completion patch")
	assert.True(t, got.IsCompleted)

	// Writing the same value again still matches the row.
	assert.NoError(t, store.ApplyPatch(ctx, "p1", types.CompletionPatch(true)))
	assert.NoError(t, store.ApplyPatch(ctx, "p1", types.Patch{}))
}

func TestApplyPatchNotFound(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	err := store.ApplyPatch(ctx, "missing", types.FavoritePatch(true))
	assert.True(t, errors.Is(err, storage.ErrNotFound))

	err = store.ApplyPatch(ctx, "missing", types.Patch{})
	assert.True(t, errors.Is(err, storage.ErrNotFound))
}

func TestRemove(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.Insert(ctx, newMemory("r1", "owner-a", time.Now(), types.CategoryIdea))
	require.NoError(t, err)

	require.NoError(t, store.Remove(ctx, "r1"))

	_, err = store.Get(ctx, "r1")
	assert.True(t, errors.Is(err, storage.ErrNotFound))

	err = store.Remove(ctx, "r1")
	assert.True(t, errors.Is(err, storage.ErrNotFound), "second remove reports not found")
}

func TestInlineAudioRehydratesThroughVault(t *testing.T) {
	vault, err := audio.NewVault(t.TempDir(), "")
	require.NoError(t, err)
	store := newTestStore(t, WithAudioHydrator(vault))
	ctx := context.Background()

	payload := bytes.Repeat([]byte{0x1a, 0x45, 0xdf, 0xa3}, 400)
	mem := newMemory("aud-1", "owner-a", time.Now(), types.CategoryNote)
	mem.Audio = &types.AudioArtifact{Data: payload, ContentType: "audio/webm"}

	stored, err := store.Insert(ctx, mem)
	require.NoError(t, err)
	require.NotEmpty(t, stored.AudioRef)
	assert.Equal(t, vault.Dir(), filepath.Dir(stored.AudioRef))

	got, err := store.Get(ctx, "aud-1")
	require.NoError(t, err)
	assert.Equal(t, stored.AudioRef, got.AudioRef)

	data, err := vault.Open(got.AudioRef)
	require.NoError(t, err)
	assert.Equal(t, payload, data)
}

func TestInlineAudioWithoutVaultYieldsDataURI(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	payload := []byte("OggS-fake-audio-payload")
	mem := newMemory("aud-2", "owner-a", time.Now(), types.CategoryNote)
	mem.Audio = &types.AudioArtifact{Data: payload, ContentType: "audio/ogg"}

	_, err := store.Insert(ctx, mem)
	require.NoError(t, err)

	got, err := store.Get(ctx, "aud-2")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(got.AudioRef, "data:audio/ogg;base64,"), got.AudioRef)

	decoded, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(got.AudioRef, "data:audio/ogg;base64,"))
	require.NoError(t, err)
	assert.Equal(t, payload, decoded)
}

func TestCorruptInlineAudioIsNotFatal(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.Insert(ctx, newMemory("aud-3", "owner-a", time.Now(), types.CategoryNote))
	require.NoError(t, err)
	_, err = store.db.ExecContext(ctx, "UPDATE memories SET audio_blob = '%%%not-base64' WHERE id = 'aud-3'")
	require.NoError(t, err)

	got, err := store.Get(ctx, "aud-3")
	require.NoError(t, err)
	assert.Empty(t, got.AudioRef)
}

func TestClosedStoreIsUnavailable(t *testing.T) {
	store, err := NewMemoryStore(":memory:")
	require.NoError(t, err)
	require.NoError(t, store.Close())

	_, err = store.ListAll(context.Background(), "owner-a")
	assert.True(t, errors.Is(err, storage.ErrStorageUnavailable), "got %v", err)
}

func TestReopenFileStoreKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "memorytap.db")
	ctx := context.Background()

	store, err := NewMemoryStore(path)
	require.NoError(t, err)
	_, err = store.Insert(ctx, newMemory("keep", "owner-a", time.Now(), types.CategoryTask))
	require.NoError(t, err)
	require.NoError(t, store.Close())

	store, err = NewMemoryStore(path)
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	got, err := store.ListAll(ctx, "owner-a")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "keep", got[0].ID)
}
