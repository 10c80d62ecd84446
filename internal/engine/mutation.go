package engine

import (
	"context"
	"errors"
	"log/slog"

	"github.com/scrypster/memorytap/internal/storage"
	"github.com/scrypster/memorytap/pkg/types"
)

// MutationRouter applies user actions to a memory: the store first, then the
// cache. A store failure leaves the cache untouched.
//
// Toggles read the current value and write its negation, so two toggles from
// different devices can cancel out. There is no version check; the last
// write wins.
type MutationRouter struct {
	store    storage.MemoryStore
	cache    *MemoryCache
	notifier Notifier
	logger   *slog.Logger
}

// NewMutationRouter creates a router. A nil notifier or logger gets a no-op
// notifier or slog.Default().
func NewMutationRouter(store storage.MemoryStore, cache *MemoryCache, notifier Notifier, logger *slog.Logger) *MutationRouter {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &MutationRouter{store: store, cache: cache, notifier: notifier, logger: logger}
}

// ToggleFavorite flips the favorite flag and returns the new value.
func (r *MutationRouter) ToggleFavorite(ctx context.Context, id string) (bool, error) {
	current, err := r.current(ctx, id)
	if err != nil {
		return false, r.failed(OpToggleFavorite, id, err)
	}
	next := !current.IsFavorite
	if err := r.apply(ctx, OpToggleFavorite, id, types.FavoritePatch(next)); err != nil {
		return current.IsFavorite, err
	}
	return next, nil
}

// ToggleCompletion flips the completion flag and returns the new value.
// The flag is stored for every category but only shown for tasks and
// reminders.
func (r *MutationRouter) ToggleCompletion(ctx context.Context, id string) (bool, error) {
	current, err := r.current(ctx, id)
	if err != nil {
		return false, r.failed(OpToggleCompletion, id, err)
	}
	next := !current.IsCompleted
	if err := r.apply(ctx, OpToggleCompletion, id, types.CompletionPatch(next)); err != nil {
		return current.IsCompleted, err
	}
	return next, nil
}

// Delete hard-deletes a memory. Deleting a memory the store no longer has
// succeeds, so a repeated delete is harmless.
func (r *MutationRouter) Delete(ctx context.Context, id string) error {
	if _, cached := r.cache.Get(id); !cached {
		// Only touch records this session owns.
		m, err := r.store.Get(ctx, id)
		switch {
		case errors.Is(err, storage.ErrNotFound):
			return nil
		case err != nil:
			return r.failed(OpDelete, id, err)
		case m.OwnerID != r.cache.OwnerID():
			return nil
		}
	}

	err := r.store.Remove(ctx, id)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return r.failed(OpDelete, id, err)
	}

	r.cache.RemoveByID(id)
	r.notifier.MemoryDeleted(id)
	return nil
}

// current returns the memory from the cache, falling back to the store on a
// miss. Records owned by someone else are reported as not found.
func (r *MutationRouter) current(ctx context.Context, id string) (*types.Memory, error) {
	if m, ok := r.cache.Get(id); ok {
		return m, nil
	}
	m, err := r.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if m.OwnerID != r.cache.OwnerID() {
		return nil, storage.ErrNotFound
	}
	return m, nil
}

func (r *MutationRouter) apply(ctx context.Context, op, id string, patch types.Patch) error {
	if err := r.store.ApplyPatch(ctx, id, patch); err != nil {
		return r.failed(op, id, err)
	}
	r.cache.Patch(id, patch)
	r.notifier.MemoryUpdated(id, patch)
	return nil
}

func (r *MutationRouter) failed(op, id string, err error) error {
	r.logger.Warn("mutation: store rejected change", "op", op, "memory_id", id, "error", err)
	r.notifier.MutationFailed(op, id, err)
	return &MutationError{Op: op, ID: id, Err: err}
}
