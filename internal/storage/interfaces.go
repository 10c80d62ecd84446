// Package storage provides the persistence contract for memorytap.
//
// A MemoryStore is the durable source of truth for Memory records. The
// session cache mirrors it, so every backend must keep the same semantics for
// duplicate IDs, missing records and I/O failures (see the sentinel errors in
// types.go).
package storage

import (
	"context"

	"github.com/scrypster/memorytap/pkg/types"
)

// MemoryStore provides durable CRUD over Memory records keyed by ID.
type MemoryStore interface {
	// ListAll returns every memory owned by ownerID in no particular order;
	// callers re-sort. Returns ErrStorageUnavailable if the medium cannot be read.
	ListAll(ctx context.Context, ownerID string) ([]*types.Memory, error)

	// Get retrieves a memory by ID.
	// Returns ErrNotFound if the memory doesn't exist.
	Get(ctx context.Context, id string) (*types.Memory, error)

	// Insert persists a new memory and returns the stored form, which may
	// carry a re-hydrated AudioRef.
	// Returns ErrDuplicateID if the ID already exists.
	Insert(ctx context.Context, memory *types.Memory) (*types.Memory, error)

	// ApplyPatch merges a partial update into the stored record.
	// Returns ErrNotFound if the memory doesn't exist.
	ApplyPatch(ctx context.Context, id string, patch types.Patch) error

	// Remove hard-deletes a memory.
	// Returns ErrNotFound if the memory doesn't exist.
	Remove(ctx context.Context, id string) error

	// Close releases any resources held by the store.
	Close() error
}

// AudioHydrator turns an inline audio payload back into a playable reference.
// Backends that keep recordings next to the record use it on read.
type AudioHydrator interface {
	Hydrate(data []byte, contentType string) (string, error)
}
