package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/scrypster/memorytap/internal/storage"
	"github.com/scrypster/memorytap/pkg/types"
)

// MemoryCache is the session's ordered, id-unique mirror of the owner's
// persisted memories, newest first. It is safe for concurrent use.
//
// The cache never reaches the store on its own except in Load; callers
// mutate it only after the store has accepted the change.
type MemoryCache struct {
	store storage.MemoryStore

	mu      sync.RWMutex
	ownerID string
	entries []*types.Memory
}

// NewMemoryCache creates an empty cache backed by store.
func NewMemoryCache(store storage.MemoryStore) *MemoryCache {
	return &MemoryCache{store: store}
}

// Load replaces the cache contents with every memory the store holds for
// ownerID, sorted newest first with duplicate IDs dropped. On error the
// previous contents are kept.
func (c *MemoryCache) Load(ctx context.Context, ownerID string) error {
	memories, err := c.store.ListAll(ctx, ownerID)
	if err != nil {
		return fmt.Errorf("load memories for %s: %w", ownerID, err)
	}

	entries := make([]*types.Memory, 0, len(memories))
	seen := make(map[string]struct{}, len(memories))
	sortNewestFirst(memories)
	for _, m := range memories {
		if m == nil {
			continue
		}
		if _, dup := seen[m.ID]; dup {
			continue
		}
		seen[m.ID] = struct{}{}
		entries = append(entries, cacheCopy(m))
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.ownerID = ownerID
	c.entries = entries
	return nil
}

// Prepend inserts m at the front. A memory with the same ID is replaced
// rather than duplicated, and if m is older than the current head the cache
// is re-sorted so the newest-first order holds.
func (c *MemoryCache) Prepend(m *types.Memory) {
	if m == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if i := c.indexOf(m.ID); i >= 0 {
		c.entries = append(c.entries[:i], c.entries[i+1:]...)
	}

	c.entries = append([]*types.Memory{cacheCopy(m)}, c.entries...)
	if len(c.entries) > 1 && c.entries[0].CreatedAt.Before(c.entries[1].CreatedAt) {
		sortNewestFirst(c.entries)
	}
}

// Patch applies p to the cached memory with the given ID. It reports false
// and does nothing when the ID is absent.
func (c *MemoryCache) Patch(id string, p types.Patch) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	i := c.indexOf(id)
	if i < 0 {
		return false
	}
	p.ApplyTo(c.entries[i])
	return true
}

// RemoveByID drops the memory with the given ID. It reports false when the
// ID is absent.
func (c *MemoryCache) RemoveByID(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	i := c.indexOf(id)
	if i < 0 {
		return false
	}
	c.entries = append(c.entries[:i], c.entries[i+1:]...)
	return true
}

// Get returns a copy of the cached memory with the given ID.
func (c *MemoryCache) Get(id string) (*types.Memory, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	i := c.indexOf(id)
	if i < 0 {
		return nil, false
	}
	return c.entries[i].Clone(), true
}

// Snapshot returns a deep copy of the cache in order. Callers may keep and
// modify it freely.
func (c *MemoryCache) Snapshot() []*types.Memory {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]*types.Memory, len(c.entries))
	for i, m := range c.entries {
		out[i] = m.Clone()
	}
	return out
}

// Len returns the number of cached memories.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// OwnerID returns the owner whose memories were last loaded.
func (c *MemoryCache) OwnerID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ownerID
}

// Clear drops every entry and forgets the owner.
func (c *MemoryCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = nil
	c.ownerID = ""
}

// indexOf must be called with c.mu held.
func (c *MemoryCache) indexOf(id string) int {
	for i, m := range c.entries {
		if m.ID == id {
			return i
		}
	}
	return -1
}

func sortNewestFirst(ms []*types.Memory) {
	sort.SliceStable(ms, func(i, j int) bool {
		if ms[i] == nil || ms[j] == nil {
			return ms[j] == nil && ms[i] != nil
		}
		return ms[i].CreatedAt.After(ms[j].CreatedAt)
	})
}

// cacheCopy clones m without its inline audio bytes; the cache only needs
// the playable reference.
func cacheCopy(m *types.Memory) *types.Memory {
	c := *m
	c.Audio = nil
	return c.Clone()
}
