package engine

import (
	"log/slog"

	"github.com/scrypster/memorytap/pkg/types"
)

// Notifier receives user-visible outcomes: saved memories, applied mutations
// and failures. Implementations must not block.
type Notifier interface {
	MemorySaved(m *types.Memory)
	MemoryUpdated(id string, patch types.Patch)
	MemoryDeleted(id string)
	IngestionFailed(reason types.FailureReason, err error)
	MutationFailed(op, id string, err error)
}

// NopNotifier discards every event.
type NopNotifier struct{}

func (NopNotifier) MemorySaved(*types.Memory) {}

func (NopNotifier) MemoryUpdated(string, types.Patch) {}

func (NopNotifier) MemoryDeleted(string) {}

func (NopNotifier) IngestionFailed(types.FailureReason, error) {}

func (NopNotifier) MutationFailed(string, string, error) {}

// LogNotifier writes every event to a structured logger.
type LogNotifier struct {
	Logger *slog.Logger
}

func (n LogNotifier) logger() *slog.Logger {
	if n.Logger == nil {
		return slog.Default()
	}
	return n.Logger
}

func (n LogNotifier) MemorySaved(m *types.Memory) {
	n.logger().Info("memory saved", "memory_id", m.ID, "owner_id", m.OwnerID, "category", m.Category, "title", m.Title)
}

func (n LogNotifier) MemoryUpdated(id string, patch types.Patch) {
	attrs := []any{"memory_id", id}
	if patch.IsFavorite != nil {
		attrs = append(attrs, "is_favorite", *patch.IsFavorite)
	}
	if patch.IsCompleted != nil {
		attrs = append(attrs, "is_completed", *patch.IsCompleted)
	}
	n.logger().Info("memory updated", attrs...)
}

func (n LogNotifier) MemoryDeleted(id string) {
	n.logger().Info("memory deleted", "memory_id", id)
}

func (n LogNotifier) IngestionFailed(reason types.FailureReason, err error) {
	n.logger().Warn("ingestion failed", "reason", reason, "error", err)
}

func (n LogNotifier) MutationFailed(op, id string, err error) {
	n.logger().Warn("mutation failed", "op", op, "memory_id", id, "error", err)
}

// MultiNotifier fans every event out to each notifier in order.
type MultiNotifier []Notifier

func (m MultiNotifier) MemorySaved(mem *types.Memory) {
	for _, n := range m {
		n.MemorySaved(mem)
	}
}

func (m MultiNotifier) MemoryUpdated(id string, patch types.Patch) {
	for _, n := range m {
		n.MemoryUpdated(id, patch)
	}
}

func (m MultiNotifier) MemoryDeleted(id string) {
	for _, n := range m {
		n.MemoryDeleted(id)
	}
}

func (m MultiNotifier) IngestionFailed(reason types.FailureReason, err error) {
	for _, n := range m {
		n.IngestionFailed(reason, err)
	}
}

func (m MultiNotifier) MutationFailed(op, id string, err error) {
	for _, n := range m {
		n.MutationFailed(op, id, err)
	}
}

var (
	_ Notifier = NopNotifier{}
	_ Notifier = LogNotifier{}
	_ Notifier = MultiNotifier(nil)
)
