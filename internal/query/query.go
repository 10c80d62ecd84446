// Package query derives the list, focus and analytics views from a snapshot
// of the session cache. Every function is pure: no I/O, no mutation of the
// input, and the input order (newest first) is preserved.
package query

import (
	"math"
	"strings"

	"github.com/scrypster/memorytap/pkg/types"
)

// Scope selects which memories count towards a completion rate.
type Scope int

const (
	// ScopeActionable counts tasks and reminders only.
	ScopeActionable Scope = iota
	// ScopeAll counts every memory.
	ScopeAll
)

// FilterAndSearch keeps memories of the given category (CategoryAll keeps
// every category) whose title, summary or content contains q, ignoring case.
// An empty q matches everything.
func FilterAndSearch(snapshot []*types.Memory, category types.Category, q string) []*types.Memory {
	needle := strings.ToLower(q)
	out := make([]*types.Memory, 0, len(snapshot))
	for _, m := range snapshot {
		if category != types.CategoryAll && m.Category != category {
			continue
		}
		if needle != "" && !matches(m, needle) {
			continue
		}
		out = append(out, m)
	}
	return out
}

func matches(m *types.Memory, needle string) bool {
	return strings.Contains(strings.ToLower(m.Title), needle) ||
		strings.Contains(strings.ToLower(m.Summary), needle) ||
		strings.Contains(strings.ToLower(m.Content), needle)
}

// Actionable returns pending tasks and reminders.
func Actionable(snapshot []*types.Memory) []*types.Memory {
	return keep(snapshot, func(m *types.Memory) bool {
		return m.Category.Actionable() && !m.IsCompleted
	})
}

// Reminders returns pending reminders.
func Reminders(snapshot []*types.Memory) []*types.Memory {
	return keep(snapshot, func(m *types.Memory) bool {
		return m.Category == types.CategoryReminder && !m.IsCompleted
	})
}

// Favorites returns favorited memories.
func Favorites(snapshot []*types.Memory) []*types.Memory {
	return keep(snapshot, func(m *types.Memory) bool { return m.IsFavorite })
}

// CategoryHistogram counts memories per category. All four categories are
// present in the result, with zero when unused.
func CategoryHistogram(snapshot []*types.Memory) map[types.Category]int {
	h := make(map[types.Category]int, len(types.ValidCategories))
	for _, c := range types.ValidCategories {
		h[c] = 0
	}
	for _, m := range snapshot {
		if m.Category.Valid() {
			h[m.Category]++
		}
	}
	return h
}

// CompletionRate returns round(100 * completed / total) over the scope, or 0
// when the scope is empty.
func CompletionRate(snapshot []*types.Memory, scope Scope) int {
	var total, done int
	for _, m := range snapshot {
		if scope == ScopeActionable && !m.Category.Actionable() {
			continue
		}
		total++
		if m.IsCompleted {
			done++
		}
	}
	return percent(done, total)
}

// ResolvePriorities maps insight priority IDs back to cached memories in the
// order given. IDs that are unknown, completed or repeated are dropped.
func ResolvePriorities(snapshot []*types.Memory, ids []string) []*types.Memory {
	byID := make(map[string]*types.Memory, len(snapshot))
	for _, m := range snapshot {
		byID[m.ID] = m
	}

	out := make([]*types.Memory, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		m, ok := byID[id]
		if !ok || m.IsCompleted {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, m)
	}
	return out
}

// Stats is the analytics summary of a snapshot.
type Stats struct {
	Total                    int                    `json:"total"`
	ByCategory               map[types.Category]int `json:"byCategory"`
	Favorites                int                    `json:"favorites"`
	PendingActionable        int                    `json:"pendingActionable"`
	PendingReminders         int                    `json:"pendingReminders"`
	ActionableCompletionRate int                    `json:"actionableCompletionRate"`
	OverallCompletionRate    int                    `json:"overallCompletionRate"`
}

// Summarize computes Stats for a snapshot.
func Summarize(snapshot []*types.Memory) Stats {
	return Stats{
		Total:                    len(snapshot),
		ByCategory:               CategoryHistogram(snapshot),
		Favorites:                len(Favorites(snapshot)),
		PendingActionable:        len(Actionable(snapshot)),
		PendingReminders:         len(Reminders(snapshot)),
		ActionableCompletionRate: CompletionRate(snapshot, ScopeActionable),
		OverallCompletionRate:    CompletionRate(snapshot, ScopeAll),
	}
}

func keep(snapshot []*types.Memory, pred func(*types.Memory) bool) []*types.Memory {
	out := make([]*types.Memory, 0, len(snapshot))
	for _, m := range snapshot {
		if pred(m) {
			out = append(out, m)
		}
	}
	return out
}

// percent rounds half away from zero.
func percent(part, total int) int {
	if total == 0 {
		return 0
	}
	return int(math.Round(100 * float64(part) / float64(total)))
}
