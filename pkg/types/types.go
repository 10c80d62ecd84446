// Package types defines the core data structures for the memorytap system.
// A Memory is a single captured voice note after transcription and
// classification; these types are shared by the storage, engine, query and
// transport layers.
package types

import (
	"fmt"
	"strings"
)

// Category is the classification bucket assigned to a memory by the
// processing step. The set is closed.
type Category string

// Memory category constants
const (
	CategoryTask     Category = "task"
	CategoryReminder Category = "reminder"
	CategoryIdea     Category = "idea"
	CategoryNote     Category = "note"

	// CategoryAll is a query sentinel meaning "no category filter".
	// It is never a valid stored category.
	CategoryAll Category = "all"
)

// ValidCategories lists every storable category in display order.
var ValidCategories = []Category{
	CategoryTask,
	CategoryReminder,
	CategoryIdea,
	CategoryNote,
}

// Valid reports whether c is one of the four storable categories.
func (c Category) Valid() bool {
	for _, v := range ValidCategories {
		if c == v {
			return true
		}
	}
	return false
}

// Actionable reports whether memories of this category carry a meaningful
// completion flag (tasks and reminders).
func (c Category) Actionable() bool {
	return c == CategoryTask || c == CategoryReminder
}

// String implements fmt.Stringer.
func (c Category) String() string {
	return string(c)
}

// ParseCategory normalizes s (trimmed, case-insensitive) into a Category.
// The "all" sentinel is accepted only when allowAll is true.
func ParseCategory(s string, allowAll bool) (Category, error) {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	if c.Valid() {
		return c, nil
	}
	if allowAll && (c == CategoryAll || c == "") {
		return CategoryAll, nil
	}
	return "", fmt.Errorf("invalid category %q: must be one of task, reminder, idea, note", s)
}
