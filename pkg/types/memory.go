package types

import "time"

// Memory is a single captured voice note. Identity, ownership, creation time,
// text fields and category are fixed once the record is persisted; only the
// favorite and completion flags change afterwards (see Patch).
type Memory struct {
	ID      string `json:"id"`      // Unique identifier, generated at capture time
	OwnerID string `json:"ownerId"` // Owning user

	Title    string   `json:"title"`    // Short generated title
	Summary  string   `json:"summary"`  // One or two sentence summary
	Content  string   `json:"content"`  // Full transcript
	Category Category `json:"category"` // task, reminder, idea or note

	AudioRef string `json:"audioRef,omitempty"` // Playable reference (URL or vault path)

	IsFavorite  bool `json:"isFavorite"`
	IsCompleted bool `json:"isCompleted"` // Meaningful for tasks and reminders only

	CreatedAt time.Time `json:"createdAt"` // Capture time; the only sort key (newest first)

	DurationSec  float64    `json:"durationSec,omitempty"`  // Recording length when known
	ReminderTime *time.Time `json:"reminderTime,omitempty"` // Carried by remote schemas; never set by the core

	// Audio holds inline audio bytes for backends that persist the recording
	// next to the record. It is never serialized to clients.
	Audio *AudioArtifact `json:"-"`
}

// Clone returns a copy of m that shares no mutable state with it.
func (m *Memory) Clone() *Memory {
	if m == nil {
		return nil
	}
	c := *m
	if m.ReminderTime != nil {
		t := *m.ReminderTime
		c.ReminderTime = &t
	}
	if m.Audio != nil {
		a := *m.Audio
		a.Data = append([]byte(nil), m.Audio.Data...)
		c.Audio = &a
	}
	return &c
}

// Patch is a partial update of the mutable memory fields. Nil fields are left
// untouched.
type Patch struct {
	IsFavorite  *bool `json:"isFavorite,omitempty"`
	IsCompleted *bool `json:"isCompleted,omitempty"`
}

// Empty reports whether the patch changes nothing.
func (p Patch) Empty() bool {
	return p.IsFavorite == nil && p.IsCompleted == nil
}

// ApplyTo merges the patch into m.
func (p Patch) ApplyTo(m *Memory) {
	if m == nil {
		return
	}
	if p.IsFavorite != nil {
		m.IsFavorite = *p.IsFavorite
	}
	if p.IsCompleted != nil {
		m.IsCompleted = *p.IsCompleted
	}
}

// FavoritePatch returns a patch setting only the favorite flag.
func FavoritePatch(v bool) Patch {
	return Patch{IsFavorite: &v}
}

// CompletionPatch returns a patch setting only the completion flag.
func CompletionPatch(v bool) Patch {
	return Patch{IsCompleted: &v}
}
