package types

// Briefing is the focus-view insight: the IDs the model considers most urgent
// and a short motivational paragraph.
type Briefing struct {
	PriorityIDs []string `json:"priorityIds"`
	Analysis    string   `json:"analysis"`

	// Degraded is set when the payload is a static fallback rather than
	// model output.
	Degraded bool `json:"degraded,omitempty"`
}

// HabitReport is the analytics-view insight.
type HabitReport struct {
	Pattern           string `json:"pattern"`
	Suggestion        string `json:"suggestion"`
	ProductivityScore int    `json:"productivityScore"` // 0-100

	Degraded bool `json:"degraded,omitempty"`
}
