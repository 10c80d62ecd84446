package llm

import (
	"fmt"
	"strings"
	"time"

	"github.com/scrypster/memorytap/pkg/types"
)

// ProcessingPrompt asks the model to title, summarize and classify a
// transcript. The response must be a JSON object with summary, title and
// category.
func ProcessingPrompt(transcript string) string {
	return fmt.Sprintf(`You are an intelligent personal assistant. Analyze the text and extract:
1. A concise summary (max 2 sentences)
2. A short, catchy title (max 5 words)
3. Category: 'task', 'reminder', 'idea', or 'note'
   - Use 'task' for actionable items
   - Use 'reminder' for time-sensitive notes
   - Use 'idea' for creative thoughts or suggestions
   - Use 'note' for general information

Respond ONLY with valid JSON in this exact format:
{
  "summary": "...",
  "title": "...",
  "category": "task|reminder|idea|note"
}

TEXT:
%s`, transcript)
}

// BriefingPrompt asks for the three most urgent items among pending tasks and
// reminders plus a short motivational paragraph. Callers filter the input;
// every memory passed here is listed.
func BriefingPrompt(pending []*types.Memory) string {
	var b strings.Builder
	b.WriteString(`Analyze these tasks/reminders and:
1. Identify the top 3 most urgent/important items (return their IDs)
2. Write a friendly, motivational briefing (max 50 words)

Respond with JSON:
{
  "priorityIds": ["id1", "id2", "id3"],
  "analysis": "..."
}

ITEMS:
`)
	b.WriteString(BriefingContext(pending))
	return b.String()
}

// BriefingContext renders one "ID: <id> | <title> | <summary>" line per memory.
func BriefingContext(pending []*types.Memory) string {
	lines := make([]string, 0, len(pending))
	for _, m := range pending {
		lines = append(lines, fmt.Sprintf("ID: %s | %s | %s", m.ID, m.Title, m.Summary))
	}
	return strings.Join(lines, "\n")
}

// HabitPrompt asks a productivity-coach style question over the whole
// collection: category, capture time and completion of every memory.
func HabitPrompt(memories []*types.Memory) string {
	var b strings.Builder
	b.WriteString(`As a productivity coach, analyze the user's memory patterns:
1. Identify a behavioral pattern (e.g., "You capture most ideas in the morning")
2. Provide one actionable suggestion
3. Give a productivity score (1-100) based on capture and completion balance

Respond with JSON:
{
  "pattern": "...",
  "suggestion": "...",
  "productivityScore": 75
}

DATA:
`)
	for i, m := range memories {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%s | %s | %t", m.Category, m.CreatedAt.UTC().Format(time.RFC3339), m.IsCompleted)
	}
	return b.String()
}
