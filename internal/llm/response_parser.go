package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/scrypster/memorytap/pkg/types"
)

// ErrMalformedResponse is returned when a model answer is not the JSON object
// the prompt asked for.
var ErrMalformedResponse = errors.New("malformed model response")

// processingResponse is the JSON shape requested by ProcessingPrompt.
type processingResponse struct {
	Summary  string `json:"summary"`
	Title    string `json:"title"`
	Category string `json:"category"`
}

// BriefingResponse is the JSON shape requested by BriefingPrompt.
type BriefingResponse struct {
	PriorityIDs []string `json:"priorityIds"`
	Analysis    string   `json:"analysis"`
}

// HabitResponse is the JSON shape requested by HabitPrompt.
type HabitResponse struct {
	Pattern           string  `json:"pattern"`
	Suggestion        string  `json:"suggestion"`
	ProductivityScore float64 `json:"productivityScore"`
}

// extractJSON extracts the first valid JSON object from a string that may contain extra text.
// This handles cases where LLMs add explanations before/after the JSON despite instructions.
func extractJSON(text string) string {
	// Remove common markdown code block markers
	text = strings.ReplaceAll(text, "```json", "")
	text = strings.ReplaceAll(text, "```", "")
	text = strings.TrimSpace(text)

	// Try to find JSON object boundaries
	start := strings.Index(text, "{")
	if start == -1 {
		return text // No JSON found, return as-is and let parser fail
	}

	// Find the matching closing brace
	braceCount := 0
	inString := false
	escape := false

	for i := start; i < len(text); i++ {
		char := text[i]

		// Handle string escaping
		if escape {
			escape = false
			continue
		}
		if char == '\\' {
			escape = true
			continue
		}

		// Track if we're inside a string
		if char == '"' {
			inString = !inString
			continue
		}

		// Only count braces outside of strings
		if !inString {
			switch char {
			case '{':
				braceCount++
			case '}':
				braceCount--
				if braceCount == 0 {
					// Found complete JSON object, return it
					return text[start : i+1]
				}
			}
		}
	}

	return text // No complete JSON found, return as-is
}

// ParseProcessingResponse parses the classification answer for a transcript.
// It is strict: title, summary and category must all be present and the
// category must be one of the four storable values. The returned result has
// the transcript filled in.
func ParseProcessingResponse(raw, transcript string) (*types.ProcessingResult, error) {
	var resp processingResponse
	if err := json.Unmarshal([]byte(extractJSON(raw)), &resp); err != nil {
		return nil, fmt.Errorf("%w: failed to parse processing JSON: %w", ErrMalformedResponse, err)
	}

	resp.Title = strings.TrimSpace(resp.Title)
	resp.Summary = strings.TrimSpace(resp.Summary)
	if resp.Title == "" {
		return nil, fmt.Errorf("%w: missing title", ErrMalformedResponse)
	}
	if resp.Summary == "" {
		return nil, fmt.Errorf("%w: missing summary", ErrMalformedResponse)
	}

	category, err := types.ParseCategory(resp.Category, false)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedResponse, err)
	}

	return &types.ProcessingResult{
		Title:      resp.Title,
		Summary:    resp.Summary,
		Transcript: transcript,
		Category:   category,
	}, nil
}

// ParseBriefingResponse parses the focus-view answer. An empty analysis is
// treated as malformed; an empty ID list is allowed.
func ParseBriefingResponse(raw string) (*BriefingResponse, error) {
	var resp BriefingResponse
	if err := json.Unmarshal([]byte(extractJSON(raw)), &resp); err != nil {
		return nil, fmt.Errorf("%w: failed to parse briefing JSON: %w", ErrMalformedResponse, err)
	}
	resp.Analysis = strings.TrimSpace(resp.Analysis)
	if resp.Analysis == "" {
		return nil, fmt.Errorf("%w: missing analysis", ErrMalformedResponse)
	}
	return &resp, nil
}

// ParseHabitResponse parses the analytics answer. The score is rounded and
// clamped to 0..100.
func ParseHabitResponse(raw string) (*HabitResponse, error) {
	var resp HabitResponse
	if err := json.Unmarshal([]byte(extractJSON(raw)), &resp); err != nil {
		return nil, fmt.Errorf("%w: failed to parse habit JSON: %w", ErrMalformedResponse, err)
	}
	resp.Pattern = strings.TrimSpace(resp.Pattern)
	resp.Suggestion = strings.TrimSpace(resp.Suggestion)
	if resp.Pattern == "" || resp.Suggestion == "" {
		return nil, fmt.Errorf("%w: missing pattern or suggestion", ErrMalformedResponse)
	}
	switch {
	case resp.ProductivityScore < 0:
		resp.ProductivityScore = 0
	case resp.ProductivityScore > 100:
		resp.ProductivityScore = 100
	}
	return &resp, nil
}

// Score returns the productivity score as an integer.
func (h *HabitResponse) Score() int {
	return int(h.ProductivityScore + 0.5)
}
