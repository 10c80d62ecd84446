// Package insight produces the focus-view briefing and the analytics habit
// report. Both are best effort: any model failure yields a fixed fallback
// payload marked Degraded, never an error.
package insight

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/scrypster/memorytap/internal/llm"
	"github.com/scrypster/memorytap/internal/query"
	"github.com/scrypster/memorytap/pkg/types"
)

// Fallback texts.
const (
	AllCaughtUp        = "You're all caught up! No pending tasks or reminders."
	BriefingFallback   = "Unable to generate insights at this time."
	PatternFallback    = "Analysis unavailable"
	SuggestionFallback = "Keep capturing your thoughts!"
	ScoreFallback      = 50
)

// Config holds configuration for the insight service.
type Config struct {
	// CacheSize bounds the number of cached results per view (default: 256).
	CacheSize int
	// CacheTTL is how long a result is reused for identical input (default: 10m).
	CacheTTL time.Duration
}

// Service generates insights with a TextGenerator. Results are cached by a
// hash of the prompt input, so unchanged collections do not cost another
// model call.
type Service struct {
	gen       llm.TextGenerator
	logger    *slog.Logger
	briefings *expirable.LRU[string, types.Briefing]
	habits    *expirable.LRU[string, types.HabitReport]
}

// NewService creates an insight service. A nil generator is allowed and
// always produces fallbacks.
func NewService(gen llm.TextGenerator, cfg Config, logger *slog.Logger) *Service {
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = 256
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 10 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		gen:       gen,
		logger:    logger,
		briefings: expirable.NewLRU[string, types.Briefing](cfg.CacheSize, nil, cfg.CacheTTL),
		habits:    expirable.NewLRU[string, types.HabitReport](cfg.CacheSize, nil, cfg.CacheTTL),
	}
}

// FallbackBriefing is returned when the model cannot be used.
func FallbackBriefing() types.Briefing {
	return types.Briefing{PriorityIDs: []string{}, Analysis: BriefingFallback, Degraded: true}
}

// FallbackHabitReport is returned when the model cannot be used.
func FallbackHabitReport() types.HabitReport {
	return types.HabitReport{
		Pattern:           PatternFallback,
		Suggestion:        SuggestionFallback,
		ProductivityScore: ScoreFallback,
		Degraded:          true,
	}
}

// Briefing ranks the pending tasks and reminders in memories. Completed
// items and other categories never reach the model; with nothing pending the
// model is not called at all.
func (s *Service) Briefing(ctx context.Context, memories []*types.Memory) types.Briefing {
	pending := query.Actionable(memories)
	if len(pending) == 0 {
		return types.Briefing{PriorityIDs: []string{}, Analysis: AllCaughtUp}
	}
	if s.gen == nil {
		return FallbackBriefing()
	}

	key := cacheKey(llm.BriefingContext(pending))
	if b, ok := s.briefings.Get(key); ok {
		b.PriorityIDs = append([]string{}, b.PriorityIDs...)
		return b
	}

	raw, err := s.gen.Complete(ctx, llm.BriefingPrompt(pending))
	if err != nil {
		s.logger.Warn("insight: briefing unavailable", "error", err)
		return FallbackBriefing()
	}
	resp, err := llm.ParseBriefingResponse(raw)
	if err != nil {
		s.logger.Warn("insight: briefing unavailable", "model", s.gen.GetModel(), "error", err)
		return FallbackBriefing()
	}

	b := types.Briefing{PriorityIDs: resp.PriorityIDs, Analysis: resp.Analysis}
	if b.PriorityIDs == nil {
		b.PriorityIDs = []string{}
	}
	s.briefings.Add(key, b)
	return b
}

// HabitAnalysis describes capture and completion patterns over the whole
// collection. An empty collection gets the fallback text without a model
// call.
func (s *Service) HabitAnalysis(ctx context.Context, memories []*types.Memory) types.HabitReport {
	if len(memories) == 0 {
		r := FallbackHabitReport()
		r.Degraded = false
		return r
	}
	if s.gen == nil {
		return FallbackHabitReport()
	}

	prompt := llm.HabitPrompt(memories)
	key := cacheKey(prompt)
	if r, ok := s.habits.Get(key); ok {
		return r
	}

	raw, err := s.gen.Complete(ctx, prompt)
	if err != nil {
		s.logger.Warn("insight: habit analysis unavailable", "error", err)
		return FallbackHabitReport()
	}
	resp, err := llm.ParseHabitResponse(raw)
	if err != nil {
		s.logger.Warn("insight: habit analysis unavailable", "model", s.gen.GetModel(), "error", err)
		return FallbackHabitReport()
	}

	r := types.HabitReport{
		Pattern:           resp.Pattern,
		Suggestion:        resp.Suggestion,
		ProductivityScore: resp.Score(),
	}
	s.habits.Add(key, r)
	return r
}

// Purge drops every cached result.
func (s *Service) Purge() {
	s.briefings.Purge()
	s.habits.Purge()
}

func cacheKey(input string) string {
	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:])
}
