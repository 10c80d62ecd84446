package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/sony/gobreaker"
)

// ErrCircuitOpen is returned without calling the provider while its breaker
// is open.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// BreakerSettings tunes a Breaker. Zero fields take the defaults.
type BreakerSettings struct {
	// Trip opens the circuit after this many consecutive failures. Default 3.
	Trip uint32
	// Cooldown is how long the circuit stays open. Default 30s.
	Cooldown time.Duration
	// Probes is the number of successful half-open calls that close it. Default 2.
	Probes uint32
	Logger *slog.Logger
}

// BreakerStats counts calls made through a Breaker.
type BreakerStats struct {
	State    string `json:"state"`
	Calls    uint64 `json:"calls"`
	Failures uint64 `json:"failures"`
	Rejected uint64 `json:"rejected"`
	Streak   uint32 `json:"consecutiveFailures"`
}

// Breaker guards one provider. A provider that keeps failing is not called
// by every capture: once the circuit opens, calls fail fast with
// ErrCircuitOpen until the cooldown passes. The pipeline reports that like
// any other processing error.
type Breaker struct {
	provider string
	cb       *gobreaker.CircuitBreaker

	calls    atomic.Uint64
	failures atomic.Uint64
	rejected atomic.Uint64
}

// NewBreaker returns a breaker with default settings for provider.
func NewBreaker(provider string) *Breaker {
	return NewBreakerWithSettings(provider, BreakerSettings{})
}

// NewBreakerWithSettings returns a breaker for provider.
func NewBreakerWithSettings(provider string, s BreakerSettings) *Breaker {
	if s.Trip == 0 {
		s.Trip = 3
	}
	if s.Cooldown == 0 {
		s.Cooldown = 30 * time.Second
	}
	if s.Probes == 0 {
		s.Probes = 2
	}
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}

	trip := s.Trip
	return &Breaker{
		provider: provider,
		cb: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        provider,
			MaxRequests: s.Probes,
			Timeout:     s.Cooldown,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= trip
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.Warn("llm: provider circuit changed",
					"provider", name, "from", from.String(), "to", to.String())
			},
		}),
	}
}

// Call runs fn unless the circuit is open. A context that is already done
// fails the call without reaching the provider.
func (b *Breaker) Call(ctx context.Context, fn func(context.Context) (string, error)) (string, error) {
	b.calls.Add(1)
	if err := ctx.Err(); err != nil {
		b.failures.Add(1)
		return "", err
	}

	out, err := b.cb.Execute(func() (interface{}, error) {
		return fn(ctx)
	})
	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		b.rejected.Add(1)
		return "", fmt.Errorf("%s: %w", b.provider, ErrCircuitOpen)
	case err != nil:
		b.failures.Add(1)
		return "", err
	}
	return out.(string), nil
}

// State is "closed", "open" or "half-open".
func (b *Breaker) State() string {
	return b.cb.State().String()
}

// Stats returns the call counters and the current failure streak.
func (b *Breaker) Stats() BreakerStats {
	return BreakerStats{
		State:    b.State(),
		Calls:    b.calls.Load(),
		Failures: b.failures.Load(),
		Rejected: b.rejected.Load(),
		Streak:   b.cb.Counts().ConsecutiveFailures,
	}
}
