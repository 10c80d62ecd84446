package server

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/time/rate"

	"github.com/scrypster/memorytap/internal/identity"
)

type principalKey struct{}

// principalFrom returns the caller authenticated by requireAuth.
func principalFrom(ctx context.Context) (identity.Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(identity.Principal)
	return p, ok
}

// securityHeaders adds security headers to all HTTP responses.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

// requireAuth resolves the bearer token to a principal. Browsers cannot set
// headers on a websocket handshake, so a token query parameter is accepted
// there too.
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := identity.BearerToken(r.Header.Get("Authorization"))
		if token == "" && r.URL.Path == "/ws" {
			token = r.URL.Query().Get("token")
		}

		p, err := s.identity.Identify(r.Context(), token)
		if err != nil {
			s.logger.Debug("authentication failed", "path", r.URL.Path, "error", err)
			respondJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "unauthorized", Code: CodeUnauthorized})
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), principalKey{}, p)))
	})
}

// RateLimiter keeps one token bucket per client address. Idle buckets
// expire so the table stays bounded.
type RateLimiter struct {
	rps   rate.Limit
	burst int

	mu      sync.Mutex
	buckets *expirable.LRU[string, *rate.Limiter]
}

// NewRateLimiter creates a limiter allowing rps sustained requests per
// client with the given burst. It returns nil when rps is not positive.
func NewRateLimiter(rps float64, burst int) *RateLimiter {
	if rps <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = int(rps) + 1
	}
	return &RateLimiter{
		rps:     rate.Limit(rps),
		burst:   burst,
		buckets: expirable.NewLRU[string, *rate.Limiter](4096, nil, 10*time.Minute),
	}
}

// Allow reports whether the client may make another request now.
func (l *RateLimiter) Allow(client string) bool {
	l.mu.Lock()
	lim, ok := l.buckets.Get(client)
	if !ok {
		lim = rate.NewLimiter(l.rps, l.burst)
		l.buckets.Add(client, lim)
	}
	l.mu.Unlock()
	return lim.Allow()
}

// rateLimit enforces rl per remote host. A nil limiter allows everything.
func rateLimit(next http.Handler, rl *RateLimiter) http.Handler {
	if rl == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.Allow(clientAddr(r)) {
			respondJSON(w, http.StatusTooManyRequests, ErrorResponse{Error: "rate limit exceeded", Code: CodeRateLimited})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
