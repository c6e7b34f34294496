package api

import (
	"net/http"
	"sync"

	"golang.org/x/time/rate"

	"github.com/invitewarden/invitewarden-server/internal/http/response"
)

// Mutation endpoints get a per-client token bucket so a runaway admin
// script cannot flood the ledger with writes. Read endpoints are unlimited.
const (
	mutationRPS   = 5
	mutationBurst = 10
)

// ipLimiter hands out one token bucket per client IP.
type ipLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
}

func newIPLimiter(rps float64, burst int) *ipLimiter {
	return &ipLimiter{
		limiters: make(map[string]*rate.Limiter),
		limit:    rate.Limit(rps),
		burst:    burst,
	}
}

func (l *ipLimiter) allow(key string) bool {
	l.mu.Lock()
	limiter, ok := l.limiters[key]
	if !ok {
		limiter = rate.NewLimiter(l.limit, l.burst)
		l.limiters[key] = limiter
	}
	l.mu.Unlock()

	return limiter.Allow()
}

// rateLimitMutations rejects mutation requests beyond the per-IP budget.
// Relies on middleware.RealIP having normalized RemoteAddr.
func (s *Server) rateLimitMutations(next http.Handler) http.Handler {
	limiter := newIPLimiter(mutationRPS, mutationBurst)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !limiter.allow(r.RemoteAddr) {
			response.Error(w, http.StatusTooManyRequests, "Too many requests", s.logger)
			return
		}
		next.ServeHTTP(w, r)
	})
}
