package server

import (
	"net/http"
	"sync"

	"golang.org/x/time/rate"
)

// perUserLimiter gives each authenticated user their own token bucket
// so one user's scrape/credential-test traffic cannot starve another's
// (spec §9 design notes call out per-user fairness for the same
// reason the job queue budgets resources per job).
type perUserLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	r        rate.Limit
	burst    int
}

func newPerUserLimiter(ratePerSecond float64, burst int) *perUserLimiter {
	return &perUserLimiter{
		limiters: make(map[string]*rate.Limiter),
		r:        rate.Limit(ratePerSecond),
		burst:    burst,
	}
}

func (l *perUserLimiter) forUser(userID string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.limiters[userID]
	if !ok {
		lim = rate.NewLimiter(l.r, l.burst)
		l.limiters[userID] = lim
	}
	return lim
}

// rateLimitMiddleware rejects a request with 503 when the calling
// principal has exhausted its bucket. 503 (not 429) matches spec §6's
// closed status-code set, which reserves 503 for "dependency
// unavailable" — a saturated rate limiter is modeled as a temporarily
// unavailable admission gate, the same way the resource manager's
// CanAllocate gate is surfaced.
func rateLimitMiddleware(limiter *perUserLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, ok := principalFromContext(r.Context())
			key := "anonymous"
			if ok {
				key = principal.UserID
			}
			if !limiter.forUser(key).Allow() {
				writeError(w, http.StatusServiceUnavailable, "rate_limited", "too many requests, slow down")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
