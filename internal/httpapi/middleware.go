package httpapi

import (
	"context"
	"net/http"
	"strings"
	"sync"

	"golang.org/x/time/rate"

	"timebox/internal/auth"
)

type ctxKey int

const ownerKey ctxKey = iota

// Owner returns the authenticated owner id stored by the auth middleware.
func Owner(ctx context.Context) string {
	owner, _ := ctx.Value(ownerKey).(string)
	return owner
}

// requireAuth resolves the bearer token to an owner and stashes it in the
// request context. Missing credentials are 401, unknown ones 403.
func requireAuth(v auth.Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(h, "Bearer ")
			if !ok || strings.TrimSpace(token) == "" {
				writeError(w, http.StatusUnauthorized, "missing bearer token")
				return
			}
			owner, ok := v.Verify(strings.TrimSpace(token))
			if !ok {
				writeError(w, http.StatusForbidden, "invalid token")
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ownerKey, owner)))
		})
	}
}

// ownerLimiter is a per-owner token bucket for mutation routes. Settings swap
// live on config reload; a swap resets the buckets.
type ownerLimiter struct {
	mu      sync.Mutex
	perSec  rate.Limit
	burst   int
	buckets map[string]*rate.Limiter
}

func newOwnerLimiter(perSec float64, burst int) *ownerLimiter {
	l := &ownerLimiter{}
	l.Apply(perSec, burst)
	return l
}

func (l *ownerLimiter) Apply(perSec float64, burst int) {
	l.mu.Lock()
	l.perSec = rate.Limit(perSec)
	l.burst = burst
	l.buckets = make(map[string]*rate.Limiter)
	l.mu.Unlock()
}

func (l *ownerLimiter) allow(owner string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.perSec <= 0 || l.burst <= 0 {
		return true
	}
	b, ok := l.buckets[owner]
	if !ok {
		b = rate.NewLimiter(l.perSec, l.burst)
		l.buckets[owner] = b
	}
	return b.Allow()
}

func (l *ownerLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.allow(Owner(r.Context())) {
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}
