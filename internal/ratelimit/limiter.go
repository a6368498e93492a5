// internal/ratelimit/limiter.go

// Package ratelimit tracks per-account, per-endpoint call budgets derived
// from platform response headers. The state is advisory and ephemeral: the
// platform's own headers are authoritative, so nothing here is persisted.
package ratelimit

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/user/magpie/internal/types"
)

// Error is the typed rate-limit signal raised when a call is disallowed.
// Callers must surface it as a paused/failed state, never busy-retry.
type Error struct {
	AccountID  types.AccountID
	Endpoint   string
	RetryAfter time.Duration
}

func (e *Error) Error() string {
	return fmt.Sprintf("rate limited on %s for account %s, retry after %s", e.Endpoint, e.AccountID, e.RetryAfter)
}

// window is the tracked quota for one (account, endpoint) pair.
type window struct {
	remaining int
	resetAt   time.Time
	known     bool
}

// Limiter tracks remaining call budgets per (account, normalized endpoint).
// All reads and read-modify-writes happen under one mutex; cross-process
// coordination is out of scope.
type Limiter struct {
	mu      sync.Mutex
	windows map[string]*window
	now     func() time.Time
}

// New creates an empty Limiter.
func New() *Limiter {
	return &Limiter{
		windows: make(map[string]*window),
		now:     time.Now,
	}
}

func (l *Limiter) key(accountID types.AccountID, endpoint string) string {
	return string(accountID) + "|" + NormalizeEndpoint(endpoint)
}

// NormalizeEndpoint replaces numeric path segments with ":id" so quota is
// tracked per logical endpoint, not per instance
// (/users/123/followers -> /users/:id/followers).
func NormalizeEndpoint(endpoint string) string {
	parts := strings.Split(endpoint, "/")
	for i, part := range parts {
		if part == "" {
			continue
		}
		if _, err := strconv.ParseInt(part, 10, 64); err == nil {
			parts[i] = ":id"
		}
	}
	return strings.Join(parts, "/")
}

// Check reports whether a call to the endpoint is allowed for the account.
// When disallowed it returns the duration to wait before retrying.
func (l *Limiter) Check(accountID types.AccountID, endpoint string) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[l.key(accountID, endpoint)]
	if !ok || !w.known {
		return true, 0
	}

	now := l.now()
	if !w.resetAt.IsZero() && now.After(w.resetAt) {
		// Window rolled over; forget the stale budget.
		w.known = false
		return true, 0
	}
	if w.remaining > 0 {
		return true, 0
	}

	retryAfter := time.Second
	if !w.resetAt.IsZero() {
		retryAfter = w.resetAt.Sub(now)
		if retryAfter < 0 {
			retryAfter = time.Second
		}
	}
	return false, retryAfter
}

// Require is Check that returns a typed *Error when disallowed.
func (l *Limiter) Require(accountID types.AccountID, endpoint string) error {
	allowed, retryAfter := l.Check(accountID, endpoint)
	if allowed {
		return nil
	}
	return &Error{
		AccountID:  accountID,
		Endpoint:   NormalizeEndpoint(endpoint),
		RetryAfter: retryAfter,
	}
}

// UpdateFromHeaders absorbs the platform's quota signal after a call.
// Recognized headers: X-RateLimit-Remaining, X-RateLimit-Reset (unix
// seconds or delta seconds), and Retry-After (seconds).
func (l *Limiter) UpdateFromHeaders(accountID types.AccountID, endpoint string, headers http.Header) {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := l.key(accountID, endpoint)
	w, ok := l.windows[key]
	if !ok {
		w = &window{}
		l.windows[key] = w
	}

	now := l.now()

	if v := headers.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil {
			w.remaining = 0
			w.resetAt = now.Add(time.Duration(secs) * time.Second)
			w.known = true
			return
		}
	}

	remaining := headers.Get("X-RateLimit-Remaining")
	if remaining == "" {
		return
	}
	n, err := strconv.Atoi(remaining)
	if err != nil {
		return
	}
	w.remaining = n
	w.known = true

	if v := headers.Get("X-RateLimit-Reset"); v != "" {
		if reset, err := strconv.ParseInt(v, 10, 64); err == nil {
			// Unix timestamps are large; small values are deltas.
			if reset > 1e9 {
				w.resetAt = time.Unix(reset, 0)
			} else {
				w.resetAt = now.Add(time.Duration(reset) * time.Second)
			}
		}
	}
}
