package dispatch

import (
	"errors"
	"math"
	"strings"
	"time"

	"github.com/user/magpie/internal/browser"
	"github.com/user/magpie/internal/platform"
	"github.com/user/magpie/internal/ratelimit"
)

// RetryPolicy controls how failed executions are retried with exponential
// backoff.
type RetryPolicy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
}

// DefaultRetryPolicy returns 3 attempts, 1s initial delay, 2x multiplier,
// 30s max delay.
func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts:  3,
		InitialDelay: 1 * time.Second,
		Multiplier:   2.0,
		MaxDelay:     30 * time.Second,
	}
}

// ShouldRetry reports whether the error is retryable and the attempt count
// has not exceeded MaxAttempts.
func (p *RetryPolicy) ShouldRetry(err error, attempt int) bool {
	if attempt > p.MaxAttempts {
		return false
	}
	return isRetryable(err)
}

// isRetryable classifies errors. Typed domain errors decide first: a
// platform challenge must never be retried, a rate limit has its own
// retry-after contract, and an invalid session won't fix itself. String
// matching covers untyped transport errors; unknown errors default to
// retryable.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}

	var challenge *browser.ChallengeError
	if errors.As(err, &challenge) {
		return false
	}
	var rateLimited *ratelimit.Error
	if errors.As(err, &rateLimited) {
		return false
	}
	var apiErr *platform.APIError
	if errors.As(err, &apiErr) {
		return !apiErr.SessionInvalid() && apiErr.StatusCode >= 500
	}

	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "temporary failure") {
		return true
	}
	if strings.Contains(msg, "invalid") ||
		strings.Contains(msg, "unauthorized") ||
		strings.Contains(msg, "forbidden") {
		return false
	}
	return true
}

// NextDelay returns the backoff delay for the given attempt (1-indexed):
// InitialDelay * Multiplier^(attempt-1), capped at MaxDelay.
func (p *RetryPolicy) NextDelay(attempt int) time.Duration {
	delay := float64(p.InitialDelay) * math.Pow(p.Multiplier, float64(attempt-1))
	if delay > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	return time.Duration(delay)
}

// Execute runs fn up to MaxAttempts times with exponential backoff between
// retries. Returns nil on success or the last error when attempts are
// exhausted or the error is non-retryable.
func (p *RetryPolicy) Execute(fn func() error) error {
	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err
		if !p.ShouldRetry(err, attempt) {
			return err
		}
		if attempt < p.MaxAttempts {
			time.Sleep(p.NextDelay(attempt))
		}
	}
	return lastErr
}
