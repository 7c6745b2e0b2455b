package ratelimit

import (
	"context"
	"math/rand"
	"time"
)

// RetryPolicy is exponential backoff with jitter, applied by Do. The
// exchange clients and the LLM fallback chain do not call Do.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetryPolicy gives up after 3 attempts, base 250ms, capped at 5s.
var DefaultRetryPolicy = RetryPolicy{MaxAttempts: 3, BaseDelay: 250 * time.Millisecond, MaxDelay: 5 * time.Second}

// Delay returns the jittered backoff for the given (0-indexed) attempt.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	d := p.BaseDelay << uint(attempt)
	if d > p.MaxDelay || d <= 0 {
		d = p.MaxDelay
	}
	jitter := time.Duration(rand.Int63n(int64(d) / 2))
	return d/2 + jitter
}

// Permanent wraps an error to signal Do should not retry it (e.g.
// authentication failures, "invalid request" responses).
type Permanent struct{ Err error }

func (p *Permanent) Error() string { return p.Err.Error() }
func (p *Permanent) Unwrap() error { return p.Err }

// Do retries fn with exponential backoff+jitter, giving up immediately if
// fn returns a *Permanent error or ctx is cancelled.
func Do(ctx context.Context, p RetryPolicy, fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if perm, ok := err.(*Permanent); ok {
			return perm.Unwrap()
		}
		lastErr = err
		if attempt == p.MaxAttempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.Delay(attempt)):
		}
	}
	return lastErr
}
