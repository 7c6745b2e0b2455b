// Package ratelimit fuses a token-bucket (golang.org/x/time/rate) sized
// per exchange policy with a connection-pool semaphore, per spec §4.7.
package ratelimit

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Policy is a per-exchange quota, per spec §4.7's table (Binance
// 1200/min, Bybit 120/min, Hyperliquid 600/min, default 60/min).
type Policy struct {
	RequestsPerMinute int
	MaxConcurrent     int
}

// DefaultPolicies mirrors spec §4.7's table of named exchange quotas.
var DefaultPolicies = map[string]Policy{
	"binance":     {RequestsPerMinute: 1200, MaxConcurrent: 10},
	"bybit":       {RequestsPerMinute: 120, MaxConcurrent: 10},
	"hyperliquid": {RequestsPerMinute: 600, MaxConcurrent: 10},
}

// FallbackPolicy applies when an exchange isn't in DefaultPolicies.
var FallbackPolicy = Policy{RequestsPerMinute: 60, MaxConcurrent: 10}

// PolicyFor looks up an exchange's policy, falling back to the default.
func PolicyFor(exchangeID string) Policy {
	if p, ok := DefaultPolicies[exchangeID]; ok {
		return p
	}
	return FallbackPolicy
}

// Limiter is a shared token bucket plus connection pool in front of one
// exchange's REST surface. Acquire blocks (honoring cancellation) when the
// bucket is exhausted or the pool is full, per spec §5 backpressure.
type Limiter struct {
	bucket *rate.Limiter
	pool   chan struct{}

	mu         sync.Mutex
	usedWeight int
	limit      int
	lastReset  time.Time
	resetEvery time.Duration

	adaptiveMu sync.Mutex
}

// New builds a Limiter from a Policy.
func New(p Policy) *Limiter {
	if p.MaxConcurrent <= 0 {
		p.MaxConcurrent = 10
	}
	perSecond := float64(p.RequestsPerMinute) / 60.0
	return &Limiter{
		bucket:     rate.NewLimiter(rate.Limit(perSecond), max(1, p.RequestsPerMinute/10)),
		pool:       make(chan struct{}, p.MaxConcurrent),
		limit:      p.RequestsPerMinute,
		resetEvery: time.Minute,
		lastReset:  time.Now(),
	}
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// Acquire blocks until a token and a connection slot are both available,
// or ctx is cancelled. The caller must call the returned release func
// exactly once when the request completes.
func (l *Limiter) Acquire(ctx context.Context) (release func(), err error) {
	if err := l.bucket.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter wait: %w", err)
	}
	select {
	case l.pool <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return func() { <-l.pool }, nil
}

// AdaptFromHeader re-sizes the bucket from a server-provided rate hint
// (e.g. Binance's X-MBX-USED-WEIGHT-1M header), per spec §4.7's adaptive
// mode, grounded on the teacher's RateLimiter.UpdateFromHeader.
func (l *Limiter) AdaptFromHeader(headerValue string) {
	if headerValue == "" {
		return
	}
	weight, err := strconv.Atoi(headerValue)
	if err != nil {
		return
	}

	l.mu.Lock()
	if time.Since(l.lastReset) >= l.resetEvery {
		l.usedWeight = 0
		l.lastReset = time.Now()
	}
	l.usedWeight = weight
	used, limit := l.usedWeight, l.limit
	l.mu.Unlock()

	if limit <= 0 {
		return
	}
	pct := float64(used) / float64(limit) * 100
	if pct >= 95 {
		log.Printf("ratelimit: critical usage %d/%d (%.1f%%)", used, limit, pct)
	} else if pct >= 80 {
		log.Printf("ratelimit: warning usage %d/%d (%.1f%%)", used, limit, pct)
	}

	l.adaptiveMu.Lock()
	defer l.adaptiveMu.Unlock()
	remaining := limit - used
	if remaining < 0 {
		remaining = 0
	}
	secondsLeft := l.resetEvery - time.Since(l.lastReset)
	if secondsLeft <= 0 {
		secondsLeft = time.Second
	}
	newRate := rate.Limit(float64(remaining) / secondsLeft.Seconds())
	if newRate > 0 {
		l.bucket.SetLimit(newRate)
	}
}

// Usage reports current bucket utilization for diagnostics.
func (l *Limiter) Usage() (used, limit int, pct float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if time.Since(l.lastReset) >= l.resetEvery {
		return 0, l.limit, 0
	}
	if l.limit == 0 {
		return l.usedWeight, 0, 0
	}
	return l.usedWeight, l.limit, float64(l.usedWeight) / float64(l.limit) * 100
}
