package services

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// tickerCheckMultiplier is how many times Wait polls per refill period
const tickerCheckMultiplier = 10

// TokenBucket paces outbound bulk sends
type TokenBucket struct {
	lastRefill   time.Time
	refillPeriod time.Duration
	capacity     int
	tokens       int
	mu           sync.Mutex
}

// NewTokenBucket allows perSecond sends with a burst of capacity
func NewTokenBucket(capacity int, perSecond float64) *TokenBucket {
	if capacity < 1 {
		capacity = 1
	}
	if perSecond <= 0 {
		perSecond = 1
	}
	return &TokenBucket{
		capacity:     capacity,
		tokens:       capacity,
		refillPeriod: time.Duration(float64(time.Second) / perSecond),
		lastRefill:   time.Now(),
	}
}

// Allow consumes a token if one is available
func (tb *TokenBucket) Allow() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refill()
	if tb.tokens > 0 {
		tb.tokens--
		return true
	}
	return false
}

// Wait blocks until a token is available or ctx is done
func (tb *TokenBucket) Wait(ctx context.Context) error {
	if tb.Allow() {
		return nil
	}

	interval := tb.refillPeriod / tickerCheckMultiplier
	if interval <= 0 {
		interval = time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("context canceled while waiting for rate limit: %w", ctx.Err())
		case <-ticker.C:
			if tb.Allow() {
				return nil
			}
		}
	}
}

func (tb *TokenBucket) refill() {
	elapsed := time.Since(tb.lastRefill)
	periods := int(elapsed / tb.refillPeriod)
	if periods <= 0 {
		return
	}

	tb.tokens += periods
	if tb.tokens > tb.capacity {
		tb.tokens = tb.capacity
	}
	tb.lastRefill = tb.lastRefill.Add(time.Duration(periods) * tb.refillPeriod)
}
