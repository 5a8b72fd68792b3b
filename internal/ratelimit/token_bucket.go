// Package ratelimit provides a deterministic token bucket used to bound
// inbound signaling message rates per connection.
package ratelimit

import (
	"sync"
	"time"
)

// One token is 1e9 nano-tokens, so a fill rate of X tokens/sec adds exactly
// X nano-tokens per elapsed nanosecond. Fixed-point arithmetic avoids float
// rounding drift in long-lived buckets.
const nanosPerToken int64 = int64(time.Second)

// TokenBucket refills at an integer tokens/sec rate against an injected
// Clock. The zero rate or capacity never grants tokens.
type TokenBucket struct {
	mu sync.Mutex

	clock    Clock
	capacity int64 // tokens
	fillRate int64 // tokens/sec

	available int64 // nano-tokens
	last      time.Time
}

func NewTokenBucket(clock Clock, capacity, fillRate int64) *TokenBucket {
	if clock == nil {
		clock = RealClock{}
	}
	if capacity < 0 {
		capacity = 0
	}
	if fillRate < 0 {
		fillRate = 0
	}
	return &TokenBucket{
		clock:     clock,
		capacity:  capacity,
		fillRate:  fillRate,
		available: capacity * nanosPerToken,
		last:      clock.Now(),
	}
}

// Allow consumes tokens if available. tokens <= 0 always succeeds.
func (b *TokenBucket) Allow(tokens int64) bool {
	if tokens <= 0 {
		return true
	}
	cost := tokens * nanosPerToken

	b.mu.Lock()
	defer b.mu.Unlock()

	b.refillLocked()
	if b.available < cost {
		return false
	}
	b.available -= cost
	return true
}

func (b *TokenBucket) refillLocked() {
	now := b.clock.Now()
	if now.Before(b.last) {
		// Time went backwards; move the reference point without refilling.
		b.last = now
		return
	}
	elapsed := now.Sub(b.last).Nanoseconds()
	b.last = now
	if elapsed <= 0 || b.fillRate <= 0 || b.capacity <= 0 {
		return
	}

	max := b.capacity * nanosPerToken
	need := max - b.available
	if need <= 0 {
		b.available = max
		return
	}

	// elapsed*fillRate can overflow for very long gaps; if the gap is long
	// enough to fill the bucket, clamp instead of multiplying.
	if elapsed >= need/b.fillRate {
		b.available = max
		return
	}
	b.available += elapsed * b.fillRate
}
