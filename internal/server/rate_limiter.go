package server

import (
	"sync"
	"time"
)

// tokenBucket throttles the inbound frames of one connection.
type tokenBucket struct {
	mu       sync.Mutex
	tokens   float64
	capacity float64
	rate     float64
	last     time.Time
	now      func() time.Time
}

func newTokenBucket(cfg RateLimitConfig) *tokenBucket {
	return newTokenBucketWithClock(cfg, time.Now)
}

func newTokenBucketWithClock(cfg RateLimitConfig, now func() time.Time) *tokenBucket {
	capacity := cfg.Burst
	if capacity <= 0 {
		capacity = 1
	}
	interval := cfg.RefillInterval
	if interval <= 0 {
		interval = time.Second
	}

	return &tokenBucket{
		tokens:   float64(capacity),
		capacity: float64(capacity),
		rate:     float64(capacity) / interval.Seconds(),
		last:     now(),
		now:      now,
	}
}

// allow takes one token and reports whether one was available.
func (b *tokenBucket) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	if elapsed := now.Sub(b.last).Seconds(); elapsed > 0 {
		b.tokens += elapsed * b.rate
		if b.tokens > b.capacity {
			b.tokens = b.capacity
		}
	}
	b.last = now

	if b.tokens < 1 {
		return false
	}

	b.tokens--
	return true
}
