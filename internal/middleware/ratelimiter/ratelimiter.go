// Package ratelimiter implements a token-bucket limiter keyed by an
// arbitrary client identity (IP, email), with idle buckets expiring to
// keep the map bounded.
package ratelimiter

import (
	"sync"
	"time"
)

type bucket struct {
	tokens     float64
	capacity   float64
	rate       float64
	lastRefill time.Time
	mu         sync.Mutex
	timer      *time.Timer
	identity   string
	parent     *UserRateLimiter
}

// UserRateLimiter manages one bucket per identity.
type UserRateLimiter struct {
	limiters       map[string]*bucket
	mu             sync.RWMutex
	rate           float64
	capacity       float64
	expirationTime time.Duration
}

// New creates a limiter refilling rate tokens per second up to capacity;
// a bucket idle for expirationTime is dropped.
func New(rate, capacity float64, expirationTime time.Duration) *UserRateLimiter {
	return &UserRateLimiter{
		limiters:       make(map[string]*bucket),
		rate:           rate,
		capacity:       capacity,
		expirationTime: expirationTime,
	}
}

// Allow reports whether a request from the given identity may proceed.
func (u *UserRateLimiter) Allow(identity string) bool {
	return u.getBucket(identity).allow()
}

// Stop cleans up all expiration timers.
func (u *UserRateLimiter) Stop() {
	u.mu.Lock()
	defer u.mu.Unlock()

	for _, b := range u.limiters {
		if b.timer != nil {
			b.timer.Stop()
		}
	}
}

func (u *UserRateLimiter) cleanup(identity string) {
	u.mu.Lock()
	delete(u.limiters, identity)
	u.mu.Unlock()
}

func (u *UserRateLimiter) getBucket(identity string) *bucket {
	u.mu.RLock()
	b, exists := u.limiters[identity]
	u.mu.RUnlock()

	if exists {
		b.resetTimer()
		return b
	}

	u.mu.Lock()
	defer u.mu.Unlock()

	// double-check after acquiring write lock
	b, exists = u.limiters[identity]
	if exists {
		b.resetTimer()
		return b
	}

	b = &bucket{
		tokens:     u.capacity,
		capacity:   u.capacity,
		rate:       u.rate,
		lastRefill: time.Now(),
		identity:   identity,
		parent:     u,
	}
	u.limiters[identity] = b
	b.resetTimer()

	return b
}

func (b *bucket) resetTimer() {
	if b.timer != nil {
		b.timer.Stop()
	}
	b.timer = time.AfterFunc(b.parent.expirationTime, func() {
		b.parent.cleanup(b.identity)
	})
}

func (b *bucket) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(b.lastRefill).Seconds()

	b.tokens += elapsed * b.rate
	if b.tokens > b.capacity {
		b.tokens = b.capacity
	}
	b.lastRefill = now

	if b.tokens >= 1 {
		b.tokens--
		return true
	}
	return false
}
