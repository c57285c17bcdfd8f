package gateway

import (
	"context"
	"math"
	"sync"
	"time"
)

// RateLimit configures per-client request throttling.
type RateLimit struct {
	PerSecond float64       // sustained requests per second
	Burst     int           // bucket size; 0 means twice PerSecond, at least 1
	Idle      time.Duration // clients quiet this long are forgotten
}

type bucket struct {
	tokens float64
	seen   time.Time
}

// RateLimiter keeps one token bucket per client address. A rejected
// request learns how long until its next token.
type RateLimiter struct {
	rate  float64
	burst float64
	idle  time.Duration
	now   func() time.Time

	mu      sync.Mutex
	buckets map[string]*bucket
}

func NewRateLimiter(cfg RateLimit) *RateLimiter {
	burst := float64(cfg.Burst)
	if burst <= 0 {
		burst = math.Max(1, math.Ceil(cfg.PerSecond*2))
	}
	return &RateLimiter{
		rate:    cfg.PerSecond,
		burst:   burst,
		idle:    cfg.Idle,
		now:     time.Now,
		buckets: make(map[string]*bucket),
	}
}

// Take spends one token for client. When none is left it reports false and
// the wait until one accrues.
func (r *RateLimiter) Take(client string) (bool, time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	b := r.buckets[client]
	if b == nil {
		b = &bucket{tokens: r.burst, seen: now}
		r.buckets[client] = b
	}
	if elapsed := now.Sub(b.seen); elapsed > 0 {
		b.tokens = math.Min(r.burst, b.tokens+elapsed.Seconds()*r.rate)
	}
	b.seen = now

	if b.tokens >= 1 {
		b.tokens--
		return true, 0
	}
	deficit := 1 - b.tokens
	return false, time.Duration(deficit / r.rate * float64(time.Second))
}

// Run forgets idle clients every interval until ctx is done.
func (r *RateLimiter) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.forgetIdle()
		case <-ctx.Done():
			return
		}
	}
}

// forgetIdle drops clients whose last request is older than the idle
// window. A client that comes back starts with a full bucket.
func (r *RateLimiter) forgetIdle() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.idle <= 0 {
		return 0
	}
	cutoff := r.now().Add(-r.idle)
	n := 0
	for client, b := range r.buckets {
		if b.seen.Before(cutoff) {
			delete(r.buckets, client)
			n++
		}
	}
	return n
}

func (r *RateLimiter) clients() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.buckets)
}

// retryAfterSeconds rounds a wait up to whole seconds for the Retry-After
// header, never below 1.
func retryAfterSeconds(wait time.Duration) int64 {
	s := int64(math.Ceil(wait.Seconds()))
	if s < 1 {
		return 1
	}
	return s
}
