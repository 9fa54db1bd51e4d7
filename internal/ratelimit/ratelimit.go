// Package ratelimit throttles repeated operations per key with a fixed cooldown.
package ratelimit

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Limiter decides whether an attempt for a key may proceed.
// Implementations must be safe for concurrent use. A shared store (e.g. a
// database table) can implement it for multi-instance deployments.
type Limiter interface {
	// Allow admits the attempt, or rejects it and reports how long to wait.
	Allow(key string) (retryAfter time.Duration, ok bool)
}

// Key builds a limiter key from its parts. Each part is length-prefixed so
// parts containing separator characters cannot collide.
func Key(parts ...string) string {
	var b strings.Builder
	for _, p := range parts {
		b.WriteString(strconv.Itoa(len(p)))
		b.WriteByte(':')
		b.WriteString(p)
	}
	return b.String()
}

// Cooldown rejects attempts that arrive within a fixed window of the last
// admitted attempt for the same key.
//
// Rejected attempts leave the timer untouched, so every caller in a burst is
// told to come back at the same moment instead of pushing the boundary out.
type Cooldown struct {
	window time.Duration
	now    func() time.Time

	mu   sync.Mutex
	last map[string]time.Time
}

// Option configures a Cooldown
type Option func(*Cooldown)

// WithClock overrides the time source, used by tests
func WithClock(now func() time.Time) Option {
	return func(c *Cooldown) {
		c.now = now
	}
}

// NewCooldown creates a cooldown limiter with the given window
func NewCooldown(window time.Duration, opts ...Option) *Cooldown {
	c := &Cooldown{
		window: window,
		now:    time.Now,
		last:   make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Allow implements Limiter. The check and the timestamp update happen under one lock.
func (c *Cooldown) Allow(key string) (time.Duration, bool) {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if last, ok := c.last[key]; ok {
		if elapsed := now.Sub(last); elapsed < c.window {
			return c.window - elapsed, false
		}
	}
	c.last[key] = now
	return 0, true
}

// Prune drops entries whose window has elapsed and returns how many were removed
func (c *Cooldown) Prune() int {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key, last := range c.last {
		if now.Sub(last) >= c.window {
			delete(c.last, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked keys
func (c *Cooldown) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.last)
}

// RunJanitor prunes stale entries every interval until ctx is cancelled
func (c *Cooldown) RunJanitor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Prune()
		}
	}
}

// RetryAfterSeconds rounds a wait up to whole seconds, never below 1
func RetryAfterSeconds(d time.Duration) int {
	secs := int((d + time.Second - 1) / time.Second)
	if secs < 1 {
		return 1
	}
	return secs
}
