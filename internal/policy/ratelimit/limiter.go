// Package ratelimit enforces the minimum delay between requests issued by one fetcher.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/serialwatch/internal/metrics"
)

// Config holds rate limiter configuration.
type Config struct {
	// MinDelay is the minimum spacing between two consecutive requests. Zero disables pacing.
	MinDelay time.Duration
}

// Limiter is a single shared request clock. It is owned by exactly one fetcher
// and every attempt, successful or not, consumes a slot.
type Limiter struct {
	limiter  *rate.Limiter
	minDelay time.Duration
}

// New creates a new Limiter.
func New(cfg Config) *Limiter {
	r := rate.Inf
	if cfg.MinDelay > 0 {
		r = rate.Every(cfg.MinDelay)
	}
	return &Limiter{
		limiter:  rate.NewLimiter(r, 1),
		minDelay: cfg.MinDelay,
	}
}

// MinDelay reports the configured spacing.
func (l *Limiter) MinDelay() time.Duration {
	return l.minDelay
}

// Wait blocks until at least MinDelay has passed since the previous request.
func (l *Limiter) Wait(ctx context.Context) error {
	start := time.Now()
	if err := l.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	// Only waits that actually slept are interesting.
	if waited := time.Since(start); waited > time.Millisecond {
		metrics.ObserveRateLimitDelay(waited)
	}
	return nil
}
