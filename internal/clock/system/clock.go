// Package system provides the real clock and pause implementations.
package system

import (
	"context"
	"fmt"
	"time"
)

// Clock implements crawler.Clock using time.Now.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current time.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}

// Pauser implements crawler.Pauser with a timer that honours cancellation.
type Pauser struct{}

// NewPauser creates a new Pauser.
func NewPauser() *Pauser {
	return &Pauser{}
}

// Pause blocks for delay, returning early with the context error if ctx ends first.
func (Pauser) Pause(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("pause interrupted: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}
