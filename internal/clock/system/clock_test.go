// Package system exercises the real clock and pause adapters.
package system

import (
	"context"
	"errors"
	"testing"
	"time"
)

// TestClockNowUTC ensures the clock returns UTC timestamps.
func TestClockNowUTC(t *testing.T) {
	t.Parallel()

	clk := New()
	requireNotNil(t, clk)

	before := time.Now().UTC().Add(-time.Second)
	got := clk.Now()
	after := time.Now().UTC().Add(time.Second)

	if got.Location() != time.UTC {
		t.Fatalf("expected UTC location, got %v", got.Location())
	}
	if got.Before(before) || got.After(after) {
		t.Fatalf("expected %v to be between %v and %v", got, before, after)
	}
}

// TestClockNowMonotonic checks successive timestamps are non-decreasing.
func TestClockNowMonotonic(t *testing.T) {
	t.Parallel()

	clk := New()
	first := clk.Now()
	second := clk.Now()
	if second.Before(first) {
		t.Fatalf("expected second call %v to be >= first %v", second, first)
	}
}

func requireNotNil(t *testing.T, v any) {
	t.Helper()
	if v == nil {
		t.Fatal("expected value to be non-nil")
	}
}

// TestPauserWaits checks a short pause actually elapses.
func TestPauserWaits(t *testing.T) {
	t.Parallel()

	start := time.Now()
	if err := NewPauser().Pause(context.Background(), 20*time.Millisecond); err != nil {
		t.Fatalf("Pause() error = %v", err)
	}
	if time.Since(start) < 15*time.Millisecond {
		t.Fatalf("expected pause of ~20ms, got %v", time.Since(start))
	}
}

// TestPauserCanceled returns promptly once the context is canceled.
func TestPauserCanceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	start := time.Now()
	err := NewPauser().Pause(ctx, time.Hour)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Fatal("pause ignored cancellation")
	}
}

// TestPauserZeroDelay is a no-op.
func TestPauserZeroDelay(t *testing.T) {
	t.Parallel()

	if err := NewPauser().Pause(context.Background(), 0); err != nil {
		t.Fatalf("Pause(0) error = %v", err)
	}
}
