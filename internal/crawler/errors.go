package crawler

import (
	"errors"
	"fmt"
)

// Failure taxonomy for fetches and sessions. Absent is not an error.
var (
	ErrTransient       = errors.New("transient fetch failure")
	ErrRateLimited     = errors.New("rate limited by source")
	ErrBlocked         = errors.New("blocked by source")
	ErrStateRegression = errors.New("highest known serial regression")
	ErrNoFrontier      = errors.New("no frontier could be established")
	ErrInvalidRange    = errors.New("invalid serial range")
)

// FailureKind labels why a fetch gave up on a serial.
type FailureKind string

// Failure kinds reported by the fetcher.
const (
	FailureTransient   FailureKind = "transient"
	FailureRateLimited FailureKind = "rate_limited"
	FailureBlocked     FailureKind = "blocked"
)

// FetchError is returned when every retry for a serial was exhausted.
type FetchError struct {
	Serial   Serial
	Kind     FailureKind
	Attempts int
	Err      error
}

func (e *FetchError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("fetch serial %d: %s after %d attempts", e.Serial, e.Kind, e.Attempts)
	}
	return fmt.Sprintf("fetch serial %d: %s after %d attempts: %v", e.Serial, e.Kind, e.Attempts, e.Err)
}

// Unwrap exposes the kind sentinel and the last underlying cause.
func (e *FetchError) Unwrap() []error {
	errs := []error{e.Kind.sentinel()}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

func (k FailureKind) sentinel() error {
	switch k {
	case FailureRateLimited:
		return ErrRateLimited
	case FailureBlocked:
		return ErrBlocked
	default:
		return ErrTransient
	}
}

// KindOf reports the failure kind carried by err, defaulting to transient.
func KindOf(err error) FailureKind {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Kind
	}
	switch {
	case errors.Is(err, ErrBlocked):
		return FailureBlocked
	case errors.Is(err, ErrRateLimited):
		return FailureRateLimited
	default:
		return FailureTransient
	}
}
