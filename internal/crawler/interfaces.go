package crawler

import (
	"context"
	"time"
)

// Fetcher retrieves and parses the document for one serial.
type Fetcher interface {
	Fetch(ctx context.Context, serial Serial) (Result, error)
}

// Parser turns a raw document into a record. ok is false when the serial has no record.
type Parser interface {
	Parse(raw []byte, serial Serial) (record Record, ok bool, err error)
}

// StateStore persists the crawl watermarks between sessions.
type StateStore interface {
	Load(ctx context.Context) (CrawlState, error)
	Save(ctx context.Context, state CrawlState) error
}

// RecordSink receives the records found by a session. Implementations dedupe by serial.
type RecordSink interface {
	Append(ctx context.Context, records []Record) (int, error)
}

// Publisher pushes completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// Pauser blocks for a delay or until the context ends.
type Pauser interface {
	Pause(ctx context.Context, delay time.Duration) error
}

// IDGenerator produces session IDs.
type IDGenerator interface {
	NewID() (string, error)
}
