package memory

import (
	"context"
	"sync"
	"time"

	"github.com/JakeFAU/serialwatch/internal/crawler"
)

// RecordSink stores records in insertion order, deduplicated by serial.
type RecordSink struct {
	mu      sync.RWMutex
	records []crawler.Record
	seen    map[crawler.Serial]struct{}
}

// NewRecordSink constructs a RecordSink.
func NewRecordSink() *RecordSink {
	return &RecordSink{seen: make(map[crawler.Serial]struct{})}
}

// Append adds unseen records and returns how many were added.
func (s *RecordSink) Append(_ context.Context, records []crawler.Record) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	added := 0
	for _, rec := range records {
		if _, ok := s.seen[rec.Serial]; ok {
			continue
		}
		s.seen[rec.Serial] = struct{}{}
		s.records = append(s.records, rec)
		added++
	}
	return added, nil
}

// Records returns a copy of everything stored.
func (s *RecordSink) Records() []crawler.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]crawler.Record, len(s.records))
	copy(out, s.records)
	return out
}

// Recent returns records scraped at or after since.
func (s *RecordSink) Recent(_ context.Context, since time.Time) ([]crawler.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]crawler.Record, 0)
	for _, rec := range s.records {
		if !rec.ScrapedAt.Before(since) {
			out = append(out, rec)
		}
	}
	return out, nil
}
