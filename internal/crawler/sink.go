package crawler

import (
	"context"
	"fmt"
)

// MultiSink fans a batch out to several sinks. The first sink is the system of
// record and its added count is returned; the rest are archives.
type MultiSink struct {
	sinks []RecordSink
}

// NewMultiSink builds a fan-out sink, skipping nil entries.
func NewMultiSink(sinks ...RecordSink) *MultiSink {
	out := make([]RecordSink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return &MultiSink{sinks: out}
}

// Append writes records to every sink in order and stops at the first failure.
func (m *MultiSink) Append(ctx context.Context, records []Record) (int, error) {
	added := 0
	for i, s := range m.sinks {
		n, err := s.Append(ctx, records)
		if err != nil {
			return added, fmt.Errorf("sink %d: %w", i, err)
		}
		if i == 0 {
			added = n
		}
	}
	return added, nil
}

// DedupeRecords drops repeated serials, keeping the first occurrence.
func DedupeRecords(records []Record) []Record {
	seen := make(map[Serial]struct{}, len(records))
	out := make([]Record, 0, len(records))
	for _, rec := range records {
		if _, ok := seen[rec.Serial]; ok {
			continue
		}
		seen[rec.Serial] = struct{}{}
		out = append(out, rec)
	}
	return out
}
