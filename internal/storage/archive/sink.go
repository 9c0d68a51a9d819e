// Package archive writes each batch of records as one immutable JSON object.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/JakeFAU/serialwatch/internal/crawler"
	"github.com/JakeFAU/serialwatch/internal/hash/sha256"
)

// BlobStore is the object storage the archive writes to.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}

type batch struct {
	ArchivedAt string           `json:"archived_at"`
	First      crawler.Serial   `json:"first_serial"`
	Last       crawler.Serial   `json:"last_serial"`
	Count      int              `json:"count"`
	Checksum   string           `json:"records_sha256"`
	Records    []crawler.Record `json:"records"`
}

// Sink implements crawler.RecordSink over a BlobStore. Object keys are derived
// from the batch's serial span, so re-archiving the same batch overwrites itself.
type Sink struct {
	store  BlobStore
	clock  crawler.Clock
	hasher *sha256.Hasher
	logger *zap.Logger
}

// NewSink constructs an archive sink.
func NewSink(store BlobStore, clock crawler.Clock, logger *zap.Logger) (*Sink, error) {
	if store == nil {
		return nil, errors.New("archive: blob store is required")
	}
	if clock == nil {
		return nil, errors.New("archive: clock is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sink{store: store, clock: clock, hasher: sha256.New(), logger: logger}, nil
}

// Append uploads the deduplicated batch and reports its size.
func (s *Sink) Append(ctx context.Context, records []crawler.Record) (int, error) {
	records = crawler.DedupeRecords(records)
	if len(records) == 0 {
		return 0, nil
	}
	first, last := records[0].Serial, records[0].Serial
	for _, rec := range records[1:] {
		first = min(first, rec.Serial)
		last = max(last, rec.Serial)
	}
	checksum, err := s.hasher.Records(records)
	if err != nil {
		return 0, err
	}
	now := s.clock.Now().UTC()
	body, err := json.Marshal(batch{
		ArchivedAt: now.Format("2006-01-02T15:04:05Z"),
		First:      first,
		Last:       last,
		Count:      len(records),
		Checksum:   checksum,
		Records:    records,
	})
	if err != nil {
		return 0, fmt.Errorf("marshal archive batch: %w", err)
	}
	key := ObjectKey(now.Format("2006/01/02"), first, last)
	uri, err := s.store.PutObject(ctx, key, "application/json", bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("archive batch: %w", err)
	}
	s.logger.Info("batch archived",
		zap.String("uri", uri),
		zap.Int("records", len(records)),
		zap.String("sha256", checksum),
	)
	return len(records), nil
}

// ObjectKey names the archive object for a serial span on a given day.
func ObjectKey(day string, first, last crawler.Serial) string {
	return fmt.Sprintf("%s/%d-%d.json", day, first, last)
}
