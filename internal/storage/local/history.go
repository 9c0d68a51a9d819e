package local

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/serialwatch/internal/crawler"
)

// HistoryConfig captures the parameters for the history file.
type HistoryConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

type historyFile struct {
	Records     []crawler.Record `json:"records"`
	TotalCount  int              `json:"total_count"`
	LastUpdated *time.Time       `json:"last_updated"`
}

// HistorySink is an append-only record history stored as one JSON document.
type HistorySink struct {
	mu     sync.Mutex
	path   string
	clock  crawler.Clock
	logger *zap.Logger
}

// NewHistorySink validates the target directory and returns a sink.
func NewHistorySink(cfg HistoryConfig, clock crawler.Clock, logger *zap.Logger) (*HistorySink, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("history path is required")
	}
	if clock == nil {
		return nil, errors.New("clock is required")
	}
	if err := ensureDir(filepath.Dir(cfg.Path)); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HistorySink{path: cfg.Path, clock: clock, logger: logger}, nil
}

// Append adds records whose serial is not yet in the history and returns how many were added.
func (h *HistorySink) Append(ctx context.Context, records []crawler.Record) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	doc, err := h.read()
	if err != nil {
		return 0, err
	}
	seen := make(map[crawler.Serial]struct{}, len(doc.Records))
	for _, rec := range doc.Records {
		seen[rec.Serial] = struct{}{}
	}
	added := 0
	for _, rec := range records {
		if _, dup := seen[rec.Serial]; dup {
			continue
		}
		seen[rec.Serial] = struct{}{}
		doc.Records = append(doc.Records, rec)
		added++
	}
	if added == 0 {
		h.logger.Info("history unchanged", zap.Int("total", len(doc.Records)))
		return 0, nil
	}

	now := h.clock.Now()
	doc.TotalCount = len(doc.Records)
	doc.LastUpdated = &now
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return 0, fmt.Errorf("marshal history: %w", err)
	}
	if err := writeFileAtomic(h.path, data); err != nil {
		return 0, fmt.Errorf("save history: %w", err)
	}
	h.logger.Info("history updated", zap.Int("added", added), zap.Int("total", doc.TotalCount))
	return added, nil
}

// Recent returns records scraped at or after since, in history order.
func (h *HistorySink) Recent(_ context.Context, since time.Time) ([]crawler.Record, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	doc, err := h.read()
	if err != nil {
		return nil, err
	}
	out := make([]crawler.Record, 0)
	for _, rec := range doc.Records {
		if !rec.ScrapedAt.Before(since) {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (h *HistorySink) read() (historyFile, error) {
	data, err := os.ReadFile(h.path)
	if errors.Is(err, os.ErrNotExist) {
		return historyFile{}, nil
	}
	if err != nil {
		return historyFile{}, fmt.Errorf("read history: %w", err)
	}
	var doc historyFile
	if err := json.Unmarshal(data, &doc); err != nil {
		return historyFile{}, fmt.Errorf("decode history %s: %w", h.path, err)
	}
	return doc, nil
}
