// Package memory provides in-process stores for dry runs and tests.
package memory

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/serialwatch/internal/crawler"
)

// StateStore keeps the crawl state in memory.
type StateStore struct {
	mu     sync.RWMutex
	state  crawler.CrawlState
	saves  int
	logger *zap.Logger
}

// NewStateStore constructs a StateStore seeded with the default state.
func NewStateStore(seed crawler.Serial, logger *zap.Logger) *StateStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StateStore{state: crawler.DefaultState(seed), logger: logger}
}

// Load returns the current state.
func (s *StateStore) Load(_ context.Context) (crawler.CrawlState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state, nil
}

// Save stores state, never lowering the highest known serial.
func (s *StateStore) Save(ctx context.Context, state crawler.CrawlState) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	next, clamped := crawler.ClampState(s.state, state)
	if clamped {
		s.logger.Warn("refusing to lower highest known serial",
			zap.Int64("stored", int64(s.state.HighestKnownValidSerial)),
			zap.Int64("proposed", int64(state.HighestKnownValidSerial)),
			zap.Error(crawler.ErrStateRegression),
		)
	}
	s.state = next
	s.saves++
	return nil
}

// Saves reports how many times Save was called.
func (s *StateStore) Saves() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.saves
}
