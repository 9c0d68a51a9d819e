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

	"go.uber.org/zap"

	"github.com/JakeFAU/serialwatch/internal/crawler"
)

// StateConfig captures the parameters for the file-backed state store.
type StateConfig struct {
	// Path is the JSON state file.
	Path string `mapstructure:"path" yaml:"path"`
	// Seed is the highest known serial assumed before anything is persisted.
	Seed crawler.Serial `mapstructure:"seed" yaml:"seed"`
}

// StateStore keeps the crawl state in a single human-readable JSON file.
type StateStore struct {
	mu     sync.Mutex
	path   string
	seed   crawler.Serial
	logger *zap.Logger
}

// NewStateStore validates the target directory and returns a store.
func NewStateStore(cfg StateConfig, logger *zap.Logger) (*StateStore, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("state path is required")
	}
	if err := ensureDir(filepath.Dir(cfg.Path)); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StateStore{path: cfg.Path, seed: cfg.Seed, logger: logger}, nil
}

// Load returns the persisted state, or the seeded default when no file exists yet.
func (s *StateStore) Load(_ context.Context) (crawler.CrawlState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read()
}

// Save clamps a regressing highest serial to the stored value, then replaces the file atomically.
func (s *StateStore) Save(ctx context.Context, state crawler.CrawlState) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, err := s.read()
	if err != nil {
		return err
	}
	next, clamped := crawler.ClampState(prev, state)
	if clamped {
		s.logger.Warn("refusing to lower highest known serial",
			zap.Int64("stored", int64(prev.HighestKnownValidSerial)),
			zap.Int64("proposed", int64(state.HighestKnownValidSerial)),
			zap.Error(crawler.ErrStateRegression),
		)
	}

	data, err := json.MarshalIndent(next, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	if err := writeFileAtomic(s.path, append(data, '\n')); err != nil {
		return fmt.Errorf("save state: %w", err)
	}
	return nil
}

func (s *StateStore) read() (crawler.CrawlState, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return crawler.DefaultState(s.seed), nil
	}
	if err != nil {
		return crawler.CrawlState{}, fmt.Errorf("read state: %w", err)
	}
	var state crawler.CrawlState
	if err := json.Unmarshal(data, &state); err != nil {
		return crawler.CrawlState{}, fmt.Errorf("decode state %s: %w", s.path, err)
	}
	return state, nil
}
