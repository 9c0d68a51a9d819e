// Package locator finds the highest serial the source currently serves.
package locator

import (
	"context"
	"errors"
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/JakeFAU/serialwatch/internal/crawler"
	"github.com/JakeFAU/serialwatch/internal/metrics"
)

const (
	defaultInitialStep  = 10000
	defaultSeedFallback = 25
)

// Config tunes the search.
type Config struct {
	// InitialStep is the first exponential probe distance; it doubles after every hit.
	InitialStep int64
	// SeedFallback bounds the linear walk below an absent seed.
	SeedFallback int64
}

// Locator runs a doubling probe followed by bisection over a Fetcher.
type Locator struct {
	fetcher crawler.Fetcher
	cfg     Config
	logger  *zap.Logger
}

// New constructs a Locator. Zero config values fall back to defaults.
func New(fetcher crawler.Fetcher, cfg Config, logger *zap.Logger) (*Locator, error) {
	if fetcher == nil {
		return nil, errors.New("locator: fetcher is required")
	}
	if cfg.InitialStep <= 0 {
		cfg.InitialStep = defaultInitialStep
	}
	if cfg.SeedFallback < 0 {
		return nil, fmt.Errorf("locator: seed fallback must be >= 0, got %d", cfg.SeedFallback)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Locator{fetcher: fetcher, cfg: cfg, logger: logger}, nil
}

// Locate returns the highest present serial reachable from seed. The returned serial
// was observed present, and no later serial was observed present during the search.
func (l *Locator) Locate(ctx context.Context, seed crawler.Serial) (crawler.Serial, error) {
	if seed <= 0 {
		return 0, fmt.Errorf("%w: seed %d", crawler.ErrInvalidRange, seed)
	}
	probes := 0
	probe := func(s crawler.Serial) (bool, error) {
		probes++
		return l.present(ctx, s)
	}

	low, err := l.anchor(ctx, seed, probe)
	if err != nil {
		return 0, err
	}

	step := crawler.Serial(l.cfg.InitialStep)
	high := low
	for {
		if low > crawler.Serial(math.MaxInt64)-step {
			return 0, fmt.Errorf("%w: no absent serial above %d", crawler.ErrNoFrontier, low)
		}
		candidate := low + step
		ok, err := probe(candidate)
		if err != nil {
			return 0, err
		}
		if !ok {
			high = candidate
			break
		}
		low = candidate
		if step <= math.MaxInt64/2 {
			step *= 2
		}
	}

	for high-low > 1 {
		mid := low + (high-low)/2
		ok, err := probe(mid)
		if err != nil {
			return 0, err
		}
		if ok {
			low = mid
		} else {
			high = mid
		}
	}

	l.logger.Info("frontier located",
		zap.Int64("seed", int64(seed)),
		zap.Int64("latest", int64(low)),
		zap.Int("probes", probes),
	)
	metrics.SetFrontier(int64(low))
	return low, nil
}

// anchor finds a present serial at or just below seed.
func (l *Locator) anchor(ctx context.Context, seed crawler.Serial, probe func(crawler.Serial) (bool, error)) (crawler.Serial, error) {
	for i := int64(0); i <= l.cfg.SeedFallback; i++ {
		s := seed - crawler.Serial(i)
		if s <= 0 {
			break
		}
		ok, err := probe(s)
		if err != nil {
			return 0, err
		}
		if ok {
			if i > 0 {
				l.logger.Warn("seed absent, anchored below it",
					zap.Int64("seed", int64(seed)),
					zap.Int64("anchor", int64(s)),
				)
			}
			return s, nil
		}
	}
	return 0, fmt.Errorf("%w: nothing present within %d of seed %d", crawler.ErrNoFrontier, l.cfg.SeedFallback, seed)
}

// present treats fetch failures as absent; only the end of ctx aborts the search.
// Network timeouts also match context.DeadlineExceeded, so ctx itself is checked.
func (l *Locator) present(ctx context.Context, s crawler.Serial) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	res, err := l.fetcher.Fetch(ctx, s)
	if err != nil {
		if ctx.Err() != nil {
			return false, err
		}
		l.logger.Warn("probe failed, treating as absent",
			zap.Int64("serial", int64(s)),
			zap.String("kind", string(crawler.KindOf(err))),
			zap.Error(err),
		)
		return false, nil
	}
	l.logger.Debug("probe", zap.Int64("serial", int64(s)), zap.Stringer("outcome", res.Outcome))
	return res.Found(), nil
}
