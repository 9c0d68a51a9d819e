// Package scanner walks a closed serial interval one serial at a time.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/serialwatch/internal/crawler"
	"github.com/JakeFAU/serialwatch/internal/metrics"
)

const defaultProgressEvery = 10

// Config controls progress reporting.
type Config struct {
	ProgressEvery int
}

// Scanner issues every fetch through a single Fetcher, in ascending order.
type Scanner struct {
	fetcher crawler.Fetcher
	clock   crawler.Clock
	cfg     Config
	logger  *zap.Logger
}

// New constructs a Scanner.
func New(fetcher crawler.Fetcher, clock crawler.Clock, cfg Config, logger *zap.Logger) (*Scanner, error) {
	if fetcher == nil {
		return nil, errors.New("scanner: fetcher is required")
	}
	if clock == nil {
		return nil, errors.New("scanner: clock is required")
	}
	if cfg.ProgressEvery <= 0 {
		cfg.ProgressEvery = defaultProgressEvery
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scanner{fetcher: fetcher, clock: clock, cfg: cfg, logger: logger}, nil
}

// Scan fetches every serial in [start, end]. A failed serial is recorded in
// Skipped and the walk continues. Cancellation is checked between serials; the
// partial result is returned alongside the context error, and LastAttempted
// only covers serials whose fetch completed.
func (s *Scanner) Scan(ctx context.Context, start, end crawler.Serial) (crawler.ScanResult, error) {
	res := crawler.ScanResult{Start: start, End: end, LastAttempted: start - 1}
	if start <= 0 || start > end {
		return res, fmt.Errorf("%w: [%d, %d]", crawler.ErrInvalidRange, start, end)
	}

	began := s.clock.Now()
	total := int64(end-start) + 1
	s.logger.Info("scan started",
		zap.Int64("start", int64(start)),
		zap.Int64("end", int64(end)),
		zap.Int64("total", total),
	)

	for serial := start; serial <= end; serial++ {
		if err := ctx.Err(); err != nil {
			res.Elapsed = s.clock.Now().Sub(began)
			return res, err
		}

		result, err := s.fetcher.Fetch(ctx, serial)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				res.Elapsed = s.clock.Now().Sub(began)
				return res, ctxErr
			}
			res.Skipped = append(res.Skipped, serial)
			metrics.ObserveSerial("skipped")
			s.logger.Warn("serial skipped",
				zap.Int64("serial", int64(serial)),
				zap.String("kind", string(crawler.KindOf(err))),
				zap.Error(err),
			)
		} else {
			metrics.ObserveSerial(result.Outcome.String())
			if result.Found() {
				res.Records = append(res.Records, result.Record)
				s.logger.Info("record found",
					zap.Int64("serial", int64(serial)),
					zap.String("title", result.Record.Title),
				)
			} else {
				s.logger.Debug("serial absent", zap.Int64("serial", int64(serial)))
			}
		}
		res.LastAttempted = serial
		res.Attempted++

		if res.Attempted%s.cfg.ProgressEvery == 0 {
			s.reportProgress(res, total, began)
		}
	}

	res.Elapsed = s.clock.Now().Sub(began)
	s.logger.Info("scan finished",
		zap.Int("attempted", res.Attempted),
		zap.Int("found", len(res.Records)),
		zap.Int("skipped", len(res.Skipped)),
		zap.Duration("elapsed", res.Elapsed),
	)
	return res, nil
}

func (s *Scanner) reportProgress(res crawler.ScanResult, total int64, began time.Time) {
	elapsed := s.clock.Now().Sub(began)
	rate := 0.0
	if secs := elapsed.Seconds(); secs > 0 {
		rate = float64(res.Attempted) / secs
	}
	metrics.SetScanRate(rate)
	s.logger.Info("scan progress",
		zap.Int("attempted", res.Attempted),
		zap.Int64("total", total),
		zap.Int("found", len(res.Records)),
		zap.Int("skipped", len(res.Skipped)),
		zap.Duration("elapsed", elapsed),
		zap.Float64("serials_per_sec", rate),
	)
}
