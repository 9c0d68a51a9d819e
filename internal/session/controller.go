// Package session runs one incremental crawl pass: load state, locate the
// frontier, scan the new range, and persist records and watermarks.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/serialwatch/internal/crawler"
	"github.com/JakeFAU/serialwatch/internal/metrics"
	"github.com/JakeFAU/serialwatch/internal/telemetry"
)

const (
	defaultBootstrapWindow = 200
	defaultCatchUpCeiling  = 2000
	persistTimeout         = 30 * time.Second
)

// Locator finds the current frontier.
type Locator interface {
	Locate(ctx context.Context, seed crawler.Serial) (crawler.Serial, error)
}

// Scanner walks a closed serial range.
type Scanner interface {
	Scan(ctx context.Context, start, end crawler.Serial) (crawler.ScanResult, error)
}

// Recorder keeps a log of finished sessions. errMsg is empty on success.
type Recorder interface {
	RecordSession(ctx context.Context, summary crawler.SessionSummary, errMsg string) error
}

// Config controls range selection and event publishing.
type Config struct {
	// BootstrapWindow is how many serials below the frontier a first session scans.
	BootstrapWindow int64
	// CatchUpCeiling caps the serials scanned by one catch-up session.
	CatchUpCeiling int64
	// Topic receives the session summary when a publisher is configured.
	Topic string
}

// Dependencies are the collaborators of a Controller. Sink, Publisher, and
// Recorder are optional.
type Dependencies struct {
	Store     crawler.StateStore
	Locator   Locator
	Scanner   Scanner
	Sink      crawler.RecordSink
	Publisher crawler.Publisher
	Recorder  Recorder
	IDs       crawler.IDGenerator
	Clock     crawler.Clock
}

// Controller runs sessions one at a time.
type Controller struct {
	deps   Dependencies
	cfg    Config
	logger *zap.Logger

	run   sync.Mutex
	phase atomic.Int32
	last  atomic.Pointer[crawler.SessionSummary]
}

// New validates deps and constructs a Controller.
func New(deps Dependencies, cfg Config, logger *zap.Logger) (*Controller, error) {
	switch {
	case deps.Store == nil:
		return nil, errors.New("session: state store is required")
	case deps.Locator == nil:
		return nil, errors.New("session: locator is required")
	case deps.Scanner == nil:
		return nil, errors.New("session: scanner is required")
	case deps.IDs == nil:
		return nil, errors.New("session: id generator is required")
	case deps.Clock == nil:
		return nil, errors.New("session: clock is required")
	}
	if cfg.BootstrapWindow < 0 || cfg.CatchUpCeiling < 0 {
		return nil, errors.New("session: window and ceiling must be >= 0")
	}
	if cfg.BootstrapWindow == 0 {
		cfg.BootstrapWindow = defaultBootstrapWindow
	}
	if cfg.CatchUpCeiling == 0 {
		cfg.CatchUpCeiling = defaultCatchUpCeiling
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{deps: deps, cfg: cfg, logger: logger}, nil
}

// Phase reports where the running session is, or PhaseIdle.
func (c *Controller) Phase() Phase {
	return Phase(c.phase.Load())
}

// LastSession returns the summary of the most recent finished session.
func (c *Controller) LastSession() (crawler.SessionSummary, bool) {
	s := c.last.Load()
	if s == nil {
		return crawler.SessionSummary{}, false
	}
	return *s, true
}

// RunSession performs one pass. A locator or state store failure aborts the
// session before any state is written. If ctx ends mid-scan, progress up to the
// last attempted serial is persisted and ctx.Err() is returned with the result.
func (c *Controller) RunSession(ctx context.Context) (crawler.SessionResult, error) {
	c.run.Lock()
	defer c.run.Unlock()
	defer c.setPhase(PhaseIdle)

	id, err := c.deps.IDs.NewID()
	if err != nil {
		return crawler.SessionResult{}, fmt.Errorf("session id: %w", err)
	}
	ctx, span := telemetry.Tracer().Start(ctx, "session.run", trace.WithAttributes(attribute.String("session.id", id)))
	defer span.End()
	res := crawler.SessionResult{ID: id, StartedAt: c.deps.Clock.Now(), NewlyFound: []crawler.Record{}}
	logger := c.logger.With(zap.String("session_id", id))

	prev, err := c.deps.Store.Load(ctx)
	if err != nil {
		return c.abort(ctx, logger, res, fmt.Errorf("load state: %w", err))
	}

	seed := max(prev.HighestKnownValidSerial, prev.LastConfirmedSerial)
	if prev.Bootstrapped() {
		c.setPhase(PhaseCatchingUp)
		res.Mode = crawler.ModeCatchUp
	} else {
		c.setPhase(PhaseBootstrapping)
		res.Mode = crawler.ModeBootstrap
	}

	lctx, lspan := telemetry.Tracer().Start(ctx, "session.locate", trace.WithAttributes(attribute.Int64("seed", int64(seed))))
	latest, err := c.deps.Locator.Locate(lctx, seed)
	lspan.End()
	if err != nil {
		return c.abort(ctx, logger, res, fmt.Errorf("locate frontier: %w", err))
	}
	res.LatestSerial = latest

	start, end, deferred, scan := c.plan(prev, latest)
	if !scan {
		res.Mode = crawler.ModeNoop
		res.FinalConfirmedSerial = prev.LastConfirmedSerial
		next := crawler.CrawlState{
			LastConfirmedSerial:     prev.LastConfirmedSerial,
			HighestKnownValidSerial: max(prev.HighestKnownValidSerial, latest),
			LastScanTimestamp:       c.deps.Clock.Now(),
		}
		if err := c.persist(ctx, nil, next); err != nil {
			return c.abort(ctx, logger, res, err)
		}
		logger.Info("nothing new since last session",
			zap.Int64("latest", int64(latest)),
			zap.Int64("last_confirmed", int64(prev.LastConfirmedSerial)),
		)
		return c.finish(ctx, logger, res, nil)
	}

	res.ScanStart, res.ScanEnd, res.Deferred = start, end, deferred
	if deferred > 0 {
		logger.Warn("catch-up gap exceeds ceiling, older serials deferred",
			zap.Int64("deferred_from", int64(prev.LastConfirmedSerial)+1),
			zap.Int64("deferred_to", int64(start)-1),
			zap.Int64("deferred", deferred),
		)
	}

	c.setPhase(PhaseScanning)
	sctx, sspan := telemetry.Tracer().Start(ctx, "session.scan", trace.WithAttributes(
		attribute.Int64("scan.start", int64(start)),
		attribute.Int64("scan.end", int64(end)),
	))
	scanned, scanErr := c.deps.Scanner.Scan(sctx, start, end)
	sspan.End()
	interrupted := scanErr != nil && ctx.Err() != nil
	if scanErr != nil && !interrupted {
		return c.abort(ctx, logger, res, fmt.Errorf("scan: %w", scanErr))
	}
	res.Interrupted = interrupted
	res.NewlyFound = append(res.NewlyFound, scanned.Records...)
	res.Skipped = scanned.Skipped

	highest := max(prev.HighestKnownValidSerial, latest)
	for _, rec := range scanned.Records {
		highest = max(highest, rec.Serial)
	}
	confirmed := max(prev.LastConfirmedSerial, scanned.LastAttempted)
	next := crawler.CrawlState{
		LastConfirmedSerial:     confirmed,
		HighestKnownValidSerial: highest,
		LastScanTimestamp:       c.deps.Clock.Now(),
	}
	c.setPhase(PhasePersisting)
	if err := c.persist(ctx, scanned.Records, next); err != nil {
		return c.abort(ctx, logger, res, err)
	}
	res.FinalConfirmedSerial = confirmed

	if interrupted {
		return c.finish(ctx, logger, res, scanErr)
	}
	return c.finish(ctx, logger, res, nil)
}

// plan picks the scan range. scan is false when there is nothing new.
func (c *Controller) plan(prev crawler.CrawlState, latest crawler.Serial) (start, end crawler.Serial, deferred int64, scan bool) {
	if !prev.Bootstrapped() {
		start = max(1, latest-crawler.Serial(c.cfg.BootstrapWindow))
		return start, latest, 0, true
	}
	gap := int64(latest - prev.LastConfirmedSerial)
	if gap <= 0 {
		return 0, 0, 0, false
	}
	start = prev.LastConfirmedSerial + 1
	if gap > c.cfg.CatchUpCeiling {
		start = latest - crawler.Serial(c.cfg.CatchUpCeiling) + 1
		deferred = gap - c.cfg.CatchUpCeiling
	}
	return start, latest, deferred, true
}

// persist writes records before state, so a sink failure leaves the watermark
// where it was and the serials are scanned again next time. It outlives ctx so
// an interrupted session still records its progress.
func (c *Controller) persist(ctx context.Context, records []crawler.Record, next crawler.CrawlState) error {
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	if len(records) > 0 && c.deps.Sink != nil {
		added, err := c.deps.Sink.Append(pctx, records)
		if err != nil {
			return fmt.Errorf("append records: %w", err)
		}
		c.logger.Info("records stored", zap.Int("batch", len(records)), zap.Int("added", added))
	}
	if err := c.deps.Store.Save(pctx, next); err != nil {
		return fmt.Errorf("save state: %w", err)
	}
	metrics.SetWatermark(int64(next.LastConfirmedSerial))
	return nil
}

func (c *Controller) abort(ctx context.Context, logger *zap.Logger, res crawler.SessionResult, err error) (crawler.SessionResult, error) {
	res.FinishedAt = c.deps.Clock.Now()
	mode := string(res.Mode)
	if mode == "" {
		mode = "unknown"
	}
	metrics.ObserveSession(mode, "failed")
	span := trace.SpanFromContext(ctx)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	logger.Error("session aborted, state unchanged", zap.String("mode", mode), zap.Error(err))
	c.record(ctx, logger, res.Summary(), err.Error())
	return res, err
}

func (c *Controller) finish(ctx context.Context, logger *zap.Logger, res crawler.SessionResult, err error) (crawler.SessionResult, error) {
	res.FinishedAt = c.deps.Clock.Now()
	summary := res.Summary()
	status := "succeeded"
	if res.Interrupted {
		status = "interrupted"
	}
	metrics.ObserveSession(string(res.Mode), status)
	trace.SpanFromContext(ctx).SetAttributes(
		attribute.String("session.mode", string(res.Mode)),
		attribute.String("session.status", status),
		attribute.Int64("session.latest", int64(res.LatestSerial)),
		attribute.Int("session.found", summary.Found),
		attribute.Int64("session.final_confirmed", int64(res.FinalConfirmedSerial)),
	)
	logger.Info("session finished",
		zap.String("mode", string(res.Mode)),
		zap.String("status", status),
		zap.Int64("latest", int64(res.LatestSerial)),
		zap.Int64("scan_start", int64(res.ScanStart)),
		zap.Int64("scan_end", int64(res.ScanEnd)),
		zap.Int("found", summary.Found),
		zap.Int("skipped", summary.Skipped),
		zap.Int64("deferred", res.Deferred),
		zap.Int64("final_confirmed", int64(res.FinalConfirmedSerial)),
		zap.Duration("elapsed", res.FinishedAt.Sub(res.StartedAt)),
	)
	c.last.Store(&summary)

	errMsg := ""
	if err != nil {
		errMsg = err.Error()
	}
	c.record(ctx, logger, summary, errMsg)
	c.publish(ctx, logger, summary)
	return res, err
}

// record and publish are best effort; the session outcome does not depend on them.
func (c *Controller) record(ctx context.Context, logger *zap.Logger, summary crawler.SessionSummary, errMsg string) {
	if c.deps.Recorder == nil {
		return
	}
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	if err := c.deps.Recorder.RecordSession(rctx, summary, errMsg); err != nil {
		logger.Warn("record session failed", zap.Error(err))
	}
}

func (c *Controller) publish(ctx context.Context, logger *zap.Logger, summary crawler.SessionSummary) {
	if c.deps.Publisher == nil || c.cfg.Topic == "" {
		return
	}
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	msgID, err := c.deps.Publisher.Publish(pctx, c.cfg.Topic, summary)
	if err != nil {
		logger.Warn("publish session summary failed", zap.String("topic", c.cfg.Topic), zap.Error(err))
		return
	}
	logger.Debug("session summary published", zap.String("message_id", msgID))
}

func (c *Controller) setPhase(p Phase) {
	c.phase.Store(int32(p))
}
