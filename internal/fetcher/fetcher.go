// Package fetcher implements the per-serial document fetcher: pacing, retries,
// and session identity rotation on top of a pluggable HTTP session.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/serialwatch/internal/crawler"
	"github.com/JakeFAU/serialwatch/internal/detector"
	"github.com/JakeFAU/serialwatch/internal/metrics"
)

// SerialPlaceholder is replaced by the serial number in URL templates.
const SerialPlaceholder = "{serial}"

// Response is the raw HTTP outcome of one attempt.
type Response struct {
	URL        string
	StatusCode int
	Body       []byte
}

// Session is one identity (headers, cookies, connections) used against the source.
type Session interface {
	Get(ctx context.Context, url string) (Response, error)
	Identity() string
	Close()
}

// SessionFactory builds fresh sessions; each call must return a new identity.
type SessionFactory interface {
	NewSession() (Session, error)
}

// Waiter paces requests.
type Waiter interface {
	Wait(ctx context.Context) error
}

// Classifier turns a status/body pair into a verdict.
type Classifier interface {
	Classify(status int, body []byte) detector.Class
}

// Config controls retry behavior.
type Config struct {
	URLTemplate      string
	MaxRetries       int
	BlockedRetries   int
	RateLimitBackoff time.Duration
	TransientBackoff time.Duration
	BlockedDelay     time.Duration
}

// Fetcher implements crawler.Fetcher. It owns its rate-limit clock and session
// identity, so independent crawls must use independent instances. Fetch calls
// on one instance are serialized.
type Fetcher struct {
	mu         sync.Mutex
	cfg        Config
	factory    SessionFactory
	session    Session
	limiter    Waiter
	parser     crawler.Parser
	classifier Classifier
	pauser     crawler.Pauser
	logger     *zap.Logger
}

// New constructs a Fetcher.
func New(
	cfg Config,
	factory SessionFactory,
	limiter Waiter,
	parser crawler.Parser,
	classifier Classifier,
	pauser crawler.Pauser,
	logger *zap.Logger,
) (*Fetcher, error) {
	if factory == nil {
		return nil, errors.New("session factory is required")
	}
	if limiter == nil {
		return nil, errors.New("limiter is required")
	}
	if parser == nil {
		return nil, errors.New("parser is required")
	}
	if pauser == nil {
		return nil, errors.New("pauser is required")
	}
	if !strings.Contains(cfg.URLTemplate, SerialPlaceholder) {
		return nil, fmt.Errorf("url template must contain %s", SerialPlaceholder)
	}
	if cfg.MaxRetries < 0 || cfg.BlockedRetries < 0 {
		return nil, errors.New("retry ceilings must be >= 0")
	}
	if classifier == nil {
		classifier = detector.NewClassifier(nil)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{
		cfg:        cfg,
		factory:    factory,
		limiter:    limiter,
		parser:     parser,
		classifier: classifier,
		pauser:     pauser,
		logger:     logger,
	}, nil
}

// URL renders the document URL for serial.
func (f *Fetcher) URL(serial crawler.Serial) string {
	return strings.ReplaceAll(f.cfg.URLTemplate, SerialPlaceholder, serial.String())
}

// Fetch retrieves and parses one serial. Absent serials are a normal result;
// errors are returned only once the retry ceilings are exhausted or ctx ends.
func (f *Fetcher) Fetch(ctx context.Context, serial crawler.Serial) (crawler.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	url := f.URL(serial)
	var (
		retries  int
		blocked  int
		attempts int
		lastErr  error
	)
	for {
		if err := ctx.Err(); err != nil {
			return crawler.Result{}, fmt.Errorf("fetch serial %d: %w", serial, err)
		}
		session, err := f.currentSession()
		if err != nil {
			return crawler.Result{}, &crawler.FetchError{
				Serial: serial, Kind: crawler.FailureTransient, Attempts: attempts, Err: err,
			}
		}
		if err := f.limiter.Wait(ctx); err != nil {
			return crawler.Result{}, fmt.Errorf("fetch serial %d: %w", serial, err)
		}
		attempts++

		resp, err := session.Get(ctx, url)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return crawler.Result{}, fmt.Errorf("fetch serial %d: %w", serial, ctxErr)
			}
			metrics.ObserveFetchAttempt(string(crawler.FailureTransient))
			lastErr = err
			if retries >= f.cfg.MaxRetries {
				return crawler.Result{}, &crawler.FetchError{
					Serial: serial, Kind: crawler.FailureTransient, Attempts: attempts, Err: lastErr,
				}
			}
			wait := time.Duration(retries+1) * f.cfg.TransientBackoff
			f.logger.Warn("fetch failed, retrying",
				zap.Int64("serial", int64(serial)),
				zap.Int("attempt", attempts),
				zap.Duration("backoff", wait),
				zap.Error(err),
			)
			retries++
			if err := f.pauser.Pause(ctx, wait); err != nil {
				return crawler.Result{}, fmt.Errorf("fetch serial %d: %w", serial, err)
			}
			continue
		}

		class := f.classifier.Classify(resp.StatusCode, resp.Body)
		metrics.ObserveFetchAttempt(string(class))
		switch class {
		case detector.ClassRateLimited, detector.ClassServerError:
			kind := crawler.FailureRateLimited
			backoff := f.cfg.RateLimitBackoff
			if class == detector.ClassServerError {
				kind = crawler.FailureTransient
				backoff = f.cfg.TransientBackoff
			}
			lastErr = fmt.Errorf("http status %d", resp.StatusCode)
			if retries >= f.cfg.MaxRetries {
				return crawler.Result{}, &crawler.FetchError{
					Serial: serial, Kind: kind, Attempts: attempts, Err: lastErr,
				}
			}
			wait := time.Duration(retries+1) * backoff
			f.logger.Warn("source throttled request, backing off",
				zap.Int64("serial", int64(serial)),
				zap.Int("status", resp.StatusCode),
				zap.Duration("backoff", wait),
			)
			retries++
			if err := f.pauser.Pause(ctx, wait); err != nil {
				return crawler.Result{}, fmt.Errorf("fetch serial %d: %w", serial, err)
			}

		case detector.ClassBlocked:
			// A 2xx verdict comes from body markers alone; a page that parses as a record wins.
			if resp.StatusCode >= 200 && resp.StatusCode < 300 {
				if res, err := f.parse(serial, url, resp, attempts); err == nil && res.Found() {
					f.logger.Debug("block marker inside a record page, keeping record",
						zap.Int64("serial", int64(serial)),
					)
					return res, nil
				}
			}
			lastErr = fmt.Errorf("http status %d", resp.StatusCode)
			if blocked >= f.cfg.BlockedRetries {
				return crawler.Result{}, &crawler.FetchError{
					Serial: serial, Kind: crawler.FailureBlocked, Attempts: attempts, Err: lastErr,
				}
			}
			blocked++
			f.logger.Warn("blocked by source, rotating session",
				zap.Int64("serial", int64(serial)),
				zap.Int("status", resp.StatusCode),
				zap.String("identity", session.Identity()),
				zap.Int("blocked_retry", blocked),
			)
			f.discardSession()
			if err := f.pauser.Pause(ctx, f.cfg.BlockedDelay); err != nil {
				return crawler.Result{}, fmt.Errorf("fetch serial %d: %w", serial, err)
			}

		case detector.ClassAbsent:
			f.logger.Debug("serial absent",
				zap.Int64("serial", int64(serial)),
				zap.Int("status", resp.StatusCode),
			)
			return crawler.Result{Serial: serial, Outcome: crawler.OutcomeAbsent}, nil

		default:
			return f.parse(serial, url, resp, attempts)
		}
	}
}

func (f *Fetcher) parse(serial crawler.Serial, url string, resp Response, attempts int) (crawler.Result, error) {
	record, ok, err := f.parser.Parse(resp.Body, serial)
	if err != nil {
		return crawler.Result{}, &crawler.FetchError{
			Serial: serial, Kind: crawler.FailureTransient, Attempts: attempts,
			Err: fmt.Errorf("parse document: %w", err),
		}
	}
	if !ok {
		f.logger.Debug("serial absent", zap.Int64("serial", int64(serial)))
		return crawler.Result{Serial: serial, Outcome: crawler.OutcomeAbsent}, nil
	}
	record.Serial = serial
	if record.SourceURL == "" {
		record.SourceURL = url
	}
	return crawler.Result{Serial: serial, Outcome: crawler.OutcomeFound, Record: record}, nil
}

func (f *Fetcher) currentSession() (Session, error) {
	if f.session != nil {
		return f.session, nil
	}
	session, err := f.factory.NewSession()
	if err != nil {
		return nil, fmt.Errorf("new session: %w", err)
	}
	f.logger.Debug("session created", zap.String("identity", session.Identity()))
	f.session = session
	return session, nil
}

func (f *Fetcher) discardSession() {
	if f.session == nil {
		return
	}
	f.session.Close()
	f.session = nil
	metrics.ObserveRotation()
}

// Close releases the current session.
func (f *Fetcher) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.session != nil {
		f.session.Close()
		f.session = nil
	}
}
