// Package collyfetcher implements fetcher sessions using gocolly.
package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/serialwatch/internal/fetcher"
)

// DefaultUserAgents is the browser identity pool sessions draw from.
var DefaultUserAgents = []string{
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/121.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10.15; rv:126.0) Gecko/20100101 Firefox/126.0",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:109.0) Gecko/20100101 Firefox/115.0",
}

var defaultHeaders = http.Header{
	"Accept":          {"text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8"},
	"Accept-Language": {"en-US,en;q=0.5"},
}

// Config controls collector behavior.
type Config struct {
	UserAgents []string
	Timeout    time.Duration
	Headers    http.Header
}

// Factory builds a new colly-backed session per call, each with its own cookie
// jar, connection pool and randomly drawn user agent.
type Factory struct {
	cfg  Config
	pick func(n int) int
}

// NewFactory builds a Factory.
func NewFactory(cfg Config) *Factory {
	if len(cfg.UserAgents) == 0 {
		cfg.UserAgents = DefaultUserAgents
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	if cfg.Headers == nil {
		cfg.Headers = defaultHeaders
	}
	return &Factory{cfg: cfg, pick: rand.IntN}
}

// NewSession implements fetcher.SessionFactory.
func (f *Factory) NewSession() (fetcher.Session, error) {
	ua := f.cfg.UserAgents[f.pick(len(f.cfg.UserAgents))]
	transport := newHTTPTransport()

	c := colly.NewCollector(
		colly.Async(false),
		colly.UserAgent(ua),
		colly.AllowURLRevisit(),
	)
	// Non-2xx pages still reach OnResponse so the classifier sees 403/429 bodies.
	c.ParseHTTPErrorResponse = true
	c.WithTransport(transport)
	c.SetRequestTimeout(f.cfg.Timeout)

	return &Session{
		base:      c,
		transport: transport,
		userAgent: ua,
		headers:   f.cfg.Headers.Clone(),
	}, nil
}

// Session is one browser-like identity bound to its own connections and cookies.
type Session struct {
	base      *colly.Collector
	transport *http.Transport
	userAgent string
	headers   http.Header
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// Identity returns the session's user agent.
func (s *Session) Identity() string {
	return s.userAgent
}

// Get executes a single HTTP GET using a clone of the session collector, which
// shares the session's cookie jar and transport.
func (s *Session) Get(ctx context.Context, url string) (fetcher.Response, error) {
	var (
		result   fetcher.Response
		fetchErr error
	)
	collector := s.base.Clone()
	collector.Context = ctx
	s.configureHooks(collector, &result, &fetchErr)

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		// The request carries ctx, so Visit unwinds; wait so no hook writes after return.
		<-done
		return fetcher.Response{}, fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fetcher.Response{}, fmt.Errorf("colly visit failed: %w", err)
		}
		if fetchErr != nil {
			return fetcher.Response{}, fmt.Errorf("colly response failed: %w", fetchErr)
		}
		if result.StatusCode == 0 {
			return fetcher.Response{}, errors.New("colly fetch produced no response")
		}
		return result, nil
	}
}

func (s *Session) configureHooks(hooks collectorHooks, result *fetcher.Response, fetchErr *error) {
	hooks.OnRequest(func(r *colly.Request) {
		for key, values := range s.headers {
			for _, v := range values {
				r.Headers.Set(key, v)
			}
		}
	})

	hooks.OnResponse(func(r *colly.Response) {
		*result = fetcher.Response{
			URL:        r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Body:       append([]byte(nil), r.Body...),
		}
	})

	hooks.OnError(func(_ *colly.Response, err error) {
		if err == nil {
			err = errors.New("unknown colly error")
		}
		*fetchErr = err
	})
}

// Close drops pooled connections so the next identity starts clean.
func (s *Session) Close() {
	s.transport.CloseIdleConnections()
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          4,
		IdleConnTimeout:       90 * time.Second,
	}
}
