package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/serialwatch/internal/crawler"
	"github.com/JakeFAU/serialwatch/internal/session"
	"github.com/JakeFAU/serialwatch/internal/storage/memory"
)

type fakeClock struct {
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	return f.now
}

type fakeStatus struct {
	phase   session.Phase
	last    crawler.SessionSummary
	hasLast bool
}

func (f *fakeStatus) Phase() session.Phase {
	return f.phase
}

func (f *fakeStatus) LastSession() (crawler.SessionSummary, bool) {
	return f.last, f.hasLast
}

type failingStore struct{}

func (failingStore) Load(context.Context) (crawler.CrawlState, error) {
	return crawler.CrawlState{}, errors.New("disk gone")
}

func (failingStore) Save(context.Context, crawler.CrawlState) error {
	return errors.New("disk gone")
}

type fakeRecent struct {
	mu    sync.Mutex
	since time.Time
	recs  []crawler.Record
	err   error
}

func (f *fakeRecent) Recent(_ context.Context, since time.Time) ([]crawler.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.since = since
	return f.recs, f.err
}

func newTestServer(t *testing.T, mutate func(*Options)) *Server {
	t.Helper()
	opts := Options{
		Store:  memory.NewStateStore(99530000, nil),
		Status: &fakeStatus{},
		Clock:  &fakeClock{now: time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)},
		Logger: zap.NewNop(),
	}
	if mutate != nil {
		mutate(&opts)
	}
	server, err := NewServer(opts)
	require.NoError(t, err)
	return server
}

func do(t *testing.T, server *Server, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestNewServerValidation(t *testing.T) {
	t.Parallel()

	_, err := NewServer(Options{})
	require.Error(t, err)
}

func TestServer_Healthz(t *testing.T) {
	t.Parallel()

	rec := do(t, newTestServer(t, nil), http.MethodGet, "/healthz")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode(t, rec)["status"])
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestServer_Readyz(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		store crawler.StateStore
		code  int
	}{
		{name: "ready", store: memory.NewStateStore(1, nil), code: http.StatusOK},
		{name: "store down", store: failingStore{}, code: http.StatusServiceUnavailable},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			server := newTestServer(t, func(o *Options) { o.Store = tc.store })
			rec := do(t, server, http.MethodGet, "/readyz")
			require.Equal(t, tc.code, rec.Code)
		})
	}
}

func TestServer_GetState(t *testing.T) {
	t.Parallel()

	store := memory.NewStateStore(1, nil)
	require.NoError(t, store.Save(context.Background(), crawler.CrawlState{
		LastConfirmedSerial:     99530150,
		HighestKnownValidSerial: 99530160,
	}))
	server := newTestServer(t, func(o *Options) { o.Store = store })

	rec := do(t, server, http.MethodGet, "/v1/state")

	require.Equal(t, http.StatusOK, rec.Code)
	var state crawler.CrawlState
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &state))
	assert.Equal(t, crawler.Serial(99530150), state.LastConfirmedSerial)
	assert.Equal(t, crawler.Serial(99530160), state.HighestKnownValidSerial)
}

func TestServer_GetStateError(t *testing.T) {
	t.Parallel()

	server := newTestServer(t, func(o *Options) { o.Store = failingStore{} })
	rec := do(t, server, http.MethodGet, "/v1/state")
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestServer_GetStatus(t *testing.T) {
	t.Parallel()

	server := newTestServer(t, func(o *Options) {
		o.Status = &fakeStatus{phase: session.PhaseScanning}
	})
	rec := do(t, server, http.MethodGet, "/v1/status")

	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "scanning", body["phase"])
	assert.Equal(t, true, body["running"])
}

func TestServer_GetLastSession(t *testing.T) {
	t.Parallel()

	t.Run("none yet", func(t *testing.T) {
		t.Parallel()
		rec := do(t, newTestServer(t, nil), http.MethodGet, "/v1/sessions/last")
		require.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("finished", func(t *testing.T) {
		t.Parallel()
		status := &fakeStatus{hasLast: true, last: crawler.SessionSummary{
			ID:                   "sess-1",
			Mode:                 crawler.ModeCatchUp,
			Found:                4,
			FinalConfirmedSerial: 540,
		}}
		server := newTestServer(t, func(o *Options) { o.Status = status })
		rec := do(t, server, http.MethodGet, "/v1/sessions/last")

		require.Equal(t, http.StatusOK, rec.Code)
		var summary crawler.SessionSummary
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
		assert.Equal(t, status.last, summary)
	})
}

func TestServer_TriggerSession(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		trigger func() bool
		code    int
	}{
		{name: "disabled", code: http.StatusNotImplemented},
		{name: "started", trigger: func() bool { return true }, code: http.StatusAccepted},
		{name: "already running", trigger: func() bool { return false }, code: http.StatusConflict},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			server := newTestServer(t, func(o *Options) { o.Trigger = tc.trigger })
			rec := do(t, server, http.MethodPost, "/v1/sessions")
			require.Equal(t, tc.code, rec.Code)
		})
	}
}

func TestServer_RecentRecords(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	lister := &fakeRecent{recs: []crawler.Record{{Serial: 99530101, Title: "ACME"}}}
	server := newTestServer(t, func(o *Options) { o.Recent = lister })

	rec := do(t, server, http.MethodGet, "/v1/records/recent?days=3")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, decode(t, rec)["count"])
	assert.Equal(t, now.AddDate(0, 0, -3), lister.since)
}

func TestServer_RecentRecordsErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		lister RecentLister
		target string
		code   int
	}{
		{name: "unsupported", target: "/v1/records/recent", code: http.StatusNotImplemented},
		{name: "bad days", lister: &fakeRecent{}, target: "/v1/records/recent?days=abc", code: http.StatusBadRequest},
		{name: "too many days", lister: &fakeRecent{}, target: "/v1/records/recent?days=365", code: http.StatusBadRequest},
		{name: "lister error", lister: &fakeRecent{err: errors.New("boom")}, target: "/v1/records/recent", code: http.StatusInternalServerError},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			server := newTestServer(t, func(o *Options) { o.Recent = tc.lister })
			rec := do(t, server, http.MethodGet, tc.target)
			require.Equal(t, tc.code, rec.Code)
		})
	}
}

func TestServer_Metrics(t *testing.T) {
	t.Parallel()

	rec := do(t, newTestServer(t, nil), http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
}
