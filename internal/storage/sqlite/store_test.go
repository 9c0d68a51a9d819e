package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/serialwatch/internal/crawler"
)

func openStore(t *testing.T, logger *zap.Logger) *Store {
	t.Helper()
	store, err := Open(context.Background(), Config{Path: ":memory:", Seed: 99530000}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestOpenRequiresPath(t *testing.T) {
	t.Parallel()

	_, err := Open(context.Background(), Config{}, nil)
	require.Error(t, err)
}

func TestLoadDefaultsToSeed(t *testing.T) {
	t.Parallel()

	st, err := openStore(t, nil).Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, crawler.DefaultState(99530000), st)
}

func TestSaveClampsHighestInSQL(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.WarnLevel)
	store := openStore(t, zap.New(core))
	ctx := context.Background()
	ts := time.Date(2025, 12, 4, 6, 0, 0, 123, time.UTC)

	require.NoError(t, store.Save(ctx, crawler.CrawlState{LastConfirmedSerial: 10, HighestKnownValidSerial: 50, LastScanTimestamp: ts}))
	require.NoError(t, store.Save(ctx, crawler.CrawlState{LastConfirmedSerial: 20, HighestKnownValidSerial: 30, LastScanTimestamp: ts}))

	st, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, crawler.Serial(20), st.LastConfirmedSerial)
	assert.Equal(t, crawler.Serial(50), st.HighestKnownValidSerial)
	assert.True(t, ts.Equal(st.LastScanTimestamp))
	assert.Equal(t, 1, logs.Len())
}

func TestAppendIgnoresDuplicates(t *testing.T) {
	t.Parallel()

	store := openStore(t, nil)
	ctx := context.Background()
	now := time.Date(2025, 12, 4, 6, 0, 0, 0, time.UTC)

	n, err := store.Append(ctx, []crawler.Record{
		{Serial: 5, Title: "E", Owner: "Acme", ScrapedAt: now},
		{Serial: 6, Title: "F", ScrapedAt: now.Add(-48 * time.Hour)},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = store.Append(ctx, []crawler.Record{{Serial: 5, Title: "E2", ScrapedAt: now}, {Serial: 7, Title: "G", ScrapedAt: now}})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	recent, err := store.Recent(ctx, now.Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "E", recent[0].Title)
	assert.Equal(t, "Acme", recent[0].Owner)
	assert.Equal(t, crawler.Serial(7), recent[1].Serial)
	assert.True(t, now.Equal(recent[0].ScrapedAt))
}

func TestStatePersistsAcrossReopen(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "crawl.db")
	ctx := context.Background()

	store, err := Open(ctx, Config{Path: path, Seed: 1}, nil)
	require.NoError(t, err)
	require.NoError(t, store.Save(ctx, crawler.CrawlState{LastConfirmedSerial: 77, HighestKnownValidSerial: 80}))
	require.NoError(t, store.Close())

	reopened, err := Open(ctx, Config{Path: path, Seed: 1}, nil)
	require.NoError(t, err)
	defer func() { _ = reopened.Close() }()
	st, err := reopened.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, crawler.Serial(77), st.LastConfirmedSerial)
	assert.Equal(t, crawler.Serial(80), st.HighestKnownValidSerial)
}
