package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/serialwatch/internal/crawler"
)

func TestStateStoreClampsHighest(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.WarnLevel)
	store := NewStateStore(100, zap.New(core))
	ctx := context.Background()

	st, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, crawler.DefaultState(100), st)

	require.NoError(t, store.Save(ctx, crawler.CrawlState{LastConfirmedSerial: 120, HighestKnownValidSerial: 90}))
	st, err = store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, crawler.Serial(120), st.LastConfirmedSerial)
	assert.Equal(t, crawler.Serial(100), st.HighestKnownValidSerial)
	assert.Equal(t, 1, store.Saves())

	entries := logs.FilterMessage("refusing to lower highest known serial").All()
	require.Len(t, entries, 1)
	assert.EqualValues(t, 100, entries[0].ContextMap()["stored"])
	assert.EqualValues(t, 90, entries[0].ContextMap()["proposed"])
}

func TestStateStoreSaveHonorsCanceledContext(t *testing.T) {
	t.Parallel()

	store := NewStateStore(100, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.ErrorIs(t, store.Save(ctx, crawler.CrawlState{LastConfirmedSerial: 5}), context.Canceled)
	assert.Zero(t, store.Saves())
}

func TestRecordSinkDedupes(t *testing.T) {
	t.Parallel()

	sink := NewRecordSink()
	ctx := context.Background()
	now := time.Now()

	n, err := sink.Append(ctx, []crawler.Record{{Serial: 1, ScrapedAt: now.Add(-time.Hour)}, {Serial: 2, ScrapedAt: now}})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = sink.Append(ctx, []crawler.Record{{Serial: 2}, {Serial: 3, ScrapedAt: now}})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	recs := sink.Records()
	require.Len(t, recs, 3)
	recs[0].Title = "mutated"
	assert.Empty(t, sink.Records()[0].Title)

	recent, err := sink.Recent(ctx, now.Add(-time.Minute))
	require.NoError(t, err)
	assert.Len(t, recent, 2)
}
