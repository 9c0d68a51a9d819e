package local_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/serialwatch/internal/crawler"
	"github.com/JakeFAU/serialwatch/internal/storage/local"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

func TestHistorySinkDedupesBySerial(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 12, 2, 9, 0, 0, 0, time.UTC)
	path := filepath.Join(t.TempDir(), "history.json")
	sink, err := local.NewHistorySink(local.HistoryConfig{Path: path}, fixedClock{now: now}, nil)
	require.NoError(t, err)
	ctx := context.Background()

	added, err := sink.Append(ctx, []crawler.Record{{Serial: 1, Title: "A"}, {Serial: 2, Title: "B"}})
	require.NoError(t, err)
	assert.Equal(t, 2, added)

	added, err = sink.Append(ctx, []crawler.Record{{Serial: 2, Title: "B again"}, {Serial: 3, Title: "C"}, {Serial: 3, Title: "C dup"}})
	require.NoError(t, err)
	assert.Equal(t, 1, added)

	added, err = sink.Append(ctx, []crawler.Record{{Serial: 1, Title: "A"}})
	require.NoError(t, err)
	assert.Zero(t, added)

	// #nosec G304 -- test reads from the controlled temp directory.
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var doc struct {
		Records     []crawler.Record `json:"records"`
		TotalCount  int              `json:"total_count"`
		LastUpdated time.Time        `json:"last_updated"`
	}
	require.NoError(t, json.Unmarshal(raw, &doc))
	assert.Equal(t, 3, doc.TotalCount)
	require.Len(t, doc.Records, 3)
	assert.Equal(t, "B", doc.Records[1].Title)
	assert.Equal(t, "C", doc.Records[2].Title)
	assert.True(t, now.Equal(doc.LastUpdated))
}

func TestHistorySinkEmptyBatchDoesNotCreateFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "history.json")
	sink, err := local.NewHistorySink(local.HistoryConfig{Path: path}, fixedClock{}, nil)
	require.NoError(t, err)

	added, err := sink.Append(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, added)
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestHistorySinkRecent(t *testing.T) {
	t.Parallel()

	base := time.Date(2025, 12, 10, 0, 0, 0, 0, time.UTC)
	sink, err := local.NewHistorySink(local.HistoryConfig{Path: filepath.Join(t.TempDir(), "h.json")}, fixedClock{now: base}, nil)
	require.NoError(t, err)

	_, err = sink.Append(context.Background(), []crawler.Record{
		{Serial: 1, ScrapedAt: base.AddDate(0, 0, -10)},
		{Serial: 2, ScrapedAt: base.AddDate(0, 0, -3)},
		{Serial: 3, ScrapedAt: base},
	})
	require.NoError(t, err)

	recent, err := sink.Recent(context.Background(), base.AddDate(0, 0, -7))
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, crawler.Serial(2), recent[0].Serial)
}

func TestNewHistorySinkValidation(t *testing.T) {
	t.Parallel()

	_, err := local.NewHistorySink(local.HistoryConfig{}, fixedClock{}, nil)
	assert.Error(t, err)
	_, err = local.NewHistorySink(local.HistoryConfig{Path: filepath.Join(t.TempDir(), "h.json")}, nil, nil)
	assert.Error(t, err)
}
