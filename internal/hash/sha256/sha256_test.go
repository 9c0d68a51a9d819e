package sha256

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/serialwatch/internal/crawler"
)

func TestHasherHashDeterministic(t *testing.T) {
	t.Parallel()

	h := New()
	got, err := h.Hash([]byte("hello world"))
	require.NoError(t, err)
	assert.Equal(t, "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9", got)
}

func TestRecordsIgnoresOrder(t *testing.T) {
	t.Parallel()

	h := New()
	a := []crawler.Record{{Serial: 2, Title: "B"}, {Serial: 1, Title: "A"}}
	b := []crawler.Record{{Serial: 1, Title: "A"}, {Serial: 2, Title: "B"}}

	da, err := h.Records(a)
	require.NoError(t, err)
	db, err := h.Records(b)
	require.NoError(t, err)
	assert.Equal(t, da, db)
	assert.Len(t, da, 64)
	assert.Equal(t, crawler.Serial(2), a[0].Serial, "input must not be reordered")

	changed, err := h.Records([]crawler.Record{{Serial: 1, Title: "A"}, {Serial: 2, Title: "C"}})
	require.NoError(t, err)
	assert.NotEqual(t, da, changed)
}
