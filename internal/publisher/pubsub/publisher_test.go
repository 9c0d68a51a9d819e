package pubsub

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishRequiresClient(t *testing.T) {
	t.Parallel()

	var p *Publisher
	_, err := p.Publish(context.Background(), "sessions", map[string]int{"found": 1})
	require.Error(t, err)
	assert.NoError(t, p.Close())

	_, err = New(nil).Publish(context.Background(), "sessions", nil)
	require.Error(t, err)
}

func TestDialRequiresProject(t *testing.T) {
	t.Parallel()

	_, err := Dial(context.Background(), "")
	require.Error(t, err)
}

func TestAttributeCarrier(t *testing.T) {
	t.Parallel()

	c := &attributeCarrier{attrs: map[string]string{}}
	c.Set("traceparent", "00-abc-def-01")
	assert.Equal(t, "00-abc-def-01", c.Get("traceparent"))
	assert.Equal(t, []string{"traceparent"}, c.Keys())
	assert.Empty(t, c.Get("missing"))
}
