package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// Not parallel: installs the global provider.
func TestInitTracerProvider(t *testing.T) {
	ctx := context.Background()
	recorder := tracetest.NewSpanRecorder()
	tp, err := InitTracerProvider(ctx, "serialwatch-test", sdktrace.WithSpanProcessor(recorder))
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, tp.Shutdown(ctx)) })

	spanCtx, span := Tracer().Start(ctx, "session.run")
	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(spanCtx, carrier)
	span.End()

	assert.NotEmpty(t, carrier.Get("traceparent"))
	ended := recorder.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, "session.run", ended[0].Name())
	assert.Equal(t, TracerName, ended[0].InstrumentationScope().Name)
}

func TestInitTracerProviderRequiresName(t *testing.T) {
	t.Parallel()

	_, err := InitTracerProvider(context.Background(), "")
	require.Error(t, err)
}
