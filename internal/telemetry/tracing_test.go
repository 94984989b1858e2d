package telemetry_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/vasiliy-maslov/online-store/internal/config"
	"github.com/vasiliy-maslov/online-store/internal/telemetry"
)

func TestInitTracing_DisabledWithoutEndpoint(t *testing.T) {
	before := otel.GetTracerProvider()

	shutdown, err := telemetry.InitTracing(context.Background(), config.TelemetryConfig{ServiceName: "store-test"})
	require.NoError(t, err)
	require.NotNil(t, shutdown)

	assert.Same(t, before, otel.GetTracerProvider())
	assert.NoError(t, shutdown(context.Background()))
}

func TestInitTracing_InstallsSDKProvider(t *testing.T) {
	before := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(before) })

	// The gRPC exporter connects lazily, so no collector is needed here.
	shutdown, err := telemetry.InitTracing(context.Background(), config.TelemetryConfig{
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "store-test",
		SampleRatio:  0.5,
	})
	require.NoError(t, err)

	_, ok := otel.GetTracerProvider().(*sdktrace.TracerProvider)
	assert.True(t, ok)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = shutdown(ctx)
}
