package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prism-data/prism/internal/config"
)

func TestInitTracingDisabledIsNoop(t *testing.T) {
	shutdown, err := InitTracing(context.Background(), config.TracingConfig{Enabled: false}, "test")
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func TestInitTracingRejectsBadSampleRate(t *testing.T) {
	_, err := InitTracing(context.Background(), config.TracingConfig{
		Enabled:    true,
		Exporter:   "none",
		SampleRate: 1.5,
	}, "test")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sample rate")
}

func TestInitTracingRejectsUnknownExporter(t *testing.T) {
	_, err := InitTracing(context.Background(), config.TracingConfig{
		Enabled:    true,
		Exporter:   "carrier-pigeon",
		SampleRate: 1.0,
	}, "test")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported exporter")
}

func TestInitTracingNoneExporter(t *testing.T) {
	shutdown, err := InitTracing(context.Background(), config.TracingConfig{
		Enabled:    true,
		Exporter:   "none",
		SampleRate: 0.5,
	}, "test")
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}
