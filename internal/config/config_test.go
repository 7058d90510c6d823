package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadRequiresDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL")
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/prism_test")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 25, cfg.Database.MaxConnections)
	assert.Equal(t, "catalog.yaml", cfg.Catalog.Path)
	assert.Equal(t, 4, cfg.Jobs.ResaveWorkers)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.False(t, cfg.Tracing.Enabled)
	assert.Equal(t, "none", cfg.Tracing.Exporter)
	assert.Equal(t, 1.0, cfg.Tracing.SampleRate)
	assert.Equal(t, "development", cfg.Environment)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/prism_test")
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("JOB_RESAVE_RETRIES", "2")
	t.Setenv("ENVIRONMENT", "production")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 2, cfg.Jobs.ResaveRetries)
	assert.Equal(t, "production", cfg.Environment)
}

func TestGetEnvIntIgnoresGarbage(t *testing.T) {
	t.Setenv("SERVER_PORT", "not-a-number")
	assert.Equal(t, 8080, getEnvInt("SERVER_PORT", 8080))
}

func TestGetEnvBoolAndFloat(t *testing.T) {
	t.Setenv("TRACING_ENABLED", "true")
	t.Setenv("TRACING_SAMPLE_RATE", "0.25")
	assert.True(t, getEnvBool("TRACING_ENABLED", false))
	assert.Equal(t, 0.25, getEnvFloat("TRACING_SAMPLE_RATE", 1.0))

	t.Setenv("TRACING_ENABLED", "maybe")
	t.Setenv("TRACING_SAMPLE_RATE", "lots")
	assert.False(t, getEnvBool("TRACING_ENABLED", false))
	assert.Equal(t, 1.0, getEnvFloat("TRACING_SAMPLE_RATE", 1.0))
}
