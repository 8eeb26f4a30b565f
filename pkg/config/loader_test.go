package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/paygate/pkg/config"
)

type sweepConfig struct {
	Interval  time.Duration `env:"TEST_SWEEP_INTERVAL" envDefault:"1h"`
	BatchSize int           `env:"TEST_SWEEP_BATCH" envDefault:"500"`
	Platforms []string      `env:"TEST_SWEEP_PLATFORMS" envSeparator:","`
}

type requiredConfig struct {
	URL string `env:"TEST_REQUIRED_URL,required"`
}

func TestLoad(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		var cfg sweepConfig
		require.NoError(t, config.Load(&cfg))
		assert.Equal(t, time.Hour, cfg.Interval)
		assert.Equal(t, 500, cfg.BatchSize)
		assert.Empty(t, cfg.Platforms)
	})

	t.Run("environment overrides defaults", func(t *testing.T) {
		t.Setenv("TEST_SWEEP_INTERVAL", "15m")
		t.Setenv("TEST_SWEEP_PLATFORMS", "android,app_store")

		var cfg sweepConfig
		require.NoError(t, config.Load(&cfg))
		assert.Equal(t, 15*time.Minute, cfg.Interval)
		assert.Equal(t, []string{"android", "app_store"}, cfg.Platforms)
	})

	t.Run("missing required value", func(t *testing.T) {
		var cfg requiredConfig
		err := config.Load(&cfg)
		require.Error(t, err)
		assert.ErrorIs(t, err, config.ErrParsingConfig)
	})

	t.Run("nil pointer", func(t *testing.T) {
		var cfg *requiredConfig
		assert.ErrorIs(t, config.Load(cfg), config.ErrNilPointer)
	})
}

func TestMustLoad(t *testing.T) {
	assert.Panics(t, func() {
		var cfg requiredConfig
		config.MustLoad(&cfg)
	})

	t.Setenv("TEST_REQUIRED_URL", "postgres://localhost/paygate")
	assert.NotPanics(t, func() {
		var cfg requiredConfig
		config.MustLoad(&cfg)
		assert.Equal(t, "postgres://localhost/paygate", cfg.URL)
	})
}

func TestLoadEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env.test")
	require.NoError(t, os.WriteFile(path, []byte("TEST_ENV_FILE_VALUE=from_file\n"), 0o600))
	t.Cleanup(func() { _ = os.Unsetenv("TEST_ENV_FILE_VALUE") })

	require.NoError(t, config.LoadEnv(path))
	assert.Equal(t, "from_file", os.Getenv("TEST_ENV_FILE_VALUE"))

	err := config.LoadEnv(filepath.Join(dir, "missing.env"))
	assert.ErrorIs(t, err, config.ErrLoadingEnvFile)
}
