package logger_test

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/paygate/pkg/logger"
)

func TestNewFromConfig(t *testing.T) {
	t.Parallel()

	t.Run("production emits json with service attrs", func(t *testing.T) {
		t.Parallel()
		buf := &bytes.Buffer{}
		log := logger.NewFromConfig(logger.Config{Env: "prod", Service: "paygate"}, logger.WithOutput(buf))
		log.Info("ready")

		var entry map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
		assert.Equal(t, "paygate", entry["service"])
		assert.Equal(t, logger.EnvProduction, entry["env"])
	})

	t.Run("level name overrides environment default", func(t *testing.T) {
		t.Parallel()
		buf := &bytes.Buffer{}
		log := logger.NewFromConfig(logger.Config{Env: "production", Service: "paygate", Level: "warn"}, logger.WithOutput(buf))
		log.Info("dropped")
		assert.Empty(t, buf.String())
		log.Warn("kept")
		assert.Contains(t, buf.String(), "kept")
	})

	t.Run("unknown level name keeps default", func(t *testing.T) {
		t.Parallel()
		buf := &bytes.Buffer{}
		log := logger.NewFromConfig(logger.Config{Env: "development", Service: "paygate", Level: "chatty"}, logger.WithOutput(buf))
		log.Debug("visible")
		assert.Contains(t, buf.String(), "visible")
	})

	t.Run("format overrides environment encoding", func(t *testing.T) {
		t.Parallel()
		buf := &bytes.Buffer{}
		log := logger.NewFromConfig(logger.Config{Env: "production", Service: "paygate", Format: "TEXT"}, logger.WithOutput(buf))
		log.Info("ready")
		assert.Contains(t, buf.String(), "service=paygate")
	})
}
