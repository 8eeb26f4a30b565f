package logger_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/paygate/pkg/logger"
	"github.com/dmitrymomot/paygate/pkg/requestid"
)

func decode(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	return entry
}

func TestNewCarriesRequestIDAndDomainAttrs(t *testing.T) {
	t.Parallel()

	buf := &bytes.Buffer{}
	log := logger.New(
		logger.WithOutput(buf),
		logger.WithAttr(slog.String("component", "ingest")),
		logger.WithContextExtractors(requestid.LoggerExtractor),
	)

	account := uuid.New()
	ctx := requestid.WithContext(context.Background(), "delivery-42")
	log.WarnContext(ctx, "notification rejected",
		logger.AccountID(account),
		logger.Platform("android"),
		logger.Anomaly("unknown_product"),
	)

	entry := decode(t, buf)
	assert.Equal(t, "WARN", entry["level"])
	assert.Equal(t, "delivery-42", entry["request_id"])
	assert.Equal(t, "ingest", entry["component"])
	assert.Equal(t, account.String(), entry["account_id"])
	assert.Equal(t, "android", entry["platform"])
	assert.Equal(t, "unknown_product", entry["anomaly"])
}

func TestNewWithoutRequestID(t *testing.T) {
	t.Parallel()

	buf := &bytes.Buffer{}
	log := logger.New(logger.WithOutput(buf), logger.WithContextExtractors(requestid.LoggerExtractor))
	log.InfoContext(context.Background(), "sweep finished")

	entry := decode(t, buf)
	assert.NotContains(t, entry, "request_id")
	assert.Equal(t, "sweep finished", entry["msg"])
}

func TestWithEnvironment(t *testing.T) {
	t.Parallel()

	tests := []struct {
		env       string
		wantEnv   string
		debugSeen bool
		json      bool
	}{
		{"development", logger.EnvDevelopment, true, false},
		{"", logger.EnvDevelopment, true, false},
		{"stage", logger.EnvStaging, false, true},
		{"staging", logger.EnvStaging, false, true},
		{"prod", logger.EnvProduction, false, true},
		{"production", logger.EnvProduction, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.env, func(t *testing.T) {
			t.Parallel()
			buf := &bytes.Buffer{}
			log := logger.New(logger.WithEnvironment(tt.env, "paygate"), logger.WithOutput(buf))

			log.Debug("cache miss")
			assert.Equal(t, tt.debugSeen, buf.Len() > 0)
			buf.Reset()

			log.Info("transition applied")
			if tt.json {
				entry := decode(t, buf)
				assert.Equal(t, tt.wantEnv, entry["env"])
				assert.Equal(t, "paygate", entry["service"])
				return
			}
			out := buf.String()
			assert.Contains(t, out, "env="+tt.wantEnv)
			assert.Contains(t, out, "service=paygate")
		})
	}
}

func TestErrorAttrInJSON(t *testing.T) {
	t.Parallel()

	buf := &bytes.Buffer{}
	log := logger.New(logger.WithOutput(buf))
	log.Error("commit failed", logger.Error(errors.New("version conflict")))

	entry := decode(t, buf)
	assert.Equal(t, "ERROR", entry["level"])
	assert.True(t, strings.Contains(buf.String(), "version conflict"))
}

func TestSetAsDefault(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	buf := &bytes.Buffer{}
	logger.SetAsDefault(logger.New(logger.WithOutput(buf)))
	slog.Info("default")
	assert.Equal(t, "default", decode(t, buf)["msg"])
}

func TestWithFormatPanics(t *testing.T) {
	t.Parallel()

	assert.Panics(t, func() {
		logger.New(logger.WithFormat(logger.Format("xml")))
	})
}
