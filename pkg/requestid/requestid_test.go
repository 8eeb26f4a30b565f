package requestid_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/paygate/pkg/requestid"
)

func serve(t *testing.T, header string) (seen string, rec *httptest.ResponseRecorder) {
	t.Helper()
	h := requestid.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = requestid.FromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))
	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", nil)
	if header != "" {
		req.Header.Set(requestid.Header, header)
	}
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return seen, rec
}

func TestMiddleware(t *testing.T) {
	t.Parallel()

	t.Run("generates an id", func(t *testing.T) {
		t.Parallel()
		seen, rec := serve(t, "")
		require.NotEmpty(t, seen)
		assert.Equal(t, seen, rec.Header().Get(requestid.Header))
	})

	t.Run("keeps a valid incoming id", func(t *testing.T) {
		t.Parallel()
		seen, rec := serve(t, "evt_1NqZ:retry-2")
		assert.Equal(t, "evt_1NqZ:retry-2", seen)
		assert.Equal(t, "evt_1NqZ:retry-2", rec.Header().Get(requestid.Header))
	})

	for name, bad := range map[string]string{
		"too long":  strings.Repeat("a", 129),
		"injection": "id\nX-Admin: 1",
		"spaces":    "two words",
	} {
		t.Run("replaces "+name, func(t *testing.T) {
			t.Parallel()
			seen, _ := serve(t, bad)
			assert.NotEqual(t, bad, seen)
			assert.NotEmpty(t, seen)
		})
	}
}

func TestLoggerExtractor(t *testing.T) {
	t.Parallel()

	_, ok := requestid.LoggerExtractor(context.Background())
	assert.False(t, ok)

	attr, ok := requestid.LoggerExtractor(requestid.WithContext(context.Background(), "req-1"))
	require.True(t, ok)
	assert.Equal(t, "request_id", attr.Key)
	assert.Equal(t, "req-1", attr.Value.String())
}
