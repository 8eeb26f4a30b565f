package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/paygate/svc/api"
	"github.com/dmitrymomot/paygate/svc/catalog"
	"github.com/dmitrymomot/paygate/svc/entitlement"
	"github.com/dmitrymomot/paygate/svc/ingest"
	"github.com/dmitrymomot/paygate/svc/ledger"
	"github.com/dmitrymomot/paygate/svc/subscription"
)

type stripeFunc func(ctx context.Context, payload []byte, signature string) (ingest.Disposition, error)

func (f stripeFunc) HandleWebhook(ctx context.Context, payload []byte, signature string) (ingest.Disposition, error) {
	return f(ctx, payload, signature)
}

type appStoreFunc func(ctx context.Context, body []byte) (ingest.Disposition, error)

func (f appStoreFunc) HandleNotification(ctx context.Context, body []byte) (ingest.Disposition, error) {
	return f(ctx, body)
}

type confirmFunc func(ctx context.Context, req ingest.ConfirmPurchaseRequest) (subscription.Result, error)

func (f confirmFunc) ConfirmPurchase(ctx context.Context, req ingest.ConfirmPurchaseRequest) (subscription.Result, error) {
	return f(ctx, req)
}

type fakeEntitlements struct {
	entitled  bool
	sub       subscription.Subscription
	err       error
	statusErr error
}

func (f fakeEntitlements) IsEntitled(context.Context, entitlement.Principal) (bool, error) {
	return f.entitled, f.err
}

func (f fakeEntitlements) Status(context.Context, uuid.UUID) (subscription.Subscription, error) {
	return f.sub, f.statusErr
}

type fakeHistory []ledger.Record

func (f fakeHistory) History(context.Context, uuid.UUID) ([]ledger.Record, error) {
	return f, nil
}

type envelope struct {
	Data  json.RawMessage  `json:"data"`
	Error *api.ErrorDetail `json:"error"`
}

func do(t *testing.T, h http.Handler, method, path, body string, header map[string]string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return rec, env
}

func TestStripeWebhook(t *testing.T) {
	t.Parallel()

	t.Run("passes payload and signature", func(t *testing.T) {
		t.Parallel()
		var gotSig string
		var gotBody []byte
		r := api.NewRouter(api.Handlers{Stripe: stripeFunc(func(_ context.Context, p []byte, sig string) (ingest.Disposition, error) {
			gotSig, gotBody = sig, p
			return ingest.DispositionApplied, nil
		})})

		rec, env := do(t, r, http.MethodPost, "/webhooks/stripe", `{"id":"evt_1"}`, map[string]string{"Stripe-Signature": "t=1,v1=abc"})
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "t=1,v1=abc", gotSig)
		assert.JSONEq(t, `{"id":"evt_1"}`, string(gotBody))
		assert.JSONEq(t, `{"disposition":"applied"}`, string(env.Data))
	})

	t.Run("anomalies are acknowledged", func(t *testing.T) {
		t.Parallel()
		r := api.NewRouter(api.Handlers{Stripe: stripeFunc(func(context.Context, []byte, string) (ingest.Disposition, error) {
			return ingest.DispositionAnomaly, nil
		})})

		rec, env := do(t, r, http.MethodPost, "/webhooks/stripe", `{}`, nil)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"disposition":"anomaly"}`, string(env.Data))
	})

	t.Run("transient failures ask for redelivery", func(t *testing.T) {
		t.Parallel()
		r := api.NewRouter(api.Handlers{Stripe: stripeFunc(func(context.Context, []byte, string) (ingest.Disposition, error) {
			return "", errors.New("db down")
		})})

		rec, env := do(t, r, http.MethodPost, "/webhooks/stripe", `{}`, nil)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		require.NotNil(t, env.Error)
		assert.Equal(t, "service_unavailable", env.Error.Code)
	})

	t.Run("oversized body", func(t *testing.T) {
		t.Parallel()
		called := false
		r := api.NewRouter(api.Handlers{Stripe: stripeFunc(func(context.Context, []byte, string) (ingest.Disposition, error) {
			called = true
			return ingest.DispositionApplied, nil
		})})

		rec, env := do(t, r, http.MethodPost, "/webhooks/stripe", strings.Repeat("x", api.MaxBodyBytes+1), nil)
		assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
		require.NotNil(t, env.Error)
		assert.False(t, called)
	})
}

func TestAppStoreWebhook(t *testing.T) {
	t.Parallel()

	r := api.NewRouter(api.Handlers{AppStore: appStoreFunc(func(_ context.Context, body []byte) (ingest.Disposition, error) {
		assert.JSONEq(t, `{"signedPayload":"x.y.z"}`, string(body))
		return ingest.DispositionIgnored, nil
	})})

	rec, env := do(t, r, http.MethodPost, "/webhooks/appstore", `{"signedPayload":"x.y.z"}`, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"disposition":"ignored"}`, string(env.Data))
}

func TestUnconfiguredRoutesAreNotMounted(t *testing.T) {
	t.Parallel()

	r := api.NewRouter(api.Handlers{})
	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", strings.NewReader("{}"))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestConfirmAndroidPurchase(t *testing.T) {
	t.Parallel()

	accountID := uuid.New()
	due := time.Date(2026, 4, 9, 0, 0, 0, 0, time.UTC)

	t.Run("applied", func(t *testing.T) {
		t.Parallel()
		r := api.NewRouter(api.Handlers{Android: confirmFunc(func(_ context.Context, req ingest.ConfirmPurchaseRequest) (subscription.Result, error) {
			assert.Equal(t, accountID, req.AccountID)
			assert.Equal(t, "tok", req.PurchaseToken)
			assert.Equal(t, "premium.monthly", req.ProductID)
			return subscription.Result{
				Outcome:      subscription.OutcomeApplied,
				Subscription: subscription.Subscription{Status: subscription.StatusPremium, DueDate: &due},
			}, nil
		})})

		body := `{"account_id":"` + accountID.String() + `","purchase_token":"tok","product_id":"premium.monthly","app_version":"1.2.0"}`
		rec, env := do(t, r, http.MethodPost, "/v1/purchases/android", body, nil)
		assert.Equal(t, http.StatusOK, rec.Code)

		var got map[string]any
		require.NoError(t, json.Unmarshal(env.Data, &got))
		assert.Equal(t, "applied", got["outcome"])
		assert.Equal(t, "PREMIUM", got["status"])
		assert.Equal(t, "2026-04-09T00:00:00Z", got["due_date"])
	})

	tests := []struct {
		name   string
		body   string
		err    error
		status int
		code   string
	}{
		{"malformed json", `{`, nil, http.StatusBadRequest, "bad_request"},
		{"unknown field", `{"foo":1}`, nil, http.StatusBadRequest, "bad_request"},
		{"unknown product", `{}`, catalog.ErrUnknownProduct, http.StatusUnprocessableEntity, "unprocessable_entity"},
		{"token owned elsewhere", `{}`, subscription.ErrIdentityTaken, http.StatusConflict, "conflict"},
		{"unknown account", `{}`, subscription.ErrAccountNotFound, http.StatusNotFound, "not_found"},
		{"dependent account", `{}`, subscription.ErrNotGuardian, http.StatusForbidden, "forbidden"},
		{"storage failure", `{}`, errors.New("boom"), http.StatusInternalServerError, "internal_server_error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			r := api.NewRouter(api.Handlers{Android: confirmFunc(func(context.Context, ingest.ConfirmPurchaseRequest) (subscription.Result, error) {
				return subscription.Result{}, tt.err
			})})

			rec, env := do(t, r, http.MethodPost, "/v1/purchases/android", tt.body, nil)
			assert.Equal(t, tt.status, rec.Code)
			require.NotNil(t, env.Error)
			assert.Equal(t, tt.code, env.Error.Code)
		})
	}
}

func TestEntitlement(t *testing.T) {
	t.Parallel()

	id := uuid.New()

	t.Run("guardian with premium", func(t *testing.T) {
		t.Parallel()
		due := time.Date(2026, 4, 9, 0, 0, 0, 0, time.UTC)
		r := api.NewRouter(api.Handlers{Entitlements: fakeEntitlements{
			entitled: true,
			sub:      subscription.Subscription{Status: subscription.StatusPremium, DueDate: &due},
		}})

		rec, env := do(t, r, http.MethodGet, "/v1/accounts/"+id.String()+"/entitlement", "", nil)
		assert.Equal(t, http.StatusOK, rec.Code)
		var got map[string]any
		require.NoError(t, json.Unmarshal(env.Data, &got))
		assert.Equal(t, true, got["entitled"])
		assert.Equal(t, "PREMIUM", got["status"])
	})

	t.Run("unlinked dependent", func(t *testing.T) {
		t.Parallel()
		r := api.NewRouter(api.Handlers{Entitlements: fakeEntitlements{statusErr: entitlement.ErrNoGuardian}})

		rec, env := do(t, r, http.MethodGet, "/v1/accounts/"+id.String()+"/entitlement", "", nil)
		assert.Equal(t, http.StatusOK, rec.Code)
		var got map[string]any
		require.NoError(t, json.Unmarshal(env.Data, &got))
		assert.Equal(t, false, got["entitled"])
		assert.NotContains(t, got, "status")
	})

	t.Run("invalid id", func(t *testing.T) {
		t.Parallel()
		r := api.NewRouter(api.Handlers{Entitlements: fakeEntitlements{}})

		rec, _ := do(t, r, http.MethodGet, "/v1/accounts/nope/entitlement", "", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("unknown account", func(t *testing.T) {
		t.Parallel()
		r := api.NewRouter(api.Handlers{Entitlements: fakeEntitlements{err: subscription.ErrAccountNotFound}})

		rec, _ := do(t, r, http.MethodGet, "/v1/accounts/"+id.String()+"/entitlement", "", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestPayments(t *testing.T) {
	t.Parallel()

	id := uuid.New()

	t.Run("empty history is an empty list", func(t *testing.T) {
		t.Parallel()
		r := api.NewRouter(api.Handlers{Payments: fakeHistory(nil)})

		rec, env := do(t, r, http.MethodGet, "/v1/accounts/"+id.String()+"/payments", "", nil)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `[]`, string(env.Data))
	})

	t.Run("records", func(t *testing.T) {
		t.Parallel()
		r := api.NewRouter(api.Handlers{Payments: fakeHistory{{AccountID: id}, {AccountID: id}}})

		rec, env := do(t, r, http.MethodGet, "/v1/accounts/"+id.String()+"/payments", "", nil)
		assert.Equal(t, http.StatusOK, rec.Code)
		var got []map[string]any
		require.NoError(t, json.Unmarshal(env.Data, &got))
		assert.Len(t, got, 2)
	})
}

func TestRequestIDHeader(t *testing.T) {
	t.Parallel()

	r := api.NewRouter(api.Handlers{AppStore: appStoreFunc(func(context.Context, []byte) (ingest.Disposition, error) {
		return ingest.DispositionIgnored, nil
	})})

	rec, _ := do(t, r, http.MethodPost, "/webhooks/appstore", `{}`, map[string]string{"X-Request-ID": "delivery-42"})
	assert.Equal(t, "delivery-42", rec.Header().Get("X-Request-ID"))
}
