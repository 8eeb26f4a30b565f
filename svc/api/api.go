// Package api exposes paygate over HTTP: platform webhooks, the Android
// purchase confirmation and the entitlement and payment-history reads.
//
// Caller authentication is handled upstream; account ids in paths and
// bodies are trusted.
package api

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/dmitrymomot/paygate/pkg/logger"
	"github.com/dmitrymomot/paygate/pkg/metrics"
	"github.com/dmitrymomot/paygate/pkg/requestid"
	"github.com/dmitrymomot/paygate/svc/catalog"
	"github.com/dmitrymomot/paygate/svc/entitlement"
	"github.com/dmitrymomot/paygate/svc/ingest"
	"github.com/dmitrymomot/paygate/svc/ledger"
	"github.com/dmitrymomot/paygate/svc/subscription"
)

// MaxBodyBytes caps webhook and API request bodies.
const MaxBodyBytes = 1 << 20

type StripeWebhook interface {
	HandleWebhook(ctx context.Context, payload []byte, signature string) (ingest.Disposition, error)
}

type AppStoreWebhook interface {
	HandleNotification(ctx context.Context, body []byte) (ingest.Disposition, error)
}

type PurchaseConfirmer interface {
	ConfirmPurchase(ctx context.Context, req ingest.ConfirmPurchaseRequest) (subscription.Result, error)
}

type Entitlements interface {
	IsEntitled(ctx context.Context, p entitlement.Principal) (bool, error)
	Status(ctx context.Context, accountID uuid.UUID) (subscription.Subscription, error)
}

type PaymentHistory interface {
	History(ctx context.Context, accountID uuid.UUID) ([]ledger.Record, error)
}

// Handlers lists the services behind the routes. Routes whose service is
// nil are not mounted.
type Handlers struct {
	Stripe       StripeWebhook
	AppStore     AppStoreWebhook
	Android      PurchaseConfirmer
	Entitlements Entitlements
	Payments     PaymentHistory
	Logger       *slog.Logger
	Metrics      *metrics.Metrics
}

type server struct {
	Handlers
}

// NewRouter returns the chi router with request ids, panic recovery and
// every configured route.
func NewRouter(h Handlers) chi.Router {
	if h.Logger == nil {
		h.Logger = slog.Default()
	}
	s := &server{Handlers: h}

	r := chi.NewRouter()
	r.Use(requestid.Middleware)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	if h.Stripe != nil {
		r.Post("/webhooks/stripe", s.stripeWebhook)
	}
	if h.AppStore != nil {
		r.Post("/webhooks/appstore", s.appStoreWebhook)
	}
	if h.Android != nil {
		r.Post("/v1/purchases/android", s.wrap(s.confirmAndroidPurchase))
	}
	if h.Entitlements != nil {
		r.Get("/v1/accounts/{accountID}/entitlement", s.wrap(s.entitlement))
	}
	if h.Payments != nil {
		r.Get("/v1/accounts/{accountID}/payments", s.wrap(s.payments))
	}
	return r
}

func (s *server) wrap(fn func(r *http.Request) Response) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := fn(r).Render(w, r); err != nil {
			s.Logger.ErrorContext(r.Context(), "failed to render response", logger.Error(err))
		}
	}
}

func (s *server) stripeWebhook(w http.ResponseWriter, r *http.Request) {
	body, ok := s.readBody(w, r, "stripe")
	if !ok {
		return
	}
	d, err := s.Stripe.HandleWebhook(r.Context(), body, r.Header.Get("Stripe-Signature"))
	s.ack(w, r, "stripe", d, err)
}

func (s *server) appStoreWebhook(w http.ResponseWriter, r *http.Request) {
	body, ok := s.readBody(w, r, "appstore")
	if !ok {
		return
	}
	d, err := s.AppStore.HandleNotification(r.Context(), body)
	s.ack(w, r, "appstore", d, err)
}

func (s *server) readBody(w http.ResponseWriter, r *http.Request, endpoint string) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
	if err != nil {
		s.Metrics.WebhookRequest(endpoint, http.StatusRequestEntityTooLarge)
		_ = JSONError(ErrRequestTooLarge).Render(w, r)
		return nil, false
	}
	return body, true
}

// ack answers 200 for every handled or anomalous notification and 503 for
// transient failures, so only the latter are redelivered.
func (s *server) ack(w http.ResponseWriter, r *http.Request, endpoint string, d ingest.Disposition, err error) {
	resp := JSON(map[string]string{"disposition": string(d)})
	status := http.StatusOK
	if err != nil {
		s.Logger.ErrorContext(r.Context(), "webhook processing failed",
			slog.String("endpoint", endpoint), logger.Error(err))
		resp = JSONError(ErrServiceUnavailable)
		status = http.StatusServiceUnavailable
	}
	s.Metrics.WebhookRequest(endpoint, status)
	if err := resp.Render(w, r); err != nil {
		s.Logger.ErrorContext(r.Context(), "failed to render response", logger.Error(err))
	}
}

type purchaseResponse struct {
	Outcome        subscription.Outcome      `json:"outcome"`
	Reason         subscription.RejectReason `json:"reason,omitempty"`
	Status         subscription.Status       `json:"status"`
	DueDate        *time.Time                `json:"due_date,omitempty"`
	TrialAvailable bool                      `json:"trial_available"`
}

func (s *server) confirmAndroidPurchase(r *http.Request) Response {
	var req ingest.ConfirmPurchaseRequest
	if err := decodeJSON(r, &req); err != nil {
		return JSONError(ErrBadRequest)
	}
	res, err := s.Android.ConfirmPurchase(r.Context(), req)
	if err != nil {
		return s.fail(r, err)
	}
	return JSON(purchaseResponse{
		Outcome:        res.Outcome,
		Reason:         res.Reason,
		Status:         res.Subscription.Status,
		DueDate:        res.Subscription.DueDate,
		TrialAvailable: res.Subscription.IsTrialAvailable,
	})
}

type entitlementResponse struct {
	AccountID uuid.UUID           `json:"account_id"`
	Entitled  bool                `json:"entitled"`
	Status    subscription.Status `json:"status,omitempty"`
	DueDate   *time.Time          `json:"due_date,omitempty"`
	Pending   bool                `json:"payment_pending"`
}

func (s *server) entitlement(r *http.Request) Response {
	id, err := uuid.Parse(chi.URLParam(r, "accountID"))
	if err != nil {
		return JSONError(ErrBadRequest)
	}
	entitled, err := s.Entitlements.IsEntitled(r.Context(), entitlement.Principal{AccountID: id})
	if err != nil {
		return s.fail(r, err)
	}
	resp := entitlementResponse{AccountID: id, Entitled: entitled}
	sub, err := s.Entitlements.Status(r.Context(), id)
	switch {
	case err == nil:
		resp.Status = sub.Status
		resp.DueDate = sub.DueDate
		resp.Pending = sub.IsOxxoPendingPayment
	case !errors.Is(err, entitlement.ErrNoGuardian):
		return s.fail(r, err)
	}
	return JSON(resp)
}

func (s *server) payments(r *http.Request) Response {
	id, err := uuid.Parse(chi.URLParam(r, "accountID"))
	if err != nil {
		return JSONError(ErrBadRequest)
	}
	records, err := s.Payments.History(r.Context(), id)
	if err != nil {
		return s.fail(r, err)
	}
	if records == nil {
		records = []ledger.Record{}
	}
	return JSON(records)
}

// fail maps domain errors to HTTP errors and logs unexpected ones.
func (s *server) fail(r *http.Request, err error) Response {
	switch {
	case errors.Is(err, ingest.ErrMalformed), errors.Is(err, subscription.ErrInvalidEvent):
		return JSONError(ErrBadRequest)
	case errors.Is(err, subscription.ErrAccountNotFound), errors.Is(err, subscription.ErrSubscriptionNotFound):
		return JSONError(ErrNotFound)
	case errors.Is(err, subscription.ErrNotGuardian):
		return JSONError(ErrForbidden)
	case errors.Is(err, subscription.ErrIdentityTaken), errors.Is(err, subscription.ErrIdentityLimit):
		return JSONError(ErrConflict)
	case errors.Is(err, catalog.ErrUnknownProduct), errors.Is(err, subscription.ErrUnknownDuration):
		return JSONError(ErrUnprocessableEntity)
	}
	s.Logger.ErrorContext(r.Context(), "request failed", logger.Error(err))
	return JSONError(err)
}
