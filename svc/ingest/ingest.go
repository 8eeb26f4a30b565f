// Package ingest decodes and verifies platform notifications, maps them to
// canonical statuses and hands them to the subscription engine.
//
// Every handler distinguishes two kinds of failure. A notification that
// cannot be verified, decoded, mapped or routed to a known account is an
// anomaly: it is logged with its raw payload and acknowledged, since
// redelivering it would never succeed. An infrastructure failure is
// returned as an error so the transport redelivers; replays are safe
// because every event carries an idempotency key.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/paygate/pkg/logger"
	"github.com/dmitrymomot/paygate/pkg/metrics"
	"github.com/dmitrymomot/paygate/svc/catalog"
	"github.com/dmitrymomot/paygate/svc/metalog"
	"github.com/dmitrymomot/paygate/svc/statusmap"
	"github.com/dmitrymomot/paygate/svc/subscription"
)

// Engine is the subscription engine as seen by the ingestors.
type Engine interface {
	Apply(ctx context.Context, ev subscription.Event) (subscription.Result, error)
	SetPaymentPending(ctx context.Context, accountID uuid.UUID, pending bool) (subscription.Subscription, error)
}

// Identities resolves external platform ids to accounts.
type Identities interface {
	ResolveIdentity(ctx context.Context, platform subscription.Platform, externalID string) (uuid.UUID, error)
	RegisterCardCustomer(ctx context.Context, accountID uuid.UUID, customerID string) error
}

// Catalog resolves products and prices.
type Catalog interface {
	Lookup(platform subscription.Platform, productID string) (catalog.Product, error)
	CadenceForPrice(nickname string, metadata map[string]string) (subscription.Cadence, error)
}

// Disposition is what a handler did with a notification.
type Disposition string

const (
	DispositionApplied   Disposition = "applied"
	DispositionDuplicate Disposition = "duplicate"
	DispositionRejected  Disposition = "rejected"
	DispositionPending   Disposition = "pending"
	DispositionIgnored   Disposition = "ignored"
	DispositionAnomaly   Disposition = "anomaly"
)

var (
	ErrVerification     = errors.New("notification verification failed")
	ErrMalformed        = errors.New("malformed notification")
	ErrUnroutable       = errors.New("notification cannot be routed to an account")
	ErrWrongApplication = errors.New("notification is for another application")
)

// anomalies never succeed on redelivery.
var anomalies = []error{
	ErrVerification,
	ErrMalformed,
	ErrUnroutable,
	ErrWrongApplication,
	statusmap.ErrUnknownEventCode,
	catalog.ErrUnknownProduct,
	subscription.ErrIdentityNotFound,
	subscription.ErrIdentityTaken,
	subscription.ErrIdentityLimit,
	subscription.ErrAccountNotFound,
	subscription.ErrSubscriptionNotFound,
	subscription.ErrNotGuardian,
	subscription.ErrInvalidEvent,
	subscription.ErrUnknownCadence,
	subscription.ErrUnknownDuration,
}

// IsAnomaly reports whether err is a permanent, per-notification failure.
func IsAnomaly(err error) bool {
	for _, target := range anomalies {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

type options struct {
	logger  *slog.Logger
	metrics *metrics.Metrics
	sink    metalog.Sink
	now     func() time.Time
}

// Option configures an ingestor.
type Option func(*options)

func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

func WithSink(sink metalog.Sink) Option {
	return func(o *options) {
		if sink != nil {
			o.sink = sink
		}
	}
}

// WithClock sets the time source for locally stamped events.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

func newOptions(opts []Option) options {
	o := options{logger: slog.Default(), sink: metalog.NoopSink{}, now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// finish turns a handler outcome into a disposition, logging anomalies
// with the raw payload and swallowing them so the transport acknowledges.
func (o options) finish(ctx context.Context, platform subscription.Platform, raw []byte, d Disposition, err error) (Disposition, error) {
	if err != nil {
		if !IsAnomaly(err) {
			o.metrics.Notification(platform.String(), "error")
			return "", err
		}
		o.logger.WarnContext(ctx, "notification anomaly",
			logger.Platform(platform.String()),
			logger.Anomaly(anomalyKind(err)),
			logger.Error(err),
			logger.Payload(raw),
		)
		d = DispositionAnomaly
	}
	o.metrics.Notification(platform.String(), string(d))
	return d, nil
}

func anomalyKind(err error) string {
	switch {
	case errors.Is(err, ErrVerification), errors.Is(err, ErrWrongApplication):
		return "verification"
	case errors.Is(err, ErrMalformed):
		return "malformed"
	case errors.Is(err, statusmap.ErrUnknownEventCode):
		return "unknown_event_code"
	case errors.Is(err, catalog.ErrUnknownProduct):
		return "unknown_product"
	case errors.Is(err, ErrUnroutable), errors.Is(err, subscription.ErrIdentityNotFound),
		errors.Is(err, subscription.ErrAccountNotFound), errors.Is(err, subscription.ErrNotGuardian):
		return "unknown_account"
	case errors.Is(err, subscription.ErrIdentityTaken), errors.Is(err, subscription.ErrIdentityLimit):
		return "identity_conflict"
	}
	return "invalid_event"
}

func dispositionOf(res subscription.Result) Disposition {
	switch res.Outcome {
	case subscription.OutcomeApplied:
		return DispositionApplied
	case subscription.OutcomeDuplicate:
		return DispositionDuplicate
	}
	return DispositionRejected
}

// formatCents renders an amount in minor units as "$12.34".
func formatCents(cents int64) string {
	if cents < 0 {
		return fmt.Sprintf("-$%d.%02d", -cents/100, -cents%100)
	}
	return fmt.Sprintf("$%d.%02d", cents/100, cents%100)
}

// productFor looks the product up, tolerating an unknown product when the
// target status does not need a renewal length.
func productFor(c Catalog, platform subscription.Platform, productID string, target subscription.Status) (catalog.Product, error) {
	p, err := c.Lookup(platform, productID)
	if err != nil && !target.Entitled() && errors.Is(err, catalog.ErrUnknownProduct) {
		return catalog.Product{}, nil
	}
	return p, err
}
