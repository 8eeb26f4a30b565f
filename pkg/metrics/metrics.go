// Package metrics defines the Prometheus collectors exported by paygate.
//
// Collectors are registered on an injected prometheus.Registerer so tests can
// use a private registry. Every recording method is safe on a nil *Metrics,
// which lets components run without metrics wiring.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "paygate"

type Metrics struct {
	notifications   *prometheus.CounterVec
	applyDuration   *prometheus.HistogramVec
	versionConflict prometheus.Counter
	cacheLookups    *prometheus.CounterVec
	cacheErrors     *prometheus.CounterVec
	sweepExpired    prometheus.Counter
	sweepRuns       *prometheus.CounterVec
	webhookRequests *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		notifications: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "notifications_total",
			Help:      "Platform notifications by platform and outcome.",
		}, []string{"platform", "outcome"}),
		applyDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "subscription",
			Name:      "apply_duration_seconds",
			Help:      "Time spent applying a normalized event to a subscription.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"platform"}),
		versionConflict: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "subscription",
			Name:      "version_conflicts_total",
			Help:      "Optimistic concurrency conflicts on subscription writes.",
		}),
		cacheLookups: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "entitlement",
			Name:      "cache_lookups_total",
			Help:      "Entitlement cache lookups by result (hit, miss, error).",
		}, []string{"result"}),
		cacheErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "entitlement",
			Name:      "cache_errors_total",
			Help:      "Failed entitlement cache operations by operation.",
		}, []string{"op"}),
		sweepExpired: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sweeper",
			Name:      "expired_total",
			Help:      "Subscriptions moved to freemium by the expiration sweep.",
		}),
		sweepRuns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sweeper",
			Name:      "runs_total",
			Help:      "Expiration sweep runs by result (ok, skipped, error).",
		}, []string{"result"}),
		webhookRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "webhook_requests_total",
			Help:      "Webhook requests by endpoint and HTTP status.",
		}, []string{"endpoint", "status"}),
	}
}

func (m *Metrics) Notification(platform, outcome string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(platform, outcome).Inc()
}

func (m *Metrics) ObserveApply(platform string, d time.Duration) {
	if m == nil {
		return
	}
	m.applyDuration.WithLabelValues(platform).Observe(d.Seconds())
}

func (m *Metrics) VersionConflict() {
	if m == nil {
		return
	}
	m.versionConflict.Inc()
}

func (m *Metrics) CacheLookup(result string) {
	if m == nil {
		return
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

func (m *Metrics) CacheError(op string) {
	if m == nil {
		return
	}
	m.cacheErrors.WithLabelValues(op).Inc()
}

func (m *Metrics) SweepRun(result string, expired int) {
	if m == nil {
		return
	}
	m.sweepRuns.WithLabelValues(result).Inc()
	m.sweepExpired.Add(float64(expired))
}

func (m *Metrics) WebhookRequest(endpoint string, status int) {
	if m == nil {
		return
	}
	m.webhookRequests.WithLabelValues(endpoint, statusLabel(status)).Inc()
}

func statusLabel(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	default:
		return "2xx"
	}
}
