package subscription

import (
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/dmitrymomot/paygate/pkg/metrics"
	"github.com/dmitrymomot/paygate/svc/metalog"
)

// EngineOption configures an Engine.
type EngineOption func(*Engine)

func WithInvalidator(inv Invalidator) EngineOption {
	return func(e *Engine) {
		if inv != nil {
			e.invalidator = inv
		}
	}
}

func WithSink(sink metalog.Sink) EngineOption {
	return func(e *Engine) {
		if sink != nil {
			e.sink = sink
		}
	}
}

func WithLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

func WithMetrics(m *metrics.Metrics) EngineOption {
	return func(e *Engine) { e.metrics = m }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithRenewalPolicy binds a renewal policy to a platform.
func WithRenewalPolicy(p Platform, policy RenewalPolicy) EngineOption {
	return func(e *Engine) {
		if policy != nil {
			e.policies[p] = policy
		}
	}
}

// WithFreemiumDueDate sets the due date written on every drop to freemium.
// The default clears the due date.
func WithFreemiumDueDate(d *time.Time) EngineOption {
	return func(e *Engine) {
		if d != nil {
			day := Today(*d)
			e.freemiumDueDate = &day
		}
	}
}

// WithConflictRetry bounds retries after a version conflict. Backoff grows
// exponentially from base.
func WithConflictRetry(maxRetries uint64, base time.Duration) EngineOption {
	return func(e *Engine) {
		e.maxRetries = maxRetries
		if base > 0 {
			e.retryBase = base
		}
	}
}

func WithValidator(v *validator.Validate) EngineOption {
	return func(e *Engine) {
		if v != nil {
			e.validate = v
		}
	}
}
