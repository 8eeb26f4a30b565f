package subscription

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/paygate/pkg/logger"
	"github.com/dmitrymomot/paygate/pkg/metrics"
	"github.com/dmitrymomot/paygate/svc/metalog"
)

// SweepReport summarizes one sweep run.
type SweepReport struct {
	Scanned   int  `json:"scanned"`
	Expired   int  `json:"expired"`
	Conflicts int  `json:"conflicts"`
	Failed    int  `json:"failed"`
	Skipped   bool `json:"skipped"`
}

// Sweeper moves entitled subscriptions past their due date back to freemium.
type Sweeper struct {
	store           Store
	invalidator     Invalidator
	sink            metalog.Sink
	freemiumDueDate *time.Time
	batchSize       int
	now             func() time.Time
	logger          *slog.Logger
	metrics         *metrics.Metrics
}

// SweeperOption configures a Sweeper.
type SweeperOption func(*Sweeper)

func WithSweepInvalidator(inv Invalidator) SweeperOption {
	return func(s *Sweeper) {
		if inv != nil {
			s.invalidator = inv
		}
	}
}

func WithSweepSink(sink metalog.Sink) SweeperOption {
	return func(s *Sweeper) {
		if sink != nil {
			s.sink = sink
		}
	}
}

func WithSweepLogger(l *slog.Logger) SweeperOption {
	return func(s *Sweeper) {
		if l != nil {
			s.logger = l
		}
	}
}

func WithSweepMetrics(m *metrics.Metrics) SweeperOption {
	return func(s *Sweeper) { s.metrics = m }
}

func WithSweepClock(now func() time.Time) SweeperOption {
	return func(s *Sweeper) {
		if now != nil {
			s.now = now
		}
	}
}

// WithSweepBatchSize sets how many subscriptions are loaded per page.
func WithSweepBatchSize(n int) SweeperOption {
	return func(s *Sweeper) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

// WithSweepFreemiumDueDate sets the due date written on expiry. It should
// match the engine's WithFreemiumDueDate.
func WithSweepFreemiumDueDate(d *time.Time) SweeperOption {
	return func(s *Sweeper) {
		if d != nil {
			day := Today(*d)
			s.freemiumDueDate = &day
		}
	}
}

func NewSweeper(store Store, opts ...SweeperOption) *Sweeper {
	s := &Sweeper{
		store:       store,
		invalidator: noopInvalidator{},
		sink:        metalog.NoopSink{},
		batchSize:   200,
		now:         time.Now,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run expires every entitled subscription whose due date is before today.
//
// Only one sweep runs at a time across processes; a run that cannot take
// the lock returns a skipped report and no error. Each expiry is a
// conditional write, so a renewal committed after the page was read wins
// and the account is left alone.
func (s *Sweeper) Run(ctx context.Context) (SweepReport, error) {
	var report SweepReport

	release, err := s.store.AcquireSweepLock(ctx)
	if errors.Is(err, ErrSweepLocked) {
		report.Skipped = true
		s.metrics.SweepRun("skipped", 0)
		s.logger.InfoContext(ctx, "expiration sweep skipped, lock held elsewhere")
		return report, nil
	}
	if err != nil {
		s.metrics.SweepRun("error", 0)
		return report, err
	}
	defer func() {
		// the run context may already be cancelled
		if err := release(context.WithoutCancel(ctx)); err != nil {
			s.logger.WarnContext(ctx, "failed to release sweep lock", logger.Error(err))
		}
	}()

	start := time.Now()
	today := Today(s.now())
	after := uuid.Nil

	for {
		if err := ctx.Err(); err != nil {
			s.metrics.SweepRun("error", report.Expired)
			return report, err
		}

		page, err := s.store.ListExpired(ctx, today, after, s.batchSize)
		if err != nil {
			s.metrics.SweepRun("error", report.Expired)
			return report, err
		}
		if len(page) == 0 {
			break
		}

		for _, sub := range page {
			report.Scanned++
			s.expire(ctx, sub, &report)
		}

		after = page[len(page)-1].AccountID
		if len(page) < s.batchSize {
			break
		}
	}

	s.metrics.SweepRun("ok", report.Expired)
	s.logger.InfoContext(ctx, "expiration sweep finished",
		slog.Int("scanned", report.Scanned),
		slog.Int("expired", report.Expired),
		slog.Int("conflicts", report.Conflicts),
		slog.Int("failed", report.Failed),
		logger.Duration(time.Since(start)),
	)
	return report, nil
}

func (s *Sweeper) expire(ctx context.Context, sub Subscription, report *SweepReport) {
	log := s.logger.With(logger.AccountID(sub.AccountID))

	next := sub
	next.Status = StatusFreemium
	next.DueDate = s.freemiumDueDate
	next.UpdatedAt = s.now().UTC()

	err := s.store.UpdateSubscription(ctx, next, sub.Version)
	switch {
	case errors.Is(err, ErrVersionConflict):
		report.Conflicts++
		log.DebugContext(ctx, "subscription changed during sweep, skipping")
		return
	case err != nil:
		report.Failed++
		log.ErrorContext(ctx, "failed to expire subscription", logger.Error(err))
		return
	}

	report.Expired++
	invalidate(ctx, s.store, s.invalidator, s.logger, sub.AccountID)

	if err := s.sink.RecordStatusChange(ctx, metalog.StatusChange{
		AccountID: sub.AccountID,
		Status:    StatusFreemium.String(),
		Platform:  sub.Platform.String(),
		At:        next.UpdatedAt,
	}); err != nil {
		log.WarnContext(ctx, "failed to record status change", logger.Error(err))
	}
}
