package subscription

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"

	"github.com/dmitrymomot/paygate/pkg/logger"
	"github.com/dmitrymomot/paygate/pkg/metrics"
	"github.com/dmitrymomot/paygate/pkg/statemachine"
	"github.com/dmitrymomot/paygate/svc/ledger"
	"github.com/dmitrymomot/paygate/svc/metalog"
)

// Engine applies normalized platform events to subscriptions.
//
// Each apply is an optimistic read-modify-write: the subscription is read,
// the transition is computed, and the new state, the idempotency key and the
// ledger record are committed together only if the subscription version is
// unchanged. Version conflicts are retried with exponential backoff.
type Engine struct {
	store           Store
	invalidator     Invalidator
	sink            metalog.Sink
	validate        *validator.Validate
	table           *statemachine.Table[Status, Status, *Subscription]
	policies        map[Platform]RenewalPolicy
	freemiumDueDate *time.Time
	maxRetries      uint64
	retryBase       time.Duration
	now             func() time.Time
	logger          *slog.Logger
	metrics         *metrics.Metrics
}

func NewEngine(store Store, opts ...EngineOption) *Engine {
	e := &Engine{
		store:       store,
		invalidator: noopInvalidator{},
		sink:        metalog.NoopSink{},
		validate:    validator.New(validator.WithRequiredStructEnabled()),
		table:       transitionTable(),
		policies:    defaultPolicies(),
		maxRetries:  5,
		retryBase:   20 * time.Millisecond,
		now:         time.Now,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Apply applies ev to the guardian's subscription.
//
// A replay of an already applied idempotency key returns OutcomeDuplicate
// without writing anything. A trial entry after the trial was consumed, or
// an event older than the last applied one, returns OutcomeRejected.
// Errors are reserved for invalid events, unknown accounts and
// infrastructure failures.
func (e *Engine) Apply(ctx context.Context, ev Event) (Result, error) {
	start := time.Now()
	defer func() { e.metrics.ObserveApply(ev.Platform.String(), time.Since(start)) }()

	if err := e.validate.StructCtx(ctx, ev); err != nil {
		return Result{}, errors.Join(ErrInvalidEvent, err)
	}

	acct, err := e.store.GetAccount(ctx, ev.AccountID)
	if err != nil {
		return Result{}, err
	}
	if acct.Kind != KindGuardian {
		return Result{}, ErrNotGuardian
	}

	var res Result
	backoff := retry.WithMaxRetries(e.maxRetries, retry.NewExponential(e.retryBase))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		r, err := e.attempt(ctx, ev)
		if errors.Is(err, ErrVersionConflict) {
			e.metrics.VersionConflict()
			return retry.RetryableError(err)
		}
		res = r
		return err
	})
	if err != nil {
		return Result{}, err
	}

	log := e.logger.With(
		logger.AccountID(ev.AccountID),
		logger.Platform(ev.Platform.String()),
		slog.String("idempotency_key", ev.IdempotencyKey),
	)
	switch res.Outcome {
	case OutcomeApplied:
		log.InfoContext(ctx, "subscription transition applied",
			logger.Status(res.Subscription.Status.String()),
			slog.String("classification", ev.Classification))
		e.afterCommit(ctx, res.Subscription)
	case OutcomeDuplicate:
		log.DebugContext(ctx, "event already applied")
	case OutcomeRejected:
		log.InfoContext(ctx, "subscription transition rejected", slog.String("reason", string(res.Reason)))
	}
	return res, nil
}

func (e *Engine) attempt(ctx context.Context, ev Event) (Result, error) {
	applied, err := e.store.IsApplied(ctx, ev.Platform, ev.IdempotencyKey)
	if err != nil {
		return Result{}, err
	}
	sub, err := e.store.GetSubscription(ctx, ev.AccountID)
	if err != nil {
		return Result{}, err
	}
	if applied {
		return Result{Outcome: OutcomeDuplicate, Subscription: sub}, nil
	}
	if sub.LastEventAt != nil && ev.OccurredAt.Before(*sub.LastEventAt) {
		return Result{Outcome: OutcomeRejected, Reason: ReasonStaleEvent, Subscription: sub}, nil
	}

	target, err := e.table.Next(ctx, sub.Status, ev.Status, &sub)
	if statemachine.IsTransitionRejectedError(err) {
		return Result{Outcome: OutcomeRejected, Reason: ReasonTrialConsumed, Subscription: sub}, nil
	}
	if err != nil {
		return Result{}, err
	}

	next, err := e.nextState(sub, target, ev)
	if err != nil {
		return Result{}, err
	}

	rec := ledger.Record{
		ID:              uuid.New(),
		AccountID:       ev.AccountID,
		Platform:        ev.Platform.String(),
		Status:          next.Status.String(),
		Cadence:         string(next.Cadence),
		Amount:          ev.Amount,
		TransactionID:   ev.TransactionID,
		TransactionDate: ev.OccurredAt.UTC(),
		DueDateAfter:    next.DueDate,
		AppVersion:      ev.AppVersion,
		CreatedAt:       next.UpdatedAt,
	}

	err = e.store.CommitTransition(ctx, Transition{
		Subscription:    next,
		ExpectedVersion: sub.Version,
		Platform:        ev.Platform,
		IdempotencyKey:  ev.IdempotencyKey,
		Record:          rec,
		Identity:        ev.Identity,
	})
	if errors.Is(err, ErrAlreadyApplied) {
		// a concurrent delivery of the same event won
		return Result{Outcome: OutcomeDuplicate, Subscription: sub}, nil
	}
	if err != nil {
		return Result{}, err
	}

	next.Version = sub.Version + 1
	return Result{Outcome: OutcomeApplied, Subscription: next, Record: &rec}, nil
}

// nextState computes the subscription after entering target.
// Due dates are UTC calendar days counted from today. A paid premium
// renewal extends from the current due date when it is still in the
// future. Any other event keeping the same status never shortens the
// current period and never adds to it.
func (e *Engine) nextState(cur Subscription, target Status, ev Event) (Subscription, error) {
	now := e.now().UTC()
	today := Today(now)
	occurred := ev.OccurredAt.UTC()

	next := cur
	next.Status = target
	next.Platform = ev.Platform
	if ev.Cadence != "" {
		next.Cadence = ev.Cadence
	}
	next.LastEventAt = &occurred
	next.UpdatedAt = now

	if !target.Entitled() {
		next.DueDate = e.freemiumDueDate
		return next, nil
	}

	policy, ok := e.policies[ev.Platform]
	if !ok {
		policy = PolicyCadence
	}
	days, err := policy.Days(ev)
	if err != nil {
		return Subscription{}, err
	}

	stillDue := cur.Status == target && cur.DueDate != nil && cur.DueDate.After(today)
	base := today
	if stillDue && ev.Payment && target == StatusPremium {
		base = *cur.DueDate
	}
	due := base.AddDate(0, 0, days)
	if stillDue && cur.DueDate.After(due) {
		due = *cur.DueDate
	}
	next.DueDate = &due
	next.IsTrialAvailable = false
	if target == StatusPremium {
		next.IsOxxoPendingPayment = false
	}
	return next, nil
}

// SetPaymentPending flags or clears an asynchronous card payment (OXXO
// voucher) awaiting settlement. Entitlement is not affected.
func (e *Engine) SetPaymentPending(ctx context.Context, accountID uuid.UUID, pending bool) (Subscription, error) {
	var out Subscription
	backoff := retry.WithMaxRetries(e.maxRetries, retry.NewExponential(e.retryBase))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		sub, err := e.store.GetSubscription(ctx, accountID)
		if err != nil {
			return err
		}
		if sub.IsOxxoPendingPayment == pending {
			out = sub
			return nil
		}

		next := sub
		next.IsOxxoPendingPayment = pending
		next.UpdatedAt = e.now().UTC()
		if err := e.store.UpdateSubscription(ctx, next, sub.Version); err != nil {
			if errors.Is(err, ErrVersionConflict) {
				e.metrics.VersionConflict()
				return retry.RetryableError(err)
			}
			return err
		}
		next.Version = sub.Version + 1
		out = next
		return nil
	})
	return out, err
}

// afterCommit runs the best-effort side effects of a committed transition.
// Failures are logged and never undo the transition.
func (e *Engine) afterCommit(ctx context.Context, sub Subscription) {
	invalidate(ctx, e.store, e.invalidator, e.logger, sub.AccountID)

	err := e.sink.RecordStatusChange(ctx, metalog.StatusChange{
		AccountID: sub.AccountID,
		Status:    sub.Status.String(),
		Platform:  sub.Platform.String(),
		At:        sub.UpdatedAt,
	})
	if err != nil {
		e.logger.WarnContext(ctx, "failed to record status change", logger.AccountID(sub.AccountID), logger.Error(err))
	}
}

func invalidate(ctx context.Context, store Store, inv Invalidator, log *slog.Logger, guardianID uuid.UUID) {
	dependents, err := store.ListDependents(ctx, guardianID)
	if err != nil {
		log.WarnContext(ctx, "failed to list dependents for cache invalidation",
			logger.AccountID(guardianID), logger.Error(err))
	}
	if err := inv.InvalidateEntitlements(ctx, guardianID, dependents); err != nil {
		log.WarnContext(ctx, "failed to invalidate entitlement cache",
			logger.AccountID(guardianID), logger.Error(err))
	}
}
