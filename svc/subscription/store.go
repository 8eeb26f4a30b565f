package subscription

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Store persists accounts and subscriptions. Implementations must make
// CommitTransition and UpdateSubscription atomic conditional writes.
type Store interface {
	GetAccount(ctx context.Context, id uuid.UUID) (Account, error)
	GetSubscription(ctx context.Context, accountID uuid.UUID) (Subscription, error)
	ListDependents(ctx context.Context, guardianID uuid.UUID) ([]uuid.UUID, error)

	// IsApplied reports whether the idempotency key was already recorded.
	IsApplied(ctx context.Context, platform Platform, key string) (bool, error)

	// CommitTransition writes t in one transaction. It returns
	// ErrAlreadyApplied when the key exists and ErrVersionConflict when the
	// stored version differs from t.ExpectedVersion; nothing is written in
	// either case.
	CommitTransition(ctx context.Context, t Transition) error

	// UpdateSubscription replaces the subscription when its stored version
	// equals expectedVersion, without touching the ledger.
	UpdateSubscription(ctx context.Context, sub Subscription, expectedVersion int64) error

	// ListExpired returns entitled subscriptions with a due date before
	// today, ordered by account id and starting after the given id.
	ListExpired(ctx context.Context, today time.Time, after uuid.UUID, limit int) ([]Subscription, error)

	// AcquireSweepLock takes the cross-process sweep lock or returns
	// ErrSweepLocked.
	AcquireSweepLock(ctx context.Context) (release func(context.Context) error, err error)
}

// Invalidator drops cached entitlement for a guardian and its dependents.
type Invalidator interface {
	InvalidateEntitlements(ctx context.Context, guardianID uuid.UUID, dependentIDs []uuid.UUID) error
}

type noopInvalidator struct{}

func (noopInvalidator) InvalidateEntitlements(context.Context, uuid.UUID, []uuid.UUID) error {
	return nil
}
