package subscription

import (
	"time"

	"github.com/google/uuid"
)

// Account is an identity that either owns a subscription (guardian) or
// inherits one (dependent).
type Account struct {
	ID         uuid.UUID
	Kind       AccountKind
	GuardianID *uuid.UUID // set for linked dependents only
	CreatedAt  time.Time
}

// Subscription is the canonical state of a guardian's entitlement.
// Version is incremented on every write and guards conditional updates.
type Subscription struct {
	AccountID            uuid.UUID
	Status               Status
	DueDate              *time.Time // UTC midnight; always set while entitled
	Cadence              Cadence
	Platform             Platform
	IsTrialAvailable     bool
	IsOxxoPendingPayment bool
	LastEventAt          *time.Time
	Version              int64
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// NewSubscription returns the signup state: freemium with trial available.
func NewSubscription(accountID uuid.UUID, now time.Time, freemiumDueDate *time.Time) Subscription {
	return Subscription{
		AccountID:        accountID,
		Status:           StatusFreemium,
		DueDate:          freemiumDueDate,
		IsTrialAvailable: true,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

func (s Subscription) IsEntitled() bool {
	return s.Status.Entitled()
}

// IsExpired reports whether an entitled subscription's due date is before today.
func (s Subscription) IsExpired(today time.Time) bool {
	return s.Status.Entitled() && s.DueDate != nil && s.DueDate.Before(today)
}

// Identity is an external correlation key owned by an account: an Android
// purchase token, an Apple original transaction id or a card-processor
// customer id.
type Identity struct {
	AccountID  uuid.UUID
	Platform   Platform
	ExternalID string
	CreatedAt  time.Time
}

// Today truncates t to the UTC calendar day.
func Today(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
