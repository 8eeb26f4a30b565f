package subscription

import "errors"

var (
	ErrAccountNotFound      = errors.New("account not found")
	ErrAccountExists        = errors.New("account already exists")
	ErrSubscriptionNotFound = errors.New("subscription not found")
	ErrNotGuardian          = errors.New("account does not own a subscription")
	ErrInvalidEvent         = errors.New("invalid subscription event")
	ErrUnknownCadence       = errors.New("unknown billing cadence")
	ErrUnknownDuration      = errors.New("renewal duration cannot be determined")

	// ErrVersionConflict is returned by stores when a conditional write lost
	// a race with another writer.
	ErrVersionConflict = errors.New("subscription was modified concurrently")
	// ErrAlreadyApplied is returned by stores when the idempotency key of a
	// transition has already been recorded.
	ErrAlreadyApplied = errors.New("event already applied")
	// ErrSweepLocked is returned when another sweep holds the lock.
	ErrSweepLocked = errors.New("expiration sweep already running")
)

var (
	ErrIdentityNotFound = errors.New("platform identity not found")
	// ErrIdentityTaken is returned when the external id belongs to another account.
	ErrIdentityTaken = errors.New("platform identity belongs to another account")
	// ErrIdentityLimit is returned when an account already holds a different
	// identity on a platform that allows only one.
	ErrIdentityLimit = errors.New("account already holds an identity on this platform")
)
