package entitlement

import "errors"

var (
	ErrCacheUnavailable = errors.New("entitlement cache unavailable")
	// ErrNoGuardian is returned by Status for a dependent with no linked guardian.
	ErrNoGuardian = errors.New("dependent is not linked to a guardian")
)
