package account

import "errors"

var (
	ErrNotDependent    = errors.New("account is not a dependent")
	ErrEmptyExternalID = errors.New("external id is empty")
	// ErrAppleTransactionLinked is returned when the account already owns a
	// different App Store original transaction id.
	ErrAppleTransactionLinked = errors.New("account is already linked to another App Store subscription")
)
