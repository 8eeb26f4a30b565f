// Package metalog records account status history and user activity entries
// in an optional secondary database.
//
// The sink is strictly best-effort. When no database is configured the
// NoopSink is used and every call succeeds without doing anything.
package metalog

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// StatusChange is one entry of an account's subscription status history.
type StatusChange struct {
	AccountID uuid.UUID
	Status    string
	Platform  string
	At        time.Time
}

// Entry is a user activity log line. Consecutive entries for the same user
// with the same section are collapsed.
type Entry struct {
	UserType    string
	UserID      uuid.UUID
	Section     string
	Description string
	At          time.Time
}

// Sections written by paygate.
const (
	SectionPurchaseConfirmed = "PURCHASE_CONFIRMED"
	SectionSubscription      = "SUBSCRIPTION"
)

type Sink interface {
	RecordStatusChange(ctx context.Context, change StatusChange) error
	Record(ctx context.Context, entry Entry) error
}

// NoopSink is the "sink unavailable" implementation.
type NoopSink struct{}

func (NoopSink) RecordStatusChange(context.Context, StatusChange) error { return nil }
func (NoopSink) Record(context.Context, Entry) error                    { return nil }
