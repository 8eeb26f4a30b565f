package subscription

import (
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/paygate/svc/ledger"
)

// Event is a normalized platform notification ready to be applied.
type Event struct {
	AccountID uuid.UUID `validate:"required"`
	Status    Status    `validate:"required,oneof=FREEMIUM TRIAL PREMIUM"`
	Cadence   Cadence   `validate:"omitempty,oneof=ONE_DAY WEEKLY MONTHLY QUARTERLY SEMIANNUAL ANNUAL"`
	Platform  Platform  `validate:"required,oneof=android app_store card"`

	// PlatformKey is the correlation id (purchase token, original
	// transaction id or processor transaction id).
	PlatformKey string `validate:"required,max=512"`
	// IdempotencyKey identifies this delivery. Replays carry the same key.
	IdempotencyKey string `validate:"required,max=1024"`

	Amount        string    `validate:"max=64"`
	TransactionID string    `validate:"required,max=512"`
	OccurredAt    time.Time `validate:"required"`
	AppVersion    string    `validate:"max=64"`

	// DurationDays is the stored product duration, when the catalog has one.
	DurationDays int `validate:"gte=0,lte=3660"`

	// Payment reports a settled charge. Only paid renewals extend an
	// unexpired due date.
	Payment bool `validate:"-"`

	// Identity, when set, is registered in the same transaction.
	Identity *Identity `validate:"-"`

	// Classification is the human-readable mapping label, for logs only.
	Classification string `validate:"-"`
}

// Outcome of applying an event.
type Outcome string

const (
	OutcomeApplied   Outcome = "applied"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeRejected  Outcome = "rejected"
)

// RejectReason explains an OutcomeRejected result.
type RejectReason string

const (
	ReasonTrialConsumed RejectReason = "trial_consumed"
	ReasonStaleEvent    RejectReason = "stale_event"
)

// Result of Engine.Apply. Rejections are expected outcomes, not errors.
type Result struct {
	Outcome      Outcome
	Reason       RejectReason
	Subscription Subscription
	Record       *ledger.Record
}

// Transition is the atomic write produced by a successful apply: the new
// subscription state (conditional on ExpectedVersion), the idempotency key,
// the ledger record and an optional identity to register.
type Transition struct {
	Subscription    Subscription
	ExpectedVersion int64
	Platform        Platform
	IdempotencyKey  string
	Record          ledger.Record
	Identity        *Identity
}
