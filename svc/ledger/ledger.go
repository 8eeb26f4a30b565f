// Package ledger holds the append-only payment history.
//
// Records are immutable once written. The ledger is an audit trail and a
// reporting source; current entitlement is never derived from it.
package ledger

import (
	"bytes"
	"context"
	"time"

	"github.com/google/uuid"
)

// Record is one applied payment event.
type Record struct {
	ID              uuid.UUID  `json:"id"`
	AccountID       uuid.UUID  `json:"account_id"`
	Platform        string     `json:"platform"`
	Status          string     `json:"status"`
	Cadence         string     `json:"cadence,omitempty"`
	Amount          string     `json:"amount,omitempty"`
	TransactionID   string     `json:"transaction_id"`
	TransactionDate time.Time  `json:"transaction_date"`
	DueDateAfter    *time.Time `json:"due_date_after,omitempty"`
	AppVersion      string     `json:"app_version,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

// Ledger is the storage contract for payment records.
type Ledger interface {
	// Append inserts a record. Identical content is stored again;
	// deduplication is the caller's concern.
	Append(ctx context.Context, rec Record) error
	// History returns every record for the account, newest first.
	History(ctx context.Context, accountID uuid.UUID) ([]Record, error)
	// ListSince returns up to limit records positioned after the cursor in
	// (CreatedAt, ID) order, oldest first.
	ListSince(ctx context.Context, after Cursor, limit int) ([]Record, error)
}

// Cursor is a keyset position in the ledger. The zero Cursor starts at the
// beginning.
type Cursor struct {
	CreatedAt time.Time
	ID        uuid.UUID
}

// After reports whether rec sorts after the cursor.
func (c Cursor) After(rec Record) bool {
	if !rec.CreatedAt.Equal(c.CreatedAt) {
		return rec.CreatedAt.After(c.CreatedAt)
	}
	return bytes.Compare(rec.ID[:], c.ID[:]) > 0
}
