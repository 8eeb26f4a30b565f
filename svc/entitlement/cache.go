package entitlement

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/paygate/svc/subscription"
)

// Key addresses one cached entitlement flag.
type Key struct {
	AccountID uuid.UUID
	Kind      subscription.AccountKind
}

// String renders the storage key, e.g. "guardian_isPremium:<id>".
func (k Key) String() string {
	return fmt.Sprintf("%s_isPremium:%s", k.Kind, k.AccountID)
}

// Cache stores boolean entitlement per account. Implementations are
// best-effort: callers treat every error as a miss.
type Cache interface {
	// Get returns the cached flag and whether it was found.
	Get(ctx context.Context, key Key) (entitled bool, found bool, err error)
	Set(ctx context.Context, key Key, entitled bool, ttl time.Duration) error
	Invalidate(ctx context.Context, key Key) error
	InvalidateMany(ctx context.Context, keys []Key) error
}

// NoopCache disables caching.
type NoopCache struct{}

func (NoopCache) Get(context.Context, Key) (bool, bool, error)        { return false, false, nil }
func (NoopCache) Set(context.Context, Key, bool, time.Duration) error { return nil }
func (NoopCache) Invalidate(context.Context, Key) error               { return nil }
func (NoopCache) InvalidateMany(context.Context, []Key) error         { return nil }
