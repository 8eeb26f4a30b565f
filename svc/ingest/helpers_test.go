package ingest_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/paygate/svc/account"
	"github.com/dmitrymomot/paygate/svc/catalog"
	"github.com/dmitrymomot/paygate/svc/entitlement"
	"github.com/dmitrymomot/paygate/svc/ingest"
	"github.com/dmitrymomot/paygate/svc/storage/memory"
	"github.com/dmitrymomot/paygate/svc/subscription"
)

var fixedNow = time.Date(2026, 3, 10, 12, 30, 0, 0, time.UTC)

func clock() time.Time { return fixedNow }

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

var discard = slog.New(slog.DiscardHandler)

type fixture struct {
	store    *memory.Store
	engine   *subscription.Engine
	accounts *account.Service
	catalog  *catalog.Catalog
	cache    *entitlement.MemoryCache
	guardian uuid.UUID
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	store := memory.New()
	cache := entitlement.NewMemoryCache(64)
	f := fixture{
		store: store,
		cache: cache,
		engine: subscription.NewEngine(store,
			subscription.WithInvalidator(entitlement.NewInvalidator(cache, nil)),
			subscription.WithClock(clock),
			subscription.WithLogger(discard),
			subscription.WithConflictRetry(3, time.Millisecond),
		),
		accounts: account.NewService(store, account.WithClock(clock), account.WithLogger(discard)),
		catalog:  catalog.Default(),
	}
	acct, _, err := f.accounts.SignUpGuardian(context.Background(), uuid.New())
	require.NoError(t, err)
	f.guardian = acct.ID
	return f
}

func (f fixture) subscription(t *testing.T) subscription.Subscription {
	t.Helper()
	sub, err := f.store.GetSubscription(context.Background(), f.guardian)
	require.NoError(t, err)
	return sub
}

func ingestOpts() []ingest.Option {
	return []ingest.Option{ingest.WithLogger(discard), ingest.WithClock(clock)}
}

// brokenEngine fails every call like an unreachable database.
type brokenEngine struct{}

var errDatabaseDown = errors.New("database down")

func (brokenEngine) Apply(context.Context, subscription.Event) (subscription.Result, error) {
	return subscription.Result{}, errDatabaseDown
}

func (brokenEngine) SetPaymentPending(context.Context, uuid.UUID, bool) (subscription.Subscription, error) {
	return subscription.Subscription{}, errDatabaseDown
}
