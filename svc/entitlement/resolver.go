package entitlement

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/paygate/pkg/logger"
	"github.com/dmitrymomot/paygate/pkg/metrics"
	"github.com/dmitrymomot/paygate/svc/subscription"
)

// DefaultTTL bounds how long a cached flag may lag behind a missed
// invalidation.
const DefaultTTL = 10 * time.Minute

// Store is the read side the resolver needs.
type Store interface {
	GetAccount(ctx context.Context, id uuid.UUID) (subscription.Account, error)
	GetSubscription(ctx context.Context, accountID uuid.UUID) (subscription.Subscription, error)
}

// Principal is the caller whose entitlement is checked. Kind may be left
// empty, in which case it is loaded from the store.
type Principal struct {
	AccountID uuid.UUID
	Kind      subscription.AccountKind
}

// Resolver answers "may this account access premium content now".
type Resolver struct {
	store   Store
	cache   Cache
	ttl     time.Duration
	logger  *slog.Logger
	metrics *metrics.Metrics
}

type ResolverOption func(*Resolver)

func WithCache(c Cache) ResolverOption {
	return func(r *Resolver) {
		if c != nil {
			r.cache = c
		}
	}
}

func WithTTL(ttl time.Duration) ResolverOption {
	return func(r *Resolver) {
		if ttl > 0 {
			r.ttl = ttl
		}
	}
}

func WithLogger(l *slog.Logger) ResolverOption {
	return func(r *Resolver) {
		if l != nil {
			r.logger = l
		}
	}
}

func WithMetrics(m *metrics.Metrics) ResolverOption {
	return func(r *Resolver) { r.metrics = m }
}

func NewResolver(store Store, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		store:  store,
		cache:  NoopCache{},
		ttl:    DefaultTTL,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// IsEntitled reports whether the principal is entitled. A dependent is
// entitled through its linked guardian and never through its own state; an
// unlinked dependent is never entitled. Cache failures fall through to
// the store.
func (r *Resolver) IsEntitled(ctx context.Context, p Principal) (bool, error) {
	var (
		acct   subscription.Account
		loaded bool
	)
	if p.Kind == "" {
		var err error
		if acct, err = r.store.GetAccount(ctx, p.AccountID); err != nil {
			return false, err
		}
		loaded = true
		p.Kind = acct.Kind
		if acct.Kind == subscription.KindDependent && acct.GuardianID == nil {
			return false, nil
		}
	}

	key := Key{AccountID: p.AccountID, Kind: p.Kind}
	entitled, found, err := r.cache.Get(ctx, key)
	switch {
	case err != nil:
		r.metrics.CacheError("get")
		r.logger.WarnContext(ctx, "entitlement cache read failed", logger.AccountID(p.AccountID), logger.Error(err))
	case found:
		r.metrics.CacheLookup("hit")
		return entitled, nil
	default:
		r.metrics.CacheLookup("miss")
	}

	if !loaded {
		if acct, err = r.store.GetAccount(ctx, p.AccountID); err != nil {
			return false, err
		}
	}

	state, err := r.resolve(ctx, acct)
	if err != nil {
		return false, err
	}
	key = Key{AccountID: acct.ID, Kind: acct.Kind}
	if _, noop := r.cache.(NoopCache); noop {
		return state.entitled, nil
	}

	if err := r.cache.Set(ctx, key, state.entitled, r.ttl); err != nil {
		r.metrics.CacheError("set")
		r.logger.WarnContext(ctx, "entitlement cache write failed", logger.AccountID(p.AccountID), logger.Error(err))
		return state.entitled, nil
	}
	return r.revalidate(ctx, key, state), nil
}

// governing identifies the subscription state a cached flag was derived
// from.
type governing struct {
	owner    uuid.UUID
	version  int64
	entitled bool
}

func (r *Resolver) resolve(ctx context.Context, acct subscription.Account) (governing, error) {
	owner := acct.ID
	if acct.Kind == subscription.KindDependent {
		if acct.GuardianID == nil {
			return governing{}, nil
		}
		owner = *acct.GuardianID
	}
	sub, err := r.store.GetSubscription(ctx, owner)
	if err != nil {
		return governing{}, err
	}
	return governing{owner: owner, version: sub.Version, entitled: sub.IsEntitled()}, nil
}

// revalidate re-reads the state after a cache write. A transition or a
// link change that committed in between may have been invalidated before
// the write landed, so a changed state drops the entry. Changes committed
// after this read invalidate the written entry themselves.
func (r *Resolver) revalidate(ctx context.Context, key Key, written governing) bool {
	current, err := r.reload(ctx, key.AccountID)
	if err == nil && current == written {
		return written.entitled
	}
	if ierr := r.cache.Invalidate(ctx, key); ierr != nil {
		r.metrics.CacheError("invalidate")
		r.logger.WarnContext(ctx, "entitlement cache invalidation failed", logger.AccountID(key.AccountID), logger.Error(ierr))
	}
	if err != nil {
		r.logger.WarnContext(ctx, "entitlement recheck failed", logger.AccountID(key.AccountID), logger.Error(err))
		return written.entitled
	}
	return current.entitled
}

func (r *Resolver) reload(ctx context.Context, accountID uuid.UUID) (governing, error) {
	acct, err := r.store.GetAccount(ctx, accountID)
	if err != nil {
		return governing{}, err
	}
	return r.resolve(ctx, acct)
}

// Status returns the subscription that governs the account: its own for a
// guardian, the guardian's for a linked dependent. It always reads the
// store.
func (r *Resolver) Status(ctx context.Context, accountID uuid.UUID) (subscription.Subscription, error) {
	acct, err := r.store.GetAccount(ctx, accountID)
	if err != nil {
		return subscription.Subscription{}, err
	}
	owner := acct.ID
	if acct.Kind == subscription.KindDependent {
		if acct.GuardianID == nil {
			return subscription.Subscription{}, ErrNoGuardian
		}
		owner = *acct.GuardianID
	}
	return r.store.GetSubscription(ctx, owner)
}
