package entitlement

import (
	"context"

	"github.com/google/uuid"

	"github.com/dmitrymomot/paygate/pkg/metrics"
	"github.com/dmitrymomot/paygate/svc/subscription"
)

// Invalidator drops the cached flags of a guardian and its dependents after
// a subscription change.
type Invalidator struct {
	cache   Cache
	metrics *metrics.Metrics
}

func NewInvalidator(c Cache, m *metrics.Metrics) *Invalidator {
	return &Invalidator{cache: c, metrics: m}
}

func (i *Invalidator) InvalidateEntitlements(ctx context.Context, guardianID uuid.UUID, dependentIDs []uuid.UUID) error {
	keys := make([]Key, 0, len(dependentIDs)+1)
	keys = append(keys, Key{AccountID: guardianID, Kind: subscription.KindGuardian})
	for _, id := range dependentIDs {
		keys = append(keys, Key{AccountID: id, Kind: subscription.KindDependent})
	}
	if err := i.cache.InvalidateMany(ctx, keys); err != nil {
		i.metrics.CacheError("invalidate")
		return err
	}
	return nil
}

var _ subscription.Invalidator = (*Invalidator)(nil)
