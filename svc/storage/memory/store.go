// Package memory is a map-backed implementation of the subscription, ledger
// and account stores. It honors the same conditional-write and uniqueness
// rules as the Postgres store and is used in tests and local runs.
package memory

import (
	"bytes"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/paygate/svc/ledger"
	"github.com/dmitrymomot/paygate/svc/subscription"
)

type identityKey struct {
	platform   subscription.Platform
	externalID string
}

type appliedKey struct {
	platform subscription.Platform
	key      string
}

type Store struct {
	mu sync.RWMutex

	accounts      map[uuid.UUID]subscription.Account
	subscriptions map[uuid.UUID]subscription.Subscription
	identities    map[identityKey]subscription.Identity
	applied       map[appliedKey]struct{}
	records       []ledger.Record
	sweepLocked   bool
}

func New() *Store {
	return &Store{
		accounts:      make(map[uuid.UUID]subscription.Account),
		subscriptions: make(map[uuid.UUID]subscription.Subscription),
		identities:    make(map[identityKey]subscription.Identity),
		applied:       make(map[appliedKey]struct{}),
	}
}

// Accounts

func (s *Store) CreateAccount(_ context.Context, acct subscription.Account, sub *subscription.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[acct.ID]; ok {
		return subscription.ErrAccountExists
	}
	s.accounts[acct.ID] = acct
	if sub != nil {
		s.subscriptions[acct.ID] = *sub
	}
	return nil
}

func (s *Store) GetAccount(_ context.Context, id uuid.UUID) (subscription.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	acct, ok := s.accounts[id]
	if !ok {
		return subscription.Account{}, subscription.ErrAccountNotFound
	}
	return acct, nil
}

func (s *Store) SetGuardian(_ context.Context, dependentID uuid.UUID, guardianID *uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	acct, ok := s.accounts[dependentID]
	if !ok {
		return subscription.ErrAccountNotFound
	}
	if guardianID != nil {
		id := *guardianID
		guardianID = &id
	}
	acct.GuardianID = guardianID
	s.accounts[dependentID] = acct
	return nil
}

func (s *Store) ListDependents(_ context.Context, guardianID uuid.UUID) ([]uuid.UUID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ids []uuid.UUID
	for _, acct := range s.accounts {
		if acct.GuardianID != nil && *acct.GuardianID == guardianID {
			ids = append(ids, acct.ID)
		}
	}
	slices.SortFunc(ids, func(a, b uuid.UUID) int { return bytes.Compare(a[:], b[:]) })
	return ids, nil
}

// Identities

func (s *Store) RegisterIdentity(_ context.Context, ident subscription.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[ident.AccountID]; !ok {
		return subscription.ErrAccountNotFound
	}
	return s.registerIdentityLocked(ident)
}

func (s *Store) registerIdentityLocked(ident subscription.Identity) error {
	key := identityKey{platform: ident.Platform, externalID: ident.ExternalID}
	if existing, ok := s.identities[key]; ok {
		if existing.AccountID != ident.AccountID {
			return subscription.ErrIdentityTaken
		}
		return nil
	}
	if ident.Platform.SingleIdentity() {
		for k, existing := range s.identities {
			if k.platform == ident.Platform && existing.AccountID == ident.AccountID {
				return subscription.ErrIdentityLimit
			}
		}
	}
	s.identities[key] = ident
	return nil
}

func (s *Store) FindIdentity(_ context.Context, platform subscription.Platform, externalID string) (subscription.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ident, ok := s.identities[identityKey{platform: platform, externalID: externalID}]
	if !ok {
		return subscription.Identity{}, subscription.ErrIdentityNotFound
	}
	return ident, nil
}

// Subscriptions

func (s *Store) GetSubscription(_ context.Context, accountID uuid.UUID) (subscription.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sub, ok := s.subscriptions[accountID]
	if !ok {
		return subscription.Subscription{}, subscription.ErrSubscriptionNotFound
	}
	return sub, nil
}

func (s *Store) IsApplied(_ context.Context, platform subscription.Platform, key string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.applied[appliedKey{platform: platform, key: key}]
	return ok, nil
}

func (s *Store) CommitTransition(_ context.Context, t subscription.Transition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ak := appliedKey{platform: t.Platform, key: t.IdempotencyKey}
	if _, ok := s.applied[ak]; ok {
		return subscription.ErrAlreadyApplied
	}
	cur, ok := s.subscriptions[t.Subscription.AccountID]
	if !ok {
		return subscription.ErrSubscriptionNotFound
	}
	if cur.Version != t.ExpectedVersion {
		return subscription.ErrVersionConflict
	}
	if t.Identity != nil {
		if err := s.registerIdentityLocked(*t.Identity); err != nil {
			return err
		}
	}

	next := t.Subscription
	next.Version = cur.Version + 1
	s.subscriptions[next.AccountID] = next
	s.applied[ak] = struct{}{}
	s.records = append(s.records, t.Record)
	return nil
}

func (s *Store) UpdateSubscription(_ context.Context, sub subscription.Subscription, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.subscriptions[sub.AccountID]
	if !ok {
		return subscription.ErrSubscriptionNotFound
	}
	if cur.Version != expectedVersion {
		return subscription.ErrVersionConflict
	}
	sub.Version = cur.Version + 1
	s.subscriptions[sub.AccountID] = sub
	return nil
}

func (s *Store) ListExpired(_ context.Context, today time.Time, after uuid.UUID, limit int) ([]subscription.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []subscription.Subscription
	for _, sub := range s.subscriptions {
		if !sub.IsExpired(today) || bytes.Compare(sub.AccountID[:], after[:]) <= 0 {
			continue
		}
		out = append(out, sub)
	}
	slices.SortFunc(out, func(a, b subscription.Subscription) int {
		return bytes.Compare(a.AccountID[:], b.AccountID[:])
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) AcquireSweepLock(context.Context) (func(context.Context) error, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sweepLocked {
		return nil, subscription.ErrSweepLocked
	}
	s.sweepLocked = true
	return func(context.Context) error {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.sweepLocked = false
		return nil
	}, nil
}

// Ledger

func (s *Store) Append(_ context.Context, rec ledger.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records = append(s.records, rec)
	return nil
}

func (s *Store) History(_ context.Context, accountID uuid.UUID) ([]ledger.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []ledger.Record
	for i := len(s.records) - 1; i >= 0; i-- {
		if s.records[i].AccountID == accountID {
			out = append(out, s.records[i])
		}
	}
	slices.SortStableFunc(out, func(a, b ledger.Record) int { return b.CreatedAt.Compare(a.CreatedAt) })
	return out, nil
}

func (s *Store) ListSince(_ context.Context, after ledger.Cursor, limit int) ([]ledger.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []ledger.Record
	for _, rec := range s.records {
		if after.After(rec) {
			out = append(out, rec)
		}
	}
	slices.SortFunc(out, func(a, b ledger.Record) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return bytes.Compare(a.ID[:], b.ID[:])
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

var (
	_ subscription.Store = (*Store)(nil)
	_ ledger.Ledger      = (*Store)(nil)
)
