// Package account manages guardian and dependent accounts, the links
// between them and the external payment identities they own.
package account

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/paygate/pkg/logger"
	"github.com/dmitrymomot/paygate/svc/metalog"
	"github.com/dmitrymomot/paygate/svc/subscription"
)

// Store persists accounts, links and identities.
type Store interface {
	// CreateAccount inserts the account and, for guardians, its subscription.
	CreateAccount(ctx context.Context, acct subscription.Account, sub *subscription.Subscription) error
	GetAccount(ctx context.Context, id uuid.UUID) (subscription.Account, error)
	SetGuardian(ctx context.Context, dependentID uuid.UUID, guardianID *uuid.UUID) error
	ListDependents(ctx context.Context, guardianID uuid.UUID) ([]uuid.UUID, error)
	// RegisterIdentity is idempotent for the owning account.
	RegisterIdentity(ctx context.Context, ident subscription.Identity) error
	FindIdentity(ctx context.Context, platform subscription.Platform, externalID string) (subscription.Identity, error)
}

// Service implements account lifecycle operations.
type Service struct {
	store           Store
	invalidator     subscription.Invalidator
	sink            metalog.Sink
	freemiumDueDate *time.Time
	now             func() time.Time
	logger          *slog.Logger
}

type Option func(*Service)

func WithInvalidator(inv subscription.Invalidator) Option {
	return func(s *Service) {
		if inv != nil {
			s.invalidator = inv
		}
	}
}

func WithSink(sink metalog.Sink) Option {
	return func(s *Service) {
		if sink != nil {
			s.sink = sink
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithFreemiumDueDate sets the due date of new subscriptions.
func WithFreemiumDueDate(d *time.Time) Option {
	return func(s *Service) {
		if d != nil {
			day := subscription.Today(*d)
			s.freemiumDueDate = &day
		}
	}
}

func NewService(store Store, opts ...Option) *Service {
	s := &Service{
		store:       store,
		invalidator: nopInvalidator{},
		sink:        metalog.NoopSink{},
		now:         time.Now,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SignUpGuardian creates a guardian with a freemium subscription and an
// unused trial.
func (s *Service) SignUpGuardian(ctx context.Context, id uuid.UUID) (subscription.Account, subscription.Subscription, error) {
	now := s.now().UTC()
	acct := subscription.Account{ID: id, Kind: subscription.KindGuardian, CreatedAt: now}
	sub := subscription.NewSubscription(id, now, s.freemiumDueDate)
	if err := s.store.CreateAccount(ctx, acct, &sub); err != nil {
		return subscription.Account{}, subscription.Subscription{}, err
	}
	s.logger.InfoContext(ctx, "guardian signed up", logger.AccountID(id))
	return acct, sub, nil
}

// CreateDependent creates a dependent, linked to guardianID when it is set.
func (s *Service) CreateDependent(ctx context.Context, id uuid.UUID, guardianID *uuid.UUID) (subscription.Account, error) {
	if guardianID != nil {
		if err := s.requireGuardian(ctx, *guardianID); err != nil {
			return subscription.Account{}, err
		}
	}
	acct := subscription.Account{ID: id, Kind: subscription.KindDependent, GuardianID: guardianID, CreatedAt: s.now().UTC()}
	if err := s.store.CreateAccount(ctx, acct, nil); err != nil {
		return subscription.Account{}, err
	}
	return acct, nil
}

// LinkDependent attaches a dependent to a guardian, replacing any previous
// link. The dependent's cached flag is dropped so it picks up the new
// guardian's entitlement.
func (s *Service) LinkDependent(ctx context.Context, dependentID, guardianID uuid.UUID) error {
	if err := s.requireDependent(ctx, dependentID); err != nil {
		return err
	}
	if err := s.requireGuardian(ctx, guardianID); err != nil {
		return err
	}
	if err := s.store.SetGuardian(ctx, dependentID, &guardianID); err != nil {
		return err
	}
	s.invalidateDependent(ctx, guardianID, dependentID)
	return nil
}

// UnlinkDependent detaches a dependent from its guardian.
func (s *Service) UnlinkDependent(ctx context.Context, dependentID uuid.UUID) error {
	acct, err := s.store.GetAccount(ctx, dependentID)
	if err != nil {
		return err
	}
	if acct.Kind != subscription.KindDependent {
		return ErrNotDependent
	}
	if acct.GuardianID == nil {
		return nil
	}
	if err := s.store.SetGuardian(ctx, dependentID, nil); err != nil {
		return err
	}
	s.invalidateDependent(ctx, *acct.GuardianID, dependentID)
	return nil
}

// RegisterPurchaseToken records an Android purchase token for the guardian.
// A guardian accumulates tokens; a token owned by another account is rejected.
func (s *Service) RegisterPurchaseToken(ctx context.Context, accountID uuid.UUID, token string) error {
	return s.register(ctx, accountID, subscription.PlatformAndroid, token)
}

// RegisterAppleOriginalTransaction links an App Store original transaction
// id to the guardian. The first id wins: a different one for the same
// account returns ErrAppleTransactionLinked.
func (s *Service) RegisterAppleOriginalTransaction(ctx context.Context, accountID uuid.UUID, originalTransactionID string) error {
	err := s.register(ctx, accountID, subscription.PlatformAppStore, originalTransactionID)
	if errors.Is(err, subscription.ErrIdentityLimit) {
		return errors.Join(ErrAppleTransactionLinked, err)
	}
	return err
}

// RegisterCardCustomer links a card-processor customer id to the guardian.
func (s *Service) RegisterCardCustomer(ctx context.Context, accountID uuid.UUID, customerID string) error {
	return s.register(ctx, accountID, subscription.PlatformCard, customerID)
}

// ResolveIdentity returns the account that owns an external id.
func (s *Service) ResolveIdentity(ctx context.Context, platform subscription.Platform, externalID string) (uuid.UUID, error) {
	ident, err := s.store.FindIdentity(ctx, platform, strings.TrimSpace(externalID))
	if err != nil {
		return uuid.Nil, err
	}
	return ident.AccountID, nil
}

func (s *Service) register(ctx context.Context, accountID uuid.UUID, platform subscription.Platform, externalID string) error {
	externalID = strings.TrimSpace(externalID)
	if externalID == "" {
		return ErrEmptyExternalID
	}
	if err := s.requireGuardian(ctx, accountID); err != nil {
		return err
	}
	err := s.store.RegisterIdentity(ctx, subscription.Identity{
		AccountID:  accountID,
		Platform:   platform,
		ExternalID: externalID,
		CreatedAt:  s.now().UTC(),
	})
	if err != nil {
		return err
	}

	if err := s.sink.Record(ctx, metalog.Entry{
		UserType:    string(subscription.KindGuardian),
		UserID:      accountID,
		Section:     metalog.SectionPurchaseConfirmed,
		Description: "registered " + platform.String() + " identity",
		At:          s.now().UTC(),
	}); err != nil {
		s.logger.WarnContext(ctx, "failed to write metalog entry", logger.AccountID(accountID), logger.Error(err))
	}
	return nil
}

func (s *Service) requireGuardian(ctx context.Context, id uuid.UUID) error {
	acct, err := s.store.GetAccount(ctx, id)
	if err != nil {
		return err
	}
	if acct.Kind != subscription.KindGuardian {
		return subscription.ErrNotGuardian
	}
	return nil
}

func (s *Service) requireDependent(ctx context.Context, id uuid.UUID) error {
	acct, err := s.store.GetAccount(ctx, id)
	if err != nil {
		return err
	}
	if acct.Kind != subscription.KindDependent {
		return ErrNotDependent
	}
	return nil
}

func (s *Service) invalidateDependent(ctx context.Context, guardianID, dependentID uuid.UUID) {
	if err := s.invalidator.InvalidateEntitlements(ctx, guardianID, []uuid.UUID{dependentID}); err != nil {
		s.logger.WarnContext(ctx, "failed to invalidate entitlement cache",
			logger.AccountID(dependentID), logger.Error(err))
	}
}

type nopInvalidator struct{}

func (nopInvalidator) InvalidateEntitlements(context.Context, uuid.UUID, []uuid.UUID) error {
	return nil
}
