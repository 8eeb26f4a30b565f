package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/dmitrymomot/paygate/pkg/logger"
	"github.com/dmitrymomot/paygate/svc/statusmap"
	"github.com/dmitrymomot/paygate/svc/subscription"
)

// StripeConfig configures the card-processor webhook.
type StripeConfig struct {
	WebhookSecret string        `env:"STRIPE_WEBHOOK_SECRET"`
	Tolerance     time.Duration `env:"STRIPE_WEBHOOK_TOLERANCE" envDefault:"5m"`
}

// metadataAccountID is the metadata key carrying the paygate account id on
// checkout sessions, subscriptions and invoices.
const metadataAccountID = "account_id"

// expandableID decodes a Stripe reference that is either an id string or
// an expanded object.
type expandableID string

func (e *expandableID) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*e = expandableID(s)
		return nil
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	*e = expandableID(obj.ID)
	return nil
}

// stripeInvoice is the part of an invoice the ingestor reads. It accepts
// both the legacy line "price" object and the newer "pricing" details.
type stripeInvoice struct {
	ID         string            `json:"id"`
	Customer   expandableID      `json:"customer"`
	AmountPaid int64             `json:"amount_paid"`
	Metadata   map[string]string `json:"metadata"`
	Lines      struct {
		Data []struct {
			Metadata map[string]string `json:"metadata"`
			Price    *struct {
				ID       string            `json:"id"`
				Nickname string            `json:"nickname"`
				Metadata map[string]string `json:"metadata"`
			} `json:"price"`
			Pricing *struct {
				PriceDetails *struct {
					Price string `json:"price"`
				} `json:"price_details"`
			} `json:"pricing"`
		} `json:"data"`
	} `json:"lines"`
	Parent *struct {
		SubscriptionDetails *struct {
			Metadata map[string]string `json:"metadata"`
		} `json:"subscription_details"`
	} `json:"parent"`
}

// Stripe ingests card-processor webhooks.
type Stripe struct {
	engine     Engine
	identities Identities
	catalog    Catalog
	cfg        StripeConfig
	options
}

func NewStripe(engine Engine, identities Identities, c Catalog, cfg StripeConfig, opts ...Option) *Stripe {
	return &Stripe{
		engine:     engine,
		identities: identities,
		catalog:    c,
		cfg:        cfg,
		options:    newOptions(opts),
	}
}

// HandleWebhook verifies the signature over the exact request body and
// processes the event. A nil error means the request must be acknowledged.
func (s *Stripe) HandleWebhook(ctx context.Context, payload []byte, signature string) (Disposition, error) {
	d, err := s.handle(ctx, payload, signature)
	return s.finish(ctx, subscription.PlatformCard, payload, d, err)
}

func (s *Stripe) handle(ctx context.Context, payload []byte, signature string) (Disposition, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signature, s.cfg.WebhookSecret,
		webhook.ConstructEventOptions{
			Tolerance:                s.cfg.Tolerance,
			IgnoreAPIVersionMismatch: true,
		})
	if err != nil {
		return "", errors.Join(ErrVerification, err)
	}

	eventType := string(event.Type)
	mapped, err := statusmap.Stripe(eventType)
	if err != nil {
		return "", err
	}
	if event.Data == nil || len(event.Data.Raw) == 0 {
		return "", fmt.Errorf("%w: event %s has no data", ErrMalformed, event.ID)
	}
	occurredAt := time.Unix(event.Created, 0).UTC()

	switch eventType {
	case statusmap.StripeCheckoutCompleted, statusmap.StripeAsyncPaymentSucceeded, statusmap.StripeAsyncPaymentFailed:
		return s.checkout(ctx, eventType, event.Data.Raw, mapped, occurredAt)
	case statusmap.StripeInvoicePaid:
		return s.invoicePaid(ctx, event.Data.Raw, mapped, occurredAt)
	case statusmap.StripeSubscriptionDeleted:
		return s.subscriptionDeleted(ctx, event.Data.Raw, mapped, occurredAt)
	}

	s.logger.InfoContext(ctx, "stripe event acknowledged without transition",
		logger.EventType(eventType), logger.MessageID(event.ID))
	return DispositionIgnored, nil
}

func (s *Stripe) checkout(ctx context.Context, eventType string, raw json.RawMessage, mapped statusmap.Result, occurredAt time.Time) (Disposition, error) {
	var cs stripe.CheckoutSession
	if err := json.Unmarshal(raw, &cs); err != nil {
		return "", errors.Join(ErrMalformed, err)
	}
	var customerID string
	if cs.Customer != nil {
		customerID = cs.Customer.ID
	}

	accountID, identity, err := s.route(ctx, customerID, cs.ClientReferenceID, cs.Metadata)
	if err != nil {
		return "", err
	}

	switch {
	case eventType == statusmap.StripeAsyncPaymentFailed:
		if _, err := s.engine.SetPaymentPending(ctx, accountID, false); err != nil {
			return "", err
		}
		s.logger.InfoContext(ctx, "asynchronous card payment failed", logger.AccountID(accountID))
		return DispositionRejected, nil

	case cs.Mode == stripe.CheckoutSessionModeSubscription:
		// subscription payments are applied from invoice.paid
		if identity != nil {
			if err := s.identities.RegisterCardCustomer(ctx, accountID, customerID); err != nil {
				return "", err
			}
		}
		return DispositionIgnored, nil

	case cs.PaymentStatus == stripe.CheckoutSessionPaymentStatusUnpaid:
		if _, err := s.engine.SetPaymentPending(ctx, accountID, true); err != nil {
			return "", err
		}
		return DispositionPending, nil
	}

	cadence, err := s.catalog.CadenceForPrice(cs.Metadata["price_nickname"], cs.Metadata)
	if err != nil {
		return "", err
	}

	res, err := s.engine.Apply(ctx, subscription.Event{
		AccountID:      accountID,
		Status:         mapped.Status,
		Cadence:        cadence,
		Platform:       subscription.PlatformCard,
		PlatformKey:    cs.ID,
		IdempotencyKey: cs.ID,
		Amount:         formatCents(cs.AmountTotal),
		TransactionID:  cs.ID,
		OccurredAt:     occurredAt,
		Identity:       identity,
		Payment:        mapped.Payment,
		Classification: mapped.Classification,
	})
	if err != nil {
		return "", err
	}
	return dispositionOf(res), nil
}

func (s *Stripe) invoicePaid(ctx context.Context, raw json.RawMessage, mapped statusmap.Result, occurredAt time.Time) (Disposition, error) {
	var inv stripeInvoice
	if err := json.Unmarshal(raw, &inv); err != nil {
		return "", errors.Join(ErrMalformed, err)
	}
	if inv.ID == "" {
		return "", fmt.Errorf("%w: invoice without id", ErrMalformed)
	}

	metadata := inv.Metadata
	if len(metadata) == 0 && inv.Parent != nil && inv.Parent.SubscriptionDetails != nil {
		metadata = inv.Parent.SubscriptionDetails.Metadata
	}

	accountID, identity, err := s.route(ctx, string(inv.Customer), "", metadata)
	if err != nil {
		return "", err
	}

	cadence, err := s.invoiceCadence(inv, metadata)
	if err != nil {
		return "", err
	}

	res, err := s.engine.Apply(ctx, subscription.Event{
		AccountID:      accountID,
		Status:         mapped.Status,
		Cadence:        cadence,
		Platform:       subscription.PlatformCard,
		PlatformKey:    inv.ID,
		IdempotencyKey: inv.ID,
		Amount:         formatCents(inv.AmountPaid),
		TransactionID:  inv.ID,
		OccurredAt:     occurredAt,
		Identity:       identity,
		Payment:        mapped.Payment,
		Classification: mapped.Classification,
	})
	if err != nil {
		return "", err
	}
	return dispositionOf(res), nil
}

// invoiceCadence prefers explicit cadence metadata, then the price
// nickname, then the catalog entry for the price id.
func (s *Stripe) invoiceCadence(inv stripeInvoice, metadata map[string]string) (subscription.Cadence, error) {
	if metadata["cadence"] != "" {
		return s.catalog.CadenceForPrice("", metadata)
	}

	var priceID string
	for _, line := range inv.Lines.Data {
		if line.Metadata["cadence"] != "" {
			return s.catalog.CadenceForPrice("", line.Metadata)
		}
		if line.Price != nil {
			if c, err := s.catalog.CadenceForPrice(line.Price.Nickname, line.Price.Metadata); err == nil {
				return c, nil
			}
			priceID = line.Price.ID
		}
		if line.Pricing != nil && line.Pricing.PriceDetails != nil {
			priceID = line.Pricing.PriceDetails.Price
		}
		if priceID != "" {
			break
		}
	}
	if priceID == "" {
		return "", fmt.Errorf("%w: invoice %s has no priced line", subscription.ErrUnknownCadence, inv.ID)
	}
	p, err := s.catalog.Lookup(subscription.PlatformCard, priceID)
	if err != nil {
		return "", err
	}
	return p.Cadence, nil
}

func (s *Stripe) subscriptionDeleted(ctx context.Context, raw json.RawMessage, mapped statusmap.Result, occurredAt time.Time) (Disposition, error) {
	var sub stripe.Subscription
	if err := json.Unmarshal(raw, &sub); err != nil {
		return "", errors.Join(ErrMalformed, err)
	}
	var customerID string
	if sub.Customer != nil {
		customerID = sub.Customer.ID
	}

	accountID, identity, err := s.route(ctx, customerID, "", sub.Metadata)
	if err != nil {
		return "", err
	}

	res, err := s.engine.Apply(ctx, subscription.Event{
		AccountID:      accountID,
		Status:         mapped.Status,
		Platform:       subscription.PlatformCard,
		PlatformKey:    sub.ID,
		IdempotencyKey: sub.ID + ":deleted",
		TransactionID:  sub.ID,
		OccurredAt:     occurredAt,
		Identity:       identity,
		Payment:        mapped.Payment,
		Classification: mapped.Classification,
	})
	if err != nil {
		return "", err
	}
	return dispositionOf(res), nil
}

// route resolves the account by customer id, falling back to the account
// id the checkout carried. The fallback links the customer to the account.
func (s *Stripe) route(ctx context.Context, customerID, clientReference string, metadata map[string]string) (uuid.UUID, *subscription.Identity, error) {
	if customerID != "" {
		accountID, err := s.identities.ResolveIdentity(ctx, subscription.PlatformCard, customerID)
		if err == nil {
			return accountID, nil, nil
		}
		if !errors.Is(err, subscription.ErrIdentityNotFound) {
			return uuid.Nil, nil, err
		}
	}

	ref := strings.TrimSpace(clientReference)
	if ref == "" {
		ref = strings.TrimSpace(metadata[metadataAccountID])
	}
	if ref == "" {
		return uuid.Nil, nil, fmt.Errorf("%w: unknown customer %q", ErrUnroutable, customerID)
	}
	accountID, err := uuid.Parse(ref)
	if err != nil {
		return uuid.Nil, nil, fmt.Errorf("%w: invalid account reference", ErrUnroutable)
	}
	if customerID == "" {
		return accountID, nil, nil
	}
	return accountID, &subscription.Identity{
		AccountID:  accountID,
		Platform:   subscription.PlatformCard,
		ExternalID: customerID,
		CreatedAt:  s.now().UTC(),
	}, nil
}
