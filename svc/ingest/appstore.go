package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/dmitrymomot/paygate/pkg/logger"
	"github.com/dmitrymomot/paygate/svc/statusmap"
	"github.com/dmitrymomot/paygate/svc/subscription"
)

// AppStoreConfig configures the App Store Server Notifications ingestor.
type AppStoreConfig struct {
	// BundleID, when set, must match every notification.
	BundleID string `env:"APPSTORE_BUNDLE_ID"`
	// RootCertPath points at the Apple root certificate used to verify
	// signed payloads.
	RootCertPath string `env:"APPSTORE_ROOT_CERT_PATH"`
	// SkipVerification decodes payloads without checking signatures.
	SkipVerification bool `env:"APPSTORE_SKIP_VERIFICATION" envDefault:"false"`
}

type notificationPayload struct {
	jwt.RegisteredClaims
	NotificationType string `json:"notificationType"`
	Subtype          string `json:"subtype"`
	NotificationUUID string `json:"notificationUUID"`
	Version          string `json:"version"`
	SignedDate       int64  `json:"signedDate"`
	Data             struct {
		BundleID              string `json:"bundleId"`
		Environment           string `json:"environment"`
		SignedTransactionInfo string `json:"signedTransactionInfo"`
		SignedRenewalInfo     string `json:"signedRenewalInfo"`
	} `json:"data"`
}

type transactionInfo struct {
	jwt.RegisteredClaims
	OriginalTransactionID string `json:"originalTransactionId"`
	TransactionID         string `json:"transactionId"`
	ProductID             string `json:"productId"`
	PurchaseDate          int64  `json:"purchaseDate"`
	ExpiresDate           int64  `json:"expiresDate"`
	AppAccountToken       string `json:"appAccountToken"`
	// Price is in milliunits of Currency.
	Price    int64  `json:"price"`
	Currency string `json:"currency"`
}

type renewalInfo struct {
	jwt.RegisteredClaims
	OriginalTransactionID  string `json:"originalTransactionId"`
	AutoRenewProductID     string `json:"autoRenewProductId"`
	AutoRenewStatus        int    `json:"autoRenewStatus"`
	GracePeriodExpiresDate int64  `json:"gracePeriodExpiresDate"`
}

// AppStore ingests App Store Server Notifications V2.
type AppStore struct {
	engine     Engine
	identities Identities
	catalog    Catalog
	verifier   PayloadVerifier
	cfg        AppStoreConfig
	options
}

func NewAppStore(engine Engine, identities Identities, c Catalog, verifier PayloadVerifier, cfg AppStoreConfig, opts ...Option) *AppStore {
	return &AppStore{
		engine:     engine,
		identities: identities,
		catalog:    c,
		verifier:   verifier,
		cfg:        cfg,
		options:    newOptions(opts),
	}
}

// HandleNotification processes one notification request body
// ({"signedPayload": "..."}). A nil error means the request must be
// acknowledged with a success status.
func (a *AppStore) HandleNotification(ctx context.Context, body []byte) (Disposition, error) {
	d, err := a.handle(ctx, body)
	return a.finish(ctx, subscription.PlatformAppStore, body, d, err)
}

func (a *AppStore) handle(ctx context.Context, body []byte) (Disposition, error) {
	var envelope struct {
		SignedPayload string `json:"signedPayload"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return "", errors.Join(ErrMalformed, err)
	}
	if envelope.SignedPayload == "" {
		return "", fmt.Errorf("%w: empty signedPayload", ErrMalformed)
	}

	var n notificationPayload
	if err := a.verifier.Verify(envelope.SignedPayload, &n); err != nil {
		return "", err
	}
	if a.cfg.BundleID != "" && n.Data.BundleID != "" && n.Data.BundleID != a.cfg.BundleID {
		return "", fmt.Errorf("%w: bundle %q", ErrWrongApplication, n.Data.BundleID)
	}

	mapped, err := statusmap.AppStore(n.NotificationType, n.Subtype)
	if err != nil {
		return "", err
	}
	if mapped.Informational {
		a.logger.InfoContext(ctx, "app store notification acknowledged without transition",
			logger.EventType(n.NotificationType), slog.String("subtype", n.Subtype))
		return DispositionIgnored, nil
	}

	if n.Data.SignedTransactionInfo == "" {
		return "", fmt.Errorf("%w: missing signedTransactionInfo", ErrMalformed)
	}
	var txn transactionInfo
	if err := a.verifier.Verify(n.Data.SignedTransactionInfo, &txn); err != nil {
		return "", err
	}
	if txn.OriginalTransactionID == "" {
		return "", fmt.Errorf("%w: missing originalTransactionId", ErrMalformed)
	}
	if n.Data.SignedRenewalInfo != "" {
		var renewal renewalInfo
		if err := a.verifier.Verify(n.Data.SignedRenewalInfo, &renewal); err != nil {
			return "", err
		}
		if renewal.OriginalTransactionID != txn.OriginalTransactionID {
			return "", fmt.Errorf("%w: renewal info belongs to another transaction", ErrMalformed)
		}
	}

	accountID, identity, err := a.route(ctx, txn)
	if err != nil {
		return "", err
	}

	product, err := productFor(a.catalog, subscription.PlatformAppStore, txn.ProductID, mapped.Status)
	if err != nil {
		return "", err
	}

	amount := product.Amount
	if txn.Price > 0 {
		amount = formatCents(txn.Price / 10)
	}

	occurredAt := time.UnixMilli(n.SignedDate).UTC()
	if n.SignedDate == 0 {
		occurredAt = time.UnixMilli(txn.PurchaseDate).UTC()
	}

	transactionID := txn.TransactionID
	if transactionID == "" {
		transactionID = txn.OriginalTransactionID
	}

	res, err := a.engine.Apply(ctx, subscription.Event{
		AccountID:      accountID,
		Status:         mapped.Status,
		Cadence:        product.Cadence,
		Platform:       subscription.PlatformAppStore,
		PlatformKey:    txn.OriginalTransactionID,
		IdempotencyKey: txn.OriginalTransactionID + ":" + n.NotificationUUID,
		Amount:         amount,
		TransactionID:  transactionID,
		OccurredAt:     occurredAt,
		DurationDays:   product.DurationDays,
		Identity:       identity,
		Payment:        mapped.Payment,
		Classification: mapped.Classification,
	})
	if err != nil {
		return "", err
	}
	return dispositionOf(res), nil
}

// route finds the account by original transaction id. The first
// notification of a subscription is routed by the appAccountToken the app
// set at purchase time, and links the original transaction id to it.
func (a *AppStore) route(ctx context.Context, txn transactionInfo) (uuid.UUID, *subscription.Identity, error) {
	accountID, err := a.identities.ResolveIdentity(ctx, subscription.PlatformAppStore, txn.OriginalTransactionID)
	if err == nil {
		return accountID, nil, nil
	}
	if !errors.Is(err, subscription.ErrIdentityNotFound) {
		return uuid.Nil, nil, err
	}

	token := strings.TrimSpace(txn.AppAccountToken)
	if token == "" {
		return uuid.Nil, nil, fmt.Errorf("%w: unknown original transaction %q", ErrUnroutable, txn.OriginalTransactionID)
	}
	accountID, perr := uuid.Parse(token)
	if perr != nil {
		return uuid.Nil, nil, fmt.Errorf("%w: invalid appAccountToken", ErrUnroutable)
	}
	return accountID, &subscription.Identity{
		AccountID:  accountID,
		Platform:   subscription.PlatformAppStore,
		ExternalID: txn.OriginalTransactionID,
		CreatedAt:  a.now().UTC(),
	}, nil
}
