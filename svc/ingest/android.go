package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/paygate/pkg/logger"
	"github.com/dmitrymomot/paygate/svc/metalog"
	"github.com/dmitrymomot/paygate/svc/statusmap"
	"github.com/dmitrymomot/paygate/svc/subscription"
)

// AndroidConfig configures the Google Play ingestor.
type AndroidConfig struct {
	// PackageName, when set, must match every notification.
	PackageName string `env:"ANDROID_PACKAGE_NAME"`
}

// rtdn is a Google Play real-time developer notification.
type rtdn struct {
	Version                  string                    `json:"version"`
	PackageName              string                    `json:"packageName"`
	EventTimeMillis          string                    `json:"eventTimeMillis"`
	SubscriptionNotification *subscriptionNotification `json:"subscriptionNotification"`
	TestNotification         *struct {
		Version string `json:"version"`
	} `json:"testNotification"`
}

type subscriptionNotification struct {
	NotificationType int    `json:"notificationType"`
	PurchaseToken    string `json:"purchaseToken"`
	SubscriptionID   string `json:"subscriptionId"`
}

// Android ingests Google Play subscription notifications delivered over
// Cloud Pub/Sub, and purchase confirmations reported by the app.
type Android struct {
	engine     Engine
	identities Identities
	catalog    Catalog
	cfg        AndroidConfig
	options
}

func NewAndroid(engine Engine, identities Identities, c Catalog, cfg AndroidConfig, opts ...Option) *Android {
	return &Android{
		engine:     engine,
		identities: identities,
		catalog:    c,
		cfg:        cfg,
		options:    newOptions(opts),
	}
}

// HandleMessage processes one Pub/Sub message body. A nil error means the
// message must be acknowledged.
func (a *Android) HandleMessage(ctx context.Context, data []byte) (Disposition, error) {
	d, err := a.handle(ctx, data)
	return a.finish(ctx, subscription.PlatformAndroid, data, d, err)
}

func (a *Android) handle(ctx context.Context, data []byte) (Disposition, error) {
	var msg rtdn
	if err := json.Unmarshal(data, &msg); err != nil {
		return "", errors.Join(ErrMalformed, err)
	}
	if a.cfg.PackageName != "" && msg.PackageName != a.cfg.PackageName {
		return "", fmt.Errorf("%w: package %q", ErrWrongApplication, msg.PackageName)
	}
	if msg.TestNotification != nil {
		a.logger.InfoContext(ctx, "android test notification received")
		return DispositionIgnored, nil
	}
	n := msg.SubscriptionNotification
	if n == nil {
		a.logger.DebugContext(ctx, "android notification without subscription payload ignored")
		return DispositionIgnored, nil
	}
	if strings.TrimSpace(n.PurchaseToken) == "" {
		return "", fmt.Errorf("%w: empty purchase token", ErrMalformed)
	}

	millis, err := strconv.ParseInt(msg.EventTimeMillis, 10, 64)
	if err != nil {
		return "", errors.Join(ErrMalformed, err)
	}
	occurredAt := time.UnixMilli(millis).UTC()

	mapped, err := statusmap.Android(n.NotificationType)
	if err != nil {
		return "", err
	}

	accountID, err := a.identities.ResolveIdentity(ctx, subscription.PlatformAndroid, n.PurchaseToken)
	if err != nil {
		return "", err
	}

	product, err := productFor(a.catalog, subscription.PlatformAndroid, n.SubscriptionID, mapped.Status)
	if err != nil {
		return "", err
	}

	res, err := a.engine.Apply(ctx, subscription.Event{
		AccountID:      accountID,
		Status:         mapped.Status,
		Cadence:        product.Cadence,
		Platform:       subscription.PlatformAndroid,
		PlatformKey:    n.PurchaseToken,
		IdempotencyKey: androidKey(n.PurchaseToken, n.NotificationType, millis),
		Amount:         product.Amount,
		TransactionID:  n.PurchaseToken,
		OccurredAt:     occurredAt,
		DurationDays:   product.DurationDays,
		Payment:        mapped.Payment,
		Classification: mapped.Classification,
	})
	if err != nil {
		return "", err
	}
	return dispositionOf(res), nil
}

// androidKey identifies one delivery. A purchase happens once per token, so
// its key omits the event time and matches the app's own confirmation.
func androidKey(token string, notificationType int, eventMillis int64) string {
	if notificationType == statusmap.AndroidPurchased {
		return fmt.Sprintf("%s:%d", token, notificationType)
	}
	return fmt.Sprintf("%s:%d:%d", token, notificationType, eventMillis)
}

// ConfirmPurchaseRequest is sent by the Android app after a purchase.
type ConfirmPurchaseRequest struct {
	AccountID     uuid.UUID `json:"account_id"`
	PurchaseToken string    `json:"purchase_token"`
	ProductID     string    `json:"product_id"`
	AppVersion    string    `json:"app_version"`
}

// ConfirmPurchase registers the purchase token with the account and
// applies the purchase. The later Play notification for the same purchase
// is then a duplicate. Errors are returned to the caller as-is.
func (a *Android) ConfirmPurchase(ctx context.Context, req ConfirmPurchaseRequest) (subscription.Result, error) {
	token := strings.TrimSpace(req.PurchaseToken)
	if token == "" || req.ProductID == "" {
		return subscription.Result{}, fmt.Errorf("%w: purchase token and product id are required", ErrMalformed)
	}
	product, err := a.catalog.Lookup(subscription.PlatformAndroid, req.ProductID)
	if err != nil {
		return subscription.Result{}, err
	}

	mapped, err := statusmap.Android(statusmap.AndroidPurchased)
	if err != nil {
		return subscription.Result{}, err
	}

	res, err := a.engine.Apply(ctx, subscription.Event{
		AccountID:      req.AccountID,
		Status:         mapped.Status,
		Cadence:        product.Cadence,
		Platform:       subscription.PlatformAndroid,
		PlatformKey:    token,
		IdempotencyKey: androidKey(token, statusmap.AndroidPurchased, 0),
		Amount:         product.Amount,
		TransactionID:  token,
		OccurredAt:     a.now().UTC(),
		AppVersion:     req.AppVersion,
		DurationDays:   product.DurationDays,
		Identity: &subscription.Identity{
			AccountID:  req.AccountID,
			Platform:   subscription.PlatformAndroid,
			ExternalID: token,
			CreatedAt:  a.now().UTC(),
		},
		Payment:        mapped.Payment,
		Classification: mapped.Classification,
	})
	if err != nil {
		return subscription.Result{}, err
	}

	if res.Outcome == subscription.OutcomeApplied {
		if err := a.sink.Record(ctx, metalog.Entry{
			UserType:    string(subscription.KindGuardian),
			UserID:      req.AccountID,
			Section:     metalog.SectionPurchaseConfirmed,
			Description: "android purchase " + product.ProductID,
			At:          a.now().UTC(),
		}); err != nil {
			a.logger.WarnContext(ctx, "failed to write metalog entry", logger.AccountID(req.AccountID), logger.Error(err))
		}
	}
	a.metrics.Notification(subscription.PlatformAndroid.String(), "confirm_"+string(res.Outcome))
	return res, nil
}
