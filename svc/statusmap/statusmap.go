// Package statusmap translates platform-specific event codes into the
// canonical subscription status.
//
// Every table is total over the codes its platform documents. A code that
// is documented but does not move the subscription is reported as
// informational; anything else returns ErrUnknownEventCode and is never
// defaulted to a status.
package statusmap

import (
	"errors"
	"fmt"

	"github.com/dmitrymomot/paygate/svc/subscription"
)

var ErrUnknownEventCode = errors.New("unknown platform event code")

// Result is the outcome of a mapping. Status is empty when Informational is set.
// Payment is set for codes that report a settled charge.
type Result struct {
	Status         subscription.Status
	Classification string
	Informational  bool
	Payment        bool
}

func status(s subscription.Status, classification string) Result {
	return Result{Status: s, Classification: classification}
}

func paid(classification string) Result {
	return Result{Status: subscription.StatusPremium, Classification: classification, Payment: true}
}

func informational(classification string) Result {
	return Result{Classification: classification, Informational: true}
}

// Google Play real-time developer notification types.
const (
	AndroidRecovered            = 1
	AndroidRenewed              = 2
	AndroidCanceled             = 3
	AndroidPurchased            = 4
	AndroidOnHold               = 5
	AndroidInGracePeriod        = 6
	AndroidRestarted            = 7
	AndroidPriceChangeConfirmed = 8
	AndroidDeferred             = 9
	AndroidPaused               = 10
	AndroidPauseScheduleChanged = 11
	AndroidRevoked              = 12
	AndroidExpired              = 13
)

var androidTable = map[int]Result{
	AndroidRecovered:            paid("SUBSCRIPTION_RECOVERED"),
	AndroidRenewed:              paid("SUBSCRIPTION_RENEWED"),
	AndroidCanceled:             status(subscription.StatusFreemium, "SUBSCRIPTION_CANCELED"),
	AndroidPurchased:            paid("SUBSCRIPTION_PURCHASED"),
	AndroidOnHold:               status(subscription.StatusFreemium, "SUBSCRIPTION_ON_HOLD"),
	AndroidInGracePeriod:        status(subscription.StatusTrial, "SUBSCRIPTION_IN_GRACE_PERIOD"),
	AndroidRestarted:            status(subscription.StatusPremium, "SUBSCRIPTION_RESTARTED"),
	AndroidPriceChangeConfirmed: status(subscription.StatusPremium, "SUBSCRIPTION_PRICE_CHANGE_CONFIRMED"),
	AndroidDeferred:             status(subscription.StatusPremium, "SUBSCRIPTION_DEFERRED"),
	AndroidPaused:               status(subscription.StatusFreemium, "SUBSCRIPTION_PAUSED"),
	AndroidPauseScheduleChanged: status(subscription.StatusFreemium, "SUBSCRIPTION_PAUSE_SCHEDULE_CHANGED"),
	AndroidRevoked:              status(subscription.StatusFreemium, "SUBSCRIPTION_REVOKED"),
	AndroidExpired:              status(subscription.StatusFreemium, "SUBSCRIPTION_EXPIRED"),
}

// Android maps a Google Play subscription notificationType.
func Android(notificationType int) (Result, error) {
	res, ok := androidTable[notificationType]
	if !ok {
		return Result{}, fmt.Errorf("%w: android notificationType %d", ErrUnknownEventCode, notificationType)
	}
	return res, nil
}

// App Store Server Notifications V2 subtypes that change the mapping.
const (
	AppStoreSubtypeGracePeriod = "GRACE_PERIOD"
)

var appStoreTable = map[string]Result{
	"SUBSCRIBED":              paid("SUBSCRIBED"),
	"DID_RENEW":               paid("DID_RENEW"),
	"OFFER_REDEEMED":          paid("OFFER_REDEEMED"),
	"DID_CHANGE_RENEWAL_PREF": status(subscription.StatusPremium, "DID_CHANGE_RENEWAL_PREF"),
	"RENEWAL_EXTENDED":        status(subscription.StatusPremium, "RENEWAL_EXTENDED"),
	"DID_FAIL_TO_RENEW":       status(subscription.StatusFreemium, "DID_FAIL_TO_RENEW"),
	"GRACE_PERIOD_EXPIRED":    status(subscription.StatusFreemium, "GRACE_PERIOD_EXPIRED"),
	"EXPIRED":                 status(subscription.StatusFreemium, "EXPIRED"),
	"REFUND":                  status(subscription.StatusFreemium, "REFUND"),
	"REVOKE":                  status(subscription.StatusFreemium, "REVOKE"),

	"DID_CHANGE_RENEWAL_STATUS": informational("DID_CHANGE_RENEWAL_STATUS"),
	"PRICE_INCREASE":            informational("PRICE_INCREASE"),
	"CONSUMPTION_REQUEST":       informational("CONSUMPTION_REQUEST"),
	"REFUND_DECLINED":           informational("REFUND_DECLINED"),
	"REFUND_REVERSED":           informational("REFUND_REVERSED"),
	"RENEWAL_EXTENSION":         informational("RENEWAL_EXTENSION"),
	"EXTERNAL_PURCHASE_TOKEN":   informational("EXTERNAL_PURCHASE_TOKEN"),
	"TEST":                      informational("TEST"),
}

// AppStore maps an App Store notificationType and subtype. A renewal
// failure inside the billing grace period keeps access as a trial.
func AppStore(notificationType, subtype string) (Result, error) {
	if notificationType == "DID_FAIL_TO_RENEW" && subtype == AppStoreSubtypeGracePeriod {
		return status(subscription.StatusTrial, "DID_FAIL_TO_RENEW.GRACE_PERIOD"), nil
	}
	res, ok := appStoreTable[notificationType]
	if !ok {
		return Result{}, fmt.Errorf("%w: app store notificationType %q", ErrUnknownEventCode, notificationType)
	}
	if subtype != "" && !res.Informational {
		res.Classification += "." + subtype
	}
	return res, nil
}

// Stripe event types handled by the card ingestor.
const (
	StripeCheckoutCompleted      = "checkout.session.completed"
	StripeAsyncPaymentSucceeded  = "checkout.session.async_payment_succeeded"
	StripeAsyncPaymentFailed     = "checkout.session.async_payment_failed"
	StripeInvoicePaid            = "invoice.paid"
	StripeInvoicePaymentFailed   = "invoice.payment_failed"
	StripeSubscriptionUpdated    = "customer.subscription.updated"
	StripeSubscriptionDeleted    = "customer.subscription.deleted"
	StripeCheckoutExpired        = "checkout.session.expired"
	StripeSubscriptionCreated    = "customer.subscription.created"
	StripePaymentIntentSucceeded = "payment_intent.succeeded"
)

var stripeTable = map[string]Result{
	StripeCheckoutCompleted:     paid("CHECKOUT_COMPLETED"),
	StripeAsyncPaymentSucceeded: paid("ASYNC_PAYMENT_SUCCEEDED"),
	StripeInvoicePaid:           paid("INVOICE_PAID"),
	StripeSubscriptionDeleted:   status(subscription.StatusFreemium, "SUBSCRIPTION_DELETED"),

	StripeAsyncPaymentFailed:     informational("ASYNC_PAYMENT_FAILED"),
	StripeInvoicePaymentFailed:   informational("INVOICE_PAYMENT_FAILED"),
	StripeSubscriptionUpdated:    informational("SUBSCRIPTION_UPDATED"),
	StripeSubscriptionCreated:    informational("SUBSCRIPTION_CREATED"),
	StripeCheckoutExpired:        informational("CHECKOUT_EXPIRED"),
	StripePaymentIntentSucceeded: informational("PAYMENT_INTENT_SUCCEEDED"),
}

// Stripe maps a Stripe event type.
func Stripe(eventType string) (Result, error) {
	res, ok := stripeTable[eventType]
	if !ok {
		return Result{}, fmt.Errorf("%w: stripe event %q", ErrUnknownEventCode, eventType)
	}
	return res, nil
}
