// Package subscription holds the canonical subscription model and the
// engine that applies normalized platform events to it.
//
// Android, App Store and card-processor notifications are mapped elsewhere
// to a target Status and handed to Engine.Apply as an Event. The engine
// guarantees that:
//
//   - a delivery is applied at most once, keyed by its idempotency key;
//   - the subscription, the idempotency key and the ledger record are
//     committed together or not at all;
//   - concurrent writers for the same account are serialized with a
//     version compare-and-swap, and the loser retries;
//   - consecutive premium renewals never shorten the due date;
//   - the free trial can be entered only once.
//
// Sweeper expires entitled subscriptions whose due date has passed. It uses
// the same conditional write, so a renewal that lands mid-sweep wins.
//
// Cache invalidation and status-history recording happen after commit and
// are best-effort: failures are logged and never roll back a transition.
//
// Basic usage:
//
//	engine := subscription.NewEngine(store,
//		subscription.WithInvalidator(entitlement.NewInvalidator(cache)),
//		subscription.WithLogger(log),
//	)
//	res, err := engine.Apply(ctx, subscription.Event{...})
package subscription
