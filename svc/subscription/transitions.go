package subscription

import (
	"context"

	"github.com/dmitrymomot/paygate/pkg/statemachine"
)

// transitionTable allows every status to be reached from every status.
// The event is the target status; entering Trial requires an unused trial.
func transitionTable() *statemachine.Table[Status, Status, *Subscription] {
	return statemachine.New[Status, Status, *Subscription]().
		AddFromAll(Statuses, StatusFreemium, StatusFreemium).
		AddFromAll(Statuses, StatusPremium, StatusPremium).
		AddFromAll(Statuses, StatusTrial, StatusTrial, trialAvailable)
}

func trialAvailable(_ context.Context, _, _ Status, sub *Subscription) bool {
	return sub.IsTrialAvailable
}
