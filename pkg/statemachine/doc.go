// Package statemachine provides a generic, stateless finite state machine
// transition table with guards.
//
// Unlike an in-memory machine holding its own current state, a Table is
// asked "given this state and this event, where do we go?". Entities whose
// state is persisted elsewhere (rows guarded by optimistic versioning, for
// instance) evaluate transitions against the freshly loaded state and then
// write the result with their own concurrency control.
//
//	t := statemachine.New[Status, Event, *Subscription]().
//	    AddFromAll(allStatuses, EventActivate, StatusPremium).
//	    AddFromAll(allStatuses, EventStartTrial, StatusTrial, trialAvailable)
//
//	next, err := t.Next(ctx, sub.Status, EventStartTrial, sub)
//	if statemachine.IsTransitionRejectedError(err) {
//	    // trial already consumed
//	}
package statemachine
