package statemachine

import (
	"context"
	"fmt"
)

// Guard evaluates whether a transition is allowed for the given data.
type Guard[S comparable, D any] func(ctx context.Context, from, to S, data D) bool

type transition[S comparable, D any] struct {
	to     S
	guards []Guard[S, D]
}

// Table is a stateless transition table. The current state is supplied by the
// caller on every call, which lets persisted entities drive it without
// keeping a machine instance per entity. A Table must be fully built before
// it is used concurrently.
type Table[S comparable, E comparable, D any] struct {
	transitions map[S]map[E][]transition[S, D]
}

func New[S comparable, E comparable, D any]() *Table[S, E, D] {
	return &Table[S, E, D]{transitions: make(map[S]map[E][]transition[S, D])}
}

// Add registers from --event--> to. Several transitions may share the same
// (from, event) pair; the first one whose guards all pass wins.
func (t *Table[S, E, D]) Add(from S, event E, to S, guards ...Guard[S, D]) *Table[S, E, D] {
	if _, ok := t.transitions[from]; !ok {
		t.transitions[from] = make(map[E][]transition[S, D])
	}
	t.transitions[from][event] = append(t.transitions[from][event], transition[S, D]{to: to, guards: guards})
	return t
}

// AddFromAll registers event --> to from every listed source state.
func (t *Table[S, E, D]) AddFromAll(sources []S, event E, to S, guards ...Guard[S, D]) *Table[S, E, D] {
	for _, from := range sources {
		t.Add(from, event, to, guards...)
	}
	return t
}

// Next resolves the target state for event fired in state from.
// It returns *ErrNoTransitionAvailable when nothing is registered and
// *ErrTransitionRejected when every candidate was blocked by a guard.
func (t *Table[S, E, D]) Next(ctx context.Context, from S, event E, data D) (S, error) {
	candidates := t.transitions[from][event]
	if len(candidates) == 0 {
		var zero S
		return zero, &ErrNoTransitionAvailable{State: fmt.Sprint(from), Event: fmt.Sprint(event)}
	}

	for _, tr := range candidates {
		if allow(ctx, from, tr, data) {
			return tr.to, nil
		}
	}

	var zero S
	return zero, &ErrTransitionRejected{State: fmt.Sprint(from), Event: fmt.Sprint(event)}
}

// CanFire reports whether Next would succeed.
func (t *Table[S, E, D]) CanFire(ctx context.Context, from S, event E, data D) bool {
	_, err := t.Next(ctx, from, event, data)
	return err == nil
}

func allow[S comparable, D any](ctx context.Context, from S, tr transition[S, D], data D) bool {
	for _, g := range tr.guards {
		if !g(ctx, from, tr.to, data) {
			return false
		}
	}
	return true
}
