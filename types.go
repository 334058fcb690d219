package fsm

import "github.com/enetx/g"

type (
	// State represents a finite state in the machine.
	State g.String
	// Event represents an event that drives a transition.
	Event g.String
)

type (
	// GuardFunc decides whether a transition is admissible. An absent guard
	// admits unconditionally.
	GuardFunc func(ctx *Context, args ...any) bool
	// Callback is a transition-scoped OnEnter/OnExit handler.
	Callback func(ctx *Context, args ...any) error
	// SubscriberFunc is a pre-broadcast subscriber registered via On/Once.
	SubscriberFunc func(ctx *Context, args ...any) error
)

// TransitionDef is a single declared transition. Declaring a transition
// with a set-valued "from" expands it into one table entry per source
// state, but every expansion shares this same *TransitionDef by
// reference — Froms records the original declared set for callers that
// want to inspect it; nothing in this package reads it. Dispatch, ToDOT,
// and States all resolve through the table's per-state keys.
type TransitionDef struct {
	Froms []State
	Event Event
	To    State
	Guard GuardFunc

	onEnter Callback
	onExit  Callback
}

// OnEnter returns the transition's enter handler, if any.
func (t *TransitionDef) OnEnter() Callback { return t.onEnter }

// OnExit returns the transition's exit handler, if any.
func (t *TransitionDef) OnExit() Callback { return t.onExit }

// WrapEnter composes the transition's current OnEnter handler with wrap,
// running the existing handler (if any) first. Used by the persistence
// adapter to attach a save-after-enter hook without clobbering a
// user-supplied handler.
func (t *TransitionDef) WrapEnter(wrap func(existing Callback) Callback) {
	t.onEnter = wrap(t.onEnter)
}
