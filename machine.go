package fsm

import (
	"fmt"
	"sync"
	"time"

	"github.com/enetx/g"
	"github.com/enetx/g/cmp"
)

// sendJob is one queued dispatch request awaiting the drain loop.
type sendJob struct {
	event  Event
	args   []any
	future *Future
}

// Machine is a single finite state machine instance (the spec's M): a
// current state, a live context, a transition table, a subscription
// registry, a history log, and any attached nested children.
type Machine struct {
	initial State
	table   *transitionTable
	subs    *subscriptionRegistry

	parent   *Machine
	children g.Slice[*childLink]

	mu       sync.Mutex
	current  State
	ctx      *Context
	history  *historyLog
	queue    []*sendJob
	draining bool
}

// New constructs a machine initialized to initial, with an empty
// transition table, subscription registry, and unbounded history.
// Transitions, subscriptions, and children are added via the fluent
// builder methods below before the machine is put into use.
func New(initial State) *Machine {
	return &Machine{
		initial: initial,
		current: initial,
		ctx:     newContext(initial),
		table:   newTransitionTable(),
		subs:    newSubscriptionRegistry(),
		history: newHistoryLog(0),
	}
}

// TransitionSpec is the full-field declaration form from spec.md §6: a
// transition with a set-valued From, an optional guard, and optional
// per-transition enter/exit handlers.
type TransitionSpec struct {
	From    []State
	Event   Event
	To      State
	Guard   GuardFunc
	OnEnter Callback
	OnExit  Callback
}

// Transition is the bare positional shorthand from spec.md §6:
// (from, event, to) with no guard or handlers.
func (m *Machine) Transition(from State, event Event, to State) *Machine {
	return m.AddTransition(TransitionSpec{From: []State{from}, Event: event, To: to})
}

// TransitionWhen is the guarded positional shorthand from spec.md §6:
// (from, event, to, guard).
func (m *Machine) TransitionWhen(from State, event Event, to State, guard GuardFunc) *Machine {
	return m.AddTransition(TransitionSpec{From: []State{from}, Event: event, To: to, Guard: guard})
}

// AddTransition declares a transition with the full field set, including
// handlers. A set-valued From expands into one table entry per source
// state, all sharing the same *TransitionDef by reference (spec.md §4.1).
func (m *Machine) AddTransition(spec TransitionSpec) *Machine {
	if len(spec.From) == 0 {
		panic("fsm: transition must declare at least one from state")
	}

	def := &TransitionDef{
		Froms:   append([]State{}, spec.From...),
		Event:   spec.Event,
		To:      spec.To,
		Guard:   spec.Guard,
		onEnter: spec.OnEnter,
		onExit:  spec.OnExit,
	}

	for _, from := range spec.From {
		m.table.add(from, def)
	}

	return m
}

// RemoveTransition deletes every transition declared for (from, event).
func (m *Machine) RemoveTransition(from State, event Event) *Machine {
	m.table.remove(from, event)
	return m
}

// On registers cb to fire on every dispatch of event, in the pre-broadcast
// step (before guards commit is visible to OnExit/OnEnter).
func (m *Machine) On(event Event, cb SubscriberFunc) *Machine {
	m.subs.on(event, cb)
	return m
}

// Once registers cb to fire on the next dispatch of event only.
func (m *Machine) Once(event Event, cb SubscriberFunc) *Machine {
	m.subs.once(event, cb)
	return m
}

// Off removes the first subscriber registered for event matching cb by
// function identity.
func (m *Machine) Off(event Event, cb SubscriberFunc) *Machine {
	m.subs.off(event, cb)
	return m
}

// Inject sets or replaces a key in the machine's context Data map. Every
// handler invoked after the call observes the new value.
func (m *Machine) Inject(key g.String, value any) *Machine {
	m.ctx.Inject(key, value)
	return m
}

// WithHistoryLimit bounds the history log to the most recent n entries.
// Zero (the default) means unlimited.
func (m *Machine) WithHistoryLimit(n int) *Machine {
	m.mu.Lock()
	m.history.capacity = n
	m.mu.Unlock()

	return m
}

// Current returns the machine's active state.
func (m *Machine) Current() State {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.current
}

// Context returns the machine's live, mutable context.
func (m *Machine) Context() *Context {
	return m.ctx
}

// History returns a snapshot of the committed transition log, oldest
// first. With no argument, or with n <= 0 or n at least the log's length,
// it returns the whole log; otherwise it returns only the most recent n
// entries.
func (m *Machine) History(n ...int) g.Slice[HistoryEntry] {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(n) > 0 {
		return m.history.recent(n[0])
	}

	return m.history.all()
}

// States returns every state reachable from the declared transitions,
// plus the initial state, sorted for deterministic output.
func (m *Machine) States() g.Slice[State] {
	set := m.table.states()
	set.Insert(m.initial)

	states := set.ToSlice()
	states.SortBy(cmp.Cmp)

	return states
}

// AllTransitions returns every distinct declared transition, deduplicated
// by identity. Intended for adapters (e.g. the persistence package) that
// must visit each transition's handlers exactly once.
func (m *Machine) AllTransitions() g.Slice[*TransitionDef] {
	return m.table.all()
}

// Reset returns the machine to its initial state and clears its context
// and history. The declared transitions, subscriptions, and children are
// untouched.
func (m *Machine) Reset() {
	m.mu.Lock()
	m.current = m.initial
	m.ctx = newContext(m.initial)
	m.history = newHistoryLog(m.history.capacity)
	m.mu.Unlock()
}

// SetState forces the current state without running any guard, handler,
// or subscriber, and without recording history. Intended for restoring a
// machine from external storage; see CallEnter to also replay entry
// side effects.
func (m *Machine) SetState(s State) {
	m.mu.Lock()
	m.current = s
	m.ctx.State = s
	m.mu.Unlock()
}

// CallEnter manually invokes the OnEnter handler of the transition that
// would be chosen for (from, event), without evaluating subscribers,
// running OnExit, recording history, or cascading to children. It is
// meant to warm-start a machine that was restored at a known state: call
// it with the (from, event) pair that would have produced that state, to
// re-run just the entry side effect.
func (m *Machine) CallEnter(from State, event Event, args ...any) error {
	candidates := m.table.candidates(from, event)

	chosen := m.selectGuard(candidates, args)
	if chosen == nil {
		return &InvalidTransitionError{From: from, Event: event}
	}

	if chosen.onEnter == nil {
		return nil
	}

	return m.safeCall(chosen.onEnter, "OnEnter", from, chosen.To, event, args)
}

// Clone builds a fresh machine sharing this machine's declared
// transitions and subscriptions, but with its own initial current state,
// context, and history. Children are not cloned.
func (m *Machine) Clone() *Machine {
	return &Machine{
		initial: m.initial,
		current: m.initial,
		ctx:     newContext(m.initial),
		table:   m.table,
		subs:    m.subs,
		history: newHistoryLog(m.history.capacity),
	}
}

// Send enqueues event for dispatch and returns a Future for its result.
// A Send issued while this machine is already draining its queue (i.e.
// from inside one of its own handlers) enqueues and returns immediately;
// otherwise the caller's goroutine drains the queue itself, running this
// and any reentrant jobs to completion before returning.
//
// A handler that reenters its own machine must call Send and let the
// drain loop pick the job up after the handler returns — it must not
// call Wait (directly, or via Trigger) on that Future from within the
// handler, since nothing will drain the queue until the handler itself
// returns. The outermost Send/Trigger still observes the reentrant job's
// result indirectly: drain keeps looping until the queue is empty, so by
// the time the outermost call returns to its caller, every job it
// triggered transitively has also run to completion.
func (m *Machine) Send(event Event, args ...any) *Future {
	job := &sendJob{event: event, args: args, future: newFuture()}

	m.mu.Lock()
	m.queue = append(m.queue, job)

	if m.draining {
		m.mu.Unlock()
		return job.future
	}

	m.draining = true
	m.mu.Unlock()

	m.drain()

	return job.future
}

func (m *Machine) drain() {
	for {
		m.mu.Lock()
		if len(m.queue) == 0 {
			m.draining = false
			m.mu.Unlock()

			return
		}

		job := m.queue[0]
		m.queue = m.queue[1:]
		m.mu.Unlock()

		job.future.resolve(m.dispatch(job.event, job.args))
	}
}

// Trigger is the synchronous convenience for the common top-level call:
// Send(event, args...).Wait().
func (m *Machine) Trigger(event Event, args ...any) error {
	return m.Send(event, args...).Wait()
}

// Can probes whether Send(event, args...) would commit a transition,
// without mutating any state.
func (m *Machine) Can(event Event, args ...any) bool {
	from := m.Current()
	candidates := m.table.candidates(from, event)

	return m.selectGuard(candidates, args) != nil
}

// Is reports whether state equals the machine's current state.
func (m *Machine) Is(state State) bool {
	return m.Current() == state
}

// dispatch runs spec.md §4.5's full nine-step order for a single event on
// the top-level (non-child) machine.
func (m *Machine) dispatch(event Event, args []any) error {
	from := m.Current()

	candidates := m.table.candidates(from, event)
	if candidates.Len() == 0 {
		if !m.table.declares(event) {
			return &UnknownEventError{Event: event}
		}

		return &InvalidTransitionError{From: from, Event: event}
	}

	chosen := m.selectGuard(candidates, args)
	if chosen == nil {
		return &GuardRejectedError{From: from, Event: event}
	}

	return m.commit(from, chosen, event, args)
}

// cascadeIfAdmits is the child-side counterpart of dispatch: it silently
// reports no-op (ran=false, err=nil) when the event is undeclared for the
// child or every candidate guard rejects it, matching spec.md §4.5 step 9
// ("children that do not declare the event are skipped silently").
func (m *Machine) cascadeIfAdmits(event Event, args []any) (bool, error) {
	from := m.Current()

	candidates := m.table.candidates(from, event)
	if candidates.Len() == 0 {
		return false, nil
	}

	chosen := m.selectGuard(candidates, args)
	if chosen == nil {
		return false, nil
	}

	return true, m.commit(from, chosen, event, args)
}

func (m *Machine) selectGuard(candidates g.Slice[*TransitionDef], args []any) *TransitionDef {
	for t := range candidates.Iter() {
		if t.Guard == nil || t.Guard(m.ctx, args...) {
			return t
		}
	}

	return nil
}

// commit runs steps 3-9 of spec.md §4.5 for a transition that has already
// been chosen: pre-broadcast subscribers, OnExit, the state change,
// OnEnter, the history append, then cascade to children.
func (m *Machine) commit(from State, chosen *TransitionDef, event Event, args []any) error {
	to := chosen.To

	m.ctx.State = from

	var fired []*subscription

	for sub := range m.subs.list(event).Iter() {
		fired = append(fired, sub)

		if err := m.safeCall(sub.cb, "Subscriber", from, to, event, args); err != nil {
			m.subs.consumeOnce(event, fired)
			return err
		}
	}

	m.subs.consumeOnce(event, fired)

	if chosen.onExit != nil {
		if err := m.safeCall(chosen.onExit, "OnExit", from, to, event, args); err != nil {
			return err
		}
	}

	m.mu.Lock()
	m.current = to
	m.mu.Unlock()
	m.ctx.State = to

	if chosen.onEnter != nil {
		if err := m.safeCall(chosen.onEnter, "OnEnter", from, to, event, args); err != nil {
			return err
		}
	}

	m.mu.Lock()
	m.history.push(HistoryEntry{Event: event, From: from, To: to, Args: args, Timestamp: time.Now()})
	m.mu.Unlock()

	for link := range m.children.Iter() {
		if _, err := link.child.cascadeIfAdmits(event, args); err != nil {
			return err
		}
	}

	return nil
}

// safeCall invokes a handler/subscriber, recovering from a panic and
// wrapping either outcome into a HandlerError with transition context.
func (m *Machine) safeCall(
	cb func(ctx *Context, args ...any) error,
	hook string,
	from, to State,
	event Event,
	args []any,
) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &HandlerError{HookType: hook, From: from, To: to, Event: event, Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	if cbErr := cb(m.ctx, args...); cbErr != nil {
		err = &HandlerError{HookType: hook, From: from, To: to, Event: event, Err: cbErr}
	}

	return err
}
