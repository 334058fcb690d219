package fsm

import "github.com/enetx/g"

// transitionTable is the indexed store of declared transitions (C1),
// keyed by the from-state and filtered by event on lookup. A transition
// declared with a set-valued "from" is expanded to one table entry per
// source state; every expansion shares the same *TransitionDef pointer,
// so guards and handlers attached at declaration time are never cloned.
type transitionTable struct {
	byState *g.MapSafe[State, g.Slice[*TransitionDef]]
	events  g.Set[Event]
}

func newTransitionTable() *transitionTable {
	return &transitionTable{
		byState: g.NewMapSafe[State, g.Slice[*TransitionDef]](),
		events:  g.NewSet[Event](),
	}
}

// add appends t under from and records its event as declared.
// Redeclaration (the same key appended again) is permitted.
func (tt *transitionTable) add(from State, t *TransitionDef) {
	tt.byState.Entry(from).
		AndModify(func(s *g.Slice[*TransitionDef]) { *s = s.Append(t) }).
		OrInsert(g.SliceOf(t))

	tt.events.Insert(t.Event)
}

// remove deletes every transition declared for (from, event). Once no
// transition from any state uses event, it is no longer declared.
func (tt *transitionTable) remove(from State, event Event) {
	tt.byState.Entry(from).AndModify(func(s *g.Slice[*TransitionDef]) {
		*s = s.Iter().Exclude(func(t *TransitionDef) bool { return t.Event == event }).Collect()
	})

	for _, list := range tt.byState.Iter() {
		for t := range list.Iter() {
			if t.Event == event {
				return
			}
		}
	}

	delete(tt.events, event)
}

// candidates returns the declared transitions for (from, event) in
// declaration order. An empty result is a legal "no transition" answer.
func (tt *transitionTable) candidates(from State, event Event) g.Slice[*TransitionDef] {
	all := tt.byState.Get(from)
	if all.IsNone() {
		return nil
	}

	return all.Some().Iter().Exclude(func(t *TransitionDef) bool { return t.Event != event }).Collect()
}

// declares reports whether event appears anywhere in the table.
func (tt *transitionTable) declares(event Event) bool {
	return tt.events.Contains(event)
}

// all returns every distinct *TransitionDef in the table, deduplicated by
// pointer identity so that set-expanded transitions are visited once.
func (tt *transitionTable) all() g.Slice[*TransitionDef] {
	seen := g.NewSet[*TransitionDef]()
	out := g.Slice[*TransitionDef]{}

	for _, list := range tt.byState.Iter() {
		for t := range list.Iter() {
			if seen.Contains(t) {
				continue
			}

			seen.Insert(t)
			out.Push(t)
		}
	}

	return out
}

// states returns every state reachable from the table: every from-state
// and every to-state of every declared transition.
func (tt *transitionTable) states() g.Set[State] {
	set := g.NewSet[State]()

	for from, list := range tt.byState.Iter() {
		set.Insert(from)

		for t := range list.Iter() {
			set.Insert(t.To)
		}
	}

	return set
}
