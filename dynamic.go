package fsm

import (
	"strings"

	"github.com/enetx/g"
)

// reservedNames are the engine's own exported members; a synthesized
// dynamic surface name may never collide with one of these.
var reservedNames = g.SetOf(
	g.String("Send"), g.String("Trigger"), g.String("Can"), g.String("Is"),
	g.String("On"), g.String("Off"), g.String("Once"), g.String("Inject"),
	g.String("AddTransition"), g.String("RemoveTransition"), g.String("Transition"),
	g.String("TransitionWhen"), g.String("Current"), g.String("Context"),
	g.String("History"), g.String("States"), g.String("Attach"), g.String("Detach"),
	g.String("Child"), g.String("Children"), g.String("Reset"), g.String("SetState"),
	g.String("CallEnter"), g.String("Clone"), g.String("Surface"), g.String("ToDOT"),
	g.String("WithHistoryLimit"), g.String("AllTransitions"), g.String("MarshalJSON"),
	g.String("UnmarshalJSON"),
)

// canonicalize applies the dynamic surface's name transform: the first
// character upper-cased, the rest left untouched.
func canonicalize(name g.String) g.String {
	s := string(name)
	if s == "" {
		return name
	}

	return g.String(strings.ToUpper(s[:1]) + s[1:])
}

// Surface is the dynamic dispatch surface (C6): closures synthesized from
// a machine's declared events and states, keyed by the exact names a host
// without runtime method synthesis would otherwise have to hand-write.
type Surface struct {
	// Invoke holds one entry per declared event, keyed by the event's
	// literal name, each calling Trigger(event, args...).
	Invoke map[string]func(args ...any) error
	// Probe holds one entry per declared event, keyed "can<Event>", each
	// calling Can(event, args...).
	Probe map[string]func(args ...any) bool
	// Check holds one entry per reachable state, keyed "is<State>", each
	// calling Is(state).
	Check map[string]func() bool
}

// Surface synthesizes the dynamic dispatch surface from the machine's
// currently declared events and states. It is recomputed on every call
// rather than cached at construction, so it always reflects the table as
// it stands — including transitions added after New(). A synthesized name
// that collides with a reserved engine member is rejected with a
// NameCollisionError, naming the colliding synthesized name.
func (m *Machine) Surface() (*Surface, error) {
	s := &Surface{
		Invoke: make(map[string]func(args ...any) error),
		Probe:  make(map[string]func(args ...any) bool),
		Check:  make(map[string]func() bool),
	}

	for event := range m.table.events.Iter() {
		event := event

		plain := g.String(event)
		if reservedNames.Contains(canonicalize(plain)) {
			return nil, &NameCollisionError{Name: string(plain)}
		}

		probeName := "can" + string(canonicalize(plain))
		if reservedNames.Contains(g.String(probeName)) {
			return nil, &NameCollisionError{Name: probeName}
		}

		s.Invoke[string(plain)] = func(args ...any) error { return m.Trigger(event, args...) }
		s.Probe[probeName] = func(args ...any) bool { return m.Can(event, args...) }
	}

	for state := range m.States().Iter() {
		state := state

		checkName := "is" + string(canonicalize(g.String(state)))
		if reservedNames.Contains(g.String(checkName)) {
			return nil, &NameCollisionError{Name: checkName}
		}

		s.Check[checkName] = func() bool { return m.Is(state) }
	}

	return s, nil
}
