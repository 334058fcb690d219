package fsm

import "github.com/enetx/g"

// childLink names a machine attached as a nested child (C7).
type childLink struct {
	name  string
	child *Machine
}

// Attach mounts child under this machine as name. Every event dispatched
// to the top-level machine cascades to child after the parent's own
// transition commits (spec.md §4.5 step 9): if child declares the event
// and a candidate guard admits it, child runs its own full commit,
// including cascading further to its own children in turn. A child that
// does not declare the event, or whose candidates all reject it, is
// skipped silently.
//
// Attach refuses to create a cycle: child may not already be an ancestor
// of this machine.
func (m *Machine) Attach(name string, child *Machine) error {
	if child == m || m.hasAncestor(child) {
		return &CycleError{Child: name}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	child.parent = m
	m.children = m.children.Append(&childLink{name: name, child: child})

	return nil
}

// Detach removes the named child, if attached.
func (m *Machine) Detach(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.children = m.children.Iter().Exclude(func(l *childLink) bool {
		if l.name != name {
			return false
		}

		l.child.parent = nil

		return true
	}).Collect()
}

// Child returns the machine attached under name, if any.
func (m *Machine) Child(name string) (*Machine, bool) {
	for link := range m.children.Iter() {
		if link.name == name {
			return link.child, true
		}
	}

	return nil, false
}

// Children returns the names of every attached child, in attachment
// order.
func (m *Machine) Children() g.Slice[string] {
	names := g.Slice[string]{}

	for link := range m.children.Iter() {
		names.Push(link.name)
	}

	return names
}

func (m *Machine) hasAncestor(candidate *Machine) bool {
	for p := m.parent; p != nil; p = p.parent {
		if p == candidate {
			return true
		}
	}

	return false
}
