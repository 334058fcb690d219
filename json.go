package fsm

import (
	"encoding/json"
	"fmt"

	"github.com/enetx/g"
)

// Snapshot is the serializable projection of a machine's state (C3): its
// current state, its committed history, and its context's Data/Meta.
// Declared transitions, subscribers, and children are structural, not
// data, and are never part of a snapshot.
type Snapshot struct {
	Current State                 `json:"current"`
	History g.Slice[HistoryEntry] `json:"history"`
	Data    g.Map[g.String, any]  `json:"data"`
	Meta    g.Map[g.String, any]  `json:"meta"`
}

// MarshalJSON implements json.Marshaler by encoding a Snapshot.
func (m *Machine) MarshalJSON() ([]byte, error) {
	m.mu.Lock()
	snap := Snapshot{
		Current: m.current,
		History: m.history.all(),
		Data:    m.ctx.Data.Iter().Collect(),
		Meta:    m.ctx.Meta.Iter().Collect(),
	}
	m.mu.Unlock()

	return json.Marshal(snap)
}

// UnmarshalJSON implements json.Unmarshaler by restoring a Snapshot taken
// from a machine with the same declared states. Every state named by the
// snapshot's Current field or its history entries must be a state this
// machine's table actually declares; an unrecognized state is rejected
// rather than silently accepted, since the table defines what "valid"
// means here, not the blob being loaded.
func (m *Machine) UnmarshalJSON(data []byte) error {
	var snap Snapshot

	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("fsm: unmarshal snapshot: %w", err)
	}

	states := m.States()
	if !states.Contains(snap.Current) {
		return &UnknownStateError{State: snap.Current}
	}

	for entry := range snap.History.Iter() {
		if !states.Contains(entry.From) {
			return &UnknownStateError{State: entry.From}
		}

		if !states.Contains(entry.To) {
			return &UnknownStateError{State: entry.To}
		}
	}

	m.mu.Lock()
	m.current = snap.Current
	m.history = newHistoryLog(m.history.capacity)

	for entry := range snap.History.Iter() {
		m.history.push(entry)
	}

	m.ctx.State = snap.Current
	m.ctx.Data = snap.Data.ToMapSafe()
	m.ctx.Meta = snap.Meta.ToMapSafe()
	m.mu.Unlock()

	return nil
}
