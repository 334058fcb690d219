package fsm

import (
	"time"

	"github.com/enetx/g"
)

// HistoryEntry is one committed transition (C3's H).
type HistoryEntry struct {
	Event     Event
	From      State
	To        State
	Args      []any
	Timestamp time.Time
}

// historyLog is a bounded, append-only FIFO of committed transitions.
// Capacity zero means unlimited; truncation drops the oldest entries.
type historyLog struct {
	entries  g.Slice[HistoryEntry]
	capacity int
}

func newHistoryLog(capacity int) *historyLog {
	return &historyLog{capacity: capacity}
}

// push appends a committed transition, truncating from the front if the
// log is over capacity.
func (h *historyLog) push(entry HistoryEntry) {
	h.entries.Push(entry)

	if h.capacity > 0 && int(h.entries.Len()) > h.capacity {
		overflow := int(h.entries.Len()) - h.capacity
		h.entries = h.entries[overflow:]
	}
}

// all returns a copy of the full log, oldest first.
func (h *historyLog) all() g.Slice[HistoryEntry] {
	return h.entries.Clone()
}

// recent returns a copy of the most recent n entries, oldest first. A
// non-positive n, or one at least the log's length, returns the whole log.
func (h *historyLog) recent(n int) g.Slice[HistoryEntry] {
	if n <= 0 || n >= int(h.entries.Len()) {
		return h.entries.Clone()
	}

	return h.entries[int(h.entries.Len())-n:].Clone()
}
