// Package fsm provides a finite state machine core with guarded
// transitions, layered enter/exit handlers, an ordered subscription bus,
// nested child machines, and a mutable shared context threaded through
// every handler. It is built with types and utilities from the
// github.com/enetx/g library.
package fsm
