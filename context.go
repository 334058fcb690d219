package fsm

import "github.com/enetx/g"

// Context is the mutable record shared by every handler invoked during a
// single dispatch. Data and Meta hold long-lived and ephemeral
// injected/serializable fields respectively; State reflects whichever
// state a currently-running handler should observe (the old state for
// OnExit, the new state for OnEnter and everything after).
type Context struct {
	State State
	Data  *g.MapSafe[g.String, any]
	Meta  *g.MapSafe[g.String, any]
}

func newContext(initial State) *Context {
	return &Context{
		State: initial,
		Data:  g.NewMapSafe[g.String, any](),
		Meta:  g.NewMapSafe[g.String, any](),
	}
}

// Inject sets or replaces a key in the context's Data map. All handlers
// invoked after the call observe the new value, since every handler of a
// dispatch receives the same live *Context reference.
func (c *Context) Inject(key g.String, value any) {
	c.Data.Set(key, value)
}
