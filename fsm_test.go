package fsm_test

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	. "github.com/enetx/g"
	. "github.com/orbitfsm/fsm"
)

func assertEqual[T comparable](t *testing.T, got, want T) {
	t.Helper()

	if got != want {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func assertNoError(t *testing.T, err error) {
	t.Helper()

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func assertError(t *testing.T, err error) {
	t.Helper()

	if err == nil {
		t.Fatalf("expected error, got nil")
	}
}

func assertTrue(t *testing.T, cond bool) {
	t.Helper()

	if !cond {
		t.Fatalf("expected true, got false")
	}
}

func assertFalse(t *testing.T, cond bool) {
	t.Helper()

	if cond {
		t.Fatalf("expected false, got true")
	}
}

func TestBasicTransition(t *testing.T) {
	m := New("idle").
		Transition("idle", "start", "running").
		Transition("running", "stop", "idle")

	assertEqual(t, m.Current(), State("idle"))
	assertNoError(t, m.Trigger("start"))
	assertEqual(t, m.Current(), State("running"))
	assertNoError(t, m.Trigger("stop"))
	assertEqual(t, m.Current(), State("idle"))
}

func TestGuardSelectsFirstAdmittingCandidate(t *testing.T) {
	var entered State

	m := New("ready").
		AddTransition(TransitionSpec{
			From:  []State{"ready"},
			Event: "go",
			To:    "blocked",
			Guard: func(ctx *Context, args ...any) bool { return false },
		}).
		AddTransition(TransitionSpec{
			From: []State{"ready"},
			Event: "go",
			To:   "done",
			OnEnter: func(ctx *Context, args ...any) error {
				entered = ctx.State
				return nil
			},
		})

	assertNoError(t, m.Trigger("go"))
	assertEqual(t, m.Current(), State("done"))
	assertEqual(t, entered, State("done"))
}

func TestGuardRejectionLeavesStateUnchanged(t *testing.T) {
	ok := false

	m := New("ready").
		TransitionWhen("ready", "go", "done", func(ctx *Context, args ...any) bool { return ok })

	assertError(t, m.Trigger("go"))
	assertEqual(t, m.Current(), State("ready"))

	ok = true
	assertNoError(t, m.Trigger("go"))
	assertEqual(t, m.Current(), State("done"))
}

func TestOnEnterOnExitOrder(t *testing.T) {
	var order Slice[String]

	m := New("off").
		AddTransition(TransitionSpec{
			From: []State{"off"},
			Event: "toggle",
			To:   "on",
			OnExit: func(ctx *Context, args ...any) error {
				order.Push("exit_off")
				return nil
			},
			OnEnter: func(ctx *Context, args ...any) error {
				order.Push("enter_on")
				return nil
			},
		})

	assertNoError(t, m.Trigger("toggle"))

	if !order.Eq(SliceOf[String]("exit_off", "enter_on")) {
		t.Fatalf("expected order [exit_off enter_on], got %v", order)
	}
}

func TestSubscriberFiresBeforeExit(t *testing.T) {
	var order Slice[String]

	m := New("off").
		AddTransition(TransitionSpec{
			From: []State{"off"},
			Event: "toggle",
			To:   "on",
			OnExit: func(ctx *Context, args ...any) error {
				order.Push("exit")
				return nil
			},
			OnEnter: func(ctx *Context, args ...any) error {
				order.Push("enter")
				return nil
			},
		}).
		On("toggle", func(ctx *Context, args ...any) error {
			order.Push("subscriber")
			return nil
		})

	assertNoError(t, m.Trigger("toggle"))

	if !order.Eq(SliceOf[String]("subscriber", "exit", "enter")) {
		t.Fatalf("expected [subscriber exit enter], got %v", order)
	}
}

func TestOnceSubscriberFiresExactlyOnce(t *testing.T) {
	count := 0

	m := New("a").
		Transition("a", "go", "b").
		Transition("b", "go", "a").
		Once("go", func(ctx *Context, args ...any) error {
			count++
			return nil
		})

	assertNoError(t, m.Trigger("go"))
	assertNoError(t, m.Trigger("go"))
	assertEqual(t, count, 1)
}

func TestOffRemovesSubscriber(t *testing.T) {
	count := 0
	cb := func(ctx *Context, args ...any) error {
		count++
		return nil
	}

	m := New("a").
		Transition("a", "go", "b").
		Transition("b", "go", "a").
		On("go", cb)

	assertNoError(t, m.Trigger("go"))
	m.Off("go", cb)
	assertNoError(t, m.Trigger("go"))
	assertEqual(t, count, 1)
}

func TestReset(t *testing.T) {
	m := New("a").Transition("a", "next", "b")

	m.Context().Data.Set("x", 123)
	assertNoError(t, m.Trigger("next"))
	assertEqual(t, m.Current(), State("b"))
	assertEqual(t, m.Context().Data.Get("x").Unwrap(), 123)

	m.Reset()
	assertEqual(t, m.Current(), State("a"))
	assertTrue(t, m.Context().Data.Get("x").IsNone())
	assertEqual(t, m.History().Len(), 0)
}

func TestHistoryRecordsEveryCommittedTransition(t *testing.T) {
	m := New("x").
		Transition("x", "next", "y").
		Transition("y", "next", "z")

	assertNoError(t, m.Trigger("next"))
	assertNoError(t, m.Trigger("next"))

	h := m.History()
	assertEqual(t, h.Len(), 2)
	assertEqual(t, h[0].From, State("x"))
	assertEqual(t, h[0].To, State("y"))
	assertEqual(t, h[1].From, State("y"))
	assertEqual(t, h[1].To, State("z"))
}

func TestHistoryLimit(t *testing.T) {
	m := New("a").
		Transition("a", "go", "b").
		Transition("b", "go", "a").
		WithHistoryLimit(1)

	assertNoError(t, m.Trigger("go"))
	assertNoError(t, m.Trigger("go"))

	h := m.History()
	assertEqual(t, h.Len(), 1)
	assertEqual(t, h[0].From, State("b"))
}

func TestHistoryRecentReturnsTailOnly(t *testing.T) {
	m := New("a").
		Transition("a", "go", "b").
		Transition("b", "go", "a")

	assertNoError(t, m.Trigger("go"))
	assertNoError(t, m.Trigger("go"))
	assertNoError(t, m.Trigger("go"))

	h := m.History(2)
	assertEqual(t, h.Len(), 2)
	assertEqual(t, h[0].From, State("b"))
	assertEqual(t, h[1].From, State("a"))

	assertEqual(t, m.History(0).Len(), 3)
	assertEqual(t, m.History(100).Len(), 3)
}

func TestOnEnterErrorPropagates(t *testing.T) {
	m := New("s").
		AddTransition(TransitionSpec{
			From: []State{"s"},
			Event: "go",
			To:   "t",
			OnEnter: func(ctx *Context, args ...any) error {
				return fmt.Errorf("fail")
			},
		})

	assertError(t, m.Trigger("go"))
}

func TestUnknownEvent(t *testing.T) {
	m := New("only")
	err := m.Trigger("nope")
	assertError(t, err)

	var unknown *UnknownEventError
	if !asUnknownEvent(err, &unknown) {
		t.Fatalf("expected UnknownEventError, got %T: %v", err, err)
	}
}

func asUnknownEvent(err error, target **UnknownEventError) bool {
	e, ok := err.(*UnknownEventError)
	if ok {
		*target = e
	}

	return ok
}

func TestInvalidTransitionFromWrongState(t *testing.T) {
	m := New("a").Transition("b", "go", "c")
	err := m.Trigger("go")
	assertError(t, err)

	if _, ok := err.(*InvalidTransitionError); !ok {
		t.Fatalf("expected InvalidTransitionError, got %T: %v", err, err)
	}
}

func TestClone(t *testing.T) {
	template := New("a").Transition("a", "next", "b")

	m1 := template.Clone()
	m2 := template.Clone()

	assertNoError(t, m1.Trigger("next"))

	assertEqual(t, m1.Current(), State("b"))
	assertEqual(t, m2.Current(), State("a"))
	assertEqual(t, template.Current(), State("a"))
}

func TestSetStateSkipsHandlers(t *testing.T) {
	entered := false

	m := New("a").
		AddTransition(TransitionSpec{
			From: []State{"a"},
			Event: "go",
			To:   "b",
			OnEnter: func(ctx *Context, args ...any) error {
				entered = true
				return nil
			},
		})

	m.SetState("b")

	assertEqual(t, m.Current(), State("b"))
	assertFalse(t, entered)
}

func TestCallEnterReplaysEntrySideEffect(t *testing.T) {
	entered := false

	m := New("a").
		AddTransition(TransitionSpec{
			From: []State{"a"},
			Event: "go",
			To:   "b",
			OnEnter: func(ctx *Context, args ...any) error {
				entered = true
				return nil
			},
		})

	m.SetState("b")
	assertNoError(t, m.CallEnter("a", "go"))
	assertTrue(t, entered)
	assertEqual(t, m.History().Len(), 0)
}

func TestSharedFromExpansionWrapsOnce(t *testing.T) {
	wraps := 0

	m := New("a").
		AddTransition(TransitionSpec{
			From:  []State{"a", "b", "c"},
			Event: "reset",
			To:    "a",
		})

	for def := range m.AllTransitions().Iter() {
		def.WrapEnter(func(existing Callback) Callback {
			wraps++
			return existing
		})
	}

	assertEqual(t, wraps, 1)
}

func TestSerializationRoundTrip(t *testing.T) {
	template := New("a").Transition("a", "next", "b")

	m := template.Clone()
	m.Context().Data.Set("user_id", 123)
	assertNoError(t, m.Trigger("next"))

	data, err := json.Marshal(m)
	assertNoError(t, err)

	restored := template.Clone()
	assertNoError(t, json.Unmarshal(data, restored))

	assertEqual(t, restored.Current(), State("b"))
	assertEqual(t, restored.History().Len(), 1)
	assertEqual(t, restored.Context().Data.Get("user_id").Unwrap().(float64), 123)
}

func TestSerializationRejectsUnknownState(t *testing.T) {
	m := New("a").Transition("a", "next", "b")
	badJSON := `{"current": "nowhere", "history": [], "data": {}, "meta": {}}`

	err := json.Unmarshal([]byte(badJSON), m)
	assertError(t, err)
	assertTrue(t, strings.Contains(err.Error(), "unknown state"))
}

func TestPanicRecovery(t *testing.T) {
	m := New("a").
		AddTransition(TransitionSpec{
			From: []State{"a"},
			Event: "go",
			To:   "b",
			OnEnter: func(ctx *Context, args ...any) error {
				panic("something went wrong")
			},
		})

	err := m.Trigger("go")
	assertError(t, err)
	assertTrue(t, strings.Contains(err.Error(), "panic"))
}

func TestStates(t *testing.T) {
	m := New("a").
		Transition("a", "to_b", "b").
		Transition("b", "to_c", "c").
		Transition("b", "to_a", "a")

	states := m.States()
	expected := SetOf[State]("a", "b", "c")

	assertEqual(t, SetOf(states...).Len(), expected.Len())
	assertTrue(t, SetOf(states...).Eq(expected))
}

func TestReentrantSendFromHandlerDoesNotDeadlock(t *testing.T) {
	// A handler must use Send (fire-and-forget) rather than Trigger to
	// reenter its own machine: the queued job only drains after this
	// handler returns, so blocking on its Future here would deadlock.
	var m *Machine
	m = New("a").
		AddTransition(TransitionSpec{
			From: []State{"a"},
			Event: "go",
			To:   "b",
			OnEnter: func(ctx *Context, args ...any) error {
				m.Send("go2")
				return nil
			},
		}).
		Transition("b", "go2", "c")

	assertNoError(t, m.Trigger("go"))
	assertEqual(t, m.Current(), State("c"))
	assertEqual(t, m.History().Len(), 2)
}

func TestDynamicSurface(t *testing.T) {
	m := New("idle").Transition("idle", "start", "running")

	surface, err := m.Surface()
	assertNoError(t, err)

	assertTrue(t, surface.Probe["canStart"](
		/* no args needed, guardless */
	))
	assertNoError(t, surface.Invoke["start"]())
	assertTrue(t, surface.Check["isRunning"]())
}

func TestDynamicSurfaceRejectsCollision(t *testing.T) {
	m := New("idle").Transition("idle", "Send", "running")

	_, err := m.Surface()
	assertError(t, err)

	if _, ok := err.(*NameCollisionError); !ok {
		t.Fatalf("expected NameCollisionError, got %T: %v", err, err)
	}
}

func TestNestedChildCascade(t *testing.T) {
	parent := New("idle").Transition("idle", "start", "running")
	child := New("waiting").Transition("waiting", "start", "active")

	assertNoError(t, parent.Attach("child", child))
	assertNoError(t, parent.Trigger("start"))

	assertEqual(t, parent.Current(), State("running"))
	assertEqual(t, child.Current(), State("active"))
}

func TestNestedChildSkippedWhenEventNotDeclared(t *testing.T) {
	parent := New("idle").Transition("idle", "start", "running")
	child := New("waiting").Transition("waiting", "other", "active")

	assertNoError(t, parent.Attach("child", child))
	assertNoError(t, parent.Trigger("start"))

	assertEqual(t, child.Current(), State("waiting"))
}

func TestAttachRejectsCycle(t *testing.T) {
	a := New("a")
	b := New("b")

	assertNoError(t, a.Attach("b", b))

	err := b.Attach("a", a)
	assertError(t, err)

	if _, ok := err.(*CycleError); !ok {
		t.Fatalf("expected CycleError, got %T: %v", err, err)
	}
}

func TestToDOTIncludesStatesAndChildren(t *testing.T) {
	parent := New("idle").Transition("idle", "start", "running")
	child := New("waiting")

	assertNoError(t, parent.Attach("child", child))

	dot := parent.ToDOT()
	assertTrue(t, dot.Contains("digraph FSM"))
	assertTrue(t, dot.Contains("idle"))
	assertTrue(t, dot.Contains("running"))
	assertTrue(t, dot.Contains("nested children"))
}

// TestAlarmClockScenario is the alarm-clock end-to-end scenario: ticking
// a thousand-plus times without first arming the alarm never leaves
// "clock"; after longClickMode, with alarmOn then set in the context,
// reaching the alarm time does.
func TestAlarmClockScenario(t *testing.T) {
	m := New("clock").
		Transition("clock", "tick", "clock").
		Transition("clock", "longClickMode", "clock").
		TransitionWhen("clock", "activateAlarm", "bell", func(ctx *Context, args ...any) bool {
			return ctx.Data.Get("alarmOn").UnwrapOr(false).(bool)
		})

	m.Context().Data.Set("h", 12)
	m.Context().Data.Set("m", 0)
	m.Context().Data.Set("ah", 6)
	m.Context().Data.Set("am", 0)
	m.Context().Data.Set("alarmOn", false)

	m.On("tick", func(ctx *Context, args ...any) error {
		h := ctx.Data.Get("h").UnwrapOr(0).(int)
		mi := ctx.Data.Get("m").UnwrapOr(0).(int)

		mi++
		if mi == 60 {
			mi = 0
			h = (h + 1) % 24
		}

		ctx.Data.Set("h", h)
		ctx.Data.Set("m", mi)

		return nil
	})

	m.On("tick", func(ctx *Context, args ...any) error {
		on := ctx.Data.Get("alarmOn").UnwrapOr(false).(bool)
		h := ctx.Data.Get("h").UnwrapOr(-1).(int)
		mi := ctx.Data.Get("m").UnwrapOr(-1).(int)
		ah := ctx.Data.Get("ah").UnwrapOr(-2).(int)
		am := ctx.Data.Get("am").UnwrapOr(-2).(int)

		if on && h == ah && mi == am {
			// Fire-and-forget: this subscriber is itself running inside a
			// "tick" dispatch on m, so it must not block waiting for the
			// reentrant job — see TestReentrantSendFromHandlerDoesNotDeadlock.
			m.Send("activateAlarm")
		}

		return nil
	})

	for range 18 * 60 {
		assertNoError(t, m.Trigger("tick"))
	}

	assertEqual(t, m.Current(), State("clock"))

	assertNoError(t, m.Trigger("longClickMode"))
	m.Context().Data.Set("alarmOn", true)

	// Both tick runs start from the same clock time; otherwise the second
	// run would continue from wherever the first one left off and never
	// land on the alarm time.
	m.Context().Data.Set("h", 12)
	m.Context().Data.Set("m", 0)

	for range 18 * 60 {
		assertNoError(t, m.Trigger("tick"))
	}

	assertEqual(t, m.Current(), State("bell"))
}

// TestFileUploadScenario is the file-upload end-to-end scenario: finish
// is guarded to admit only when the incoming URL differs from the one
// already stored, and onEnter then records the new URL.
func TestFileUploadScenario(t *testing.T) {
	m := New("pending").
		Transition("pending", "start", "uploading").
		AddTransition(TransitionSpec{
			From:  []State{"uploading"},
			Event: "finish",
			To:    "completed",
			Guard: func(ctx *Context, args ...any) bool {
				url := args[0].(string)
				stored, _ := ctx.Data.Get("url").UnwrapOr("").(string)
				return stored != url
			},
			OnEnter: func(ctx *Context, args ...any) error {
				ctx.Data.Set("url", args[0].(string))
				return nil
			},
		})

	assertNoError(t, m.Trigger("start"))
	assertNoError(t, m.Trigger("finish", "https://x"))

	assertEqual(t, m.Current(), State("completed"))
	assertEqual(t, m.Context().Data.Get("url").Unwrap().(string), "https://x")
}

// TestTaskWithPersistenceScenario wires a save directly to onEnter,
// without going through the persistence package's generic Bind: activate
// attaches tags on entry, and complete uppercases and suffixes each tag
// before saving. The save runs in onEnter rather than onExit, so that the
// persisted record's state reflects the transition's destination
// ("completed") rather than the state being left ("active") — onExit
// fires before the state change commits (engine step 4 vs. step 6), so a
// save there would still observe the old state.
func TestTaskWithPersistenceScenario(t *testing.T) {
	type record struct {
		state string
		tags  []string
	}

	var saved record

	save := func(ctx *Context) error {
		tags, _ := ctx.Data.Get("tags").UnwrapOr([]string(nil)).([]string)
		saved = record{state: string(ctx.State), tags: tags}
		return nil
	}

	m := New("inactive").
		AddTransition(TransitionSpec{
			From:  []State{"inactive"},
			Event: "activate",
			To:    "active",
			OnEnter: func(ctx *Context, args ...any) error {
				ctx.Data.Set("tags", args[0].([]string))
				return nil
			},
		}).
		AddTransition(TransitionSpec{
			From:  []State{"active"},
			Event: "complete",
			To:    "completed",
			OnEnter: func(ctx *Context, args ...any) error {
				tags, _ := ctx.Data.Get("tags").UnwrapOr([]string(nil)).([]string)

				upper := make([]string, len(tags))
				for i, tag := range tags {
					upper[i] = strings.ToUpper(tag) + "-completed"
				}

				ctx.Data.Set("tags", upper)

				return save(ctx)
			},
		})

	assertNoError(t, m.Trigger("activate", []string{"tag one", "tag two"}))
	assertNoError(t, m.Trigger("complete"))

	assertEqual(t, m.Current(), State("completed"))
	assertEqual(t, saved.state, "completed")

	if len(saved.tags) != 2 || saved.tags[0] != "TAG ONE-completed" || saved.tags[1] != "TAG TWO-completed" {
		t.Fatalf("unexpected saved tags: %v", saved.tags)
	}
}
