package fsm

import (
	"reflect"

	"github.com/enetx/g"
)

// subscription is a single (event, callback, once) entry (C2's SUB).
type subscription struct {
	cb   SubscriberFunc
	once bool
}

func funcIdentity(fn SubscriberFunc) uintptr {
	return reflect.ValueOf(fn).Pointer()
}

// subscriptionRegistry holds an ordered, per-event list of subscribers.
// Fan-out preserves registration order; once-subscribers are removed after
// their first invocation.
type subscriptionRegistry struct {
	byEvent *g.MapSafe[Event, g.Slice[*subscription]]
}

func newSubscriptionRegistry() *subscriptionRegistry {
	return &subscriptionRegistry{byEvent: g.NewMapSafe[Event, g.Slice[*subscription]]()}
}

func (r *subscriptionRegistry) append(event Event, sub *subscription) {
	r.byEvent.Entry(event).
		AndModify(func(s *g.Slice[*subscription]) { *s = s.Append(sub) }).
		OrInsert(g.SliceOf(sub))
}

// on registers cb for event, to be invoked on every dispatch of event.
func (r *subscriptionRegistry) on(event Event, cb SubscriberFunc) {
	r.append(event, &subscription{cb: cb})
}

// once registers cb for event, to be invoked on the next dispatch of event
// only, then automatically removed.
func (r *subscriptionRegistry) once(event Event, cb SubscriberFunc) {
	r.append(event, &subscription{cb: cb, once: true})
}

// off removes the first subscriber registered for event whose underlying
// function matches cb by identity.
func (r *subscriptionRegistry) off(event Event, cb SubscriberFunc) {
	target := funcIdentity(cb)

	r.byEvent.Entry(event).AndModify(func(s *g.Slice[*subscription]) {
		removed := false

		*s = s.Iter().
			Exclude(func(sub *subscription) bool {
				if removed {
					return false
				}

				if funcIdentity(sub.cb) == target {
					removed = true
					return true
				}

				return false
			}).
			Collect()
	})
}

// list returns the current subscriber list for event, in registration order.
func (r *subscriptionRegistry) list(event Event) g.Slice[*subscription] {
	subs := r.byEvent.Get(event)
	if subs.IsNone() {
		return nil
	}

	return subs.Some()
}

// consumeOnce drops every once-subscriber that has already fired from
// event's list.
func (r *subscriptionRegistry) consumeOnce(event Event, fired []*subscription) {
	if len(fired) == 0 {
		return
	}

	firedSet := g.NewSet[*subscription]()

	for _, sub := range fired {
		if sub.once {
			firedSet.Insert(sub)
		}
	}

	if firedSet.Len() == 0 {
		return
	}

	r.byEvent.Entry(event).AndModify(func(s *g.Slice[*subscription]) {
		*s = s.Iter().Exclude(func(sub *subscription) bool { return firedSet.Contains(sub) }).Collect()
	})
}
