package chatkit

import "sync"

// Subscription identifies one registered event callback. Every register call
// yields a distinct handle, even for closures that happen to share a code
// pointer, so two independent subscriptions can never coalesce into one.
type Subscription uint64

// registration pairs a callback with the handle issued for it.
type registration struct {
	sub Subscription
	fn  eventCallback
}

// eventRegistry is the durable mapping from event name to callbacks.
//
// The registry, not the transport, is the source of truth: the underlying
// socket is torn down and recreated on every reconnect, so the connection
// manager replays the registry onto each fresh transport. Without the
// replay, reconnects would silently drop subscriptions the caller believes
// are still active.
type eventRegistry struct {
	mu       sync.Mutex
	nextSub  Subscription
	handlers map[string][]registration
	live     transport // nil when no socket exists
}

func newEventRegistry() *eventRegistry {
	return &eventRegistry{
		handlers: make(map[string][]registration),
	}
}

// register adds fn to the list for event, attaches it to the live transport
// if one exists, and returns the handle that removes it again.
func (r *eventRegistry) register(event string, fn eventCallback) Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextSub++
	sub := r.nextSub
	r.handlers[event] = append(r.handlers[event], registration{sub: sub, fn: fn})

	if r.live != nil {
		r.live.on(event, fn)
	}
	return sub
}

// unregister removes the subscription identified by sub from the event's
// list. A zero sub clears all handlers for the event. The live transport's
// listener set is rebuilt to match.
func (r *eventRegistry) unregister(event string, sub Subscription) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if sub == 0 {
		delete(r.handlers, event)
	} else {
		regs := r.handlers[event]
		for i, reg := range regs {
			if reg.sub == sub {
				r.handlers[event] = append(regs[:i], regs[i+1:]...)
				break
			}
		}
		if len(r.handlers[event]) == 0 {
			delete(r.handlers, event)
		}
	}

	if r.live != nil {
		r.live.off(event)
		for _, reg := range r.handlers[event] {
			r.live.on(event, reg.fn)
		}
	}
}

// replayOnto attaches every registered (event, callback) pair onto a fresh
// transport and records it as live. Called by the connection manager before
// every connect attempt so subscriptions survive socket recreation.
func (r *eventRegistry) replayOnto(t transport) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.live = t
	for event, regs := range r.handlers {
		for _, reg := range regs {
			t.on(event, reg.fn)
		}
	}
}

// detach forgets the live transport. Called when the socket is torn down.
func (r *eventRegistry) detach(t transport) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.live == t {
		r.live = nil
	}
}
