package events

import (
	"sync"

	"github.com/op/go-logging"
)

var log = logging.MustGetLogger("EVNT")

// Callback is a subscriber callback. Payload types are fixed per topic;
// see the Topic constants.
type Callback func(payload interface{})

type handler struct {
	id uint64
	cb Callback
}

// Subscription identifies one registered callback. Two subscriptions
// are always distinct, even when they share the same underlying
// function; func values carry no usable identity in Go, so detaching
// goes through the handle returned by On rather than the callback
// value itself.
type Subscription struct {
	r     *Registry
	event string
	id    uint64
	once  sync.Once
}

// Close detaches the subscription's callback from the registry. Safe to
// call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		if s.r != nil {
			s.r.detach(s.event, s.id)
		}
	})
}

// Registry is an in-memory mapping of named events to sets of
// subscriber callbacks. It decouples the connection manager from
// consuming components. Nothing here survives a process restart.
type Registry struct {
	mtx      sync.Mutex
	nextID   uint64
	handlers map[string][]handler
}

// NewRegistry returns a new empty registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string][]handler),
	}
}

// On registers cb under the named event and returns a subscription
// used to detach it. Every call registers independently; callbacks are
// invoked in registration order.
func (r *Registry) On(event string, cb Callback) *Subscription {
	if cb == nil {
		return &Subscription{}
	}
	r.mtx.Lock()
	defer r.mtx.Unlock()

	r.nextID++
	r.handlers[event] = append(r.handlers[event], handler{id: r.nextID, cb: cb})
	return &Subscription{
		r:     r,
		event: event,
		id:    r.nextID,
	}
}

func (r *Registry) detach(event string, id uint64) {
	r.mtx.Lock()
	defer r.mtx.Unlock()

	handlers := r.handlers[event]
	for i, h := range handlers {
		if h.id == id {
			r.handlers[event] = append(handlers[:i], handlers[i+1:]...)
			return
		}
	}
}

// Emit synchronously invokes all callbacks currently registered for the
// named event, in registration order. A panicking callback is recovered
// and logged so it cannot prevent the remaining callbacks from running
// or crash the emitter.
func (r *Registry) Emit(event string, payload interface{}) {
	r.mtx.Lock()
	handlers := make([]handler, len(r.handlers[event]))
	copy(handlers, r.handlers[event])
	r.mtx.Unlock()

	for _, h := range handlers {
		invoke(event, h.cb, payload)
	}
}

func invoke(event string, cb Callback, payload interface{}) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Errorf("Recovered panic in %s subscriber: %v", event, rec)
		}
	}()
	cb(payload)
}
