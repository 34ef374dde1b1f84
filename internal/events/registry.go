package events

import (
	"encoding/json"
	"sync"

	"github.com/google/uuid"
)

// Handler receives the raw JSON payload of an event. Handlers run on the
// dispatching goroutine and must not block.
type Handler func(payload json.RawMessage)

// Subscription identifies a registered handler.
type Subscription struct {
	ID    uuid.UUID
	Event string
}

// Registry maps event names to subscribed handlers.
type Registry struct {
	mu        sync.RWMutex
	handlers  map[string]map[uuid.UUID]Handler
	refresher func()

	hooks hooks
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{
		handlers: make(map[string]map[uuid.UUID]Handler),
	}
}

// Subscribe registers h for event and returns a handle for Unsubscribe.
func (r *Registry) Subscribe(event string, h Handler) Subscription {
	sub := Subscription{ID: uuid.New(), Event: event}

	r.mu.Lock()
	subs, ok := r.handlers[event]
	if !ok {
		subs = make(map[uuid.UUID]Handler)
		r.handlers[event] = subs
	}
	subs[sub.ID] = h
	r.mu.Unlock()

	return sub
}

// Unsubscribe removes the handler registered under sub. Removing an
// unknown or already removed subscription is a no-op.
func (r *Registry) Unsubscribe(sub Subscription) {
	r.mu.Lock()
	defer r.mu.Unlock()

	subs, ok := r.handlers[sub.Event]
	if !ok {
		return
	}
	delete(subs, sub.ID)
	if len(subs) == 0 {
		delete(r.handlers, sub.Event)
	}
}

// SetNotificationRefresher installs fn to run on every notification:new
// event before any subscriber sees it. fn must not block.
func (r *Registry) SetNotificationRefresher(fn func()) {
	r.mu.Lock()
	r.refresher = fn
	r.mu.Unlock()
}

// Subscribers returns the number of handlers registered for event.
func (r *Registry) Subscribers(event string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers[event])
}

// Dispatch delivers payload to every handler registered for event. A
// panicking handler is recovered and reported through OnPanic hooks; the
// remaining handlers still run.
func (r *Registry) Dispatch(event string, payload json.RawMessage) {
	r.mu.RLock()
	refresher := r.refresher
	handlers := make([]Handler, 0, len(r.handlers[event]))
	for _, h := range r.handlers[event] {
		handlers = append(handlers, h)
	}
	r.mu.RUnlock()

	if event == NotificationNew && refresher != nil {
		r.safeCall(event, payload, func(json.RawMessage) { refresher() })
	}

	for _, h := range handlers {
		r.safeCall(event, payload, h)
	}

	r.runOnDispatch(event, payload, len(handlers))
}

func (r *Registry) safeCall(event string, payload json.RawMessage, h Handler) {
	defer func() {
		if rec := recover(); rec != nil {
			r.runOnPanic(event, payload, rec)
		}
	}()
	h(payload)
}
