package events

import (
	"encoding/json"
	"sync"
)

// hooks holds the lifecycle hook state for the Registry.
type hooks struct {
	mu         sync.RWMutex
	onDispatch []func(string, json.RawMessage, int)
	onDrop     []func(string, json.RawMessage, error)
	onPanic    []func(string, json.RawMessage, any)
}

// OnDispatch registers a hook that fires after an event was delivered to
// its handlers. The int argument is the number of handlers that ran.
func (r *Registry) OnDispatch(fn func(string, json.RawMessage, int)) {
	r.hooks.mu.Lock()
	r.hooks.onDispatch = append(r.hooks.onDispatch, fn)
	r.hooks.mu.Unlock()
}

// OnDrop registers a hook that fires when a typed subscriber could not
// decode a payload.
func (r *Registry) OnDrop(fn func(string, json.RawMessage, error)) {
	r.hooks.mu.Lock()
	r.hooks.onDrop = append(r.hooks.onDrop, fn)
	r.hooks.mu.Unlock()
}

// OnPanic registers a hook that fires when a handler panics.
func (r *Registry) OnPanic(fn func(string, json.RawMessage, any)) {
	r.hooks.mu.Lock()
	r.hooks.onPanic = append(r.hooks.onPanic, fn)
	r.hooks.mu.Unlock()
}

func (r *Registry) runOnDispatch(event string, payload json.RawMessage, n int) {
	r.hooks.mu.RLock()
	hooks := make([]func(string, json.RawMessage, int), len(r.hooks.onDispatch))
	copy(hooks, r.hooks.onDispatch)
	r.hooks.mu.RUnlock()
	for _, fn := range hooks {
		fn(event, payload, n)
	}
}

func (r *Registry) runOnDrop(event string, payload json.RawMessage, err error) {
	r.hooks.mu.RLock()
	hooks := make([]func(string, json.RawMessage, error), len(r.hooks.onDrop))
	copy(hooks, r.hooks.onDrop)
	r.hooks.mu.RUnlock()
	for _, fn := range hooks {
		fn(event, payload, err)
	}
}

func (r *Registry) runOnPanic(event string, payload json.RawMessage, recovered any) {
	r.hooks.mu.RLock()
	hooks := make([]func(string, json.RawMessage, any), len(r.hooks.onPanic))
	copy(hooks, r.hooks.onPanic)
	r.hooks.mu.RUnlock()
	for _, fn := range hooks {
		func() {
			defer func() { recover() }() //nolint:errcheck
			fn(event, payload, recovered)
		}()
	}
}
