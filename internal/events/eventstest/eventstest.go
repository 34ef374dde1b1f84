// Package eventstest provides test utilities for the event registry.
// It wraps a real Registry with dispatch recording and assertion helpers.
package eventstest

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/nhle/ticketdesk/internal/events"
)

// RecordedEvent holds a captured event name and payload.
type RecordedEvent struct {
	Event   string
	Payload json.RawMessage
}

// Registry wraps a real events.Registry and records every dispatch,
// whether or not anything subscribed to it.
type Registry struct {
	*events.Registry

	mu     sync.Mutex
	events []RecordedEvent
}

// New creates a recording registry.
func New(t *testing.T) *Registry {
	t.Helper()

	r := &Registry{Registry: events.New()}
	r.OnDispatch(func(event string, payload json.RawMessage, _ int) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.events = append(r.events, RecordedEvent{Event: event, Payload: payload})
	})
	return r
}

// Events returns a copy of all recorded events.
func (r *Registry) Events() []RecordedEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]RecordedEvent, len(r.events))
	copy(out, r.events)
	return out
}

// Count returns how many times event was dispatched.
func (r *Registry) Count(event string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Event == event {
			n++
		}
	}
	return n
}

// WaitFor blocks until event has been dispatched at least n times or the
// timeout expires. Returns true if the count was reached.
func (r *Registry) WaitFor(event string, n int, timeout time.Duration) bool {
	deadline := time.After(timeout)
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()

	for {
		if r.Count(event) >= n {
			return true
		}
		select {
		case <-deadline:
			return false
		case <-ticker.C:
		}
	}
}

// AssertDispatched asserts that event was dispatched.
func (r *Registry) AssertDispatched(t *testing.T, event string) {
	t.Helper()
	if !r.WaitFor(event, 1, time.Second) {
		t.Errorf("expected event %q to be dispatched, but it was not", event)
	}
}

// AssertNotDispatched asserts that event was NOT dispatched within wait.
func (r *Registry) AssertNotDispatched(t *testing.T, event string, wait time.Duration) {
	t.Helper()
	time.Sleep(wait)
	if r.Count(event) > 0 {
		t.Errorf("expected event %q to NOT be dispatched, but it was", event)
	}
}
