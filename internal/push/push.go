// Package push maintains the session's long-lived push connection to the
// helpdesk and hands inbound events to a Dispatcher.
package push

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
)

// ErrTransportDisconnected marks a push transport failure. The Manager
// recovers from it by reconnecting; it is never returned to callers.
var ErrTransportDisconnected = errors.New("push transport disconnected")

// Status is the connectivity state of a Manager.
type Status int

const (
	Disconnected Status = iota
	Connecting
	Connected
	Reconnecting
)

// String returns a human-readable label for the status.
func (s Status) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// Identity scopes a connection to one user. It is sent as handshake
// parameters.
type Identity struct {
	UserID       string
	DepartmentID string
}

// Frame is the wire unit of the push channel.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Dispatcher receives every inbound event.
type Dispatcher interface {
	Dispatch(event string, payload json.RawMessage)
}

// Conn is an established push connection. ReadFrame is called from a
// single goroutine; WriteFrame and Close may be called concurrently with
// it.
type Conn interface {
	ReadFrame() (Frame, error)
	WriteFrame(f Frame) error
	Close() error
}

// Transport opens push connections of one kind.
type Transport interface {
	Name() string
	Dial(ctx context.Context, baseURL string, params url.Values) (Conn, error)
}
