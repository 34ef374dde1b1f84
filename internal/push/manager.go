package push

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/nhle/ticketdesk/internal/events"
	"github.com/nhle/ticketdesk/internal/metrics"
)

const (
	// DefaultReconnectDelay is the fixed pause between reconnect attempts.
	DefaultReconnectDelay = time.Second

	// dialTimeout bounds a single transport's connect attempt.
	dialTimeout = 10 * time.Second
)

// Manager owns the session's single push connection. A supervisor
// goroutine connects, reads frames into the Dispatcher and reconnects
// after transport loss, forever, until Stop.
type Manager struct {
	baseURL    string
	dispatcher Dispatcher
	transports []Transport
	token      func() string
	delay      time.Duration
	logger     zerolog.Logger
	metrics    *metrics.Metrics

	// mu serializes Start and Stop.
	mu       sync.Mutex
	identity Identity
	cancel   context.CancelFunc
	done     chan struct{}

	stateMu   sync.RWMutex
	status    Status
	conn      Conn
	transport string
	observers []func(Status)
}

// Option configures a Manager.
type Option func(*Manager)

// WithTransports sets the transports to negotiate, in order of
// preference.
func WithTransports(ts ...Transport) Option {
	return func(m *Manager) {
		m.transports = ts
	}
}

// WithReconnectDelay sets the fixed reconnect delay.
func WithReconnectDelay(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.delay = d
		}
	}
}

// WithTokenSource supplies the access token sent in the handshake. It is
// consulted on every connect attempt.
func WithTokenSource(fn func() string) Option {
	return func(m *Manager) {
		m.token = fn
	}
}

// WithLogger sets the manager logger.
func WithLogger(l zerolog.Logger) Option {
	return func(m *Manager) {
		m.logger = l
	}
}

// WithMetrics records connection activity on mt.
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) {
		m.metrics = mt
	}
}

// NewManager creates a disconnected Manager for the push endpoint at
// baseURL. Inbound events go to d.
func NewManager(baseURL string, d Dispatcher, opts ...Option) *Manager {
	m := &Manager{
		baseURL:    strings.TrimRight(baseURL, "/"),
		dispatcher: d,
		transports: []Transport{
			&WebsocketTransport{},
			&PollingTransport{},
		},
		delay:  DefaultReconnectDelay,
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// TransportsByName returns the built-in transports for names, in order.
func TransportsByName(names []string) ([]Transport, error) {
	ts := make([]Transport, 0, len(names))
	for _, name := range names {
		switch name {
		case "websocket":
			ts = append(ts, &WebsocketTransport{})
		case "polling":
			ts = append(ts, &PollingTransport{})
		default:
			return nil, fmt.Errorf("unknown push transport %q", name)
		}
	}
	if len(ts) == 0 {
		return nil, errors.New("no push transports configured")
	}
	return ts, nil
}

// Start connects for identity. Starting again for the same identity while
// started is a no-op; a different identity replaces the running
// connection.
func (m *Manager) Start(identity Identity) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cancel != nil {
		if m.identity == identity {
			return
		}
		m.stopLocked()
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.identity = identity
	m.cancel = cancel
	m.done = make(chan struct{})

	m.setStatus(Connecting)
	m.logger.Debug().
		Str("user", identity.UserID).
		Str("department", identity.DepartmentID).
		Msg("starting push connection")

	go m.supervise(ctx, identity, m.done)
}

// Stop closes the connection and waits for the supervisor to exit. The
// next Start builds a fresh connection.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopLocked()
}

func (m *Manager) stopLocked() {
	if m.cancel == nil {
		return
	}
	m.cancel()
	<-m.done

	m.cancel = nil
	m.done = nil
	m.identity = Identity{}
}

// Status returns the current connectivity state.
func (m *Manager) Status() Status {
	m.stateMu.RLock()
	defer m.stateMu.RUnlock()
	return m.status
}

// Transport returns the name of the transport in use, or "" while not
// connected.
func (m *Manager) Transport() string {
	m.stateMu.RLock()
	defer m.stateMu.RUnlock()
	return m.transport
}

// OnStatusChange registers fn to run on every status transition. fn runs
// on the supervisor goroutine and must not block.
func (m *Manager) OnStatusChange(fn func(Status)) {
	m.stateMu.Lock()
	m.observers = append(m.observers, fn)
	m.stateMu.Unlock()
}

// JoinRoom subscribes the connection to a ticket's events.
func (m *Manager) JoinRoom(ticketID string) {
	m.Emit(events.JoinTicket, ticketID)
}

// LeaveRoom unsubscribes the connection from a ticket's events.
func (m *Manager) LeaveRoom(ticketID string) {
	m.Emit(events.LeaveTicket, ticketID)
}

type typingPayload struct {
	TicketID string `json:"ticketId"`
	IsTyping bool   `json:"isTyping"`
}

// Typing broadcasts a typing indicator for a ticket.
func (m *Manager) Typing(ticketID string, isTyping bool) {
	m.Emit(events.Typing, typingPayload{TicketID: ticketID, IsTyping: isTyping})
}

// Emit sends an event without acknowledgement. While not connected the
// event is dropped; nothing is queued for later delivery.
func (m *Manager) Emit(event string, payload any) {
	m.stateMu.RLock()
	conn := m.conn
	status := m.status
	m.stateMu.RUnlock()

	if conn == nil || status != Connected {
		m.metrics.RecordDroppedSend(event)
		m.logger.Debug().Str("event", event).Str("status", status.String()).Msg("dropping send while disconnected")
		return
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		m.logger.Error().Err(err).Str("event", event).Msg("marshaling push payload")
		return
	}

	if err := conn.WriteFrame(Frame{Event: event, Data: raw}); err != nil {
		m.metrics.RecordDroppedSend(event)
		m.logger.Debug().Err(err).Str("event", event).Msg("push send failed")
	}
}

// supervise owns the connection for one identity until ctx is cancelled.
func (m *Manager) supervise(ctx context.Context, identity Identity, done chan struct{}) {
	defer func() {
		m.setStatus(Disconnected)
		close(done)
	}()

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			m.setStatus(Reconnecting)
			m.metrics.RecordReconnect()

			timer := time.NewTimer(m.delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
		}

		conn, name, err := m.dial(ctx, identity)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			m.logger.Warn().Err(err).Int("attempt", attempt).Msg("push connect failed")
			continue
		}

		err = m.serve(ctx, conn, name)
		if ctx.Err() != nil {
			return
		}
		m.logger.Warn().Err(err).Str("transport", name).Msg("push transport lost")
	}
}

// dial negotiates a transport, trying each in order of preference.
func (m *Manager) dial(ctx context.Context, identity Identity) (Conn, string, error) {
	params := url.Values{}
	params.Set("userId", identity.UserID)
	params.Set("departmentId", identity.DepartmentID)
	if m.token != nil {
		if tok := m.token(); tok != "" {
			params.Set("token", tok)
		}
	}

	var errs []error
	for _, t := range m.transports {
		dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
		conn, err := t.Dial(dialCtx, m.baseURL, params)
		cancel()
		if err == nil {
			return conn, t.Name(), nil
		}

		errs = append(errs, fmt.Errorf("%s: %w", t.Name(), err))
		if ctx.Err() != nil {
			break
		}
		m.logger.Debug().Err(err).Str("transport", t.Name()).Msg("transport unavailable, falling back")
	}
	return nil, "", errors.Join(errs...)
}

// serve reads frames from conn until it fails or ctx is cancelled.
func (m *Manager) serve(ctx context.Context, conn Conn, name string) error {
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()
	defer func() {
		m.detach(conn)
		_ = conn.Close()
	}()

	m.attach(conn, name)
	m.logger.Info().Str("transport", name).Msg("push connected")

	for {
		f, err := conn.ReadFrame()
		if err != nil {
			return err
		}
		if f.Event == "" {
			m.logger.Debug().Msg("ignoring frame without event name")
			continue
		}

		m.metrics.RecordEvent(f.Event)
		m.dispatcher.Dispatch(f.Event, f.Data)
	}
}

func (m *Manager) attach(conn Conn, name string) {
	m.stateMu.Lock()
	m.conn = conn
	m.transport = name
	m.stateMu.Unlock()
	m.setStatus(Connected)
}

func (m *Manager) detach(conn Conn) {
	m.stateMu.Lock()
	if m.conn == conn {
		m.conn = nil
		m.transport = ""
	}
	m.stateMu.Unlock()
}

func (m *Manager) setStatus(s Status) {
	m.stateMu.Lock()
	if m.status == s {
		m.stateMu.Unlock()
		return
	}
	m.status = s
	observers := make([]func(Status), len(m.observers))
	copy(observers, m.observers)
	m.stateMu.Unlock()

	m.metrics.SetConnected(s == Connected)
	for _, fn := range observers {
		fn(s)
	}
}
