// Package sync reconciles the notification read state with the server on
// a fixed interval, so the client converges even when push events are
// lost.
package sync

import (
	"context"
	gosync "sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog"

	"github.com/nhle/ticketdesk/internal/api"
	"github.com/nhle/ticketdesk/internal/metrics"
)

// SyncState represents the current state of the reconciler.
type SyncState int

const (
	SyncIdle SyncState = iota
	SyncRunning
	SyncError
)

func (s SyncState) String() string {
	switch s {
	case SyncRunning:
		return "syncing"
	case SyncError:
		return "error"
	default:
		return "idle"
	}
}

// SyncStatus is a snapshot of the reconciler's progress.
type SyncStatus struct {
	State    SyncState
	LastSync time.Time
	Error    error
}

// SyncResultMsg is a tea.Msg sent when a reconcile run completes.
type SyncResultMsg struct {
	Error error
	// SessionExpired is set when the run failed because the session could
	// not be refreshed. The user has to sign in again.
	SessionExpired bool
}

// Refresher is the state being reconciled. *notifications.Store
// satisfies it.
type Refresher interface {
	Refresh(ctx context.Context) error
}

const (
	// DefaultInterval is the reconcile period when none is configured.
	DefaultInterval = 60 * time.Second

	// fetchTimeout is the maximum time allowed for a single run.
	fetchTimeout = 30 * time.Second
)

// Poller runs Refresh on a ticker, and on demand through RefreshNow.
type Poller struct {
	target   Refresher
	interval time.Duration
	logger   zerolog.Logger
	metrics  *metrics.Metrics

	resultCh  chan SyncResultMsg
	triggerCh chan struct{}

	mu      gosync.Mutex
	status  SyncStatus
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// Option configures a Poller.
type Option func(*Poller)

// WithInterval sets the reconcile period.
func WithInterval(d time.Duration) Option {
	return func(p *Poller) {
		if d > 0 {
			p.interval = d
		}
	}
}

// WithLogger sets the poller logger.
func WithLogger(l zerolog.Logger) Option {
	return func(p *Poller) {
		p.logger = l
	}
}

// WithMetrics records each run's outcome on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Poller) {
		p.metrics = m
	}
}

// New creates a stopped Poller for target.
func New(target Refresher, opts ...Option) *Poller {
	p := &Poller{
		target:    target,
		interval:  DefaultInterval,
		logger:    zerolog.Nop(),
		resultCh:  make(chan SyncResultMsg, 16),
		triggerCh: make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start launches the polling goroutine and returns a command that waits
// for the first result. It returns nil when already running.
func (p *Poller) Start() tea.Cmd {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	p.running = true
	p.cancel = cancel
	p.done = make(chan struct{})

	go p.loop(ctx, p.done)

	return p.waitForResult()
}

// Stop halts the polling goroutine and waits for a run in progress to
// finish. The Poller can be started again.
func (p *Poller) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.cancel()
	done := p.done
	p.running = false
	p.mu.Unlock()

	<-done
}

// Running reports whether the polling goroutine is active.
func (p *Poller) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// RefreshNow triggers an immediate run. Triggers coalesce while one is
// pending.
func (p *Poller) RefreshNow() tea.Cmd {
	select {
	case p.triggerCh <- struct{}{}:
	default:
	}
	return nil
}

// Status returns the current reconcile status.
func (p *Poller) Status() SyncStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

// Results exposes the result channel for callers outside Bubble Tea.
func (p *Poller) Results() <-chan SyncResultMsg {
	return p.resultCh
}

// WaitForNextResult returns a tea.Cmd that waits for the next result.
// Call it after handling a SyncResultMsg to keep listening.
func (p *Poller) WaitForNextResult() tea.Cmd {
	return p.waitForResult()
}

func (p *Poller) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	// Do an initial run immediately.
	p.reconcile(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.reconcile(ctx)
		case <-p.triggerCh:
			p.reconcile(ctx)
		}
	}
}

func (p *Poller) reconcile(parent context.Context) {
	p.setStatus(SyncRunning, nil)

	ctx, cancel := context.WithTimeout(parent, fetchTimeout)
	defer cancel()

	err := p.target.Refresh(ctx)
	if parent.Err() != nil {
		// Stopped mid-run; the result belongs to a torn-down session.
		p.mu.Lock()
		p.status.State = SyncIdle
		p.mu.Unlock()
		return
	}
	p.metrics.RecordReconcile(err)

	if err != nil {
		p.setStatus(SyncError, err)
		p.logger.Warn().Err(err).Msg("reconcile failed")
		p.sendResult(SyncResultMsg{Error: err, SessionExpired: api.IsSessionExpired(err)})
		return
	}

	p.setStatus(SyncIdle, nil)
	p.sendResult(SyncResultMsg{})
}

func (p *Poller) setStatus(state SyncState, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.status.State = state
	p.status.Error = err
	if state == SyncIdle && err == nil {
		p.status.LastSync = time.Now()
	}
}

// sendResult sends a SyncResultMsg on the result channel without blocking.
func (p *Poller) sendResult(msg SyncResultMsg) {
	select {
	case p.resultCh <- msg:
	default:
		// Drop if channel is full to avoid blocking the poller
	}
}

func (p *Poller) waitForResult() tea.Cmd {
	return func() tea.Msg {
		return <-p.resultCh
	}
}
