// Package session wires the client components together and owns their
// lifecycle across login, logout and session expiry.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	gosync "sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/nhle/ticketdesk/internal/api"
	"github.com/nhle/ticketdesk/internal/credential"
	"github.com/nhle/ticketdesk/internal/events"
	"github.com/nhle/ticketdesk/internal/metrics"
	"github.com/nhle/ticketdesk/internal/model"
	"github.com/nhle/ticketdesk/internal/notifications"
	"github.com/nhle/ticketdesk/internal/push"
	"github.com/nhle/ticketdesk/internal/store"
	tdsync "github.com/nhle/ticketdesk/internal/sync"
)

// Config holds the resolved settings a Session is built from.
type Config struct {
	Endpoints      model.Endpoints
	Timeout        time.Duration
	ReconnectDelay time.Duration
	Transports     []push.Transport
	PollInterval   time.Duration
}

// ConfigFrom resolves a Config from the application configuration.
func ConfigFrom(cfg *model.AppConfig) (Config, error) {
	transports, err := push.TransportsByName(cfg.Push.Transports)
	if err != nil {
		return Config{}, fmt.Errorf("resolving push transports: %w", err)
	}

	return Config{
		Endpoints:      cfg.Endpoints(),
		Timeout:        time.Duration(cfg.API.TimeoutSec) * time.Second,
		ReconnectDelay: time.Duration(cfg.Push.ReconnectDelayMS) * time.Millisecond,
		Transports:     transports,
		PollInterval:   time.Duration(cfg.Sync.PollIntervalSec) * time.Second,
	}, nil
}

// Session is one signed-in user's client: REST client, push connection,
// event registry, notification state and the reconciliation poller.
type Session struct {
	creds    *credential.Store
	cache    store.Store
	client   *api.Client
	registry *events.Registry
	push     *push.Manager
	notifs   *notifications.Store
	poller   *tdsync.Poller

	logger          zerolog.Logger
	metrics         *metrics.Metrics
	onLoginRequired func()

	// mu serializes Login, Resume, Logout and expiry teardown.
	mu     gosync.Mutex
	user   model.User
	active bool
}

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the logger components derive theirs from.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Session) {
		s.logger = l
	}
}

// WithMetrics records component activity on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Session) {
		s.metrics = m
	}
}

// WithCache persists notification state and the signed-in user in c.
func WithCache(c store.Store) Option {
	return func(s *Session) {
		s.cache = c
	}
}

// OnLoginRequired registers fn to run when the session expires and the
// user has to sign in again. It runs once per expired session, on its own
// goroutine.
func OnLoginRequired(fn func()) Option {
	return func(s *Session) {
		s.onLoginRequired = fn
	}
}

// New builds a signed-out Session. Nothing connects until Login or Resume.
func New(cfg Config, creds *credential.Store, opts ...Option) *Session {
	s := &Session{
		creds:  creds,
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}

	apiOpts := []api.Option{
		api.WithLogger(s.component("api")),
		api.WithMetrics(s.metrics),
		api.WithSessionExpiredHandler(func() { go s.expire() }),
	}
	if cfg.Timeout > 0 {
		apiOpts = append(apiOpts, api.WithTimeout(cfg.Timeout))
	}
	s.client = api.NewClient(cfg.Endpoints.API, creds, apiOpts...)

	notifOpts := []notifications.Option{notifications.WithLogger(s.component("notifications"))}
	if s.cache != nil {
		notifOpts = append(notifOpts, notifications.WithCache(s.cache))
	}
	s.notifs = notifications.New(s.client, notifOpts...)

	s.registry = events.New()
	events.RegisterDebugLogger(s.registry, s.component("events"))
	s.registry.OnPanic(func(event string, _ json.RawMessage, _ any) {
		s.metrics.RecordPanic(event)
	})
	s.registry.SetNotificationRefresher(s.notifs.TriggerRefresh)

	pushOpts := []push.Option{
		push.WithReconnectDelay(cfg.ReconnectDelay),
		push.WithTokenSource(s.accessToken),
		push.WithLogger(s.component("push")),
		push.WithMetrics(s.metrics),
	}
	if len(cfg.Transports) > 0 {
		pushOpts = append(pushOpts, push.WithTransports(cfg.Transports...))
	}
	s.push = push.NewManager(cfg.Endpoints.Push, s.registry, pushOpts...)

	s.poller = tdsync.New(s.notifs,
		tdsync.WithInterval(cfg.PollInterval),
		tdsync.WithLogger(s.component("sync")),
		tdsync.WithMetrics(s.metrics),
	)

	return s
}

// Client returns the REST client.
func (s *Session) Client() *api.Client { return s.client }

// Events returns the registry inbound push events are dispatched to.
func (s *Session) Events() *events.Registry { return s.registry }

// Push returns the push connection manager.
func (s *Session) Push() *push.Manager { return s.push }

// Notifications returns the notification read-state store.
func (s *Session) Notifications() *notifications.Store { return s.notifs }

// Poller returns the reconciliation poller.
func (s *Session) Poller() *tdsync.Poller { return s.poller }

// User returns the signed-in user, if any.
func (s *Session) User() (model.User, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.user, s.active
}

// Login signs in, connects the push channel and loads the notification
// state.
func (s *Session) Login(ctx context.Context, email, password string) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active {
		_ = s.teardownLocked(ctx)
	}

	user, err := s.client.Login(ctx, email, password)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if err := s.cache.SaveUser(ctx, *user); err != nil {
			s.logger.Warn().Err(err).Msg("caching signed-in user")
		}
	}

	s.startLocked(ctx, *user)
	return user, nil
}

// Resume restarts a session persisted by a previous run without asking
// for the password. It reports false when there is nothing to resume.
func (s *Session) Resume(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active {
		return true, nil
	}
	if _, ok := s.creds.Get(); !ok || s.cache == nil {
		return false, nil
	}

	user, ok, err := s.cache.LoadUser(ctx)
	if err != nil {
		return false, fmt.Errorf("loading cached user: %w", err)
	}
	if !ok {
		return false, nil
	}

	if err := s.notifs.Restore(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("restoring cached notifications")
	}

	s.startLocked(ctx, user)
	return true, nil
}

// Logout ends the session: background work stops, credentials and cached
// state are removed. Results of calls still in flight are discarded.
func (s *Session) Logout(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.teardownLocked(ctx)
}

// Close stops background work and keeps credentials and cached state, so
// a later run can Resume.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.poller.Stop()
	s.push.Stop()
	s.notifs.Wait()
	s.active = false
}

func (s *Session) startLocked(ctx context.Context, user model.User) {
	s.user = user
	s.active = true

	s.push.Start(push.Identity{
		UserID:       user.ID.String(),
		DepartmentID: user.DepartmentID.String(),
	})

	if err := s.notifs.Refresh(ctx); err != nil {
		// The poller retries on its first run.
		s.logger.Warn().Err(err).Msg("initial notification refresh failed")
	}
	s.poller.Start()

	s.logger.Info().Str("user", user.ID.String()).Msg("session started")
}

func (s *Session) teardownLocked(ctx context.Context) error {
	s.poller.Stop()
	s.push.Stop()

	var errs []error
	if err := s.creds.Clear(); err != nil {
		errs = append(errs, fmt.Errorf("clearing credentials: %w", err))
	}

	s.notifs.Reset()
	if s.cache != nil {
		if err := s.cache.Clear(ctx); err != nil {
			errs = append(errs, fmt.Errorf("clearing cache: %w", err))
		}
	}

	if s.active {
		s.logger.Info().Str("user", s.user.ID.String()).Msg("session ended")
	}
	s.user = model.User{}
	s.active = false

	return errors.Join(errs...)
}

// expire tears down a session whose refresh was rejected. Logout or a new
// login in the meantime wins.
func (s *Session) expire() {
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return
	}
	if _, ok := s.creds.Get(); ok {
		// Signed in again since the refresh failed.
		s.mu.Unlock()
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.teardownLocked(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("tearing down expired session")
	}
	s.mu.Unlock()

	if s.onLoginRequired != nil {
		s.onLoginRequired()
	}
}

func (s *Session) accessToken() string {
	pair, _ := s.creds.Get()
	return pair.AccessToken
}

func (s *Session) component(name string) zerolog.Logger {
	return s.logger.With().Str("cmp", name).Logger()
}
