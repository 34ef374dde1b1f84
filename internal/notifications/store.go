// Package notifications keeps the client's view of notification read
// state: the latest notification page, the unread count and the set of
// tickets with unread activity.
//
// Local state changes only after the server has confirmed a mutation.
// A failed call leaves the store untouched and returns the error.
package notifications

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/nhle/ticketdesk/internal/model"
)

// Requester issues authenticated JSON requests. *api.Client satisfies it.
type Requester interface {
	Do(ctx context.Context, method, path string, body, result any) error
}

// Cache persists the store's state between runs. *store.SQLiteStore
// satisfies it.
type Cache interface {
	SaveSnapshot(ctx context.Context, snap model.NotificationSnapshot) error
	LoadSnapshot(ctx context.Context) (model.NotificationSnapshot, error)
	SaveUnreadTickets(ctx context.Context, ids []model.ID) error
	LoadUnreadTickets(ctx context.Context) ([]model.ID, error)
}

// backgroundTimeout bounds refetches the store starts on its own.
const backgroundTimeout = 30 * time.Second

// State is a point-in-time copy of the store.
type State struct {
	Items         []model.Notification
	UnreadCount   int
	UnreadTickets []model.ID
}

// HasUnreadForTicket reports whether ticketID is in the unread set.
func (s State) HasUnreadForTicket(ticketID model.ID) bool {
	for _, id := range s.UnreadTickets {
		if id == ticketID {
			return true
		}
	}
	return false
}

// Store is the notification read-state cache. It is safe for concurrent
// use; no lock is held across a server call.
type Store struct {
	api    Requester
	cache  Cache
	logger zerolog.Logger

	mu            sync.Mutex
	items         []model.Notification
	unreadCount   int
	unreadTickets map[model.ID]struct{}
	// epoch advances on Reset so results of calls started before a
	// logout are discarded.
	epoch     uint64
	listeners []func(State)

	// persistMu orders cache writes so the last write holds the latest
	// state.
	persistMu  sync.Mutex
	background sync.WaitGroup
}

// Option configures a Store.
type Option func(*Store)

// WithCache writes every accepted state change through to c.
func WithCache(c Cache) Option {
	return func(s *Store) {
		s.cache = c
	}
}

// WithLogger sets the store logger.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Store) {
		s.logger = l
	}
}

// New creates an empty Store that talks to the server through api.
func New(api Requester, opts ...Option) *Store {
	s := &Store{
		api:           api,
		logger:        zerolog.Nop(),
		unreadTickets: make(map[model.ID]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// OnChange registers fn to receive a copy of the state after every
// change. fn runs on the goroutine that made the change.
func (s *Store) OnChange(fn func(State)) {
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
}

// State returns a copy of the current state.
func (s *Store) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stateLocked()
}

// UnreadCount returns the current unread count.
func (s *Store) UnreadCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unreadCount
}

// HasUnreadForTicket reports whether ticketID has unread activity.
func (s *Store) HasUnreadForTicket(ticketID model.ID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.unreadTickets[ticketID]
	return ok
}

// FetchNotifications replaces the notification list and unread count with
// the server's snapshot.
func (s *Store) FetchNotifications(ctx context.Context) error {
	epoch := s.currentEpoch()

	var snap model.NotificationSnapshot
	if err := s.api.Do(ctx, http.MethodGet, "/notifications", nil, &snap); err != nil {
		return fmt.Errorf("fetching notifications: %w", err)
	}

	s.apply(epoch, func() {
		s.items = append([]model.Notification(nil), snap.Items...)
		s.unreadCount = max(snap.UnreadCount, 0)
	})
	return nil
}

// FetchUnreadTicketIDs replaces the unread ticket set with the server's.
// The server's set is authoritative; it may cover notifications that are
// not in the fetched page.
func (s *Store) FetchUnreadTicketIDs(ctx context.Context) error {
	epoch := s.currentEpoch()

	var ids []model.ID
	if err := s.api.Do(ctx, http.MethodGet, "/notifications/unread-tickets", nil, &ids); err != nil {
		return fmt.Errorf("fetching unread tickets: %w", err)
	}

	s.apply(epoch, func() {
		s.unreadTickets = make(map[model.ID]struct{}, len(ids))
		for _, id := range ids {
			s.unreadTickets[id] = struct{}{}
		}
	})
	return nil
}

// Refresh fetches both the notification page and the unread ticket set.
func (s *Store) Refresh(ctx context.Context) error {
	return errors.Join(
		s.FetchNotifications(ctx),
		s.FetchUnreadTicketIDs(ctx),
	)
}

// TriggerRefresh starts a Refresh in the background and returns
// immediately.
func (s *Store) TriggerRefresh() {
	s.goBackground("refresh", s.Refresh)
}

// MarkAsRead marks one notification read. The unread ticket set is
// refetched in the background afterwards.
func (s *Store) MarkAsRead(ctx context.Context, id model.ID) error {
	return s.toggle(ctx, id, true)
}

// MarkAsUnread marks one notification unread. The unread ticket set is
// refetched in the background afterwards.
func (s *Store) MarkAsUnread(ctx context.Context, id model.ID) error {
	return s.toggle(ctx, id, false)
}

func (s *Store) toggle(ctx context.Context, id model.ID, read bool) error {
	action := "unread"
	if read {
		action = "read"
	}

	epoch := s.currentEpoch()
	path := fmt.Sprintf("/notifications/%s/%s", url.PathEscape(id.String()), action)
	if err := s.api.Do(ctx, http.MethodPatch, path, nil, nil); err != nil {
		return fmt.Errorf("marking notification %s as %s: %w", id, action, err)
	}

	s.apply(epoch, func() {
		// The count moves only on a real transition. A notification that
		// is not in the current page is assumed to have transitioned.
		idx := s.indexLocked(id)
		if idx >= 0 && s.items[idx].IsRead == read {
			return
		}
		if idx >= 0 {
			s.items[idx].IsRead = read
		}
		if read {
			s.unreadCount = max(s.unreadCount-1, 0)
		} else {
			s.unreadCount++
		}
	})

	s.goBackground("unread-tickets", s.FetchUnreadTicketIDs)
	return nil
}

// MarkAllAsRead marks every notification read. The resulting state is
// fully known, so nothing is refetched.
func (s *Store) MarkAllAsRead(ctx context.Context) error {
	epoch := s.currentEpoch()
	if err := s.api.Do(ctx, http.MethodPost, "/notifications/read-all", nil, nil); err != nil {
		return fmt.Errorf("marking all notifications as read: %w", err)
	}

	s.apply(epoch, func() {
		for i := range s.items {
			s.items[i].IsRead = true
		}
		s.unreadCount = 0
		s.unreadTickets = make(map[model.ID]struct{})
	})
	return nil
}

// MarkTicketRead marks every notification of a ticket read.
func (s *Store) MarkTicketRead(ctx context.Context, ticketID model.ID) error {
	return s.toggleTicket(ctx, ticketID, true)
}

// MarkTicketUnread marks every notification of a ticket unread.
func (s *Store) MarkTicketUnread(ctx context.Context, ticketID model.ID) error {
	return s.toggleTicket(ctx, ticketID, false)
}

func (s *Store) toggleTicket(ctx context.Context, ticketID model.ID, read bool) error {
	action := "unread"
	if read {
		action = "read"
	}

	epoch := s.currentEpoch()
	path := fmt.Sprintf("/notifications/ticket/%s/%s", url.PathEscape(ticketID.String()), action)
	if err := s.api.Do(ctx, http.MethodPost, path, nil, nil); err != nil {
		return fmt.Errorf("marking ticket %s as %s: %w", ticketID, action, err)
	}

	s.apply(epoch, func() {
		for i := range s.items {
			if s.items[i].Data.TicketID == ticketID && s.items[i].IsRead != read {
				s.items[i].IsRead = read
			}
		}
		if read {
			delete(s.unreadTickets, ticketID)
		} else {
			s.unreadTickets[ticketID] = struct{}{}
		}
		// A ticket may own any number of notifications, so the count is
		// recomputed rather than adjusted.
		s.unreadCount = s.countUnreadLocked()
	})
	return nil
}

// Restore loads the last persisted state from the cache. It is a no-op
// without a cache.
func (s *Store) Restore(ctx context.Context) error {
	if s.cache == nil {
		return nil
	}
	epoch := s.currentEpoch()

	snap, err := s.cache.LoadSnapshot(ctx)
	if err != nil {
		return fmt.Errorf("loading cached notifications: %w", err)
	}
	ids, err := s.cache.LoadUnreadTickets(ctx)
	if err != nil {
		return fmt.Errorf("loading cached unread tickets: %w", err)
	}

	s.apply(epoch, func() {
		s.items = snap.Items
		s.unreadCount = max(snap.UnreadCount, 0)
		s.unreadTickets = make(map[model.ID]struct{}, len(ids))
		for _, id := range ids {
			s.unreadTickets[id] = struct{}{}
		}
	})
	return nil
}

// Reset empties the store and discards the results of calls still in
// flight. It does not touch the cache.
func (s *Store) Reset() {
	s.mu.Lock()
	s.epoch++
	s.items = nil
	s.unreadCount = 0
	s.unreadTickets = make(map[model.ID]struct{})
	state := s.stateLocked()
	listeners := s.copyListenersLocked()
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(state)
	}
}

// Wait blocks until background refetches started so far have finished.
func (s *Store) Wait() {
	s.background.Wait()
}

func (s *Store) currentEpoch() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.epoch
}

// apply runs mutate under the lock unless the store was reset since
// epoch, then notifies listeners and persists the new state.
func (s *Store) apply(epoch uint64, mutate func()) {
	s.mu.Lock()
	if s.epoch != epoch {
		s.mu.Unlock()
		s.logger.Debug().Msg("discarding result from before reset")
		return
	}
	mutate()
	state := s.stateLocked()
	listeners := s.copyListenersLocked()
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(state)
	}
	s.persist()
}

func (s *Store) persist() {
	if s.cache == nil {
		return
	}

	s.persistMu.Lock()
	defer s.persistMu.Unlock()
	state := s.State()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	snap := model.NotificationSnapshot{Items: state.Items, UnreadCount: state.UnreadCount}
	if err := s.cache.SaveSnapshot(ctx, snap); err != nil {
		s.logger.Warn().Err(err).Msg("caching notifications")
	}
	if err := s.cache.SaveUnreadTickets(ctx, state.UnreadTickets); err != nil {
		s.logger.Warn().Err(err).Msg("caching unread tickets")
	}
}

func (s *Store) goBackground(name string, fn func(context.Context) error) {
	s.background.Add(1)
	go func() {
		defer s.background.Done()

		ctx, cancel := context.WithTimeout(context.Background(), backgroundTimeout)
		defer cancel()

		if err := fn(ctx); err != nil {
			s.logger.Warn().Err(err).Str("op", name).Msg("background notification fetch failed")
		}
	}()
}

func (s *Store) indexLocked(id model.ID) int {
	for i := range s.items {
		if s.items[i].ID == id {
			return i
		}
	}
	return -1
}

func (s *Store) countUnreadLocked() int {
	n := 0
	for _, item := range s.items {
		if !item.IsRead {
			n++
		}
	}
	return n
}

func (s *Store) stateLocked() State {
	items := make([]model.Notification, len(s.items))
	copy(items, s.items)

	tickets := make([]model.ID, 0, len(s.unreadTickets))
	for id := range s.unreadTickets {
		tickets = append(tickets, id)
	}
	sort.Slice(tickets, func(i, j int) bool { return tickets[i] < tickets[j] })

	return State{
		Items:         items,
		UnreadCount:   s.unreadCount,
		UnreadTickets: tickets,
	}
}

func (s *Store) copyListenersLocked() []func(State) {
	listeners := make([]func(State), len(s.listeners))
	copy(listeners, s.listeners)
	return listeners
}
