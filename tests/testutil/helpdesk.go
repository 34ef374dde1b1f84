package testutil

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/nhle/ticketdesk/internal/model"
)

// PushFrame is a push channel frame as seen by the fake server.
type PushFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type accessClaims struct {
	Generation int `json:"gen"`
	jwt.RegisteredClaims
}

type account struct {
	password string
	user     model.User
}

type wsClient struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

type pollSession struct {
	identity url.Values
	queue    []PushFrame
	notify   chan struct{}
}

// Helpdesk is an in-process fake of the helpdesk REST API and push
// channel. Access tokens are HS256 JWTs with a real expiry, refresh
// tokens rotate on every use, and notification read state is tracked
// server-side so client reconciliation can be checked against it.
type Helpdesk struct {
	*httptest.Server

	t        testing.TB
	secret   []byte
	upgrader websocket.Upgrader

	mu            sync.Mutex
	accessTTL     time.Duration
	generation    int
	accounts      map[string]account
	refreshTokens map[string]model.User
	notifications []model.Notification
	refreshStatus int
	refreshGate   chan struct{}
	refreshCalls  int
	requests      map[string]int
	failures      map[string]int
	wsEnabled     bool
	wsClients     map[*wsClient]struct{}
	pollSessions  map[string]*pollSession
	handshakes    []url.Values
	received      []PushFrame
	pollTimeout   time.Duration
}

// NewHelpdesk starts a fake helpdesk server. It is closed when the test
// completes.
func NewHelpdesk(t testing.TB) *Helpdesk {
	t.Helper()

	h := &Helpdesk{
		t:      t,
		secret: []byte("helpdesk-test-secret"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		accessTTL:     time.Hour,
		accounts:      make(map[string]account),
		refreshTokens: make(map[string]model.User),
		requests:      make(map[string]int),
		failures:      make(map[string]int),
		wsEnabled:     true,
		wsClients:     make(map[*wsClient]struct{}),
		pollSessions:  make(map[string]*pollSession),
		pollTimeout:   200 * time.Millisecond,
	}

	r := mux.NewRouter()
	r.Use(h.track)

	a := r.PathPrefix("/api").Subrouter()
	a.HandleFunc("/auth/login", h.handleLogin).Methods(http.MethodPost)
	a.HandleFunc("/auth/refresh", h.handleRefresh).Methods(http.MethodPost)

	authed := a.NewRoute().Subrouter()
	authed.Use(h.requireAuth)
	authed.HandleFunc("/me", h.handleMe).Methods(http.MethodGet)
	authed.HandleFunc("/attachments", h.handleUpload).Methods(http.MethodPost)
	authed.HandleFunc("/notifications", h.handleListNotifications).Methods(http.MethodGet)
	authed.HandleFunc("/notifications/unread-tickets", h.handleUnreadTickets).Methods(http.MethodGet)
	authed.HandleFunc("/notifications/read-all", h.handleReadAll).Methods(http.MethodPost)
	authed.HandleFunc("/notifications/ticket/{ticketId}/read", h.handleTicketRead(true)).Methods(http.MethodPost)
	authed.HandleFunc("/notifications/ticket/{ticketId}/unread", h.handleTicketRead(false)).Methods(http.MethodPost)
	authed.HandleFunc("/notifications/{id}/read", h.handleMarkRead(true)).Methods(http.MethodPatch)
	authed.HandleFunc("/notifications/{id}/unread", h.handleMarkRead(false)).Methods(http.MethodPatch)

	r.HandleFunc("/ws", h.handleWebsocket).Methods(http.MethodGet)
	r.HandleFunc("/handshake", h.handleHandshake).Methods(http.MethodPost)
	r.HandleFunc("/poll", h.handlePoll).Methods(http.MethodGet)
	r.HandleFunc("/emit", h.handleEmit).Methods(http.MethodPost)

	h.Server = httptest.NewServer(r)
	t.Cleanup(h.Close)

	return h
}

// Close disconnects push clients and shuts the server down.
func (h *Helpdesk) Close() {
	h.DisconnectPush()
	h.Server.Close()
}

// APIURL returns the REST base URL.
func (h *Helpdesk) APIURL() string {
	return h.URL + "/api"
}

// PushURL returns the push channel base URL.
func (h *Helpdesk) PushURL() string {
	return h.URL
}

// AddUser registers an account that can log in.
func (h *Helpdesk) AddUser(email, password string, user model.User) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if user.Email == "" {
		user.Email = email
	}
	h.accounts[email] = account{password: password, user: user}
}

// IssueTokens mints a credential pair for the account registered under
// email, as a successful login would.
func (h *Helpdesk) IssueTokens(email string) (access, refresh string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	acct, ok := h.accounts[email]
	if !ok {
		h.t.Fatalf("unknown account %q", email)
	}
	return h.issueLocked(acct.user)
}

// SetNotifications replaces the server's notification list. Items are
// served in the given order.
func (h *Helpdesk) SetNotifications(items []model.Notification) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.notifications = append([]model.Notification(nil), items...)
}

// Notifications returns the server's notification list.
func (h *Helpdesk) Notifications() []model.Notification {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]model.Notification(nil), h.notifications...)
}

// ExpireAccessTokens invalidates every access token issued so far.
func (h *Helpdesk) ExpireAccessTokens() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.generation++
}

// SetAccessTTL sets the lifetime of newly issued access tokens.
func (h *Helpdesk) SetAccessTTL(d time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.accessTTL = d
}

// SetRefreshStatus forces the refresh endpoint to answer with status.
// Zero restores normal behavior.
func (h *Helpdesk) SetRefreshStatus(status int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.refreshStatus = status
}

// HoldRefresh makes the refresh endpoint block until the returned
// function is called.
func (h *Helpdesk) HoldRefresh() (release func()) {
	gate := make(chan struct{})
	h.mu.Lock()
	h.refreshGate = gate
	h.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { close(gate) })
	}
}

// RefreshCalls returns how many refresh requests reached the server.
func (h *Helpdesk) RefreshCalls() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.refreshCalls
}

// Requests returns how many requests were made as "METHOD /path".
func (h *Helpdesk) Requests(key string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.requests[key]
}

// FailNext makes the next request matching "METHOD /path" fail with
// status before it reaches its handler.
func (h *Helpdesk) FailNext(key string, status int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.failures[key] = status
}

// SetWebsocketEnabled controls whether websocket upgrades are accepted.
func (h *Helpdesk) SetWebsocketEnabled(enabled bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.wsEnabled = enabled
}

// Handshakes returns the identity parameters of every accepted push
// connection, websocket or polling.
func (h *Helpdesk) Handshakes() []url.Values {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]url.Values(nil), h.handshakes...)
}

// PushClients returns the number of live push connections.
func (h *Helpdesk) PushClients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.wsClients) + len(h.pollSessions)
}

// Received returns every frame clients emitted on the push channel.
func (h *Helpdesk) Received() []PushFrame {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]PushFrame(nil), h.received...)
}

// Push broadcasts an event to every connected push client.
func (h *Helpdesk) Push(event string, data any) {
	raw, err := json.Marshal(data)
	if err != nil {
		h.t.Fatalf("marshaling push payload: %v", err)
	}
	frame := PushFrame{Event: event, Data: raw}

	h.mu.Lock()
	clients := make([]*wsClient, 0, len(h.wsClients))
	for c := range h.wsClients {
		clients = append(clients, c)
	}
	for _, s := range h.pollSessions {
		s.queue = append(s.queue, frame)
		select {
		case s.notify <- struct{}{}:
		default:
		}
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.mu.Lock()
		_ = c.conn.WriteJSON(frame)
		c.mu.Unlock()
	}
}

// DisconnectPush drops every push connection, simulating a transport
// failure.
func (h *Helpdesk) DisconnectPush() {
	h.mu.Lock()
	clients := make([]*wsClient, 0, len(h.wsClients))
	for c := range h.wsClients {
		clients = append(clients, c)
	}
	h.wsClients = make(map[*wsClient]struct{})
	for sid, s := range h.pollSessions {
		close(s.notify)
		delete(h.pollSessions, sid)
	}
	h.mu.Unlock()

	for _, c := range clients {
		_ = c.conn.Close()
	}
}

// UnreadTicketIDs returns the server's view of tickets with unread
// notifications, sorted.
func (h *Helpdesk) UnreadTicketIDs() []model.ID {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.unreadTicketsLocked()
}

func (h *Helpdesk) issueLocked(user model.User) (string, string) {
	now := time.Now()
	claims := accessClaims{
		Generation: h.generation,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID.String(),
			ID:        uuid.New().String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(h.accessTTL)),
		},
	}
	access, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(h.secret)
	if err != nil {
		h.t.Fatalf("signing access token: %v", err)
	}

	refresh := uuid.New().String()
	h.refreshTokens[refresh] = user
	return access, refresh
}

func (h *Helpdesk) validAccess(token string) bool {
	var claims accessClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		return h.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !parsed.Valid {
		return false
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	return claims.Generation >= h.generation
}

func (h *Helpdesk) track(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Method + " " + r.URL.Path

		h.mu.Lock()
		h.requests[key]++
		status, fail := h.failures[key]
		if fail {
			delete(h.failures, key)
		}
		h.mu.Unlock()

		if fail {
			writeJSON(w, status, map[string]any{"message": "injected failure", "statusCode": status})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Helpdesk) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || !h.validAccess(token) {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"message": "Unauthorized", "statusCode": 401})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Helpdesk) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"message": []string{"email must be an email", "password should not be empty"}})
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	acct, ok := h.accounts[req.Email]
	if !ok || acct.password != req.Password {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"message": "Invalid credentials"})
		return
	}

	access, refresh := h.issueLocked(acct.user)
	writeJSON(w, http.StatusOK, map[string]any{
		"accessToken":  access,
		"refreshToken": refresh,
		"user":         acct.user,
	})
}

func (h *Helpdesk) handleRefresh(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	h.refreshCalls++
	gate := h.refreshGate
	h.mu.Unlock()

	if gate != nil {
		<-gate
	}

	var req struct {
		RefreshToken string `json:"refreshToken"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"message": "invalid body"})
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.refreshStatus != 0 {
		writeJSON(w, h.refreshStatus, map[string]any{"message": "refresh rejected"})
		return
	}

	user, ok := h.refreshTokens[req.RefreshToken]
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"message": "Invalid refresh token"})
		return
	}
	// Refresh tokens are single use.
	delete(h.refreshTokens, req.RefreshToken)

	access, refresh := h.issueLocked(user)
	writeJSON(w, http.StatusOK, map[string]any{
		"accessToken":  access,
		"refreshToken": refresh,
	})
}

func (h *Helpdesk) handleMe(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *Helpdesk) handleUpload(w http.ResponseWriter, r *http.Request) {
	file, header, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"message": "file is required"})
		return
	}
	defer file.Close()

	writeJSON(w, http.StatusCreated, map[string]any{
		"id":       uuid.New().String(),
		"filename": header.Filename,
		"size":     header.Size,
	})
}

func (h *Helpdesk) handleListNotifications(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	defer h.mu.Unlock()

	unread := 0
	for _, n := range h.notifications {
		if !n.IsRead {
			unread++
		}
	}
	data := h.notifications
	if data == nil {
		data = []model.Notification{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"data":        data,
		"unreadCount": unread,
	})
}

func (h *Helpdesk) handleUnreadTickets(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	defer h.mu.Unlock()
	writeJSON(w, http.StatusOK, h.unreadTicketsLocked())
}

func (h *Helpdesk) handleReadAll(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i := range h.notifications {
		h.notifications[i].IsRead = true
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (h *Helpdesk) handleMarkRead(read bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := model.ID(mux.Vars(r)["id"])

		h.mu.Lock()
		defer h.mu.Unlock()
		for i := range h.notifications {
			if h.notifications[i].ID == id {
				h.notifications[i].IsRead = read
				writeJSON(w, http.StatusOK, h.notifications[i])
				return
			}
		}
		writeJSON(w, http.StatusNotFound, map[string]any{"message": fmt.Sprintf("Notification %s not found", id)})
	}
}

func (h *Helpdesk) handleTicketRead(read bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ticketID := model.ID(mux.Vars(r)["ticketId"])

		h.mu.Lock()
		defer h.mu.Unlock()
		for i := range h.notifications {
			if h.notifications[i].Data.TicketID == ticketID {
				h.notifications[i].IsRead = read
			}
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true})
	}
}

func (h *Helpdesk) unreadTicketsLocked() []model.ID {
	seen := make(map[model.ID]struct{})
	for _, n := range h.notifications {
		if !n.IsRead && n.Data.TicketID != "" {
			seen[n.Data.TicketID] = struct{}{}
		}
	}
	ids := make([]model.ID, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (h *Helpdesk) acceptHandshake(q url.Values) error {
	if q.Get("userId") == "" {
		return errors.New("userId is required")
	}
	if !h.validAccess(q.Get("token")) {
		return errors.New("invalid token")
	}
	return nil
}

func (h *Helpdesk) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	enabled := h.wsEnabled
	h.mu.Unlock()
	if !enabled {
		http.Error(w, "websocket transport disabled", http.StatusBadRequest)
		return
	}

	q := r.URL.Query()
	if err := h.acceptHandshake(q); err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	client := &wsClient{conn: conn}
	h.mu.Lock()
	h.wsClients[client] = struct{}{}
	h.handshakes = append(h.handshakes, q)
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.wsClients, client)
		h.mu.Unlock()
		_ = conn.Close()
	}()

	for {
		var frame PushFrame
		if err := conn.ReadJSON(&frame); err != nil {
			return
		}
		h.mu.Lock()
		h.received = append(h.received, frame)
		h.mu.Unlock()
	}
}

func (h *Helpdesk) handleHandshake(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if err := h.acceptHandshake(q); err != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"message": err.Error()})
		return
	}

	sid := uuid.New().String()
	h.mu.Lock()
	h.pollSessions[sid] = &pollSession{
		identity: q,
		notify:   make(chan struct{}, 1),
	}
	h.handshakes = append(h.handshakes, q)
	h.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{"sid": sid})
}

func (h *Helpdesk) handlePoll(w http.ResponseWriter, r *http.Request) {
	sid := r.URL.Query().Get("sid")

	h.mu.Lock()
	s, ok := h.pollSessions[sid]
	timeout := h.pollTimeout
	h.mu.Unlock()
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]any{"message": "unknown session"})
		return
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		h.mu.Lock()
		_, alive := h.pollSessions[sid]
		if alive && len(s.queue) > 0 {
			frames := s.queue
			s.queue = nil
			h.mu.Unlock()
			writeJSON(w, http.StatusOK, frames)
			return
		}
		h.mu.Unlock()
		if !alive {
			writeJSON(w, http.StatusBadRequest, map[string]any{"message": "session closed"})
			return
		}

		select {
		case _, open := <-s.notify:
			if !open {
				writeJSON(w, http.StatusBadRequest, map[string]any{"message": "session closed"})
				return
			}
		case <-timer.C:
			writeJSON(w, http.StatusOK, []PushFrame{})
			return
		case <-r.Context().Done():
			return
		}
	}
}

func (h *Helpdesk) handleEmit(w http.ResponseWriter, r *http.Request) {
	sid := r.URL.Query().Get("sid")

	var frame PushFrame
	if err := json.NewDecoder(r.Body).Decode(&frame); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"message": "invalid frame"})
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.pollSessions[sid]; !ok {
		writeJSON(w, http.StatusBadRequest, map[string]any{"message": "unknown session"})
		return
	}
	h.received = append(h.received, frame)
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
