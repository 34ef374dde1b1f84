package testutil

import (
	"context"
	"testing"

	"github.com/nhle/ticketdesk/internal/model"
	"github.com/nhle/ticketdesk/internal/store"
)

// NewTestStore creates an in-memory snapshot cache with all migrations
// applied. It is closed when the test completes.
func NewTestStore(t testing.TB) *store.SQLiteStore {
	t.Helper()

	s, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("creating test store: %v", err)
	}

	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("closing test store: %v", err)
		}
	})

	return s
}

// SeedStore writes what a previous run would have left behind: the
// notification page, the unread ticket set and the signed-in user.
func SeedStore(t testing.TB, s store.Store, snap model.NotificationSnapshot, user model.User) {
	t.Helper()
	ctx := context.Background()

	tickets := make(map[model.ID]struct{})
	for _, n := range snap.Items {
		if !n.IsRead && n.Data.TicketID != "" {
			tickets[n.Data.TicketID] = struct{}{}
		}
	}
	ids := make([]model.ID, 0, len(tickets))
	for id := range tickets {
		ids = append(ids, id)
	}

	if err := s.SaveSnapshot(ctx, snap); err != nil {
		t.Fatalf("seeding snapshot: %v", err)
	}
	if err := s.SaveUnreadTickets(ctx, ids); err != nil {
		t.Fatalf("seeding unread tickets: %v", err)
	}
	if err := s.SaveUser(ctx, user); err != nil {
		t.Fatalf("seeding user: %v", err)
	}
}
