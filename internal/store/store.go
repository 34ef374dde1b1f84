package store

import (
	"context"

	"github.com/nhle/ticketdesk/internal/model"
)

// Store defines the local persistence used between runs: the last
// notification snapshot, the unread ticket set and the signed-in user.
//
// It is a read cache only. Nothing written here is ever replayed to the
// server.
type Store interface {
	// === Notifications ===

	SaveSnapshot(ctx context.Context, snap model.NotificationSnapshot) error
	LoadSnapshot(ctx context.Context) (model.NotificationSnapshot, error)
	SaveUnreadTickets(ctx context.Context, ids []model.ID) error
	LoadUnreadTickets(ctx context.Context) ([]model.ID, error)

	// === Session ===

	SaveUser(ctx context.Context, user model.User) error
	// LoadUser reports false when no user has been saved.
	LoadUser(ctx context.Context) (model.User, bool, error)

	// Clear removes everything. It runs on logout.
	Clear(ctx context.Context) error
	Close() error
}
