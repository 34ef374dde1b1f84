package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/nhle/ticketdesk/internal/model"
)

// Keys in the meta table.
const (
	metaUnreadCount = "unread_count"
	metaSessionUser = "session_user"
)

// SQLiteStore implements the Store interface using a local SQLite database.
type SQLiteStore struct {
	db *sqlx.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath,
// enables WAL mode, and runs any pending schema migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}

	// One connection: writers serialize anyway, and ":memory:" databases
	// are per connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// runMigrations checks the current schema version and applies any
// outstanding migrations in order.
func (s *SQLiteStore) runMigrations() error {
	currentVersion := 0

	var tableCount int
	err := s.db.Get(
		&tableCount,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	)
	if err != nil {
		return fmt.Errorf("checking schema_version table: %w", err)
	}

	if tableCount > 0 {
		err = s.db.Get(&currentVersion, "SELECT COALESCE(MAX(version), 0) FROM schema_version")
		if err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("applying migration v%d: %w", m.version, err)
		}
	}

	return nil
}

// SaveSnapshot replaces the cached notification page and unread count.
func (s *SQLiteStore) SaveSnapshot(ctx context.Context, snap model.NotificationSnapshot) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM notifications"); err != nil {
		return fmt.Errorf("clearing cached notifications: %w", err)
	}

	stmt, err := tx.PreparexContext(ctx, `
		INSERT INTO notifications (id, ticket_id, is_read, position, body)
		VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing insert statement: %w", err)
	}
	defer stmt.Close()

	for i, n := range snap.Items {
		body, err := json.Marshal(n)
		if err != nil {
			return fmt.Errorf("marshaling notification %s: %w", n.ID, err)
		}
		_, err = stmt.ExecContext(ctx,
			n.ID.String(), n.Data.TicketID.String(), boolToInt(n.IsRead), i, string(body),
		)
		if err != nil {
			return fmt.Errorf("caching notification %s: %w", n.ID, err)
		}
	}

	if err := setMeta(ctx, tx, metaUnreadCount, strconv.Itoa(snap.UnreadCount)); err != nil {
		return err
	}

	return tx.Commit()
}

// LoadSnapshot returns the cached notification page in server order. An
// empty cache yields an empty snapshot.
func (s *SQLiteStore) LoadSnapshot(ctx context.Context) (model.NotificationSnapshot, error) {
	var bodies []string
	err := s.db.SelectContext(ctx, &bodies, "SELECT body FROM notifications ORDER BY position")
	if err != nil {
		return model.NotificationSnapshot{}, fmt.Errorf("querying cached notifications: %w", err)
	}

	var snap model.NotificationSnapshot
	for _, body := range bodies {
		var n model.Notification
		if err := json.Unmarshal([]byte(body), &n); err != nil {
			return model.NotificationSnapshot{}, fmt.Errorf("unmarshaling cached notification: %w", err)
		}
		snap.Items = append(snap.Items, n)
	}

	raw, ok, err := s.getMeta(ctx, metaUnreadCount)
	if err != nil {
		return model.NotificationSnapshot{}, err
	}
	if ok {
		count, err := strconv.Atoi(raw)
		if err != nil {
			return model.NotificationSnapshot{}, fmt.Errorf("parsing cached unread count %q: %w", raw, err)
		}
		snap.UnreadCount = count
	}

	return snap, nil
}

// SaveUnreadTickets replaces the cached unread ticket set.
func (s *SQLiteStore) SaveUnreadTickets(ctx context.Context, ids []model.ID) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM unread_tickets"); err != nil {
		return fmt.Errorf("clearing cached unread tickets: %w", err)
	}
	for _, id := range ids {
		_, err := tx.ExecContext(ctx,
			"INSERT OR IGNORE INTO unread_tickets (ticket_id) VALUES (?)", id.String(),
		)
		if err != nil {
			return fmt.Errorf("caching unread ticket %s: %w", id, err)
		}
	}

	return tx.Commit()
}

// LoadUnreadTickets returns the cached unread ticket set, sorted.
func (s *SQLiteStore) LoadUnreadTickets(ctx context.Context) ([]model.ID, error) {
	var ids []string
	err := s.db.SelectContext(ctx, &ids, "SELECT ticket_id FROM unread_tickets ORDER BY ticket_id")
	if err != nil {
		return nil, fmt.Errorf("querying cached unread tickets: %w", err)
	}

	out := make([]model.ID, 0, len(ids))
	for _, id := range ids {
		out = append(out, model.ID(id))
	}
	return out, nil
}

// SaveUser records the signed-in user so a later run can resume the
// session without logging in again.
func (s *SQLiteStore) SaveUser(ctx context.Context, user model.User) error {
	raw, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("marshaling user: %w", err)
	}
	return setMeta(ctx, s.db, metaSessionUser, string(raw))
}

// LoadUser returns the saved user, if any.
func (s *SQLiteStore) LoadUser(ctx context.Context) (model.User, bool, error) {
	raw, ok, err := s.getMeta(ctx, metaSessionUser)
	if err != nil || !ok {
		return model.User{}, false, err
	}

	var user model.User
	if err := json.Unmarshal([]byte(raw), &user); err != nil {
		return model.User{}, false, fmt.Errorf("unmarshaling cached user: %w", err)
	}
	return user, true, nil
}

// Clear removes every cached row.
func (s *SQLiteStore) Clear(ctx context.Context) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"notifications", "unread_tickets", "meta"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("clearing %s: %w", table, err)
		}
	}

	return tx.Commit()
}

func (s *SQLiteStore) getMeta(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.GetContext(ctx, &value, "SELECT value FROM meta WHERE key = ?", key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("reading meta %s: %w", key, err)
	}
	return value, true, nil
}

func setMeta(ctx context.Context, db sqlx.ExecerContext, key, value string) error {
	_, err := db.ExecContext(ctx, `
		INSERT OR REPLACE INTO meta (key, value, updated_at)
		VALUES (?, ?, ?)`,
		key, value, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("writing meta %s: %w", key, err)
	}
	return nil
}

// boolToInt converts a boolean to 0 or 1 for SQLite storage.
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
