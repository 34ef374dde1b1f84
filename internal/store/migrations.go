package store

// migration holds a single schema migration with its target version and SQL.
type migration struct {
	version int
	sql     string
}

// migrations is the ordered list of schema migrations.
// Each migration's version must be sequential starting from 1.
var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS notifications (
	id        TEXT PRIMARY KEY,
	ticket_id TEXT NOT NULL DEFAULT '',
	is_read   INTEGER NOT NULL DEFAULT 0 CHECK(is_read IN (0, 1)),
	position  INTEGER NOT NULL,
	body      TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS unread_tickets (
	ticket_id TEXT PRIMARY KEY
);

CREATE TABLE IF NOT EXISTS meta (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_notifications_position ON notifications(position);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
	{
		version: 2,
		sql: `
CREATE INDEX IF NOT EXISTS idx_notifications_ticket_id
	ON notifications(ticket_id);

INSERT INTO schema_version (version) VALUES (2);
`,
	},
}
