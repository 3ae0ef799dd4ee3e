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

CREATE TABLE IF NOT EXISTS identities (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS identity_addresses (
	address     TEXT PRIMARY KEY,
	identity_id TEXT NOT NULL REFERENCES identities(id) ON DELETE CASCADE,
	created_at  DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS threads (
	id         TEXT PRIMARY KEY,
	creator_id TEXT NOT NULL REFERENCES identities(id),
	title      TEXT NOT NULL,
	created_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS messages (
	id                  TEXT PRIMARY KEY,
	message_id          TEXT NOT NULL UNIQUE CHECK(message_id <> ''),
	thread_id           TEXT NOT NULL REFERENCES threads(id),
	sender_id           TEXT NOT NULL REFERENCES identities(id),
	reply_to_message_id TEXT,
	reply_to_id         TEXT REFERENCES messages(id),
	subject             TEXT NOT NULL DEFAULT '',
	subject_key         TEXT NOT NULL DEFAULT '',
	body                TEXT NOT NULL DEFAULT '',
	created_at          DATETIME NOT NULL,
	imported_at         DATETIME NOT NULL,
	import_log          TEXT
);

CREATE TABLE IF NOT EXISTS message_recipients (
	message_id  TEXT NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
	identity_id TEXT NOT NULL REFERENCES identities(id),
	kind        TEXT NOT NULL CHECK(kind IN ('to', 'cc')),
	PRIMARY KEY (message_id, identity_id, kind)
);

CREATE TABLE IF NOT EXISTS attachments (
	id           TEXT PRIMARY KEY,
	message_id   TEXT NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
	filename     TEXT NOT NULL DEFAULT '',
	content_type TEXT NOT NULL DEFAULT '',
	size         INTEGER NOT NULL DEFAULT 0,
	is_patch     INTEGER NOT NULL DEFAULT 0 CHECK(is_patch IN (0, 1)),
	data         BLOB,
	created_at   DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS sync_state (
	label                   TEXT PRIMARY KEY,
	last_uid                INTEGER NOT NULL DEFAULT 0,
	uid_validity            INTEGER NOT NULL DEFAULT 0,
	last_checked_at         DATETIME,
	last_cycle_started_at   DATETIME,
	last_cycle_duration_ms  INTEGER NOT NULL DEFAULT 0,
	last_fetched            INTEGER NOT NULL DEFAULT 0,
	last_ingested           INTEGER NOT NULL DEFAULT 0,
	last_duplicates         INTEGER NOT NULL DEFAULT 0,
	last_attachments        INTEGER NOT NULL DEFAULT 0,
	last_patch_files        INTEGER NOT NULL DEFAULT 0,
	last_failed             INTEGER NOT NULL DEFAULT 0,
	last_backlog            INTEGER NOT NULL DEFAULT 0,
	consecutive_error_count INTEGER NOT NULL DEFAULT 0,
	last_error              TEXT NOT NULL DEFAULT '',
	last_error_class        TEXT NOT NULL DEFAULT '',
	backoff_seconds         INTEGER NOT NULL DEFAULT 0,
	updated_at              DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_identity_addresses_identity ON identity_addresses(identity_id);
CREATE INDEX IF NOT EXISTS idx_messages_thread ON messages(thread_id, created_at);
CREATE INDEX IF NOT EXISTS idx_messages_subject_key ON messages(subject_key, created_at);
CREATE INDEX IF NOT EXISTS idx_attachments_message ON attachments(message_id);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
	{
		version: 2,
		sql: `
CREATE TABLE IF NOT EXISTS notifications (
	id         TEXT PRIMARY KEY,
	message_id TEXT NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
	thread_id  TEXT NOT NULL,
	text       TEXT NOT NULL,
	read       INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_notifications_read ON notifications(read);
CREATE INDEX IF NOT EXISTS idx_notifications_created ON notifications(created_at);

INSERT INTO schema_version (version) VALUES (2);
`,
	},
}
