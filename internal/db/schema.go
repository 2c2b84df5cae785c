package db

// SchemaVersion is the current database schema version
const SchemaVersion = 4

const schema = `
-- Entity mirror: one row per local entity, any collection.
-- local_id is assigned client-side at creation; server_id arrives once the
-- create has been acknowledged and is never rewritten afterwards.
CREATE TABLE IF NOT EXISTS entities (
    local_id TEXT PRIMARY KEY,
    entity_type TEXT NOT NULL,
    server_id TEXT,
    user_id TEXT NOT NULL,
    payload TEXT NOT NULL DEFAULT '{}',
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

-- Outbox: durable queue of not-yet-acknowledged mutations, per user.
CREATE TABLE IF NOT EXISTS outbox (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    user_id TEXT NOT NULL,
    entity_type TEXT NOT NULL,
    entity_id TEXT NOT NULL,
    operation TEXT NOT NULL,
    payload TEXT NOT NULL DEFAULT '{}',
    timestamp DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    retries INTEGER NOT NULL DEFAULT 0,
    error_code TEXT DEFAULT '',
    error_message TEXT DEFAULT '',
    error_at DATETIME
);

-- Delta counters: server-reported counts per collection.
CREATE TABLE IF NOT EXISTS delta_counters (
    collection TEXT PRIMARY KEY,
    server_count INTEGER NOT NULL DEFAULT 0,
    last_checked_at DATETIME
);

-- Schema info table for version tracking
CREATE TABLE IF NOT EXISTS schema_info (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
);

-- Indexes
CREATE UNIQUE INDEX IF NOT EXISTS idx_entities_server
    ON entities(entity_type, server_id) WHERE server_id IS NOT NULL;
CREATE INDEX IF NOT EXISTS idx_entities_type ON entities(entity_type);
CREATE INDEX IF NOT EXISTS idx_outbox_user_time ON outbox(user_id, timestamp);
CREATE INDEX IF NOT EXISTS idx_outbox_user_entity ON outbox(user_id, entity_type, entity_id);
`

// Migration defines a database migration
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// Migrations is the list of all database migrations in order
var Migrations = []Migration{
	// Version 1 is the initial schema - no migration needed
	{
		Version:     2,
		Description: "Add structured error step and terminal flag to outbox",
		SQL: `ALTER TABLE outbox ADD COLUMN error_step TEXT DEFAULT '';
ALTER TABLE outbox ADD COLUMN error_terminal INTEGER NOT NULL DEFAULT 0;`,
	},
	{
		Version:     3,
		Description: "Add sync_history table for drain audit trail",
		SQL: `
CREATE TABLE IF NOT EXISTS sync_history (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    trigger_kind TEXT NOT NULL,
    started_at DATETIME NOT NULL,
    finished_at DATETIME NOT NULL,
    sent INTEGER NOT NULL DEFAULT 0,
    completed INTEGER NOT NULL DEFAULT 0,
    deferred INTEGER NOT NULL DEFAULT 0,
    failed INTEGER NOT NULL DEFAULT 0,
    blocked INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_sync_history_started ON sync_history(started_at);
`,
	},
	{
		Version:     4,
		Description: "Add stale flag to delta_counters",
		SQL:         `ALTER TABLE delta_counters ADD COLUMN stale INTEGER NOT NULL DEFAULT 0;`,
	},
}
