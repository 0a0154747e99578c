package store

const schemaVersion = 1

const schemaDDL = `
CREATE TABLE IF NOT EXISTS messages (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	source          TEXT NOT NULL,
	destination     TEXT NOT NULL,
	topic_or_node   TEXT NOT NULL,
	value           TEXT NOT NULL,
	data_type       TEXT NOT NULL,
	status          TEXT NOT NULL DEFAULT 'pending',
	priority        INTEGER NOT NULL,
	retry_count     INTEGER NOT NULL DEFAULT 0,
	max_retries     INTEGER NOT NULL,
	created_at      INTEGER NOT NULL,
	next_attempt_at INTEGER NOT NULL,
	processed_at    INTEGER,
	expire_at       INTEGER NOT NULL,
	lease_owner     TEXT,
	lease_deadline  INTEGER,
	last_error      TEXT
);

CREATE INDEX IF NOT EXISTS idx_messages_status_priority_created
	ON messages(status, priority, created_at);
CREATE INDEX IF NOT EXISTS idx_messages_expire_at ON messages(expire_at);
CREATE INDEX IF NOT EXISTS idx_messages_status_lease_deadline
	ON messages(status, lease_deadline);
CREATE INDEX IF NOT EXISTS idx_messages_processed_at ON messages(processed_at);
CREATE INDEX IF NOT EXISTS idx_messages_coalesce
	ON messages(destination, topic_or_node, priority, status);

CREATE TABLE IF NOT EXISTS failed_messages (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	original_id    INTEGER NOT NULL,
	source         TEXT NOT NULL,
	destination    TEXT NOT NULL,
	topic_or_node  TEXT NOT NULL,
	value          TEXT NOT NULL,
	error_message  TEXT NOT NULL,
	failed_at      INTEGER NOT NULL,
	retry_count    INTEGER NOT NULL,
	archive_reason TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_failed_messages_failed_at ON failed_messages(failed_at);

CREATE TABLE IF NOT EXISTS statistics (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp    INTEGER NOT NULL,
	metric_name  TEXT NOT NULL,
	metric_value REAL NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_statistics_name_timestamp ON statistics(metric_name, timestamp);

CREATE TABLE IF NOT EXISTS store_meta (key TEXT PRIMARY KEY, value TEXT);
`
