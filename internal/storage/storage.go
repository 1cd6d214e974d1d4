// Package storage opens the embedded sqlite database shared by the job
// queue, the asset cache, and the entity tables, and applies the bootstrap
// schema. Schema *evolution* (versioned migrations) is explicitly out of
// core scope per spec.md §1 — this only creates the tables if they don't
// already exist, which is sufficient for an embedded single-file store that
// the operator's migration tooling owns going forward.
package storage

import (
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// Open opens (creating if absent) the sqlite database at path and applies
// the bootstrap schema. path may be ":memory:" for tests.
func Open(path string) (*sqlx.DB, error) {
	db, err := sqlx.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("storage: open: %w", err)
	}
	// SQLite allows only one writer at a time; a single shared connection
	// avoids SQLITE_BUSY storms under the worker pool's concurrent claims:
	// a transaction holds the only connection until it commits, so the pool
	// itself serializes writers.
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("storage: ping: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("storage: apply schema: %w", err)
	}
	return db, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS libraries (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL,
	root_path TEXT NOT NULL UNIQUE,
	kind TEXT NOT NULL,
	auto_enrich INTEGER NOT NULL DEFAULT 0,
	publishing_policy TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS entities (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	library_id INTEGER NOT NULL REFERENCES libraries(id),
	kind TEXT NOT NULL,
	parent_id INTEGER,
	path TEXT NOT NULL,
	title TEXT NOT NULL,
	year INTEGER NOT NULL DEFAULT 0,
	imdb_id TEXT NOT NULL DEFAULT '',
	tmdb_id TEXT NOT NULL DEFAULT '',
	tvdb_id TEXT NOT NULL DEFAULT '',
	state TEXT NOT NULL DEFAULT 'discovered',
	last_scraped_at DATETIME,
	enrichment_priority INTEGER NOT NULL DEFAULT 0,
	monitored INTEGER NOT NULL DEFAULT 1,
	fields_json TEXT NOT NULL DEFAULT '{}',
	version INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	UNIQUE(library_id, path)
);

CREATE TABLE IF NOT EXISTS cache_assets (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	content_hash TEXT NOT NULL UNIQUE,
	file_path TEXT NOT NULL,
	file_size INTEGER NOT NULL,
	mime_type TEXT NOT NULL DEFAULT '',
	width INTEGER NOT NULL DEFAULT 0,
	height INTEGER NOT NULL DEFAULT 0,
	perceptual_hash TEXT NOT NULL DEFAULT '',
	source_kind TEXT NOT NULL,
	source_url TEXT NOT NULL DEFAULT '',
	provider_name TEXT NOT NULL DEFAULT '',
	reference_count INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	last_accessed_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS asset_candidates (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	entity_id INTEGER NOT NULL REFERENCES entities(id),
	asset_type TEXT NOT NULL,
	url TEXT NOT NULL,
	width INTEGER NOT NULL DEFAULT 0,
	height INTEGER NOT NULL DEFAULT 0,
	language TEXT NOT NULL DEFAULT '',
	community_score REAL NOT NULL DEFAULT 0,
	vote_count INTEGER NOT NULL DEFAULT 0,
	provider_name TEXT NOT NULL,
	score REAL NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS discovered_assets (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	entity_id INTEGER NOT NULL REFERENCES entities(id),
	asset_type TEXT NOT NULL,
	library_path TEXT NOT NULL,
	cache_path TEXT NOT NULL,
	language TEXT NOT NULL DEFAULT '',
	quality TEXT NOT NULL DEFAULT '',
	forced INTEGER NOT NULL DEFAULT 0,
	sdh INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	UNIQUE(entity_id, library_path)
);

CREATE TABLE IF NOT EXISTS field_locks (
	entity_id INTEGER NOT NULL REFERENCES entities(id),
	field TEXT NOT NULL,
	locked_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (entity_id, field)
);

CREATE TABLE IF NOT EXISTS provider_config (
	name TEXT PRIMARY KEY,
	enabled INTEGER NOT NULL DEFAULT 1,
	api_key TEXT,
	enabled_asset_types TEXT NOT NULL DEFAULT '[]',
	last_test_status TEXT NOT NULL DEFAULT 'never_tested',
	last_test_at DATETIME,
	last_test_error TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS priority_profiles (
	name TEXT PRIMARY KEY,
	field_order_json TEXT NOT NULL DEFAULT '{}',
	asset_type_order_json TEXT NOT NULL DEFAULT '{}'
);

CREATE TABLE IF NOT EXISTS job_queue (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	type TEXT NOT NULL,
	priority INTEGER NOT NULL,
	payload_json TEXT NOT NULL DEFAULT '{}',
	status TEXT NOT NULL DEFAULT 'pending',
	retry_count INTEGER NOT NULL DEFAULT 0,
	max_retries INTEGER NOT NULL DEFAULT 3,
	last_error TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	started_at DATETIME,
	manual INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_job_queue_claim ON job_queue(status, priority, created_at);

CREATE TABLE IF NOT EXISTS job_history (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	job_id INTEGER NOT NULL,
	type TEXT NOT NULL,
	priority INTEGER NOT NULL,
	payload_json TEXT NOT NULL DEFAULT '{}',
	outcome TEXT NOT NULL,
	last_error TEXT NOT NULL DEFAULT '',
	retry_count INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL,
	finished_at DATETIME NOT NULL,
	retention TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_job_history_retention ON job_history(retention, finished_at);

CREATE TABLE IF NOT EXISTS scan_jobs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	library_id INTEGER NOT NULL REFERENCES libraries(id),
	status TEXT NOT NULL DEFAULT 'running',
	total_directories INTEGER NOT NULL DEFAULT 0,
	discovered INTEGER NOT NULL DEFAULT 0,
	updated INTEGER NOT NULL DEFAULT 0,
	queued INTEGER NOT NULL DEFAULT 0,
	errored INTEGER NOT NULL DEFAULT 0,
	skipped INTEGER NOT NULL DEFAULT 0,
	last_error TEXT NOT NULL DEFAULT '',
	cancel_requested INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	finished_at DATETIME
);

CREATE TABLE IF NOT EXISTS app_settings (
	key TEXT PRIMARY KEY,
	value_json TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS video_streams (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	entity_id INTEGER NOT NULL REFERENCES entities(id),
	codec TEXT NOT NULL DEFAULT '',
	width INTEGER NOT NULL DEFAULT 0,
	height INTEGER NOT NULL DEFAULT 0,
	frame_rate REAL NOT NULL DEFAULT 0,
	bit_rate INTEGER NOT NULL DEFAULT 0,
	profile TEXT NOT NULL DEFAULT '',
	stream_index INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_video_streams_entity ON video_streams(entity_id);

CREATE TABLE IF NOT EXISTS audio_streams (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	entity_id INTEGER NOT NULL REFERENCES entities(id),
	codec TEXT NOT NULL DEFAULT '',
	channels INTEGER NOT NULL DEFAULT 0,
	bit_rate INTEGER NOT NULL DEFAULT 0,
	language TEXT NOT NULL DEFAULT '',
	stream_index INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_audio_streams_entity ON audio_streams(entity_id);

CREATE TABLE IF NOT EXISTS subtitle_streams (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	entity_id INTEGER NOT NULL REFERENCES entities(id),
	language TEXT NOT NULL DEFAULT '',
	forced INTEGER NOT NULL DEFAULT 0,
	sdh INTEGER NOT NULL DEFAULT 0,
	source TEXT NOT NULL DEFAULT '',
	path TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_subtitle_streams_entity ON subtitle_streams(entity_id);
`
