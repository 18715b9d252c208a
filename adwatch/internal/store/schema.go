// CLAUDE:SUMMARY Applies the adwatch SQL schema: owners, searches, scan_runs, response_cache.
package store

import "database/sql"

// Schema is the complete adwatch schema. Every statement is idempotent.
const Schema = `
-- Owners (chat ids) that registered at least one search
CREATE TABLE IF NOT EXISTS owners (
    owner_id    TEXT PRIMARY KEY,
    created_at  INTEGER NOT NULL
);

-- Standing searches
CREATE TABLE IF NOT EXISTS searches (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    owner_id     TEXT NOT NULL REFERENCES owners(owner_id) ON DELETE CASCADE,
    source_url   TEXT NOT NULL,
    keyword      TEXT NOT NULL,
    max_price    INTEGER NOT NULL DEFAULT 0 CHECK (max_price >= 0),
    watermark_id TEXT,
    created_at   INTEGER NOT NULL,
    updated_at   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_searches_owner ON searches(owner_id);

-- One row per scan attempt (observability)
CREATE TABLE IF NOT EXISTS scan_runs (
    id            TEXT PRIMARY KEY,
    search_id     INTEGER NOT NULL REFERENCES searches(id) ON DELETE CASCADE,
    status        TEXT NOT NULL,
    error_message TEXT NOT NULL DEFAULT '',
    checked       INTEGER NOT NULL DEFAULT 0,
    notified      INTEGER NOT NULL DEFAULT 0,
    watermark_id  TEXT,
    duration_ms   INTEGER NOT NULL DEFAULT 0,
    started_at    INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_scan_runs_search ON scan_runs(search_id, started_at DESC);

-- Raw HTTP responses keyed by URL
CREATE TABLE IF NOT EXISTS response_cache (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    url         TEXT NOT NULL UNIQUE,
    payload     BLOB NOT NULL,
    fetched_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_response_cache_fetched ON response_cache(fetched_at);
`

// ApplySchema creates all tables and indexes.
func ApplySchema(db *sql.DB) error {
	_, err := db.Exec(Schema)
	return err
}
