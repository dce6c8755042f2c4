// CLAUDE:SUMMARY Applies the stories SQL schema: items, jobs, and the active-fingerprint unique index.
package store

import "database/sql"

// Schema is the complete stories schema.
const Schema = `
-- Items fetched from the upstream source, keyed by their upstream ID
CREATE TABLE IF NOT EXISTS items (
    external_id   INTEGER PRIMARY KEY,
    title         TEXT NOT NULL DEFAULT '',
    url           TEXT NOT NULL DEFAULT '',
    score         INTEGER NOT NULL DEFAULT 0,
    author        TEXT NOT NULL DEFAULT '',
    time          INTEGER NOT NULL DEFAULT 0,
    descendants   INTEGER NOT NULL DEFAULT 0,
    item_type     TEXT NOT NULL DEFAULT 'story',
    text          TEXT NOT NULL DEFAULT '',
    first_seen_at INTEGER NOT NULL,
    fetched_at    INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_items_score ON items(score DESC, fetched_at DESC);
CREATE INDEX IF NOT EXISTS idx_items_time ON items(time DESC);

-- Fetch jobs: one row per accepted request, deduplicated by fingerprint
CREATE TABLE IF NOT EXISTS jobs (
    id            TEXT PRIMARY KEY,
    fingerprint   TEXT NOT NULL,
    status        TEXT NOT NULL DEFAULT 'pending',
    min_score     INTEGER,
    keyword       TEXT,
    max_items     INTEGER NOT NULL,
    progress      INTEGER NOT NULL DEFAULT 0,
    message       TEXT NOT NULL DEFAULT '',
    items_fetched INTEGER NOT NULL DEFAULT 0,
    items_matched INTEGER NOT NULL DEFAULT 0,
    items_stored  INTEGER NOT NULL DEFAULT 0,
    error         TEXT NOT NULL DEFAULT '',
    created_at    INTEGER NOT NULL,
    started_at    INTEGER,
    finished_at   INTEGER
);
CREATE INDEX IF NOT EXISTS idx_jobs_fingerprint ON jobs(fingerprint, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status, created_at DESC);
`

// MigrationActiveFingerprint enforces single-flight at the database level:
// at most one pending or running job may exist per fingerprint. Concurrent
// submitters race on this index and the loser re-reads the winner's row.
const MigrationActiveFingerprint = `
CREATE UNIQUE INDEX IF NOT EXISTS idx_jobs_active_fingerprint
    ON jobs(fingerprint) WHERE status IN ('pending','running');
`

// ApplySchema creates all tables and indexes on the given database.
func ApplySchema(db *sql.DB) error {
	if _, err := db.Exec(Schema); err != nil {
		return err
	}
	if _, err := db.Exec(MigrationActiveFingerprint); err != nil {
		return err
	}
	return nil
}
