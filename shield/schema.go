package shield

import "database/sql"

// Schema defines the SQLite tables used by shield middlewares:
//   - rate_limits: per-endpoint rate limiting rules (used by RateLimiter)
//   - maintenance: global maintenance mode flag (used by MaintenanceMode)
//
// Apply with Init(db) or execute manually. All statements are idempotent
// (CREATE IF NOT EXISTS / INSERT OR IGNORE), so operators can tune the seeded
// rows without them being reset on restart.
const Schema = `
CREATE TABLE IF NOT EXISTS rate_limits (
    endpoint       TEXT PRIMARY KEY,
    max_requests   INTEGER NOT NULL DEFAULT 60,
    window_seconds INTEGER NOT NULL DEFAULT 60,
    enabled        INTEGER NOT NULL DEFAULT 1
);

INSERT OR IGNORE INTO rate_limits (endpoint, max_requests, window_seconds, enabled) VALUES
    ('POST /fetch',   10,  60, 1),
    ('GET /fetch/*',  30,  60, 1),
    ('GET /data',     60,  60, 1),
    ('GET /health',  100,  60, 1),
    ('GET /',        200,  60, 1);

CREATE TABLE IF NOT EXISTS maintenance (
    id      INTEGER PRIMARY KEY CHECK (id = 1),
    active  INTEGER NOT NULL DEFAULT 0,
    message TEXT NOT NULL DEFAULT 'Service under maintenance, retry shortly.'
);

INSERT OR IGNORE INTO maintenance (id, active, message)
VALUES (1, 0, 'Service under maintenance, retry shortly.');
`

// Init creates the shield tables if they don't exist.
func Init(db *sql.DB) error {
	_, err := db.Exec(Schema)
	return err
}
