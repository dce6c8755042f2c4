// CLAUDE:SUMMARY Maintenance mode gate: SQLite-backed flag cached in atomics, 503 JSON while active.
package shield

import (
	"database/sql"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"
)

// MaintenanceMode provides a middleware that returns a 503 JSON response
// when maintenance mode is active. The flag is stored in a SQLite table and
// cached in memory.
//
// Expected schema:
//
//	CREATE TABLE IF NOT EXISTS maintenance (
//	    id INTEGER PRIMARY KEY CHECK (id = 1),
//	    active INTEGER NOT NULL DEFAULT 0,
//	    message TEXT NOT NULL DEFAULT 'Service under maintenance, retry shortly.'
//	);
//
// Only one row (id=1) is expected. If the table does not exist or is empty,
// maintenance mode is off.
type MaintenanceMode struct {
	db      *sql.DB
	active  atomic.Bool
	message atomic.Value // string
	exclude []string     // path prefixes that bypass maintenance (e.g. /health)
}

// NewMaintenanceMode creates a maintenance mode checker. Paths matching any of
// excludePrefixes are never blocked (useful for health checks).
func NewMaintenanceMode(db *sql.DB, excludePrefixes ...string) *MaintenanceMode {
	m := &MaintenanceMode{
		db:      db,
		exclude: excludePrefixes,
	}
	m.message.Store("Service under maintenance, retry shortly.")
	m.reload()
	return m
}

// Active reports whether maintenance mode is currently on.
func (m *MaintenanceMode) Active() bool {
	return m.active.Load()
}

// Message returns the current maintenance message.
func (m *MaintenanceMode) Message() string {
	s, _ := m.message.Load().(string)
	return s
}

// StartReloader starts a background goroutine that reloads the maintenance
// flag every 5 seconds. Stops when done is closed.
func (m *MaintenanceMode) StartReloader(done <-chan struct{}) {
	tick := time.NewTicker(5 * time.Second)
	go func() {
		defer tick.Stop()
		for {
			select {
			case <-done:
				return
			case <-tick.C:
				m.reload()
			}
		}
	}()
}

func (m *MaintenanceMode) reload() {
	var active int
	var message string
	err := m.db.QueryRow(`SELECT active, message FROM maintenance WHERE id = 1`).Scan(&active, &message)
	if err != nil {
		// Table missing or empty → maintenance off (normal state).
		if m.active.Load() {
			slog.Info("maintenance: flag cleared (table missing or empty)")
		}
		m.active.Store(false)
		return
	}

	was := m.active.Load()
	m.active.Store(active == 1)
	if message != "" {
		m.message.Store(message)
	}

	if active == 1 && !was {
		slog.Warn("maintenance: mode ENABLED", "message", message)
	} else if active != 1 && was {
		slog.Info("maintenance: mode DISABLED")
	}
}

// Middleware returns an HTTP middleware that blocks requests with a 503 JSON
// body when maintenance mode is active. Excluded prefixes pass through.
func (m *MaintenanceMode) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !m.active.Load() {
			next.ServeHTTP(w, r)
			return
		}

		// Let excluded paths through (health probes).
		for _, prefix := range m.exclude {
			if strings.HasPrefix(r.URL.Path, prefix) {
				next.ServeHTTP(w, r)
				return
			}
		}

		w.Header().Set("Retry-After", "300")
		writeErrorJSON(w, http.StatusServiceUnavailable, "MAINTENANCE", m.Message())
	})
}
