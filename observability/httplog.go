// CLAUDE:SUMMARY Async HTTP request logging middleware: buffered channel, dropped on overflow, per-entry inserts.
package observability

import (
	"database/sql"
	"log/slog"
	"net/http"
	"time"
)

// RequestLogEntry is one HTTP request record.
type RequestLogEntry struct {
	Method     string
	Path       string
	StatusCode int
	DurationMs int64
	IP         string
	UserAgent  string
}

// RequestLogger persists HTTP request logs asynchronously. Entries are queued
// on a buffered channel; when the buffer is full, entries are dropped rather
// than blocking the request path.
type RequestLogger struct {
	db   *sql.DB
	ch   chan *RequestLogEntry
	stop chan struct{}
	done chan struct{}
}

// NewRequestLogger creates an async request logger. Recommended bufferSize: 1000.
func NewRequestLogger(db *sql.DB, bufferSize int) *RequestLogger {
	rl := &RequestLogger{
		db:   db,
		ch:   make(chan *RequestLogEntry, bufferSize),
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	go rl.writeLoop()
	return rl
}

// Record queues an entry for persistence. Non-blocking: drops on overflow.
func (rl *RequestLogger) Record(e *RequestLogEntry) {
	select {
	case rl.ch <- e:
	default:
		slog.Debug("request log buffer full, entry dropped", "path", e.Path)
	}
}

// Close stops the write loop after draining queued entries.
func (rl *RequestLogger) Close() error {
	close(rl.stop)
	<-rl.done
	return nil
}

func (rl *RequestLogger) writeLoop() {
	defer close(rl.done)
	for {
		select {
		case e := <-rl.ch:
			rl.insert(e)
		case <-rl.stop:
			// Drain what's left without blocking.
			for {
				select {
				case e := <-rl.ch:
					rl.insert(e)
				default:
					return
				}
			}
		}
	}
}

func (rl *RequestLogger) insert(e *RequestLogEntry) {
	_, err := rl.db.Exec(`
		INSERT INTO http_request_logs (method, path, status_code, duration_ms, ip_address, user_agent)
		VALUES (?,?,?,?,?,?)`,
		e.Method, e.Path, e.StatusCode, e.DurationMs, e.IP, e.UserAgent)
	if err != nil {
		slog.Error("request log insert failed", "error", err, "path", e.Path)
	}
}

// statusRecorder captures the response status code for logging.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

// Middleware returns an HTTP middleware that records every request.
// clientIP extracts the client address (pass nil to use RemoteAddr as-is).
func (rl *RequestLogger) Middleware(clientIP func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sr := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(sr, r)

			ip := r.RemoteAddr
			if clientIP != nil {
				ip = clientIP(r)
			}
			rl.Record(&RequestLogEntry{
				Method:     r.Method,
				Path:       r.URL.Path,
				StatusCode: sr.status,
				DurationMs: time.Since(start).Milliseconds(),
				IP:         ip,
				UserAgent:  r.UserAgent(),
			})
		})
	}
}
