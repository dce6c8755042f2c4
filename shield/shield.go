// Package shield provides reusable HTTP hardening middleware for JSON APIs.
// It consolidates security headers, rate limiting, body limits, request
// tracing, maintenance mode, and HEAD method handling into a single
// importable package.
//
// Usage:
//
//	r := chi.NewRouter()
//	r.Use(shield.SecurityHeaders(shield.DefaultHeaders()))
//	r.Use(shield.MaxBody(1 << 20))
//	r.Use(shield.TraceID)
//	r.Use(shield.NewRateLimiter(db).Middleware)
//
// Or apply the default API stack in one call:
//
//	stack, rl, mm := shield.DefaultAPIStack(db, "/health")
//	rl.StartReloader(done)
//	mm.StartReloader(done)
//	for _, mw := range stack {
//	    r.Use(mw)
//	}
package shield

import (
	"database/sql"
	"encoding/json"
	"net/http"
)

type contextKey string

// LoggerKey is the context key for the per-request structured logger.
const LoggerKey contextKey = "shield_logger"

// errorBody is the JSON envelope written by blocking middlewares, matching
// the error shape of the API handlers behind them.
type errorBody struct {
	ErrorCode string `json:"errorCode"`
	Message   string `json:"message"`
}

func writeErrorJSON(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(errorBody{ErrorCode: code, Message: message})
}

// DefaultAPIStack returns the standard middleware stack for a public JSON API.
// Middleware is ordered: Maintenance → HeadToGet → SecurityHeaders → MaxBody →
// TraceID → RateLimiter. Paths matching healthPrefixes bypass both maintenance
// mode and rate limiting so probes keep working during incidents.
// The returned handles allow callers to start the background reloaders.
func DefaultAPIStack(db *sql.DB, healthPrefixes ...string) ([]func(http.Handler) http.Handler, *RateLimiter, *MaintenanceMode) {
	rl := NewRateLimiter(db, healthPrefixes...)
	mm := NewMaintenanceMode(db, healthPrefixes...)
	return []func(http.Handler) http.Handler{
		mm.Middleware,
		HeadToGet,
		SecurityHeaders(DefaultHeaders()),
		MaxBody(1 << 20),
		TraceID,
		rl.Middleware,
	}, rl, mm
}
