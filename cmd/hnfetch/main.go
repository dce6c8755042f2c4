// CLAUDE:SUMMARY Entry point for the hnfetch HTTP service — chi router, shield stack, MCP stdio/QUIC optional.
package main

import (
	"context"
	"crypto/tls"
	"database/sql"
	"encoding/json"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hazyhaar/hnfetch/dbopen"
	"github.com/hazyhaar/hnfetch/idgen"
	"github.com/hazyhaar/hnfetch/mcpquic"
	"github.com/hazyhaar/hnfetch/observability"
	"github.com/hazyhaar/hnfetch/shield"
	"github.com/hazyhaar/hnfetch/stories"
	"github.com/hazyhaar/hnfetch/trace"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	_ "modernc.org/sqlite"
)

const (
	serviceName    = "hnfetch"
	serviceVersion = "1.0.0"
)

func main() {
	cfgPath := flag.String("config", "", "path to YAML config file (defaults apply when empty)")
	mcpStdio := flag.Bool("mcp", false, "serve MCP over stdio instead of HTTP")
	flag.Parse()

	// Logging.
	var lvl slog.Level
	switch env("LOG_LEVEL", "info") {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)

	// Config: defaults, optional YAML file, env overrides.
	cfg := stories.DefaultConfig()
	if *cfgPath != "" {
		var err error
		cfg, err = stories.LoadConfig(*cfgPath)
		if err != nil {
			slog.Error("config", "error", err)
			os.Exit(1)
		}
	}
	if v := os.Getenv("LISTEN"); v != "" {
		cfg.Listen = v
	}
	if v := os.Getenv("DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("OPS_DB_PATH"); v != "" {
		cfg.OpsDB = v
	}

	// Signal context.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Trace DB — opened with the raw "sqlite" driver (never "sqlite-trace",
	// that would recurse).
	traceDB, err := dbopen.Open(env("TRACE_DB", "hnfetch_traces.db"), dbopen.WithMkdirAll())
	if err != nil {
		slog.Error("trace db", "error", err)
		os.Exit(1)
	}
	defer traceDB.Close()
	traceStore := trace.NewStore(traceDB)
	if err := traceStore.Init(); err != nil {
		slog.Error("trace init", "error", err)
		os.Exit(1)
	}
	trace.SetStore(traceStore)
	defer traceStore.Close()

	// App DB: items + jobs, traced.
	appDB, err := dbopen.Open(cfg.DBPath, dbopen.WithMkdirAll(), dbopen.WithTrace())
	if err != nil {
		slog.Error("app db", "error", err)
		os.Exit(1)
	}
	defer appDB.Close()
	if err := stories.ApplySchema(appDB); err != nil {
		slog.Error("apply schema", "error", err)
		os.Exit(1)
	}

	// Ops DB — events, metrics, request logs, rate limits. Separate file to
	// keep observability writes off the app DB.
	opsDB, err := dbopen.Open(cfg.OpsDB, dbopen.WithMkdirAll())
	if err != nil {
		slog.Error("ops db", "error", err)
		os.Exit(1)
	}
	defer opsDB.Close()
	if err := observability.Init(opsDB); err != nil {
		slog.Error("observability schema", "error", err)
		os.Exit(1)
	}
	if err := shield.Init(opsDB); err != nil {
		slog.Error("shield schema", "error", err)
		os.Exit(1)
	}

	// Observability components.
	events := observability.NewEventLogger(opsDB,
		observability.WithEventIDGenerator(idgen.Prefixed("evt_", idgen.Default)),
	)
	metrics := observability.NewMetricsManager(opsDB, 100, 5*time.Second)
	defer metrics.Close()
	reqLog := observability.NewRequestLogger(opsDB, 256)
	defer reqLog.Close()

	// Heartbeat: liveness + runtime snapshot every 15s.
	heartbeat := observability.NewHeartbeatWriter(opsDB, serviceName, 15*time.Second)
	heartbeat.Start(ctx)
	defer heartbeat.Stop()

	// Stories service.
	svc, err := stories.New(appDB, cfg, logger,
		stories.WithEventLogger(events),
		stories.WithMetrics(metrics),
	)
	if err != nil {
		slog.Error("stories service", "error", err)
		os.Exit(1)
	}
	defer svc.Close()

	if err := svc.Start(ctx); err != nil {
		slog.Error("start service", "error", err)
		os.Exit(1)
	}

	// Retention: prune observability tables daily, plus stored items when
	// item_retention_days is set.
	go retentionLoop(ctx, opsDB, svc, cfg.ItemRetentionDays)

	// MCP server — shared by stdio and QUIC transports.
	mcpSrv := mcp.NewServer(&mcp.Implementation{
		Name:    serviceName,
		Version: serviceVersion,
	}, nil)
	svc.RegisterMCP(mcpSrv)

	// Stdio mode: serve a single MCP session on stdin/stdout, no HTTP.
	if *mcpStdio {
		if err := mcpSrv.Run(ctx, &mcp.StdioTransport{}); err != nil && ctx.Err() == nil {
			slog.Error("mcp stdio", "error", err)
			os.Exit(1)
		}
		return
	}

	// Optional MCP QUIC listener alongside HTTP.
	if env("MCP_TRANSPORT", "") == "quic" {
		quicAddr := env("MCP_QUIC_ADDR", ":9444")
		certFile := env("TLS_CERT", "")
		keyFile := env("TLS_KEY", "")

		var tlsCfg *tls.Config
		if certFile != "" && keyFile != "" {
			tlsCfg, err = mcpquic.ServerTLSConfig(certFile, keyFile)
		} else {
			tlsCfg, err = mcpquic.SelfSignedTLSConfig()
		}
		if err != nil {
			slog.Error("MCP QUIC TLS", "error", err)
		} else {
			ql, qErr := mcpquic.NewListener(quicAddr, tlsCfg, mcpSrv, logger)
			if qErr != nil {
				slog.Error("MCP QUIC listener", "error", qErr)
			} else {
				go func() {
					slog.Info("MCP QUIC starting", "addr", quicAddr)
					if sErr := ql.Serve(ctx); sErr != nil && ctx.Err() == nil {
						slog.Error("MCP QUIC", "error", sErr)
					}
				}()
			}
		}
	}

	// Router.
	r := chi.NewRouter()
	stack, rl, mm := shield.DefaultAPIStack(opsDB, "/health")
	rl.StartReloader(ctx.Done())
	mm.StartReloader(ctx.Done())
	for _, mw := range stack {
		r.Use(mw)
	}
	r.Use(reqLog.Middleware(shield.ExtractIP))

	r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, 200, map[string]string{
			"service": serviceName,
			"version": serviceVersion,
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		h := svc.Health(r.Context())
		writeJSON(w, 200, map[string]any{
			"status":    h.Status,
			"database":  h.Database,
			"upstream":  h.Upstream,
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
	})

	r.Get("/health/detailed", func(w http.ResponseWriter, r *http.Request) {
		h := svc.Health(r.Context())
		resp := map[string]any{
			"status":    h.Status,
			"database":  h.Database,
			"upstream":  h.Upstream,
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		}
		if stats, err := svc.ServiceStats(r.Context()); err == nil {
			resp["items"] = stats.Items
			resp["jobsByStatus"] = stats.JobsByStatus
		}
		// 3× heartbeat interval before liveness counts as stale.
		if hb, err := observability.LatestHeartbeat(r.Context(), opsDB, serviceName, 45*time.Second); err == nil && hb != nil {
			resp["heartbeat"] = hb
		}
		if evs, err := events.RecentEvents(r.Context(), "", 50); err == nil {
			failures := 0
			for _, ev := range evs {
				if !ev.Success {
					failures++
				}
			}
			resp["recentFailures"] = failures
		}
		writeJSON(w, 200, resp)
	})

	r.Post("/fetch", func(w http.ResponseWriter, r *http.Request) {
		var req stories.FetchRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, 400, "VALIDATION_ERROR", "malformed JSON body")
			return
		}
		job, created, err := svc.Submit(r.Context(), req)
		if err != nil {
			mapError(w, err)
			return
		}
		writeJSON(w, 202, map[string]any{
			"jobId":     job.ID,
			"status":    job.Status,
			"message":   stories.SubmitMessage(job, created),
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
	})

	r.Get("/fetch/{jobID}", func(w http.ResponseWriter, r *http.Request) {
		job, err := svc.JobStatus(r.Context(), chi.URLParam(r, "jobID"))
		if err != nil {
			mapError(w, err)
			return
		}
		writeJSON(w, 200, jobResponse(job))
	})

	r.Get("/data", func(w http.ResponseWriter, r *http.Request) {
		q, err := parseDataQuery(r)
		if err != nil {
			writeError(w, 400, "VALIDATION_ERROR", err.Error())
			return
		}
		page, err := svc.QueryData(r.Context(), q)
		if err != nil {
			mapError(w, err)
			return
		}
		writeJSON(w, 200, page)
	})

	// HTTP server.
	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		slog.Info("server starting", "addr", cfg.Listen)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown", "error", err)
	}
	slog.Info("server stopped")
}

// jobResponse shapes a job row for the status endpoint: terminal counters
// move under "result", absent timestamps are omitted.
func jobResponse(job *stories.Job) map[string]any {
	resp := map[string]any{
		"jobId":     job.ID,
		"status":    job.Status,
		"createdAt": job.CreatedAt,
		"progress":  job.Progress,
	}
	if job.Message != "" {
		resp["message"] = job.Message
	}
	if job.StartedAt != nil {
		resp["startedAt"] = *job.StartedAt
	}
	if job.FinishedAt != nil {
		resp["finishedAt"] = *job.FinishedAt
	}
	if job.Status == stories.JobSucceeded {
		resp["result"] = map[string]int{
			"itemsFetched": job.ItemsFetched,
			"itemsMatched": job.ItemsMatched,
			"itemsStored":  job.ItemsStored,
		}
	}
	if job.Error != "" {
		resp["error"] = job.Error
	}
	return resp
}

// parseDataQuery reads /data query params. Malformed numbers are a 400, not
// a silent default.
func parseDataQuery(r *http.Request) (stories.DataQuery, error) {
	var q stories.DataQuery
	var err error

	if q.Page, err = queryInt(r, "page"); err != nil {
		return q, err
	}
	if q.PageSize, err = queryInt(r, "pageSize"); err != nil {
		return q, err
	}
	if s := r.URL.Query().Get("minScore"); s != "" {
		v, err := strconv.Atoi(s)
		if err != nil {
			return q, errors.New("minScore must be an integer")
		}
		q.MinScore = &v
	}
	if s := r.URL.Query().Get("externalId"); s != "" {
		v, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return q, errors.New("externalId must be an integer")
		}
		q.ExternalID = &v
	}
	q.Keyword = r.URL.Query().Get("keyword")
	q.OrderBy = r.URL.Query().Get("orderBy")
	q.OrderDir = r.URL.Query().Get("orderDir")
	return q, nil
}

func queryInt(r *http.Request, key string) (int, error) {
	s := r.URL.Query().Get(key)
	if s == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, errors.New(key + " must be an integer")
	}
	return v, nil
}

// mapError translates service errors into HTTP statuses.
func mapError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, stories.ErrInvalidRequest):
		writeError(w, 400, "VALIDATION_ERROR", err.Error())
	case errors.Is(err, stories.ErrJobNotFound):
		writeError(w, 404, "NOT_FOUND", err.Error())
	case errors.Is(err, stories.ErrOverloaded):
		writeError(w, 503, "OVERLOADED", err.Error())
	default:
		slog.Error("request failed", "error", err)
		writeError(w, 500, "INTERNAL", "internal error")
	}
}

// retentionLoop prunes observability tables once a day, and stored items
// when item retention is configured.
func retentionLoop(ctx context.Context, db *sql.DB, svc *stories.Service, itemDays int) {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := observability.Cleanup(ctx, db, observability.RetentionConfig{
				HTTPLogsDays:   7,
				EventLogsDays:  30,
				HeartbeatsDays: 3,
			})
			if err != nil {
				slog.Warn("retention cleanup", "error", err)
			}
			if itemDays > 0 {
				if _, err := svc.PruneItems(ctx, time.Duration(itemDays)*24*time.Hour); err != nil {
					slog.Warn("item retention", "error", err)
				}
			}
		}
	}
}

// --- Helpers ---

func env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, errorCode, message string) {
	writeJSON(w, code, map[string]string{
		"errorCode": errorCode,
		"message":   message,
	})
}
