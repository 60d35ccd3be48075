// Command canvasd is the canvas service daemon: it owns the in-memory
// scene, serves the REST API and pushes mutation events to websocket
// viewers.
//
// Configuration is environment-based:
//
//	PORT       listen port (default 3000)
//	LOG_LEVEL  debug, info, warn, error (default info)
//	AUDIT_DB   sqlite path for the mutation audit log (empty = disabled)
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	_ "modernc.org/sqlite"

	"github.com/maretko/drawbridge/canvas"
	"github.com/maretko/drawbridge/dbopen"
	"github.com/maretko/drawbridge/observability"
	"github.com/maretko/drawbridge/shield"
)

func main() {
	port := env("PORT", "3000")
	logLevel := env("LOG_LEVEL", "info")
	auditPath := env("AUDIT_DB", "")

	var lvl slog.Level
	switch logLevel {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	opts := []canvas.ServiceOption{canvas.WithLogger(logger)}

	if auditPath != "" {
		db, err := dbopen.Open(auditPath, dbopen.WithMkdirAll(), dbopen.WithSchema(observability.Schema))
		if err != nil {
			slog.Error("audit db", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		audit := observability.NewMutationLog(db)
		defer audit.Close()
		opts = append(opts, canvas.WithAudit(audit))
		slog.Info("mutation audit enabled", "path", auditPath)
	}

	svc := canvas.New(opts...)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	for _, mw := range shield.APIStack(ctx.Done()) {
		r.Use(mw)
	}
	svc.RegisterHTTP(r)

	// No WriteTimeout: websocket connections outlive any sane value.
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		slog.Info("canvas server starting", "port", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down", "viewers", svc.ViewerCount())

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown", "error", err)
	}
	slog.Info("server stopped")
}

func env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
