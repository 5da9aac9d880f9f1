package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"frostchat/internal/infra"
	"frostchat/internal/server"
)

func main() {
	ctx := context.Background()

	// .env is optional and never overrides the real environment.
	_ = godotenv.Load()
	cfg := server.LoadConfig()

	tp, err := infra.InitTracer(ctx, cfg.OtelEnabled, cfg.OtelEndpoint, cfg.OtelServiceName)
	if err != nil {
		slog.Error("failed to init tracer", "error", err)
		os.Exit(1)
	}
	if tp != nil {
		defer func() {
			if err := tp.Shutdown(ctx); err != nil {
				slog.Error("failed to shutdown tracer", "error", err)
			}
		}()
	}

	log := infra.SetupLogger(infra.ParseLevel(cfg.LogLevel), cfg.OtelEnabled)

	db, err := infra.NewDB(cfg.DatabasePath)
	if err != nil {
		log.Error("failed to open database", "path", cfg.DatabasePath, "error", err)
		os.Exit(1)
	}
	if err := server.Migrate(db); err != nil {
		log.Error("failed to migrate database", "error", err)
		os.Exit(1)
	}

	handler := server.NewHandler(server.NewRepository(db))
	hub := server.NewHub(log)
	srv := &http.Server{
		Addr:    cfg.Addr,
		Handler: server.NewRouter(handler, hub, cfg.OtelEnabled),
	}

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
		<-sigCh

		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("server shutdown error", "error", err)
		}
	}()

	log.Info("relay listening", "addr", cfg.Addr, "db", cfg.DatabasePath)
	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		log.Error("server error", "error", err)
		os.Exit(1)
	}
	log.Info("stopped")
}
