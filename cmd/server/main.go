package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dgallion1/apiingest/internal/api"
	"github.com/dgallion1/apiingest/internal/config"
	"github.com/dgallion1/apiingest/internal/logging"
	"github.com/dgallion1/apiingest/internal/pipeline"
	"github.com/dgallion1/apiingest/internal/store"
)

func main() {
	cfg := config.Load()
	log, logCloser := logging.NewWithOptions("server", cfg.LoggingOptions())
	defer logCloser.Close()

	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize storage.
	db, err := store.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Error("connect database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	db.ConfigurePool(cfg.DBMaxOpenConns, cfg.DBMaxIdleConns, cfg.DBConnMaxLifetime)

	pingCtx, pingCancel := context.WithTimeout(ctx, 10*time.Second)
	err = db.Ping(pingCtx)
	pingCancel()
	if err != nil {
		log.Error("ping database", "error", err)
		os.Exit(1)
	}
	if err := db.Migrate(ctx); err != nil {
		log.Error("migrate database", "error", err)
		os.Exit(1)
	}
	specs := store.New(db)

	// Initialize pipeline.
	orch := pipeline.NewOrchestrator(cfg, specs, log.With("component", "pipeline"))
	orch.Start(ctx)

	// Initialize HTTP server.
	srv := api.NewServer(orch, specs, log.With("component", "api"), cfg)

	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      srv,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown.
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info("shutting down...")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		httpServer.Shutdown(shutdownCtx)

		orch.Stop()
	}()

	log.Info("starting apiingest",
		"port", cfg.Port,
		"workers", cfg.WorkerCount,
		"remote_refs", cfg.AllowRemoteRefs,
		"ref_base_dir", cfg.RefBaseDir)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error("server error", "error", err)
		os.Exit(1)
	}
}
