package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/example/eventhub/internal/blob"
	"github.com/example/eventhub/internal/config"
	"github.com/example/eventhub/internal/logging"
	"github.com/example/eventhub/internal/obs"
	"github.com/example/eventhub/internal/persistence/sqlite"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.New(slog.NewJSONHandler(os.Stderr, nil)).Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.LogLevel, cfg.LogFormat, os.Stdout)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server encountered error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	shutdownTracer, err := obs.InitTracer(ctx, obs.Options{
		ServiceName: cfg.ServiceName,
		Version:     version,
		Endpoint:    cfg.OTELEndpoint,
	})
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTracer(flushCtx); err != nil {
			logger.Error("failed to flush traces", "error", err)
		}
	}()

	storage, err := sqlite.Open(cfg.SQLiteDSN)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer func() {
		if cerr := storage.Close(); cerr != nil {
			logger.Error("failed to close storage", "error", cerr)
		}
	}()

	if err := storage.Migrate(ctx, logger); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}

	mailer, closeMailer, err := newMailer(cfg, logger)
	if err != nil {
		return err
	}
	defer closeMailer()

	gateway, err := newPaymentGateway(cfg, logger)
	if err != nil {
		return err
	}

	blobs, err := blob.NewFSStore(cfg.BlobDir)
	if err != nil {
		return err
	}

	handler, err := newAPI(apiDeps{
		Config:  cfg,
		Storage: storage,
		Mailer:  mailer,
		Gateway: gateway,
		Blobs:   blobs,
		Logger:  logger,
		Now:     time.Now,
	})
	if err != nil {
		return err
	}

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("failed to shutdown server", "error", err)
		}
	}()

	logger.Info("eventhub API listening",
		"addr", server.Addr,
		"version", version,
		"payments", cfg.PaymentsEnabled(),
		"tracing", cfg.OTELEndpoint != "",
	)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
