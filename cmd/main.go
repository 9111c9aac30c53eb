package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"netspace-tracker/internal/core"
	"netspace-tracker/internal/server"
	"netspace-tracker/internal/tracing"
)

var version = "dev"

func main() {
	// Load .env file if it exists
	godotenv.Load()

	// Create logger
	logger := core.NewLogger()

	config, err := core.LoadConfig()
	if err != nil {
		logger.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Setup(ctx, config.Telemetry, version, logger)
	if err != nil {
		logger.Error("Failed to set up tracing", "error", err)
		os.Exit(1)
	}

	// Create and start server
	srv, err := server.New(ctx, config, logger, version)
	if err != nil {
		logger.Error("Failed to create server", "error", err)
		os.Exit(1)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start(ctx)
	}()

	exitCode := 0
	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Server stopped", "error", err)
			exitCode = 1
		}
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Graceful shutdown failed", "error", err)
		exitCode = 1
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Error("Failed to flush traces", "error", err)
	}

	logger.Info("Server stopped")
	if exitCode != 0 {
		cancel()
		os.Exit(exitCode)
	}
}
