package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/utafrali/cartsync/internal/app"
	"github.com/utafrali/cartsync/internal/config"
	"github.com/utafrali/cartsync/pkg/logger"
)

func main() {
	// Load configuration from environment variables.
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Logs go to stderr; stdout carries command replies.
	log := logger.NewWithWriter("cartctl", cfg.LogLevel, os.Stderr)
	log.Info("starting cartctl",
		slog.String("environment", cfg.Environment),
		slog.String("api_url", cfg.APIURL),
		slog.String("storage", cfg.StorageBackend),
		slog.Bool("session", cfg.AuthToken != ""),
	)

	application, err := app.NewApp(cfg, log, os.Stdin, os.Stdout, nil)
	if err != nil {
		log.Error("failed to initialize application", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Create a context that is cancelled on SIGINT or SIGTERM.
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := application.Run(ctx); err != nil {
		log.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}

	log.Info("cartctl stopped")
}
