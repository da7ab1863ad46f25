package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/utafrali/cartsync/internal/cartapi"
	"github.com/utafrali/cartsync/pkg/logger"
)

func main() {
	// Load configuration from environment variables.
	cfg, err := cartapi.LoadConfig()
	if err != nil {
		slog.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Initialize structured logger.
	log := logger.New("cart-api", cfg.LogLevel)
	log.Info("starting cart api",
		slog.String("environment", cfg.Environment),
		slog.Int("http_port", cfg.HTTPPort),
		slog.Int("sessions", len(cfg.Tokens)),
	)

	srv := cartapi.NewServer(cartapi.DefaultCatalog(), log)
	for token, userID := range cfg.Tokens {
		srv.IssueToken(token, userID)
	}

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.HTTPPort))
	if err != nil {
		log.Error("failed to listen", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Create a context that is cancelled on SIGINT or SIGTERM.
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Serve blocks until shutdown.
	if err := srv.Serve(ctx, ln); err != nil {
		log.Error("server error", slog.String("error", err.Error()))
		os.Exit(1)
	}

	log.Info("cart api stopped")
}
