// Package app wires cartctl together: storage, gateway, sync engine, the
// ops server and the command console.
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/utafrali/cartsync/internal/cartsync"
	"github.com/utafrali/cartsync/internal/config"
	"github.com/utafrali/cartsync/internal/gateway"
	"github.com/utafrali/cartsync/internal/persist"
	"github.com/utafrali/cartsync/internal/storage"
	"github.com/utafrali/cartsync/internal/storage/memory"
	redisstore "github.com/utafrali/cartsync/internal/storage/redis"
	"github.com/utafrali/cartsync/pkg/health"
	"github.com/utafrali/cartsync/pkg/middleware"
	"github.com/utafrali/cartsync/pkg/tracing"
)

const serviceName = "cartctl"

// App wires together all dependencies and runs cartctl.
type App struct {
	cfg            *config.Config
	logger         *slog.Logger
	rdb            *redis.Client
	storage        storage.Storage
	store          *cartsync.Store
	console        *Console
	in             io.Reader
	opsServer      *http.Server
	shutdownTracer func(context.Context) error
}

// NewApp creates a new application instance, initializing all dependencies.
// Commands are read from in and replies written to out. reg receives the
// engine metrics; nil selects the default registerer.
func NewApp(cfg *config.Config, logger *slog.Logger, in io.Reader, out io.Writer, reg prometheus.Registerer) (*App, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	tcfg := tracing.DefaultConfig(serviceName)
	tcfg.Environment = cfg.Environment
	tcfg.Enabled = cfg.OTELEnabled
	tcfg.OTLPEndpoint = cfg.OTELEndpoint
	tcfg.SampleRate = cfg.OTELSampleRate
	shutdownTracer, err := tracing.InitTracer(ctx, tcfg)
	if err != nil {
		return nil, fmt.Errorf("init tracer: %w", err)
	}

	a := &App{
		cfg:            cfg,
		logger:         logger,
		in:             in,
		shutdownTracer: shutdownTracer,
	}

	// Durable cart storage.
	switch cfg.StorageBackend {
	case config.BackendRedis:
		a.rdb, err = redisstore.Dial(ctx, redisstore.ClientConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPass,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		logger.Info("connected to Redis",
			slog.String("addr", cfg.RedisAddr),
			slog.Int("db", cfg.RedisDB),
		)
		a.storage = redisstore.New(a.rdb, cfg.CartTTLDuration(),
			redisstore.WithSlowOpLogging(cfg.SlowStorageThreshold, logger))
	default:
		a.storage = memory.New()
	}

	// Build the dependency graph.
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	metrics := cartsync.NewMetrics(reg)
	adapter := persist.New(a.storage,
		persist.WithKeys(cfg.StorageKey, cfg.LegacyStorageKey),
		persist.WithLogger(logger),
		persist.WithDroppedCounter(metrics.PersistDropped),
	)

	gwCfg := gateway.DefaultConfig(cfg.APIURL)
	gwCfg.RequestsPerSecond = cfg.APIRPS
	gwCfg.Burst = cfg.APIBurst
	gw := gateway.NewHTTP(gwCfg, gateway.StaticToken(cfg.AuthToken), logger)

	a.store = cartsync.New(gw,
		cartsync.WithConfig(cartsync.Config{
			FlushDelay:        cfg.FlushDelay,
			RefreshDelay:      cfg.RefreshDelay,
			RetryMin:          cfg.RetryMin,
			RetryMax:          cfg.RetryMax,
			RequestTimeout:    cfg.RequestTimeout,
			MergeGuestOnLogin: cfg.MergeGuestOnLogin,
		}),
		cartsync.WithLogger(logger),
		cartsync.WithPersistence(adapter),
		cartsync.WithMetrics(metrics),
	)
	a.console = NewConsole(a.store, out)

	if cfg.MetricsPort > 0 {
		healthHandler := health.NewHandler()
		healthHandler.Register("storage", a.storage.Ping)
		healthHandler.RegisterNonCritical("cart-api", gw.Ping)

		a.opsServer = &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.MetricsPort),
			Handler:      newOpsRouter(healthHandler, logger),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		}
	}

	return a, nil
}

func newOpsRouter(healthHandler *health.Handler, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recovery(logger))
	r.Get("/health/live", healthHandler.LivenessHandler())
	r.Get("/health/ready", healthHandler.ReadinessHandler())
	r.Handle("/metrics", promhttp.Handler())
	return r
}

// Store returns the sync engine.
func (a *App) Store() *cartsync.Store { return a.store }

// Run hydrates the cart, logs in when a token is configured, then serves
// commands until the input ends or ctx is canceled.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	if a.opsServer != nil {
		go func() {
			a.logger.Info("starting ops server", slog.String("addr", a.opsServer.Addr))
			if err := a.opsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				errCh <- fmt.Errorf("ops server: %w", err)
			}
		}()
	}

	if err := a.store.Hydrate(ctx); err != nil {
		a.logger.Warn("starting with an empty cart", slog.String("error", err.Error()))
	}
	if a.cfg.AuthToken != "" {
		if err := a.store.Login(ctx); err != nil {
			a.logger.Warn("login failed, staying in guest mode", slog.String("error", err.Error()))
		}
	}

	done := make(chan error, 1)
	go func() { done <- a.console.Run(ctx, a.in) }()

	var runErr error
	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case runErr = <-done:
	case runErr = <-errCh:
	}

	if err := a.Shutdown(); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

// Shutdown gracefully stops all components.
func (a *App) Shutdown() error {
	a.logger.Info("shutting down application...")

	a.store.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if a.opsServer != nil {
		if err := a.opsServer.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("ops server shutdown error", slog.String("error", err.Error()))
		}
	}

	if err := a.shutdownTracer(shutdownCtx); err != nil {
		a.logger.Error("tracer shutdown error", slog.String("error", err.Error()))
	}

	if a.rdb != nil {
		if err := a.rdb.Close(); err != nil {
			a.logger.Error("redis close error", slog.String("error", err.Error()))
		}
	}

	a.logger.Info("application shutdown complete")
	return nil
}
