package cartsync

import (
	"context"
	"log/slog"
	"time"

	"github.com/utafrali/cartsync/internal/persist"
	"github.com/utafrali/cartsync/internal/scheduler"
)

// Config tunes the reconciliation timers.
type Config struct {
	// FlushDelay is the debounce window for quantity edits.
	FlushDelay time.Duration
	// RefreshDelay is the idle time after a write batch before the cart is
	// refetched from the server.
	RefreshDelay time.Duration
	// RetryMin and RetryMax bound the exponential backoff used when a task
	// finds the sync lock held.
	RetryMin time.Duration
	RetryMax time.Duration
	// RequestTimeout bounds each gateway call and each storage write.
	RequestTimeout time.Duration
	// MergeGuestOnLogin adds the guest cart's lines to the server cart
	// before the first fetch on Login.
	MergeGuestOnLogin bool
}

// DefaultConfig returns the storefront defaults.
func DefaultConfig() Config {
	return Config{
		FlushDelay:     300 * time.Millisecond,
		RefreshDelay:   1500 * time.Millisecond,
		RetryMin:       50 * time.Millisecond,
		RetryMax:       2 * time.Second,
		RequestTimeout: 10 * time.Second,
	}
}

// Persister is the durable side of the store. *persist.Adapter implements it.
type Persister interface {
	Load(ctx context.Context) (persist.Result, error)
	Save(ctx context.Context, seq uint64, state persist.State) error
	Clear(ctx context.Context, seq uint64) error
}

// Option customizes a Store.
type Option func(*Store)

// WithConfig replaces the default timing configuration.
func WithConfig(cfg Config) Option {
	return func(s *Store) { s.cfg = cfg }
}

// WithScheduler sets the clock used for debounce and refresh timers.
func WithScheduler(sched scheduler.Scheduler) Option {
	return func(s *Store) { s.sched = sched }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithPersistence mirrors every committed change to p.
func WithPersistence(p Persister) Option {
	return func(s *Store) { s.persist = p }
}

// WithMetrics records engine activity on m.
func WithMetrics(m *Metrics) Option {
	return func(s *Store) { s.metrics = m }
}
