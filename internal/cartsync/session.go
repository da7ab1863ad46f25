package cartsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cenkalti/backoff/v5"

	"github.com/utafrali/cartsync/internal/domain"
	"github.com/utafrali/cartsync/internal/gateway"
	"github.com/utafrali/cartsync/internal/persist"
	apperrors "github.com/utafrali/cartsync/pkg/errors"
)

var errLockBusy = errors.New("cart sync in progress")

// acquire waits for the sync lock. ready runs under the store mutex before
// the lock is taken; a non-nil result aborts the wait.
func (s *Store) acquire(ctx context.Context, ready func() error) error {
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.closed {
			return struct{}{}, backoff.Permanent(ErrClosed)
		}
		if err := ready(); err != nil {
			return struct{}{}, backoff.Permanent(err)
		}
		if s.syncing {
			return struct{}{}, errLockBusy
		}
		s.syncing = true
		return struct{}{}, nil
	},
		backoff.WithBackOff(newRetry(s.cfg)),
		backoff.WithMaxElapsedTime(s.cfg.RequestTimeout),
	)
	if err != nil {
		return err
	}

	s.mu.Lock()
	c := s.changeLocked(false)
	s.mu.Unlock()
	s.publish(c)
	return nil
}

// Hydrate loads the stored cart once at startup. HasHydrated is set even
// when storage is empty or unreadable. When the stored items could not be
// read at all the store stays in Guest mode and the raw data is kept.
func (s *Store) Hydrate(ctx context.Context) error {
	var (
		res persist.Result
		err error
	)
	if s.persist != nil {
		res, err = s.persist.Load(ctx)
	}

	s.mu.Lock()
	if s.hydrated {
		s.mu.Unlock()
		return nil
	}
	s.hydrated = true
	if err == nil && s.mode == domain.ModeGuest {
		s.cart.Replace(res.Lines)
	}
	if res.ForceGuest && s.mode == domain.ModeRemote {
		s.toGuestLocked()
	}
	c := s.changeLocked(false)
	s.mu.Unlock()
	s.publish(c)

	l := s.log(ctx)
	if err != nil {
		l.WarnContext(ctx, "cart hydration failed", slog.String("error", err.Error()))
		return fmt.Errorf("hydrate cart: %w", err)
	}
	if res.ForceGuest {
		l.WarnContext(ctx, "stored cart unreadable, kept in storage",
			slog.String("source", string(res.Source)),
			slog.Int("dropped", res.Dropped),
		)
	}
	l.InfoContext(ctx, "cart hydrated",
		slog.String("source", string(res.Source)),
		slog.Int("lines", len(c.state.Lines)),
		slog.Int("total_quantity", c.state.TotalQuantity),
	)
	return nil
}

// Login attaches the store to the server cart. With MergeGuestOnLogin the
// guest lines are added to the server cart first. The server cart then
// replaces the local one and the store enters Remote mode. On failure the
// store stays in Guest mode with its lines untouched.
func (s *Store) Login(ctx context.Context) error {
	var (
		gen   uint64
		guest []domain.CartLine
		noop  bool
	)
	err := s.acquire(ctx, func() error {
		if s.mode == domain.ModeRemote {
			noop = true
			return errAlreadyRemote
		}
		gen = s.gen
		guest = s.cart.Snapshot()
		return nil
	})
	if noop {
		return nil
	}
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}
	defer s.release()

	ctx, end := s.begin(ctx, "login", "")
	err = s.login(ctx, gen, guest)
	end(err)
	return err
}

var errAlreadyRemote = errors.New("already in remote mode")

func (s *Store) login(ctx context.Context, gen uint64, guest []domain.CartLine) error {
	if s.cfg.MergeGuestOnLogin {
		for _, line := range guest {
			err := s.call(ctx, "add", func(ctx context.Context) error {
				return s.gw.AddToCart(ctx, line.ProductID, line.Quantity)
			})
			if apperrors.IsUnauthorized(err) {
				return fmt.Errorf("login: merge guest cart: %w", err)
			}
			if err != nil {
				s.log(ctx).WarnContext(ctx, "merge guest line failed",
					slog.Int64("product_id", line.ProductID),
					slog.String("error", err.Error()),
				)
			}
		}
	}

	var items []gateway.Item
	err := s.call(ctx, "fetch", func(ctx context.Context) error {
		var err error
		items, err = s.gw.FetchCart(ctx)
		return err
	})
	if err != nil {
		s.metrics.Refetches.WithLabelValues("error").Inc()
		return fmt.Errorf("login: fetch cart: %w", err)
	}
	s.metrics.Refetches.WithLabelValues("ok").Inc()
	lines, _ := persist.NormalizeLines(itemsToLines(items))

	s.mu.Lock()
	if s.gen != gen || s.closed {
		s.mu.Unlock()
		return apperrors.Conflict("cart mode changed during login")
	}
	s.cart.Replace(lines)
	s.mode = domain.ModeRemote
	s.baseline = s.cart.Quantities()
	s.resetPendingLocked()
	c := s.changeLocked(true)
	s.mu.Unlock()
	s.publish(c)

	s.log(ctx).InfoContext(ctx, "cart attached to session",
		slog.Int("lines", len(lines)),
		slog.Bool("merged_guest", s.cfg.MergeGuestOnLogin && len(guest) > 0),
	)
	return nil
}

// Logout leaves Remote mode and empties the cart locally and in storage.
func (s *Store) Logout(ctx context.Context) {
	s.mu.Lock()
	s.toGuestLocked()
	s.cart.Clear()
	c := s.changeLocked(false)
	c.clear = true
	s.mu.Unlock()
	s.publish(c)
	s.log(ctx).InfoContext(ctx, "cart detached from session")
}

// Refresh refetches the server cart now. It fails in Guest mode.
func (s *Store) Refresh(ctx context.Context) error {
	var gen uint64
	err := s.acquire(ctx, func() error {
		if s.mode != domain.ModeRemote {
			return apperrors.InvalidInput("cart is in guest mode")
		}
		gen = s.gen
		return nil
	})
	if err != nil {
		return fmt.Errorf("refresh: %w", err)
	}
	defer s.release()

	ctx, end := s.begin(ctx, "refresh", "")
	err = s.refetch(ctx, gen)
	end(err)
	if err != nil {
		return fmt.Errorf("refresh: %w", err)
	}
	return nil
}
