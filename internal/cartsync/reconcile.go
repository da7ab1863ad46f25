package cartsync

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel/attribute"

	"github.com/utafrali/cartsync/internal/domain"
	"github.com/utafrali/cartsync/internal/gateway"
	"github.com/utafrali/cartsync/internal/persist"
	"github.com/utafrali/cartsync/internal/scheduler"
	apperrors "github.com/utafrali/cartsync/pkg/errors"
	"github.com/utafrali/cartsync/pkg/logger"
	"github.com/utafrali/cartsync/pkg/tracing"
)

const tracerName = "github.com/utafrali/cartsync/internal/cartsync"

// slot is a restartable single-shot timer. seq invalidates callbacks that
// fired before a stop or re-arm but have not yet taken the store mutex.
type slot struct {
	task  scheduler.Task
	seq   uint64
	retry *backoff.ExponentialBackOff
}

func (t *slot) armed() bool { return t.task != nil }

func (t *slot) stop() {
	if t.task != nil {
		t.task.Cancel()
		t.task = nil
	}
	t.seq++
}

// newRetry is the capped exponential backoff for lock contention.
func newRetry(cfg Config) *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.RetryMin
	b.MaxInterval = cfg.RetryMax
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.Reset()
	return b
}

// armLocked (re)starts t so fn runs after delay unless t is stopped or
// re-armed first.
func (s *Store) armLocked(t *slot, delay time.Duration, fn func()) {
	t.stop()
	seq := t.seq
	t.task = s.sched.Schedule(delay, func() {
		s.mu.Lock()
		if t.seq != seq || s.closed {
			s.mu.Unlock()
			return
		}
		t.task = nil
		s.mu.Unlock()
		fn()
	})
}

func (s *Store) armFlushLocked() {
	s.armLocked(&s.flush, s.cfg.FlushDelay, s.runFlush)
}

// tryAcquireLocked takes the sync lock for a timer task. When the lock is
// held the task is re-armed after the next backoff delay instead.
func (s *Store) tryAcquireLocked(t *slot, task string, fn func()) bool {
	if s.syncing {
		s.metrics.LockDeferrals.WithLabelValues(task).Inc()
		s.armLocked(t, t.retry.NextBackOff(), fn)
		return false
	}
	t.retry.Reset()
	s.syncing = true
	return true
}

// release frees the sync lock and starts whatever queued up behind it:
// queued operations first, then edits that arrived during the round trip.
func (s *Store) release() {
	s.mu.Lock()
	s.syncing = false
	if !s.closed && s.mode == domain.ModeRemote {
		switch {
		case len(s.ops) > 0:
			s.armLocked(&s.pump, 0, s.runPump)
		case len(s.pending) > 0 && !s.flush.armed():
			s.armLocked(&s.flush, 0, s.runFlush)
		}
	}
	c := s.changeLocked(false)
	s.mu.Unlock()
	s.publish(c)
}

// begin starts the context for one engine task: a correlation ID for its
// logs and calls, and a span.
func (s *Store) begin(parent context.Context, name, correlationID string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	ctx := parent
	if correlationID != "" {
		ctx = logger.WithCorrelationID(ctx, correlationID)
	}
	ctx = logger.EnsureCorrelationID(ctx)
	ctx, span := tracing.StartSpan(ctx, tracerName, "cartsync."+name, attrs...)
	return ctx, func(err error) { tracing.EndSpan(span, err) }
}

// call runs one gateway call under the request timeout and counts it.
func (s *Store) call(ctx context.Context, op string, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
	defer cancel()

	err := fn(ctx)
	result := "ok"
	switch {
	case err == nil:
	case apperrors.IsUnauthorized(err):
		result = "unauthorized"
	default:
		result = "error"
	}
	s.metrics.RemoteCalls.WithLabelValues(op, result).Inc()
	return err
}

func (s *Store) log(ctx context.Context) *slog.Logger {
	return logger.WithContext(ctx, s.logger)
}

// --- debounced quantity flush ---

type write struct {
	productID int64
	qty       int
}

func (s *Store) drainLocked() []write {
	batch := make([]write, 0, len(s.order))
	for _, id := range s.order {
		batch = append(batch, write{productID: id, qty: s.pending[id]})
	}
	s.resetPendingLocked()
	return batch
}

// runFlush sends the pending quantities in first-edit order, skipping any
// that match the acknowledged baseline.
func (s *Store) runFlush() {
	s.mu.Lock()
	if s.mode != domain.ModeRemote || len(s.pending) == 0 {
		s.mu.Unlock()
		return
	}
	if !s.tryAcquireLocked(&s.flush, "flush", s.runFlush) {
		s.mu.Unlock()
		return
	}
	gen := s.gen
	batch := s.drainLocked()
	c := s.changeLocked(false)
	s.mu.Unlock()
	s.publish(c)
	defer s.release()

	ctx, end := s.begin(s.baseCtx, "flush", "", attribute.Int("cart.batch_size", len(batch)))
	wrote, failed := 0, false
	var lastErr error
	for _, w := range batch {
		s.mu.Lock()
		if s.gen != gen {
			s.mu.Unlock()
			end(nil)
			return
		}
		base := s.baseline[w.productID]
		s.mu.Unlock()

		if w.qty == base {
			s.metrics.WritesSkipped.Inc()
			s.log(ctx).DebugContext(ctx, "skipping write matching baseline",
				slog.Int64("product_id", w.productID),
				slog.Int("quantity", w.qty),
			)
			continue
		}

		err := s.call(ctx, "set_quantity", func(ctx context.Context) error {
			return s.gw.SetQuantity(ctx, w.productID, w.qty)
		})
		if err != nil {
			if apperrors.IsUnauthorized(err) {
				s.demote(ctx, gen, err)
				end(err)
				return
			}
			s.log(ctx).WarnContext(ctx, "set quantity failed",
				slog.Int64("product_id", w.productID),
				slog.Int("quantity", w.qty),
				slog.String("error", err.Error()),
			)
			failed, lastErr = true, err
			continue
		}

		wrote++
		s.mu.Lock()
		if s.gen == gen {
			s.ackLocked(w.productID, w.qty)
		}
		s.mu.Unlock()
	}

	switch {
	case failed:
		_ = s.refetch(ctx, gen)
	case wrote > 0:
		s.scheduleRefresh(gen)
	}
	end(lastErr)
}

// --- queued add, remove and clear operations ---

type opKind int

const (
	opAdd opKind = iota
	opRemove
	opClear
)

func (k opKind) String() string {
	switch k {
	case opAdd:
		return "add"
	case opRemove:
		return "remove"
	default:
		return "clear"
	}
}

type remoteOp struct {
	kind          opKind
	productID     int64
	product       domain.Product
	qty           int
	ids           []int64
	snapshot      []domain.CartLine
	correlationID string
}

func (s *Store) enqueueLocked(ctx context.Context, op remoteOp) {
	op.correlationID = logger.CorrelationIDFromContext(ctx)
	s.ops = append(s.ops, op)
	if !s.pump.armed() {
		s.armLocked(&s.pump, 0, s.runPump)
	}
}

// runPump sends the oldest queued operation.
func (s *Store) runPump() {
	s.mu.Lock()
	if s.mode != domain.ModeRemote || len(s.ops) == 0 {
		s.mu.Unlock()
		return
	}
	if !s.tryAcquireLocked(&s.pump, "op", s.runPump) {
		s.mu.Unlock()
		return
	}
	op := s.ops[0]
	s.ops = s.ops[1:]
	gen := s.gen
	c := s.changeLocked(false)
	s.mu.Unlock()
	s.publish(c)
	defer s.release()

	ctx, end := s.begin(s.baseCtx, op.kind.String(), op.correlationID,
		attribute.Int64("cart.product_id", op.productID))
	end(s.runOp(ctx, gen, op))
}

func (s *Store) runOp(ctx context.Context, gen uint64, op remoteOp) error {
	switch op.kind {
	case opAdd:
		err := s.call(ctx, "add", func(ctx context.Context) error {
			return s.gw.AddToCart(ctx, op.productID, op.qty)
		})
		if err != nil {
			return s.recoverFrom(ctx, gen, "add to cart", err)
		}
		s.mu.Lock()
		if s.gen == gen {
			s.baseline[op.productID] += op.qty
		}
		s.mu.Unlock()
		return s.refetch(ctx, gen)

	case opRemove:
		err := s.call(ctx, "remove", func(ctx context.Context) error {
			return s.gw.RemoveFromCart(ctx, op.productID)
		})
		if err != nil {
			return s.recoverFrom(ctx, gen, "remove from cart", err)
		}
		s.mu.Lock()
		if s.gen == gen {
			s.ackLocked(op.productID, 0)
		}
		s.mu.Unlock()
		return s.refetch(ctx, gen)

	default:
		for _, id := range op.ids {
			err := s.call(ctx, "remove", func(ctx context.Context) error {
				return s.gw.RemoveFromCart(ctx, id)
			})
			if err != nil {
				s.restoreAfterClear(ctx, gen, op.snapshot, err)
				return err
			}
			s.mu.Lock()
			if s.gen == gen {
				s.ackLocked(id, 0)
			}
			s.mu.Unlock()
		}
		return nil
	}
}

// recoverFrom handles a failed server mutation: a lost session demotes the
// store, anything else triggers a best-effort refetch.
func (s *Store) recoverFrom(ctx context.Context, gen uint64, what string, err error) error {
	if apperrors.IsUnauthorized(err) {
		s.demote(ctx, gen, err)
		return err
	}
	s.log(ctx).WarnContext(ctx, what+" failed", slog.String("error", err.Error()))
	_ = s.refetch(ctx, gen)
	return err
}

// restoreAfterClear puts the cleared lines back, keeping anything added
// since, and leaves Remote mode.
func (s *Store) restoreAfterClear(ctx context.Context, gen uint64, snapshot []domain.CartLine, err error) {
	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return
	}
	restored := domain.Cart{Lines: append([]domain.CartLine(nil), snapshot...)}
	for _, line := range s.cart.Lines {
		if !restored.SetQuantity(line.ProductID, line.Quantity) {
			restored.Lines = append(restored.Lines, line)
		}
	}
	s.cart.Replace(restored.Lines)
	s.toGuestLocked()
	s.metrics.Demotions.Inc()
	c := s.changeLocked(true)
	s.mu.Unlock()
	s.publish(c)

	s.log(ctx).WarnContext(ctx, "remote clear failed, restored cart in guest mode",
		slog.Int("lines", len(c.state.Lines)),
		slog.String("error", err.Error()),
	)
}

// demote drops to Guest mode after the session was rejected. Lines stay.
func (s *Store) demote(ctx context.Context, gen uint64, err error) {
	s.mu.Lock()
	if s.gen != gen || s.mode != domain.ModeRemote {
		s.mu.Unlock()
		return
	}
	s.toGuestLocked()
	s.metrics.Demotions.Inc()
	c := s.changeLocked(false)
	s.mu.Unlock()
	s.publish(c)

	s.log(ctx).WarnContext(ctx, "session rejected, cart switched to guest mode",
		slog.String("error", err.Error()))
}

// --- refetch and background refresh ---

// refetch replaces the local cart with the server's and re-seeds the
// baseline. Work not yet sent is applied on top so an edit is not shown
// reverted before it reaches the server. The caller must hold the sync lock.
func (s *Store) refetch(ctx context.Context, gen uint64) error {
	var items []gateway.Item
	err := s.call(ctx, "fetch", func(ctx context.Context) error {
		var err error
		items, err = s.gw.FetchCart(ctx)
		return err
	})
	if err != nil {
		s.metrics.Refetches.WithLabelValues("error").Inc()
		if apperrors.IsUnauthorized(err) {
			s.demote(ctx, gen, err)
			return err
		}
		s.log(ctx).WarnContext(ctx, "cart refetch failed", slog.String("error", err.Error()))
		return err
	}

	lines, dropped := persist.NormalizeLines(itemsToLines(items))
	if dropped > 0 {
		s.log(ctx).WarnContext(ctx, "dropped invalid server cart lines",
			slog.Int("received", len(items)),
			slog.Int("kept", len(lines)),
		)
	}

	s.mu.Lock()
	if s.gen != gen || s.mode != domain.ModeRemote {
		s.mu.Unlock()
		return nil
	}
	s.cart.Replace(lines)
	s.baseline = s.cart.Quantities()
	s.overlayLocked()
	s.dirty = false
	c := s.changeLocked(true)
	s.mu.Unlock()
	s.publish(c)

	s.metrics.Refetches.WithLabelValues("ok").Inc()
	return nil
}

// overlayLocked re-applies local work the server has not seen yet: queued
// operations, then unsent quantities.
func (s *Store) overlayLocked() {
	for _, op := range s.ops {
		switch op.kind {
		case opAdd:
			s.cart.Add(op.product, op.qty)
		case opRemove:
			s.cart.Remove(op.productID)
		case opClear:
			for _, id := range op.ids {
				s.cart.Remove(id)
			}
		}
	}
	for _, id := range s.order {
		if qty := s.pending[id]; qty == 0 {
			s.cart.Remove(id)
		} else {
			s.cart.SetQuantity(id, qty)
		}
	}
}

// scheduleRefresh restarts the trailing-edge refresh timer.
func (s *Store) scheduleRefresh(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen || s.mode != domain.ModeRemote {
		return
	}
	s.dirty = true
	s.armLocked(&s.refresh, s.cfg.RefreshDelay, s.runRefresh)
}

func (s *Store) runRefresh() {
	s.mu.Lock()
	if s.mode != domain.ModeRemote || !s.dirty {
		s.mu.Unlock()
		return
	}
	if !s.tryAcquireLocked(&s.refresh, "refresh", s.runRefresh) {
		s.mu.Unlock()
		return
	}
	gen := s.gen
	c := s.changeLocked(false)
	s.mu.Unlock()
	s.publish(c)
	defer s.release()

	ctx, end := s.begin(s.baseCtx, "refresh", "")
	end(s.refetch(ctx, gen))
}
