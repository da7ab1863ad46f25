// Package cartsync keeps a local-first shopping cart in step with the
// server cart.
//
// A Store applies every mutation to its in-memory cart immediately and
// mirrors it to durable storage. In Remote mode it also replays mutations
// against the server through a gateway: quantity edits are coalesced per
// product and flushed after a debounce window, additions and removals are
// sent in order, and the server cart is refetched once writes settle. At
// most one server round trip is in flight at a time. No Store method other
// than Hydrate, Login and Refresh waits on the network.
package cartsync

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/utafrali/cartsync/internal/domain"
	"github.com/utafrali/cartsync/internal/gateway"
	"github.com/utafrali/cartsync/internal/persist"
	"github.com/utafrali/cartsync/internal/scheduler"
	"github.com/utafrali/cartsync/pkg/logger"
)

// ErrClosed is returned by operations on a closed Store.
var ErrClosed = errors.New("cart store closed")

// Store is the cart state shared by the UI and the sync engine. It is safe
// for concurrent use. mu guards everything below it and is never held
// across gateway or storage I/O.
type Store struct {
	gw      gateway.Gateway
	persist Persister
	sched   scheduler.Scheduler
	logger  *slog.Logger
	metrics *Metrics
	cfg     Config

	baseCtx context.Context
	stop    context.CancelFunc

	mu       sync.Mutex
	cart     domain.Cart
	mode     domain.Mode
	syncing  bool
	hydrated bool
	closed   bool
	// gen changes whenever remote work is abandoned. Callbacks that were
	// already running compare it before touching state.
	gen      uint64
	seq      uint64
	pending  map[int64]int
	order    []int64
	baseline map[int64]int
	dirty    bool
	ops      []remoteOp
	flush    slot
	pump     slot
	refresh  slot

	pubMu   sync.Mutex
	pubSeq  uint64
	subMu   sync.Mutex
	subs    map[int]func(domain.State)
	nextSub int
}

// New creates an empty Guest-mode store that syncs through gw.
func New(gw gateway.Gateway, opts ...Option) *Store {
	s := &Store{
		gw:       gw,
		sched:    scheduler.New(),
		logger:   slog.Default(),
		cfg:      DefaultConfig(),
		mode:     domain.ModeGuest,
		pending:  make(map[int64]int),
		baseline: make(map[int64]int),
		subs:     make(map[int]func(domain.State)),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = NewMetrics(nil)
	}
	s.baseCtx, s.stop = context.WithCancel(context.Background())
	s.flush.retry = newRetry(s.cfg)
	s.pump.retry = newRetry(s.cfg)
	s.refresh.retry = newRetry(s.cfg)
	return s
}

// change is a committed state transition waiting to be persisted and
// delivered to subscribers outside the store mutex.
type change struct {
	state domain.State
	seq   uint64
	save  bool
	clear bool
}

func (s *Store) stateLocked() domain.State {
	return domain.State{
		Lines:         s.cart.Snapshot(),
		TotalQuantity: s.cart.TotalQuantity(),
		Subtotal:      s.cart.Subtotal(),
		Mode:          s.mode,
		IsSyncing:     s.syncing,
		HasHydrated:   s.hydrated,
	}
}

// changeLocked stamps the current state. save marks a change to the lines.
func (s *Store) changeLocked(save bool) change {
	s.seq++
	return change{state: s.stateLocked(), seq: s.seq, save: save}
}

// publish persists c and notifies subscribers. Changes published out of
// order by racing goroutines are dropped by sequence number.
func (s *Store) publish(c change) {
	if s.persist != nil && (c.save || c.clear) {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.RequestTimeout)
		var err error
		if c.clear {
			err = s.persist.Clear(ctx, c.seq)
		} else {
			err = s.persist.Save(ctx, c.seq, persist.StateOf(c.state.Lines))
		}
		cancel()
		if err != nil {
			s.logger.Warn("persist cart", slog.String("error", err.Error()))
		}
	}

	s.pubMu.Lock()
	defer s.pubMu.Unlock()
	if c.seq <= s.pubSeq {
		return
	}
	s.pubSeq = c.seq

	s.subMu.Lock()
	fns := make([]func(domain.State), 0, len(s.subs))
	for id := 0; id < s.nextSub; id++ {
		if fn, ok := s.subs[id]; ok {
			fns = append(fns, fn)
		}
	}
	s.subMu.Unlock()

	for _, fn := range fns {
		fn(c.state)
	}
}

// Snapshot returns the current state.
func (s *Store) Snapshot() domain.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stateLocked()
}

// Subscribe registers fn to receive every new state, in order. fn runs on
// the goroutine that made the change and must not mutate the store. The
// returned func unsubscribes.
func (s *Store) Subscribe(fn func(domain.State)) func() {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	return func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		delete(s.subs, id)
	}
}

// SetItems replaces every line. Invalid lines are dropped and duplicate
// products merged.
func (s *Store) SetItems(lines []domain.CartLine) {
	normalized, dropped := persist.NormalizeLines(lines)
	if dropped > 0 {
		s.logger.Warn("dropped invalid cart lines",
			slog.Int("received", len(lines)),
			slog.Int("kept", len(normalized)),
		)
	}

	s.mu.Lock()
	s.cart.Replace(normalized)
	c := s.changeLocked(true)
	s.mu.Unlock()
	s.publish(c)
}

// AddItem adds qty (at least 1) of p. In Remote mode the addition is queued
// for the server.
func (s *Store) AddItem(ctx context.Context, p domain.Product, qty int) {
	if p.ProductID <= 0 {
		logger.WithContext(ctx, s.logger).WarnContext(ctx, "ignoring add of invalid product",
			slog.Int64("product_id", p.ProductID))
		return
	}
	if qty < 1 {
		qty = 1
	}

	s.mu.Lock()
	total := s.cart.Add(p, qty)
	if s.mode == domain.ModeRemote {
		if _, ok := s.pending[p.ProductID]; ok {
			// An unsent absolute quantity already exists; fold the
			// increment into it.
			s.setPendingLocked(p.ProductID, total)
			s.armFlushLocked()
		} else {
			s.enqueueLocked(ctx, remoteOp{kind: opAdd, productID: p.ProductID, product: p, qty: qty})
		}
	}
	c := s.changeLocked(true)
	s.mu.Unlock()
	s.publish(c)
}

// RemoveItem deletes the product's line. Removing an absent product does
// nothing.
func (s *Store) RemoveItem(ctx context.Context, productID int64) {
	s.mu.Lock()
	if !s.cart.Remove(productID) {
		s.mu.Unlock()
		return
	}
	if s.mode == domain.ModeRemote {
		s.dropPendingLocked(productID)
		s.enqueueLocked(ctx, remoteOp{kind: opRemove, productID: productID})
	}
	c := s.changeLocked(true)
	s.mu.Unlock()
	s.publish(c)
}

// UpdateQty sets a line's quantity. Guest mode clamps to 1. Remote mode
// clamps to 0, where 0 removes the line, and schedules a debounced write.
// It never waits on the network.
func (s *Store) UpdateQty(productID int64, qty int) {
	s.mu.Lock()
	_, present := s.cart.Find(productID)
	switch s.mode {
	case domain.ModeGuest:
		if !present {
			s.mu.Unlock()
			return
		}
		if qty < 1 {
			qty = 1
		}
		s.cart.SetQuantity(productID, qty)
	default:
		if qty < 0 {
			qty = 0
		}
		if !present && qty > 0 {
			s.mu.Unlock()
			return
		}
		if qty == 0 {
			s.cart.Remove(productID)
		} else {
			s.cart.SetQuantity(productID, qty)
		}
		s.setPendingLocked(productID, qty)
		s.armFlushLocked()
	}
	c := s.changeLocked(true)
	s.mu.Unlock()
	s.publish(c)
}

// ClearCart empties the cart locally and in storage. In Remote mode every
// removed line is then deleted on the server; if that fails the lines come
// back and the store drops to Guest mode.
func (s *Store) ClearCart(ctx context.Context) {
	s.mu.Lock()
	snapshot := s.cart.Snapshot()
	s.cart.Clear()
	if s.mode == domain.ModeRemote {
		ids := make([]int64, 0, len(snapshot)+len(s.pending))
		for _, line := range snapshot {
			ids = append(ids, line.ProductID)
		}
		// Removals still waiting in the debounce buffer.
		for _, id := range s.order {
			if s.pending[id] == 0 && s.baseline[id] > 0 {
				ids = append(ids, id)
			}
		}
		s.resetPendingLocked()
		s.flush.stop()
		if len(ids) > 0 {
			s.enqueueLocked(ctx, remoteOp{kind: opClear, ids: ids, snapshot: snapshot})
		}
	}
	c := s.changeLocked(false)
	c.clear = true
	s.mu.Unlock()
	s.publish(c)
}

// SetMode switches between Guest and Remote. Entering Remote takes the
// current lines as the server's acknowledged state without any I/O.
// Entering Guest abandons all remote work.
func (s *Store) SetMode(mode domain.Mode) {
	s.mu.Lock()
	switch {
	case mode == s.mode:
		s.mu.Unlock()
		return
	case mode == domain.ModeRemote:
		s.mode = domain.ModeRemote
		s.baseline = s.cart.Quantities()
	case mode == domain.ModeGuest:
		s.toGuestLocked()
	default:
		s.mu.Unlock()
		return
	}
	c := s.changeLocked(false)
	s.mu.Unlock()
	s.publish(c)
	s.logger.Info("cart mode changed", slog.String("mode", string(mode)))
}

// Close abandons remote work and cancels in-flight calls. The store keeps
// answering Snapshot.
func (s *Store) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.abandonLocked()
	s.mu.Unlock()
	s.stop()
}

// toGuestLocked leaves Remote mode. Local lines are kept.
func (s *Store) toGuestLocked() {
	s.mode = domain.ModeGuest
	s.abandonLocked()
}

// abandonLocked cancels every scheduled task and forgets all sync
// bookkeeping.
func (s *Store) abandonLocked() {
	s.gen++
	s.resetPendingLocked()
	s.baseline = make(map[int64]int)
	s.ops = nil
	s.dirty = false
	s.flush.stop()
	s.pump.stop()
	s.refresh.stop()
}

func (s *Store) setPendingLocked(productID int64, qty int) {
	if _, ok := s.pending[productID]; !ok {
		s.order = append(s.order, productID)
	}
	s.pending[productID] = qty
}

func (s *Store) dropPendingLocked(productID int64) {
	if _, ok := s.pending[productID]; !ok {
		return
	}
	delete(s.pending, productID)
	for i, id := range s.order {
		if id == productID {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

func (s *Store) resetPendingLocked() {
	s.pending = make(map[int64]int)
	s.order = nil
}

// ackLocked records qty as acknowledged by the server.
func (s *Store) ackLocked(productID int64, qty int) {
	if qty <= 0 {
		delete(s.baseline, productID)
		return
	}
	s.baseline[productID] = qty
}

func itemsToLines(items []gateway.Item) []domain.CartLine {
	lines := make([]domain.CartLine, 0, len(items))
	for _, it := range items {
		lines = append(lines, domain.CartLine{
			ProductID: it.ProductID,
			Name:      it.Name,
			UnitPrice: it.Price,
			ImageURL:  it.ImageURL,
			Quantity:  it.Quantity,
		})
	}
	return lines
}
