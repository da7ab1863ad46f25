package cartsync

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/utafrali/cartsync/internal/domain"
	"github.com/utafrali/cartsync/internal/gateway"
	"github.com/utafrali/cartsync/internal/scheduler"
)

type call struct {
	op        string
	productID int64
	qty       int
}

// fakeGateway is an in-memory server cart that records every call.
type fakeGateway struct {
	mu          sync.Mutex
	items       []gateway.Item
	stock       map[int64]int
	errs        map[string]error
	calls       []call
	inFlight    int
	maxInFlight int
	delay       time.Duration
	onCall      func(call)
}

func newFakeGateway(items ...gateway.Item) *fakeGateway {
	return &fakeGateway{
		items: items,
		stock: make(map[int64]int),
		errs:  make(map[string]error),
	}
}

func (f *fakeGateway) begin(c call) error {
	f.mu.Lock()
	f.calls = append(f.calls, c)
	f.inFlight++
	if f.inFlight > f.maxInFlight {
		f.maxInFlight = f.inFlight
	}
	hook, delay, err := f.onCall, f.delay, f.errs[c.op]
	f.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	if hook != nil {
		hook(c)
	}
	return err
}

func (f *fakeGateway) end() {
	f.mu.Lock()
	f.inFlight--
	f.mu.Unlock()
}

func (f *fakeGateway) FetchCart(context.Context) ([]gateway.Item, error) {
	defer f.end()
	if err := f.begin(call{op: "fetch"}); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]gateway.Item(nil), f.items...), nil
}

func (f *fakeGateway) AddToCart(_ context.Context, productID int64, qty int) error {
	defer f.end()
	if err := f.begin(call{op: "add", productID: productID, qty: qty}); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.items {
		if f.items[i].ProductID == productID {
			f.items[i].Quantity = f.clamp(productID, f.items[i].Quantity+qty)
			return nil
		}
	}
	f.items = append(f.items, gateway.Item{ProductID: productID, Name: "server", Price: 100, Quantity: f.clamp(productID, qty)})
	return nil
}

func (f *fakeGateway) RemoveFromCart(_ context.Context, productID int64) error {
	defer f.end()
	if err := f.begin(call{op: "remove", productID: productID}); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removeLocked(productID)
	return nil
}

func (f *fakeGateway) SetQuantity(_ context.Context, productID int64, qty int) error {
	defer f.end()
	if err := f.begin(call{op: "set", productID: productID, qty: qty}); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if qty <= 0 {
		f.removeLocked(productID)
		return nil
	}
	for i := range f.items {
		if f.items[i].ProductID == productID {
			f.items[i].Quantity = f.clamp(productID, qty)
			return nil
		}
	}
	f.items = append(f.items, gateway.Item{ProductID: productID, Name: "server", Price: 100, Quantity: f.clamp(productID, qty)})
	return nil
}

func (f *fakeGateway) removeLocked(productID int64) {
	for i := range f.items {
		if f.items[i].ProductID == productID {
			f.items = append(f.items[:i], f.items[i+1:]...)
			return
		}
	}
}

func (f *fakeGateway) clamp(productID int64, qty int) int {
	if limit, ok := f.stock[productID]; ok && qty > limit {
		return limit
	}
	return qty
}

func (f *fakeGateway) setErr(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.errs, op)
		return
	}
	f.errs[op] = err
}

func (f *fakeGateway) setHook(fn func(call)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onCall = fn
}

func (f *fakeGateway) recorded() []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]call(nil), f.calls...)
}

// writes returns the recorded calls other than fetches.
func (f *fakeGateway) writes() []call {
	var out []call
	for _, c := range f.recorded() {
		if c.op != "fetch" {
			out = append(out, c)
		}
	}
	return out
}

func (f *fakeGateway) count(op string) int {
	n := 0
	for _, c := range f.recorded() {
		if c.op == op {
			n++
		}
	}
	return n
}

func (f *fakeGateway) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = nil
	f.maxInFlight = f.inFlight
}

func (f *fakeGateway) quantities() map[int64]int {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[int64]int, len(f.items))
	for _, it := range f.items {
		out[it.ProductID] = it.Quantity
	}
	return out
}

// --- store helpers ---

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestStore(t *testing.T, gw gateway.Gateway, opts ...Option) (*Store, *scheduler.Virtual) {
	t.Helper()
	v := scheduler.NewVirtual()
	base := []Option{WithScheduler(v), WithLogger(quietLogger())}
	s := New(gw, append(base, opts...)...)
	t.Cleanup(s.Close)
	return s, v
}

// newRemoteStore returns a store logged in against a server holding items,
// with the call log reset.
func newRemoteStore(t *testing.T, items []gateway.Item, opts ...Option) (*Store, *scheduler.Virtual, *fakeGateway) {
	t.Helper()
	gw := newFakeGateway(items...)
	s, v := newTestStore(t, gw, opts...)
	require.NoError(t, s.Login(context.Background()))
	require.Equal(t, domain.ModeRemote, s.Snapshot().Mode)
	gw.reset()
	return s, v, gw
}

func (s *Store) pendingCopy() map[int64]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[int64]int, len(s.pending))
	for k, v := range s.pending {
		out[k] = v
	}
	return out
}

func (s *Store) baselineCopy() map[int64]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[int64]int, len(s.baseline))
	for k, v := range s.baseline {
		out[k] = v
	}
	return out
}

func item(id int64, qty int) gateway.Item {
	return gateway.Item{ProductID: id, Name: "server", Price: 100, Quantity: qty}
}

func product(id int64, price int64) domain.Product {
	return domain.Product{ProductID: id, Name: "local", UnitPrice: price}
}
