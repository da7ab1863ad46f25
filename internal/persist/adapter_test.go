package persist

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/utafrali/cartsync/internal/domain"
	"github.com/utafrali/cartsync/internal/storage"
	"github.com/utafrali/cartsync/internal/storage/memory"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newAdapter(t *testing.T, opts ...Option) (*Adapter, *memory.Storage) {
	t.Helper()
	store := memory.New()
	opts = append([]Option{WithLogger(quietLogger())}, opts...)
	return New(store, opts...), store
}

func mustGet(t *testing.T, s storage.Storage, key string) []byte {
	t.Helper()
	data, err := s.Get(context.Background(), key)
	require.NoError(t, err)
	return data
}

func TestAdapter_RoundTripAcrossReload(t *testing.T) {
	ctx := context.Background()
	a, store := newAdapter(t)

	lines := []domain.CartLine{{ProductID: 1, Name: "Mug", UnitPrice: 1000, Quantity: 2}}
	require.NoError(t, a.Save(ctx, 1, StateOf(lines)))

	// A fresh adapter over the same storage simulates a page reload.
	reloaded := New(store, WithLogger(quietLogger()))
	res, err := reloaded.Load(ctx)
	require.NoError(t, err)

	assert.Equal(t, SourcePrimary, res.Source)
	assert.False(t, res.ForceGuest)
	assert.Equal(t, lines, res.Lines)
	assert.Equal(t, 2, res.TotalQuantity)
	assert.Equal(t, int64(2000), res.Subtotal)
}

func TestAdapter_EnvelopeFormat(t *testing.T) {
	ctx := context.Background()
	a, store := newAdapter(t)
	require.NoError(t, a.Save(ctx, 0, StateOf([]domain.CartLine{{ProductID: 3, UnitPrice: 250, Quantity: 4}})))

	var env map[string]any
	require.NoError(t, json.Unmarshal(mustGet(t, store, DefaultKey), &env))
	assert.Equal(t, float64(1), env["version"])
	state := env["state"].(map[string]any)
	assert.Equal(t, float64(4), state["totalQuantity"])
	assert.Equal(t, float64(1000), state["subtotal"])
	assert.Len(t, state["lines"], 1)
}

func TestAdapter_Load_Empty(t *testing.T) {
	a, _ := newAdapter(t)
	res, err := a.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SourceNone, res.Source)
	assert.Empty(t, res.Lines)
	assert.False(t, res.ForceGuest)
}

func TestAdapter_Load_LogsRoundedPrices(t *testing.T) {
	ctx := context.Background()
	var logs bytes.Buffer
	store := memory.New()
	a := New(store, WithLogger(slog.New(slog.NewTextHandler(&logs, nil))))

	require.NoError(t, store.Set(ctx, DefaultKey, []byte(`{"state":{"items":[
		{"id":1,"qty":1,"price":19.99},
		{"id":2,"qty":1,"price":500}
	]}}`)))

	res, err := a.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Rounded)
	assert.Zero(t, res.Dropped)
	assert.Equal(t, int64(520), res.Subtotal)
	assert.Contains(t, logs.String(), "rounded fractional cart prices")
	assert.Contains(t, logs.String(), "rounded=1")
}

func TestAdapter_Load_PartialDrop(t *testing.T) {
	ctx := context.Background()
	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "dropped_total"})
	reg.MustRegister(counter)
	a, store := newAdapter(t, WithDroppedCounter(counter))

	require.NoError(t, store.Set(ctx, DefaultKey, []byte(`{"version":1,"state":{"lines":[
		{"productId":1,"quantity":2,"unitPrice":1000},
		{"id":"abc","qty":3}
	],"totalQuantity":5,"subtotal":99}}`)))

	res, err := a.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Dropped)
	assert.False(t, res.ForceGuest)
	require.Len(t, res.Lines, 1)
	assert.Equal(t, 2, res.TotalQuantity, "totals are recomputed from kept lines")
	assert.Equal(t, int64(2000), res.Subtotal)
	assert.Equal(t, float64(1), testutil.ToFloat64(counter))
	assert.False(t, a.Retaining())
}

func TestAdapter_Load_AllDroppedRetainsRaw(t *testing.T) {
	ctx := context.Background()
	a, store := newAdapter(t)
	raw := []byte(`{"version":1,"state":{"lines":[{"sku":"MUG-01","amount":2}]}}`)
	require.NoError(t, store.Set(ctx, DefaultKey, raw))

	res, err := a.Load(ctx)
	require.NoError(t, err)
	assert.True(t, res.ForceGuest)
	assert.Empty(t, res.Lines)
	assert.True(t, a.Retaining())

	// Empty saves keep the raw payload in place.
	require.NoError(t, a.Save(ctx, 1, StateOf(nil)))
	assert.Equal(t, raw, mustGet(t, store, DefaultKey))

	// A real save writes the new cart but the unreadable one stays set aside.
	require.NoError(t, a.Save(ctx, 2, StateOf([]domain.CartLine{{ProductID: 5, Quantity: 1}})))
	assert.True(t, a.Retaining())
	assert.NotEqual(t, raw, mustGet(t, store, DefaultKey))
	assert.Equal(t, raw, mustGet(t, store, DefaultKey+unreadableSuffix))
}

func TestAdapter_UnreadableCartSurvivesSavesAndReload(t *testing.T) {
	ctx := context.Background()
	a, store := newAdapter(t)
	raw := []byte(`{"state":{"items":[{"sku":"ABC-1","quantity":2,"name":"Mug"}]}}`)
	require.NoError(t, store.Set(ctx, DefaultKey, raw))

	res, err := a.Load(ctx)
	require.NoError(t, err)
	require.True(t, res.ForceGuest)

	tea := []domain.CartLine{{ProductID: 9, Name: "Tea", UnitPrice: 350, Quantity: 1}}
	require.NoError(t, a.Save(ctx, 1, StateOf(tea)))
	require.NoError(t, a.Save(ctx, 2, StateOf(append(tea, domain.CartLine{ProductID: 4, Quantity: 2}))))

	reloaded := New(store, WithLogger(quietLogger()))
	res, err = reloaded.Load(ctx)
	require.NoError(t, err)
	assert.False(t, res.ForceGuest)
	assert.Equal(t, 3, res.TotalQuantity)
	assert.True(t, reloaded.Retaining(), "the set-aside payload is still held after a reload")
	assert.Equal(t, raw, mustGet(t, store, DefaultKey+unreadableSuffix))

	// Emptying the cart brings the unreadable payload back to the primary key.
	require.NoError(t, reloaded.Save(ctx, 1, StateOf(nil)))
	assert.Equal(t, raw, mustGet(t, store, DefaultKey))

	require.NoError(t, reloaded.Clear(ctx, 2))
	assert.False(t, reloaded.Retaining())
	for _, key := range []string{DefaultKey, DefaultKey + unreadableSuffix} {
		_, err = store.Get(ctx, key)
		assert.True(t, errors.Is(err, storage.ErrNotFound), key)
	}
}

func TestAdapter_Load_CorruptPayloadRetained(t *testing.T) {
	ctx := context.Background()
	a, store := newAdapter(t)
	require.NoError(t, store.Set(ctx, DefaultKey, []byte(`{"state":`)))

	res, err := a.Load(ctx)
	require.NoError(t, err)
	assert.True(t, res.ForceGuest)
	assert.True(t, a.Retaining())

	require.NoError(t, a.Clear(ctx, 0))
	assert.False(t, a.Retaining())
	_, err = store.Get(ctx, DefaultKey)
	assert.True(t, errors.Is(err, storage.ErrNotFound))
}

func TestAdapter_Load_LegacyBareArrayMigrated(t *testing.T) {
	ctx := context.Background()
	a, store := newAdapter(t)
	require.NoError(t, store.Set(ctx, DefaultLegacyKey, []byte(`[{"id":"7","qty":"3","name":"X"}]`)))

	res, err := a.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, SourceLegacy, res.Source)
	assert.Equal(t, []domain.CartLine{{ProductID: 7, Quantity: 3, Name: "X"}}, res.Lines)

	_, err = store.Get(ctx, DefaultLegacyKey)
	assert.True(t, errors.Is(err, storage.ErrNotFound), "legacy key is deleted after migration")

	again, err := New(store, WithLogger(quietLogger())).Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, SourcePrimary, again.Source)
	assert.Equal(t, res.Lines, again.Lines)
}

func TestAdapter_Load_LegacyItemsObject(t *testing.T) {
	ctx := context.Background()
	a, store := newAdapter(t)
	require.NoError(t, store.Set(ctx, DefaultLegacyKey, []byte(`{"items":[{"product_id":2,"count":1,"price":"450"}]}`)))

	res, err := a.Load(ctx)
	require.NoError(t, err)
	require.Len(t, res.Lines, 1)
	assert.Equal(t, int64(450), res.Lines[0].UnitPrice)
}

func TestAdapter_Load_LegacyAllDroppedKept(t *testing.T) {
	ctx := context.Background()
	a, store := newAdapter(t)
	raw := []byte(`[{"title":"mystery"}]`)
	require.NoError(t, store.Set(ctx, DefaultLegacyKey, raw))

	res, err := a.Load(ctx)
	require.NoError(t, err)
	assert.True(t, res.ForceGuest)
	assert.Equal(t, raw, mustGet(t, store, DefaultLegacyKey))

	// A real save writes the primary envelope and leaves the legacy payload.
	require.NoError(t, a.Save(ctx, 1, StateOf([]domain.CartLine{{ProductID: 1, Quantity: 1}})))
	mustGet(t, store, DefaultKey)
	assert.Equal(t, raw, mustGet(t, store, DefaultLegacyKey))
	assert.Equal(t, raw, mustGet(t, store, DefaultKey+unreadableSuffix))

	require.NoError(t, a.Clear(ctx, 2))
	_, err = store.Get(ctx, DefaultLegacyKey)
	assert.True(t, errors.Is(err, storage.ErrNotFound))
}

func TestAdapter_PrimaryWinsOverLegacy(t *testing.T) {
	ctx := context.Background()
	a, store := newAdapter(t)
	require.NoError(t, store.Set(ctx, DefaultKey, []byte(`{"version":1,"state":{"lines":[{"productId":1,"quantity":1}]}}`)))
	require.NoError(t, store.Set(ctx, DefaultLegacyKey, []byte(`[{"id":2,"qty":1}]`)))

	res, err := a.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, SourcePrimary, res.Source)
	require.Len(t, res.Lines, 1)
	assert.Equal(t, int64(1), res.Lines[0].ProductID)
}

func TestAdapter_Save_IgnoresStaleSequence(t *testing.T) {
	ctx := context.Background()
	a, store := newAdapter(t)

	require.NoError(t, a.Save(ctx, 5, StateOf([]domain.CartLine{{ProductID: 1, Quantity: 5}})))
	require.NoError(t, a.Save(ctx, 4, StateOf([]domain.CartLine{{ProductID: 1, Quantity: 4}})))

	res, err := New(store, WithLogger(quietLogger())).Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, res.TotalQuantity)
}

func TestAdapter_Clear_OrderedWithSaves(t *testing.T) {
	ctx := context.Background()
	a, store := newAdapter(t)

	require.NoError(t, a.Clear(ctx, 3))
	require.NoError(t, a.Save(ctx, 2, StateOf([]domain.CartLine{{ProductID: 1, Quantity: 2}})))
	_, err := store.Get(ctx, DefaultKey)
	assert.True(t, errors.Is(err, storage.ErrNotFound), "save older than the clear is dropped")

	require.NoError(t, a.Save(ctx, 4, StateOf([]domain.CartLine{{ProductID: 1, Quantity: 1}})))
	require.NoError(t, a.Clear(ctx, 4))
	mustGet(t, store, DefaultKey)
}

func TestAdapter_CustomKeys(t *testing.T) {
	ctx := context.Background()
	a, store := newAdapter(t, WithKeys("shop-cart", ""))
	require.NoError(t, store.Set(ctx, DefaultLegacyKey, []byte(`[{"id":2,"qty":1}]`)))

	res, err := a.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, SourceNone, res.Source, "legacy fallback disabled")

	require.NoError(t, a.Save(ctx, 0, StateOf([]domain.CartLine{{ProductID: 1, Quantity: 1}})))
	mustGet(t, store, "shop-cart")
}

type failingStorage struct{ *memory.Storage }

func (failingStorage) Get(context.Context, string) ([]byte, error) {
	return nil, errors.New("disk unavailable")
}

func TestAdapter_Load_StorageError(t *testing.T) {
	a := New(failingStorage{memory.New()}, WithLogger(quietLogger()))
	_, err := a.Load(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk unavailable")
}
