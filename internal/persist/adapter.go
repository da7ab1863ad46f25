// Package persist mirrors the cart to durable storage and restores it on
// startup, defending against malformed and legacy-shaped payloads.
package persist

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/utafrali/cartsync/internal/domain"
	"github.com/utafrali/cartsync/internal/storage"
)

const (
	// DefaultKey is where the current envelope format lives.
	DefaultKey = "cart-storage"
	// DefaultLegacyKey is where older storefront builds kept a bare item list.
	DefaultLegacyKey = "cart"

	envelopeVersion = 1

	// unreadableSuffix names the key beside the primary one that holds a
	// payload normalization rejected entirely. Saves never touch it.
	unreadableSuffix = ":unreadable"
)

// State is the serializable subset of the cart.
type State struct {
	Lines         []domain.CartLine `json:"lines"`
	TotalQuantity int               `json:"totalQuantity"`
	Subtotal      int64             `json:"subtotal"`
}

// StateOf builds a State with totals derived from lines.
func StateOf(lines []domain.CartLine) State {
	c := domain.Cart{Lines: lines}
	return State{
		Lines:         c.Snapshot(),
		TotalQuantity: c.TotalQuantity(),
		Subtotal:      c.Subtotal(),
	}
}

type envelope struct {
	Version int   `json:"version"`
	State   State `json:"state"`
}

// Source tells where a loaded cart came from.
type Source string

const (
	SourceNone    Source = "none"
	SourcePrimary Source = "primary"
	SourceLegacy  Source = "legacy"
)

// Result is the outcome of Load.
type Result struct {
	State
	Source Source
	// Dropped counts stored items rejected by normalization.
	Dropped int
	// Rounded counts kept items whose stored price had a fraction of a cent.
	Rounded int
	// ForceGuest is set when stored items exist but none could be read. The
	// raw payload is kept in storage and the cart must not sync remotely.
	ForceGuest bool
}

// Adapter reads and writes the cart envelope. Saves are serialized; a save
// carrying an older sequence number than the last written one is ignored.
type Adapter struct {
	store     storage.Storage
	key       string
	legacyKey string
	logger    *slog.Logger
	dropped   prometheus.Counter

	mu       sync.Mutex
	lastSeq  uint64
	retained *retained
}

// retained is a payload that normalization could not read at all.
type retained struct {
	key  string
	data []byte
}

// Option customizes an Adapter.
type Option func(*Adapter)

// WithKeys overrides the primary and legacy storage keys. An empty legacy
// key disables the legacy fallback.
func WithKeys(key, legacyKey string) Option {
	return func(a *Adapter) {
		if key != "" {
			a.key = key
		}
		a.legacyKey = legacyKey
	}
}

// WithLogger sets the diagnostics logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Adapter) { a.logger = l }
}

// WithDroppedCounter counts items rejected during Load.
func WithDroppedCounter(c prometheus.Counter) Option {
	return func(a *Adapter) { a.dropped = c }
}

// New creates an Adapter over store.
func New(store storage.Storage, opts ...Option) *Adapter {
	a := &Adapter{
		store:     store,
		key:       DefaultKey,
		legacyKey: DefaultLegacyKey,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Load reads the primary key, falling back to the legacy key, and normalizes
// what it finds. A legacy cart that yields lines is migrated to the primary
// key and the legacy key deleted. Load never discards unreadable data: when
// every stored item is rejected the payload is copied aside, left in place,
// and the result forces Guest mode. A payload set aside by an earlier
// session keeps the adapter retaining until Clear.
func (a *Adapter) Load(ctx context.Context) (Result, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	res, err := a.load(ctx)
	if err == nil && a.retained == nil {
		a.reclaimUnreadable(ctx)
	}
	return res, err
}

// UnreadableKey is where a payload rejected by normalization is set aside.
func (a *Adapter) UnreadableKey() string { return a.key + unreadableSuffix }

func (a *Adapter) reclaimUnreadable(ctx context.Context) {
	data, err := a.store.Get(ctx, a.UnreadableKey())
	switch {
	case err == nil:
		a.retained = &retained{key: a.key, data: data}
	case !errors.Is(err, storage.ErrNotFound):
		a.logger.WarnContext(ctx, "failed to read set-aside cart",
			slog.String("key", a.UnreadableKey()),
			slog.String("error", err.Error()),
		)
	}
}

// retain keeps data in memory and copies it under the unreadable key so a
// later save of a non-empty cart cannot overwrite the only copy.
func (a *Adapter) retain(ctx context.Context, key string, data []byte) {
	a.retained = &retained{key: key, data: bytes.Clone(data)}
	if err := a.store.Set(ctx, a.UnreadableKey(), a.retained.data); err != nil {
		a.logger.WarnContext(ctx, "failed to set aside unreadable cart",
			slog.String("key", a.UnreadableKey()),
			slog.String("error", err.Error()),
		)
	}
}

func (a *Adapter) load(ctx context.Context) (Result, error) {
	data, err := a.store.Get(ctx, a.key)
	switch {
	case err == nil:
		return a.loadPayload(ctx, a.key, SourcePrimary, data), nil
	case !errors.Is(err, storage.ErrNotFound):
		return Result{Source: SourceNone}, fmt.Errorf("read %s: %w", a.key, err)
	}

	if a.legacyKey == "" {
		return Result{Source: SourceNone, State: StateOf(nil)}, nil
	}
	data, err = a.store.Get(ctx, a.legacyKey)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return Result{Source: SourceNone, State: StateOf(nil)}, nil
	case err != nil:
		return Result{Source: SourceNone}, fmt.Errorf("read %s: %w", a.legacyKey, err)
	}

	res := a.loadPayload(ctx, a.legacyKey, SourceLegacy, data)
	if res.ForceGuest {
		return res, nil
	}
	if len(res.Lines) > 0 {
		if err := a.write(ctx, res.State); err != nil {
			return res, fmt.Errorf("migrate legacy cart: %w", err)
		}
	}
	if err := a.store.Delete(ctx, a.legacyKey); err != nil {
		a.logger.WarnContext(ctx, "failed to delete legacy cart key",
			slog.String("key", a.legacyKey),
			slog.String("error", err.Error()),
		)
	} else {
		a.logger.InfoContext(ctx, "migrated legacy cart",
			slog.String("from", a.legacyKey),
			slog.String("to", a.key),
			slog.Int("lines", len(res.Lines)),
		)
	}
	return res, nil
}

func (a *Adapter) loadPayload(ctx context.Context, key string, src Source, data []byte) Result {
	records, total, err := decodeRecords(data)
	if err != nil {
		a.logger.WarnContext(ctx, "stored cart is unreadable, keeping raw payload",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		a.retain(ctx, key, data)
		return Result{Source: src, State: StateOf(nil), ForceGuest: true}
	}

	lines, dropped := NormalizeRecords(records)
	res := Result{Source: src, State: StateOf(lines), Dropped: dropped, Rounded: CountRoundedPrices(records)}
	if res.Rounded > 0 {
		a.logger.WarnContext(ctx, "rounded fractional cart prices to whole cents",
			slog.String("key", key),
			slog.Int("rounded", res.Rounded),
		)
	}
	if dropped == 0 {
		return res
	}

	if a.dropped != nil {
		a.dropped.Add(float64(dropped))
	}
	a.logger.WarnContext(ctx, "dropped invalid cart items",
		slog.String("key", key),
		slog.Int("stored", total),
		slog.Int("kept", len(lines)),
		slog.Int("dropped", dropped),
	)
	if len(lines) == 0 {
		a.retain(ctx, key, data)
		res.ForceGuest = true
	}
	return res
}

// Save writes state under the primary key. seq orders concurrent saves: a
// non-zero seq not greater than the last written one is skipped. While an
// unreadable payload is retained, saving an empty cart writes it back
// unchanged instead. A non-empty cart is written normally and the retained
// copy under the unreadable key survives; only Clear ends the retention.
func (a *Adapter) Save(ctx context.Context, seq uint64, state State) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if seq != 0 {
		if seq <= a.lastSeq {
			return nil
		}
		a.lastSeq = seq
	}

	if a.retained != nil && len(state.Lines) == 0 {
		if err := a.store.Set(ctx, a.retained.key, a.retained.data); err != nil {
			return fmt.Errorf("rewrite retained cart: %w", err)
		}
		return nil
	}

	return a.write(ctx, state)
}

// Clear removes the cart from every key, the set-aside unreadable payload
// included, and ends any retention. seq is ordered with Save's: a stale
// clear is skipped.
func (a *Adapter) Clear(ctx context.Context, seq uint64) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if seq != 0 {
		if seq <= a.lastSeq {
			return nil
		}
		a.lastSeq = seq
	}

	keys := []string{a.key, a.UnreadableKey()}
	if a.legacyKey != "" {
		keys = append(keys, a.legacyKey)
	}
	for _, key := range keys {
		if err := a.store.Delete(ctx, key); err != nil {
			return fmt.Errorf("clear %s: %w", key, err)
		}
	}
	a.retained = nil
	return nil
}

// Retaining reports whether an unreadable payload is being preserved.
func (a *Adapter) Retaining() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.retained != nil
}

func (a *Adapter) write(ctx context.Context, state State) error {
	state = StateOf(state.Lines)
	data, err := json.Marshal(envelope{Version: envelopeVersion, State: state})
	if err != nil {
		return fmt.Errorf("marshal cart: %w", err)
	}
	if err := a.store.Set(ctx, a.key, data); err != nil {
		return fmt.Errorf("write %s: %w", a.key, err)
	}
	return nil
}

// decodeRecords accepts every shape the cart has been stored in:
//
//	{"version":1,"state":{"lines":[...]}}   current envelope
//	{"state":{"items":[...]}}               early envelope
//	{"lines":[...]} / {"items":[...]}       unwrapped state
//	[...]                                   bare item list
//
// It returns the records and the number of stored items. Items that are not
// JSON objects become nil records so normalization counts them as dropped.
func decodeRecords(data []byte) ([]Record, int, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var root any
	if err := dec.Decode(&root); err != nil {
		return nil, 0, fmt.Errorf("decode cart payload: %w", err)
	}

	items, err := findItems(root)
	if err != nil {
		return nil, 0, err
	}
	records := make([]Record, len(items))
	for i, item := range items {
		rec, _ := item.(map[string]any)
		records[i] = rec
	}
	return records, len(items), nil
}

func findItems(node any) ([]any, error) {
	switch v := node.(type) {
	case nil:
		return nil, nil
	case []any:
		return v, nil
	case map[string]any:
		if state, ok := v["state"]; ok {
			return findItems(state)
		}
		for _, field := range []string{"lines", "items"} {
			if raw, ok := v[field]; ok {
				if raw == nil {
					return nil, nil
				}
				items, ok := raw.([]any)
				if !ok {
					return nil, fmt.Errorf("cart payload field %q is not a list", field)
				}
				return items, nil
			}
		}
		return nil, nil
	default:
		return nil, fmt.Errorf("unexpected cart payload of type %T", node)
	}
}
