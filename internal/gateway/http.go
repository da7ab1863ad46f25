package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/utafrali/cartsync/pkg/httpclient"
	"github.com/utafrali/cartsync/pkg/logger"
	"github.com/utafrali/cartsync/pkg/tracing"
)

const (
	serviceName = "cart-api"
	tracerName  = "github.com/utafrali/cartsync/internal/gateway"
	cartPath    = "/api/v1/cart"
	itemsPath   = "/api/v1/cart/items"
)

// Config configures the HTTP gateway.
type Config struct {
	BaseURL string
	// RequestsPerSecond caps outbound calls; zero disables limiting.
	RequestsPerSecond float64
	Burst             int
	HTTP              httpclient.Config
	Breaker           httpclient.BreakerConfig
}

// DefaultConfig returns defaults for the cart API at baseURL.
func DefaultConfig(baseURL string) Config {
	return Config{
		BaseURL:           baseURL,
		RequestsPerSecond: 10,
		Burst:             5,
		HTTP:              httpclient.DefaultConfig(),
		Breaker:           httpclient.DefaultBreakerConfig(serviceName),
	}
}

// HTTPGateway talks to the REST cart API.
type HTTPGateway struct {
	baseURL string
	client  *httpclient.Breaker
	tokens  TokenSource
	limiter *rate.Limiter
	fetches singleflight.Group
	logger  *slog.Logger
}

var _ Gateway = (*HTTPGateway)(nil)

// NewHTTP creates a gateway. Requests go through the shared retrying
// client wrapped in a circuit breaker.
func NewHTTP(cfg Config, tokens TokenSource, l *slog.Logger) *HTTPGateway {
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}
	return &HTTPGateway{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		client:  httpclient.NewBreaker(httpclient.New(cfg.HTTP), cfg.Breaker, l),
		tokens:  tokens,
		limiter: rate.NewLimiter(limit, burst),
		logger:  l,
	}
}

// --- Wire DTOs ---

type itemDTO struct {
	ProductID int64  `json:"productId"`
	Name      string `json:"name"`
	Price     int64  `json:"price"`
	Quantity  int    `json:"quantity"`
	ImageURL  string `json:"imageUrl,omitempty"`
}

type cartEnvelope struct {
	Data struct {
		Items []itemDTO `json:"items"`
	} `json:"data"`
}

type addItemRequest struct {
	ProductID int64 `json:"productId"`
	Quantity  int   `json:"quantity"`
}

type setQuantityRequest struct {
	Quantity int `json:"quantity"`
}

// FetchCart returns the server cart. Concurrent calls for the same session
// share one request.
func (g *HTTPGateway) FetchCart(ctx context.Context) ([]Item, error) {
	token, err := g.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}

	v, err, shared := g.fetches.Do(token, func() (any, error) {
		var env cartEnvelope
		if err := g.do(ctx, "cart.fetch", http.MethodGet, cartPath, token, nil, &env); err != nil {
			return nil, err
		}
		items := make([]Item, 0, len(env.Data.Items))
		for _, dto := range env.Data.Items {
			items = append(items, Item(dto))
		}
		return items, nil
	})
	if err != nil {
		return nil, err
	}
	if shared {
		g.logger.DebugContext(ctx, "cart fetch shared with in-flight request")
	}
	items := v.([]Item)
	return append(make([]Item, 0, len(items)), items...), nil
}

// AddToCart posts a new item or increments an existing one.
func (g *HTTPGateway) AddToCart(ctx context.Context, productID int64, qty int) error {
	token, err := g.tokens.Token(ctx)
	if err != nil {
		return err
	}
	return g.do(ctx, "cart.add", http.MethodPost, itemsPath, token,
		addItemRequest{ProductID: productID, Quantity: qty}, nil,
		attribute.Int64("cart.product_id", productID), attribute.Int("cart.quantity", qty))
}

// RemoveFromCart deletes the product's line.
func (g *HTTPGateway) RemoveFromCart(ctx context.Context, productID int64) error {
	token, err := g.tokens.Token(ctx)
	if err != nil {
		return err
	}
	return g.do(ctx, "cart.remove", http.MethodDelete, itemPath(productID), token, nil, nil,
		attribute.Int64("cart.product_id", productID))
}

// SetQuantity replaces the product's quantity. Zero is sent as a delete.
func (g *HTTPGateway) SetQuantity(ctx context.Context, productID int64, qty int) error {
	if qty <= 0 {
		return g.RemoveFromCart(ctx, productID)
	}
	token, err := g.tokens.Token(ctx)
	if err != nil {
		return err
	}
	return g.do(ctx, "cart.set_quantity", http.MethodPut, itemPath(productID), token,
		setQuantityRequest{Quantity: qty}, nil,
		attribute.Int64("cart.product_id", productID), attribute.Int("cart.quantity", qty))
}

// Ping fails while the circuit breaker to the cart API is open.
func (g *HTTPGateway) Ping(context.Context) error {
	if g.client.State() == gobreaker.StateOpen {
		return fmt.Errorf("%s: %w", serviceName, httpclient.ErrCircuitOpen)
	}
	return nil
}

func itemPath(productID int64) string {
	return itemsPath + "/" + strconv.FormatInt(productID, 10)
}

// do sends one request and decodes a 2xx body into out when out is non-nil.
func (g *HTTPGateway) do(ctx context.Context, op, method, path, token string, body, out any, attrs ...attribute.KeyValue) (err error) {
	ctx, span := tracing.StartSpan(ctx, tracerName, op,
		append(attrs, attribute.String("http.method", method), attribute.String("http.route", path))...)
	defer func() { tracing.EndSpan(span, err) }()

	if err := g.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%s: rate limit wait: %w", op, err)
	}

	var payload []byte
	if body != nil {
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: marshal request: %w", op, err)
		}
	}

	req, err := httpclient.NewJSONRequest(ctx, method, g.baseURL+path, payload)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if id := logger.CorrelationIDFromContext(ctx); id != "" {
		req.Header.Set("X-Correlation-ID", id)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	start := time.Now()
	resp, err := g.client.Do(ctx, req)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer func() { _ = resp.Body.Close() }()

	logger.WithContext(ctx, g.logger).DebugContext(ctx, "cart api call",
		slog.String("op", op),
		slog.Int("status", resp.StatusCode),
		slog.Duration("duration", time.Since(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%s: %w", op, httpclient.ParseResponseError(resp, serviceName))
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: decode response: %w", op, err)
	}
	return nil
}
