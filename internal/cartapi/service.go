// Package cartapi is an in-memory implementation of the storefront's server
// cart API. It backs the HTTP gateway and end-to-end sync tests and can run
// standalone behind cartctl.
package cartapi

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/utafrali/cartsync/internal/domain"
	apperrors "github.com/utafrali/cartsync/pkg/errors"
)

// Cart operation upper-bound limits to prevent abuse.
const (
	// MaxQuantityPerItem is the maximum quantity allowed for a single cart item.
	MaxQuantityPerItem = 100
	// MaxItemsPerCart is the maximum number of distinct items allowed in a cart.
	MaxItemsPerCart = 50
)

// CatalogItem is a product the server knows, with its available stock.
type CatalogItem struct {
	domain.Product
	Stock int
}

// Service holds one cart per user. Quantities are clamped to stock, which is
// the server-side rule clients cannot predict.
type Service struct {
	mu      sync.Mutex
	catalog map[int64]CatalogItem
	carts   map[string]*domain.Cart
	logger  *slog.Logger
}

// NewService creates a service selling the given catalog.
func NewService(catalog []CatalogItem, logger *slog.Logger) *Service {
	s := &Service{
		catalog: make(map[int64]CatalogItem, len(catalog)),
		carts:   make(map[string]*domain.Cart),
		logger:  logger,
	}
	for _, item := range catalog {
		s.catalog[item.ProductID] = item
	}
	return s
}

// SetStock changes the available stock for productID.
func (s *Service) SetStock(productID int64, stock int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if item, ok := s.catalog[productID]; ok {
		item.Stock = stock
		s.catalog[productID] = item
	}
}

// GetCart returns a copy of the user's cart, empty if none exists.
func (s *Service) GetCart(_ context.Context, userID string) domain.Cart {
	s.mu.Lock()
	defer s.mu.Unlock()
	return domain.Cart{Lines: s.cartFor(userID).Snapshot()}
}

// Seed replaces the user's cart, bypassing stock checks.
func (s *Service) Seed(userID string, lines []domain.CartLine) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cartFor(userID).Replace(lines)
}

// AddItem adds qty of productID, merging with an existing line.
func (s *Service) AddItem(ctx context.Context, userID string, productID int64, qty int) (domain.Cart, error) {
	if qty <= 0 {
		return domain.Cart{}, apperrors.InvalidInput("quantity must be greater than 0")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	product, err := s.product(productID)
	if err != nil {
		return domain.Cart{}, err
	}
	cart := s.cartFor(userID)
	if _, exists := cart.Find(productID); !exists && len(cart.Lines) >= MaxItemsPerCart {
		return domain.Cart{}, apperrors.InvalidInput(fmt.Sprintf("cart must not exceed %d items", MaxItemsPerCart))
	}

	total := cart.Add(product.Product, qty)
	if clamped := s.clamp(product, total); clamped != total {
		s.logger.InfoContext(ctx, "quantity clamped to stock",
			slog.Int64("product_id", productID),
			slog.Int("requested", total),
			slog.Int("granted", clamped),
		)
		cart.SetQuantity(productID, clamped)
	}
	return domain.Cart{Lines: cart.Snapshot()}, nil
}

// SetQuantity sets productID's quantity, creating the line if needed. Zero
// removes it.
func (s *Service) SetQuantity(ctx context.Context, userID string, productID int64, qty int) (domain.Cart, error) {
	if qty < 0 {
		return domain.Cart{}, apperrors.InvalidInput("quantity must not be negative")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cart := s.cartFor(userID)
	if qty == 0 {
		cart.Remove(productID)
		return domain.Cart{Lines: cart.Snapshot()}, nil
	}

	product, err := s.product(productID)
	if err != nil {
		return domain.Cart{}, err
	}
	granted := s.clamp(product, qty)
	if granted != qty {
		s.logger.InfoContext(ctx, "quantity clamped to stock",
			slog.Int64("product_id", productID),
			slog.Int("requested", qty),
			slog.Int("granted", granted),
		)
	}
	if granted == 0 {
		cart.Remove(productID)
	} else if !cart.SetQuantity(productID, granted) {
		cart.Add(product.Product, granted)
	}
	return domain.Cart{Lines: cart.Snapshot()}, nil
}

// RemoveItem deletes productID from the cart. Removing an absent product is
// not an error.
func (s *Service) RemoveItem(_ context.Context, userID string, productID int64) domain.Cart {
	s.mu.Lock()
	defer s.mu.Unlock()
	cart := s.cartFor(userID)
	cart.Remove(productID)
	return domain.Cart{Lines: cart.Snapshot()}
}

// ClearCart empties the user's cart.
func (s *Service) ClearCart(_ context.Context, userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.carts, userID)
}

func (s *Service) cartFor(userID string) *domain.Cart {
	cart, ok := s.carts[userID]
	if !ok {
		cart = &domain.Cart{}
		s.carts[userID] = cart
	}
	return cart
}

func (s *Service) product(productID int64) (CatalogItem, error) {
	item, ok := s.catalog[productID]
	if !ok {
		return CatalogItem{}, apperrors.NotFound("product", fmt.Sprint(productID))
	}
	return item, nil
}

func (s *Service) clamp(item CatalogItem, qty int) int {
	limit := MaxQuantityPerItem
	if item.Stock < limit {
		limit = item.Stock
	}
	if qty > limit {
		return limit
	}
	return qty
}
