// Package gateway is the client side of the server cart API.
package gateway

import (
	"context"
	"strings"

	apperrors "github.com/utafrali/cartsync/pkg/errors"
)

// Item is one line of the server's cart.
type Item struct {
	ProductID int64
	Name      string
	Price     int64
	Quantity  int
	ImageURL  string
}

// Gateway reads and writes the authenticated user's server cart. Errors
// caused by a missing or expired session satisfy apperrors.IsUnauthorized.
type Gateway interface {
	// FetchCart returns the full authoritative cart.
	FetchCart(ctx context.Context) ([]Item, error)
	// AddToCart increments productID by qty.
	AddToCart(ctx context.Context, productID int64, qty int) error
	// RemoveFromCart deletes productID from the cart.
	RemoveFromCart(ctx context.Context, productID int64) error
	// SetQuantity sets productID to qty; zero removes it.
	SetQuantity(ctx context.Context, productID int64, qty int) error
}

// TokenSource supplies the bearer token for the current session.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a TokenSource with a fixed token. The empty token means no
// session.
type StaticToken string

// Token returns the token or an Unauthorized error when it is empty.
func (t StaticToken) Token(context.Context) (string, error) {
	tok := strings.TrimSpace(string(t))
	if tok == "" {
		return "", apperrors.Unauthorized("no session token")
	}
	return tok, nil
}
