package cartapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/utafrali/cartsync/internal/domain"
	"github.com/utafrali/cartsync/pkg/httputil"
	"github.com/utafrali/cartsync/pkg/middleware"
	"github.com/utafrali/cartsync/pkg/validator"
)

// CartHandler handles HTTP requests for cart endpoints. Errors are logged
// with the request-scoped logger set up by middleware.RequestLogger.
type CartHandler struct {
	service *Service
}

// NewCartHandler creates a new cart HTTP handler.
func NewCartHandler(svc *Service) *CartHandler {
	return &CartHandler{service: svc}
}

func (h *CartHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	httputil.WriteError(w, r, err)
}

// --- Request DTOs ---

// AddItemRequest is the JSON request body for adding an item to the cart.
type AddItemRequest struct {
	ProductID int64 `json:"productId" validate:"required,gt=0"`
	Quantity  int   `json:"quantity" validate:"required,gte=1,lte=100"`
}

// UpdateQuantityRequest is the JSON request body for setting an item's quantity.
type UpdateQuantityRequest struct {
	Quantity int `json:"quantity" validate:"gte=0,lte=100"`
}

// --- Response DTOs ---

// ItemResponse is one cart line on the wire.
type ItemResponse struct {
	ProductID int64  `json:"productId"`
	Name      string `json:"name"`
	Price     int64  `json:"price"`
	Quantity  int    `json:"quantity"`
	ImageURL  string `json:"imageUrl,omitempty"`
}

// CartResponse is the cart representation returned by every endpoint.
type CartResponse struct {
	Items         []ItemResponse `json:"items"`
	TotalQuantity int            `json:"totalQuantity"`
	Subtotal      int64          `json:"subtotal"`
}

func toCartResponse(cart domain.Cart) CartResponse {
	items := make([]ItemResponse, 0, len(cart.Lines))
	for _, line := range cart.Lines {
		items = append(items, ItemResponse{
			ProductID: line.ProductID,
			Name:      line.Name,
			Price:     line.UnitPrice,
			Quantity:  line.Quantity,
			ImageURL:  line.ImageURL,
		})
	}
	return CartResponse{Items: items, TotalQuantity: cart.TotalQuantity(), Subtotal: cart.Subtotal()}
}

// --- Handlers ---

// GetCart handles GET /api/v1/cart
func (h *CartHandler) GetCart(w http.ResponseWriter, r *http.Request) {
	cart := h.service.GetCart(r.Context(), middleware.UserIDFromContext(r.Context()))
	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: toCartResponse(cart)})
}

// AddItem handles POST /api/v1/cart/items
func (h *CartHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	var req AddItemRequest
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	cart, err := h.service.AddItem(r.Context(), middleware.UserIDFromContext(r.Context()), req.ProductID, req.Quantity)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: toCartResponse(cart)})
}

// UpdateItemQuantity handles PUT /api/v1/cart/items/{productId}
func (h *CartHandler) UpdateItemQuantity(w http.ResponseWriter, r *http.Request) {
	productID, ok := httputil.ParseID(w, chi.URLParam(r, "productId"))
	if !ok {
		return
	}

	var req UpdateQuantityRequest
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	cart, err := h.service.SetQuantity(r.Context(), middleware.UserIDFromContext(r.Context()), productID, req.Quantity)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: toCartResponse(cart)})
}

// RemoveItem handles DELETE /api/v1/cart/items/{productId}
func (h *CartHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	productID, ok := httputil.ParseID(w, chi.URLParam(r, "productId"))
	if !ok {
		return
	}

	cart := h.service.RemoveItem(r.Context(), middleware.UserIDFromContext(r.Context()), productID)
	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: toCartResponse(cart)})
}

// ClearCart handles DELETE /api/v1/cart
func (h *CartHandler) ClearCart(w http.ResponseWriter, r *http.Request) {
	h.service.ClearCart(r.Context(), middleware.UserIDFromContext(r.Context()))
	w.WriteHeader(http.StatusNoContent)
}
