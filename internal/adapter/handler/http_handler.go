package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/rl1809/rocketshoes-cart/internal/adapter/notifier"
	"github.com/rl1809/rocketshoes-cart/internal/core/domain"
	"github.com/rl1809/rocketshoes-cart/internal/core/service"
	"github.com/rl1809/rocketshoes-cart/internal/logger"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// HealthChecker reports whether a dependency is reachable.
type HealthChecker func(ctx context.Context) error

type HTTPHandler struct {
	cartService *service.CartService
	feed        *notifier.Feed
	checks      map[string]HealthChecker
	logger      *slog.Logger
}

type AddProductHTTPRequest struct {
	ProductID int `json:"product_id" validate:"required,gt=0"`
}

// Amount is a pointer so a missing field is told apart from zero; zero and
// negative amounts are rejected by the cart itself.
type UpdateAmountHTTPRequest struct {
	Amount *int `json:"amount" validate:"required"`
}

type CartHTTPResponse struct {
	Items      domain.Cart `json:"items"`
	TotalItems int         `json:"total_items"`
	Subtotal   float64     `json:"subtotal"`
}

type response struct {
	Data  any            `json:"data,omitempty"`
	Error *errorResponse `json:"error,omitempty"`
}

type errorResponse struct {
	Code      string            `json:"code"`
	Message   string            `json:"message"`
	Fields    map[string]string `json:"fields,omitempty"`
	RequestID string            `json:"request_id,omitempty"`
}

func NewHTTPHandler(cartService *service.CartService, feed *notifier.Feed, checks map[string]HealthChecker, logger *slog.Logger) *HTTPHandler {
	return &HTTPHandler{
		cartService: cartService,
		feed:        feed,
		checks:      checks,
		logger:      logger,
	}
}

// GetCart handles GET /api/cart
func (h *HTTPHandler) GetCart(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, response{Data: toCartResponse(h.cartService.Cart())})
}

// AddProduct handles POST /api/cart/items
func (h *HTTPHandler) AddProduct(w http.ResponseWriter, r *http.Request) {
	var req AddProductHTTPRequest
	if !h.decode(w, r, &req) {
		return
	}

	err := h.cartService.AddProduct(r.Context(), req.ProductID)
	h.writeResult(w, r, err)
}

// RemoveProduct handles DELETE /api/cart/items/{productId}
func (h *HTTPHandler) RemoveProduct(w http.ResponseWriter, r *http.Request) {
	productID, ok := h.productID(w, r)
	if !ok {
		return
	}

	err := h.cartService.RemoveProduct(r.Context(), productID)
	h.writeResult(w, r, err)
}

// UpdateProductAmount handles PUT /api/cart/items/{productId}
func (h *HTTPHandler) UpdateProductAmount(w http.ResponseWriter, r *http.Request) {
	productID, ok := h.productID(w, r)
	if !ok {
		return
	}

	var req UpdateAmountHTTPRequest
	if !h.decode(w, r, &req) {
		return
	}

	err := h.cartService.UpdateProductAmount(r.Context(), service.UpdateProductAmount{
		ProductID: productID,
		Amount:    *req.Amount,
	})
	h.writeResult(w, r, err)
}

// Notifications handles GET /api/notifications. Reading drains the feed.
func (h *HTTPHandler) Notifications(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, response{Data: h.feed.Drain()})
}

func (h *HTTPHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	failures := make(map[string]string)
	for name, check := range h.checks {
		if err := check(r.Context()); err != nil {
			failures[name] = err.Error()
		}
	}

	if len(failures) > 0 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "down", "checks": failures})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *HTTPHandler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, response{
			Error: &errorResponse{Code: "INVALID_INPUT", Message: "invalid request body: " + err.Error()},
		})
		return false
	}

	if err := validate.Struct(dst); err != nil {
		var validationErrors validator.ValidationErrors
		if errors.As(err, &validationErrors) {
			fields := make(map[string]string, len(validationErrors))
			for _, fe := range validationErrors {
				fields[fe.Field()] = msgForTag(fe)
			}
			writeJSON(w, http.StatusBadRequest, response{
				Error: &errorResponse{Code: "VALIDATION_ERROR", Message: "request validation failed", Fields: fields},
			})
			return false
		}
		writeJSON(w, http.StatusBadRequest, response{
			Error: &errorResponse{Code: "INVALID_INPUT", Message: err.Error()},
		})
		return false
	}
	return true
}

func (h *HTTPHandler) productID(w http.ResponseWriter, r *http.Request) (int, bool) {
	productID, err := strconv.Atoi(chi.URLParam(r, "productId"))
	if err != nil || productID <= 0 {
		writeJSON(w, http.StatusBadRequest, response{
			Error: &errorResponse{Code: "INVALID_INPUT", Message: "productId must be a positive integer"},
		})
		return 0, false
	}
	return productID, true
}

// writeResult answers a mutation with the current cart, or with the
// notification message of the failure.
func (h *HTTPHandler) writeResult(w http.ResponseWriter, r *http.Request, err error) {
	if err == nil {
		writeJSON(w, http.StatusOK, response{Data: toCartResponse(h.cartService.Cart())})
		return
	}

	status, code := statusFor(err)
	if status == http.StatusInternalServerError {
		logger.WithContext(r.Context(), h.logger).ErrorContext(r.Context(), "cart operation failed",
			slog.String("error", err.Error()))
	}

	message := service.NotificationMessage(err)
	if message == "" {
		message = "internal error"
	}
	writeJSON(w, status, response{
		Error: &errorResponse{
			Code:      code,
			Message:   message,
			RequestID: logger.CorrelationIDFromContext(r.Context()),
		},
	})
}

func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, service.ErrInvalidAmount):
		return http.StatusBadRequest, "INVALID_AMOUNT"
	case errors.Is(err, service.ErrProductNotInCart):
		return http.StatusNotFound, "NOT_IN_CART"
	case errors.Is(err, service.ErrOutOfStock):
		return http.StatusConflict, "OUT_OF_STOCK"
	case errors.Is(err, service.ErrUnknownProduct):
		return http.StatusNotFound, "UNKNOWN_PRODUCT"
	case errors.Is(err, service.ErrCatalogUnavailable):
		return http.StatusBadGateway, "CATALOG_UNAVAILABLE"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "TIMEOUT"
	case errors.Is(err, context.Canceled):
		return http.StatusRequestTimeout, "REQUEST_CANCELLED"
	default:
		return http.StatusInternalServerError, "INTERNAL_ERROR"
	}
}

func msgForTag(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "gt":
		return fmt.Sprintf("must be greater than %s", fe.Param())
	default:
		return fmt.Sprintf("failed on '%s' validation", fe.Tag())
	}
}

func toCartResponse(cart domain.Cart) CartHTTPResponse {
	return CartHTTPResponse{
		Items:      cart,
		TotalItems: cart.TotalItems(),
		Subtotal:   cart.Subtotal(),
	}
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
