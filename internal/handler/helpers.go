package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/vasiliy-maslov/online-store/internal/order"
)

const (
	codeInvalidRequest      = "INVALID_REQUEST"
	codeValidationFailed    = "VALIDATION_FAILED"
	codeUnauthenticated     = "UNAUTHENTICATED"
	codeEmptyCart           = "EMPTY_CART"
	codeInvalidQuantity     = "INVALID_QUANTITY"
	codeInvalidProductID    = "INVALID_PRODUCT_ID"
	codeTooManyItems        = "TOO_MANY_ITEMS"
	codeProductNotFound     = "PRODUCT_NOT_FOUND"
	codeInsufficientStock   = "INSUFFICIENT_STOCK"
	codeOrderNotFound       = "ORDER_NOT_FOUND"
	codeStockContention     = "STOCK_CONTENTION"
	codePlacementTimeout    = "PLACEMENT_TIMEOUT"
	codeStorageUnavailable  = "STORAGE_UNAVAILABLE"
	codeIdempotencyInFlight = "IDEMPOTENCY_KEY_IN_USE"
	codeIdempotencyMismatch = "IDEMPOTENCY_KEY_REUSED"
	codeInternal            = "INTERNAL"
)

// retryAfterSeconds is sent with every 503 response.
const retryAfterSeconds = "1"

type ErrorResponse struct {
	Error   string         `json:"error"`
	Code    string         `json:"code,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, ErrorResponse{Error: message})
}

func respondWithErrorCode(w http.ResponseWriter, status int, message, code string) {
	respondWithJSON(w, status, ErrorResponse{Error: message, Code: code})
}

func respondWithJSON(w http.ResponseWriter, code int, payload any) {
	response, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal JSON response")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"Failed to marshal JSON response"}`))
		return
	}
	writeJSON(w, code, response)
}

func writeJSON(w http.ResponseWriter, code int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if _, err := w.Write(body); err != nil {
		log.Error().Err(err).Msg("Failed to write JSON response")
	}
}

func mapErrorToStatusCode(err error) int {
	switch {
	case errors.Is(err, order.ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, order.ErrEmptyCart),
		errors.Is(err, order.ErrInvalidQuantity),
		errors.Is(err, order.ErrInvalidProductID),
		errors.Is(err, order.ErrTooManyItems),
		errors.Is(err, order.ErrProductNotFound),
		errors.Is(err, order.ErrInsufficientStock):
		return http.StatusBadRequest
	case errors.Is(err, order.ErrOrderNotFound):
		return http.StatusNotFound
	case order.IsRetryable(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, order.ErrUnauthenticated):
		return codeUnauthenticated
	case errors.Is(err, order.ErrEmptyCart):
		return codeEmptyCart
	case errors.Is(err, order.ErrInvalidQuantity):
		return codeInvalidQuantity
	case errors.Is(err, order.ErrInvalidProductID):
		return codeInvalidProductID
	case errors.Is(err, order.ErrTooManyItems):
		return codeTooManyItems
	case errors.Is(err, order.ErrProductNotFound):
		return codeProductNotFound
	case errors.Is(err, order.ErrInsufficientStock):
		return codeInsufficientStock
	case errors.Is(err, order.ErrOrderNotFound):
		return codeOrderNotFound
	case errors.Is(err, order.ErrStockContention):
		return codeStockContention
	case errors.Is(err, order.ErrPlacementTimeout):
		return codePlacementTimeout
	case errors.Is(err, order.ErrStorageUnavailable):
		return codeStorageUnavailable
	default:
		return codeInternal
	}
}

func errorDetails(err error) map[string]any {
	var stockErr *order.InsufficientStockError
	if errors.As(err, &stockErr) {
		return map[string]any{
			"productId": stockErr.ProductID.String(),
			"available": stockErr.Available,
			"requested": stockErr.Requested,
		}
	}

	var notFoundErr *order.ProductNotFoundError
	if errors.As(err, &notFoundErr) {
		return map[string]any{"productId": notFoundErr.ProductID.String()}
	}

	var quantityErr *order.InvalidQuantityError
	if errors.As(err, &quantityErr) {
		return map[string]any{
			"index":     quantityErr.Index,
			"productId": quantityErr.ProductID.String(),
			"quantity":  quantityErr.Quantity,
		}
	}

	return nil
}

// respondWithServiceError hides infrastructure details from clients; domain
// errors are descriptive enough to return as is.
func respondWithServiceError(w http.ResponseWriter, err error) {
	status := mapErrorToStatusCode(err)

	message := err.Error()
	switch status {
	case http.StatusServiceUnavailable:
		w.Header().Set("Retry-After", retryAfterSeconds)
		message = "Service temporarily unavailable, please retry"
	case http.StatusInternalServerError:
		message = "Internal server error"
	}

	respondWithJSON(w, status, ErrorResponse{
		Error:   message,
		Code:    errorCode(err),
		Details: errorDetails(err),
	})
}
