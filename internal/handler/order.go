package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"

	"github.com/vasiliy-maslov/online-store/internal/idempotency"
	"github.com/vasiliy-maslov/online-store/internal/identity"
	"github.com/vasiliy-maslov/online-store/internal/order"
)

const (
	maxRequestBodyBytes  = 1 << 20
	maxIdempotencyKeyLen = 255

	IdempotencyKeyHeader     = "Idempotency-Key"
	IdempotentReplayedHeader = "Idempotent-Replayed"
)

type PlaceOrderItemRequest struct {
	ID       string `json:"id" validate:"required,uuid"`
	Quantity int    `json:"quantity" validate:"gt=0"`
}

type PlaceOrderRequest struct {
	Items []PlaceOrderItemRequest `json:"items" validate:"dive"`
}

type PlaceOrderResponse struct {
	OrderID uuid.UUID `json:"orderId"`
	Total   string    `json:"total"`
}

type OrderLineResponse struct {
	ID          uuid.UUID `json:"id"`
	ProductID   uuid.UUID `json:"productId"`
	ProductName string    `json:"productName"`
	Quantity    int       `json:"quantity"`
	UnitPrice   string    `json:"unitPrice"`
	Subtotal    string    `json:"subtotal"`
}

type OrderResponse struct {
	ID       uuid.UUID           `json:"id"`
	Total    string              `json:"total"`
	PlacedAt time.Time           `json:"placedAt"`
	Lines    []OrderLineResponse `json:"lines"`
}

type OrderHandler struct {
	service  order.Service
	validate *validator.Validate
	guard    *idempotency.Guard
}

// NewOrderHandler builds the order endpoints. guard may be nil, in which case
// Idempotency-Key headers are ignored.
func NewOrderHandler(service order.Service, guard *idempotency.Guard) *OrderHandler {
	return &OrderHandler{
		service:  service,
		validate: validator.New(),
		guard:    guard,
	}
}

func (h *OrderHandler) RegisterRoutes(router chi.Router) {
	router.Post("/orders", h.handlePlaceOrder)
	router.Get("/orders", h.handleListOrders)
	router.Get("/orders/{id}", h.handleGetOrder)
}

func (h *OrderHandler) handlePlaceOrder(w http.ResponseWriter, r *http.Request) {
	buyer, ok := identity.FromContext(r.Context())
	if !ok {
		respondWithErrorCode(w, http.StatusUnauthorized, "Authentication required", codeUnauthenticated)
		return
	}

	var requestPayload PlaceOrderRequest

	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBodyBytes))
	decoder.DisallowUnknownFields()

	if err := decoder.Decode(&requestPayload); err != nil {
		log.Warn().Err(err).Stringer("buyer_id", buyer.BuyerID).Msg("Failed to decode order request body")
		respondWithErrorCode(w, http.StatusBadRequest, fmt.Sprintf("Invalid request payload: %v", err), codeInvalidRequest)
		return
	}

	// Тело должно содержать ровно один JSON-объект
	if err := decoder.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		log.Warn().Err(err).Stringer("buyer_id", buyer.BuyerID).Msg("Order request body has trailing data")
		respondWithErrorCode(w, http.StatusBadRequest, "Invalid request payload: unexpected data after JSON object", codeInvalidRequest)
		return
	}

	if err := h.validate.Struct(requestPayload); err != nil {
		var validationErrors validator.ValidationErrors
		if errors.As(err, &validationErrors) {
			respondWithJSON(w, http.StatusBadRequest, ValidationErrorResponse{
				Error:   "Validation failed",
				Code:    validationCode(validationErrors),
				Details: formatValidationErrors(validationErrors),
			})
		} else {
			log.Error().Err(err).Type("validation_error_type", err).Msg("Unexpected error type during validation")
			respondWithError(w, http.StatusInternalServerError, "Internal validation error")
		}
		return
	}

	items := make([]order.RequestedItem, 0, len(requestPayload.Items))
	for _, item := range requestPayload.Items {
		productID, err := uuid.FromString(item.ID)
		if err != nil {
			respondWithErrorCode(w, http.StatusBadRequest, fmt.Sprintf("Invalid product id %q", item.ID), codeInvalidProductID)
			return
		}
		items = append(items, order.RequestedItem{ProductID: productID, Quantity: item.Quantity})
	}

	idemKey, fingerprint, proceed := h.beginIdempotent(w, r, buyer.BuyerID, items)
	if !proceed {
		return
	}

	placed, err := h.service.PlaceOrder(r.Context(), buyer.BuyerID, items)
	if err != nil {
		if idemKey != "" {
			h.guard.Release(context.WithoutCancel(r.Context()), idemKey)
		}
		respondWithServiceError(w, err)
		return
	}

	body, err := json.Marshal(PlaceOrderResponse{
		OrderID: placed.ID,
		Total:   placed.TotalAmount.StringFixed(2),
	})
	if err != nil {
		log.Error().Err(err).Stringer("order_id", placed.ID).Msg("Failed to marshal order response")
		respondWithError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	if idemKey != "" {
		// The order exists even if the client is gone; record it regardless.
		h.guard.Complete(context.WithoutCancel(r.Context()), idemKey, fingerprint, http.StatusCreated, body)
	}

	w.Header().Set("Location", "/orders/"+placed.ID.String())
	writeJSON(w, http.StatusCreated, body)
}

// beginIdempotent reserves the request's Idempotency-Key. It returns
// proceed=false once it has written the response itself.
func (h *OrderHandler) beginIdempotent(w http.ResponseWriter, r *http.Request, buyerID uuid.UUID, items []order.RequestedItem) (key, fingerprint string, proceed bool) {
	clientKey := r.Header.Get(IdempotencyKeyHeader)
	if clientKey == "" || h.guard == nil {
		return "", "", true
	}

	if len(clientKey) > maxIdempotencyKeyLen {
		respondWithErrorCode(w, http.StatusBadRequest,
			fmt.Sprintf("%s must be at most %d characters", IdempotencyKeyHeader, maxIdempotencyKeyLen), codeInvalidRequest)
		return "", "", false
	}

	key = idempotency.Key(buyerID, clientKey)
	fingerprint = cartFingerprint(items)

	rec, err := h.guard.Begin(r.Context(), key, fingerprint)
	switch {
	case errors.Is(err, idempotency.ErrInFlight):
		respondWithErrorCode(w, http.StatusConflict, err.Error(), codeIdempotencyInFlight)
		return "", "", false
	case errors.Is(err, idempotency.ErrFingerprintMismatch):
		respondWithErrorCode(w, http.StatusUnprocessableEntity, err.Error(), codeIdempotencyMismatch)
		return "", "", false
	case rec != nil:
		log.Info().Str("idempotency_key", clientKey).Stringer("buyer_id", buyerID).Msg("Replaying stored order response")
		w.Header().Set(IdempotentReplayedHeader, "true")
		var stored PlaceOrderResponse
		if err := json.Unmarshal(rec.Body, &stored); err == nil && stored.OrderID != uuid.Nil {
			w.Header().Set("Location", "/orders/"+stored.OrderID.String())
		}
		writeJSON(w, rec.StatusCode, rec.Body)
		return "", "", false
	}

	return key, fingerprint, true
}

func cartFingerprint(items []order.RequestedItem) string {
	parts := make([]string, 0, len(items))
	for _, item := range items {
		parts = append(parts, item.ProductID.String()+"x"+strconv.Itoa(item.Quantity))
	}
	return idempotency.Fingerprint(parts...)
}

func (h *OrderHandler) handleListOrders(w http.ResponseWriter, r *http.Request) {
	buyerID := identity.BuyerID(r.Context())

	orders, err := h.service.ListOrders(r.Context(), buyerID)
	if err != nil {
		log.Error().Err(err).Stringer("buyer_id", buyerID).Msg("Failed to list orders via service")
		respondWithServiceError(w, err)
		return
	}

	responsePayload := make([]OrderResponse, 0, len(orders))
	for i := range orders {
		responsePayload = append(responsePayload, toOrderResponse(&orders[i]))
	}

	respondWithJSON(w, http.StatusOK, responsePayload)
}

func (h *OrderHandler) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	idParam := chi.URLParam(r, "id")
	orderID, err := uuid.FromString(idParam)
	if err != nil {
		log.Warn().Err(err).Str("order_id", idParam).Msg("Failed to parse id parameter from URL")
		respondWithErrorCode(w, http.StatusBadRequest, "Invalid id parameter", codeInvalidRequest)
		return
	}

	buyerID := identity.BuyerID(r.Context())

	found, err := h.service.GetOrder(r.Context(), buyerID, orderID)
	if err != nil {
		respondWithServiceError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, toOrderResponse(found))
}

func toOrderResponse(o *order.Order) OrderResponse {
	lines := make([]OrderLineResponse, 0, len(o.Lines))
	for _, l := range o.Lines {
		lines = append(lines, OrderLineResponse{
			ID:          l.ID,
			ProductID:   l.ProductID,
			ProductName: l.ProductName,
			Quantity:    l.Quantity,
			UnitPrice:   l.UnitPriceAtPurchase.StringFixed(2),
			Subtotal:    l.Subtotal().StringFixed(2),
		})
	}

	return OrderResponse{
		ID:       o.ID,
		Total:    o.TotalAmount.StringFixed(2),
		PlacedAt: o.PlacedAt,
		Lines:    lines,
	}
}
