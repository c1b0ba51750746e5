package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-shop-orders/internal/catalog"
	kafkax "github.com/ariefcatur/go-shop-orders/internal/kafka"
	"github.com/ariefcatur/go-shop-orders/internal/orders"
	"github.com/ariefcatur/go-shop-orders/internal/policy"
	"github.com/ariefcatur/go-shop-orders/internal/redisx"
)

type OrderStore interface {
	CreateOrder(ctx context.Context, userID string, items []orders.ItemInput) (orders.Order, error)
	CancelOrder(ctx context.Context, caller policy.Caller, orderID string) (orders.Order, error)
	GetOrder(ctx context.Context, caller policy.Caller, orderID string) (orders.Order, error)
	ListOrders(ctx context.Context, caller policy.Caller) ([]orders.Order, error)
}

type OrdersHandler struct {
	Store             OrderStore
	Gate              policy.Gate
	ProducerCreated   *kafkax.Producer
	ProducerCancelled *kafkax.Producer
	Redis             *redis.Client
	Service           string
	Log               *zap.Logger
}

type CreateOrderReq struct {
	UserID string             `json:"user_id"`
	Items  []orders.ItemInput `json:"items"`
}

func (h *OrdersHandler) Register(r *chi.Mux) {
	r.Post("/orders", h.createOrder)
	r.Post("/orders/{id}/cancel", h.cancelOrder)
	r.Get("/orders", h.listOrders)
	r.Get("/orders/{id}", h.getOrder)
	r.Get("/orders/{id}/status", h.getOrderStatus)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps the domain taxonomy onto HTTP. Unexpected storage errors
// stay opaque: the transaction already rolled back and retrying blindly could
// double-reserve.
func (h *OrdersHandler) writeError(w http.ResponseWriter, err error) {
	var (
		invalidQty    *orders.InvalidQuantityError
		notFound      *orders.ProductsNotFoundError
		shortStock    *catalog.InsufficientStockError
		badTransition *orders.InvalidTransitionError
	)
	switch {
	case errors.Is(err, orders.ErrEmptyOrder), errors.As(err, &invalidQty):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.As(err, &notFound):
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "products not found", "slugs": notFound.Slugs})
	case errors.Is(err, orders.ErrNotFound), errors.Is(err, catalog.ErrProductNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
	case errors.As(err, &shortStock):
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":     "insufficient stock",
			"slug":      shortStock.Slug,
			"available": shortStock.Available,
			"requested": shortStock.Requested,
		})
	case errors.As(err, &badTransition):
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	case errors.Is(err, policy.ErrDenied):
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "forbidden"})
	default:
		h.Log.Error("order operation failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}

func (h *OrdersHandler) createOrder(w http.ResponseWriter, r *http.Request) {
	var req CreateOrderReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if req.UserID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing user_id"})
		return
	}

	caller := callerFrom(r)
	if err := h.Gate.Authorize(caller, policy.ActionPlaceOrder, req.UserID); err != nil {
		h.writeError(w, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	o, err := h.Store.CreateOrder(ctx, req.UserID, req.Items)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.cacheStatus(ctx, o)
	h.publish(h.ProducerCreated, orders.EventOrderCreated, o, r.Header.Get("X-Request-Id"))

	writeJSON(w, http.StatusCreated, o)
}

func (h *OrdersHandler) cancelOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")
	if orderID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing id"})
		return
	}

	caller := callerFrom(r)
	if err := h.Gate.Authorize(caller, policy.ActionCancelOrder, caller.UserID); err != nil {
		h.writeError(w, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	o, err := h.Store.CancelOrder(ctx, caller, orderID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.cacheStatus(ctx, o)
	h.publish(h.ProducerCancelled, orders.EventOrderCancelled, o, r.Header.Get("X-Request-Id"))

	writeJSON(w, http.StatusOK, o)
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")
	if orderID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing id"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	o, err := h.Store.GetOrder(ctx, callerFrom(r), orderID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

// getOrderStatus serves from the redis cache when it can; the cached blob
// carries the owner id so the visibility rule matches the store's.
func (h *OrdersHandler) getOrderStatus(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")
	caller := callerFrom(r)

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	key := fmt.Sprintf(redisx.KeyOrderStatus, orderID)
	if s, err := h.Redis.Get(ctx, key).Result(); err == nil && s != "" {
		var snap orders.StatusSnapshot
		if json.Unmarshal([]byte(s), &snap) == nil && (caller.Admin || caller.UserID == snap.UserID) {
			writeJSON(w, http.StatusOK, map[string]any{"status": snap.Status})
			return
		}
	}

	o, err := h.Store.GetOrder(ctx, caller, orderID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.cacheStatus(ctx, o)
	writeJSON(w, http.StatusOK, map[string]any{"status": o.Status})
}

func (h *OrdersHandler) listOrders(w http.ResponseWriter, r *http.Request) {
	caller := callerFrom(r)
	if err := h.Gate.Authorize(caller, policy.ActionViewOrders, caller.UserID); err != nil {
		h.writeError(w, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	os, err := h.Store.ListOrders(ctx, caller)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if os == nil {
		os = []orders.Order{}
	}
	writeJSON(w, http.StatusOK, os)
}

func (h *OrdersHandler) cacheStatus(ctx context.Context, o orders.Order) {
	key := fmt.Sprintf(redisx.KeyOrderStatus, o.ID)
	blob := kafkax.MustMarshal(orders.StatusSnapshot{Status: o.Status, UserID: o.UserID})
	_ = h.Redis.Set(ctx, key, blob, redisx.TTLStatusCache).Err()
}

func (h *OrdersHandler) publish(p *kafkax.Producer, eventType string, o orders.Order, traceID string) {
	items := make([]orders.ItemSnapshot, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, orders.ItemSnapshot{
			ProductSlug: it.ProductSlug,
			Quantity:    it.Quantity,
			PriceAtTime: it.PriceAtTime,
		})
	}

	ev := orders.Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      h.Service,
		TraceID:       traceID,
		CorrelationID: o.ID,
	}
	switch eventType {
	case orders.EventOrderCreated:
		ev.Payload = kafkax.MustMarshal(orders.OrderCreatedPayload{
			OrderID: o.ID, UserID: o.UserID, Items: items, TotalPrice: o.TotalPrice,
		})
	case orders.EventOrderCancelled:
		ev.Payload = kafkax.MustMarshal(orders.OrderCancelledPayload{
			OrderID: o.ID, UserID: o.UserID, Items: items,
		})
	}

	p.Publish(orders.PartitionKey(o.ID), kafkax.MustMarshal(ev),
		kafkago.Header{Key: "x-event-type", Value: []byte(eventType)},
		kafkago.Header{Key: "x-event-version", Value: []byte("1")},
	)
}
