package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-shop-orders/internal/catalog"
	kafkax "github.com/ariefcatur/go-shop-orders/internal/kafka"
	"github.com/ariefcatur/go-shop-orders/internal/orders"
	"github.com/ariefcatur/go-shop-orders/internal/policy"
	"github.com/ariefcatur/go-shop-orders/internal/redisx"
)

type stubStore struct {
	createFn func(ctx context.Context, userID string, items []orders.ItemInput) (orders.Order, error)
	cancelFn func(ctx context.Context, caller policy.Caller, orderID string) (orders.Order, error)
	getFn    func(ctx context.Context, caller policy.Caller, orderID string) (orders.Order, error)
	listFn   func(ctx context.Context, caller policy.Caller) ([]orders.Order, error)
}

func (s *stubStore) CreateOrder(ctx context.Context, userID string, items []orders.ItemInput) (orders.Order, error) {
	return s.createFn(ctx, userID, items)
}
func (s *stubStore) CancelOrder(ctx context.Context, caller policy.Caller, orderID string) (orders.Order, error) {
	return s.cancelFn(ctx, caller, orderID)
}
func (s *stubStore) GetOrder(ctx context.Context, caller policy.Caller, orderID string) (orders.Order, error) {
	return s.getFn(ctx, caller, orderID)
}
func (s *stubStore) ListOrders(ctx context.Context, caller policy.Caller) ([]orders.Order, error) {
	return s.listFn(ctx, caller)
}

func newTestHandler(store OrderStore) *chi.Mux {
	h := &OrdersHandler{
		Store: store,
		Gate:  policy.OwnerOrAdmin{},
		// unstarted producers just buffer; no broker is contacted
		ProducerCreated:   kafkax.NewProducer([]string{"localhost:9092"}, orders.TopicOrderCreated, 64),
		ProducerCancelled: kafkax.NewProducer([]string{"localhost:9092"}, orders.TopicOrderCancelled, 64),
		// unreachable redis: cache writes are best-effort, reads fall back
		Redis:   redisx.New("127.0.0.1:1"),
		Service: "test-api",
		Log:     zap.NewNop(),
	}
	r := chi.NewRouter()
	h.Register(r)
	return r
}

func doReq(r http.Handler, method, path, body, userID, role string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if userID != "" {
		req.Header.Set("X-User-Id", userID)
	}
	if role != "" {
		req.Header.Set("X-User-Role", role)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func sampleOrder() orders.Order {
	return orders.Order{
		ID:         "o1",
		UserID:     "u1",
		Status:     orders.StatusPending,
		TotalPrice: decimal.RequireFromString("30.00"),
		Items: []orders.OrderItem{{
			ID:                  "i1",
			OrderID:             "o1",
			ProductSlug:         "widget",
			ProductNameSnapshot: "Widget",
			Quantity:            3,
			PriceAtTime:         decimal.RequireFromString("10.00"),
		}},
	}
}

func TestCreateOrderCreated(t *testing.T) {
	store := &stubStore{
		createFn: func(_ context.Context, userID string, items []orders.ItemInput) (orders.Order, error) {
			assert.Equal(t, "u1", userID)
			require.Len(t, items, 1)
			return sampleOrder(), nil
		},
	}
	r := newTestHandler(store)

	w := doReq(r, http.MethodPost, "/orders",
		`{"user_id":"u1","items":[{"product_slug":"widget","quantity":3}]}`, "u1", "")
	require.Equal(t, http.StatusCreated, w.Code)

	var got map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, "pending", got["status"])
	assert.Equal(t, "30.00", got["total_price"])
	assert.Len(t, got["order_items"], 1)
}

func TestCreateOrderForbiddenForOtherUser(t *testing.T) {
	store := &stubStore{
		createFn: func(context.Context, string, []orders.ItemInput) (orders.Order, error) {
			t.Fatal("store must not be reached")
			return orders.Order{}, nil
		},
	}
	r := newTestHandler(store)

	w := doReq(r, http.MethodPost, "/orders",
		`{"user_id":"u1","items":[{"product_slug":"widget","quantity":1}]}`, "u2", "")
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestCreateOrderAdminMayActForOthers(t *testing.T) {
	store := &stubStore{
		createFn: func(context.Context, string, []orders.ItemInput) (orders.Order, error) {
			return sampleOrder(), nil
		},
	}
	r := newTestHandler(store)

	w := doReq(r, http.MethodPost, "/orders",
		`{"user_id":"u1","items":[{"product_slug":"widget","quantity":1}]}`, "admin-1", "admin")
	assert.Equal(t, http.StatusCreated, w.Code)
}

func TestCreateOrderBadRequests(t *testing.T) {
	store := &stubStore{
		createFn: func(context.Context, string, []orders.ItemInput) (orders.Order, error) {
			return orders.Order{}, orders.ErrEmptyOrder
		},
	}
	r := newTestHandler(store)

	w := doReq(r, http.MethodPost, "/orders", `{not json`, "u1", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doReq(r, http.MethodPost, "/orders", `{"items":[]}`, "u1", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doReq(r, http.MethodPost, "/orders", `{"user_id":"u1","items":[]}`, "u1", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreateOrderErrorMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		code int
	}{
		{"insufficient stock", &catalog.InsufficientStockError{Slug: "widget", Available: 2, Requested: 3}, http.StatusConflict},
		{"unknown products", &orders.ProductsNotFoundError{Slugs: []string{"nope"}}, http.StatusNotFound},
		{"zero quantity", &orders.InvalidQuantityError{Slug: "widget", Quantity: 0}, http.StatusBadRequest},
		{"storage failure stays opaque", assert.AnError, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := &stubStore{
				createFn: func(context.Context, string, []orders.ItemInput) (orders.Order, error) {
					return orders.Order{}, tc.err
				},
			}
			r := newTestHandler(store)
			w := doReq(r, http.MethodPost, "/orders",
				`{"user_id":"u1","items":[{"product_slug":"widget","quantity":3}]}`, "u1", "")
			assert.Equal(t, tc.code, w.Code)
		})
	}
}

func TestCreateOrderInsufficientStockDetail(t *testing.T) {
	store := &stubStore{
		createFn: func(context.Context, string, []orders.ItemInput) (orders.Order, error) {
			return orders.Order{}, &catalog.InsufficientStockError{Slug: "widget", Available: 2, Requested: 3}
		},
	}
	r := newTestHandler(store)

	w := doReq(r, http.MethodPost, "/orders",
		`{"user_id":"u1","items":[{"product_slug":"widget","quantity":3}]}`, "u1", "")
	require.Equal(t, http.StatusConflict, w.Code)

	var got map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, "widget", got["slug"])
	assert.Equal(t, float64(2), got["available"])
	assert.Equal(t, float64(3), got["requested"])
}

func TestCancelOrder(t *testing.T) {
	o := sampleOrder()
	o.Status = orders.StatusCancelled
	store := &stubStore{
		cancelFn: func(_ context.Context, caller policy.Caller, orderID string) (orders.Order, error) {
			assert.Equal(t, "u1", caller.UserID)
			assert.Equal(t, "o1", orderID)
			return o, nil
		},
	}
	r := newTestHandler(store)

	w := doReq(r, http.MethodPost, "/orders/o1/cancel", "", "u1", "")
	require.Equal(t, http.StatusOK, w.Code)

	var got map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, "cancelled", got["status"])
}

func TestCancelOrderTerminalConflict(t *testing.T) {
	store := &stubStore{
		cancelFn: func(context.Context, policy.Caller, string) (orders.Order, error) {
			return orders.Order{}, &orders.InvalidTransitionError{From: orders.StatusCancelled, To: orders.StatusCancelled}
		},
	}
	r := newTestHandler(store)

	w := doReq(r, http.MethodPost, "/orders/o1/cancel", "", "u1", "")
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestCancelOrderAnonymousForbidden(t *testing.T) {
	store := &stubStore{
		cancelFn: func(context.Context, policy.Caller, string) (orders.Order, error) {
			t.Fatal("store must not be reached")
			return orders.Order{}, nil
		},
	}
	r := newTestHandler(store)

	w := doReq(r, http.MethodPost, "/orders/o1/cancel", "", "", "")
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestGetOrderHidesOthers(t *testing.T) {
	store := &stubStore{
		getFn: func(_ context.Context, caller policy.Caller, _ string) (orders.Order, error) {
			if caller.UserID != "u1" && !caller.Admin {
				return orders.Order{}, orders.ErrNotFound
			}
			return sampleOrder(), nil
		},
	}
	r := newTestHandler(store)

	assert.Equal(t, http.StatusOK, doReq(r, http.MethodGet, "/orders/o1", "", "u1", "").Code)
	assert.Equal(t, http.StatusNotFound, doReq(r, http.MethodGet, "/orders/o1", "", "u2", "").Code)
	assert.Equal(t, http.StatusOK, doReq(r, http.MethodGet, "/orders/o1", "", "u2", "admin").Code)
}

func TestGetOrderStatusFallsBackToStore(t *testing.T) {
	store := &stubStore{
		getFn: func(context.Context, policy.Caller, string) (orders.Order, error) {
			return sampleOrder(), nil
		},
	}
	r := newTestHandler(store)

	w := doReq(r, http.MethodGet, "/orders/o1/status", "", "u1", "")
	require.Equal(t, http.StatusOK, w.Code)

	var got map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, "pending", got["status"])
}

func TestListOrdersEmptyIsArray(t *testing.T) {
	store := &stubStore{
		listFn: func(context.Context, policy.Caller) ([]orders.Order, error) {
			return nil, nil
		},
	}
	r := newTestHandler(store)

	w := doReq(r, http.MethodGet, "/orders", "", "u1", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "[]\n", w.Body.String())
}
