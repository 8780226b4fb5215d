package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/kart-store/internal/domain/admin"
	"github.com/xenking/kart-store/internal/domain/auth"
	"github.com/xenking/kart-store/internal/domain/cart"
	"github.com/xenking/kart-store/internal/domain/checkout"
	"github.com/xenking/kart-store/internal/domain/order"
	"github.com/xenking/kart-store/internal/domain/product"
	"github.com/xenking/kart-store/internal/domain/refund"
	"github.com/xenking/kart-store/internal/idempotency"
	"github.com/xenking/kart-store/internal/payments"
	"github.com/xenking/kart-store/internal/storage/memory"
	"github.com/xenking/kart-store/pkg/httpmiddleware"
)

const (
	adminKey    = "admin-secret"
	paymentsKey = "payments-secret"
)

var testPepper = []byte("test-pepper")

// --- Helpers ---

type testEnv struct {
	router http.Handler
	store  *memory.Store
}

func newTestEnv(t *testing.T, sandbox payments.SandboxConfig) *testEnv {
	t.Helper()

	store := memory.New()
	store.PutProduct(product.Product{ID: "1", Name: "Waffle", Price: decimal.RequireFromString("6.50"), Category: "Waffle", StockQuantity: 10})
	store.PutProduct(product.Product{ID: "2", Name: "Creme Brulee", Price: decimal.RequireFromString("7.00"), Category: "Creme", StockQuantity: 2})
	store.PutAPIKey(auth.APIKeyInfo{ID: "k-admin", KeyHash: auth.HashKey(testPepper, adminKey), Name: "admin", Scopes: []string{auth.ScopeAdmin}})
	store.PutAPIKey(auth.APIKeyInfo{ID: "k-pay", KeyHash: auth.HashKey(testPepper, paymentsKey), Name: "gateway", Scopes: []string{auth.ScopePayments}})

	adapter := payments.NewSandbox(sandbox)
	orders := store.Orders()
	svc := order.NewService(orders, adapter)
	refunds := refund.NewCoordinator(svc, adapter)

	h := New(Deps{
		Products: store.Catalog(),
		Checkout: checkout.NewService(
			cart.NewValidator(store.Catalog()),
			order.NewFactory(orders),
			svc,
			idempotency.NewMemory(idempotency.DefaultTTL),
		),
		Orders:        svc,
		Admin:         admin.NewSurface(auth.ScopeAuthorizer{Scope: auth.ScopeAdmin}, svc, refunds),
		Authenticator: auth.NewAuthenticator(store, testPepper),
	})
	r := chi.NewRouter()
	r.Use(httpmiddleware.RequestID())
	h.Routes(r)
	return &testEnv{router: r, store: store}
}

func (e *testEnv) do(t *testing.T, method, path, body string, header map[string]string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)

	var out map[string]any
	if strings.HasPrefix(strings.TrimSpace(rec.Body.String()), "{") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec, out
}

func (e *testEnv) stock(t *testing.T, id string) int {
	t.Helper()
	p, err := e.store.Catalog().GetByID(t.Context(), id)
	require.NoError(t, err)
	return p.StockQuantity
}

func (e *testEnv) checkout(t *testing.T, body string) string {
	t.Helper()
	rec, out := e.do(t, http.MethodPost, "/api/checkout", body, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return out["id"].(string)
}

func (e *testEnv) paidOrder(t *testing.T) string {
	t.Helper()
	id := e.checkout(t, `{"items":[{"productId":"1","quantity":2}]}`)
	rec, _ := e.do(t, http.MethodPost, "/api/orders/"+id+"/pay", "", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return id
}

func adminHeader() map[string]string { return map[string]string{apiKeyHeader: adminKey} }

// --- Catalog ---

func TestListProducts(t *testing.T) {
	env := newTestEnv(t, payments.SandboxConfig{})

	req := httptest.NewRequest(http.MethodGet, "/api/products", nil)
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var products []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &products))
	require.Len(t, products, 2)
	assert.Equal(t, "1", products[0]["id"])
	assert.InDelta(t, 6.5, products[0]["price"], 0.001)
	assert.EqualValues(t, 10, products[0]["stock"])
}

func TestGetProduct(t *testing.T) {
	env := newTestEnv(t, payments.SandboxConfig{})

	rec, out := env.do(t, http.MethodGet, "/api/products/2", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Creme Brulee", out["name"])

	rec, out = env.do(t, http.MethodGet, "/api/products/999", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", out["reason"])
	assert.Equal(t, rec.Header().Get(httpmiddleware.RequestIDHeader), out["requestId"])
}

// --- Checkout ---

func TestCheckout(t *testing.T) {
	env := newTestEnv(t, payments.SandboxConfig{})

	rec, out := env.do(t, http.MethodPost, "/api/checkout",
		`{"items":[{"productId":"1","quantity":2},{"productId":"2","quantity":1}],"customer":{"email":"a@b.c","name":"Ann"}}`, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	assert.Equal(t, "pending_payment", out["status"])
	assert.Equal(t, "unpaid", out["paymentStatus"])
	assert.InDelta(t, 20.0, out["total"], 0.001)
	assert.Len(t, out["items"], 2)
	assert.Equal(t, 8, env.stock(t, "1"))
	assert.Equal(t, 1, env.stock(t, "2"))
}

func TestCheckout_IdempotentReplay(t *testing.T) {
	env := newTestEnv(t, payments.SandboxConfig{})
	body := `{"items":[{"productId":"1","quantity":1}]}`
	hdr := map[string]string{idempotencyKeyHeader: "key-1"}

	rec, first := env.do(t, http.MethodPost, "/api/checkout", body, hdr)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec, second := env.do(t, http.MethodPost, "/api/checkout", body, hdr)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "true", rec.Header().Get(replayedHeader))
	assert.Equal(t, first["id"], second["id"])
	assert.Equal(t, 9, env.stock(t, "1"), "replay must not reserve again")
}

func TestCheckout_Errors(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		status int
		reason string
	}{
		{"insufficient stock", `{"items":[{"productId":"2","quantity":3}]}`, http.StatusConflict, "insufficient_stock"},
		{"invalid quantity", `{"items":[{"productId":"1","quantity":0}]}`, http.StatusUnprocessableEntity, "invalid_quantity"},
		{"unknown product", `{"items":[{"productId":"999","quantity":1}]}`, http.StatusUnprocessableEntity, "product_not_found"},
		{"empty cart", `{"items":[]}`, http.StatusUnprocessableEntity, "empty_cart"},
		{"malformed body", `{"items":`, http.StatusBadRequest, "bad_request"},
		{"wrong type", `{"items":[{"productId":1,"quantity":1}]}`, http.StatusBadRequest, "bad_request"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, payments.SandboxConfig{})
			rec, out := env.do(t, http.MethodPost, "/api/checkout", tt.body, nil)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.Equal(t, tt.reason, out["reason"])
			assert.EqualValues(t, tt.status, out["code"])
			assert.Equal(t, 10, env.stock(t, "1"))
			assert.Equal(t, 2, env.stock(t, "2"))
		})
	}
}

func TestCheckout_InsufficientStockDetails(t *testing.T) {
	env := newTestEnv(t, payments.SandboxConfig{})
	rec, out := env.do(t, http.MethodPost, "/api/checkout", `{"items":[{"productId":"2","quantity":5}]}`, nil)
	require.Equal(t, http.StatusConflict, rec.Code)

	details, ok := out["details"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "2", details["productId"])
	assert.EqualValues(t, 5, details["requested"])
	assert.EqualValues(t, 2, details["available"])
}

// --- Payment ---

func TestPayOrder(t *testing.T) {
	env := newTestEnv(t, payments.SandboxConfig{})
	id := env.checkout(t, `{"items":[{"productId":"1","quantity":1}]}`)

	rec, out := env.do(t, http.MethodPost, "/api/orders/"+id+"/pay", "", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "paid", out["status"])
	assert.Equal(t, "paid", out["paymentStatus"])
	assert.NotEmpty(t, out["paymentRef"])

	// Paying twice is an invalid transition.
	rec, out = env.do(t, http.MethodPost, "/api/orders/"+id+"/pay", "", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "invalid_transition", out["reason"])
}

func TestPayOrder_Declined(t *testing.T) {
	env := newTestEnv(t, payments.SandboxConfig{ChargeLimit: decimal.NewFromInt(5)})
	id := env.checkout(t, `{"items":[{"productId":"1","quantity":3}]}`)
	require.Equal(t, 7, env.stock(t, "1"))

	rec, out := env.do(t, http.MethodPost, "/api/orders/"+id+"/pay", "", nil)
	assert.Equal(t, http.StatusPaymentRequired, rec.Code)
	assert.Equal(t, "payment_declined", out["reason"])

	_, got := env.do(t, http.MethodGet, "/api/orders/"+id, "", nil)
	assert.Equal(t, "failed", got["paymentStatus"])
	assert.Equal(t, "pending_payment", got["status"])
	assert.Equal(t, 10, env.stock(t, "1"), "failed payment releases stock")
}

func TestGetOrder_NotFound(t *testing.T) {
	env := newTestEnv(t, payments.SandboxConfig{})
	rec, out := env.do(t, http.MethodGet, "/api/orders/missing", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "order_not_found", out["reason"])
}

func TestPaymentCallback(t *testing.T) {
	env := newTestEnv(t, payments.SandboxConfig{})
	id := env.checkout(t, `{"items":[{"productId":"1","quantity":1}]}`)
	body := `{"orderId":"` + id + `","externalRef":"ch_ext","status":"succeeded"}`

	rec, _ := env.do(t, http.MethodPost, "/api/payments/callback", body, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = env.do(t, http.MethodPost, "/api/payments/callback", body, adminHeader())
	assert.Equal(t, http.StatusForbidden, rec.Code)

	hdr := map[string]string{apiKeyHeader: paymentsKey}
	rec, out := env.do(t, http.MethodPost, "/api/payments/callback", body, hdr)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "paid", out["paymentStatus"])
	assert.Equal(t, "ch_ext", out["paymentRef"])

	// Replays are no-ops.
	rec, out = env.do(t, http.MethodPost, "/api/payments/callback", body, hdr)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 2, out["version"])
}

func TestPaymentCallback_Failed(t *testing.T) {
	env := newTestEnv(t, payments.SandboxConfig{})
	id := env.checkout(t, `{"items":[{"productId":"2","quantity":2}]}`)
	hdr := map[string]string{apiKeyHeader: paymentsKey}

	rec, out := env.do(t, http.MethodPost, "/api/payments/callback",
		`{"orderId":"`+id+`","status":"failed","message":"card expired"}`, hdr)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "failed", out["paymentStatus"])
	assert.Equal(t, 2, env.stock(t, "2"))

	rec, _ = env.do(t, http.MethodPost, "/api/payments/callback", `{"orderId":"`+id+`","status":"maybe"}`, hdr)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// A success arriving after the failure is reversed, not applied.
	rec, out = env.do(t, http.MethodPost, "/api/payments/callback",
		`{"orderId":"`+id+`","externalRef":"ch_late","status":"succeeded"}`, hdr)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "invalid_transition", out["reason"])

	req := httptest.NewRequest(http.MethodGet, "/api/admin/orders/"+id+"/refunds", nil)
	req.Header.Set(apiKeyHeader, adminKey)
	listRec := httptest.NewRecorder()
	env.router.ServeHTTP(listRec, req)
	require.Equal(t, http.StatusOK, listRec.Code)

	var refunds []map[string]any
	require.NoError(t, json.Unmarshal(listRec.Body.Bytes(), &refunds))
	require.Len(t, refunds, 1)
	assert.Contains(t, refunds[0]["reason"], "ch_late")
	assert.Equal(t, 2, env.stock(t, "2"), "stock is released once")
}

// --- Admin ---

func TestAdmin_Auth(t *testing.T) {
	env := newTestEnv(t, payments.SandboxConfig{})

	rec, out := env.do(t, http.MethodGet, "/api/admin/orders", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "unauthorized", out["reason"])

	rec, _ = env.do(t, http.MethodGet, "/api/admin/orders", "", map[string]string{apiKeyHeader: "wrong"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, out = env.do(t, http.MethodGet, "/api/admin/orders", "", map[string]string{apiKeyHeader: paymentsKey})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "forbidden", out["reason"])

	req := httptest.NewRequest(http.MethodGet, "/api/admin/orders", nil)
	req.AddCookie(&http.Cookie{Name: adminKeyCookie, Value: adminKey})
	cookieRec := httptest.NewRecorder()
	env.router.ServeHTTP(cookieRec, req)
	assert.Equal(t, http.StatusOK, cookieRec.Code)
}

func TestAdmin_ListOrders(t *testing.T) {
	env := newTestEnv(t, payments.SandboxConfig{})
	env.checkout(t, `{"items":[{"productId":"1","quantity":1}]}`)
	env.paidOrder(t)

	list := func(query string) (int, []map[string]any) {
		req := httptest.NewRequest(http.MethodGet, "/api/admin/orders"+query, nil)
		req.Header.Set(apiKeyHeader, adminKey)
		rec := httptest.NewRecorder()
		env.router.ServeHTTP(rec, req)
		var out []map[string]any
		if rec.Code == http.StatusOK {
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
		}
		return rec.Code, out
	}

	code, all := list("")
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, all, 2)

	code, paid := list("?status=paid")
	require.Equal(t, http.StatusOK, code)
	require.Len(t, paid, 1)
	assert.Equal(t, "paid", paid[0]["status"])

	code, page := list("?limit=1&offset=1")
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, page, 1)

	code, _ = list("?limit=abc")
	assert.Equal(t, http.StatusBadRequest, code)
	code, _ = list("?status=lost")
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestAdmin_ChangeStatus(t *testing.T) {
	env := newTestEnv(t, payments.SandboxConfig{})
	id := env.paidOrder(t)
	path := "/api/admin/orders/" + id + "/status"

	rec, out := env.do(t, http.MethodPost, path, `{"status":"delivered"}`, adminHeader())
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "invalid_transition", out["reason"])

	rec, out = env.do(t, http.MethodPost, path, `{"status":"teleported"}`, adminHeader())
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "invalid_target", out["reason"])

	for _, s := range []string{"processing", "shipped", "delivered"} {
		rec, out = env.do(t, http.MethodPost, path, `{"status":"`+s+`"}`, adminHeader())
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Equal(t, s, out["status"])
	}
	assert.Equal(t, 8, env.stock(t, "1"), "fulfilled stock stays out")

	_, out = env.do(t, http.MethodGet, "/api/admin/orders/"+id, "", adminHeader())
	assert.Len(t, out["transitions"], 6)
}

func TestAdmin_ChangePaymentStatus(t *testing.T) {
	env := newTestEnv(t, payments.SandboxConfig{})
	id := env.checkout(t, `{"items":[{"productId":"1","quantity":1}]}`)

	rec, out := env.do(t, http.MethodPost, "/api/admin/orders/"+id+"/payment-status",
		`{"paymentStatus":"refunded"}`, adminHeader())
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "invalid_transition", out["reason"])
}

func TestAdmin_Refunds(t *testing.T) {
	env := newTestEnv(t, payments.SandboxConfig{})
	id := env.paidOrder(t)
	path := "/api/admin/orders/" + id + "/refunds"

	rec, out := env.do(t, http.MethodPost, path, `{"amount":"5.00","reason":"damaged"}`, adminHeader())
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "partially_refunded", out["paymentStatus"])
	assert.InDelta(t, 13.0, out["total"], 0.001, "total is never rewritten")

	rec, out = env.do(t, http.MethodPost, path, `{"amount":8.01}`, adminHeader())
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "invalid_amount", out["reason"])

	rec, out = env.do(t, http.MethodPost, path, `{"amount":0}`, adminHeader())
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "invalid_amount", out["reason"])

	rec, out = env.do(t, http.MethodPost, path, `{"amount":"7.995"}`, adminHeader())
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "invalid_amount", out["reason"])

	rec, out = env.do(t, http.MethodPost, path, `{"amount":8}`, adminHeader())
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "refunded", out["paymentStatus"])

	rec, out = env.do(t, http.MethodPost, path, `{"amount":1}`, adminHeader())
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "invalid_amount", out["reason"])

	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.Header.Set(apiKeyHeader, adminKey)
	listRec := httptest.NewRecorder()
	env.router.ServeHTTP(listRec, req)
	require.Equal(t, http.StatusOK, listRec.Code)

	var refunds []map[string]any
	require.NoError(t, json.Unmarshal(listRec.Body.Bytes(), &refunds))
	require.Len(t, refunds, 2)
	assert.Equal(t, "damaged", refunds[0]["reason"])
	assert.Equal(t, "completed", refunds[1]["status"])
}

func TestAdmin_RefundDeclined(t *testing.T) {
	env := newTestEnv(t, payments.SandboxConfig{DeclineRefunds: true})
	id := env.paidOrder(t)

	rec, out := env.do(t, http.MethodPost, "/api/admin/orders/"+id+"/refunds", `{"amount":1}`, adminHeader())
	assert.Equal(t, http.StatusPaymentRequired, rec.Code)
	assert.Equal(t, "refund_declined", out["reason"])

	_, got := env.do(t, http.MethodGet, "/api/admin/orders/"+id, "", adminHeader())
	assert.Equal(t, "paid", got["paymentStatus"])
}

func TestAdmin_CancelOrder(t *testing.T) {
	env := newTestEnv(t, payments.SandboxConfig{})
	id := env.paidOrder(t)
	require.Equal(t, 8, env.stock(t, "1"))

	rec, out := env.do(t, http.MethodPost, "/api/admin/orders/"+id+"/cancel", "", adminHeader())
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "cancelled", out["status"])
	assert.Equal(t, "refunded", out["paymentStatus"])
	assert.Equal(t, 10, env.stock(t, "1"))

	rec, out = env.do(t, http.MethodPost, "/api/admin/orders/"+id+"/cancel", "", adminHeader())
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "invalid_transition", out["reason"])
}

func TestUnknownRoute(t *testing.T) {
	env := newTestEnv(t, payments.SandboxConfig{})
	rec, out := env.do(t, http.MethodGet, "/api/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", out["reason"])
	assert.Equal(t, rec.Header().Get(httpmiddleware.RequestIDHeader), out["requestId"])
}
