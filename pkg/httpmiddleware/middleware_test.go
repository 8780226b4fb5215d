package httpmiddleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/sdk/zctx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestWrap_Order(t *testing.T) {
	var calls []string
	tag := func(name string) Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls = append(calls, name)
				next.ServeHTTP(w, r)
			})
		}
	}

	h := Wrap(okHandler(), tag("outer"), tag("inner"))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, []string{"outer", "inner"}, calls)
}

func TestRecovery(t *testing.T) {
	h := Recovery()(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/checkout", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	var body map[string]any
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Equal(t, float64(500), body["code"])
}

func TestRequestID(t *testing.T) {
	var seen string
	h := RequestID()(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
	}))

	t.Run("Generated", func(t *testing.T) {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.NotEmpty(t, seen)
		assert.Equal(t, seen, w.Header().Get(RequestIDHeader))
	})
	t.Run("Reused", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(RequestIDHeader, "req-42")
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		assert.Equal(t, "req-42", seen)
	})
	t.Run("Invalid", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(RequestIDHeader, strings.Repeat("x", 200))
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		assert.Len(t, seen, 36)
	})
}

func TestLogRequests_ChiRoute(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)

	r := chi.NewRouter()
	r.Use(
		RequestID(),
		InjectLogger(zap.New(core)),
		LogRequests(ChiRoute),
	)
	r.Get("/api/orders/{id}", func(w http.ResponseWriter, r *http.Request) {
		zctx.From(r.Context()).Info("Handler")
		w.WriteHeader(http.StatusTeapot)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/orders/abc", nil))
	require.Equal(t, http.StatusTeapot, w.Code)

	handler := logs.FilterMessage("Handler").All()
	require.Len(t, handler, 1)
	assert.Equal(t, w.Header().Get(RequestIDHeader), handler[0].ContextMap()["request_id"])

	reqs := logs.FilterMessage("Request").All()
	require.Len(t, reqs, 1)
	fields := reqs[0].ContextMap()
	assert.Equal(t, "/api/orders/{id}", fields["route"])
	assert.Equal(t, "/api/orders/abc", fields["path"])
	assert.EqualValues(t, http.StatusTeapot, fields["status"])
}

func TestCORS(t *testing.T) {
	h := CORS(CORSConfig{
		AllowOrigins:     []string{"https://Admin.Example.com"},
		AllowHeaders:     []string{"Content-Type", "api_key"},
		AllowCredentials: true,
		MaxAge:           600,
	})(okHandler())

	t.Run("Preflight", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodOptions, "/api/admin/orders", nil)
		req.Header.Set("Origin", "https://admin.example.com")
		req.Header.Set("Access-Control-Request-Method", http.MethodPost)
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)

		assert.Equal(t, http.StatusNoContent, w.Code)
		assert.Equal(t, "https://Admin.Example.com", w.Header().Get("Access-Control-Allow-Origin"))
		assert.Equal(t, "Content-Type, api_key", w.Header().Get("Access-Control-Allow-Headers"))
		assert.Equal(t, "true", w.Header().Get("Access-Control-Allow-Credentials"))
		assert.Equal(t, "600", w.Header().Get("Access-Control-Max-Age"))
	})
	t.Run("DisallowedOrigin", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/products", nil)
		req.Header.Set("Origin", "https://evil.example.com")
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
		assert.Contains(t, w.Header().Values("Vary"), "Origin")
	})
	t.Run("Wildcard", func(t *testing.T) {
		h := CORS(CORSConfig{})(okHandler())
		req := httptest.NewRequest(http.MethodGet, "/api/products", nil)
		req.Header.Set("Origin", "https://shop.example.com")
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)

		assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	})
}
