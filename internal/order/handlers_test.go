package order

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/kopi-pos/internal/common"
)

func newRouter(f *fixture, p *common.Principal) http.Handler {
	h := &Handler{Svc: f.svc, Logger: zerolog.Nop()}
	r := chi.NewRouter()
	if p != nil {
		principal := *p
		r.Use(func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				next.ServeHTTP(w, r.WithContext(common.WithPrincipal(r.Context(), principal)))
			})
		})
	}
	r.Post("/orders/cash", h.CreateCash)
	r.Post("/orders/online", h.CreateOnline)
	r.Patch("/orders/{id}/advance", h.Advance)
	r.Get("/orders/{id}", h.Get)
	r.Get("/kitchen/orders", h.Kitchen)
	return r
}

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestCashEndpointStatusCodes(t *testing.T) {
	f := newFixture(t)
	body := map[string]any{"items": coffeeItems()}

	rec := do(t, newRouter(f, nil), http.MethodPost, "/orders/cash", body)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(t, newRouter(f, &common.Principal{UserID: "u", Role: common.RoleCashier}), http.MethodPost, "/orders/cash", body)
	require.Equal(t, http.StatusForbidden, rec.Code)

	router := newRouter(f, cashier())
	rec = do(t, router, http.MethodPost, "/orders/cash", map[string]any{"items": []any{}})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, router, http.MethodPost, "/orders/cash", body)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Data Order `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, StatusPaid, resp.Data.Status)
	require.Equal(t, int64(50000), resp.Data.TotalAmount)
}

func TestOnlineEndpoint(t *testing.T) {
	f := newFixture(t)
	router := newRouter(f, nil)

	rec := do(t, router, http.MethodPost, "/orders/online", map[string]any{
		"items":        coffeeItems(),
		"customerName": "Rina",
		"whatsapp":     "0812",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, router, http.MethodPost, "/orders/online", map[string]any{
		"branchId":     "branch-1",
		"items":        coffeeItems(),
		"customerName": "Rina",
		"whatsapp":     "0812",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var checkout Checkout
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &checkout))
	require.NotEmpty(t, checkout.OrderID)
	require.Equal(t, "snap-"+checkout.OrderID, checkout.Token)

	rec = do(t, router, http.MethodGet, "/orders/"+checkout.OrderID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"status":"PENDING"`)
	require.NotContains(t, rec.Body.String(), "0812")

	rec = do(t, router, http.MethodGet, "/orders/missing", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestOnlineEndpointGatewayFailure(t *testing.T) {
	f := newFixture(t)
	f.gateway.err = http.ErrHandlerTimeout
	rec := do(t, newRouter(f, nil), http.MethodPost, "/orders/online", map[string]any{
		"branchId":     "branch-1",
		"items":        coffeeItems(),
		"customerName": "Rina",
		"whatsapp":     "0812",
	})
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Contains(t, rec.Body.String(), "PAYMENT_GATEWAY_ERROR")
	require.Empty(t, f.store.orders)
}

func TestAdvanceEndpoint(t *testing.T) {
	f := newFixture(t)
	router := newRouter(f, cashier())
	rec := do(t, router, http.MethodPost, "/orders/cash", map[string]any{"items": coffeeItems()})
	require.Equal(t, http.StatusOK, rec.Code)
	var created struct {
		Data Order `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	path := "/orders/" + created.Data.ID + "/advance"

	rec = do(t, router, http.MethodPatch, path, map[string]any{"status": "COMPLETED"})
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, router, http.MethodPatch, path, map[string]any{"status": "BOGUS"})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, router, http.MethodPatch, path, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"status":"PREPARING"`)

	rec = do(t, newRouter(f, nil), http.MethodPatch, path, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(t, router, http.MethodGet, "/kitchen/orders", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), created.Data.ID)
}
