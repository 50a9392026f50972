package order

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/noah-isme/kopi-pos/internal/common"
	"github.com/noah-isme/kopi-pos/internal/pricing"
)

// Handler exposes order creation, status and kitchen endpoints.
type Handler struct {
	Svc    *Service
	Logger zerolog.Logger
}

// CreateCash handles POST /orders/cash for authenticated staff.
func (h *Handler) CreateCash(w http.ResponseWriter, r *http.Request) {
	p, ok := common.PrincipalFrom(r.Context())
	if !ok {
		common.WriteError(w, ErrUnauthenticated)
		return
	}
	var req CashRequest
	if err := common.DecodeJSON(r, &req); err != nil {
		common.WriteError(w, err)
		return
	}
	o, err := h.Svc.CreateCash(r.Context(), p, req)
	if err != nil {
		h.fail(w, err, "create cash order")
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": o})
}

// CreateOnline handles POST /orders/online from the customer web app.
func (h *Handler) CreateOnline(w http.ResponseWriter, r *http.Request) {
	var req OnlineRequest
	if err := common.DecodeJSON(r, &req); err != nil {
		common.WriteError(w, err)
		return
	}
	checkout, err := h.Svc.CreateOnline(r.Context(), req)
	if err != nil {
		h.fail(w, err, "create online order")
		return
	}
	common.JSON(w, http.StatusOK, checkout)
}

type advanceRequest struct {
	Status string `json:"status"`
}

// Advance handles PATCH /orders/{id}/advance. The body is optional; without
// one the order moves to its next kitchen step.
func (h *Handler) Advance(w http.ResponseWriter, r *http.Request) {
	p, ok := common.PrincipalFrom(r.Context())
	if !ok {
		common.WriteError(w, ErrUnauthenticated)
		return
	}
	var req advanceRequest
	if r.ContentLength > 0 {
		if err := common.DecodeJSON(r, &req); err != nil {
			common.WriteError(w, err)
			return
		}
	}
	target := Status(strings.ToUpper(strings.TrimSpace(req.Status)))
	if target != "" && !target.Valid() {
		common.WriteError(w, common.Validation("unknown status", nil))
		return
	}
	o, err := h.Svc.Advance(r.Context(), p, chi.URLParam(r, "id"), target)
	if err != nil {
		h.fail(w, err, "advance order")
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": o})
}

type publicOrder struct {
	ID             string             `json:"id"`
	Status         Status             `json:"status"`
	Items          []pricing.LineItem `json:"items"`
	Subtotal       int64              `json:"subtotal"`
	DiscountAmount int64              `json:"discountAmount"`
	TotalAmount    int64              `json:"totalAmount"`
	OrderType      pricing.OrderType  `json:"orderType"`
	SnapToken      *string            `json:"snapToken,omitempty"`
	CreatedAt      time.Time          `json:"createdAt"`
}

// Get handles GET /orders/{id}. It is public: the order id is an unguessable
// token the customer already holds, so contact details are left out.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	o, err := h.Svc.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, err, "load order")
		return
	}
	view := publicOrder{
		ID:             o.ID,
		Status:         o.Status,
		Items:          o.Items,
		Subtotal:       o.Subtotal,
		DiscountAmount: o.DiscountAmount,
		TotalAmount:    o.TotalAmount,
		OrderType:      o.OrderType,
		CreatedAt:      o.CreatedAt,
	}
	if o.Status == StatusPending {
		view.SnapToken = o.SnapToken
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": view})
}

// Kitchen handles GET /kitchen/orders.
func (h *Handler) Kitchen(w http.ResponseWriter, r *http.Request) {
	p, ok := common.PrincipalFrom(r.Context())
	if !ok {
		common.WriteError(w, ErrUnauthenticated)
		return
	}
	limit := common.QueryInt(r, "limit", 100)
	if limit > 200 {
		limit = 200
	}
	orders, err := h.Svc.Kitchen(r.Context(), p, r.URL.Query().Get("branchId"), limit)
	if err != nil {
		h.fail(w, err, "list kitchen orders")
		return
	}
	if orders == nil {
		orders = []Order{}
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": orders})
}

func (h *Handler) fail(w http.ResponseWriter, err error, op string) {
	if !common.IsAppError(err) {
		h.Logger.Error().Err(err).Str("op", op).Msg("order request failed")
	}
	common.WriteError(w, err)
}
