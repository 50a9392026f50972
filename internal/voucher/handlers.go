package voucher

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/noah-isme/kopi-pos/internal/common"
	"github.com/noah-isme/kopi-pos/internal/obs"
)

// Handler exposes voucher validation and administrative endpoints.
type Handler struct {
	Svc    *Service
	Store  Store
	Logger zerolog.Logger
}

type validateRequest struct {
	Code      string `json:"code" validate:"required"`
	CartTotal *int64 `json:"cartTotal" validate:"required,gte=0"`
	Items     []Item `json:"items" validate:"omitempty,max=100,dive"`
	BranchID  string `json:"branchId"`
	WhatsApp  string `json:"whatsapp"`
}

type validateResponse struct {
	Valid    bool     `json:"valid"`
	Discount int64    `json:"discount"`
	Voucher  *Voucher `json:"voucher,omitempty"`
	Message  string   `json:"message,omitempty"`
	Reason   string   `json:"reason,omitempty"`
}

// Validate answers whether a code applies to the submitted cart. Rejections
// are reported in the body with status 200; only malformed input is a 400.
func (h *Handler) Validate(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "voucher service not configured", nil)
		return
	}
	var req validateRequest
	if err := common.DecodeJSON(r, &req); err != nil {
		common.WriteError(w, err)
		return
	}
	cart := Cart{
		Total:    *req.CartTotal,
		Items:    req.Items,
		BranchID: strings.TrimSpace(req.BranchID),
		Customer: strings.TrimSpace(req.WhatsApp),
	}
	decision, err := h.Svc.Validate(r.Context(), req.Code, cart)
	if err != nil {
		h.Logger.Error().Err(err).Msg("voucher validation failed")
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "failed to validate voucher", nil)
		return
	}
	resp := validateResponse{Valid: decision.Valid, Discount: decision.Discount}
	if decision.Valid {
		resp.Voucher = decision.Voucher
		obs.Inc(obs.VoucherValidationsTotal, "valid")
	} else {
		resp.Message = decision.Reason()
		resp.Reason = ReasonCode(decision.Err)
		obs.Inc(obs.VoucherValidationsTotal, resp.Reason)
	}
	common.JSON(w, http.StatusOK, resp)
}

type voucherPayload struct {
	Code                 string    `json:"code" validate:"required,max=64"`
	Description          string    `json:"description" validate:"max=255"`
	Type                 Type      `json:"type" validate:"required,oneof=PERCENTAGE FIXED_AMOUNT FREE_ITEM BUY_X_GET_Y"`
	Value                int64     `json:"value" validate:"gte=0"`
	MinPurchase          int64     `json:"minPurchase" validate:"gte=0"`
	MaxDiscount          *int64    `json:"maxDiscount" validate:"omitempty,gte=0"`
	UsageLimit           *int      `json:"usageLimit" validate:"omitempty,gte=0"`
	PerUserLimit         *int      `json:"perUserLimit" validate:"omitempty,gte=0"`
	ValidFrom            time.Time `json:"validFrom" validate:"required"`
	ValidUntil           time.Time `json:"validUntil" validate:"required"`
	Active               *bool     `json:"active"`
	ApplicableItems      []string  `json:"applicableItems"`
	ApplicableCategories []string  `json:"applicableCategories"`
	ApplicableBranches   []string  `json:"applicableBranches"`
	HappyHourStart       string    `json:"happyHourStart"`
	HappyHourEnd         string    `json:"happyHourEnd"`
	BuyQuantity          int       `json:"buyQuantity" validate:"gte=0"`
	GetQuantity          int       `json:"getQuantity" validate:"gte=0"`
}

func (p voucherPayload) toVoucher() (Voucher, error) {
	code := NormalizeCode(p.Code)
	if code == "" {
		return Voucher{}, errors.New("code is required")
	}
	if p.Type == TypePercentage && p.Value > 100 {
		return Voucher{}, errors.New("percentage value must be between 0 and 100")
	}
	if p.MaxDiscount != nil && p.Type != TypePercentage {
		return Voucher{}, errors.New("maxDiscount only applies to PERCENTAGE vouchers")
	}
	if !p.ValidUntil.After(p.ValidFrom) {
		return Voucher{}, errors.New("validUntil must be after validFrom")
	}
	start, end := strings.TrimSpace(p.HappyHourStart), strings.TrimSpace(p.HappyHourEnd)
	if (start == "") != (end == "") {
		return Voucher{}, errors.New("happyHourStart and happyHourEnd must be set together")
	}
	if start != "" {
		if _, ok := ParseClock(start); !ok {
			return Voucher{}, errors.New("happyHourStart must be HH:MM")
		}
		if _, ok := ParseClock(end); !ok {
			return Voucher{}, errors.New("happyHourEnd must be HH:MM")
		}
	}
	active := true
	if p.Active != nil {
		active = *p.Active
	}
	v := Voucher{
		Code:                 code,
		Description:          strings.TrimSpace(p.Description),
		Type:                 p.Type,
		Value:                p.Value,
		MinPurchase:          p.MinPurchase,
		MaxDiscount:          p.MaxDiscount,
		UsageLimit:           p.UsageLimit,
		PerUserLimit:         p.PerUserLimit,
		ValidFrom:            p.ValidFrom,
		ValidUntil:           p.ValidUntil,
		Active:               active,
		ApplicableItems:      compact(p.ApplicableItems),
		ApplicableCategories: compact(p.ApplicableCategories),
		ApplicableBranches:   compact(p.ApplicableBranches),
		HappyHourStart:       start,
		HappyHourEnd:         end,
	}
	if p.Type == TypeBuyXGetY {
		v.BuyQuantity, v.GetQuantity = p.BuyQuantity, p.GetQuantity
		if v.BuyQuantity == 0 {
			v.BuyQuantity = 1
		}
		if v.GetQuantity == 0 {
			v.GetQuantity = 1
		}
	}
	return v, nil
}

// Create inserts a new voucher.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	if h.Store == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "voucher store not configured", nil)
		return
	}
	var payload voucherPayload
	if err := common.DecodeJSON(r, &payload); err != nil {
		common.WriteError(w, err)
		return
	}
	v, err := payload.toVoucher()
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
		return
	}
	created, err := h.Store.CreateVoucher(r.Context(), v)
	if err != nil {
		h.writeStoreError(w, err, "failed to create voucher")
		return
	}
	common.JSON(w, http.StatusCreated, map[string]any{"data": created})
}

// Update replaces the mutable attributes of the voucher identified by id.
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	if h.Store == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "voucher store not configured", nil)
		return
	}
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		common.JSONError(w, http.StatusBadRequest, "VALIDATION_ERROR", "id is required", nil)
		return
	}
	var payload voucherPayload
	if err := common.DecodeJSON(r, &payload); err != nil {
		common.WriteError(w, err)
		return
	}
	v, err := payload.toVoucher()
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
		return
	}
	v.ID = id
	updated, err := h.Store.UpdateVoucher(r.Context(), v)
	if err != nil {
		h.writeStoreError(w, err, "failed to update voucher")
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": updated})
}

// List returns vouchers ordered by creation time, newest first.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	if h.Store == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "voucher store not configured", nil)
		return
	}
	page := common.PageFrom(r, 20, 100)
	items, total, err := h.Store.ListVouchers(r.Context(), page.Size, page.Offset())
	if err != nil {
		h.writeStoreError(w, err, "failed to list vouchers")
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{
		"data":       items,
		"pagination": page.Meta(total),
	})
}

func (h *Handler) writeStoreError(w http.ResponseWriter, err error, message string) {
	switch {
	case errors.Is(err, ErrDuplicateCode):
		common.JSONError(w, http.StatusConflict, "CONFLICT", "voucher code already exists", nil)
	case errors.Is(err, ErrNotFound):
		common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "voucher not found", nil)
	default:
		h.Logger.Error().Err(err).Msg(message)
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", message, nil)
	}
}

func compact(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
