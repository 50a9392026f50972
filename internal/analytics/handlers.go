package analytics

import (
	"net/http"
	"strings"
	"time"

	"github.com/noah-isme/kopi-pos/internal/common"
)

// Handler exposes analytics read endpoints. Non-admin staff only see their
// own branch.
type Handler struct {
	Svc *Service
}

type window struct {
	branchID string
	from, to time.Time
}

func (h *Handler) parseWindow(w http.ResponseWriter, r *http.Request) (window, bool) {
	p, ok := common.PrincipalFrom(r.Context())
	if !ok {
		common.JSONError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "authentication required", nil)
		return window{}, false
	}
	query := r.URL.Query()
	branch := strings.TrimSpace(query.Get("branchId"))
	if !p.IsAdmin() {
		if branch == "" {
			branch = p.BranchID
		}
		if branch == "" || !p.CanAccessBranch(branch) {
			common.JSONError(w, http.StatusForbidden, "FORBIDDEN", "branch not accessible", nil)
			return window{}, false
		}
	}

	fromStr, toStr := query.Get("from"), query.Get("to")
	var (
		from time.Time
		to   time.Time
		err  error
	)
	if fromStr != "" && toStr != "" {
		from, err = time.Parse(time.RFC3339, fromStr)
		if err != nil {
			common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid from date", nil)
			return window{}, false
		}
		to, err = time.Parse(time.RFC3339, toStr)
		if err != nil {
			common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid to date", nil)
			return window{}, false
		}
	} else {
		days := h.Svc.DefaultRange
		if days <= 0 {
			days = 30
		}
		days = common.QueryInt(r, "days", days)
		to = h.Svc.now()
		from = to.AddDate(0, 0, -days)
	}
	if !from.Before(to) {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "from must be before to", nil)
		return window{}, false
	}
	return window{branchID: branch, from: from, to: to}, true
}

// Revenue returns daily revenue for the requested range.
func (h *Handler) Revenue(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "ANALYTICS_NOT_CONFIGURED", "analytics service not configured", nil)
		return
	}
	win, ok := h.parseWindow(w, r)
	if !ok {
		return
	}
	rows, err := h.Svc.Revenue(r.Context(), win.branchID, win.from, win.to)
	if err != nil {
		common.JSONError(w, http.StatusInternalServerError, "ANALYTICS_ERROR", "failed to load revenue", nil)
		return
	}
	var total int64
	for _, row := range rows {
		total += row.Revenue
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": rows, "total": total})
}

// TopItems returns the best-selling items for the requested range.
func (h *Handler) TopItems(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "ANALYTICS_NOT_CONFIGURED", "analytics service not configured", nil)
		return
	}
	win, ok := h.parseWindow(w, r)
	if !ok {
		return
	}
	limit := common.QueryInt(r, "limit", 10)
	if limit <= 0 || limit > 100 {
		limit = 10
	}
	rows, err := h.Svc.TopItems(r.Context(), win.branchID, win.from, win.to, limit)
	if err != nil {
		common.JSONError(w, http.StatusInternalServerError, "ANALYTICS_ERROR", "failed to load top items", nil)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": rows})
}
