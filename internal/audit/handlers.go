package audit

import (
	"net/http"

	"github.com/noah-isme/kopi-pos/internal/common"
)

// Handler exposes HTTP endpoints for working with audit logs.
type Handler struct {
	Store Store
}

// List returns a page of audit logs, newest first. The optional branch query
// parameter narrows the listing to one outlet.
func (h Handler) List(w http.ResponseWriter, r *http.Request) {
	if h.Store == nil {
		common.JSONError(w, http.StatusInternalServerError, "AUDIT_NOT_CONFIGURED", "audit store not configured", nil)
		return
	}
	page := common.PageFrom(r, 50, 200)
	rows, err := h.Store.ListAuditLogs(r.Context(), r.URL.Query().Get("branch"), page.Size, page.Offset())
	if err != nil {
		common.JSONError(w, http.StatusInternalServerError, "AUDIT_QUERY_FAILED", "unable to fetch audit logs", nil)
		return
	}
	if rows == nil {
		rows = []Entry{}
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": rows, "page": page.Number, "limit": page.Size})
}
