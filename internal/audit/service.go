package audit

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand/v2"
	"net/http"
	"strings"
	"time"

	"github.com/noah-isme/kopi-pos/internal/common"
	"github.com/noah-isme/kopi-pos/internal/obs"
)

// Entry is one recorded staff action.
type Entry struct {
	ID           int64           `json:"id"`
	ActorID      string          `json:"actorId,omitempty"`
	ActorRole    string          `json:"actorRole,omitempty"`
	BranchID     string          `json:"branchId,omitempty"`
	Action       string          `json:"action"`
	ResourceType string          `json:"resourceType"`
	ResourceID   string          `json:"resourceId,omitempty"`
	Method       string          `json:"method"`
	Path         string          `json:"path"`
	Status       int             `json:"status"`
	IP           string          `json:"ip,omitempty"`
	RequestID    string          `json:"requestId,omitempty"`
	Metadata     json.RawMessage `json:"metadata,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`
}

// Store defines the database operations required for auditing.
type Store interface {
	InsertAuditLog(ctx context.Context, e Entry) error
	ListAuditLogs(ctx context.Context, branchID string, limit, offset int) ([]Entry, error)
}

// Service persists audit logs for staff actions.
type Service struct {
	Store        Store
	Enabled      bool
	SamplingRate float64
}

// Record persists an audit entry for req when auditing is enabled.
func (s Service) Record(ctx context.Context, p *common.Principal, action, resourceType, resourceID string, req *http.Request, status int, metadata []byte) error {
	if !s.Enabled {
		return nil
	}
	if s.SamplingRate > 0 && s.SamplingRate < 1 && rand.Float64() > s.SamplingRate {
		return nil
	}
	if req == nil {
		return errors.New("audit: request is required")
	}
	if s.Store == nil {
		return errors.New("audit: store not configured")
	}

	route := obs.RoutePatternFromContext(req.Context())
	if route == "" {
		route = strings.TrimSpace(req.URL.Path)
	}
	if status == 0 {
		status = http.StatusOK
	}
	entry := Entry{
		Action:       buildAction(action, req.Method, route),
		ResourceType: buildResource(resourceType, route),
		ResourceID:   strings.TrimSpace(resourceID),
		Method:       req.Method,
		Path:         req.URL.Path,
		Status:       status,
		IP:           common.ClientIP(req),
		RequestID:    strings.TrimSpace(req.Header.Get("X-Request-ID")),
		Metadata:     toJSON(metadata, req.URL.RawQuery),
	}
	if p != nil {
		entry.ActorID = p.UserID
		entry.ActorRole = p.Role
		entry.BranchID = p.BranchID
	}
	return s.Store.InsertAuditLog(ctx, entry)
}

func buildAction(action, method, route string) string {
	if trimmed := strings.TrimSpace(action); trimmed != "" {
		return trimmed
	}
	if route == "" {
		route = "/"
	}
	return strings.ToUpper(strings.TrimSpace(method)) + " " + route
}

// buildResource derives "vouchers" from "/api/v1/admin/vouchers/{id}".
func buildResource(resourceType, route string) string {
	if trimmed := strings.TrimSpace(resourceType); trimmed != "" {
		return trimmed
	}
	var segments []string
	for _, seg := range strings.Split(strings.Trim(route, "/ "), "/") {
		if seg == "" || strings.HasPrefix(seg, "{") {
			continue
		}
		segments = append(segments, seg)
	}
	if len(segments) >= 2 && segments[0] == "api" && segments[1] == "v1" {
		segments = segments[2:]
	}
	if len(segments) > 0 && segments[0] == "admin" {
		segments = segments[1:]
	}
	if len(segments) == 0 {
		return "unknown"
	}
	return strings.Join(segments, ".")
}

func toJSON(metadata []byte, query string) json.RawMessage {
	if len(metadata) > 0 && json.Valid(metadata) {
		return metadata
	}
	if strings.TrimSpace(query) == "" {
		return nil
	}
	data, err := json.Marshal(map[string]string{"query": query})
	if err != nil {
		return nil
	}
	return data
}
