package audit

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/noah-isme/kopi-pos/internal/common"
	"github.com/noah-isme/kopi-pos/internal/obs"
)

type stubStore struct {
	entries        []Entry
	receivedBranch string
	receivedLimit  int
	receivedOffset int
}

func (s *stubStore) InsertAuditLog(_ context.Context, e Entry) error {
	s.entries = append(s.entries, e)
	return nil
}

func (s *stubStore) ListAuditLogs(_ context.Context, branchID string, limit, offset int) ([]Entry, error) {
	s.receivedBranch, s.receivedLimit, s.receivedOffset = branchID, limit, offset
	return []Entry{{Action: "TEST", Method: http.MethodPost}}, nil
}

func TestServiceRecord(t *testing.T) {
	store := &stubStore{}
	svc := Service{Store: store, Enabled: true, SamplingRate: 1}

	req := httptest.NewRequest(http.MethodPost, "https://pos.test/api/v1/admin/vouchers?dry=1", nil)
	req.Header.Set("X-Request-ID", "req-123")
	req.RemoteAddr = "10.0.0.2:54321"
	req = req.WithContext(obs.WithRoutePattern(req.Context(), "/api/v1/admin/vouchers"))
	p := &common.Principal{UserID: "admin-1", Role: common.RoleAdmin}

	if err := svc.Record(req.Context(), p, "", "", "", req, http.StatusCreated, nil); err != nil {
		t.Fatalf("record: %v", err)
	}
	if len(store.entries) != 1 {
		t.Fatalf("expected one entry, got %d", len(store.entries))
	}
	got := store.entries[0]
	if got.ActorID != "admin-1" || got.ActorRole != common.RoleAdmin {
		t.Fatalf("unexpected actor: %+v", got)
	}
	if got.Action != "POST /api/v1/admin/vouchers" {
		t.Fatalf("unexpected action: %s", got.Action)
	}
	if got.ResourceType != "vouchers" {
		t.Fatalf("unexpected resource type: %s", got.ResourceType)
	}
	if got.IP != "10.0.0.2" || got.RequestID != "req-123" {
		t.Fatalf("expected ip and request id capture, got %+v", got)
	}
	var meta map[string]string
	if err := json.Unmarshal(got.Metadata, &meta); err != nil || meta["query"] != "dry=1" {
		t.Fatalf("unexpected metadata %s: %v", got.Metadata, err)
	}
}

func TestServiceDisabled(t *testing.T) {
	store := &stubStore{}
	svc := Service{Store: store}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders/cash", nil)
	if err := svc.Record(req.Context(), nil, "", "", "", req, 200, nil); err != nil {
		t.Fatalf("record: %v", err)
	}
	if len(store.entries) != 0 {
		t.Fatal("disabled service must not write")
	}
}

func TestBuildResource(t *testing.T) {
	cases := map[string]string{
		"/api/v1/orders/{id}/advance":         "orders.advance",
		"/api/v1/admin/queue/dlq/{id}/replay": "queue.dlq.replay",
		"/api/v1/admin/vouchers/{id}":         "vouchers",
		"":                                    "unknown",
	}
	for route, want := range cases {
		if got := buildResource("", route); got != want {
			t.Errorf("buildResource(%q) = %q, want %q", route, got, want)
		}
	}
}

func TestMiddlewareRecordsMutations(t *testing.T) {
	store := &stubStore{}
	rec := HTTPRecorder{Service: Service{Store: store, Enabled: true}}

	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			ctx := common.WithPrincipal(req.Context(), common.Principal{UserID: "barista-1", Role: common.RoleBarista, BranchID: "jkt-kemang"})
			next.ServeHTTP(w, req.WithContext(ctx))
		})
	})
	mw := rec.Middleware(HTTPConfig{Action: "order.advance", ResourceType: "order", ResourceIDParam: "id"})
	r.With(mw).Patch("/orders/{id}/advance", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusConflict)
	})
	r.With(mw).Get("/orders/{id}", func(w http.ResponseWriter, _ *http.Request) {})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/orders/o-1", nil))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPatch, "/orders/o-1/advance", strings.NewReader("{}")))

	if len(store.entries) != 1 {
		t.Fatalf("expected only the mutation to be recorded, got %d", len(store.entries))
	}
	got := store.entries[0]
	if got.ResourceID != "o-1" || got.Status != http.StatusConflict || got.BranchID != "jkt-kemang" {
		t.Fatalf("unexpected entry: %+v", got)
	}
}

func TestHandlerList(t *testing.T) {
	store := &stubStore{}
	h := Handler{Store: store}
	req := httptest.NewRequest(http.MethodGet, "/audit?page=2&limit=25&branch=bdg-dago", nil)
	rr := httptest.NewRecorder()
	h.List(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if store.receivedLimit != 25 || store.receivedOffset != 25 || store.receivedBranch != "bdg-dago" {
		t.Fatalf("unexpected params: %s %d/%d", store.receivedBranch, store.receivedLimit, store.receivedOffset)
	}
}
