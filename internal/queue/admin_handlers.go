package queue

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/kopi-pos/internal/common"
)

// AdminHandler lets admins inspect and replay dead notification deliveries.
type AdminHandler struct {
	Store    Store
	Queue    Enqueuer
	PageSize int
	Logger   zerolog.Logger
}

type dlqItem struct {
	ID             uuid.UUID       `json:"id"`
	Kind           string          `json:"kind"`
	IdempotencyKey string          `json:"idempotencyKey"`
	Attempts       int             `json:"attempts"`
	LastError      *string         `json:"lastError,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
	Payload        json.RawMessage `json:"payload"`
}

// ListDLQ returns dead letters, newest first.
func (h *AdminHandler) ListDLQ(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Store == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "queue store unavailable", nil)
		return
	}
	kind := sanitizeKind(strings.TrimSpace(r.URL.Query().Get("kind")))
	page := common.PageFrom(r, h.pageSize(), 200)

	entries, err := h.Store.ListQueueDlq(r.Context(), kind, page.Size, page.Offset())
	if err != nil {
		h.Logger.Error().Err(err).Msg("list dlq")
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "failed to list dead letters", nil)
		return
	}
	total, err := h.Store.CountQueueDlq(r.Context(), kind)
	if err != nil {
		h.Logger.Error().Err(err).Msg("count dlq")
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "failed to count dead letters", nil)
		return
	}

	items := make([]dlqItem, 0, len(entries))
	for _, entry := range entries {
		items = append(items, dlqItem{
			ID:             entry.ID,
			Kind:           entry.Kind,
			IdempotencyKey: entry.IdempotencyKey,
			Attempts:       entry.Attempts,
			LastError:      entry.LastError,
			CreatedAt:      entry.CreatedAt,
			Payload:        json.RawMessage(entry.Payload),
		})
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": items, "pagination": page.Meta(int(total))})
}

// Replay moves one dead letter back onto its queue with a fresh attempt budget.
func (h *AdminHandler) Replay(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Store == nil || h.Queue.R == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "queue dependencies unavailable", nil)
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid id", nil)
		return
	}
	entry, err := h.Store.GetQueueDlq(r.Context(), id)
	if err != nil {
		if errors.Is(err, ErrDLQNotFound) {
			common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "dead letter not found", nil)
			return
		}
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "failed to load dead letter", nil)
		return
	}
	if err := h.requeue(r.Context(), entry); err != nil {
		h.Logger.Error().Err(err).Str("id", id.String()).Msg("replay dlq")
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "failed to replay", nil)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"replayed": id})
}

// Stats reports ready, in-flight and dead counts for a kind.
func (h *AdminHandler) Stats(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Store == nil || h.Queue.R == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "queue dependencies unavailable", nil)
		return
	}
	kind := sanitizeKind(strings.TrimSpace(r.URL.Query().Get("kind")))
	if kind == "" {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "kind is required", nil)
		return
	}
	ctx := r.Context()
	keys := keyspace(h.Queue.Prefix)
	ready, err := h.Queue.R.ZCard(ctx, keys.ready(kind)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "queue unavailable", nil)
		return
	}
	inflight, err := h.Queue.R.ZCard(ctx, keys.processing(kind)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "queue unavailable", nil)
		return
	}
	dead, err := h.Store.CountQueueDlq(ctx, kind)
	if err != nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "failed to count dead letters", nil)
		return
	}
	QueueDepth.WithLabelValues(kind).Set(float64(ready))
	QueueDLQSize.WithLabelValues(kind).Set(float64(dead))
	common.JSON(w, http.StatusOK, map[string]any{
		"kind":       kind,
		"ready":      ready,
		"processing": inflight,
		"dlq":        dead,
	})
}

func (h *AdminHandler) requeue(ctx context.Context, entry DLQEntry) error {
	// A replay must not be swallowed by the dedup window of the original key.
	key := entry.IdempotencyKey
	if key != "" {
		key += ":replay:" + entry.ID.String()
	}
	if err := h.Queue.Enqueue(ctx, Task{Kind: entry.Kind, Payload: entry.Payload, IdempotencyKey: key}); err != nil {
		return err
	}
	if err := h.Store.DeleteQueueDlq(ctx, entry.ID); err != nil {
		return err
	}
	QueueDLQSize.WithLabelValues(entry.Kind).Dec()
	return nil
}

func (h *AdminHandler) pageSize() int {
	if h.PageSize <= 0 {
		return 50
	}
	return h.PageSize
}
