package order

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/kopi-pos/internal/common"
	"github.com/noah-isme/kopi-pos/internal/obs"
	"github.com/noah-isme/kopi-pos/internal/payment"
)

const defaultWebhookBody = 64 << 10

// WebhookHandler receives gateway payment notifications.
//
// Malformed bodies are rejected before the signature is checked, and nothing
// reads order state until the signature verifies. Notifications for unknown
// orders and repeats are acknowledged so the gateway stops retrying.
type WebhookHandler struct {
	Svc       *Service
	Verifier  payment.Verifier
	Replay    *redis.Client
	ReplayTTL time.Duration
	MaxBody   int64
	Logger    zerolog.Logger
}

// Handle processes POST /payments/notification.
func (h WebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "PAYMENT_NOT_CONFIGURED", "webhook unavailable", nil)
		return
	}
	limit := h.MaxBody
	if limit <= 0 {
		limit = defaultWebhookBody
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, limit))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "INVALID_BODY", "unable to read payload", nil)
		return
	}
	n, err := payment.ParseNotification(body)
	if err != nil {
		obs.Inc(obs.PaymentWebhookTotal, "malformed")
		common.JSONError(w, http.StatusBadRequest, "WEBHOOK_MALFORMED", err.Error(), nil)
		return
	}
	if !h.Verifier.Verify(n) {
		obs.Inc(obs.PaymentWebhookTotal, "invalid_signature")
		h.Logger.Warn().Str("order_id", n.OrderID).Str("ip", common.ClientIP(r)).Msg("payment notification signature mismatch")
		common.JSONError(w, http.StatusForbidden, "INVALID_SIGNATURE", "signature verification failed", nil)
		return
	}

	ctx := r.Context()
	replayKey := "wh:midtrans:" + common.Digest(string(body))
	if h.seen(ctx, replayKey) {
		obs.Inc(obs.PaymentWebhookTotal, string(ResultDuplicate))
		common.JSON(w, http.StatusOK, map[string]any{"status": ResultDuplicate})
		return
	}

	rec, err := h.Svc.ApplyNotification(ctx, n)
	if errors.Is(err, ErrAmountMismatch) {
		// Retrying cannot fix the amount; acknowledge and leave the order
		// pending for reconciliation or expiry.
		obs.Inc(obs.PaymentWebhookTotal, string(ResultAmountMismatch))
		h.Logger.Error().Err(err).
			Str("order_id", n.OrderID).
			Str("gross_amount", n.GrossAmount).
			Msg("payment notification amount mismatch")
		common.JSON(w, http.StatusOK, map[string]any{"status": ResultAmountMismatch})
		return
	}
	if err != nil {
		if common.IsAppError(err) {
			obs.Inc(obs.PaymentWebhookTotal, "rejected")
			h.Logger.Warn().Err(err).Str("order_id", n.OrderID).Msg("payment notification rejected")
			common.WriteError(w, err)
			return
		}
		obs.Inc(obs.PaymentWebhookTotal, "error")
		h.Logger.Error().Err(err).Str("order_id", n.OrderID).Msg("apply payment notification")
		common.JSONError(w, http.StatusInternalServerError, "WEBHOOK_FAILED", "failed to process notification", nil)
		return
	}
	h.remember(ctx, replayKey)
	obs.Inc(obs.PaymentWebhookTotal, string(rec.Result))
	h.Logger.Info().
		Str("order_id", rec.OrderID).
		Str("transaction_status", n.TransactionStatus).
		Str("fraud_status", n.FraudStatus).
		Str("result", string(rec.Result)).
		Msg("payment notification processed")
	common.JSON(w, http.StatusOK, map[string]any{"status": rec.Result})
}

// seen reports whether an identical body was already processed. Redis errors
// fall through to the transactional status check.
func (h WebhookHandler) seen(ctx context.Context, key string) bool {
	if h.Replay == nil || h.ReplayTTL <= 0 {
		return false
	}
	n, err := h.Replay.Exists(ctx, key).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		h.Logger.Warn().Err(err).Msg("webhook replay lookup failed")
		return false
	}
	return n > 0
}

func (h WebhookHandler) remember(ctx context.Context, key string) {
	if h.Replay == nil || h.ReplayTTL <= 0 {
		return
	}
	if err := h.Replay.Set(ctx, key, "1", h.ReplayTTL).Err(); err != nil {
		h.Logger.Warn().Err(err).Msg("webhook replay store failed")
	}
}
