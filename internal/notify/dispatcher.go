package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah-isme/kopi-pos/internal/events"
	"github.com/noah-isme/kopi-pos/internal/lock"
	"github.com/noah-isme/kopi-pos/internal/obs"
	"github.com/noah-isme/kopi-pos/internal/queue"
)

// TaskKind is the queue kind carrying WhatsApp messages.
const TaskKind = "whatsapp-send"

// TaskQueue accepts background tasks.
type TaskQueue interface {
	Enqueue(ctx context.Context, t queue.Task) error
}

// WhatsAppNotifier turns customer-facing order events into queued WhatsApp
// messages. It never sends inline; delivery happens in the worker.
type WhatsAppNotifier struct {
	Queue       TaskQueue
	MaxAttempts int
	Logger      zerolog.Logger
}

// Notify implements events.Notifier.
func (n *WhatsAppNotifier) Notify(ctx context.Context, ev events.Event) error {
	if n == nil || n.Queue == nil {
		return nil
	}
	var payload events.OrderPayload
	if err := ev.Decode(&payload); err != nil {
		return fmt.Errorf("notify: decode %s payload: %w", ev.Topic, err)
	}
	if !payload.NotifyCustomer {
		return nil
	}
	to := NormalizePhone(payload.WhatsApp)
	if to == "" {
		obs.Inc(obs.NotificationDeliveriesTotal, "whatsapp", "skipped")
		n.Logger.Debug().Str("order_id", payload.OrderID).Msg("no usable whatsapp number")
		return nil
	}
	body, ok := FormatMessage(ev.Topic, payload)
	if !ok {
		return nil
	}
	raw, err := json.Marshal(Message{To: to, Body: body, OrderID: payload.OrderID, Topic: ev.Topic})
	if err != nil {
		return err
	}
	return n.Queue.Enqueue(ctx, queue.Task{
		Kind:           TaskKind,
		Payload:        raw,
		IdempotencyKey: DeliveryKey(payload.OrderID, ev.Topic),
		MaxAttempts:    n.MaxAttempts,
	})
}

// DeliveryKey identifies one customer message: one per order per topic.
func DeliveryKey(orderID, topic string) string {
	return orderID + ":" + topic
}

// DeliveryWorker sends queued WhatsApp messages. The lock keeps two workers
// from sending the same message concurrently and the sent log keeps a
// redelivered task from messaging the customer twice.
type DeliveryWorker struct {
	Sender  Sender
	Locker  lock.Locker
	LockTTL time.Duration
	Sent    SentLog
	SentTTL time.Duration
	Logger  zerolog.Logger
}

// Handle processes one queue task. A returned error schedules a retry.
func (w DeliveryWorker) Handle(ctx context.Context, task queue.Task) error {
	if w.Sender == nil {
		return fmt.Errorf("notify: sender not configured")
	}
	var msg Message
	if err := json.Unmarshal(task.Payload, &msg); err != nil {
		// Poison message: retrying cannot fix it.
		w.Logger.Error().Err(err).Str("key", task.IdempotencyKey).Msg("drop undecodable whatsapp task")
		obs.Inc(obs.NotificationDeliveriesTotal, "whatsapp", "dropped")
		return nil
	}
	key := task.IdempotencyKey
	if key == "" {
		key = DeliveryKey(msg.OrderID, msg.Topic)
	}
	ttl := w.LockTTL
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return w.Locker.WithLock(ctx, "wa:"+key, ttl, func(ctx context.Context) error {
		return w.deliver(ctx, key, task.Attempt, msg)
	})
}

func (w DeliveryWorker) deliver(ctx context.Context, key string, attempt int, msg Message) error {
	logger := w.Logger.With().Str("order_id", msg.OrderID).Str("topic", msg.Topic).Int("attempt", attempt).Logger()
	guarded := w.Sent != nil && w.SentTTL > 0
	if guarded {
		fresh, err := w.Sent.Claim(ctx, key, w.SentTTL)
		if err != nil {
			return err
		}
		if !fresh {
			obs.Inc(obs.NotificationDeliveriesTotal, "whatsapp", "duplicate")
			logger.Debug().Msg("whatsapp message already sent")
			return nil
		}
	}
	if err := w.Sender.Send(ctx, msg); err != nil {
		if guarded {
			if relErr := w.Sent.Release(context.WithoutCancel(ctx), key); relErr != nil {
				logger.Error().Err(relErr).Msg("release whatsapp sent mark")
			}
		}
		obs.Inc(obs.NotificationDeliveriesTotal, "whatsapp", "failed")
		logger.Warn().Err(err).Msg("whatsapp delivery failed")
		return err
	}
	obs.Inc(obs.NotificationDeliveriesTotal, "whatsapp", "sent")
	logger.Info().Msg("whatsapp message sent")
	return nil
}
