// Package jobs runs delayed order maintenance on asynq.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/noah-isme/kopi-pos/internal/obs"
)

// TypeOrderExpire is the asynq task type that closes an unpaid online order.
const TypeOrderExpire = "order:expire"

// DefaultQueue is where order tasks are enqueued unless configured otherwise.
const DefaultQueue = "orders"

type expirePayload struct {
	OrderID string `json:"orderId"`
}

// NewExpireTask builds the task that expires orderID.
func NewExpireTask(orderID string) (*asynq.Task, error) {
	if strings.TrimSpace(orderID) == "" {
		return nil, errors.New("jobs: order id is required")
	}
	raw, err := json.Marshal(expirePayload{OrderID: orderID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeOrderExpire, raw), nil
}

// Scheduler enqueues expiry tasks. It satisfies order.ExpiryScheduler.
type Scheduler struct {
	Client   *asynq.Client
	Queue    string
	MaxRetry int
}

// ScheduleExpiry arranges for orderID to be expired after the delay. A second
// call for the same order is a no-op.
func (s *Scheduler) ScheduleExpiry(ctx context.Context, orderID string, after time.Duration) error {
	if s == nil || s.Client == nil {
		return errors.New("jobs: asynq client not configured")
	}
	task, err := NewExpireTask(orderID)
	if err != nil {
		return err
	}
	queue := s.Queue
	if queue == "" {
		queue = DefaultQueue
	}
	retries := s.MaxRetry
	if retries <= 0 {
		retries = 5
	}
	_, err = s.Client.EnqueueContext(ctx, task,
		asynq.ProcessIn(after),
		asynq.TaskID("expire:"+orderID),
		asynq.Queue(queue),
		asynq.MaxRetry(retries),
		asynq.Timeout(30*time.Second),
	)
	if errors.Is(err, asynq.ErrTaskIDConflict) || errors.Is(err, asynq.ErrDuplicateTask) {
		return nil
	}
	return err
}

// Expirer closes a pending order once its payment window passed.
type Expirer interface {
	Expire(ctx context.Context, orderID string) (bool, error)
}

// ExpiryHandler processes TypeOrderExpire tasks.
type ExpiryHandler struct {
	Orders Expirer
	Logger zerolog.Logger
}

// ProcessTask implements asynq.Handler.
func (h *ExpiryHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var p expirePayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil || strings.TrimSpace(p.OrderID) == "" {
		return fmt.Errorf("jobs: bad %s payload: %w", TypeOrderExpire, asynq.SkipRetry)
	}
	expired, err := h.Orders.Expire(ctx, p.OrderID)
	if err != nil {
		return fmt.Errorf("jobs: expire order %s: %w", p.OrderID, err)
	}
	if expired {
		h.Logger.Info().Str("order_id", p.OrderID).Msg("unpaid order expired")
	} else {
		h.Logger.Debug().Str("order_id", p.OrderID).Msg("order settled before expiry")
	}
	return nil
}

// NewServeMux routes every job type to its handler.
func NewServeMux(expiry *ExpiryHandler) *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.Handle(TypeOrderExpire, expiry)
	return mux
}

// NewServer builds the asynq server the worker runs.
func NewServer(opt asynq.RedisConnOpt, concurrency int, queue string, logger zerolog.Logger) *asynq.Server {
	if concurrency <= 0 {
		concurrency = 5
	}
	if queue == "" {
		queue = DefaultQueue
	}
	return asynq.NewServer(opt, asynq.Config{
		Concurrency:     concurrency,
		Queues:          map[string]int{queue: 1},
		ShutdownTimeout: 10 * time.Second,
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			obs.Inc(obs.JobFailuresTotal, task.Type())
			logger.Error().Err(err).Str("type", task.Type()).Msg("job failed")
		}),
	})
}
