package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/kopi-pos/internal/obs"
	"github.com/noah-isme/kopi-pos/internal/resilience"
)

const defaultMaxAttempts = 8

// Task is a unit of background work. Attempt is set by the worker and starts
// at 1 for the first delivery.
type Task struct {
	Kind           string
	Payload        []byte
	IdempotencyKey string
	MaxAttempts    int
	Delay          time.Duration
	Attempt        int
}

// keyspace names the Redis keys of one queue prefix.
type keyspace string

func (k keyspace) ready(kind string) string {
	if k == "" {
		return "queue:" + kind
	}
	return fmt.Sprintf("%s:queue:%s", k, kind)
}

func (k keyspace) processing(kind string) string {
	if k == "" {
		return fmt.Sprintf("queue:%s:processing", kind)
	}
	return fmt.Sprintf("%s:%s:processing", k, kind)
}

func (k keyspace) dedup(kind, key string) string {
	if k == "" {
		return fmt.Sprintf("queue:dedup:%s:%s", kind, key)
	}
	return fmt.Sprintf("%s:dedup:%s:%s", k, kind, key)
}

// Enqueuer publishes tasks to Redis sorted sets scored by due time.
type Enqueuer struct {
	R           *redis.Client
	Prefix      string
	DedupTTL    time.Duration
	MaxAttempts int
}

// Enqueue schedules t. A task carrying an IdempotencyKey is accepted once per
// dedup window; later duplicates return nil without being queued.
func (e Enqueuer) Enqueue(ctx context.Context, t Task) error {
	if e.R == nil {
		return errors.New("queue: redis client not configured")
	}
	kind := sanitizeKind(t.Kind)
	if kind == "" {
		return errors.New("queue: task kind is required")
	}
	msg := envelope{
		Kind:        kind,
		Key:         t.IdempotencyKey,
		Payload:     t.Payload,
		MaxAttempts: firstPositive(t.MaxAttempts, e.MaxAttempts, defaultMaxAttempts),
		AvailableAt: time.Now().Add(t.Delay).UnixNano(),
	}
	keys := keyspace(e.Prefix)

	if msg.Key != "" {
		ttl := e.DedupTTL
		if ttl <= 0 {
			ttl = 24 * time.Hour
		}
		fresh, err := e.R.SetNX(ctx, keys.dedup(kind, msg.Key), "1", ttl).Result()
		if err != nil {
			return err
		}
		if !fresh {
			return nil
		}
	}

	raw, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if err := e.R.ZAdd(ctx, keys.ready(kind), redis.Z{Score: float64(msg.AvailableAt), Member: raw}).Err(); err != nil {
		return err
	}
	QueueDepth.WithLabelValues(kind).Inc()
	return nil
}

// Worker consumes tasks of one kind. A delivered task sits in a processing set
// until acked; if the worker dies the visibility deadline returns it to the
// ready set. Tasks that exhaust MaxAttempts are written to Store.
type Worker struct {
	R                 *redis.Client
	Prefix            string
	Kind              string
	Concurrency       int
	VisibilityTimeout time.Duration
	HeartbeatInterval time.Duration
	SoftDeadline      time.Duration
	Handler           func(context.Context, Task) error
	RetryBase         time.Duration
	RetryJitter       float64
	Store             Store
	Logger            *zerolog.Logger
}

// Run processes tasks until ctx is cancelled, then waits for in-flight jobs.
func (w Worker) Run(ctx context.Context) error {
	if w.R == nil {
		return errors.New("queue: worker redis client not configured")
	}
	if w.Handler == nil {
		return errors.New("queue: worker handler not configured")
	}
	kind := sanitizeKind(w.Kind)
	if kind == "" {
		return errors.New("queue: worker kind is required")
	}
	if w.VisibilityTimeout <= 0 {
		w.VisibilityTimeout = 30 * time.Second
	}
	if w.RetryBase <= 0 {
		w.RetryBase = 200 * time.Millisecond
	}
	sem := make(chan struct{}, max(w.Concurrency, 1))
	var wg sync.WaitGroup
	keys := keyspace(w.Prefix)

	sweep := time.NewTicker(50 * time.Millisecond)
	defer sweep.Stop()

	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			return nil
		case <-sweep.C:
			if err := w.requeueExpired(ctx, keys, kind); err != nil && ctx.Err() == nil {
				return err
			}
		default:
		}

		msg, raw, ok, err := w.claim(ctx, keys, kind)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			return err
		}
		if !ok {
			pause(ctx, 50*time.Millisecond)
			continue
		}

		sem <- struct{}{}
		wg.Add(1)
		go func() {
			defer func() { <-sem }()
			defer wg.Done()
			w.process(ctx, keys, raw, msg)
		}()
	}
}

// claim pops the earliest due task and moves it to the processing set.
func (w Worker) claim(ctx context.Context, keys keyspace, kind string) (envelope, string, bool, error) {
	res, err := w.R.ZPopMin(ctx, keys.ready(kind), 1).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return envelope{}, "", false, nil
		}
		return envelope{}, "", false, err
	}
	if len(res) == 0 {
		return envelope{}, "", false, nil
	}
	member, ok := res[0].Member.(string)
	if !ok {
		return envelope{}, "", false, nil
	}
	msg, err := decodeEnvelope(member)
	if err != nil {
		w.log().Warn().Err(err).Str("kind", kind).Msg("queue: dropping undecodable task")
		return envelope{}, "", false, nil
	}
	if now := time.Now().UnixNano(); msg.AvailableAt > now {
		// not due yet
		_ = w.R.ZAdd(ctx, keys.ready(kind), redis.Z{Score: float64(msg.AvailableAt), Member: member}).Err()
		pause(ctx, min(time.Duration(msg.AvailableAt-now), 100*time.Millisecond))
		return envelope{}, "", false, nil
	}
	QueueDepth.WithLabelValues(kind).Dec()

	msg.Attempt++
	encoded, err := json.Marshal(msg)
	if err != nil {
		return envelope{}, "", false, nil
	}
	raw := string(encoded)
	deadline := time.Now().Add(w.VisibilityTimeout).UnixNano()
	if err := w.R.ZAdd(ctx, keys.processing(kind), redis.Z{Score: float64(deadline), Member: raw}).Err(); err != nil {
		return envelope{}, "", false, err
	}
	return msg, raw, true, nil
}

func (w Worker) process(ctx context.Context, keys keyspace, raw string, msg envelope) {
	jobCtx, cancel := context.WithCancel(ctx)
	if w.SoftDeadline > 0 {
		jobCtx, cancel = context.WithTimeout(ctx, w.SoftDeadline)
	}
	defer cancel()

	stopBeat := w.heartbeat(jobCtx, keys.processing(msg.Kind), raw)
	started := time.Now()
	err := w.Handler(jobCtx, Task{
		Kind:           msg.Kind,
		Payload:        msg.Payload,
		IdempotencyKey: msg.Key,
		MaxAttempts:    msg.MaxAttempts,
		Attempt:        msg.Attempt,
	})
	stopBeat()
	QueueTaskDuration.WithLabelValues(msg.Kind).Observe(obs.DurationMillis(time.Since(started)))

	// Outcome bookkeeping must survive cancellation of the job context.
	bg := context.WithoutCancel(ctx)
	_ = w.R.ZRem(bg, keys.processing(msg.Kind), raw).Err()
	if err == nil {
		QueueProcessedTotal.WithLabelValues(msg.Kind, "ok").Inc()
		if msg.Key != "" {
			_ = w.R.Del(bg, keys.dedup(msg.Kind, msg.Key)).Err()
		}
		return
	}
	w.fail(bg, keys, msg, err)
}

func (w Worker) fail(ctx context.Context, keys keyspace, msg envelope, cause error) {
	logger := w.log().With().Str("kind", msg.Kind).Str("key", msg.Key).Int("attempt", msg.Attempt).Logger()
	if msg.MaxAttempts > 0 && msg.Attempt >= msg.MaxAttempts {
		QueueProcessedTotal.WithLabelValues(msg.Kind, "dead").Inc()
		reason := cause.Error()
		if w.Store != nil {
			if _, err := w.Store.InsertQueueDlq(ctx, DLQEntry{
				Kind:           msg.Kind,
				IdempotencyKey: msg.Key,
				Payload:        msg.Payload,
				Attempts:       msg.Attempt,
				LastError:      &reason,
			}); err != nil {
				logger.Error().Err(err).Msg("queue: persist dead letter")
			} else {
				QueueDLQSize.WithLabelValues(msg.Kind).Inc()
			}
		}
		logger.Error().Err(cause).Msg("queue: task exhausted retries")
		if msg.Key != "" {
			_ = w.R.Del(ctx, keys.dedup(msg.Kind, msg.Key)).Err()
		}
		return
	}

	QueueProcessedTotal.WithLabelValues(msg.Kind, "retry").Inc()
	delay := resilience.Backoff(w.RetryBase, msg.Attempt, w.RetryJitter)
	msg.AvailableAt = time.Now().Add(delay).UnixNano()
	encoded, err := json.Marshal(msg)
	if err != nil {
		return
	}
	logger.Warn().Err(cause).Dur("retry_in", delay).Msg("queue: task failed")
	if err := w.R.ZAdd(ctx, keys.ready(msg.Kind), redis.Z{Score: float64(msg.AvailableAt), Member: string(encoded)}).Err(); err == nil {
		QueueDepth.WithLabelValues(msg.Kind).Inc()
	}
}

// heartbeat pushes the visibility deadline forward while a long job runs.
func (w Worker) heartbeat(ctx context.Context, processingKey, raw string) func() {
	if w.HeartbeatInterval <= 0 {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(w.HeartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				deadline := time.Now().Add(w.VisibilityTimeout).UnixNano()
				_ = w.R.ZAddXX(ctx, processingKey, redis.Z{Score: float64(deadline), Member: raw}).Err()
			}
		}
	}()
	return func() { close(done) }
}

func (w Worker) requeueExpired(ctx context.Context, keys keyspace, kind string) error {
	now := time.Now().UnixNano()
	due, err := w.R.ZRangeByScore(ctx, keys.processing(kind), &redis.ZRangeBy{Min: "-inf", Max: fmt.Sprint(now)}).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return err
	}
	for _, raw := range due {
		removed, err := w.R.ZRem(ctx, keys.processing(kind), raw).Result()
		if err != nil || removed == 0 {
			continue
		}
		msg, err := decodeEnvelope(raw)
		if err != nil {
			continue
		}
		msg.AvailableAt = time.Now().UnixNano()
		encoded, err := json.Marshal(msg)
		if err != nil {
			continue
		}
		w.log().Warn().Str("kind", kind).Str("key", msg.Key).Int("attempt", msg.Attempt).Msg("queue: visibility timeout, requeueing")
		if err := w.R.ZAdd(ctx, keys.ready(kind), redis.Z{Score: float64(msg.AvailableAt), Member: string(encoded)}).Err(); err == nil {
			QueueDepth.WithLabelValues(kind).Inc()
		}
	}
	return nil
}

func (w Worker) log() *zerolog.Logger {
	if w.Logger != nil {
		return w.Logger
	}
	nop := zerolog.Nop()
	return &nop
}

type envelope struct {
	Kind        string `json:"kind"`
	Key         string `json:"key,omitempty"`
	Payload     []byte `json:"payload"`
	Attempt     int    `json:"attempt"`
	MaxAttempts int    `json:"max_attempts"`
	AvailableAt int64  `json:"available_at"`
}

func decodeEnvelope(raw string) (envelope, error) {
	var msg envelope
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		return envelope{}, err
	}
	return msg, nil
}

func sanitizeKind(kind string) string {
	for i := 0; i < len(kind); i++ {
		c := kind[i]
		switch {
		case c >= 'a' && c <= 'z', c >= '0' && c <= '9', c == '-', c == '_', c == ':':
		default:
			return ""
		}
	}
	return kind
}

func firstPositive(values ...int) int {
	for _, v := range values {
		if v > 0 {
			return v
		}
	}
	return 0
}

func pause(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
