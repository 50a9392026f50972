package queue_test

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/kopi-pos/internal/queue"
)

func TestWorkerDeadLettersUndeliverableMessage(t *testing.T) {
	client := newRedis(t)
	store := newMemoryStore()
	enq := queue.Enqueuer{R: client, Prefix: "dlq", MaxAttempts: 2}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	const kind = "whatsapp-dead"
	dlqBefore := testutil.ToFloat64(queue.QueueDLQSize.WithLabelValues(kind))

	log := zerolog.New(io.Discard)
	worker := queue.Worker{
		R:                 client,
		Prefix:            "dlq",
		Kind:              kind,
		Concurrency:       1,
		VisibilityTimeout: 120 * time.Millisecond,
		RetryBase:         20 * time.Millisecond,
		Store:             store,
		Logger:            &log,
		Handler: func(context.Context, queue.Task) error {
			return errors.New("whatsapp gateway: number not registered")
		},
	}
	done := make(chan struct{})
	go func() {
		_ = worker.Run(ctx)
		close(done)
	}()

	require.NoError(t, enq.Enqueue(context.Background(), queue.Task{Kind: kind, Payload: readyMessage(t), IdempotencyKey: "ord-1:order.ready"}))

	require.Eventually(t, func() bool {
		n, err := store.CountQueueDlq(context.Background(), kind)
		return err == nil && n == 1
	}, 2*time.Second, 20*time.Millisecond)
	cancel()
	<-done

	entries, err := store.ListQueueDlq(context.Background(), kind, 10, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	entry := entries[0]
	require.Equal(t, "ord-1:order.ready", entry.IdempotencyKey)
	require.Equal(t, 2, entry.Attempts)
	require.JSONEq(t, string(readyMessage(t)), string(entry.Payload))
	require.NotNil(t, entry.LastError)
	require.Contains(t, *entry.LastError, "number not registered")
	require.Equal(t, dlqBefore+1, testutil.ToFloat64(queue.QueueDLQSize.WithLabelValues(kind)))

	// The dedup mark is cleared so an operator replay is accepted.
	require.NoError(t, enq.Enqueue(context.Background(), queue.Task{Kind: kind, Payload: readyMessage(t), IdempotencyKey: "ord-1:order.ready"}))
	queued, err := client.ZCard(context.Background(), "dlq:queue:"+kind).Result()
	require.NoError(t, err)
	require.EqualValues(t, 1, queued)
}

func TestWorkerRedeliversAfterVisibilityTimeout(t *testing.T) {
	client := newRedis(t)
	enq := queue.Enqueuer{R: client, Prefix: "vis", DedupTTL: time.Minute, MaxAttempts: 3}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	const kind = "whatsapp-slow"
	attempts := make(chan int, 2)
	log := zerolog.New(io.Discard)
	worker := queue.Worker{
		R:                 client,
		Prefix:            "vis",
		Kind:              kind,
		Concurrency:       1,
		VisibilityTimeout: 150 * time.Millisecond,
		SoftDeadline:      80 * time.Millisecond,
		RetryBase:         20 * time.Millisecond,
		Store:             newMemoryStore(),
		Logger:            &log,
		Handler: func(jobCtx context.Context, task queue.Task) error {
			attempts <- task.Attempt
			if task.Attempt == 1 {
				// Gateway hangs past the soft deadline.
				<-jobCtx.Done()
				return jobCtx.Err()
			}
			cancel()
			return nil
		},
	}
	done := make(chan struct{})
	go func() {
		_ = worker.Run(ctx)
		close(done)
	}()

	require.NoError(t, enq.Enqueue(context.Background(), queue.Task{Kind: kind, Payload: readyMessage(t), IdempotencyKey: "ord-4:order.ready"}))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("task was not redelivered")
	}
	require.Equal(t, 1, <-attempts)
	require.Equal(t, 2, <-attempts)

	for _, key := range []string{"vis:queue:" + kind, "vis:" + kind + ":processing"} {
		n, err := client.ZCard(context.Background(), key).Result()
		require.NoError(t, err)
		require.Zero(t, n, key)
	}
}
