package notify

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/kopi-pos/internal/events"
	"github.com/noah-isme/kopi-pos/internal/obs"
)

func TestNewKafkaPublisherWritesAsync(t *testing.T) {
	p := NewKafkaPublisher([]string{"localhost:9092"}, "kopi.orders", zerolog.Nop())
	w, ok := p.Writer.(*kafka.Writer)
	require.True(t, ok)
	require.True(t, w.Async)
	require.NotNil(t, w.Completion)
	require.True(t, p.Async)
}

func TestKafkaCompletionCountsByTopic(t *testing.T) {
	obs.MustRegisterDomainMetrics("kopi_test", prometheus.NewRegistry())
	p := &KafkaPublisher{Async: true, Logger: zerolog.Nop()}
	msg := func(topic string) kafka.Message {
		return kafka.Message{Headers: []kafka.Header{{Key: "topic", Value: []byte(topic)}, {Key: "event_id", Value: []byte("ev-1")}}}
	}
	okBefore := testutil.ToFloat64(obs.EventPublishTotal.WithLabelValues(events.TopicOrderReady, "ok"))
	errBefore := testutil.ToFloat64(obs.EventPublishTotal.WithLabelValues(events.TopicOrderPaid, "error"))

	p.completed([]kafka.Message{msg(events.TopicOrderReady), msg(events.TopicOrderReady)}, nil)
	p.completed([]kafka.Message{msg(events.TopicOrderPaid)}, errors.New("leader not available"))

	require.Equal(t, okBefore+2, testutil.ToFloat64(obs.EventPublishTotal.WithLabelValues(events.TopicOrderReady, "ok")))
	require.Equal(t, errBefore+1, testutil.ToFloat64(obs.EventPublishTotal.WithLabelValues(events.TopicOrderPaid, "error")))
}
