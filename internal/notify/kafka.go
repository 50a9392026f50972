package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/noah-isme/kopi-pos/internal/events"
	"github.com/noah-isme/kopi-pos/internal/obs"
)

// MessageWriter is the subset of *kafka.Writer the publisher uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher streams every order event to a Kafka topic keyed by order
// id, so consumers see one order's events in order.
//
// With Async set the writer batches in the background and reports delivery
// through Completion; Notify then only fails on local errors.
type KafkaPublisher struct {
	Writer  MessageWriter
	Async   bool
	Timeout time.Duration
	Logger  zerolog.Logger
}

// NewKafkaPublisher builds an asynchronous publisher writing to topic on
// brokers.
func NewKafkaPublisher(brokers []string, topic string, logger zerolog.Logger) *KafkaPublisher {
	p := &KafkaPublisher{Async: true, Timeout: 5 * time.Second, Logger: logger}
	p.Writer = &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 10 * time.Millisecond,
		Async:        true,
		Completion:   p.completed,
	}
	return p
}

// Notify implements events.Notifier.
func (p *KafkaPublisher) Notify(ctx context.Context, ev events.Event) error {
	if p == nil || p.Writer == nil {
		return nil
	}
	value, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if p.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.Timeout)
		defer cancel()
	}
	err = p.Writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(ev.AggregateID),
		Value: value,
		Time:  ev.OccurredAt,
		Headers: []kafka.Header{
			{Key: "topic", Value: []byte(ev.Topic)},
			{Key: "event_id", Value: []byte(ev.ID)},
		},
	})
	if err != nil {
		obs.Inc(obs.EventPublishTotal, ev.Topic, "error")
		p.Logger.Warn().Err(err).Str("topic", ev.Topic).Str("event_id", ev.ID).Msg("publish order event")
		return err
	}
	if !p.Async {
		obs.Inc(obs.EventPublishTotal, ev.Topic, "ok")
	}
	return nil
}

func (p *KafkaPublisher) completed(msgs []kafka.Message, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	for _, m := range msgs {
		topic := header(m, "topic")
		obs.Inc(obs.EventPublishTotal, topic, result)
		if err != nil {
			p.Logger.Warn().Err(err).
				Str("topic", topic).
				Str("event_id", header(m, "event_id")).
				Msg("publish order event")
		}
	}
}

func header(m kafka.Message, key string) string {
	for _, h := range m.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

// Close flushes and closes the writer.
func (p *KafkaPublisher) Close() error {
	if p == nil || p.Writer == nil {
		return nil
	}
	return p.Writer.Close()
}
