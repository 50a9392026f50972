package obs

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// VoucherValidationsTotal counts voucher evaluations by outcome code.
	VoucherValidationsTotal *prometheus.CounterVec
	// OrdersCreatedTotal counts persisted orders by channel.
	OrdersCreatedTotal *prometheus.CounterVec
	// OrderTransitionsTotal counts applied status transitions.
	OrderTransitionsTotal *prometheus.CounterVec
	// PaymentWebhookTotal counts inbound payment notifications by outcome.
	PaymentWebhookTotal *prometheus.CounterVec
	// PaymentGatewayTotal counts outbound transaction creation attempts.
	PaymentGatewayTotal *prometheus.CounterVec
	// PaymentGatewayLatency records gateway round trips in milliseconds.
	PaymentGatewayLatency prometheus.Histogram
	// NotificationDeliveriesTotal tracks customer notification outcomes.
	NotificationDeliveriesTotal *prometheus.CounterVec
	// EventPublishTotal tracks order events handed to the stream publisher.
	EventPublishTotal *prometheus.CounterVec
	// JobFailuresTotal counts failed background job runs by task type.
	JobFailuresTotal *prometheus.CounterVec
	// DBQueryDuration records statement latency by operation and table.
	DBQueryDuration *prometheus.HistogramVec
)

// MustRegisterDomainMetrics initialises and registers domain-specific Prometheus collectors.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		VoucherValidationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "voucher_validations_total",
			Help:      "Count of voucher evaluations by result.",
		}, []string{"result"})
		OrdersCreatedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_created_total",
			Help:      "Count of orders created by payment channel.",
		}, []string{"channel"})
		OrderTransitionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "order_transitions_total",
			Help:      "Count of order status transitions.",
		}, []string{"from", "to"})
		PaymentWebhookTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_webhook_total",
			Help:      "Count of processed payment webhooks by outcome.",
		}, []string{"result"})
		PaymentGatewayTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_gateway_requests_total",
			Help:      "Count of payment gateway transaction requests by outcome.",
		}, []string{"result"})
		PaymentGatewayLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "payment_gateway_duration_ms",
			Help:      "Latency of payment gateway transaction requests in milliseconds.",
			Buckets:   []float64{50, 100, 250, 500, 1000, 2500, 5000, 10000},
		})
		NotificationDeliveriesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notification_deliveries_total",
			Help:      "Count of customer notification delivery outcomes.",
		}, []string{"channel", "result"})
		EventPublishTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "event_publish_total",
			Help:      "Count of order events handed to the event stream.",
		}, []string{"topic", "result"})
		JobFailuresTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_failures_total",
			Help:      "Count of failed background job runs.",
		}, []string{"type"})
		DBQueryDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "db",
			Name:      "query_duration_ms",
			Help:      "Postgres statement latency in milliseconds.",
			Buckets:   []float64{1, 2.5, 5, 10, 25, 50, 100, 250, 1000},
		}, []string{"operation", "table"})

		VoucherValidationsTotal = Register(reg, VoucherValidationsTotal)
		OrdersCreatedTotal = Register(reg, OrdersCreatedTotal)
		OrderTransitionsTotal = Register(reg, OrderTransitionsTotal)
		PaymentWebhookTotal = Register(reg, PaymentWebhookTotal)
		PaymentGatewayTotal = Register(reg, PaymentGatewayTotal)
		PaymentGatewayLatency = Register(reg, PaymentGatewayLatency)
		NotificationDeliveriesTotal = Register(reg, NotificationDeliveriesTotal)
		EventPublishTotal = Register(reg, EventPublishTotal)
		JobFailuresTotal = Register(reg, JobFailuresTotal)
		DBQueryDuration = Register(reg, DBQueryDuration)
	})
}

// Inc increments vec for labels when domain metrics are registered. It is a
// no-op otherwise so packages stay usable in tests without a registry.
func Inc(vec *prometheus.CounterVec, labels ...string) {
	if vec == nil {
		return
	}
	vec.WithLabelValues(labels...).Inc()
}

// Observe records v on h when it is registered.
func Observe(h prometheus.Histogram, v float64) {
	if h == nil {
		return
	}
	h.Observe(v)
}

// ObserveVec records v on the labelled child of vec when it is registered.
func ObserveVec(vec *prometheus.HistogramVec, v float64, labels ...string) {
	if vec == nil {
		return
	}
	vec.WithLabelValues(labels...).Observe(v)
}
