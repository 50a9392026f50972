package queue

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/noah-isme/kopi-pos/internal/obs"
)

// Queue collectors live on the default registry so both binaries expose them
// without extra wiring. Depth is approximate: it moves on enqueue, retry and
// dequeue but is not reconciled against Redis.
var (
	QueueDepth = obs.Register(prometheus.DefaultRegisterer, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "kopi_pos",
		Subsystem: "queue",
		Name:      "depth",
		Help:      "Approximate number of ready tasks per kind.",
	}, []string{"kind"}))
	QueueProcessedTotal = obs.Register(prometheus.DefaultRegisterer, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kopi_pos",
		Subsystem: "queue",
		Name:      "processed_total",
		Help:      "Tasks handled per kind, by outcome (ok, retry, dead).",
	}, []string{"kind", "status"}))
	QueueDLQSize = obs.Register(prometheus.DefaultRegisterer, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "kopi_pos",
		Subsystem: "queue",
		Name:      "dlq_size",
		Help:      "Dead-lettered tasks awaiting replay per kind.",
	}, []string{"kind"}))
	QueueTaskDuration = obs.Register(prometheus.DefaultRegisterer, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "kopi_pos",
		Subsystem: "queue",
		Name:      "task_duration_ms",
		Help:      "Handler run time per task attempt in milliseconds.",
		Buckets:   []float64{10, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
	}, []string{"kind"}))
)
