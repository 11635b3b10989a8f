package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Holds  HoldMetrics
	Queue  QueueMetrics
	Outbox OutboxMetrics
}

type HoldMetrics struct {
	AttemptsTotal *prometheus.CounterVec
	ExpiredTotal  prometheus.Counter
}

type QueueMetrics struct {
	PassesAdvancedTotal prometheus.Counter
	AdvanceErrorsTotal  prometheus.Counter
}

type OutboxMetrics struct {
	PublishTotal   *prometheus.CounterVec
	BatchSize      prometheus.Histogram
	ConsumedTotal  *prometheus.CounterVec
	ConsumeLatency prometheus.Histogram
}

// New registers the ticketing collectors on reg. Tests pass a fresh
// prometheus.NewRegistry() so repeated construction never collides.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	return &Metrics{
		Holds: HoldMetrics{
			AttemptsTotal: f.NewCounterVec(prometheus.CounterOpts{
				Namespace: "ticketing",
				Subsystem: "hold",
				Name:      "attempts_total",
				Help:      "Seat hold attempts by outcome.",
			}, []string{"result"}), // held|locked|conflict|rejected|error
			ExpiredTotal: f.NewCounter(prometheus.CounterOpts{
				Namespace: "ticketing",
				Subsystem: "hold",
				Name:      "expired_total",
				Help:      "Holds flipped to EXPIRED by the sweeper.",
			}),
		},
		Queue: QueueMetrics{
			PassesAdvancedTotal: f.NewCounter(prometheus.CounterOpts{
				Namespace: "ticketing",
				Subsystem: "queue",
				Name:      "passes_advanced_total",
				Help:      "Passes issued by the background advancer.",
			}),
			AdvanceErrorsTotal: f.NewCounter(prometheus.CounterOpts{
				Namespace: "ticketing",
				Subsystem: "queue",
				Name:      "advance_errors_total",
				Help:      "Per-schedule advance failures.",
			}),
		},
		Outbox: OutboxMetrics{
			PublishTotal: f.NewCounterVec(prometheus.CounterOpts{
				Namespace: "ticketing",
				Subsystem: "outbox",
				Name:      "publish_total",
				Help:      "Outbox publish attempts by result.",
			}, []string{"result"}), // published|retry|failed
			BatchSize: f.NewHistogram(prometheus.HistogramOpts{
				Namespace: "ticketing",
				Subsystem: "outbox",
				Name:      "batch_size",
				Help:      "Rows claimed per publisher tick.",
				Buckets:   []float64{0, 1, 5, 10, 25, 50, 100, 250},
			}),
			ConsumedTotal: f.NewCounterVec(prometheus.CounterOpts{
				Namespace: "ticketing",
				Subsystem: "consumer",
				Name:      "messages_total",
				Help:      "Confirm-requested messages by outcome.",
			}, []string{"outcome"}), // confirmed|duplicate|malformed|stale|no_hold|business|retry
			ConsumeLatency: f.NewHistogram(prometheus.HistogramOpts{
				Namespace: "ticketing",
				Subsystem: "consumer",
				Name:      "process_duration_seconds",
				Help:      "Confirm-requested processing duration.",
				Buckets:   prometheus.DefBuckets,
			}),
		},
	}
}
