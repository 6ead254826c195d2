// Package metrics provides Prometheus metrics for the dose scheduling platform.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all application metrics
type Metrics struct {
	OrdersCreated         prometheus.Counter
	SchedulesExpanded     prometheus.Counter
	ExpansionFallbacks    prometheus.Counter
	ExpansionFailed       prometheus.Counter
	DosesGenerated        prometheus.Counter
	AdherenceRecorded     *prometheus.CounterVec
	AdherenceRejected     prometheus.Counter
	RemindersDispatched   prometheus.Counter
	ExpansionDuration     prometheus.Histogram
	ActiveOrders          prometheus.Gauge
	KafkaMessagesProduced prometheus.Counter
	KafkaMessagesConsumed prometheus.Counter
	OutboxPending         prometheus.Gauge
	CircuitBreakerState   *prometheus.GaugeVec
}

// New creates and registers all metrics
func New() *Metrics {
	m := &Metrics{
		OrdersCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "medicine_orders_created_total",
			Help: "Total medicine orders created",
		}),
		SchedulesExpanded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dose_schedules_expanded_total",
			Help: "Total dose schedule expansions",
		}),
		ExpansionFallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dose_schedule_fallbacks_total",
			Help: "Expansions that used default timing or duration fallbacks",
		}),
		ExpansionFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dose_schedule_failures_total",
			Help: "Expansions rejected for invalid or inactive orders",
		}),
		DosesGenerated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "doses_generated_total",
			Help: "Total dose occurrences generated",
		}),
		AdherenceRecorded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "adherence_recorded_total",
			Help: "Adherence entries recorded, by outcome",
		}, []string{"taken"}),
		AdherenceRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "adherence_rejected_total",
			Help: "Adherence recordings rejected outside the grace window",
		}),
		RemindersDispatched: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dose_reminders_dispatched_total",
			Help: "Total dose reminders dispatched",
		}),
		ExpansionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "dose_schedule_expansion_duration_seconds",
			Help:    "Dose schedule expansion duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		}),
		ActiveOrders: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "medicine_orders_active",
			Help: "Currently active medicine orders",
		}),
		KafkaMessagesProduced: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kafka_messages_produced_total",
			Help: "Total Kafka messages produced",
		}),
		KafkaMessagesConsumed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kafka_messages_consumed_total",
			Help: "Total Kafka messages consumed",
		}),
		OutboxPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "outbox_pending_entries",
			Help: "Pending outbox entries",
		}),
		CircuitBreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		}, []string{"name"}),
	}

	prometheus.MustRegister(
		m.OrdersCreated,
		m.SchedulesExpanded,
		m.ExpansionFallbacks,
		m.ExpansionFailed,
		m.DosesGenerated,
		m.AdherenceRecorded,
		m.AdherenceRejected,
		m.RemindersDispatched,
		m.ExpansionDuration,
		m.ActiveOrders,
		m.KafkaMessagesProduced,
		m.KafkaMessagesConsumed,
		m.OutboxPending,
		m.CircuitBreakerState,
	)

	return m
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
