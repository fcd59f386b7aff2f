package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce            sync.Once
	apiRequestsTotal        *prometheus.CounterVec
	apiLatencySeconds       *prometheus.HistogramVec
	realtimeEventsTotal     *prometheus.CounterVec
	optimisticRollbacksVec  *prometheus.CounterVec
	optimisticConfirmsTotal prometheus.Counter
	presenceOnlineGauge     *prometheus.GaugeVec
	streamViewersGauge      prometheus.Gauge
	toastsDispatchedTotal   *prometheus.CounterVec
)

// RegisterMetrics initialises the Prometheus collectors used by the engine.
func RegisterMetrics() {
	registerOnce.Do(func() {
		apiRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chatapp_requests_total",
			Help: "Total number of API requests served.",
		}, []string{"method", "route", "status"})

		apiLatencySeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "chatapp_latency_seconds",
			Help:    "Latency distribution for API requests.",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.0},
		}, []string{"method", "route"})

		realtimeEventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chatapp_realtime_events_total",
			Help: "Change feed events routed by the reconciliation layer.",
		}, []string{"table", "type"})

		optimisticRollbacksVec = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chatapp_optimistic_rollbacks_total",
			Help: "Optimistic mutations rolled back or resynced after a remote failure.",
		}, []string{"operation"})

		optimisticConfirmsTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chatapp_optimistic_confirms_total",
			Help: "Own-write echoes suppressed by the optimistic id set.",
		})

		presenceOnlineGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "chatapp_presence_online_users",
			Help: "Live users per room as seen by the presence tracker.",
		}, []string{"room_id"})

		streamViewersGauge = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "chatapp_stream_viewers_active",
			Help: "Frontend connections attached to the state update stream.",
		})

		toastsDispatchedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chatapp_toasts_dispatched_total",
			Help: "User-visible notices dispatched by notification type.",
		}, []string{"kind"})

		prometheus.MustRegister(
			apiRequestsTotal,
			apiLatencySeconds,
			realtimeEventsTotal,
			optimisticRollbacksVec,
			optimisticConfirmsTotal,
			presenceOnlineGauge,
			streamViewersGauge,
			toastsDispatchedTotal,
		)
	})
}

// APIRequests exposes the request counter.
func APIRequests() *prometheus.CounterVec {
	RegisterMetrics()
	return apiRequestsTotal
}

// APILatency exposes the request latency histogram.
func APILatency() *prometheus.HistogramVec {
	RegisterMetrics()
	return apiLatencySeconds
}

// RealtimeEvents exposes the routed change feed event counter.
func RealtimeEvents() *prometheus.CounterVec {
	RegisterMetrics()
	return realtimeEventsTotal
}

// OptimisticRollbacks exposes the rollback counter.
func OptimisticRollbacks() *prometheus.CounterVec {
	RegisterMetrics()
	return optimisticRollbacksVec
}

// OptimisticConfirms exposes the own-write suppression counter.
func OptimisticConfirms() prometheus.Counter {
	RegisterMetrics()
	return optimisticConfirmsTotal
}

// PresenceOnline exposes the per-room online user gauge.
func PresenceOnline() *prometheus.GaugeVec {
	RegisterMetrics()
	return presenceOnlineGauge
}

// StreamViewers exposes the attached frontend gauge.
func StreamViewers() prometheus.Gauge {
	RegisterMetrics()
	return streamViewersGauge
}

// ToastsDispatched exposes the toast counter.
func ToastsDispatched() *prometheus.CounterVec {
	RegisterMetrics()
	return toastsDispatchedTotal
}
