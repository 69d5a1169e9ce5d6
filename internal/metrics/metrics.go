package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relayq_http_requests_total",
			Help: "Total number of HTTP API requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "relayq_http_request_duration_seconds",
			Help:    "HTTP API request latency in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path"},
	)

	eventsEmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relayq_events_emitted_total",
			Help: "Total number of events captured",
		},
		[]string{"event_type"},
	)

	eventsFannedOut = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relayq_events_fanned_out_total",
			Help: "Total number of events fanned out to matching webhooks",
		},
	)

	deliveryAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relayq_delivery_attempts_total",
			Help: "Total number of delivery attempt outcomes",
		},
		[]string{"outcome"}, // success, retrying, failed, deferred, skipped
	)

	deliveryDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "relayq_delivery_duration_seconds",
			Help:    "Webhook HTTP send latency in seconds",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
	)

	deliveriesInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "relayq_deliveries_in_flight",
			Help: "Number of webhook sends currently in flight",
		},
	)

	sweepClaims = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relayq_sweep_claims_total",
			Help: "Total number of deliveries claimed by the retry sweeper",
		},
	)

	sweepRecoveries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relayq_sweep_recoveries_total",
			Help: "Total number of stale in-flight deliveries recovered",
		},
	)

	dbConnectionsOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "relayq_db_connections_open",
			Help: "Number of open database connections",
		},
	)
)

func Handler() http.Handler {
	return promhttp.Handler()
}

func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	statusStr := strconv.Itoa(status)
	httpRequestsTotal.WithLabelValues(method, path, statusStr).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

func RecordEventEmitted(eventType string) {
	eventsEmitted.WithLabelValues(eventType).Inc()
}

func RecordEventFannedOut() {
	eventsFannedOut.Inc()
}

func RecordDeliveryOutcome(outcome string, duration time.Duration) {
	deliveryAttempts.WithLabelValues(outcome).Inc()
	if duration > 0 {
		deliveryDuration.Observe(duration.Seconds())
	}
}

func IncrementInFlight() {
	deliveriesInFlight.Inc()
}

func DecrementInFlight() {
	deliveriesInFlight.Dec()
}

func RecordSweepClaims(n int) {
	if n > 0 {
		sweepClaims.Add(float64(n))
	}
}

func RecordSweepRecoveries(n int) {
	if n > 0 {
		sweepRecoveries.Add(float64(n))
	}
}

func UpdateDBStats(open int) {
	dbConnectionsOpen.Set(float64(open))
}
