// Package metrics registers the process-wide Prometheus collectors.
package metrics

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	LeadsSubmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leadflow_leads_submitted_total",
			Help: "Leads created, partitioned by whether a partner was attributed",
		},
		[]string{"attributed"},
	)

	FunnelTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leadflow_funnel_transitions_total",
			Help: "Funnel transitions that actually changed lead state",
		},
		[]string{"stage"},
	)

	LedgerIncrements = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leadflow_ledger_increments_total",
			Help: "Partner counter increments partitioned by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	CodeGenerationAttempts = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "leadflow_code_generation_attempts",
			Help:    "Attempts needed to persist a unique referral code",
			Buckets: []float64{1, 2, 3, 5, 10},
		},
	)

	EventsTracked = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leadflow_events_tracked_total",
			Help: "Interaction events by type and outcome (stored, excluded, dropped, failed)",
		},
		[]string{"type", "outcome"},
	)

	TrackingInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "leadflow_tracking_inflight",
			Help: "Detached event writes currently running",
		},
	)

	RollupDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "leadflow_rollup_duration_seconds",
			Help:    "Time spent recomputing one day of statistics",
			Buckets: prometheus.DefBuckets,
		},
	)

	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leadflow_http_requests_total",
			Help: "Total number of HTTP requests processed",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "leadflow_http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)
)

// Middleware records request counts and latencies, labelled by route template.
func Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		route := c.Path()
		if r := c.Route(); r != nil && r.Path != "" {
			route = r.Path
		}
		labels := prometheus.Labels{
			"method": c.Method(),
			"route":  route,
			"status": strconv.Itoa(c.Response().StatusCode()),
		}
		httpRequestsTotal.With(labels).Inc()
		httpRequestDuration.With(labels).Observe(time.Since(start).Seconds())
		return err
	}
}
