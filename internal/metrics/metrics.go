// Package metrics exposes payd's Prometheus collectors.
package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "payd"

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	webhookOutcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_outcomes_total",
			Help:      "Inbound gateway webhooks by gateway, stream and outcome",
		},
		[]string{"gateway", "stream", "outcome"},
	)

	saleCreditsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sale_credits_written_total",
			Help:      "Sale credit ledger entries inserted",
		},
	)

	payoutsCreatedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payouts_created_total",
			Help:      "Payout transactions created by status",
		},
		[]string{"status"},
	)

	payoutTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payout_transitions_total",
			Help:      "Payout status changes applied from transfer webhooks",
		},
		[]string{"from", "to"},
	)

	receiptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payout_receipts_total",
			Help:      "Payout receipt send attempts by result",
		},
		[]string{"result"},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDuration,
		webhookOutcomesTotal,
		saleCreditsTotal,
		payoutsCreatedTotal,
		payoutTransitionsTotal,
		receiptsTotal,
	)
}

func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}

		c.Next()

		status := strconv.Itoa(c.Writer.Status())
		httpRequestsTotal.WithLabelValues(c.Request.Method, path, status).Inc()
		httpRequestDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}

func PrometheusHandler() gin.HandlerFunc {
	return gin.WrapH(promhttp.Handler())
}

func RecordWebhookOutcome(gateway, stream, outcome string) {
	webhookOutcomesTotal.WithLabelValues(gateway, stream, outcome).Inc()
}

func RecordSaleCredits(n int) {
	saleCreditsTotal.Add(float64(n))
}

func RecordPayoutCreated(status string) {
	payoutsCreatedTotal.WithLabelValues(status).Inc()
}

func RecordPayoutTransition(from, to string) {
	payoutTransitionsTotal.WithLabelValues(from, to).Inc()
}

func RecordReceipt(result string) {
	receiptsTotal.WithLabelValues(result).Inc()
}
