// Package metrics exposes the pipeline's Prometheus collectors.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	eventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "desirelines",
		Name:      "events_total",
		Help:      "Webhook deliveries handled, by service, aspect and result.",
	}, []string{"service", "aspect", "status", "reason"})

	handlerDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "desirelines",
		Name:      "handler_duration_seconds",
		Help:      "Wall time of one webhook delivery.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"service"})

	upstreamRetries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "desirelines",
		Name:      "upstream_retries_total",
		Help:      "Retried upstream calls by operation.",
	}, []string{"operation"})

	summaryConflicts = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "desirelines",
		Name:      "summary_conflicts_total",
		Help:      "Summary writes rejected because the document changed since it was read.",
	})

	warehouseRowsAffected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "desirelines",
		Subsystem: "warehouse",
		Name:      "rows_affected_total",
		Help:      "Rows changed by warehouse merges and archives.",
	}, []string{"operation"})
)

func init() {
	prometheus.MustRegister(eventsTotal, handlerDuration, upstreamRetries, summaryConflicts, warehouseRowsAffected)
}

// RecordEvent counts one handled delivery.
func RecordEvent(service, aspect, status, reason string, elapsed time.Duration) {
	eventsTotal.WithLabelValues(service, aspect, status, reason).Inc()
	handlerDuration.WithLabelValues(service).Observe(elapsed.Seconds())
}

// RecordUpstreamRetry counts one retried upstream call.
func RecordUpstreamRetry(operation string) {
	upstreamRetries.WithLabelValues(operation).Inc()
}

// RecordSummaryConflict counts one lost optimistic-concurrency race.
func RecordSummaryConflict() {
	summaryConflicts.Inc()
}

// RecordWarehouseRows adds rows changed by a warehouse operation.
func RecordWarehouseRows(operation string, rows int64) {
	if rows <= 0 {
		return
	}
	warehouseRowsAffected.WithLabelValues(operation).Add(float64(rows))
}
