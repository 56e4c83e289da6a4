package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// APILatency measures HTTP request latencies.
	APILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "videocalls_api_latency_seconds",
			Help:    "API endpoint latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	// VendorCalls counts outbound vendor requests by vendor, operation and result (ok|error).
	VendorCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "videocalls_vendor_calls_total",
			Help: "Total number of vendor API calls",
		},
		[]string{"vendor", "operation", "result"},
	)

	// PipelineStageDuration measures each transcription stage.
	PipelineStageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "videocalls_pipeline_stage_seconds",
			Help:    "Transcription pipeline stage duration",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120, 300},
		},
		[]string{"stage"},
	)

	// PipelineOutcomes counts pipeline runs by final code ("completed", "cached" or an error code).
	PipelineOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "videocalls_pipeline_outcomes_total",
			Help: "Transcription pipeline outcomes",
		},
		[]string{"outcome"},
	)

	// BookkeepingFailures counts room-creation side writes that failed (room|invitation|participant).
	BookkeepingFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "videocalls_bookkeeping_failures_total",
			Help: "Room creation bookkeeping writes that failed",
		},
		[]string{"table"},
	)

	// SchemaFallbacks counts inserts that fell back to the base column set.
	SchemaFallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "videocalls_schema_fallbacks_total",
			Help: "Inserts retried with the base column set",
		},
		[]string{"table"},
	)

	// QueueJobs counts worker job results by type and result (ok|retry|dead|dropped).
	QueueJobs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "videocalls_queue_jobs_total",
			Help: "Background jobs processed",
		},
		[]string{"type", "result"},
	)

	// WebhookEvents counts vendor webhook deliveries by event type and result (ok|error|duplicate|invalid).
	WebhookEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "videocalls_webhook_events_total",
			Help: "Vendor webhook events received",
		},
		[]string{"event", "result"},
	)

	// ConnectedClients tracks open notification websockets on this instance.
	ConnectedClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "videocalls_notification_clients",
			Help: "Open notification websocket connections",
		},
	)
)

// Result maps an error to the "ok"/"error" label value.
func Result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
