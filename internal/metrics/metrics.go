package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ReadingsIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_readings_ingested_total",
			Help: "Readings persisted, by ingestion source",
		},
		[]string{"source"},
	)

	IngestRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_ingest_rejected_total",
			Help: "Readings that were not persisted, by reason",
		},
		[]string{"reason"},
	)

	StoreDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sentinel_store_operation_seconds",
			Help:    "Latency of reading store and device registry calls",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"op", "result"},
	)

	BroadcastEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_broadcast_events_total",
			Help: "Live events per subscriber, delivered or dropped",
		},
		[]string{"outcome"},
	)

	BroadcastSinkErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_broadcast_sink_errors_total",
			Help: "External broadcast sink publish failures",
		},
		[]string{"sink"},
	)

	LiveSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sentinel_live_subscribers",
			Help: "Currently connected live subscribers",
		},
	)
)

// ObserveStore records a store call started at start.
func ObserveStore(op string, start time.Time, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	StoreDuration.WithLabelValues(op, result).Observe(time.Since(start).Seconds())
}
