package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// SyncMetrics are the worker's prometheus collectors, exposed on the ops
// server's /metrics endpoint.
type SyncMetrics struct {
	PassesTotal    prometheus.Counter
	ShipmentsTotal *prometheus.CounterVec // outcome: success|failed|skipped
	CarrierCalls   *prometheus.CounterVec // carrier, outcome: ok|error
	PassDuration   prometheus.Histogram
}

func NewSyncMetrics(reg prometheus.Registerer) *SyncMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &SyncMetrics{
		PassesTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "shipsync_passes_total",
			Help: "Completed sync passes.",
		}),
		ShipmentsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "shipsync_shipments_total",
			Help: "Per-shipment sync outcomes.",
		}, []string{"outcome"}),
		CarrierCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "shipsync_carrier_calls_total",
			Help: "Carrier API call attempts.",
		}, []string{"carrier", "outcome"}),
		PassDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "shipsync_pass_duration_seconds",
			Help:    "Wall time of a sync pass.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
		}),
	}
}
