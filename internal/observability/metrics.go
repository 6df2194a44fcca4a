package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus metrics exported by the simulator daemon.
type Metrics struct {
	SimulationsTotal    *prometheus.CounterVec
	SimulationDuration  prometheus.Histogram
	RingsSettled        prometheus.Counter
	RingsInvalid        prometheus.Counter
	OrdersInvalid       prometheus.Counter
	TransfersEmitted    prometheus.Counter
	RequestPayloadBytes prometheus.Histogram
}

// NewMetrics creates and registers all simulator metrics.
func NewMetrics() *Metrics {
	durationBuckets := []float64{
		0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005,
		0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0,
	}

	return &Metrics{
		SimulationsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "ringsim_simulations_total",
			Help: "Simulations run, by outcome",
		}, []string{"outcome"}),

		SimulationDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "ringsim_simulation_duration_seconds",
			Help:    "Wall time of one simulation",
			Buckets: durationBuckets,
		}),

		RingsSettled: promauto.NewCounter(prometheus.CounterOpts{
			Name: "ringsim_rings_settled_total",
			Help: "Rings that settled and emitted transfers",
		}),

		RingsInvalid: promauto.NewCounter(prometheus.CounterOpts{
			Name: "ringsim_rings_invalid_total",
			Help: "Rings rejected during simulation",
		}),

		OrdersInvalid: promauto.NewCounter(prometheus.CounterOpts{
			Name: "ringsim_orders_invalid_total",
			Help: "Orders invalidated during preflight or settlement",
		}),

		TransfersEmitted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "ringsim_transfers_emitted_total",
			Help: "Merged transfer items emitted",
		}),

		RequestPayloadBytes: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "ringsim_request_payload_bytes",
			Help:    "Size of pre-flight request payloads",
			Buckets: prometheus.ExponentialBuckets(256, 4, 8),
		}),
	}
}
