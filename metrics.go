package siridb

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the process-wide prometheus collectors exposed on
// /metrics (spec §6.6), registered against a caller-supplied registry so
// tests can use a scratch one instead of the global default.
type Metrics struct {
	InsertedPoints prometheus.Counter
	InsertErrors   prometheus.Counter
	FifoDepth      prometheus.Gauge
	ShardCount     prometheus.Gauge
	OptimizeDuration prometheus.Histogram
}

// NewMetrics constructs and registers every collector on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		InsertedPoints: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "siridb",
			Name:      "inserted_points_total",
			Help:      "Total number of points successfully applied to a series buffer.",
		}),
		InsertErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "siridb",
			Name:      "insert_errors_total",
			Help:      "Total number of insert requests that failed validation or forwarding.",
		}),
		FifoDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "siridb",
			Name:      "replicate_fifo_depth",
			Help:      "Number of frames currently queued in the replication FIFO.",
		}),
		ShardCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "siridb",
			Name:      "shards_loaded",
			Help:      "Number of shards currently loaded in memory.",
		}),
		OptimizeDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "siridb",
			Name:      "optimize_duration_seconds",
			Help:      "Time taken to reencode one shard during an optimize pass.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	reg.MustRegister(m.InsertedPoints, m.InsertErrors, m.FifoDepth, m.ShardCount, m.OptimizeDuration)
	return m
}

// ObserveInsert records the outcome of one InsertPipeline.Insert call.
func (m *Metrics) ObserveInsert(numPoints uint64, err error) {
	if err != nil {
		m.InsertErrors.Inc()
		return
	}
	m.InsertedPoints.Add(float64(numPoints))
}
