// Package metrics provides internal Prometheus instrumentation for
// backpressure-relief stages. This package is internal and should not be
// imported by external projects; stages expose it through their WithMetrics
// option.
package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Collector holds the per-stage instruments. All vectors are labeled by stage
// instance id so multiple stages can share one registerer.
type Collector struct {
	foldsTotal      *prometheus.CounterVec
	emitsTotal      *prometheus.CounterVec
	dropsTotal      *prometheus.CounterVec
	reductionsTotal *prometheus.CounterVec
	occupancy       *prometheus.GaugeVec
	cascadeDepth    *prometheus.HistogramVec

	logger *zap.Logger
}

// register adds c to reg, reusing the already registered collector when
// several stages share one registry.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			return are.ExistingCollector.(C)
		}
		panic(err)
	}
	return c
}

// NewCollector creates a collector registered with reg. A nil registerer
// falls back to the default Prometheus registry.
func NewCollector(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	c.foldsTotal = register(reg, prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_folds_total",
			Help:      "Total number of messages folded into the accumulator",
		},
		[]string{"stage"},
	))

	c.emitsTotal = register(reg, prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_emits_total",
			Help:      "Total number of messages emitted downstream",
		},
		[]string{"stage"},
	))

	c.dropsTotal = register(reg, prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_drops_total",
			Help:      "Total number of messages discarded by the overflow failsafe",
		},
		[]string{"stage"},
	))

	c.reductionsTotal = register(reg, prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "buffer_reductions_total",
			Help:      "Total number of pairwise element combinations in the reduction buffer",
		},
		[]string{"stage"},
	))

	c.occupancy = register(reg, prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "buffer_occupancy",
			Help:      "Current number of elements held by the accumulator",
		},
		[]string{"stage"},
	))

	c.cascadeDepth = register(reg, prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "buffer_reduction_cascade_depth",
			Help:      "Number of combinations triggered by a single insertion",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 8),
		},
		[]string{"stage"},
	))

	return c
}

// RecordFold counts one accepted fold.
func (c *Collector) RecordFold(stage string) {
	c.foldsTotal.WithLabelValues(stage).Inc()
}

// RecordEmit counts one downstream emission.
func (c *Collector) RecordEmit(stage string) {
	c.emitsTotal.WithLabelValues(stage).Inc()
}

// RecordDrops counts n messages discarded by the overflow failsafe.
func (c *Collector) RecordDrops(stage string, n int) {
	c.dropsTotal.WithLabelValues(stage).Add(float64(n))
}

// RecordReductions counts n pairwise combinations.
func (c *Collector) RecordReductions(stage string, n int64) {
	c.reductionsTotal.WithLabelValues(stage).Add(float64(n))
}

// SetOccupancy records the accumulator's current size.
func (c *Collector) SetOccupancy(stage string, n int) {
	c.occupancy.WithLabelValues(stage).Set(float64(n))
}

// ObserveCascade records the reduction cascade length of one insertion.
func (c *Collector) ObserveCascade(stage string, depth int) {
	c.cascadeDepth.WithLabelValues(stage).Observe(float64(depth))
}
