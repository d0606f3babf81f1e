package metrics

import (
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var collectorNamespaceSeq uint64

func nextTestNamespace() string {
	seq := atomic.AddUint64(&collectorNamespaceSeq, 1)
	return fmt.Sprintf("test_%d", seq)
}

func TestNewCollector(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), prometheus.NewRegistry(), zap.NewNop())

	assert.NotNil(t, collector)
	assert.NotNil(t, collector.foldsTotal)
	assert.NotNil(t, collector.emitsTotal)
	assert.NotNil(t, collector.dropsTotal)
	assert.NotNil(t, collector.reductionsTotal)
	assert.NotNil(t, collector.occupancy)
	assert.NotNil(t, collector.cascadeDepth)
}

func TestCollector_Counters(t *testing.T) {
	registry := prometheus.NewRegistry()
	collector := NewCollector(nextTestNamespace(), registry, zap.NewNop())

	collector.RecordFold("s1")
	collector.RecordFold("s1")
	collector.RecordEmit("s1")
	collector.RecordDrops("s1", 3)
	collector.RecordReductions("s1", 5)

	assert.Equal(t, 2.0, testutil.ToFloat64(collector.foldsTotal.WithLabelValues("s1")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.emitsTotal.WithLabelValues("s1")))
	assert.Equal(t, 3.0, testutil.ToFloat64(collector.dropsTotal.WithLabelValues("s1")))
	assert.Equal(t, 5.0, testutil.ToFloat64(collector.reductionsTotal.WithLabelValues("s1")))
}

func TestCollector_Occupancy(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), prometheus.NewRegistry(), zap.NewNop())

	collector.SetOccupancy("s1", 7)
	assert.Equal(t, 7.0, testutil.ToFloat64(collector.occupancy.WithLabelValues("s1")))

	collector.SetOccupancy("s1", 2)
	assert.Equal(t, 2.0, testutil.ToFloat64(collector.occupancy.WithLabelValues("s1")))
}

func TestCollector_CascadeHistogram(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), prometheus.NewRegistry(), zap.NewNop())

	collector.ObserveCascade("s1", 1)
	collector.ObserveCascade("s1", 4)

	count := testutil.CollectAndCount(collector.cascadeDepth)
	require.Greater(t, count, 0)
}

func TestCollector_SharedRegistry(t *testing.T) {
	registry := prometheus.NewRegistry()
	namespace := nextTestNamespace()

	first := NewCollector(namespace, registry, zap.NewNop())
	second := NewCollector(namespace, registry, zap.NewNop())

	first.RecordFold("a")
	second.RecordFold("b")

	// Both collectors resolve to the same registered vectors.
	assert.Equal(t, 1.0, testutil.ToFloat64(second.foldsTotal.WithLabelValues("a")))
	assert.Equal(t, 1.0, testutil.ToFloat64(first.foldsTotal.WithLabelValues("b")))
}

func TestCollector_StageIsolation(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), prometheus.NewRegistry(), zap.NewNop())

	collector.RecordFold("a")
	collector.RecordFold("b")
	collector.RecordFold("b")

	assert.Equal(t, 1.0, testutil.ToFloat64(collector.foldsTotal.WithLabelValues("a")))
	assert.Equal(t, 2.0, testutil.ToFloat64(collector.foldsTotal.WithLabelValues("b")))
}
