package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/flowrelief/buffer"
)

const sampleYAML = `
stages:
  ticker:
    capacity: 64
    ordering: arrival
    overflow: drop_oldest
    max_reduction_depth: 100
    partitions: 4
    emit_rate: 250
  audit:
    capacity: 0
`

func TestParse_Sample(t *testing.T) {
	cfg, err := Parse([]byte(sampleYAML))
	require.NoError(t, err)
	require.Len(t, cfg.Stages, 2)

	ticker := cfg.Stages["ticker"]
	require.NotNil(t, ticker.Capacity)
	assert.Equal(t, 64, *ticker.Capacity)
	assert.Equal(t, "arrival", ticker.Ordering)
	assert.Equal(t, "drop_oldest", ticker.Overflow)
	assert.Equal(t, 100, ticker.MaxReductionDepth)
	assert.Equal(t, 4, ticker.Partitions)

	audit := cfg.Stages["audit"]
	require.NotNil(t, audit.Capacity)
	assert.Equal(t, 0, *audit.Capacity, "explicit zero capacity survives parsing")
	assert.Equal(t, "comparator", audit.Ordering, "defaults fill unset fields")
	assert.Equal(t, "backpressure", audit.Overflow)
}

func TestParse_UnsetCapacityIsUnbounded(t *testing.T) {
	cfg, err := Parse([]byte("stages:\n  s:\n    ordering: comparator\n"))
	require.NoError(t, err)

	sc := cfg.Stages["s"]
	assert.Nil(t, sc.Capacity)
	assert.Equal(t, buffer.Unbounded, sc.BufferConfig().Capacity)
}

func TestParse_InvalidValues(t *testing.T) {
	cases := []struct {
		name string
		yaml string
	}{
		{"bad ordering", "stages:\n  s:\n    ordering: random\n"},
		{"bad overflow", "stages:\n  s:\n    overflow: explode\n"},
		{"negative depth", "stages:\n  s:\n    max_reduction_depth: -1\n"},
		{"negative partitions", "stages:\n  s:\n    partitions: -2\n"},
		{"negative rate", "stages:\n  s:\n    emit_rate: -5\n"},
		{"not yaml", "{{{"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.yaml))
			assert.Error(t, err)
		})
	}
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stages.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleYAML), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Len(t, cfg.Stages, 2)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("FLOWRELIEF_TICKER_CAPACITY", "8")
	t.Setenv("FLOWRELIEF_TICKER_OVERFLOW", "clear")
	t.Setenv("FLOWRELIEF_TICKER_PARTITIONS", "2")

	cfg, err := Parse([]byte(sampleYAML))
	require.NoError(t, err)

	ticker := cfg.Stages["ticker"]
	require.NotNil(t, ticker.Capacity)
	assert.Equal(t, 8, *ticker.Capacity)
	assert.Equal(t, "clear", ticker.Overflow)
	assert.Equal(t, 2, ticker.Partitions)
}

func TestEnvOverride_InvalidValueRejected(t *testing.T) {
	t.Setenv("FLOWRELIEF_TICKER_OVERFLOW", "explode")

	_, err := Parse([]byte(sampleYAML))
	assert.Error(t, err, "environment overrides go through the same validation")
}

func TestStageConfig_BufferConfig(t *testing.T) {
	capacity := 16
	sc := StageConfig{
		Capacity:          &capacity,
		Ordering:          "arrival",
		Overflow:          "backpressure",
		MaxReductionDepth: 7,
	}
	require.NoError(t, sc.Validate())

	bc := sc.BufferConfig()
	assert.Equal(t, 16, bc.Capacity)
	assert.Equal(t, buffer.OrderArrival, bc.Ordering)
	assert.Equal(t, 7, bc.MaxReductionDepth)
}

func TestStageConfig_Options(t *testing.T) {
	sc := Default()
	assert.Len(t, sc.Options(), 1, "overflow option only when pacing is off")

	sc.EmitRate = 50
	assert.Len(t, sc.Options(), 2)
}
