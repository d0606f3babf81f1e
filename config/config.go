// Package config provides declarative configuration for backpressure-relief
// stages: capacity, extraction ordering, overflow failsafe, reduction depth
// ceiling, partitioning and emission pacing, loaded from YAML with
// environment variable overrides.
//
// Precedence: defaults → YAML file → environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"

	"golang.org/x/time/rate"
	"gopkg.in/yaml.v3"

	"github.com/BaSui01/flowrelief/buffer"
	"github.com/BaSui01/flowrelief/stage"
)

// Config is a named collection of stage configurations.
type Config struct {
	Stages map[string]StageConfig `yaml:"stages"`
}

// StageConfig configures a single stage.
type StageConfig struct {
	// Capacity bounds the accumulator. nil or negative means unbounded;
	// zero degenerates to synchronous pass-through.
	Capacity *int `yaml:"capacity"`
	// Ordering selects the extraction policy: "comparator" or "arrival".
	Ordering string `yaml:"ordering"`
	// Overflow selects the failsafe: "backpressure", "drop_oldest",
	// "drop_newest", "clear" or "error".
	Overflow string `yaml:"overflow"`
	// MaxReductionDepth caps cascading reductions per insert; zero
	// disables the ceiling.
	MaxReductionDepth int `yaml:"max_reduction_depth"`
	// Partitions runs that many independent stage instances keyed by the
	// caller's partition function. Zero or one means a single instance.
	Partitions int `yaml:"partitions"`
	// EmitRate paces emissions per second; zero disables pacing.
	EmitRate float64 `yaml:"emit_rate"`
	// EmitBurst is the pacing burst size; defaults to 1 when pacing is on.
	EmitBurst int `yaml:"emit_burst"`
}

// Default returns the stage configuration used when a field is left unset:
// unbounded capacity, comparator ordering, backpressure overflow.
func Default() StageConfig {
	return StageConfig{
		Ordering: "comparator",
		Overflow: "backpressure",
	}
}

// Load reads a YAML config file and applies environment overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML config data, fills defaults, applies environment
// overrides and validates the result.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	for name, sc := range cfg.Stages {
		applyDefaults(&sc)
		applyEnv(name, &sc)
		if err := sc.Validate(); err != nil {
			return nil, fmt.Errorf("stage %q: %w", name, err)
		}
		cfg.Stages[name] = sc
	}
	return &cfg, nil
}

func applyDefaults(sc *StageConfig) {
	def := Default()
	if sc.Ordering == "" {
		sc.Ordering = def.Ordering
	}
	if sc.Overflow == "" {
		sc.Overflow = def.Overflow
	}
}

// applyEnv overrides select fields from FLOWRELIEF_<STAGE>_<FIELD> variables.
// Only the operationally tunable knobs are exposed this way.
func applyEnv(name string, sc *StageConfig) {
	prefix := "FLOWRELIEF_" + envKey(name) + "_"
	if v, ok := os.LookupEnv(prefix + "CAPACITY"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			sc.Capacity = &n
		}
	}
	if v, ok := os.LookupEnv(prefix + "OVERFLOW"); ok {
		sc.Overflow = v
	}
	if v, ok := os.LookupEnv(prefix + "PARTITIONS"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			sc.Partitions = n
		}
	}
}

func envKey(name string) string {
	out := make([]rune, 0, len(name))
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z':
			out = append(out, r-'a'+'A')
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			out = append(out, r)
		default:
			out = append(out, '_')
		}
	}
	return string(out)
}

// Validate checks the enumerated fields and numeric ranges.
func (sc StageConfig) Validate() error {
	if _, err := parseOrdering(sc.Ordering); err != nil {
		return err
	}
	if _, err := parseOverflow(sc.Overflow); err != nil {
		return err
	}
	if sc.MaxReductionDepth < 0 {
		return fmt.Errorf("max_reduction_depth must not be negative, got %d", sc.MaxReductionDepth)
	}
	if sc.Partitions < 0 {
		return fmt.Errorf("partitions must not be negative, got %d", sc.Partitions)
	}
	if sc.EmitRate < 0 {
		return fmt.Errorf("emit_rate must not be negative, got %v", sc.EmitRate)
	}
	return nil
}

func parseOrdering(s string) (buffer.Ordering, error) {
	switch s {
	case "", "comparator":
		return buffer.OrderComparator, nil
	case "arrival":
		return buffer.OrderArrival, nil
	}
	return 0, fmt.Errorf("unknown ordering %q", s)
}

func parseOverflow(s string) (stage.Overflow, error) {
	switch s {
	case "", "backpressure":
		return stage.OverflowBackpressure, nil
	case "drop_oldest":
		return stage.OverflowDropOldest, nil
	case "drop_newest":
		return stage.OverflowDropNewest, nil
	case "clear":
		return stage.OverflowClear, nil
	case "error":
		return stage.OverflowError, nil
	}
	return 0, fmt.Errorf("unknown overflow strategy %q", s)
}

// BufferConfig converts the stage configuration to buffer construction
// parameters. Validate must have passed.
func (sc StageConfig) BufferConfig() buffer.Config {
	ordering, _ := parseOrdering(sc.Ordering)
	capacity := buffer.Unbounded
	if sc.Capacity != nil && *sc.Capacity >= 0 {
		capacity = *sc.Capacity
	}
	return buffer.Config{
		Capacity:          capacity,
		Ordering:          ordering,
		MaxReductionDepth: sc.MaxReductionDepth,
	}
}

// Options converts the stage configuration to stage options, appended after
// extra so callers can still override programmatically.
func (sc StageConfig) Options(extra ...stage.Option) []stage.Option {
	overflow, _ := parseOverflow(sc.Overflow)
	opts := append([]stage.Option{}, extra...)
	opts = append(opts, stage.WithOverflow(overflow))
	if sc.EmitRate > 0 {
		burst := sc.EmitBurst
		if burst < 1 {
			burst = 1
		}
		opts = append(opts, stage.WithEmitRate(rate.Limit(sc.EmitRate), burst))
	}
	return opts
}
