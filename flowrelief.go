// Package flowrelief provides a top-level convenience entry point for
// building backpressure-relief stages with minimal boilerplate.
//
// Usage:
//
//	import "github.com/BaSui01/flowrelief"
//
//	s := flowrelief.Conflater(quoteReducer, flowrelief.Bounded(256))
//	s := flowrelief.Buffered[order.Event](1024)
//	s := flowrelief.Prioritizer(byUrgency, flowrelief.Unbounded())
//
// This is a thin wrapper around the stage and buffer packages; both produce
// identical results. Use this package when you prefer the shorter import
// path. Custom accumulators and partitioned stages live in the stage package.
package flowrelief

import (
	"github.com/BaSui01/flowrelief/buffer"
	"github.com/BaSui01/flowrelief/stage"
)

// Option configures a stage created by the constructors in this package.
type Option = stage.Option

// Overflow selects the failsafe applied when a bounded stage fills up.
type Overflow = stage.Overflow

// Overflow strategies, re-exported from the stage package.
const (
	OverflowBackpressure = stage.OverflowBackpressure
	OverflowDropOldest   = stage.OverflowDropOldest
	OverflowDropNewest   = stage.OverflowDropNewest
	OverflowClear        = stage.OverflowClear
	OverflowError        = stage.OverflowError
)

// Re-export stage options so callers never need to import stage/ for the
// common knobs.

// WithLogger sets a custom zap logger.
var WithLogger = stage.WithLogger

// WithOverflow selects the overflow failsafe for bounded stages.
var WithOverflow = stage.WithOverflow

// WithMetrics registers stage metrics with a Prometheus registerer.
var WithMetrics = stage.WithMetrics

// WithEmitRate paces downstream emissions.
var WithEmitRate = stage.WithEmitRate

// Bounded returns a buffer configuration with the given capacity and
// comparator extraction order.
func Bounded(capacity int) buffer.Config {
	return buffer.Config{Capacity: capacity, Ordering: buffer.OrderComparator}
}

// Unbounded returns a buffer configuration with no capacity bound and
// comparator extraction order.
func Unbounded() buffer.Config {
	return buffer.DefaultConfig()
}

// Conflater builds a stage that collapses reducible messages under
// backpressure using r.
func Conflater[T any](r buffer.Reducer[T], cfg buffer.Config, opts ...Option) *stage.Stage[T, T] {
	return stage.NewConflater(r, cfg, opts...)
}

// Batcher builds a stage that binds incoming messages with bind before
// accumulating them under r.
func Batcher[M, T any](bind stage.Binding[M, T], r buffer.Reducer[T], cfg buffer.Config, opts ...Option) *stage.Stage[M, T] {
	return stage.NewBatcher(bind, r, cfg, opts...)
}

// Buffered builds a FIFO stage that absorbs bursts without combining
// messages. Negative capacity means unbounded.
func Buffered[T any](capacity int, opts ...Option) *stage.Stage[T, T] {
	return stage.NewBuffered[T](capacity, opts...)
}

// Prioritizer builds a stage that reorders buffered messages by cmp without
// ever combining them.
func Prioritizer[T any](cmp func(a, b T) int, cfg buffer.Config, opts ...Option) *stage.Stage[T, T] {
	return stage.NewPrioritizer(cmp, cfg, opts...)
}
