// Copyright (c) FlowRelief Authors.
// Licensed under the MIT License.

/*
Package stage provides backpressure-relief stages for pull-based message
pipelines: components interposed between a producer and a consumer channel
that buffer excess messages when the consumer cannot keep pace, and that
actively shrink the backlog by combining or reordering messages instead of
merely storing or discarding them.

# The fold/unfold engine

Every stage is a [Stage] driving an [Accumulator], the two-operation
fold/unfold abstraction over an opaque accumulator state. Fold absorbs one
input, Unfold attempts one emission. The shipped accumulators:

  - Reduction - the ordered reduction buffer from package buffer
  - Bound     - a Binding composed in front of another accumulator
  - Queue     - plain bounded FIFO (identity fold, no reduction)

The engine moves through Idle, Accumulating and Draining as stimuli arrive,
and reaches Done once upstream is exhausted and the accumulator drains. All
processing happens on the single goroutine running Run; a stage instance owns
its accumulator exclusively.

# Stage constructors

  - NewConflater   - combine reducible messages while the consumer lags
  - NewBatcher     - lift messages into containers, then combine containers
  - NewBuffered    - plain bounded FIFO buffering
  - NewPrioritizer - reorder without combining
  - NewPartitioned - N independent instances routed by key

# Overflow

When the accumulator rejects a fold the stage applies the configured
[Overflow] failsafe: transmit backpressure upstream, drop the oldest or the
newest element, clear the whole accumulator, or fail the stage. A
zero-capacity accumulator degenerates to synchronous pass-through: an element
is accepted exactly when downstream is ready to take it.

# Observability

Stages log through zap (WithLogger), export Prometheus instruments
(WithMetrics) and open an OpenTelemetry span per Run.
*/
package stage
