package stage

import (
	"github.com/BaSui01/flowrelief/buffer"
)

// Accumulator is the fold/unfold abstraction behind every buffering strategy:
// Fold absorbs one input into the accumulator state, Unfold attempts to emit
// one output. The ordered reduction buffer is one implementation; a plain
// bounded queue is another. Implementations are driven by a single stage
// goroutine and need no internal locking.
type Accumulator[In, Out any] interface {
	// Fold absorbs one input. A full accumulator reports
	// buffer.ErrBufferFull and must leave its state untouched; any other
	// error is fatal to the stage.
	Fold(in In) error
	// Unfold attempts one emission. It reports false when nothing is
	// currently emittable and never blocks.
	Unfold() (Out, bool)
	// Len returns current occupancy.
	Len() int
	// Full reports whether the next Fold would be rejected.
	Full() bool
}

// Binding lifts an incoming message into the accumulator's element type
// before insertion, for stages whose buffered elements are containers rather
// than raw messages. It must be pure, total and side-effect free; a message
// the binding cannot represent is a caller configuration error, not a runtime
// condition.
type Binding[M, T any] func(M) T

// Identity is the binding for stages that buffer raw messages.
func Identity[T any]() Binding[T, T] {
	return func(v T) T { return v }
}

// Queue is the identity specialization: Fold appends, Unfold pops the oldest
// entry. It demonstrates that the fold/unfold engine strictly generalizes
// plain bounded buffering.
type Queue[T any] struct {
	items    []T
	capacity int
}

// NewQueue creates a FIFO accumulator. A negative capacity means unbounded;
// zero always rejects.
func NewQueue[T any](capacity int) *Queue[T] {
	if capacity < 0 {
		capacity = buffer.Unbounded
	}
	return &Queue[T]{capacity: capacity}
}

func (q *Queue[T]) Fold(in T) error {
	if q.Full() {
		return buffer.ErrBufferFull
	}
	q.items = append(q.items, in)
	return nil
}

func (q *Queue[T]) Unfold() (T, bool) {
	if len(q.items) == 0 {
		var zero T
		return zero, false
	}
	v := q.items[0]
	q.items = q.items[1:]
	return v, true
}

func (q *Queue[T]) Len() int { return len(q.items) }

func (q *Queue[T]) Full() bool {
	return q.capacity != buffer.Unbounded && len(q.items) >= q.capacity
}

// reduction adapts a buffer.Buffer to the Accumulator interface: fold is
// insert, unfold is extract-next.
type reduction[T any] struct {
	buf *buffer.Buffer[T]
}

// Reduction wraps an ordered reduction buffer as an accumulator.
func Reduction[T any](buf *buffer.Buffer[T]) Accumulator[T, T] {
	return &reduction[T]{buf: buf}
}

func (r *reduction[T]) Fold(in T) error     { return r.buf.Insert(in) }
func (r *reduction[T]) Unfold() (T, bool)   { return r.buf.ExtractNext() }
func (r *reduction[T]) Len() int            { return r.buf.Len() }
func (r *reduction[T]) Full() bool          { return r.buf.Full() }
func (r *reduction[T]) Stats() buffer.Stats { return r.buf.Stats() }

// bound composes a Binding in front of an accumulator, converting each
// incoming message before it is folded.
type bound[M, T any] struct {
	bind  Binding[M, T]
	inner Accumulator[T, T]
}

// Bound wraps an accumulator so every input is lifted through bind first.
func Bound[M, T any](bind Binding[M, T], inner Accumulator[T, T]) Accumulator[M, T] {
	return &bound[M, T]{bind: bind, inner: inner}
}

func (b *bound[M, T]) Fold(in M) error   { return b.inner.Fold(b.bind(in)) }
func (b *bound[M, T]) Unfold() (T, bool) { return b.inner.Unfold() }
func (b *bound[M, T]) Len() int          { return b.inner.Len() }
func (b *bound[M, T]) Full() bool        { return b.inner.Full() }

func (b *bound[M, T]) Stats() buffer.Stats {
	if s, ok := b.inner.(statser); ok {
		return s.Stats()
	}
	return buffer.Stats{}
}

// statser is implemented by accumulators backed by a reduction buffer.
type statser interface {
	Stats() buffer.Stats
}
