package buffer

import (
	"errors"
	"fmt"

	"github.com/emirpasic/gods/trees/redblacktree"
	"github.com/emirpasic/gods/utils"
)

var (
	// ErrBufferFull is returned by Insert when the buffer is at capacity.
	// It is a recoverable rejection: the buffer is left untouched and the
	// caller's overflow strategy decides what happens next.
	ErrBufferFull = errors.New("reduction buffer full")

	// ErrReductionDepthExceeded is returned by Insert when a single
	// insertion triggered more cascading reductions than the configured
	// ceiling allows. It signals a misbehaving reducer and is fatal: the
	// in-flight combined element is discarded (the remaining contents are
	// untouched and still pairwise irreducible), and the owning stage is
	// expected to tear the buffer down.
	ErrReductionDepthExceeded = errors.New("reduction depth ceiling exceeded")
)

// Unbounded is the capacity value for a buffer with no size limit.
const Unbounded = -1

// Ordering selects which element ExtractNext yields. It is fixed at
// construction and affects only extraction, never insertion.
type Ordering int

const (
	// OrderComparator yields the least element under the reducer's
	// irreducible total order. This is the default.
	OrderComparator Ordering = iota
	// OrderArrival yields the element with the smallest arrival sequence
	// number. A combined element inherits the earlier of its parents'
	// sequence numbers, so reductions can move an element ahead of
	// later-arriving neighbors under this policy.
	OrderArrival
)

func (o Ordering) String() string {
	switch o {
	case OrderArrival:
		return "arrival"
	default:
		return "comparator"
	}
}

// Config configures a Buffer.
//
// The zero value is a zero-capacity, comparator-ordered buffer: every Insert
// is rejected with ErrBufferFull, degenerating to synchronous pass-through at
// the stage level. Use DefaultConfig for an unbounded buffer.
type Config struct {
	// Capacity is the maximum number of elements held at once.
	// Unbounded (-1) disables the limit; 0 rejects every insert.
	Capacity int
	// Ordering selects the extraction policy.
	Ordering Ordering
	// MaxReductionDepth caps the number of successful reductions a single
	// Insert may cascade through. Zero disables the ceiling, in which case
	// a reducer that never reaches an irreducible state loops without
	// bound.
	MaxReductionDepth int
}

// DefaultConfig returns an unbounded buffer configuration with
// comparator-ordered extraction and no reduction depth ceiling.
func DefaultConfig() Config {
	return Config{Capacity: Unbounded}
}

// Stats counts buffer activity since construction.
type Stats struct {
	Inserted       int64 // elements accepted by Insert
	Reductions     int64 // successful pairwise combinations
	Extracted      int64 // elements yielded by ExtractNext
	Rejected       int64 // inserts refused with ErrBufferFull
	DeepestCascade int   // longest reduction cascade seen in one Insert
}

// Entry is an element together with its arrival sequence number, as exposed
// by Entries for inspection and testing.
type Entry[T any] struct {
	Value T
	Seq   uint64
}

// entry is the handle shared by both indexes.
type entry[T any] struct {
	elem T
	seq  uint64
}

// Buffer is an ordered collection of pairwise-irreducible elements.
//
// Insertion locates the position the new element would occupy under the
// reducer's irreducible total order, tests it against its two order-neighbors
// for reducibility, and cascades combinations until the element settles.
// Extraction yields one element per the configured Ordering.
//
// Internally the buffer keeps two red-black trees over the same element
// handles: a primary index in comparator order and a secondary index in
// arrival order, updated together on every mutation. Both insertion and
// extraction are O(log b) in buffer occupancy, amortized across reductions
// (each successful reduction shrinks the buffer by one, bounding total
// reduction work over the buffer's lifetime).
//
// A Buffer is owned by a single stage instance and is not safe for concurrent
// use.
type Buffer[T any] struct {
	reducer   Reducer[T]
	byOrder   *redblacktree.Tree // key *entry[T]
	byArrival *redblacktree.Tree // key uint64 seq, value *entry[T]
	cfg       Config
	nextSeq   uint64
	stats     Stats
}

// New creates a Buffer using r to combine and order elements.
func New[T any](r Reducer[T], cfg Config) *Buffer[T] {
	if r == nil {
		panic("buffer: nil reducer")
	}
	if cfg.Capacity < 0 {
		cfg.Capacity = Unbounded
	}
	b := &Buffer[T]{reducer: r, cfg: cfg}
	b.byOrder = redblacktree.NewWith(b.compareEntries)
	b.byArrival = redblacktree.NewWith(utils.UInt64Comparator)
	return b
}

// compareEntries orders handles by the reducer's Ordered branch. A reducible
// pair compares as equal, which during neighbor searches lands the probe
// exactly on its reduce partner.
func (b *Buffer[T]) compareEntries(a, other interface{}) int {
	ea := a.(*entry[T])
	eb := other.(*entry[T])
	if ea == eb {
		return 0
	}
	v := b.reducer.ReduceOrCompare(ea.elem, eb.elem)
	if v.reduced {
		return 0
	}
	switch {
	case v.order < 0:
		return -1
	case v.order > 0:
		return 1
	}
	panic("buffer: reducer returned zero ordering for distinct elements")
}

// Insert adds elem to the buffer, combining it with existing elements as the
// reducer dictates. It never blocks: it either succeeds, reports
// ErrBufferFull before touching any state, or (with a configured ceiling)
// fails with ErrReductionDepthExceeded.
//
// The capacity check happens up front. An insertion that triggers reduction
// can only shrink or preserve occupancy, so a buffer below capacity never
// rejects.
func (b *Buffer[T]) Insert(elem T) error {
	if b.Full() {
		b.stats.Rejected++
		return ErrBufferFull
	}
	e := &entry[T]{elem: elem, seq: b.nextSeq}
	b.nextSeq++
	b.stats.Inserted++
	return b.settle(e)
}

// settle runs the cascading-reduction worklist: while the pending element has
// a reducible order-neighbor, remove the neighbor, combine, and retry with
// the combined element. An explicit loop rather than call recursion keeps a
// runaway reducer from growing the goroutine stack and lets the depth ceiling
// apply cleanly.
func (b *Buffer[T]) settle(e *entry[T]) error {
	depth := 0
	for {
		partner, combined, ok := b.reduciblePartner(e)
		if !ok {
			b.link(e)
			return nil
		}
		if b.cfg.MaxReductionDepth > 0 && depth >= b.cfg.MaxReductionDepth {
			// The pending element is still reducible, so it cannot be
			// linked without risking a zero compare against its
			// partner. It is dropped; the remaining set is untouched
			// and still pairwise irreducible.
			return fmt.Errorf("%w: %d reductions in one insert", ErrReductionDepthExceeded, depth)
		}
		b.unlink(partner)
		seq := e.seq
		if partner.seq < seq {
			seq = partner.seq
		}
		e = &entry[T]{elem: combined, seq: seq}
		depth++
		b.stats.Reductions++
		if depth > b.stats.DeepestCascade {
			b.stats.DeepestCascade = depth
		}
	}
}

// reduciblePartner probes the pending element's order-neighbors (at most two
// candidates) for reducibility. The buffered element is passed as the first
// reducer argument.
func (b *Buffer[T]) reduciblePartner(e *entry[T]) (*entry[T], T, bool) {
	if node, found := b.byOrder.Floor(e); found {
		fe := node.Key.(*entry[T])
		if v := b.reducer.ReduceOrCompare(fe.elem, e.elem); v.reduced {
			return fe, v.combined, true
		}
	}
	if node, found := b.byOrder.Ceiling(e); found {
		ce := node.Key.(*entry[T])
		if v := b.reducer.ReduceOrCompare(ce.elem, e.elem); v.reduced {
			return ce, v.combined, true
		}
	}
	var zero T
	return nil, zero, false
}

func (b *Buffer[T]) link(e *entry[T]) {
	b.byOrder.Put(e, nil)
	b.byArrival.Put(e.seq, e)
}

func (b *Buffer[T]) unlink(e *entry[T]) {
	b.byOrder.Remove(e)
	b.byArrival.Remove(e.seq)
}

// ExtractNext removes and returns the next element per the configured
// Ordering. It reports false on an empty buffer and never blocks.
func (b *Buffer[T]) ExtractNext() (T, bool) {
	e, ok := b.next()
	if !ok {
		var zero T
		return zero, false
	}
	b.unlink(e)
	b.stats.Extracted++
	return e.elem, true
}

// Peek returns the element ExtractNext would yield without removing it.
func (b *Buffer[T]) Peek() (T, bool) {
	e, ok := b.next()
	if !ok {
		var zero T
		return zero, false
	}
	return e.elem, true
}

func (b *Buffer[T]) next() (*entry[T], bool) {
	if b.cfg.Ordering == OrderArrival {
		node := b.byArrival.Left()
		if node == nil {
			return nil, false
		}
		return node.Value.(*entry[T]), true
	}
	node := b.byOrder.Left()
	if node == nil {
		return nil, false
	}
	return node.Key.(*entry[T]), true
}

// Len returns the current occupancy.
func (b *Buffer[T]) Len() int { return b.byOrder.Size() }

// Full reports whether the buffer is at capacity. Callers are expected to
// check it (or rely on Insert's rejection) before applying overflow handling.
func (b *Buffer[T]) Full() bool {
	return b.cfg.Capacity != Unbounded && b.byOrder.Size() >= b.cfg.Capacity
}

// Cap returns the configured capacity, or Unbounded.
func (b *Buffer[T]) Cap() int { return b.cfg.Capacity }

// Policy returns the configured extraction ordering.
func (b *Buffer[T]) Policy() Ordering { return b.cfg.Ordering }

// Clear discards all buffered elements. Stage teardown is immediate
// deallocation; nothing is flushed.
func (b *Buffer[T]) Clear() {
	b.byOrder.Clear()
	b.byArrival.Clear()
}

// Stats returns activity counters since construction.
func (b *Buffer[T]) Stats() Stats { return b.stats }

// Entries returns the buffered elements in comparator order together with
// their arrival sequence numbers.
func (b *Buffer[T]) Entries() []Entry[T] {
	out := make([]Entry[T], 0, b.byOrder.Size())
	for _, k := range b.byOrder.Keys() {
		e := k.(*entry[T])
		out = append(out, Entry[T]{Value: e.elem, Seq: e.seq})
	}
	return out
}
