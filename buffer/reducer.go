package buffer

// Verdict is the result of testing two elements against each other: either
// they combine into a single replacement element, or they are irreducible and
// carry a definite relative order.
//
// Construct verdicts with [Reduced] or [Ordered]; the zero value is invalid
// and will panic inside the buffer.
type Verdict[T any] struct {
	reduced  bool
	combined T
	order    float64
}

// Reduced reports that the two elements combine into a single replacement.
func Reduced[T any](combined T) Verdict[T] {
	return Verdict[T]{reduced: true, combined: combined}
}

// Ordered reports that the two elements are irreducible, with order giving
// their relative position: negative means the first argument precedes the
// second. A zero order is a contract violation: irreducible elements must
// always be strictly ordered, otherwise extraction order would be ambiguous.
func Ordered[T any](order float64) Verdict[T] {
	return Verdict[T]{order: order}
}

// IsReduced reports whether the verdict carries a combined replacement.
func (v Verdict[T]) IsReduced() bool { return v.reduced }

// Combined returns the replacement element of a Reduced verdict.
// For an Ordered verdict it returns the zero value.
func (v Verdict[T]) Combined() T { return v.combined }

// Order returns the relative order of an Ordered verdict.
func (v Verdict[T]) Order() float64 { return v.order }

// Reducer decides, for any two elements the buffer may hold at the same time,
// whether they combine or how they are ordered.
//
// The buffer may invoke ReduceOrCompare with its arguments in either
// orientation, so implementations must be antisymmetric in the Ordered sign
// (swapping a and b flips the sign) and orientation-independent in whether a
// pair reduces. On the irreducible subset the induced relation must be a
// strict total order; the buffer does not verify transitivity at runtime
// (doing so would cost O(b) per insertion) and behaves unpredictably if it is
// violated.
//
// A reducer that keeps reporting Reduced forever makes a single Insert loop
// without bound; see [WithMaxReductionDepth] for the configurable safety
// valve.
type Reducer[T any] interface {
	ReduceOrCompare(a, b T) Verdict[T]
}

// ReducerFunc adapts an ordinary function to the Reducer interface.
type ReducerFunc[T any] func(a, b T) Verdict[T]

// ReduceOrCompare calls f(a, b).
func (f ReducerFunc[T]) ReduceOrCompare(a, b T) Verdict[T] { return f(a, b) }

// CompareOnly builds a Reducer that never combines: every pair is ordered by
// cmp, which must return a nonzero value for distinct elements (classic
// three-way comparator contract, minus ties). This is the reducer behind
// prioritizing-only stages, where the buffer degenerates to a plain sorting
// buffer.
func CompareOnly[T any](cmp func(a, b T) int) Reducer[T] {
	return ReducerFunc[T](func(a, b T) Verdict[T] {
		return Ordered[T](float64(cmp(a, b)))
	})
}
