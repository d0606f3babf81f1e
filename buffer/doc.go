// Copyright (c) FlowRelief Authors.
// Licensed under the MIT License.

/*
Package buffer implements the ordered reduction buffer: a bounded collection
of pairwise-irreducible elements that actively shrinks its backlog by
combining elements instead of merely storing them.

# Overview

A pluggable [Reducer] decides, for any two elements, whether they combine into
one replacement ([Reduced]) or stay apart with a definite relative order
([Ordered]). On insertion the buffer places the new element at its position in
the irreducible total order and cascades combinations with its
order-neighbors; at quiescence the buffer always holds an irreducible set.
Extraction yields either the comparator-least or the arrival-oldest element,
selected once at construction via [Ordering].

# Core types

  - Reducer / ReducerFunc - the reduce-or-compare strategy
  - Verdict               - tagged Reduced-or-Ordered result
  - Buffer                - dual-index (comparator + arrival) red-black tree buffer
  - Config                - capacity, extraction ordering, reduction depth ceiling
  - CompareOnly           - never-combining reducer for prioritizing-only buffers

# Failure modes

  - ErrBufferFull: recoverable rejection, buffer untouched; the caller's
    overflow strategy decides the consequence
  - ErrReductionDepthExceeded: fatal, a runaway reducer tripped the
    configured cascade ceiling
  - zero Ordered verdict: implementer error, panics at the point of use

A Buffer belongs to exactly one stage instance and must not be shared across
goroutines.
*/
package buffer
