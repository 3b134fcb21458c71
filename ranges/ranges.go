// Package ranges provides an interval index: a sorted set of
// non-overlapping, half-open intervals that map to a value.
//
// It backs the run lists of address spaces and the per-translator
// cache of virtual regions.
package ranges

import (
	"fmt"
	"sort"
)

// Range is a half-open interval [Start, End) and its value.
type Range[T any] struct {
	Start uint64
	End   uint64
	Value T
}

// Contains returns true if addr falls inside the range.
func (o Range[T]) Contains(addr uint64) bool {
	return addr >= o.Start && addr < o.End
}

// Len returns the length of the range in bytes.
func (o Range[T]) Len() uint64 {
	return o.End - o.Start
}

// Collection is an interval index. The zero value is ready to use.
//
// Intervals may be inserted in any order. When an insert overlaps
// existing intervals, the existing intervals are trimmed (or split)
// so that the most recent insert wins at the overlapping addresses.
// Values are never modified when an interval is trimmed, so a value
// that needs to know its original start must carry it itself.
type Collection[T any] struct {
	ranges []Range[T]
}

// Insert stores the interval [start, end) with the specified value.
func (o *Collection[T]) Insert(start uint64, end uint64, value T) error {
	if end <= start {
		return fmt.Errorf("invalid range 0x%x-0x%x - end must be greater than start",
			start, end)
	}

	// First range that ends after start. Everything before it
	// is unaffected by this insert.
	i := sort.Search(len(o.ranges), func(i int) bool {
		return o.ranges[i].End > start
	})

	var kept []Range[T]
	j := i
	for ; j < len(o.ranges) && o.ranges[j].Start < end; j++ {
		existing := o.ranges[j]

		if existing.Start < start {
			kept = append(kept, Range[T]{
				Start: existing.Start,
				End:   start,
				Value: existing.Value,
			})
		}

		if existing.End > end {
			kept = append(kept, Range[T]{
				Start: end,
				End:   existing.End,
				Value: existing.Value,
			})
		}
	}

	replacement := make([]Range[T], 0, len(kept)+1)
	for _, r := range kept {
		if r.Start < start {
			replacement = append(replacement, r)
		}
	}
	replacement = append(replacement, Range[T]{Start: start, End: end, Value: value})
	for _, r := range kept {
		if r.Start >= end {
			replacement = append(replacement, r)
		}
	}

	tail := append([]Range[T](nil), o.ranges[j:]...)
	o.ranges = append(append(o.ranges[:i], replacement...), tail...)

	return nil
}

// Lookup returns the range containing addr.
func (o *Collection[T]) Lookup(addr uint64) (Range[T], bool) {
	i := o.search(addr)
	if i < len(o.ranges) && o.ranges[i].Contains(addr) {
		return o.ranges[i], true
	}

	return Range[T]{}, false
}

// Next returns the first range that contains addr or that starts
// after it.
func (o *Collection[T]) Next(addr uint64) (Range[T], bool) {
	i := o.search(addr)
	if i < len(o.ranges) {
		return o.ranges[i], true
	}

	return Range[T]{}, false
}

// Ranges calls fn for every range that ends after from, in ascending
// order. Iteration stops early when fn returns false.
func (o *Collection[T]) Ranges(from uint64, fn func(Range[T]) bool) {
	for i := o.search(from); i < len(o.ranges); i++ {
		if !fn(o.ranges[i]) {
			return
		}
	}
}

// All returns a copy of the stored ranges in ascending order.
func (o *Collection[T]) All() []Range[T] {
	return append([]Range[T](nil), o.ranges...)
}

// Len returns the number of stored ranges.
func (o *Collection[T]) Len() int {
	return len(o.ranges)
}

// search returns the index of the first range whose end is
// greater than addr.
func (o *Collection[T]) search(addr uint64) int {
	return sort.Search(len(o.ranges), func(i int) bool {
		return o.ranges[i].End > addr
	})
}
