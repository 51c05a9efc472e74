package sortedwindow

import (
	"github.com/emirpasic/gods/trees/redblacktree"
)

// Comparator is a function that compares two values
// return 0 if they are equal
// return -1 if a < b
// return 1 if a > b
// Values that compare equal collapse into one entry
// so the comparator should be a total order.
type Comparator[T any] func(a, b T) int

type options struct {
	limit int
}

// Option configures a SortedMinWindow
type Option func(*options)

// WithLimit sets the size limit for the
// sorted window.
func WithLimit(l int) Option {
	return func(o *options) {
		o.limit = l
	}
}

// SortedMinWindow is used to sort a stream of values
// when that stream may be too large to buffer in memory
// If limit is positive it sets the window size. If limit
// is negative or zero there is no limit and the window
// will grow to hold the entire data set in memory.
type SortedMinWindow[T any] struct {
	compare Comparator[T]
	limit   int
	tree    *redblacktree.Tree
}

// New creates a new SortedMinWindow.
func New[T any](comparator Comparator[T], opts ...Option) *SortedMinWindow[T] {
	o := options{limit: -1}

	for _, opt := range opts {
		opt(&o)
	}

	return &SortedMinWindow[T]{
		compare: comparator,
		limit:   o.limit,
		tree: redblacktree.NewWith(func(a, b interface{}) int {
			return comparator(a.(T), b.(T))
		}),
	}
}

// Insert attempts to insert obj into the window. If limit is <= 0
// it will be inserted. If limit > 0 and size has not yet hit limit then
// it will be inserted. If limit > 0 and size has hit limit and obj >=
// the max value in the window then it will not be inserted.
// If limit > 0 and size has hit limit and obj < the max value in
// the window then it will be inserted and the max value will be removed.
func (sortedWindow *SortedMinWindow[T]) Insert(obj T) {
	if sortedWindow.limit <= 0 || sortedWindow.tree.Size() < sortedWindow.limit {
		sortedWindow.tree.Put(obj, nil)

		return
	}

	max := sortedWindow.tree.Right().Key

	// Keep only the smallest N values that we see, where N = limit
	if sortedWindow.compare(obj, max.(T)) < 0 {
		sortedWindow.tree.Remove(max)
		sortedWindow.tree.Put(obj, nil)
	}
}

// Iterator returns an iterator for the window that returns
// values in ascending order
func (sortedWindow *SortedMinWindow[T]) Iterator() *Iterator[T] {
	return &Iterator[T]{iter: sortedWindow.tree.Iterator()}
}

// Size returns the number of elements in the window
func (sortedWindow *SortedMinWindow[T]) Size() int {
	return sortedWindow.tree.Size()
}

// Iterator is an iterator for a sorted window
type Iterator[T any] struct {
	iter redblacktree.Iterator
}

// Next advances the iterator. It must be called
// once to advance to the first position. It returns
// true if there is another value available, false
// otherwise
func (iter *Iterator[T]) Next() bool {
	return iter.iter.Next()
}

// Value returns the value at the current position
func (iter *Iterator[T]) Value() T {
	return iter.iter.Key().(T)
}
