package stream

import "github.com/jrife/strata/utils/sortedwindow"

// Sort finds the lowest N elements in a stream as defined by the comparison
// function and returns them in ascending order. If limit > 0 then N = limit,
// otherwise N = the size of the stream. In other words, if limit is <= 0 then
// it sorts the entire collection.
func Sort[T any](compare func(a, b T) int, limit int) Processor[T] {
	return func(stream Stream[T]) Stream[T] {
		return &sortedStream[T]{
			Stream: stream,
			window: sortedwindow.New(sortedwindow.Comparator[T](compare), sortedwindow.WithLimit(limit)),
		}
	}
}

type sortedStream[T any] struct {
	Stream[T]
	window *sortedwindow.SortedMinWindow[T]
	iter   *sortedwindow.Iterator[T]
}

func (stream *sortedStream[T]) Next() bool {
	if stream.iter == nil {
		for stream.Stream.Next() {
			stream.window.Insert(stream.Stream.Value())
		}

		if stream.Stream.Error() != nil {
			return false
		}

		stream.iter = stream.window.Iterator()
	}

	return stream.iter.Next()
}

func (stream *sortedStream[T]) Value() T {
	var zero T

	if stream.iter == nil {
		return zero
	}

	return stream.iter.Value()
}
