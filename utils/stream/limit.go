package stream

// Limit limits the number of streamed elements
// If limit <= 0 then there is no limit, it will
// return all elements from the source stream.
// Otherwise it will only return up to the first limit
// elements.
func Limit[T any](limit int) Processor[T] {
	if limit <= 0 {
		return nil
	}

	return func(stream Stream[T]) Stream[T] {
		return &limitedStream[T]{stream, limit}
	}
}

type limitedStream[T any] struct {
	Stream[T]
	remaining int
}

func (stream *limitedStream[T]) Next() bool {
	if stream.remaining <= 0 {
		return false
	}

	stream.remaining--

	return stream.Stream.Next()
}

// Skip drops the first n elements of the source stream.
// If n <= 0 nothing is dropped.
func Skip[T any](n int) Processor[T] {
	if n <= 0 {
		return nil
	}

	return func(stream Stream[T]) Stream[T] {
		return &skippedStream[T]{stream, n}
	}
}

type skippedStream[T any] struct {
	Stream[T]
	skip int
}

func (stream *skippedStream[T]) Next() bool {
	for ; stream.skip > 0; stream.skip-- {
		if !stream.Stream.Next() {
			stream.skip = 0

			return false
		}
	}

	return stream.Stream.Next()
}
