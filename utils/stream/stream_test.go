package stream_test

import (
	"errors"
	"math/rand"
	"sort"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/jrife/strata/utils/stream"
	"go.uber.org/zap"
)

// ints streams n distinct values in random order.
// Distinct values keep the sorted window from collapsing
// duplicates.
func ints(n int) stream.Stream[int] {
	values := rand.Perm(n)

	for i := range values {
		values[i] -= n / 2
	}

	return stream.FromSlice(values)
}

func record(record *[]int) stream.Processor[int] {
	*record = []int{}

	return func(s stream.Stream[int]) stream.Stream[int] {
		return &streamRecorder{s, record}
	}
}

type streamRecorder struct {
	stream.Stream[int]
	record *[]int
}

func (stream *streamRecorder) Next() bool {
	if !stream.Stream.Next() {
		return false
	}

	*stream.record = append(*stream.record, stream.Value())

	return true
}

func Drain(s stream.Stream[int]) {
	for s.Next() {
	}
}

func Filter(ints []int, filter func(a int) bool) []int {
	filteredInts := []int{}

	for _, i := range ints {
		if filter(i) {
			filteredInts = append(filteredInts, i)
		}
	}

	return filteredInts
}

func Sort(ints []int) []int {
	sorted := append([]int{}, ints...)
	sort.Ints(sorted)

	return sorted
}

func Limit(ints []int, limit int) []int {
	if limit <= 0 || limit > len(ints) {
		return ints
	}

	return ints[:limit]
}

func Skip(ints []int, n int) []int {
	if n <= 0 {
		return ints
	}

	if n > len(ints) {
		return []int{}
	}

	return ints[n:]
}

func Reverse(ints []int) []int {
	reversed := []int{}

	for i := len(ints) - 1; i >= 0; i-- {
		reversed = append(reversed, ints[i])
	}

	return reversed
}

func Negate(compare func(a, b int) int) func(a, b int) int {
	return func(a, b int) int {
		return -1 * compare(a, b)
	}
}

func compare(a, b int) int {
	if a < b {
		return -1
	} else if a > b {
		return 1
	}

	return 0
}

func TestStream(t *testing.T) {
	positive := func(a int) bool { return a > 0 }
	limit := 10

	input := []int{}
	output := []int{}

	Drain(stream.Pipeline(ints(1000), record(&input), stream.Filter(positive), stream.Sort(compare, -1), stream.Limit[int](limit), record(&output)))
	diff := cmp.Diff(Limit(Sort(Filter(input, positive)), limit), output)

	if diff != "" {
		t.Fatal(diff)
	}

	Drain(stream.Pipeline(ints(1000), record(&input), stream.Filter(positive), stream.Sort(compare, -1), record(&output)))
	diff = cmp.Diff(Sort(Filter(input, positive)), output)

	if diff != "" {
		t.Fatal(diff)
	}

	Drain(stream.Pipeline(ints(1000), record(&input), stream.Filter(positive), stream.Sort(Negate(compare), -1), record(&output)))
	diff = cmp.Diff(Reverse(Sort(Filter(input, positive))), output)

	if diff != "" {
		t.Fatal(diff)
	}

	Drain(stream.Pipeline(ints(1000), record(&input), stream.Filter(positive), stream.Sort(Negate(compare), -1), stream.Limit[int](limit), record(&output)))
	diff = cmp.Diff(Limit(Reverse(Sort(Filter(input, positive))), limit), output)

	if diff != "" {
		t.Fatal(diff)
	}
}

func TestSkip(t *testing.T) {
	testCases := map[string]struct {
		skip  int
		limit int
	}{
		"no-skip":          {skip: 0, limit: 5},
		"skip-some":        {skip: 3, limit: 5},
		"skip-everything":  {skip: 2000, limit: 5},
		"skip-no-limit":    {skip: 10, limit: 0},
		"negative-skip":    {skip: -1, limit: 0},
		"skip-then-limit0": {skip: 999, limit: 0},
	}

	for name, testCase := range testCases {
		t.Run(name, func(t *testing.T) {
			input := []int{}
			output := []int{}

			Drain(stream.Pipeline(ints(1000), record(&input), stream.Sort(compare, -1), stream.Skip[int](testCase.skip), stream.Limit[int](testCase.limit), record(&output)))
			diff := cmp.Diff(Limit(Skip(Sort(input), testCase.skip), testCase.limit), output)

			if diff != "" {
				t.Fatal(diff)
			}
		})
	}
}

func TestCollect(t *testing.T) {
	values, err := stream.Collect(stream.FromSlice([]string{}))

	if err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	if values == nil || len(values) != 0 {
		t.Fatalf("expected an empty non-nil slice, got %#v", values)
	}

	values, err = stream.Collect(stream.Pipeline(stream.FromSlice([]string{"a", "b", "c"}), stream.Log[string](zap.NewNop())))

	if err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	if diff := cmp.Diff([]string{"a", "b", "c"}, values); diff != "" {
		t.Fatal(diff)
	}
}

type failingStream struct {
	err error
}

func (s *failingStream) Next() bool   { return false }
func (s *failingStream) Value() int   { return 0 }
func (s *failingStream) Error() error { return s.err }

func TestCollectError(t *testing.T) {
	errBroken := errors.New("broken")

	_, err := stream.Collect(stream.Pipeline[int](&failingStream{errBroken}, stream.Sort(compare, -1)))

	if !errors.Is(err, errBroken) {
		t.Fatalf("expected %#v, got %#v", errBroken, err)
	}
}
