package graph

import (
	"github.com/jrife/strata/storage/schema"
	"github.com/jrife/strata/utils/stream"
	"go.uber.org/zap"
)

// SortDescriptor orders fetch results by one field
type SortDescriptor struct {
	Field      string
	Descending bool
}

// FetchRequest describes a fetch. Results are ordered by the
// sort descriptors and then by id, so the order is stable even
// when no descriptors are given. Offset and Limit apply after
// sorting; values <= 0 disable them.
type FetchRequest struct {
	Predicate Predicate
	Sort      []SortDescriptor
	Limit     int
	Offset    int
}

func (request FetchRequest) comparator(entity *schema.Entity) (func(a, b Snapshot) int, error) {
	for _, descriptor := range request.Sort {
		if _, err := entity.Field(descriptor.Field); err != nil {
			return nil, err
		}
	}

	descriptors := append([]SortDescriptor(nil), request.Sort...)

	return func(a, b Snapshot) int {
		for _, descriptor := range descriptors {
			c := compare(a.Values[descriptor.Field], b.Values[descriptor.Field])

			if descriptor.Descending {
				c = -c
			}

			if c != 0 {
				return c
			}
		}

		return compareOrdered(a.ID, b.ID)
	}, nil
}

// window is how many sorted values the pipeline has to keep
// to serve the request
func (request FetchRequest) window() int {
	if request.Limit <= 0 {
		return -1
	}

	if request.Offset <= 0 {
		return request.Limit
	}

	return request.Offset + request.Limit
}

// evaluate runs the request over a set of snapshots
func (request FetchRequest) evaluate(logger *zap.Logger, entity *schema.Entity, snapshots []Snapshot) ([]Snapshot, error) {
	matcher, err := bind(entity, request.Predicate)

	if err != nil {
		return nil, err
	}

	comparator, err := request.comparator(entity)

	if err != nil {
		return nil, err
	}

	return stream.Collect(stream.Pipeline(
		stream.FromSlice(snapshots),
		stream.Filter(func(snapshot Snapshot) bool { return matcher(snapshot) }),
		stream.Sort(comparator, request.window()),
		stream.Skip[Snapshot](request.Offset),
		stream.Limit[Snapshot](request.Limit),
		stream.Log[Snapshot](logger),
	))
}
