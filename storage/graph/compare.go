package graph

import (
	"fmt"
	"time"
)

// compare orders two normalized field values. nil sorts before
// everything else. Values of different types are ordered by type
// name so the ordering stays total.
func compare(a, b interface{}) int {
	if a == nil || b == nil {
		switch {
		case a == nil && b == nil:
			return 0
		case a == nil:
			return -1
		}

		return 1
	}

	switch x := a.(type) {
	case string:
		if y, ok := b.(string); ok {
			return compareOrdered(x, y)
		}
	case int64:
		switch y := b.(type) {
		case int64:
			return compareOrdered(x, y)
		case float64:
			return compareOrdered(float64(x), y)
		}
	case float64:
		switch y := b.(type) {
		case float64:
			return compareOrdered(x, y)
		case int64:
			return compareOrdered(x, float64(y))
		}
	case bool:
		if y, ok := b.(bool); ok {
			switch {
			case x == y:
				return 0
			case !x:
				return -1
			}

			return 1
		}
	case time.Time:
		if y, ok := b.(time.Time); ok {
			switch {
			case x.Before(y):
				return -1
			case x.After(y):
				return 1
			}

			return 0
		}
	}

	return compareOrdered(fmt.Sprintf("%T", a), fmt.Sprintf("%T", b))
}

func compareOrdered[T string | int64 | float64](a, b T) int {
	if a < b {
		return -1
	} else if a > b {
		return 1
	}

	return 0
}
