package schema

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"
)

// Type is the type of a field
type Type string

const (
	// String fields hold string values
	String Type = "string"
	// Int fields hold int64 values
	Int Type = "int"
	// Float fields hold float64 values
	Float Type = "float"
	// Bool fields hold bool values
	Bool Type = "bool"
	// Time fields hold time.Time values
	Time Type = "time"
)

// Valid returns true if t is one of the known types
func (t Type) Valid() bool {
	switch t {
	case String, Int, Float, Bool, Time:
		return true
	}

	return false
}

// Normalize converts value to t's canonical Go representation.
// Integers of any width become int64, numbers become float64 for
// float fields and times are accepted as time.Time or RFC 3339
// strings. NaN, infinities and times outside years 0 through
// 9999 are rejected. nil stays nil.
func (t Type) Normalize(value interface{}) (interface{}, error) {
	if value == nil {
		return nil, nil
	}

	var normalized interface{}
	var ok bool

	switch t {
	case String:
		normalized, ok = value.(string)
	case Int:
		normalized, ok = toInt(value)
	case Float:
		normalized, ok = toFloat(value)
	case Bool:
		normalized, ok = value.(bool)
	case Time:
		normalized, ok = toTime(value)
	default:
		return nil, fmt.Errorf("%w: unknown type %q", ErrTypeMismatch, t)
	}

	if !ok {
		return nil, fmt.Errorf("%w: expected %s, got %T", ErrTypeMismatch, t, value)
	}

	return normalized, nil
}

func toInt(value interface{}) (int64, bool) {
	switch v := value.(type) {
	case int:
		return int64(v), true
	case int8:
		return int64(v), true
	case int16:
		return int64(v), true
	case int32:
		return int64(v), true
	case int64:
		return v, true
	case uint:
		return int64(v), uint64(v) <= math.MaxInt64
	case uint8:
		return int64(v), true
	case uint16:
		return int64(v), true
	case uint32:
		return int64(v), true
	case uint64:
		return int64(v), v <= math.MaxInt64
	case float64:
		return int64(v), v == math.Trunc(v) && math.Abs(v) < math.MaxInt64
	case json.Number:
		i, err := v.Int64()

		return i, err == nil
	}

	return 0, false
}

// toFloat accepts finite numbers only since NaN and infinities
// have no JSON encoding
func toFloat(value interface{}) (float64, bool) {
	switch v := value.(type) {
	case float32:
		return float64(v), finite(float64(v))
	case float64:
		return v, finite(v)
	case json.Number:
		f, err := v.Float64()

		return f, err == nil && finite(f)
	}

	if i, ok := toInt(value); ok {
		return float64(i), true
	}

	return 0, false
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

func toTime(value interface{}) (time.Time, bool) {
	switch v := value.(type) {
	case time.Time:
		return v.Round(0), encodable(v)
	case string:
		t, err := time.Parse(time.RFC3339Nano, v)

		return t, err == nil && encodable(t)
	}

	return time.Time{}, false
}

// encodable reports whether t has an RFC 3339 form
func encodable(t time.Time) bool {
	year := t.Year()

	return year >= 0 && year <= 9999
}

// Parse converts text, such as a command line argument, to t's
// canonical representation
func (t Type) Parse(text string) (interface{}, error) {
	var value interface{}
	var err error

	switch t {
	case String, Time:
		return t.Normalize(text)
	case Int:
		value, err = strconv.ParseInt(text, 10, 64)
	case Float:
		value, err = strconv.ParseFloat(text, 64)
	case Bool:
		value, err = strconv.ParseBool(text)
	default:
		return nil, fmt.Errorf("%w: unknown type %q", ErrTypeMismatch, t)
	}

	if err != nil {
		return nil, fmt.Errorf("%w: %q is not a valid %s", ErrTypeMismatch, text, t)
	}

	return value, nil
}
