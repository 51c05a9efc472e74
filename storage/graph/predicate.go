package graph

import (
	"fmt"

	"github.com/jrife/strata/storage/schema"
)

// Snapshot is a value copy of a record. Predicates and sort
// descriptors are evaluated over snapshots, never over live
// records.
type Snapshot struct {
	Entity string
	ID     string
	Values map[string]interface{}
}

// Matcher reports whether a snapshot satisfies a bound predicate
type Matcher func(snapshot Snapshot) bool

// Predicate filters the records returned by a fetch. Bind checks
// the predicate against the entity being fetched and returns the
// matcher used to evaluate it.
type Predicate interface {
	Bind(entity *schema.Entity) (Matcher, error)
}

// PredicateFunc adapts an ordinary function to a Predicate.
// It is not checked against the schema.
type PredicateFunc func(snapshot Snapshot) bool

// Bind implements Predicate.Bind
func (fn PredicateFunc) Bind(entity *schema.Entity) (Matcher, error) {
	return Matcher(fn), nil
}

type comparison struct {
	field string
	value interface{}
	op    string
	test  func(c int) bool
}

// Eq matches records whose field equals value
func Eq(field string, value interface{}) Predicate {
	return &comparison{field: field, value: value, op: "=", test: func(c int) bool { return c == 0 }}
}

// Ne matches records whose field does not equal value
func Ne(field string, value interface{}) Predicate {
	return &comparison{field: field, value: value, op: "!=", test: func(c int) bool { return c != 0 }}
}

// Lt matches records whose field is less than value
func Lt(field string, value interface{}) Predicate {
	return &comparison{field: field, value: value, op: "<", test: func(c int) bool { return c < 0 }}
}

// Gt matches records whose field is greater than value
func Gt(field string, value interface{}) Predicate {
	return &comparison{field: field, value: value, op: ">", test: func(c int) bool { return c > 0 }}
}

func (p *comparison) Bind(entity *schema.Entity) (Matcher, error) {
	value, err := entity.Normalize(p.field, p.value)

	if err != nil {
		return nil, fmt.Errorf("could not bind %s %s %v: %w", p.field, p.op, p.value, err)
	}

	return func(snapshot Snapshot) bool {
		return p.test(compare(snapshot.Values[p.field], value))
	}, nil
}

type in struct {
	field  string
	values []interface{}
}

// In matches records whose field equals one of values
func In(field string, values ...interface{}) Predicate {
	return &in{field: field, values: values}
}

func (p *in) Bind(entity *schema.Entity) (Matcher, error) {
	values := make([]interface{}, len(p.values))

	for i, value := range p.values {
		normalized, err := entity.Normalize(p.field, value)

		if err != nil {
			return nil, fmt.Errorf("could not bind %s in %v: %w", p.field, p.values, err)
		}

		values[i] = normalized
	}

	return func(snapshot Snapshot) bool {
		for _, value := range values {
			if compare(snapshot.Values[p.field], value) == 0 {
				return true
			}
		}

		return false
	}, nil
}

type junction struct {
	predicates []Predicate
	and        bool
}

// And matches records that satisfy every predicate.
// And() matches everything.
func And(predicates ...Predicate) Predicate {
	return &junction{predicates: predicates, and: true}
}

// Or matches records that satisfy at least one predicate.
// Or() matches nothing.
func Or(predicates ...Predicate) Predicate {
	return &junction{predicates: predicates}
}

func (p *junction) Bind(entity *schema.Entity) (Matcher, error) {
	matchers, err := bindAll(entity, p.predicates)

	if err != nil {
		return nil, err
	}

	return func(snapshot Snapshot) bool {
		for _, matcher := range matchers {
			if matcher(snapshot) != p.and {
				return !p.and
			}
		}

		return p.and
	}, nil
}

type not struct {
	predicate Predicate
}

// Not inverts a predicate
func Not(predicate Predicate) Predicate {
	return &not{predicate: predicate}
}

func (p *not) Bind(entity *schema.Entity) (Matcher, error) {
	matcher, err := bind(entity, p.predicate)

	if err != nil {
		return nil, err
	}

	return func(snapshot Snapshot) bool {
		return !matcher(snapshot)
	}, nil
}

func bindAll(entity *schema.Entity, predicates []Predicate) ([]Matcher, error) {
	matchers := make([]Matcher, len(predicates))

	for i, predicate := range predicates {
		matcher, err := bind(entity, predicate)

		if err != nil {
			return nil, err
		}

		matchers[i] = matcher
	}

	return matchers, nil
}

// bind treats a nil predicate as one that matches everything
func bind(entity *schema.Entity, predicate Predicate) (Matcher, error) {
	if predicate == nil {
		return func(Snapshot) bool { return true }, nil
	}

	return predicate.Bind(entity)
}
