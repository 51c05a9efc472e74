package graph

import (
	"github.com/jrife/strata/utils/lane"
)

// Record is an entity instance owned by exactly one context.
// ID and Entity may be read from any goroutine. Everything else
// requires a token from the owning context's lane.
type Record struct {
	entity   string
	id       string
	context  *Context
	values   map[string]interface{}
	deleted  bool
	detached bool
}

func newRecord(context *Context, entity string, id string, values map[string]interface{}) *Record {
	return &Record{
		entity:  entity,
		id:      id,
		context: context,
		values:  values,
	}
}

// ID returns the record's stable identifier. Only the id,
// never the record, may be handed to another context.
func (record *Record) ID() string {
	return record.id
}

// Entity returns the name of the record's entity
func (record *Record) Entity() string {
	return record.entity
}

// Context returns the owning context
func (record *Record) Context() *Context {
	return record.context
}

// Get returns the value of a field. Unset fields are nil.
func (record *Record) Get(token lane.Token, field string) (interface{}, error) {
	if err := record.context.check(token); err != nil {
		return nil, err
	}

	record.context.mu.Lock()
	defer record.context.mu.Unlock()

	if err := record.usable(); err != nil {
		return nil, err
	}

	if _, err := record.context.entity(record.entity).Field(field); err != nil {
		return nil, err
	}

	return record.values[field], nil
}

// Set assigns a field and marks the record as updated in its
// context. The value is converted to the field's type.
func (record *Record) Set(token lane.Token, field string, value interface{}) error {
	if err := record.context.check(token); err != nil {
		return err
	}

	record.context.mu.Lock()
	defer record.context.mu.Unlock()

	if err := record.usable(); err != nil {
		return err
	}

	normalized, err := record.context.entity(record.entity).Normalize(field, value)

	if err != nil {
		return err
	}

	if normalized == nil {
		delete(record.values, field)
	} else {
		record.values[field] = normalized
	}

	record.context.markUpdated(record)

	return nil
}

// Fields returns a copy of every set field
func (record *Record) Fields(token lane.Token) (map[string]interface{}, error) {
	if err := record.context.check(token); err != nil {
		return nil, err
	}

	record.context.mu.Lock()
	defer record.context.mu.Unlock()

	if err := record.usable(); err != nil {
		return nil, err
	}

	return copyValues(record.values), nil
}

// Delete marks the record for deletion in its context
func (record *Record) Delete(token lane.Token) error {
	return record.context.Delete(token, record)
}

func (record *Record) usable() error {
	if record.detached {
		return ErrDetached
	}

	if record.deleted {
		return ErrDeleted
	}

	return nil
}

func copyValues(values map[string]interface{}) map[string]interface{} {
	c := make(map[string]interface{}, len(values))

	for field, value := range values {
		c[field] = value
	}

	return c
}
