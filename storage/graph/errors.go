package graph

import (
	"errors"
	"fmt"

	"github.com/jrife/strata/storage/kv"
	"github.com/jrife/strata/storage/schema"
)

var (
	// ErrClosed is returned when the coordinator's store was closed
	ErrClosed = errors.New("coordinator was closed")
	// ErrNotFound is returned by Get when no record with the
	// requested id is visible to the context
	ErrNotFound = errors.New("record not found")
	// ErrDeleted is returned by operations on a record that
	// was deleted
	ErrDeleted = errors.New("record was deleted")
	// ErrDetached is returned by operations on a record whose
	// context was rolled back
	ErrDetached = errors.New("record is detached from its context")
	// ErrForeignRecord is returned when a record is passed to a
	// context that does not own it
	ErrForeignRecord = errors.New("record belongs to a different context")
	// ErrUnknownEntity is returned when an entity is not
	// declared by the schema
	ErrUnknownEntity = schema.ErrUnknownEntity
	// ErrUnknownField is returned when a field is not declared
	// by its entity
	ErrUnknownField = schema.ErrUnknownField
)

// Op names the storage operation that failed
type Op string

const (
	// OpValidate is checking pending records against the schema
	OpValidate Op = "validate"
	// OpMerge is folding a changeset into the parent context
	OpMerge Op = "merge"
	// OpSave is writing a changeset to the kv store
	OpSave Op = "save"
	// OpLoad is reading records from the kv store
	OpLoad Op = "load"
	// OpFetch is evaluating a fetch request
	OpFetch Op = "fetch"
)

// StoreError is returned when a context fails to commit or fetch.
// It names the context and the operation that failed.
type StoreError struct {
	Context string
	Op      Op
	Err     error
}

// Error implements error
func (err *StoreError) Error() string {
	return fmt.Sprintf("%s context: could not %s: %s", err.Context, err.Op, err.Err)
}

// Unwrap returns the cause
func (err *StoreError) Unwrap() error {
	return err.Err
}

func wrapError(wrap string, err error) error {
	switch err {
	case nil:
		return nil
	case kv.ErrClosed:
		return ErrClosed
	}

	return fmt.Errorf("%s: %w", wrap, err)
}
