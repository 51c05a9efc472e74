package kv

import (
	"errors"
)

var (
	// ErrClosed indicates that the store was closed
	ErrClosed = errors.New("store was closed")
	// ErrNoSuchBucket indicates that the bucket doesn't exist
	ErrNoSuchBucket = errors.New("bucket does not exist")
	// ErrReadOnly is returned when a read-only transaction attempts an update operation
	ErrReadOnly = errors.New("transaction is read-only")
	// ErrTxDone is returned when a transaction is used after it was committed or rolled back
	ErrTxDone = errors.New("transaction was already committed or rolled back")
	// ErrEmptyKey is returned when a key or bucket name is nil or empty
	ErrEmptyKey = errors.New("key must not be empty")
)

// PluginOptions are driver specific options passed to
// Plugin.NewStore
type PluginOptions map[string]interface{}

// Plugin represents a kv storage plugin
type Plugin interface {
	// Name returns the name of the storage plugin
	Name() string
	// NewStore returns an instance of the plugin store
	NewStore(options PluginOptions) (Store, error)
}

// Store is a flat collection of named buckets.
// Transactions are serializable: at most one read-write
// transaction runs at a time and read-only transactions
// see a consistent snapshot of the most recently committed
// read-write transaction.
type Store interface {
	// Begin starts a transaction. writable should be
	// true for read-write transactions and false for read-only
	// transactions. Begin may block while another read-write
	// transaction is open. It must return ErrClosed if the
	// store was closed.
	Begin(writable bool) (Transaction, error)
	// Close closes the store. Close must not return until
	// open transactions have concluded. Calls to Begin after
	// Close returns must return ErrClosed.
	Close() error
}

// Transaction is a transaction for a store. It must only be
// used by one goroutine at a time.
type Transaction interface {
	// Bucket returns the named bucket or nil if it
	// doesn't exist
	Bucket(name []byte) Bucket
	// CreateBucketIfNotExists creates the named bucket if
	// needed and returns it
	CreateBucketIfNotExists(name []byte) (Bucket, error)
	// Buckets lists all bucket names in ascending order
	Buckets() ([][]byte, error)
	// Commit commits the transaction
	Commit() error
	// Rollback rolls back the transaction. Calling Rollback
	// after Commit returns ErrTxDone and has no effect.
	Rollback() error
}

// Bucket is a sorted key-value map inside a transaction.
// Slices returned by a bucket are only valid until the
// transaction ends and must be copied to be retained.
type Bucket interface {
	// Get gets a key. It must observe updates to that key made
	// previously by this transaction. It returns nil if the
	// key does not exist.
	Get(key []byte) []byte
	// Put creates or updates a key. It must return an error
	// if key is nil or empty.
	Put(key, value []byte) error
	// Delete deletes a key. If the key doesn't exist it
	// has no effect and returns nil.
	Delete(key []byte) error
	// ForEach calls fn for every key in ascending order.
	// Iteration stops at the first error returned by fn.
	ForEach(fn func(key, value []byte) error) error
}
