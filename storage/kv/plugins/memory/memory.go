package memory

import (
	"bytes"
	"sync"

	"github.com/emirpasic/gods/maps/treemap"
	"github.com/jrife/strata/storage/kv"
)

const (
	// DriverName is the name under which this plugin registers
	DriverName = "memory"
)

// Plugins returns the plugins provided by this package
func Plugins() []kv.Plugin {
	return []kv.Plugin{
		&MemoryPlugin{},
	}
}

// MemoryPlugin creates stores that live only in memory.
// Nothing survives Close.
type MemoryPlugin struct {
}

// Name implements kv.Plugin.Name
func (plugin *MemoryPlugin) Name() string {
	return DriverName
}

// NewStore implements kv.Plugin.NewStore. It takes no options.
func (plugin *MemoryPlugin) NewStore(options kv.PluginOptions) (kv.Store, error) {
	return New(), nil
}

var _ kv.Store = (*MemoryStore)(nil)

// MemoryStore is an in-memory implementation of kv.Store.
// Buckets are treemaps keyed by string(key). Read-write
// transactions copy each bucket they touch and swap the
// copies in on commit, so readers always see the snapshot
// that was current when they began.
type MemoryStore struct {
	// writer is held for the lifetime of a read-write transaction
	writer sync.Mutex
	// mu guards buckets, closed and open
	mu      sync.Mutex
	buckets map[string]*treemap.Map
	closed  bool
	open    sync.WaitGroup
}

// New creates an empty MemoryStore
func New() *MemoryStore {
	return &MemoryStore{buckets: map[string]*treemap.Map{}}
}

// Begin implements kv.Store.Begin
func (store *MemoryStore) Begin(writable bool) (kv.Transaction, error) {
	if writable {
		store.writer.Lock()
	}

	store.mu.Lock()
	defer store.mu.Unlock()

	if store.closed {
		if writable {
			store.writer.Unlock()
		}

		return nil, kv.ErrClosed
	}

	store.open.Add(1)

	buckets := store.buckets

	if writable {
		buckets = make(map[string]*treemap.Map, len(store.buckets))

		for name, bucket := range store.buckets {
			buckets[name] = bucket
		}
	}

	return &MemoryTransaction{
		store:    store,
		writable: writable,
		buckets:  buckets,
		copied:   map[string]bool{},
	}, nil
}

// Close implements kv.Store.Close
func (store *MemoryStore) Close() error {
	store.mu.Lock()
	store.closed = true
	store.mu.Unlock()

	store.open.Wait()

	return nil
}

var _ kv.Transaction = (*MemoryTransaction)(nil)

// MemoryTransaction implements kv.Transaction
type MemoryTransaction struct {
	store    *MemoryStore
	writable bool
	buckets  map[string]*treemap.Map
	// copied records buckets already copied by this transaction
	copied map[string]bool
	done   bool
}

// Bucket implements kv.Transaction.Bucket
func (transaction *MemoryTransaction) Bucket(name []byte) kv.Bucket {
	if transaction.done || len(name) == 0 {
		return nil
	}

	if _, ok := transaction.buckets[string(name)]; !ok {
		return nil
	}

	return &MemoryBucket{transaction: transaction, name: string(name)}
}

// CreateBucketIfNotExists implements kv.Transaction.CreateBucketIfNotExists
func (transaction *MemoryTransaction) CreateBucketIfNotExists(name []byte) (kv.Bucket, error) {
	if err := transaction.checkWritable(); err != nil {
		return nil, err
	}

	if len(name) == 0 {
		return nil, kv.ErrEmptyKey
	}

	if _, ok := transaction.buckets[string(name)]; !ok {
		transaction.buckets[string(name)] = newTreeMap()
		transaction.copied[string(name)] = true
	}

	return &MemoryBucket{transaction: transaction, name: string(name)}, nil
}

// Buckets implements kv.Transaction.Buckets
func (transaction *MemoryTransaction) Buckets() ([][]byte, error) {
	if transaction.done {
		return nil, kv.ErrTxDone
	}

	names := treemap.NewWithStringComparator()

	for name := range transaction.buckets {
		names.Put(name, nil)
	}

	result := make([][]byte, 0, names.Size())

	for _, name := range names.Keys() {
		result = append(result, []byte(name.(string)))
	}

	return result, nil
}

// Commit implements kv.Transaction.Commit
func (transaction *MemoryTransaction) Commit() error {
	if transaction.done {
		return kv.ErrTxDone
	}

	if transaction.writable {
		transaction.store.mu.Lock()
		transaction.store.buckets = transaction.buckets
		transaction.store.mu.Unlock()
	}

	transaction.finish()

	return nil
}

// Rollback implements kv.Transaction.Rollback
func (transaction *MemoryTransaction) Rollback() error {
	if transaction.done {
		return kv.ErrTxDone
	}

	transaction.finish()

	return nil
}

func (transaction *MemoryTransaction) finish() {
	transaction.done = true
	transaction.buckets = nil

	if transaction.writable {
		transaction.store.writer.Unlock()
	}

	transaction.store.open.Done()
}

func (transaction *MemoryTransaction) checkWritable() error {
	if transaction.done {
		return kv.ErrTxDone
	}

	if !transaction.writable {
		return kv.ErrReadOnly
	}

	return nil
}

// mutable returns a bucket this transaction may write to,
// copying the committed version on first use.
func (transaction *MemoryTransaction) mutable(name string) *treemap.Map {
	if !transaction.copied[name] {
		original := transaction.buckets[name]
		copied := newTreeMap()

		original.Each(func(key, value interface{}) {
			copied.Put(key, value)
		})

		transaction.buckets[name] = copied
		transaction.copied[name] = true
	}

	return transaction.buckets[name]
}

var _ kv.Bucket = (*MemoryBucket)(nil)

// MemoryBucket implements kv.Bucket
type MemoryBucket struct {
	transaction *MemoryTransaction
	name        string
}

func (bucket *MemoryBucket) tree() *treemap.Map {
	if bucket.transaction.done {
		return nil
	}

	return bucket.transaction.buckets[bucket.name]
}

// Get implements kv.Bucket.Get
func (bucket *MemoryBucket) Get(key []byte) []byte {
	tree := bucket.tree()

	if tree == nil || len(key) == 0 {
		return nil
	}

	value, ok := tree.Get(string(key))

	if !ok {
		return nil
	}

	return value.([]byte)
}

// Put implements kv.Bucket.Put
func (bucket *MemoryBucket) Put(key, value []byte) error {
	if err := bucket.transaction.checkWritable(); err != nil {
		return err
	}

	if len(key) == 0 {
		return kv.ErrEmptyKey
	}

	if bucket.tree() == nil {
		return kv.ErrNoSuchBucket
	}

	bucket.transaction.mutable(bucket.name).Put(string(key), bytes.Clone(value))

	return nil
}

// Delete implements kv.Bucket.Delete
func (bucket *MemoryBucket) Delete(key []byte) error {
	if err := bucket.transaction.checkWritable(); err != nil {
		return err
	}

	if len(key) == 0 {
		return kv.ErrEmptyKey
	}

	if bucket.tree() == nil {
		return kv.ErrNoSuchBucket
	}

	bucket.transaction.mutable(bucket.name).Remove(string(key))

	return nil
}

// ForEach implements kv.Bucket.ForEach
func (bucket *MemoryBucket) ForEach(fn func(key, value []byte) error) error {
	tree := bucket.tree()

	if tree == nil {
		return kv.ErrTxDone
	}

	iter := tree.Iterator()

	for iter.Next() {
		if err := fn([]byte(iter.Key().(string)), iter.Value().([]byte)); err != nil {
			return err
		}
	}

	return nil
}

func newTreeMap() *treemap.Map {
	return treemap.NewWithStringComparator()
}
