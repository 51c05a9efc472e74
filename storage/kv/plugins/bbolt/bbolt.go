package bbolt

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jrife/strata/storage/kv"
	bolt "go.etcd.io/bbolt"
)

const (
	// DriverName is the name under which this plugin registers
	DriverName = "bbolt"
	// defaultTimeout bounds how long Open waits for the file lock
	defaultTimeout = 5 * time.Second
)

// Plugins returns the plugins provided by this package
func Plugins() []kv.Plugin {
	return []kv.Plugin{
		&BBoltPlugin{},
	}
}

// BBoltPlugin creates stores backed by a single bbolt file
type BBoltPlugin struct {
}

// Name implements kv.Plugin.Name
func (plugin *BBoltPlugin) Name() string {
	return DriverName
}

// NewStore implements kv.Plugin.NewStore. It requires a "path"
// option naming the database file and accepts an optional "no_sync"
// bool and "timeout" time.Duration.
func (plugin *BBoltPlugin) NewStore(options kv.PluginOptions) (kv.Store, error) {
	var config BBoltStoreConfig

	if path, ok := options["path"]; !ok {
		return nil, fmt.Errorf("\"path\" is required")
	} else if pathString, ok := path.(string); !ok {
		return nil, fmt.Errorf("\"path\" must be a string")
	} else {
		config.Path = pathString
	}

	if noSync, ok := options["no_sync"]; ok {
		noSyncBool, ok := noSync.(bool)

		if !ok {
			return nil, fmt.Errorf("\"no_sync\" must be a bool")
		}

		config.NoSync = noSyncBool
	}

	if timeout, ok := options["timeout"]; ok {
		timeoutDuration, ok := timeout.(time.Duration)

		if !ok {
			return nil, fmt.Errorf("\"timeout\" must be a time.Duration")
		}

		config.Timeout = timeoutDuration
	}

	return New(config)
}

// BBoltStoreConfig configures a bbolt store
type BBoltStoreConfig struct {
	Path    string
	NoSync  bool
	Timeout time.Duration
}

var _ kv.Store = (*BBoltStore)(nil)

// New opens or creates the bbolt file at config.Path
func New(config BBoltStoreConfig) (*BBoltStore, error) {
	if config.Timeout == 0 {
		config.Timeout = defaultTimeout
	}

	if err := os.MkdirAll(filepath.Dir(config.Path), 0755); err != nil {
		return nil, fmt.Errorf("could not create directory for bbolt store at %s: %w", config.Path, err)
	}

	db, err := bolt.Open(config.Path, 0666, &bolt.Options{Timeout: config.Timeout, NoSync: config.NoSync})

	if err != nil {
		return nil, fmt.Errorf("could not open bbolt store at %s: %w", config.Path, err)
	}

	return &BBoltStore{db: db}, nil
}

// BBoltStore implements kv.Store
type BBoltStore struct {
	db *bolt.DB
}

// Begin implements kv.Store.Begin
func (store *BBoltStore) Begin(writable bool) (kv.Transaction, error) {
	transaction, err := store.db.Begin(writable)

	if err != nil {
		return nil, wrapError("could not begin transaction", err)
	}

	return &BBoltTransaction{transaction: transaction}, nil
}

// Close implements kv.Store.Close
func (store *BBoltStore) Close() error {
	return store.db.Close()
}

var _ kv.Transaction = (*BBoltTransaction)(nil)

// BBoltTransaction implements kv.Transaction
type BBoltTransaction struct {
	transaction *bolt.Tx
}

// Bucket implements kv.Transaction.Bucket
func (transaction *BBoltTransaction) Bucket(name []byte) kv.Bucket {
	if len(name) == 0 {
		return nil
	}

	bucket := transaction.transaction.Bucket(name)

	if bucket == nil {
		return nil
	}

	return &BBoltBucket{bucket: bucket}
}

// CreateBucketIfNotExists implements kv.Transaction.CreateBucketIfNotExists
func (transaction *BBoltTransaction) CreateBucketIfNotExists(name []byte) (kv.Bucket, error) {
	if len(name) == 0 {
		return nil, kv.ErrEmptyKey
	}

	bucket, err := transaction.transaction.CreateBucketIfNotExists(name)

	if err != nil {
		return nil, wrapError("could not create bucket", err)
	}

	return &BBoltBucket{bucket: bucket}, nil
}

// Buckets implements kv.Transaction.Buckets
func (transaction *BBoltTransaction) Buckets() ([][]byte, error) {
	names := [][]byte{}

	err := transaction.transaction.ForEach(func(name []byte, _ *bolt.Bucket) error {
		names = append(names, bytes.Clone(name))

		return nil
	})

	if err != nil {
		return nil, wrapError("could not list buckets", err)
	}

	return names, nil
}

// Commit implements kv.Transaction.Commit
func (transaction *BBoltTransaction) Commit() error {
	return wrapError("could not commit transaction", transaction.transaction.Commit())
}

// Rollback implements kv.Transaction.Rollback
func (transaction *BBoltTransaction) Rollback() error {
	return wrapError("could not roll back transaction", transaction.transaction.Rollback())
}

var _ kv.Bucket = (*BBoltBucket)(nil)

// BBoltBucket implements kv.Bucket
type BBoltBucket struct {
	bucket *bolt.Bucket
}

// Get implements kv.Bucket.Get
func (bucket *BBoltBucket) Get(key []byte) []byte {
	if len(key) == 0 {
		return nil
	}

	return bucket.bucket.Get(key)
}

// Put implements kv.Bucket.Put
func (bucket *BBoltBucket) Put(key []byte, value []byte) error {
	if len(key) == 0 {
		return kv.ErrEmptyKey
	}

	return wrapError("could not put key", bucket.bucket.Put(key, value))
}

// Delete implements kv.Bucket.Delete
func (bucket *BBoltBucket) Delete(key []byte) error {
	if len(key) == 0 {
		return kv.ErrEmptyKey
	}

	return wrapError("could not delete key", bucket.bucket.Delete(key))
}

// ForEach implements kv.Bucket.ForEach
func (bucket *BBoltBucket) ForEach(fn func(key []byte, value []byte) error) error {
	return bucket.bucket.ForEach(func(key, value []byte) error {
		// nested buckets have nil values
		if value == nil {
			return nil
		}

		return fn(key, value)
	})
}

func wrapError(wrap string, err error) error {
	switch err {
	case nil:
		return nil
	case bolt.ErrDatabaseNotOpen:
		return kv.ErrClosed
	case bolt.ErrTxClosed:
		return kv.ErrTxDone
	case bolt.ErrTxNotWritable:
		return kv.ErrReadOnly
	case bolt.ErrBucketNotFound:
		return kv.ErrNoSuchBucket
	}

	return fmt.Errorf("%s: %w", wrap, err)
}
