package graph

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/jrife/strata/storage/kv"
	"github.com/jrife/strata/storage/schema"
	"github.com/jrife/strata/utils/lane"
	"github.com/jrife/strata/utils/log"
	"go.uber.org/zap"
)

// CoordinatorConfig contains configuration
// for a coordinator
type CoordinatorConfig struct {
	Logger *zap.Logger
	Schema *schema.Schema
	Store  kv.Store
}

// Coordinator connects contexts to the kv store. Each entity is
// kept in its own bucket keyed by record id with the fields
// encoded as a JSON object.
type Coordinator struct {
	logger *zap.Logger
	schema *schema.Schema
	store  kv.Store
}

// NewCoordinator creates a coordinator and makes sure a bucket
// exists for every entity in the schema. Buckets left behind by
// entities the schema no longer declares are logged and kept.
func NewCoordinator(config CoordinatorConfig) (*Coordinator, error) {
	coordinator := &Coordinator{
		logger: log.OrDefault(config.Logger),
		schema: config.Schema,
		store:  config.Store,
	}

	if coordinator.schema == nil {
		return nil, fmt.Errorf("a schema is required")
	}

	if coordinator.store == nil {
		return nil, fmt.Errorf("a store is required")
	}

	if err := coordinator.ensureBuckets(); err != nil {
		return nil, err
	}

	return coordinator, nil
}

func (coordinator *Coordinator) ensureBuckets() error {
	transaction, err := coordinator.store.Begin(true)

	if err != nil {
		return wrapError("could not begin transaction", err)
	}

	defer transaction.Rollback()

	names, err := transaction.Buckets()

	if err != nil {
		return wrapError("could not list buckets", err)
	}

	for _, name := range names {
		if _, err := coordinator.schema.Entity(string(name)); err != nil {
			coordinator.logger.Warn("bucket has no entity in the schema, its records are ignored", zap.ByteString("bucket", name))
		}
	}

	for _, name := range coordinator.schema.EntityNames() {
		if _, err := transaction.CreateBucketIfNotExists([]byte(name)); err != nil {
			return wrapError(fmt.Sprintf("could not create bucket for %s", name), err)
		}
	}

	return wrapError("could not commit transaction", transaction.Commit())
}

// Schema returns the coordinator's schema
func (coordinator *Coordinator) Schema() *schema.Schema {
	return coordinator.schema
}

// NewContext creates a context bound to l. A context without a
// parent commits to the kv store. Otherwise it commits into its
// parent's pending state.
func (coordinator *Coordinator) NewContext(name string, l *lane.Lane, parent *Context) *Context {
	return newContext(coordinator, name, l, parent)
}

// Close closes the kv store
func (coordinator *Coordinator) Close() error {
	return coordinator.store.Close()
}

// load reads every record of an entity
func (coordinator *Coordinator) load(entity *schema.Entity) (map[string]map[string]interface{}, error) {
	transaction, err := coordinator.store.Begin(false)

	if err != nil {
		return nil, wrapError("could not begin transaction", err)
	}

	defer transaction.Rollback()

	records := map[string]map[string]interface{}{}
	bucket := transaction.Bucket([]byte(entity.Name))

	if bucket == nil {
		return records, nil
	}

	err = bucket.ForEach(func(key, value []byte) error {
		values, err := decode(entity, value)

		if err != nil {
			return fmt.Errorf("could not decode %s %s: %w", entity.Name, key, err)
		}

		records[string(key)] = values

		return nil
	})

	if err != nil {
		return nil, wrapError("could not read bucket", err)
	}

	return records, nil
}

// get reads one record. ok is false if it does not exist.
func (coordinator *Coordinator) get(entity *schema.Entity, id string) (values map[string]interface{}, ok bool, err error) {
	transaction, err := coordinator.store.Begin(false)

	if err != nil {
		return nil, false, wrapError("could not begin transaction", err)
	}

	defer transaction.Rollback()

	bucket := transaction.Bucket([]byte(entity.Name))

	if bucket == nil {
		return nil, false, nil
	}

	raw := bucket.Get([]byte(id))

	if raw == nil {
		return nil, false, nil
	}

	values, err = decode(entity, raw)

	if err != nil {
		return nil, false, fmt.Errorf("could not decode %s %s: %w", entity.Name, id, err)
	}

	return values, true, nil
}

// save writes a changeset in one transaction
func (coordinator *Coordinator) save(changes changeset) error {
	transaction, err := coordinator.store.Begin(true)

	if err != nil {
		return wrapError("could not begin transaction", err)
	}

	defer transaction.Rollback()

	for _, change := range changes {
		bucket, err := transaction.CreateBucketIfNotExists([]byte(change.entity))

		if err != nil {
			return wrapError(fmt.Sprintf("could not create bucket for %s", change.entity), err)
		}

		if change.deleted {
			if err := bucket.Delete([]byte(change.id)); err != nil {
				return wrapError(fmt.Sprintf("could not delete %s %s", change.entity, change.id), err)
			}

			continue
		}

		raw, err := json.Marshal(change.values)

		if err != nil {
			return fmt.Errorf("could not encode %s %s: %w", change.entity, change.id, err)
		}

		if err := bucket.Put([]byte(change.id), raw); err != nil {
			return wrapError(fmt.Sprintf("could not put %s %s", change.entity, change.id), err)
		}
	}

	return wrapError("could not commit transaction", transaction.Commit())
}

func decode(entity *schema.Entity, raw []byte) (map[string]interface{}, error) {
	var values map[string]interface{}

	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()

	if err := decoder.Decode(&values); err != nil {
		return nil, err
	}

	return entity.Decode(values)
}
