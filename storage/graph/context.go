package graph

import (
	"fmt"
	"sync"

	"github.com/emirpasic/gods/maps/treemap"
	"github.com/jrife/strata/storage/schema"
	"github.com/jrife/strata/utils/lane"
	"github.com/jrife/strata/utils/uuid"
	"go.uber.org/zap"
)

// Context is a scoped view of the object graph bound to one lane.
// Changes made through a context stay pending, and invisible to
// every other context, until Commit folds them into the parent
// context or, for a context with no parent, writes them to the
// kv store. Every operation requires a token from the context's
// lane.
type Context struct {
	name        string
	lane        *lane.Lane
	parent      *Context
	coordinator *Coordinator
	logger      *zap.Logger

	// mu guards everything below along with the state of the
	// records this context owns. A goroutine holding a context's
	// mu may acquire its parent's mu, never the other way around.
	mu       sync.Mutex
	inserted *treemap.Map
	updated  *treemap.Map
	deleted  *treemap.Map
	registry map[string]*Record
	// saving holds the pending sets of a root context while
	// they are written to the kv store without mu held
	saving *pendingSet
}

// pendingSet is one generation of a context's pending changes
type pendingSet struct {
	inserted *treemap.Map
	updated  *treemap.Map
	deleted  *treemap.Map
}

func newPendingSet() pendingSet {
	return pendingSet{
		inserted: treemap.NewWithStringComparator(),
		updated:  treemap.NewWithStringComparator(),
		deleted:  treemap.NewWithStringComparator(),
	}
}

// find looks a record up in the set. known is false if the set
// says nothing about the record.
func (set pendingSet) find(k string) (values map[string]interface{}, exists bool, known bool) {
	if _, ok := set.deleted.Get(k); ok {
		return nil, false, true
	}

	if value, ok := set.inserted.Get(k); ok {
		return copyValues(value.(*Record).values), true, true
	}

	if value, ok := set.updated.Get(k); ok {
		return copyValues(value.(*Record).values), true, true
	}

	return nil, false, false
}

// apply lays the set's changes to an entity over records
func (set pendingSet) apply(entity string, records map[string]map[string]interface{}) {
	for _, m := range []*treemap.Map{set.inserted, set.updated} {
		for _, value := range m.Values() {
			if record := value.(*Record); record.entity == entity {
				records[record.id] = copyValues(record.values)
			}
		}
	}

	for _, value := range set.deleted.Values() {
		if record := value.(*Record); record.entity == entity {
			delete(records, record.id)
		}
	}
}

func newContext(coordinator *Coordinator, name string, l *lane.Lane, parent *Context) *Context {
	context := &Context{
		name:        name,
		lane:        l,
		parent:      parent,
		coordinator: coordinator,
		logger:      coordinator.logger.With(zap.String("context", name)),
		registry:    map[string]*Record{},
	}

	context.setPendingLocked(newPendingSet())

	return context
}

func (context *Context) pendingSetLocked() pendingSet {
	return pendingSet{inserted: context.inserted, updated: context.updated, deleted: context.deleted}
}

func (context *Context) setPendingLocked(set pendingSet) {
	context.inserted = set.inserted
	context.updated = set.updated
	context.deleted = set.deleted
}

// change is a value copy of one pending record
type change struct {
	entity   string
	id       string
	values   map[string]interface{}
	inserted bool
	deleted  bool
}

// changeset is what a commit hands to the parent context or the
// kv store. It never references records.
type changeset []change

func key(entity string, id string) string {
	return entity + "\x00" + id
}

// Name returns the context's name
func (context *Context) Name() string {
	return context.name
}

// Lane returns the lane the context is bound to
func (context *Context) Lane() *lane.Lane {
	return context.lane
}

// Parent returns the context this context commits into.
// It is nil for the root context.
func (context *Context) Parent() *Context {
	return context.parent
}

// HasChanges returns true if the context has pending changes
func (context *Context) HasChanges() bool {
	context.mu.Lock()
	defer context.mu.Unlock()

	return context.hasChangesLocked()
}

func (context *Context) hasChangesLocked() bool {
	return !context.inserted.Empty() || !context.updated.Empty() || !context.deleted.Empty()
}

func (context *Context) check(token lane.Token) error {
	return context.lane.Check(token)
}

func (context *Context) entity(name string) *schema.Entity {
	entity, _ := context.coordinator.schema.Entity(name)

	return entity
}

func (context *Context) storeError(op Op, err error) error {
	return &StoreError{Context: context.name, Op: op, Err: err}
}

// Insert creates a record of the given entity with its
// defaults applied
func (context *Context) Insert(token lane.Token, entityName string) (*Record, error) {
	if err := context.check(token); err != nil {
		return nil, err
	}

	entity, err := context.coordinator.schema.Entity(entityName)

	if err != nil {
		return nil, err
	}

	context.mu.Lock()
	defer context.mu.Unlock()

	record := newRecord(context, entity.Name, uuid.MustUUID(), entity.Defaults())
	k := key(record.entity, record.id)
	context.inserted.Put(k, record)
	context.registry[k] = record

	return record, nil
}

// Get returns this context's instance of the record with the
// given id or ErrNotFound if it is not visible here
func (context *Context) Get(token lane.Token, entityName string, id string) (*Record, error) {
	if err := context.check(token); err != nil {
		return nil, err
	}

	entity, err := context.coordinator.schema.Entity(entityName)

	if err != nil {
		return nil, err
	}

	context.mu.Lock()
	defer context.mu.Unlock()

	values, ok, err := context.lookupLocked(entity, id)

	if err != nil {
		return nil, context.storeError(OpLoad, err)
	}

	if !ok {
		return nil, fmt.Errorf("%w: %s %s", ErrNotFound, entity.Name, id)
	}

	return context.materializeLocked(entity.Name, id, values), nil
}

// Delete marks a record owned by this context for deletion
func (context *Context) Delete(token lane.Token, record *Record) error {
	if err := context.check(token); err != nil {
		return err
	}

	if record.context != context {
		return ErrForeignRecord
	}

	context.mu.Lock()
	defer context.mu.Unlock()

	if err := record.usable(); err != nil {
		return err
	}

	record.deleted = true
	k := key(record.entity, record.id)

	if _, ok := context.inserted.Get(k); ok {
		// never left this context
		context.inserted.Remove(k)
		delete(context.registry, k)

		return nil
	}

	context.updated.Remove(k)
	context.deleted.Put(k, record)

	return nil
}

// Fetch returns every record of an entity matching predicate.
// A nil predicate matches everything.
func (context *Context) Fetch(token lane.Token, entityName string, predicate Predicate) ([]*Record, error) {
	return context.FetchWithRequest(token, entityName, FetchRequest{Predicate: predicate})
}

// FetchWithRequest returns the records described by request. The
// result is never nil. Records already materialized in this context
// are reused so each id maps to one instance.
func (context *Context) FetchWithRequest(token lane.Token, entityName string, request FetchRequest) ([]*Record, error) {
	if err := context.check(token); err != nil {
		return nil, err
	}

	logger := context.logger.With(zap.String("operation", "Fetch"), zap.String("entity", entityName))
	logger.Debug("start Fetch()", zap.Int("limit", request.Limit), zap.Int("offset", request.Offset))

	entity, err := context.coordinator.schema.Entity(entityName)

	if err != nil {
		return nil, context.storeError(OpFetch, err)
	}

	context.mu.Lock()
	defer context.mu.Unlock()

	snapshots, err := context.snapshotsLocked(entity)

	if err != nil {
		logger.Debug("error", zap.Error(err))

		return nil, context.storeError(OpLoad, err)
	}

	results, err := request.evaluate(logger, entity, snapshots)

	if err != nil {
		logger.Debug("error", zap.Error(err))

		return nil, context.storeError(OpFetch, err)
	}

	records := make([]*Record, len(results))

	for i, snapshot := range results {
		records[i] = context.materializeLocked(entity.Name, snapshot.ID, snapshot.Values)
	}

	logger.Debug("return from Fetch()", zap.Int("count", len(records)))

	return records, nil
}

// Count returns the number of records of an entity matching
// predicate without materializing them
func (context *Context) Count(token lane.Token, entityName string, predicate Predicate) (int, error) {
	if err := context.check(token); err != nil {
		return 0, err
	}

	entity, err := context.coordinator.schema.Entity(entityName)

	if err != nil {
		return 0, context.storeError(OpFetch, err)
	}

	context.mu.Lock()
	defer context.mu.Unlock()

	snapshots, err := context.snapshotsLocked(entity)

	if err != nil {
		return 0, context.storeError(OpLoad, err)
	}

	results, err := FetchRequest{Predicate: predicate}.evaluate(context.logger, entity, snapshots)

	if err != nil {
		return 0, context.storeError(OpFetch, err)
	}

	return len(results), nil
}

// Commit hands the pending changes to the parent context or, for
// the root context, writes them to the kv store in one transaction.
// It does nothing when there are no pending changes. On failure the
// pending changes are kept so the commit can be retried. Commit
// never commits the parent.
func (context *Context) Commit(token lane.Token) error {
	if err := context.check(token); err != nil {
		return err
	}

	logger := context.logger.With(zap.String("operation", "Commit"))

	context.mu.Lock()

	if !context.hasChangesLocked() {
		context.mu.Unlock()
		logger.Debug("no changes")

		return nil
	}

	changes, err := context.changesLocked()

	if err != nil {
		context.mu.Unlock()
		logger.Debug("error", zap.Error(err))

		return context.storeError(OpValidate, err)
	}

	logger.Debug("start Commit()", zap.Int("changes", len(changes)), zap.Bool("root", context.parent == nil))

	if context.parent != nil {
		err = context.mergeIntoParentLocked(changes)
	} else {
		err = context.saveLocked(changes)
	}

	context.mu.Unlock()

	if err != nil {
		logger.Debug("error", zap.Error(err))

		return err
	}

	logger.Debug("return from Commit()")

	return nil
}

func (context *Context) mergeIntoParentLocked(changes changeset) error {
	if err := context.parent.merge(changes); err != nil {
		return context.storeError(OpMerge, err)
	}

	context.clearLocked()

	return nil
}

// saveLocked writes changes to the kv store. It is called with mu
// held and returns with mu held, but releases mu during the write.
// Meanwhile the pending sets being written stay readable through
// context.saving and merges go to a fresh pending set. A failed
// write puts the saved sets back under whatever was merged since.
func (context *Context) saveLocked(changes changeset) error {
	saving := context.pendingSetLocked()
	context.saving = &saving
	context.setPendingLocked(newPendingSet())
	context.mu.Unlock()

	err := context.coordinator.save(changes)

	context.mu.Lock()
	context.saving = nil

	if err != nil {
		context.restoreLocked(saving)

		return context.storeError(OpSave, err)
	}

	for _, k := range saving.deleted.Keys() {
		if !context.pendingLocked(k.(string)) {
			delete(context.registry, k.(string))
		}
	}

	return nil
}

// restoreLocked returns the changes in set to the pending sets
// unless a newer change to the same record is pending
func (context *Context) restoreLocked(set pendingSet) {
	current := context.pendingSetLocked()

	for _, pair := range [][2]*treemap.Map{
		{set.inserted, current.inserted},
		{set.updated, current.updated},
		{set.deleted, current.deleted},
	} {
		from, to := pair[0], pair[1]

		for _, k := range from.Keys() {
			if context.pendingLocked(k.(string)) {
				continue
			}

			value, _ := from.Get(k)
			to.Put(k, value)
		}
	}
}

// Rollback discards pending changes and detaches every record
// materialized in this context
func (context *Context) Rollback(token lane.Token) error {
	if err := context.check(token); err != nil {
		return err
	}

	context.mu.Lock()
	defer context.mu.Unlock()

	for _, record := range context.registry {
		record.detached = true
	}

	for _, m := range []*treemap.Map{context.inserted, context.updated, context.deleted} {
		for _, value := range m.Values() {
			value.(*Record).detached = true
		}

		m.Clear()
	}

	context.registry = map[string]*Record{}

	return nil
}

func (context *Context) markUpdated(record *Record) {
	k := key(record.entity, record.id)

	if _, ok := context.inserted.Get(k); ok {
		return
	}

	context.updated.Put(k, record)
}

func (context *Context) clearLocked() {
	for _, k := range context.deleted.Keys() {
		delete(context.registry, k.(string))
	}

	context.inserted.Clear()
	context.updated.Clear()
	context.deleted.Clear()
}

// changesLocked copies the pending state into a changeset in key
// order, validating every inserted or updated record
func (context *Context) changesLocked() (changeset, error) {
	changes := make(changeset, 0, context.inserted.Size()+context.updated.Size()+context.deleted.Size())

	for _, m := range []*treemap.Map{context.inserted, context.updated} {
		inserted := m == context.inserted

		for _, value := range m.Values() {
			record := value.(*Record)

			if err := context.entity(record.entity).Validate(record.values); err != nil {
				return nil, fmt.Errorf("%s %s: %w", record.entity, record.id, err)
			}

			changes = append(changes, change{
				entity:   record.entity,
				id:       record.id,
				values:   copyValues(record.values),
				inserted: inserted,
			})
		}
	}

	for _, value := range context.deleted.Values() {
		record := value.(*Record)

		changes = append(changes, change{entity: record.entity, id: record.id, deleted: true})
	}

	return changes, nil
}

// merge folds a child's changeset into this context's pending state.
// An update to a record this context cannot see is a conflict and
// nothing is merged.
func (context *Context) merge(changes changeset) error {
	context.mu.Lock()
	defer context.mu.Unlock()

	for _, change := range changes {
		if change.inserted || change.deleted {
			continue
		}

		_, ok, err := context.lookupLocked(context.entity(change.entity), change.id)

		if err != nil {
			return err
		}

		if !ok {
			return fmt.Errorf("%w: %s %s was updated but is not visible to %s", ErrNotFound, change.entity, change.id, context.name)
		}
	}

	for _, change := range changes {
		k := key(change.entity, change.id)

		if change.deleted {
			record, ok := context.registry[k]

			if !ok {
				record = newRecord(context, change.entity, change.id, map[string]interface{}{})
			}

			record.deleted = true
			delete(context.registry, k)

			if _, ok := context.inserted.Get(k); ok {
				context.inserted.Remove(k)

				continue
			}

			context.updated.Remove(k)
			context.deleted.Put(k, record)

			continue
		}

		record := context.adoptLocked(change)

		if _, ok := context.inserted.Get(k); ok || change.inserted {
			context.inserted.Put(k, record)
		} else {
			context.updated.Put(k, record)
		}
	}

	return nil
}

// adoptLocked makes this context's instance of a changed record
// hold the change's values
func (context *Context) adoptLocked(c change) *Record {
	k := key(c.entity, c.id)

	if record, ok := context.registry[k]; ok {
		record.values = c.values

		return record
	}

	record := newRecord(context, c.entity, c.id, c.values)
	context.registry[k] = record

	return record
}

func (context *Context) pendingLocked(k string) bool {
	if _, ok := context.inserted.Get(k); ok {
		return true
	}

	if _, ok := context.updated.Get(k); ok {
		return true
	}

	_, ok := context.deleted.Get(k)

	return ok
}

// materializeLocked returns the registered instance for a record,
// creating one if needed. Instances without pending changes are
// refreshed with values.
func (context *Context) materializeLocked(entity string, id string, values map[string]interface{}) *Record {
	k := key(entity, id)

	if record, ok := context.registry[k]; ok {
		if !context.pendingLocked(k) {
			record.values = values
		}

		return record
	}

	record := newRecord(context, entity, id, values)
	context.registry[k] = record

	return record
}

// lookup resolves one record as this context sees it
func (context *Context) lookup(entity *schema.Entity, id string) (map[string]interface{}, bool, error) {
	context.mu.Lock()
	defer context.mu.Unlock()

	return context.lookupLocked(entity, id)
}

func (context *Context) lookupLocked(entity *schema.Entity, id string) (map[string]interface{}, bool, error) {
	k := key(entity.Name, id)

	if values, exists, known := context.pendingSetLocked().find(k); known {
		return values, exists, nil
	}

	if context.saving != nil {
		if values, exists, known := context.saving.find(k); known {
			return values, exists, nil
		}
	}

	if context.parent != nil {
		return context.parent.lookup(entity, id)
	}

	return context.coordinator.get(entity, id)
}

// resolve returns every record of an entity as this context sees it:
// the parent's view, or the kv store for the root, with this
// context's pending changes laid over it
func (context *Context) resolve(entity *schema.Entity) (map[string]map[string]interface{}, error) {
	context.mu.Lock()
	defer context.mu.Unlock()

	return context.resolveLocked(entity)
}

func (context *Context) resolveLocked(entity *schema.Entity) (map[string]map[string]interface{}, error) {
	var records map[string]map[string]interface{}
	var err error

	if context.parent != nil {
		records, err = context.parent.resolve(entity)
	} else {
		records, err = context.coordinator.load(entity)
	}

	if err != nil {
		return nil, err
	}

	if context.saving != nil {
		context.saving.apply(entity.Name, records)
	}

	context.pendingSetLocked().apply(entity.Name, records)

	return records, nil
}

func (context *Context) snapshotsLocked(entity *schema.Entity) ([]Snapshot, error) {
	records, err := context.resolveLocked(entity)

	if err != nil {
		return nil, err
	}

	snapshots := make([]Snapshot, 0, len(records))

	for id, values := range records {
		snapshots = append(snapshots, Snapshot{Entity: entity.Name, ID: id, Values: values})
	}

	return snapshots, nil
}
