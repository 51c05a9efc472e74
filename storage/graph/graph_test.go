package graph_test

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/jrife/strata/storage/graph"
	"github.com/jrife/strata/storage/kv"
	"github.com/jrife/strata/storage/kv/plugins/memory"
	"github.com/jrife/strata/storage/schema"
	"github.com/jrife/strata/utils/lane"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

const testSchema = `
name: strata
entities:
  - name: Item
    fields:
      - {name: title, type: string, required: true}
      - {name: rank, type: int, default: 0}
      - {name: weight, type: float}
      - {name: done, type: bool}
  - name: Tag
    fields:
      - {name: label, type: string}
`

var errInjected = errors.New("injected failure")

// faultyStore counts write transactions and fails their commits
// while fail is set. Commits wait on gate while one is set.
type faultyStore struct {
	kv.Store
	mu     sync.Mutex
	fail   error
	writes int
	gate   *gate
}

// gate holds write commits until release is closed. entered
// receives a value when a commit starts waiting.
type gate struct {
	entered chan struct{}
	release chan struct{}
}

func (store *faultyStore) holdCommits() *gate {
	store.mu.Lock()
	defer store.mu.Unlock()

	store.gate = &gate{entered: make(chan struct{}, 1), release: make(chan struct{})}

	return store.gate
}

func (store *faultyStore) setFail(err error) {
	store.mu.Lock()
	defer store.mu.Unlock()

	store.fail = err
}

func (store *faultyStore) writeCount() int {
	store.mu.Lock()
	defer store.mu.Unlock()

	return store.writes
}

func (store *faultyStore) Begin(writable bool) (kv.Transaction, error) {
	transaction, err := store.Store.Begin(writable)

	if err != nil || !writable {
		return transaction, err
	}

	store.mu.Lock()
	defer store.mu.Unlock()

	store.writes++

	return &faultyTransaction{Transaction: transaction, store: store}, nil
}

type faultyTransaction struct {
	kv.Transaction
	store *faultyStore
}

func (transaction *faultyTransaction) Commit() error {
	transaction.store.mu.Lock()
	g := transaction.store.gate
	transaction.store.mu.Unlock()

	if g != nil {
		select {
		case g.entered <- struct{}{}:
		default:
		}

		<-g.release
	}

	transaction.store.mu.Lock()
	err := transaction.store.fail
	transaction.store.mu.Unlock()

	if err != nil {
		transaction.Transaction.Rollback()

		return err
	}

	return transaction.Transaction.Commit()
}

type fixture struct {
	store       *faultyStore
	coordinator *graph.Coordinator
	writer      *graph.Context
	main        *graph.Context
	child       *graph.Context
}

func newFixture(t *testing.T) *fixture {
	s, err := schema.Parse([]byte(testSchema))

	if err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	store := &faultyStore{Store: memory.New()}
	coordinator, err := graph.NewCoordinator(graph.CoordinatorConfig{Logger: zap.NewNop(), Schema: s, Store: store})

	if err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	lanes := []*lane.Lane{lane.New("writer", zap.NewNop()), lane.New("main", zap.NewNop()), lane.New("child", zap.NewNop())}

	t.Cleanup(func() {
		for _, l := range lanes {
			l.Close()
		}

		coordinator.Close()
	})

	writer := coordinator.NewContext("writer", lanes[0], nil)
	main := coordinator.NewContext("main", lanes[1], writer)
	child := coordinator.NewContext("child", lanes[2], main)

	return &fixture{store: store, coordinator: coordinator, writer: writer, main: main, child: child}
}

// on runs fn on the context's lane and returns its error
func on(context *graph.Context, fn func(token lane.Token) error) error {
	var err error

	if laneErr := context.Lane().PerformAndWait(func(token lane.Token) { err = fn(token) }); laneErr != nil {
		return laneErr
	}

	return err
}

func insertItems(context *graph.Context, titles ...string) ([]string, error) {
	ids := []string{}

	err := on(context, func(token lane.Token) error {
		for i, title := range titles {
			record, err := context.Insert(token, "Item")

			if err != nil {
				return err
			}

			if err := record.Set(token, "title", title); err != nil {
				return err
			}

			if err := record.Set(token, "rank", i); err != nil {
				return err
			}

			ids = append(ids, record.ID())
		}

		return nil
	})

	return ids, err
}

func commit(context *graph.Context) error {
	return on(context, func(token lane.Token) error { return context.Commit(token) })
}

func fetchIDs(context *graph.Context, entity string, predicate graph.Predicate) ([]string, error) {
	return fetchIDsWithRequest(context, entity, graph.FetchRequest{Predicate: predicate})
}

func fetchIDsWithRequest(context *graph.Context, entity string, request graph.FetchRequest) ([]string, error) {
	var ids []string

	err := on(context, func(token lane.Token) error {
		records, err := context.FetchWithRequest(token, entity, request)

		if err != nil {
			return err
		}

		ids = make([]string, len(records))

		for i, record := range records {
			ids[i] = record.ID()
		}

		return nil
	})

	return ids, err
}

func sorted(ids []string) []string {
	s := append([]string{}, ids...)
	sort.Strings(s)

	return s
}

func TestCommitPropagatesOneTierAtATime(t *testing.T) {
	f := newFixture(t)
	ids, err := insertItems(f.child, "a", "b", "c")

	if err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	steps := []struct {
		commit   *graph.Context
		visible  []*graph.Context
		invisble []*graph.Context
	}{
		{commit: f.child, visible: []*graph.Context{f.child, f.main}, invisble: []*graph.Context{f.writer}},
		{commit: f.main, visible: []*graph.Context{f.child, f.main, f.writer}},
		{commit: f.writer, visible: []*graph.Context{f.child, f.main, f.writer}},
	}

	for _, step := range steps {
		if !step.commit.HasChanges() {
			t.Fatalf("expected %s to have changes", step.commit.Name())
		}

		if err := commit(step.commit); err != nil {
			t.Fatalf("expected err to be nil, got %#v", err)
		}

		if step.commit.HasChanges() {
			t.Fatalf("expected %s to have no changes after commit", step.commit.Name())
		}

		for _, context := range step.visible {
			fetched, err := fetchIDs(context, "Item", nil)

			if err != nil {
				t.Fatalf("expected err to be nil, got %#v", err)
			}

			if diff := cmp.Diff(sorted(ids), fetched); diff != "" {
				t.Fatalf("after committing %s, %s sees: %s", step.commit.Name(), context.Name(), diff)
			}
		}

		for _, context := range step.invisble {
			fetched, err := fetchIDs(context, "Item", nil)

			if err != nil {
				t.Fatalf("expected err to be nil, got %#v", err)
			}

			if len(fetched) != 0 {
				t.Fatalf("after committing %s, expected %s to see nothing, got %v", step.commit.Name(), context.Name(), fetched)
			}
		}
	}

	if f.store.writeCount() != 2 {
		// one to create buckets, one for the writer commit
		t.Fatalf("expected 2 write transactions, got %d", f.store.writeCount())
	}

	// a fresh root over the same store sees the persisted records
	l := lane.New("fresh", zap.NewNop())
	defer l.Close()

	fetched, err := fetchIDs(f.coordinator.NewContext("fresh", l, nil), "Item", nil)

	if err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	if diff := cmp.Diff(sorted(ids), fetched); diff != "" {
		t.Fatal(diff)
	}
}

func TestCommitWithoutChangesIsANoOp(t *testing.T) {
	f := newFixture(t)

	for i := 0; i < 2; i++ {
		for _, context := range []*graph.Context{f.child, f.main, f.writer} {
			if err := commit(context); err != nil {
				t.Fatalf("expected err to be nil, got %#v", err)
			}
		}
	}

	// only the bucket setup wrote
	if f.store.writeCount() != 1 {
		t.Fatalf("expected 1 write transaction, got %d", f.store.writeCount())
	}
}

func TestCommitValidationFailureKeepsChanges(t *testing.T) {
	f := newFixture(t)
	var record *graph.Record

	err := on(f.child, func(token lane.Token) error {
		var err error
		record, err = f.child.Insert(token, "Item")

		return err
	})

	if err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	err = commit(f.child)

	var storeError *graph.StoreError

	if !errors.As(err, &storeError) {
		t.Fatalf("expected a StoreError, got %#v", err)
	}

	if storeError.Context != "child" || storeError.Op != graph.OpValidate || !errors.Is(err, schema.ErrValidation) {
		t.Fatalf("unexpected error %#v", storeError)
	}

	if !f.child.HasChanges() {
		t.Fatalf("expected child to keep its changes")
	}

	if err := on(f.child, func(token lane.Token) error { return record.Set(token, "title", "fixed") }); err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	if err := commit(f.child); err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	fetched, err := fetchIDs(f.main, "Item", nil)

	if err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	if diff := cmp.Diff([]string{record.ID()}, fetched); diff != "" {
		t.Fatal(diff)
	}
}

func TestSaveFailureKeepsChanges(t *testing.T) {
	f := newFixture(t)
	ids, err := insertItems(f.writer, "a")

	if err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	f.store.setFail(errInjected)
	err = commit(f.writer)

	var storeError *graph.StoreError

	if !errors.As(err, &storeError) || storeError.Op != graph.OpSave || !errors.Is(err, errInjected) {
		t.Fatalf("expected a save StoreError, got %#v", err)
	}

	if !f.writer.HasChanges() {
		t.Fatalf("expected writer to keep its changes")
	}

	f.store.setFail(nil)

	if err := commit(f.writer); err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	l := lane.New("fresh", zap.NewNop())
	defer l.Close()

	fetched, err := fetchIDs(f.coordinator.NewContext("fresh", l, nil), "Item", nil)

	if err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	if diff := cmp.Diff(ids, fetched); diff != "" {
		t.Fatal(diff)
	}
}

func TestDelete(t *testing.T) {
	f := newFixture(t)
	ids, err := insertItems(f.child, "a", "b", "c")

	if err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	for _, context := range []*graph.Context{f.child, f.main, f.writer} {
		if err := commit(context); err != nil {
			t.Fatalf("expected err to be nil, got %#v", err)
		}
	}

	var deleted *graph.Record

	err = on(f.child, func(token lane.Token) error {
		var err error
		deleted, err = f.child.Get(token, "Item", ids[1])

		if err != nil {
			return err
		}

		if err := deleted.Delete(token); err != nil {
			return err
		}

		// inserted and deleted before any commit
		record, err := f.child.Insert(token, "Item")

		if err != nil {
			return err
		}

		return f.child.Delete(token, record)
	})

	if err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	err = on(f.child, func(token lane.Token) error {
		_, err := deleted.Get(token, "title")

		return err
	})

	if err != graph.ErrDeleted {
		t.Fatalf("expected %#v, got %#v", graph.ErrDeleted, err)
	}

	for _, context := range []*graph.Context{f.child, f.main} {
		if err := commit(context); err != nil {
			t.Fatalf("expected err to be nil, got %#v", err)
		}
	}

	// still persisted until the writer commits
	l := lane.New("fresh", zap.NewNop())
	defer l.Close()
	fresh := f.coordinator.NewContext("fresh", l, nil)

	if fetched, _ := fetchIDs(fresh, "Item", nil); len(fetched) != 3 {
		t.Fatalf("expected 3 persisted records, got %v", fetched)
	}

	if err := commit(f.writer); err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	fetched, err := fetchIDs(fresh, "Item", nil)

	if err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	if diff := cmp.Diff(sorted([]string{ids[0], ids[2]}), fetched); diff != "" {
		t.Fatal(diff)
	}

	err = on(f.main, func(token lane.Token) error {
		_, err := f.main.Get(token, "Item", ids[1])

		return err
	})

	if !errors.Is(err, graph.ErrNotFound) {
		t.Fatalf("expected %#v, got %#v", graph.ErrNotFound, err)
	}
}

func TestRollback(t *testing.T) {
	f := newFixture(t)
	var record *graph.Record

	err := on(f.child, func(token lane.Token) error {
		var err error
		record, err = f.child.Insert(token, "Item")

		if err != nil {
			return err
		}

		return f.child.Rollback(token)
	})

	if err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	if f.child.HasChanges() {
		t.Fatalf("expected no changes after rollback")
	}

	err = on(f.child, func(token lane.Token) error { return record.Set(token, "title", "x") })

	if err != graph.ErrDetached {
		t.Fatalf("expected %#v, got %#v", graph.ErrDetached, err)
	}
}

func TestLaneAffinity(t *testing.T) {
	f := newFixture(t)
	var record *graph.Record

	if err := on(f.child, func(token lane.Token) error {
		var err error
		record, err = f.child.Insert(token, "Item")

		return err
	}); err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	testCases := map[string]func(token lane.Token) error{
		"insert": func(token lane.Token) error {
			_, err := f.child.Insert(token, "Item")

			return err
		},
		"fetch": func(token lane.Token) error {
			_, err := f.child.Fetch(token, "Item", nil)

			return err
		},
		"commit":   f.child.Commit,
		"rollback": f.child.Rollback,
		"set": func(token lane.Token) error {
			return record.Set(token, "title", "x")
		},
		"get": func(token lane.Token) error {
			_, err := record.Get(token, "title")

			return err
		},
	}

	for name, fn := range testCases {
		t.Run(name, func(t *testing.T) {
			if err := on(f.main, fn); err != lane.ErrWrongLane {
				t.Fatalf("expected %#v, got %#v", lane.ErrWrongLane, err)
			}
		})
	}

	if !f.child.HasChanges() {
		t.Fatalf("expected the insert to survive rejected operations")
	}

	if err := on(f.child, func(token lane.Token) error { return f.main.Delete(token, record) }); err != lane.ErrWrongLane {
		t.Fatalf("expected %#v, got %#v", lane.ErrWrongLane, err)
	}

	if err := on(f.main, func(token lane.Token) error { return f.main.Delete(token, record) }); err != graph.ErrForeignRecord {
		t.Fatalf("expected %#v, got %#v", graph.ErrForeignRecord, err)
	}
}

func TestRecordFields(t *testing.T) {
	f := newFixture(t)

	err := on(f.child, func(token lane.Token) error {
		record, err := f.child.Insert(token, "Item")

		if err != nil {
			return err
		}

		if record.Entity() != "Item" {
			return fmt.Errorf("expected entity Item, got %s", record.Entity())
		}

		if err := record.Set(token, "weight", 3); err != nil {
			return err
		}

		if err := record.Set(token, "done", "yes"); !errors.Is(err, schema.ErrTypeMismatch) {
			return fmt.Errorf("expected a type mismatch, got %#v", err)
		}

		if err := record.Set(token, "colour", "red"); !errors.Is(err, graph.ErrUnknownField) {
			return fmt.Errorf("expected an unknown field, got %#v", err)
		}

		if _, err := record.Get(token, "colour"); !errors.Is(err, graph.ErrUnknownField) {
			return fmt.Errorf("expected an unknown field, got %#v", err)
		}

		fields, err := record.Fields(token)

		if err != nil {
			return err
		}

		if diff := cmp.Diff(map[string]interface{}{"rank": int64(0), "weight": float64(3)}, fields); diff != "" {
			return fmt.Errorf("%s", diff)
		}

		// Fields is a copy
		fields["rank"] = int64(99)

		rank, err := record.Get(token, "rank")

		if err != nil {
			return err
		}

		if rank != int64(0) {
			return fmt.Errorf("expected rank 0, got %v", rank)
		}

		if _, err := f.child.Insert(token, "Nope"); !errors.Is(err, graph.ErrUnknownEntity) {
			return fmt.Errorf("expected an unknown entity, got %#v", err)
		}

		return nil
	})

	if err != nil {
		t.Fatal(err)
	}
}

func TestGetMovesRecordsBetweenTiersByID(t *testing.T) {
	f := newFixture(t)
	ids, err := insertItems(f.child, "a")

	if err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	if err := commit(f.child); err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	var title interface{}

	err = on(f.main, func(token lane.Token) error {
		record, err := f.main.Get(token, "Item", ids[0])

		if err != nil {
			return err
		}

		again, err := f.main.Get(token, "Item", ids[0])

		if err != nil {
			return err
		}

		if record != again {
			return fmt.Errorf("expected one instance per id")
		}

		if record.Context() != f.main {
			return fmt.Errorf("expected the record to belong to main")
		}

		title, err = record.Get(token, "title")

		return err
	})

	if err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	if title != "a" {
		t.Fatalf("expected title a, got %v", title)
	}
}

func TestUpdatePropagates(t *testing.T) {
	f := newFixture(t)
	ids, err := insertItems(f.child, "a")

	if err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	for _, context := range []*graph.Context{f.child, f.main, f.writer} {
		if err := commit(context); err != nil {
			t.Fatalf("expected err to be nil, got %#v", err)
		}
	}

	var mainRecord *graph.Record

	// main materializes the record before the child changes it
	if err := on(f.main, func(token lane.Token) error {
		var err error
		mainRecord, err = f.main.Get(token, "Item", ids[0])

		return err
	}); err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	if err := on(f.child, func(token lane.Token) error {
		record, err := f.child.Get(token, "Item", ids[0])

		if err != nil {
			return err
		}

		return record.Set(token, "title", "b")
	}); err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	if err := commit(f.child); err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	var title interface{}

	if err := on(f.main, func(token lane.Token) error {
		var err error
		title, err = mainRecord.Get(token, "title")

		return err
	}); err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	if title != "b" {
		t.Fatalf("expected main's instance to be refreshed, got %v", title)
	}

	if err := commit(f.main); err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	ids, err = fetchIDs(f.writer, "Item", graph.Eq("title", "b"))

	if err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	if len(ids) != 1 {
		t.Fatalf("expected the writer to see the update, got %v", ids)
	}
}

func TestMergeConflict(t *testing.T) {
	f := newFixture(t)
	ids, err := insertItems(f.child, "a")

	if err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	for _, context := range []*graph.Context{f.child, f.main, f.writer} {
		if err := commit(context); err != nil {
			t.Fatalf("expected err to be nil, got %#v", err)
		}
	}

	if err := on(f.child, func(token lane.Token) error {
		record, err := f.child.Get(token, "Item", ids[0])

		if err != nil {
			return err
		}

		return record.Set(token, "title", "b")
	}); err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	if err := on(f.main, func(token lane.Token) error {
		record, err := f.main.Get(token, "Item", ids[0])

		if err != nil {
			return err
		}

		return record.Delete(token)
	}); err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	err = commit(f.child)

	var storeError *graph.StoreError

	if !errors.As(err, &storeError) || storeError.Op != graph.OpMerge || !errors.Is(err, graph.ErrNotFound) {
		t.Fatalf("expected a merge StoreError, got %#v", err)
	}

	if !f.child.HasChanges() {
		t.Fatalf("expected child to keep its changes")
	}
}

func TestFetchWithRequest(t *testing.T) {
	f := newFixture(t)
	titles := []string{"e", "b", "d", "a", "c"}
	ids, err := insertItems(f.child, titles...)

	if err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	if err := commit(f.child); err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	byTitle := map[string]string{}

	for i, title := range titles {
		byTitle[title] = ids[i]
	}

	idsOf := func(titles ...string) []string {
		result := []string{}

		for _, title := range titles {
			result = append(result, byTitle[title])
		}

		return result
	}

	testCases := map[string]struct {
		request graph.FetchRequest
		result  []string
		err     error
	}{
		"sort": {
			request: graph.FetchRequest{Sort: []graph.SortDescriptor{{Field: "title"}}},
			result:  idsOf("a", "b", "c", "d", "e"),
		},
		"sort-descending": {
			request: graph.FetchRequest{Sort: []graph.SortDescriptor{{Field: "title", Descending: true}}},
			result:  idsOf("e", "d", "c", "b", "a"),
		},
		"sort-by-rank": {
			request: graph.FetchRequest{Sort: []graph.SortDescriptor{{Field: "rank"}}},
			result:  ids,
		},
		"limit": {
			request: graph.FetchRequest{Sort: []graph.SortDescriptor{{Field: "title"}}, Limit: 2},
			result:  idsOf("a", "b"),
		},
		"offset": {
			request: graph.FetchRequest{Sort: []graph.SortDescriptor{{Field: "title"}}, Offset: 3},
			result:  idsOf("d", "e"),
		},
		"offset-and-limit": {
			request: graph.FetchRequest{Sort: []graph.SortDescriptor{{Field: "title"}}, Offset: 1, Limit: 2},
			result:  idsOf("b", "c"),
		},
		"offset-past-end": {
			request: graph.FetchRequest{Offset: 10},
			result:  []string{},
		},
		"eq": {
			request: graph.FetchRequest{Predicate: graph.Eq("title", "c")},
			result:  idsOf("c"),
		},
		"ne": {
			request: graph.FetchRequest{Predicate: graph.Ne("title", "c"), Sort: []graph.SortDescriptor{{Field: "title"}}},
			result:  idsOf("a", "b", "d", "e"),
		},
		"lt": {
			request: graph.FetchRequest{Predicate: graph.Lt("rank", 2), Sort: []graph.SortDescriptor{{Field: "rank"}}},
			result:  ids[:2],
		},
		"gt-float-operand": {
			request: graph.FetchRequest{Predicate: graph.Gt("rank", 2.0), Sort: []graph.SortDescriptor{{Field: "rank"}}},
			result:  ids[3:],
		},
		"in": {
			request: graph.FetchRequest{Predicate: graph.In("title", "a", "e", "z"), Sort: []graph.SortDescriptor{{Field: "title"}}},
			result:  idsOf("a", "e"),
		},
		"and": {
			request: graph.FetchRequest{Predicate: graph.And(graph.Gt("title", "a"), graph.Lt("title", "d")), Sort: []graph.SortDescriptor{{Field: "title"}}},
			result:  idsOf("b", "c"),
		},
		"or": {
			request: graph.FetchRequest{Predicate: graph.Or(graph.Eq("title", "a"), graph.Eq("title", "e")), Sort: []graph.SortDescriptor{{Field: "title"}}},
			result:  idsOf("a", "e"),
		},
		"empty-or": {
			request: graph.FetchRequest{Predicate: graph.Or()},
			result:  []string{},
		},
		"not": {
			request: graph.FetchRequest{Predicate: graph.Not(graph.In("title", "a", "b", "c")), Sort: []graph.SortDescriptor{{Field: "title"}}},
			result:  idsOf("d", "e"),
		},
		"unset-field": {
			request: graph.FetchRequest{Predicate: graph.Eq("weight", nil)},
			result:  sorted(ids),
		},
		"func": {
			request: graph.FetchRequest{Predicate: graph.PredicateFunc(func(snapshot graph.Snapshot) bool { return snapshot.ID == byTitle["d"] })},
			result:  idsOf("d"),
		},
		"unknown-field": {
			request: graph.FetchRequest{Predicate: graph.Eq("colour", "red")},
			err:     graph.ErrUnknownField,
		},
		"type-mismatch": {
			request: graph.FetchRequest{Predicate: graph.Eq("rank", "high")},
			err:     schema.ErrTypeMismatch,
		},
		"unknown-sort-field": {
			request: graph.FetchRequest{Sort: []graph.SortDescriptor{{Field: "colour"}}},
			err:     graph.ErrUnknownField,
		},
	}

	for name, testCase := range testCases {
		t.Run(name, func(t *testing.T) {
			result, err := fetchIDsWithRequest(f.main, "Item", testCase.request)

			if testCase.err != nil {
				var storeError *graph.StoreError

				if !errors.As(err, &storeError) || storeError.Op != graph.OpFetch || !errors.Is(err, testCase.err) {
					t.Fatalf("expected a fetch StoreError wrapping %#v, got %#v", testCase.err, err)
				}

				return
			}

			if err != nil {
				t.Fatalf("expected err to be nil, got %#v", err)
			}

			if diff := cmp.Diff(testCase.result, result); diff != "" {
				t.Fatal(diff)
			}
		})
	}

	var count int

	if err := on(f.main, func(token lane.Token) error {
		var err error
		count, err = f.main.Count(token, "Item", graph.Gt("rank", 0))

		return err
	}); err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	if count != 4 {
		t.Fatalf("expected 4, got %d", count)
	}

	if _, err := fetchIDs(f.main, "Nope", nil); !errors.Is(err, graph.ErrUnknownEntity) {
		t.Fatalf("expected %#v, got %#v", graph.ErrUnknownEntity, err)
	}
}

func TestClosedStore(t *testing.T) {
	f := newFixture(t)

	if _, err := insertItems(f.writer, "a"); err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	if err := f.coordinator.Close(); err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	err := commit(f.writer)

	if !errors.Is(err, graph.ErrClosed) {
		t.Fatalf("expected %#v, got %#v", graph.ErrClosed, err)
	}

	if _, err := fetchIDs(f.main, "Item", nil); !errors.Is(err, graph.ErrClosed) {
		t.Fatalf("expected %#v, got %#v", graph.ErrClosed, err)
	}
}

func TestUndeclaredBucketsAreReported(t *testing.T) {
	s, err := schema.Parse([]byte(testSchema))

	if err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	store := memory.New()
	transaction, err := store.Begin(true)

	if err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	bucket, err := transaction.CreateBucketIfNotExists([]byte("Legacy"))

	if err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	if err := bucket.Put([]byte("1"), []byte(`{"name":"old"}`)); err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	if err := transaction.Commit(); err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	core, logs := observer.New(zap.WarnLevel)
	coordinator, err := graph.NewCoordinator(graph.CoordinatorConfig{Logger: zap.New(core), Schema: s, Store: store})

	if err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	defer coordinator.Close()

	entries := logs.All()

	if len(entries) != 1 {
		t.Fatalf("expected 1 warning, got %d", len(entries))
	}

	if diff := cmp.Diff(map[string]interface{}{"bucket": "Legacy"}, entries[0].ContextMap()); diff != "" {
		t.Fatal(diff)
	}

	// the bucket is left alone
	transaction, err = store.Begin(false)

	if err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	defer transaction.Rollback()

	if transaction.Bucket([]byte("Legacy")).Get([]byte("1")) == nil {
		t.Fatalf("expected the undeclared bucket to keep its records")
	}
}

// within runs fn in its own goroutine and fails the test if fn
// does not return within a few seconds
func within(t *testing.T, fn func() error) error {
	result := make(chan error, 1)

	go func() { result <- fn() }()

	select {
	case err := <-result:
		return err
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out")

		return nil
	}
}

func TestReadsDoNotWaitForSave(t *testing.T) {
	f := newFixture(t)
	ids, err := insertItems(f.main, "a", "b")

	if err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	if err := commit(f.main); err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	g := f.store.holdCommits()
	saved := make(chan error, 1)

	go func() { saved <- commit(f.writer) }()

	<-g.entered

	var visible []string

	if err := within(t, func() error {
		visible, err = fetchIDs(f.main, "Item", nil)

		return err
	}); err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	if diff := cmp.Diff(sorted(ids), sorted(visible)); diff != "" {
		t.Fatal(diff)
	}

	if err := within(t, func() error {
		return on(f.main, func(token lane.Token) error {
			_, err := f.main.Get(token, "Item", ids[0])

			return err
		})
	}); err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	more, err := insertItems(f.main, "c")

	if err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	if err := within(t, func() error { return commit(f.main) }); err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	close(g.release)

	if err := <-saved; err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	if !f.writer.HasChanges() {
		t.Fatalf("expected the change merged during the save to stay pending")
	}

	if err := commit(f.writer); err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	stored, err := fetchIDs(f.writer, "Item", nil)

	if err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	if diff := cmp.Diff(sorted(append(ids, more...)), sorted(stored)); diff != "" {
		t.Fatal(diff)
	}
}

func TestFailedSaveRestoresChanges(t *testing.T) {
	f := newFixture(t)
	ids, err := insertItems(f.main, "a", "b")

	if err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	if err := commit(f.main); err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	g := f.store.holdCommits()
	f.store.setFail(errInjected)
	saved := make(chan error, 1)

	go func() { saved <- commit(f.writer) }()

	<-g.entered

	// deleting a while its insert is being saved
	if err := within(t, func() error {
		return on(f.main, func(token lane.Token) error {
			record, err := f.main.Get(token, "Item", ids[0])

			if err != nil {
				return err
			}

			if err := record.Delete(token); err != nil {
				return err
			}

			return f.main.Commit(token)
		})
	}); err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	close(g.release)

	if err := <-saved; !errors.Is(err, errInjected) {
		t.Fatalf("expected %#v, got %#v", errInjected, err)
	}

	visible, err := fetchIDs(f.main, "Item", nil)

	if err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	if diff := cmp.Diff([]string{ids[1]}, visible); diff != "" {
		t.Fatal(diff)
	}

	f.store.setFail(nil)

	if err := commit(f.writer); err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	if f.writer.HasChanges() {
		t.Fatalf("expected no pending changes after a successful save")
	}

	stored, err := fetchIDs(f.writer, "Item", nil)

	if err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	if diff := cmp.Diff([]string{ids[1]}, stored); diff != "" {
		t.Fatal(diff)
	}
}
