package persistence

import (
	"fmt"

	"github.com/jrife/strata/storage/graph"
	"github.com/jrife/strata/utils/lane"
	"go.uber.org/zap"
)

// Insert creates a record in the child context. It must run on the
// child lane. An unknown entity or a token from another lane is a
// programming error and panics.
func (manager *Manager) Insert(token lane.Token, entity string) *graph.Record {
	record, err := manager.child.Insert(token, entity)

	if err != nil {
		panic(fmt.Sprintf("could not insert %s: %s", entity, err))
	}

	return record
}

// DeleteAll marks every record of an entity for deletion in the
// child context. It must run on the child lane.
func (manager *Manager) DeleteAll(token lane.Token, entity string) error {
	records, err := manager.child.Fetch(token, entity, nil)

	if err != nil {
		return err
	}

	for _, record := range records {
		if err := record.Delete(token); err != nil {
			return fmt.Errorf("could not delete %s %s: %w", entity, record.ID(), err)
		}
	}

	manager.logger.Debug("deleted all", zap.String("entity", entity), zap.Int("count", len(records)))

	return nil
}

// Fetch returns the records of an entity visible to the main context
// that match predicate. It must run on the main lane. The result is
// never nil.
func (manager *Manager) Fetch(token lane.Token, entity string, predicate graph.Predicate) ([]*graph.Record, error) {
	return manager.FetchWithRequest(token, entity, graph.FetchRequest{Predicate: predicate})
}

// FetchWithRequest is Fetch with sorting, limit and offset
func (manager *Manager) FetchWithRequest(token lane.Token, entity string, request graph.FetchRequest) ([]*graph.Record, error) {
	records, err := manager.main.FetchWithRequest(token, entity, request)

	if err != nil {
		manager.logger.Warn("fetch failed", zap.String("entity", entity), zap.Error(err))

		return nil, err
	}

	return records, nil
}
