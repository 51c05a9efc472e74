// Package persistence wires three graph contexts into a propagation
// chain. The child context takes heavy mutations on its own lane,
// the main context serves interactive reads on the main lane and the
// writer context owns the kv store on a third lane. Commits flow
// child -> main -> writer -> store, one tier at a time, so the main
// lane never waits on disk I/O and mutations never block it.
package persistence

import (
	"fmt"
	"sync"

	"github.com/emirpasic/gods/lists/singlylinkedlist"
	"github.com/jrife/strata/storage/graph"
	"github.com/jrife/strata/storage/kv"
	"github.com/jrife/strata/storage/schema"
	"github.com/jrife/strata/utils/lane"
	"go.uber.org/zap"
)

// Manager owns the lanes and contexts of one store and runs
// propagation chains over them
type Manager struct {
	config      Config
	logger      *zap.Logger
	metrics     *metrics
	coordinator *graph.Coordinator
	writer      *graph.Context
	main        *graph.Context
	child       *graph.Context

	mu       sync.Mutex
	idle     *sync.Cond
	closed   bool
	inFlight bool
	waiting  *singlylinkedlist.List
}

// New loads the schema, opens the store and builds the writer,
// main and child contexts in that order. Every error wraps
// ErrStartup.
func New(config Config) (*Manager, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStartup, err)
	}

	config = config.withDefaults()
	logger := config.Logger.With(zap.String("app_id", config.AppID))

	s, err := config.loadSchema()

	if err != nil {
		return nil, fmt.Errorf("%w: could not load schema: %w", ErrStartup, err)
	}

	store, err := config.openStore()

	if err != nil {
		return nil, fmt.Errorf("%w: could not open %s store: %w", ErrStartup, config.Backend, err)
	}

	coordinator, err := graph.NewCoordinator(graph.CoordinatorConfig{
		Logger: logger,
		Schema: s,
		Store:  store,
	})

	if err != nil {
		closeStore(logger, store)

		return nil, fmt.Errorf("%w: could not create coordinator: %w", ErrStartup, err)
	}

	collectors, err := newMetrics(config.Registerer)

	if err != nil {
		if closeErr := coordinator.Close(); closeErr != nil {
			logger.Warn("could not close store", zap.Error(closeErr))
		}

		return nil, fmt.Errorf("%w: could not register metrics: %w", ErrStartup, err)
	}

	manager := &Manager{
		config:      config,
		logger:      logger,
		metrics:     collectors,
		coordinator: coordinator,
		waiting:     singlylinkedlist.New(),
	}

	manager.idle = sync.NewCond(&manager.mu)
	manager.writer = coordinator.NewContext(string(TierWriter), lane.New(string(TierWriter), logger), nil)
	manager.main = coordinator.NewContext(string(TierMain), lane.New(string(TierMain), logger), manager.writer)
	manager.child = coordinator.NewContext(string(TierChild), lane.New(string(TierChild), logger), manager.main)

	logger.Info("persistence manager started", zap.String("backend", config.Backend), zap.Strings("entities", s.EntityNames()))

	return manager, nil
}

func closeStore(logger *zap.Logger, store kv.Store) {
	if err := store.Close(); err != nil {
		logger.Warn("could not close store", zap.Error(err))
	}
}

// Schema returns the loaded schema
func (manager *Manager) Schema() *schema.Schema {
	return manager.coordinator.Schema()
}

// Writer returns the durable-write context
func (manager *Manager) Writer() *graph.Context {
	return manager.writer
}

// Main returns the interactive read context
func (manager *Manager) Main() *graph.Context {
	return manager.main
}

// Child returns the mutation context
func (manager *Manager) Child() *graph.Context {
	return manager.child
}

// MutateAndPropagate runs work on the child lane, then commits the
// child, main and writer contexts in turn, each on its own lane.
// It returns as soon as the chain is scheduled. Once the writer
// commit finished, exactly one of onSuccess or onFailure runs on
// the main lane. A failing stage does not stop later stages.
func (manager *Manager) MutateAndPropagate(work Work, onSuccess SuccessFunc, onFailure FailureFunc) error {
	return manager.submit(chainMutate, []stage{
		manager.mutateStage(work),
		manager.commitStage(TierMain, manager.main),
		manager.commitStage(TierWriter, manager.writer),
	}, onSuccess, onFailure)
}

// ReadCommitAndPropagate commits the main context and then the
// writer context. It is for changes made directly through the main
// context. Callbacks behave as for MutateAndPropagate.
func (manager *Manager) ReadCommitAndPropagate(onSuccess SuccessFunc, onFailure FailureFunc) error {
	return manager.submit(chainReadCommit, []stage{
		manager.commitStage(TierMain, manager.main),
		manager.commitStage(TierWriter, manager.writer),
	}, onSuccess, onFailure)
}

func (manager *Manager) submit(kind string, stages []stage, onSuccess SuccessFunc, onFailure FailureFunc) error {
	c := &chain{
		manager:   manager,
		kind:      kind,
		logger:    manager.logger.With(zap.String("chain", kind)),
		stages:    stages,
		onSuccess: onSuccess,
		onFailure: onFailure,
	}

	manager.mu.Lock()

	if manager.closed {
		manager.mu.Unlock()

		return ErrClosed
	}

	if manager.inFlight {
		defer manager.mu.Unlock()

		if manager.config.ChainPolicy == ChainPolicyReject {
			manager.metrics.rejectChain(kind)

			return ErrChainInFlight
		}

		manager.waiting.Add(c)
		manager.metrics.queuedChains.Set(float64(manager.waiting.Size()))
		c.logger.Debug("chain queued", zap.Int("waiting", manager.waiting.Size()))

		return nil
	}

	manager.inFlight = true
	manager.mu.Unlock()

	c.start()

	return nil
}

// chainDone starts the next queued chain, if any
func (manager *Manager) chainDone() {
	manager.mu.Lock()

	if manager.waiting.Empty() {
		manager.inFlight = false
		manager.idle.Broadcast()
		manager.mu.Unlock()

		return
	}

	next, _ := manager.waiting.Get(0)
	manager.waiting.Remove(0)
	manager.metrics.queuedChains.Set(float64(manager.waiting.Size()))
	manager.mu.Unlock()

	next.(*chain).start()
}

// Close stops accepting chains, waits for queued and in-flight
// chains to finish, drains the lanes and closes the store. It must
// not be called from a work item on one of the manager's lanes.
func (manager *Manager) Close() error {
	manager.mu.Lock()

	if manager.closed {
		manager.mu.Unlock()

		return nil
	}

	manager.closed = true

	for manager.inFlight {
		manager.idle.Wait()
	}

	manager.mu.Unlock()

	for _, context := range []*graph.Context{manager.child, manager.main, manager.writer} {
		context.Lane().Close()
	}

	if err := manager.coordinator.Close(); err != nil {
		return fmt.Errorf("could not close store: %w", err)
	}

	manager.logger.Info("persistence manager closed")

	return nil
}
