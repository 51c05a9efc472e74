package persistence

import (
	"time"

	"github.com/jrife/strata/storage/graph"
	"github.com/jrife/strata/utils/lane"
	"go.uber.org/zap"
)

const (
	chainMutate     = "mutate"
	chainReadCommit = "read_commit"
)

// Work is the caller's mutation logic. It runs on the child lane
// and changes records through child.
type Work func(token lane.Token, child *graph.Context) error

// SuccessFunc is invoked on the main lane when a chain succeeds
type SuccessFunc func(token lane.Token)

// FailureFunc is invoked on the main lane when a chain fails.
// err is a *TierError.
type FailureFunc func(token lane.Token, err error)

// stage is one step of a chain. It runs on its lane and
// returns nil or the failure of its tier.
type stage struct {
	lane *lane.Lane
	run  func(token lane.Token) *TierError
}

// chain runs its stages in order, each stage scheduling the
// next one from inside its own work item. Every stage runs
// regardless of earlier failures. The last step runs on the
// main lane and invokes exactly one callback.
type chain struct {
	manager   *Manager
	kind      string
	logger    *zap.Logger
	stages    []stage
	results   []*TierError
	onSuccess SuccessFunc
	onFailure FailureFunc
}

func (c *chain) start() {
	c.logger.Debug("start chain", zap.Int("stages", len(c.stages)))
	c.step(0)
}

func (c *chain) step(i int) {
	if i == len(c.stages) {
		c.finish()

		return
	}

	s := c.stages[i]

	c.perform(s.lane, func(token lane.Token) {
		c.results = append(c.results, s.run(token))
		c.step(i + 1)
	})
}

func (c *chain) finish() {
	c.perform(c.manager.main.Lane(), func(token lane.Token) {
		err := c.manager.config.ErrorPolicy.aggregate(c.results)

		c.manager.metrics.observeChain(c.kind, err)

		if err != nil {
			c.logger.Warn("chain failed", zap.Error(err))

			if c.onFailure != nil {
				c.onFailure(token, err)
			}
		} else {
			c.logger.Debug("chain succeeded")

			if c.onSuccess != nil {
				c.onSuccess(token)
			}
		}

		c.manager.chainDone()
	})
}

// perform schedules work on l. Lanes are only closed once no
// chain is in flight, so a failure here is a bug.
func (c *chain) perform(l *lane.Lane, work lane.Work) {
	if err := l.Perform(work); err != nil {
		c.logger.DPanic("could not schedule chain stage", zap.String("lane", l.Name()), zap.Error(err))
	}
}

func (manager *Manager) mutateStage(work Work) stage {
	return stage{
		lane: manager.child.Lane(),
		run: func(token lane.Token) *TierError {
			if work != nil {
				if err := work(token, manager.child); err != nil {
					if rollbackErr := manager.child.Rollback(token); rollbackErr != nil {
						manager.logger.Error("could not roll back child context", zap.Error(rollbackErr))
					}

					return &TierError{Tier: TierChild, Stage: StageMutate, Err: err}
				}
			}

			return manager.commit(token, TierChild, manager.child)
		},
	}
}

func (manager *Manager) commitStage(tier Tier, context *graph.Context) stage {
	return stage{
		lane: context.Lane(),
		run: func(token lane.Token) *TierError {
			return manager.commit(token, tier, context)
		},
	}
}

func (manager *Manager) commit(token lane.Token, tier Tier, context *graph.Context) *TierError {
	started := time.Now()
	hadChanges := context.HasChanges()
	err := context.Commit(token)

	manager.metrics.observeCommit(tier, hadChanges, started, err)

	if err != nil {
		return &TierError{Tier: tier, Stage: StageCommit, Err: err}
	}

	return nil
}
