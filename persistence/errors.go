package persistence

import (
	"errors"
	"fmt"
)

var (
	// ErrStartup wraps every error returned by New. The
	// manager cannot run without its schema and store.
	ErrStartup = errors.New("could not start persistence manager")
	// ErrClosed is returned by entry points after Close
	ErrClosed = errors.New("persistence manager was closed")
	// ErrChainInFlight is returned by entry points under
	// ChainPolicyReject while another chain is running
	ErrChainInFlight = errors.New("a propagation chain is already in flight")
)

// Tier names one of the three contexts
type Tier string

const (
	// TierChild is the background mutation tier
	TierChild Tier = "child"
	// TierMain is the interactive read tier
	TierMain Tier = "main"
	// TierWriter is the background durable-write tier
	TierWriter Tier = "writer"
)

// Stage names the step of a tier that failed
type Stage string

const (
	// StageMutate is the caller's mutation work
	StageMutate Stage = "mutate"
	// StageCommit is the tier's commit
	StageCommit Stage = "commit"
)

// TierError is what failure callbacks receive. It names the tier
// and stage that failed and wraps the cause, usually a
// *graph.StoreError.
type TierError struct {
	Tier  Tier
	Stage Stage
	Err   error
}

// Error implements error
func (err *TierError) Error() string {
	return fmt.Sprintf("%s tier failed to %s: %s", err.Tier, err.Stage, err.Err)
}

// Unwrap returns the cause
func (err *TierError) Unwrap() error {
	return err.Err
}

// aggregate picks the error a chain reports from its
// per-stage results
func (policy ErrorPolicy) aggregate(results []*TierError) error {
	var reported *TierError

	for _, result := range results {
		if result == nil {
			continue
		}

		if reported == nil || policy == ErrorPolicyLast {
			reported = result
		}
	}

	if reported == nil {
		return nil
	}

	return reported
}
