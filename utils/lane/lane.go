// Package lane provides serial execution lanes. A lane is a single
// goroutine draining an unbounded FIFO of work items, so no two items
// submitted to the same lane ever run concurrently.
//
// Every work item receives a Token minted for that item. A token is
// valid only while its item runs and only on the lane that issued
// it. Components that are only safe to use from one lane accept a
// Token and call Check before touching their state, so a token from
// another lane or from a finished item is an error. Check cannot see
// which goroutine calls it: a token passed to another goroutine
// passes Check until its item returns, so work items must not hand
// their token to goroutines they start.
package lane

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/emirpasic/gods/lists/singlylinkedlist"
	"github.com/jrife/strata/utils/log"
	"go.uber.org/zap"
)

var (
	// ErrClosed is returned when work is submitted to a lane
	// that was closed
	ErrClosed = errors.New("lane was closed")
	// ErrWrongLane is returned by Check when the token was
	// issued by a different lane
	ErrWrongLane = errors.New("token was issued by a different lane")
	// ErrExpiredToken is returned by Check when the token's
	// work item is no longer running
	ErrExpiredToken = errors.New("token is not valid outside of its work item")
)

// Work is a unit of work scheduled onto a lane
type Work func(token Token)

// Token is a lane-proof capability handed to each work item.
// The zero Token is never valid.
type Token struct {
	lane *Lane
	item uint64
}

// Lane returns the lane that issued this token
func (token Token) Lane() *Lane {
	return token.lane
}

// Valid returns true if the token's work item is
// currently running on its lane
func (token Token) Valid() bool {
	return token.lane != nil && token.lane.Check(token) == nil
}

// Lane is a serial execution lane
type Lane struct {
	name    string
	logger  *zap.Logger
	mu      sync.Mutex
	cond    *sync.Cond
	queue   *singlylinkedlist.List
	closed  bool
	done    chan struct{}
	seq     uint64
	current uint64
}

// New creates a lane and starts its goroutine
func New(name string, logger *zap.Logger) *Lane {
	lane := &Lane{
		name:   name,
		logger: log.OrDefault(logger).With(zap.String("lane", name)),
		queue:  singlylinkedlist.New(),
		done:   make(chan struct{}),
	}

	lane.cond = sync.NewCond(&lane.mu)

	go lane.run()

	return lane
}

// Name returns the lane's name
func (lane *Lane) Name() string {
	return lane.name
}

// Len returns the number of queued work items,
// excluding the one currently running
func (lane *Lane) Len() int {
	lane.mu.Lock()
	defer lane.mu.Unlock()

	return lane.queue.Size()
}

// Perform enqueues work and returns without waiting
// for it to run. Work items run in submission order.
func (lane *Lane) Perform(work Work) error {
	return lane.enqueue(item{work: work})
}

// PerformAndWait enqueues work and blocks until it has run.
// It must not be called from a work item running on the same
// lane since that item would wait on itself.
func (lane *Lane) PerformAndWait(work Work) error {
	done := make(chan struct{})

	if err := lane.enqueue(item{work: work, done: done}); err != nil {
		return err
	}

	<-done

	return nil
}

type item struct {
	work Work
	// closed once work returned and its token expired
	done chan struct{}
}

func (lane *Lane) enqueue(i item) error {
	lane.mu.Lock()
	defer lane.mu.Unlock()

	if lane.closed {
		return ErrClosed
	}

	lane.queue.Add(i)
	lane.cond.Signal()

	return nil
}

// Check returns nil if token was issued by this lane for
// the work item that is running right now. It does not check
// the calling goroutine.
func (lane *Lane) Check(token Token) error {
	if token.lane != lane {
		return ErrWrongLane
	}

	if token.item == 0 || atomic.LoadUint64(&lane.current) != token.item {
		return ErrExpiredToken
	}

	return nil
}

// Close stops the lane from accepting new work, runs every
// item already queued and waits for the lane's goroutine to
// exit. Close is idempotent. Like PerformAndWait it must not
// be called from a work item running on this lane.
func (lane *Lane) Close() {
	lane.mu.Lock()
	lane.closed = true
	lane.cond.Broadcast()
	lane.mu.Unlock()

	<-lane.done
}

func (lane *Lane) run() {
	defer close(lane.done)

	for {
		i, seq, ok := lane.next()

		if !ok {
			lane.logger.Debug("lane drained")

			return
		}

		lane.execute(i, seq)
	}
}

func (lane *Lane) next() (item, uint64, bool) {
	lane.mu.Lock()
	defer lane.mu.Unlock()

	for lane.queue.Empty() && !lane.closed {
		lane.cond.Wait()
	}

	if lane.queue.Empty() {
		return item{}, 0, false
	}

	value, _ := lane.queue.Get(0)
	lane.queue.Remove(0)
	lane.seq++

	return value.(item), lane.seq, true
}

func (lane *Lane) execute(i item, seq uint64) {
	atomic.StoreUint64(&lane.current, seq)

	defer func() {
		atomic.StoreUint64(&lane.current, 0)

		if i.done != nil {
			close(i.done)
		}
	}()

	i.work(Token{lane: lane, item: seq})
}
