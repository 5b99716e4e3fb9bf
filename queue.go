package editor

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// opQueue serializes the engine's asynchronous operations — checkout,
// cherryPick, merge, revert, squash, import, save — behind a weighted
// semaphore of size 1, so a second caller observing an in-flight operation
// is enqueued and admitted in arrival order rather than interleaving with
// it.
//
// golang.org/x/sync/semaphore.Weighted queues Acquire callers FIFO, which is
// exactly the ordering guarantee needed here; a plain sync.Mutex would give
// the same mutual exclusion but no documented queuing order.
type opQueue struct {
	sem *semaphore.Weighted
}

func newOpQueue() *opQueue {
	return &opQueue{sem: semaphore.NewWeighted(1)}
}

// Do runs fn with the queue's single slot held, blocking until it is this
// caller's turn. A canceled ctx unblocks Acquire without running fn.
func (q *opQueue) Do(ctx context.Context, fn func() error) error {
	if err := q.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer q.sem.Release(1)
	return fn()
}
