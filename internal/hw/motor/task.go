package motor

import "context"

// Task tracks a move running on its own goroutine.
type Task struct {
	cancel context.CancelFunc
	done   chan struct{}
	res    MoveResult
	err    error
}

// MoveStepsAsync starts MoveSteps on a new goroutine and returns a
// handle for waiting on or canceling it. Concurrent tasks queue on
// the exclusivity guard and run one at a time; none are dropped.
// onDone, if non-nil, runs on the worker goroutine once the move
// ends, before Wait unblocks.
func (c *Controller) MoveStepsAsync(ctx context.Context, steps int, dir Direction, onDone func(MoveResult, error)) *Task {
	ctx, cancel := context.WithCancel(ctx)
	t := &Task{cancel: cancel, done: make(chan struct{})}
	go func() {
		defer cancel()
		t.res, t.err = c.MoveSteps(ctx, steps, dir)
		if onDone != nil {
			onDone(t.res, t.err)
		}
		close(t.done)
	}()
	return t
}

// Done is closed once the move and its completion callback finish.
func (t *Task) Done() <-chan struct{} { return t.done }

// Wait blocks until the move ends and returns its outcome.
func (t *Task) Wait() (MoveResult, error) {
	<-t.done
	return t.res, t.err
}

// Cancel asks the move to end at the next pulse boundary. Wait still
// reports how far the axis got.
func (t *Task) Cancel() { t.cancel() }
