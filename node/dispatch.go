package node

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/semaphore"
)

// DefaultWorkers bounds concurrent blocking calls per pool when none is configured.
const DefaultWorkers = 8

// dispatchError marks failures of the pool itself, as opposed to errors
// returned by the dispatched call.
type dispatchError struct {
	err error
}

func (e *dispatchError) Error() string { return e.err.Error() }

func (e *dispatchError) Unwrap() error { return e.err }

// Pool runs blocking calls on their own goroutines with bounded concurrency,
// so a client without context support cannot pin the caller past its
// context or the pool's deadline.
//
// A call that outlives its deadline keeps its worker slot until the
// underlying client returns.
type Pool struct {
	sem     *semaphore.Weighted
	timeout time.Duration
}

// NewPool returns a pool running at most workers calls at once. A positive
// timeout is applied to every call; zero disables it.
func NewPool(workers int64, timeout time.Duration) *Pool {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	return &Pool{sem: semaphore.NewWeighted(workers), timeout: timeout}
}

// Do runs fn on a worker and returns its error. Failures to dispatch, expiry
// of ctx or the pool deadline, and panics in fn are returned as dispatch errors.
func (p *Pool) Do(ctx context.Context, fn func() error) error {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	if err := p.sem.Acquire(ctx, 1); err != nil {
		return &dispatchError{errors.Wrap(err, "waiting for a worker")}
	}

	done := make(chan error, 1)
	go func() {
		defer p.sem.Release(1)
		defer func() {
			if r := recover(); r != nil {
				done <- &dispatchError{errors.Errorf("blocking call panicked: %v", r)}
			}
		}()
		done <- fn()
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return &dispatchError{errors.Wrap(ctx.Err(), "blocking call abandoned")}
	}
}

func isDispatchError(err error) bool {
	var de *dispatchError
	return errors.As(err, &de)
}
