package pool

import (
	"context"
	"sync"

	"github.com/coachpo/rivulet/errs"
)

// Future is the pending result of a submitted task. It resolves exactly once.
type Future struct {
	once  sync.Once
	done  chan struct{}
	value any
	err   error
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

// complete resolves the future; only the first resolution sticks.
func (f *Future) complete(value any, err error) bool {
	won := false
	f.once.Do(func() {
		f.value = value
		f.err = err
		close(f.done)
		won = true
	})
	return won
}

// Done is closed when the future has resolved.
func (f *Future) Done() <-chan struct{} { return f.done }

// Await blocks until the task resolves or ctx is done.
func (f *Future) Await(ctx context.Context) (any, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case <-ctx.Done():
		return nil, errs.New("pool/await", errs.CodeCanceled, errs.WithCause(ctx.Err()))
	case <-f.done:
		return f.value, f.err
	}
}
