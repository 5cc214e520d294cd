// Package seq defines the pull-style sequence abstraction and its operator
// library. A Sequence yields one value per explicit request, so backpressure
// from the ultimate consumer reaches every upstream buffer.
//
// Sequences are single-consumer: Next must not be called concurrently. Stop
// may be called from any goroutine and is idempotent; every operator forwards
// it upstream.
package seq

import (
	"context"
	"sync"

	"github.com/coachpo/rivulet/errs"
	"github.com/coachpo/rivulet/queue"
)

// Done signals normal completion of a sequence.
var Done = queue.ErrDone

// Sequence is a pull-style, potentially infinite ordered series of values.
type Sequence[T any] interface {
	// Next blocks until the next value, Done, or a terminal error.
	Next(ctx context.Context) (T, error)
	// Stop terminates the sequence early and releases upstream resources.
	Stop()
}

type pullOutcome[T any] struct {
	value T
	err   error
}

// FromSlice yields the provided values in order, then Done.
func FromSlice[T any](values ...T) Sequence[T] {
	return &sliceSeq[T]{values: values}
}

type sliceSeq[T any] struct {
	values []T
	idx    int
	done   bool
}

func (s *sliceSeq[T]) Next(ctx context.Context) (T, error) {
	var zero T
	if ctx != nil && ctx.Err() != nil {
		return zero, errs.New("seq/next", errs.CodeCanceled, errs.WithCause(ctx.Err()))
	}
	if s.done || s.idx >= len(s.values) {
		return zero, Done
	}
	v := s.values[s.idx]
	s.idx++
	return v, nil
}

func (s *sliceSeq[T]) Stop() { s.done = true }

// FromChan yields values received from ch until it is closed.
func FromChan[T any](ch <-chan T) Sequence[T] {
	return &chanSeq[T]{ch: ch, stop: make(chan struct{})}
}

type chanSeq[T any] struct {
	ch       <-chan T
	stop     chan struct{}
	stopOnce sync.Once
}

func (s *chanSeq[T]) Next(ctx context.Context) (T, error) {
	var zero T
	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case <-s.stop:
		return zero, Done
	case <-ctx.Done():
		return zero, errs.New("seq/next", errs.CodeCanceled, errs.WithCause(ctx.Err()))
	case v, ok := <-s.ch:
		if !ok {
			return zero, Done
		}
		return v, nil
	}
}

func (s *chanSeq[T]) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
}

// FromQueue exposes a bounded queue as a sequence. Stop closes the queue.
func FromQueue[T any](q *queue.Bounded[T]) Sequence[T] {
	return &queueSeq[T]{q: q}
}

type queueSeq[T any] struct {
	q *queue.Bounded[T]
}

func (s *queueSeq[T]) Next(ctx context.Context) (T, error) {
	return s.q.Pull(ctx)
}

func (s *queueSeq[T]) Stop() { s.q.Close() }

// Collect drains the sequence into a slice, returning on Done or error.
func Collect[T any](ctx context.Context, s Sequence[T]) ([]T, error) {
	var out []T
	for {
		v, err := s.Next(ctx)
		if err == Done {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, v)
	}
}

// Each applies fn to every value; a non-nil fn error stops consumption and
// terminates the sequence.
func Each[T any](ctx context.Context, s Sequence[T], fn func(T) error) error {
	for {
		v, err := s.Next(ctx)
		if err == Done {
			return nil
		}
		if err != nil {
			return err
		}
		if err := fn(v); err != nil {
			s.Stop()
			return err
		}
	}
}
