package seq

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/coachpo/rivulet/errs"
)

// Retry re-subscribes to the upstream factory after a terminal error, up to
// attempts times, with exponential backoff between re-subscriptions. Done and
// cancellation pass through untouched.
func Retry[T any](factory func() (Sequence[T], error), attempts int) Sequence[T] {
	return RetryBackOff(factory, attempts, backoff.NewExponentialBackOff())
}

// RetryBackOff is Retry with a caller-supplied backoff schedule.
func RetryBackOff[T any](factory func() (Sequence[T], error), attempts int, delay *backoff.ExponentialBackOff) Sequence[T] {
	if delay == nil {
		delay = backoff.NewExponentialBackOff()
	}
	return &retrySeq[T]{factory: factory, attempts: attempts, delay: delay}
}

type retrySeq[T any] struct {
	factory  func() (Sequence[T], error)
	attempts int
	used     int
	delay    *backoff.ExponentialBackOff
	cur      Sequence[T]
	term     error
	stopped  bool
}

func (s *retrySeq[T]) Next(ctx context.Context) (T, error) {
	var zero T
	if ctx == nil {
		ctx = context.Background()
	}
	if s.term != nil {
		return zero, s.term
	}
	for {
		if s.stopped {
			s.term = Done
			return zero, Done
		}
		if s.cur == nil {
			cur, err := s.factory()
			if err != nil {
				s.term = err
				return zero, err
			}
			s.cur = cur
		}

		v, err := s.cur.Next(ctx)
		if err == nil {
			s.delay.Reset()
			return v, nil
		}
		if err == Done || errs.IsCanceled(err) {
			s.term = err
			return zero, err
		}
		if s.used >= s.attempts {
			s.term = err
			return zero, err
		}
		s.used++
		s.cur = nil

		sleep := s.delay.NextBackOff()
		select {
		case <-ctx.Done():
			s.term = errs.New("seq/retry", errs.CodeCanceled, errs.WithCause(ctx.Err()))
			return zero, s.term
		case <-time.After(sleep):
		}
	}
}

func (s *retrySeq[T]) Stop() {
	s.stopped = true
	if s.cur != nil {
		s.cur.Stop()
	}
}
