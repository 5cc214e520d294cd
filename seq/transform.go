package seq

import (
	"context"
	"reflect"
)

// Map yields fn applied to each upstream value. A transform error terminates
// the sequence with that error.
func Map[T, U any](src Sequence[T], fn func(T) (U, error)) Sequence[U] {
	return &mapSeq[T, U]{src: src, fn: fn}
}

type mapSeq[T, U any] struct {
	src  Sequence[T]
	fn   func(T) (U, error)
	term error
}

func (s *mapSeq[T, U]) Next(ctx context.Context) (U, error) {
	var zero U
	if s.term != nil {
		return zero, s.term
	}
	v, err := s.src.Next(ctx)
	if err != nil {
		s.term = err
		return zero, err
	}
	u, err := s.fn(v)
	if err != nil {
		s.term = err
		s.src.Stop()
		return zero, err
	}
	return u, nil
}

func (s *mapSeq[T, U]) Stop() { s.src.Stop() }

// Filter yields only values matching the predicate. A predicate error is a
// hard terminal error, not a "false" result.
func Filter[T any](src Sequence[T], predicate func(T) (bool, error)) Sequence[T] {
	return &filterSeq[T]{src: src, predicate: predicate}
}

type filterSeq[T any] struct {
	src       Sequence[T]
	predicate func(T) (bool, error)
	term      error
}

func (s *filterSeq[T]) Next(ctx context.Context) (T, error) {
	var zero T
	if s.term != nil {
		return zero, s.term
	}
	for {
		v, err := s.src.Next(ctx)
		if err != nil {
			s.term = err
			return zero, err
		}
		keep, err := s.predicate(v)
		if err != nil {
			s.term = err
			s.src.Stop()
			return zero, err
		}
		if keep {
			return v, nil
		}
	}
}

func (s *filterSeq[T]) Stop() { s.src.Stop() }

// Scan yields the running accumulation of upstream values, one output per
// input, starting from seed.
func Scan[T, A any](src Sequence[T], reducer func(A, T) (A, error), seed A) Sequence[A] {
	return &scanSeq[T, A]{src: src, reducer: reducer, acc: seed}
}

type scanSeq[T, A any] struct {
	src     Sequence[T]
	reducer func(A, T) (A, error)
	acc     A
	term    error
}

func (s *scanSeq[T, A]) Next(ctx context.Context) (A, error) {
	var zero A
	if s.term != nil {
		return zero, s.term
	}
	v, err := s.src.Next(ctx)
	if err != nil {
		s.term = err
		return zero, err
	}
	acc, err := s.reducer(s.acc, v)
	if err != nil {
		s.term = err
		s.src.Stop()
		return zero, err
	}
	s.acc = acc
	return acc, nil
}

func (s *scanSeq[T, A]) Stop() { s.src.Stop() }

// DistinctUntilChanged suppresses consecutive duplicates using the provided
// equality function; a nil equals falls back to reflect.DeepEqual. Only
// adjacent repeats are suppressed, not globally seen values.
func DistinctUntilChanged[T any](src Sequence[T], equals func(a, b T) bool) Sequence[T] {
	if equals == nil {
		equals = func(a, b T) bool { return reflect.DeepEqual(a, b) }
	}
	return &distinctSeq[T]{src: src, equals: equals}
}

type distinctSeq[T any] struct {
	src    Sequence[T]
	equals func(a, b T) bool
	last   T
	primed bool
	term   error
}

func (s *distinctSeq[T]) Next(ctx context.Context) (T, error) {
	var zero T
	if s.term != nil {
		return zero, s.term
	}
	for {
		v, err := s.src.Next(ctx)
		if err != nil {
			s.term = err
			return zero, err
		}
		if s.primed && s.equals(s.last, v) {
			continue
		}
		s.last = v
		s.primed = true
		return v, nil
	}
}

func (s *distinctSeq[T]) Stop() { s.src.Stop() }

// Buffer groups upstream values into windows of size n; the final window may
// be shorter when the upstream completes mid-window.
func Buffer[T any](src Sequence[T], n int) Sequence[[]T] {
	if n < 1 {
		n = 1
	}
	return &bufferSeq[T]{src: src, size: n}
}

type bufferSeq[T any] struct {
	src  Sequence[T]
	size int
	term error
}

func (s *bufferSeq[T]) Next(ctx context.Context) ([]T, error) {
	if s.term != nil {
		return nil, s.term
	}
	window := make([]T, 0, s.size)
	for len(window) < s.size {
		v, err := s.src.Next(ctx)
		if err != nil {
			s.term = err
			if err == Done && len(window) > 0 {
				return window, nil
			}
			return nil, err
		}
		window = append(window, v)
	}
	return window, nil
}

func (s *bufferSeq[T]) Stop() { s.src.Stop() }
