package seq

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"github.com/coachpo/rivulet/errs"
)

// Debounce yields a value only once d has elapsed without a newer upstream
// arrival; superseded values are discarded. The operator keeps at most one
// upstream pull outstanding across calls, which is the minimum lookahead the
// restart-on-arrival contract requires.
func Debounce[T any](src Sequence[T], d time.Duration) Sequence[T] {
	return &debounceSeq[T]{src: src, d: d, inflight: make(chan pullOutcome[T], 1)}
}

type debounceSeq[T any] struct {
	src      Sequence[T]
	d        time.Duration
	inflight chan pullOutcome[T]
	pulling  bool
	term     error
}

func (s *debounceSeq[T]) Next(ctx context.Context) (T, error) {
	var zero T
	if ctx == nil {
		ctx = context.Background()
	}
	if s.term != nil {
		return zero, s.term
	}

	var latest T
	have := false
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		if !s.pulling {
			s.pulling = true
			go func() {
				v, err := s.src.Next(context.Background())
				s.inflight <- pullOutcome[T]{value: v, err: err}
			}()
		}

		var elapsed <-chan time.Time
		if timer != nil {
			elapsed = timer.C
		}

		select {
		case <-ctx.Done():
			return zero, errs.New("seq/debounce", errs.CodeCanceled, errs.WithCause(ctx.Err()))
		case out := <-s.inflight:
			s.pulling = false
			if out.err != nil {
				s.term = out.err
				if have {
					// The settling value still wins before the terminal surfaces.
					return latest, nil
				}
				return zero, out.err
			}
			latest = out.value
			have = true
			if timer != nil {
				timer.Stop()
			}
			timer = time.NewTimer(s.d)
		case <-elapsed:
			timer = nil
			return latest, nil
		}
	}
}

func (s *debounceSeq[T]) Stop() { s.src.Stop() }

// Throttle yields the first value in each window immediately and discards
// upstream values until d has elapsed since that emission.
func Throttle[T any](src Sequence[T], d time.Duration) Sequence[T] {
	limit := rate.Inf
	if d > 0 {
		limit = rate.Every(d)
	}
	return &throttleSeq[T]{src: src, limiter: rate.NewLimiter(limit, 1)}
}

type throttleSeq[T any] struct {
	src     Sequence[T]
	limiter *rate.Limiter
	term    error
}

func (s *throttleSeq[T]) Next(ctx context.Context) (T, error) {
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
		if s.limiter.Allow() {
			return v, nil
		}
		// Inside the suppression window; value discarded.
	}
}

func (s *throttleSeq[T]) Stop() { s.src.Stop() }

// Timeout fails with a timeout error when no value, completion, or error
// arrives within d of the previous event.
func Timeout[T any](src Sequence[T], d time.Duration) Sequence[T] {
	return &timeoutSeq[T]{src: src, d: d, inflight: make(chan pullOutcome[T], 1)}
}

type timeoutSeq[T any] struct {
	src      Sequence[T]
	d        time.Duration
	inflight chan pullOutcome[T]
	pulling  bool
	term     error
}

func (s *timeoutSeq[T]) Next(ctx context.Context) (T, error) {
	var zero T
	if ctx == nil {
		ctx = context.Background()
	}
	if s.term != nil {
		return zero, s.term
	}
	if !s.pulling {
		s.pulling = true
		go func() {
			v, err := s.src.Next(context.Background())
			s.inflight <- pullOutcome[T]{value: v, err: err}
		}()
	}

	timer := time.NewTimer(s.d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return zero, errs.New("seq/timeout", errs.CodeCanceled, errs.WithCause(ctx.Err()))
	case out := <-s.inflight:
		s.pulling = false
		if out.err != nil {
			s.term = out.err
			return zero, out.err
		}
		return out.value, nil
	case <-timer.C:
		s.term = errs.New("seq/timeout", errs.CodeTimeout,
			errs.WithMessage("no event within bound"),
			errs.WithBound(s.d))
		s.src.Stop()
		return zero, s.term
	}
}

func (s *timeoutSeq[T]) Stop() { s.src.Stop() }
