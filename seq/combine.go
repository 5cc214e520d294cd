package seq

import (
	"context"
	"sync"

	"github.com/sourcegraph/conc"

	"github.com/coachpo/rivulet/queue"
)

// Merge pulls concurrently from all sources and yields whichever value is
// ready first. Per-source order is preserved; interleaving across sources is
// unspecified. Each source gets exactly one slot in a suspend-policy buffer
// sized to the source count, so a slow consumer suspends every producer
// instead of dropping or buffering without bound.
func Merge[T any](srcs ...Sequence[T]) Sequence[T] {
	if len(srcs) == 0 {
		return FromSlice[T]()
	}
	q, err := queue.New[T](len(srcs), queue.Suspend, queue.WithName("merge"))
	if err != nil {
		// Source count is always a valid capacity; unreachable.
		panic(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &mergeSeq[T]{srcs: srcs, q: q, ctx: ctx, cancel: cancel}
}

type mergeSeq[T any] struct {
	srcs   []Sequence[T]
	q      *queue.Bounded[T]
	ctx    context.Context
	cancel context.CancelFunc
	start  sync.Once
	halt   sync.Once
}

func (m *mergeSeq[T]) Next(ctx context.Context) (T, error) {
	m.start.Do(m.run)
	return m.q.Pull(ctx)
}

func (m *mergeSeq[T]) Stop() {
	m.halt.Do(func() {
		m.cancel()
		for _, src := range m.srcs {
			src.Stop()
		}
		m.q.Close()
	})
}

func (m *mergeSeq[T]) run() {
	var wg conc.WaitGroup
	for _, src := range m.srcs {
		src := src
		wg.Go(func() {
			for {
				v, err := src.Next(m.ctx)
				if err == Done {
					return
				}
				if err != nil {
					m.q.Fail(err)
					m.cancel()
					return
				}
				if m.q.Push(m.ctx, v) != nil {
					return
				}
			}
		})
	}
	go func() {
		wg.Wait()
		m.q.Close()
	}()
}

// Zip yields one tuple per round, combining exactly one ready value from
// every source; the slowest source gates the whole tuple. When any source
// terminates, the zip terminates and in-flight values from the longer
// sources are discarded.
func Zip[T any](srcs ...Sequence[T]) Sequence[[]T] {
	return &zipSeq[T]{srcs: srcs}
}

type zipSeq[T any] struct {
	srcs []Sequence[T]
	term error
	halt sync.Once
}

func (z *zipSeq[T]) Next(ctx context.Context) ([]T, error) {
	if z.term != nil {
		return nil, z.term
	}
	if len(z.srcs) == 0 {
		z.term = Done
		return nil, Done
	}

	vals := make([]T, len(z.srcs))
	pullErrs := make([]error, len(z.srcs))
	var wg conc.WaitGroup
	for i, src := range z.srcs {
		i, src := i, src
		wg.Go(func() {
			vals[i], pullErrs[i] = src.Next(ctx)
		})
	}
	wg.Wait()

	var terminal error
	for _, err := range pullErrs {
		if err == nil {
			continue
		}
		if err != Done {
			terminal = err
			break
		}
		if terminal == nil {
			terminal = Done
		}
	}
	if terminal != nil {
		z.term = terminal
		z.Stop()
		return nil, terminal
	}
	return vals, nil
}

func (z *zipSeq[T]) Stop() {
	z.halt.Do(func() {
		for _, src := range z.srcs {
			src.Stop()
		}
	})
}
