package queue

import (
	"context"
	"errors"
	"sync"

	eq "github.com/eapache/queue"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/coachpo/rivulet/errs"
	"github.com/coachpo/rivulet/telemetry"
)

// ErrDone signals that the queue is closed and fully drained; it is the
// normal-completion terminal result of Pull.
var ErrDone = errors.New("queue: sequence complete")

const (
	stateWaiting = iota
	stateDelivered
	stateCancelled
)

type outcome[T any] struct {
	value T
	err   error
}

type puller[T any] struct {
	ch    chan outcome[T]
	state int
}

type producer struct {
	ch    chan error
	state int
}

// Bounded is a FIFO buffer with a configurable capacity and overflow policy.
// Producers push, the single logical consumer pulls; concurrent pulls are
// served strictly in call order.
type Bounded[T any] struct {
	name     string
	capacity int
	policy   OverflowPolicy

	mu        sync.Mutex
	buf       *eq.Queue
	pullers   []*puller[T]
	producers []*producer
	closed    bool
	terminal  error

	depthGauge      metric.Int64UpDownCounter
	pushedCounter   metric.Int64Counter
	droppedCounter  metric.Int64Counter
	rejectedCounter metric.Int64Counter
}

// Option configures a Bounded queue.
type Option func(*options)

type options struct {
	name string
}

// WithName labels the queue in logs and metrics.
func WithName(name string) Option {
	return func(o *options) {
		if name != "" {
			o.name = name
		}
	}
}

// New constructs a bounded queue. Capacity 0 means unbounded; negative
// capacity or an unknown policy is a validation error.
func New[T any](capacity int, policy OverflowPolicy, opts ...Option) (*Bounded[T], error) {
	if capacity < 0 {
		return nil, errs.New("queue/new", errs.CodeInvalid,
			errs.WithMessage("capacity must be non-negative"))
	}
	if policy == "" {
		policy = Reject
	}
	if !policy.valid() {
		return nil, errs.New("queue/new", errs.CodeInvalid,
			errs.WithMessage("unknown overflow policy"),
			errs.WithDetail("policy", string(policy)))
	}

	o := options{name: "queue"}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}

	b := new(Bounded[T])
	b.name = o.name
	b.capacity = capacity
	b.policy = policy
	b.buf = eq.New()

	meter := otel.Meter("rivulet/queue")
	b.depthGauge, _ = meter.Int64UpDownCounter("queue.depth",
		metric.WithDescription("Number of values currently buffered"),
		metric.WithUnit("{value}"))
	b.pushedCounter, _ = meter.Int64Counter("queue.pushed",
		metric.WithDescription("Number of values accepted by push"),
		metric.WithUnit("{value}"))
	b.droppedCounter, _ = meter.Int64Counter("queue.dropped",
		metric.WithDescription("Number of values discarded by overflow policy"),
		metric.WithUnit("{value}"))
	b.rejectedCounter, _ = meter.Int64Counter("queue.rejected",
		metric.WithDescription("Number of pushes rejected at capacity"),
		metric.WithUnit("{push}"))

	return b, nil
}

// Name returns the queue label used in logs and metrics.
func (b *Bounded[T]) Name() string { return b.name }

// Capacity returns the configured capacity; 0 means unbounded.
func (b *Bounded[T]) Capacity() int { return b.capacity }

// Policy returns the configured overflow policy.
func (b *Bounded[T]) Policy() OverflowPolicy { return b.policy }

// Len returns the number of currently buffered values.
func (b *Bounded[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Length()
}

// Push appends a value. A waiting consumer receives the value directly,
// bypassing the buffer. At capacity the overflow policy decides: Reject fails,
// DropNewest discards v, DropOldest evicts the head, Suspend blocks until
// space frees or ctx is done.
func (b *Bounded[T]) Push(ctx context.Context, v T) error {
	if ctx == nil {
		ctx = context.Background()
	}
	for {
		b.mu.Lock()
		if b.closed {
			b.mu.Unlock()
			return errs.New("queue/push", errs.CodeClosed,
				errs.WithMessage("push after close"))
		}
		if w := b.takePullerLocked(); w != nil {
			w.state = stateDelivered
			w.ch <- outcome[T]{value: v}
			b.mu.Unlock()
			b.count(b.pushedCounter, 1)
			return nil
		}
		if b.capacity == 0 || b.buf.Length() < b.capacity {
			b.buf.Add(v)
			b.mu.Unlock()
			b.count(b.pushedCounter, 1)
			b.count(b.depthGauge, 1)
			return nil
		}

		switch b.policy {
		case Reject:
			b.mu.Unlock()
			b.count(b.rejectedCounter, 1)
			return errs.New("queue/push", errs.CodeOverflow,
				errs.WithMessage("buffer at capacity"),
				errs.WithDetail("queue", b.name))
		case DropNewest:
			b.mu.Unlock()
			b.drop("newest")
			return nil
		case DropOldest:
			b.buf.Remove()
			b.buf.Add(v)
			b.mu.Unlock()
			b.drop("oldest")
			b.count(b.pushedCounter, 1)
			return nil
		case Suspend:
			p := &producer{ch: make(chan error, 1)}
			b.producers = append(b.producers, p)
			b.mu.Unlock()

			select {
			case <-ctx.Done():
				b.mu.Lock()
				if p.state == stateDelivered {
					// Space was granted concurrently; hand it to the next producer.
					<-p.ch
					b.wakeProducerLocked()
				} else {
					p.state = stateCancelled
				}
				b.mu.Unlock()
				return errs.New("queue/push", errs.CodeCanceled,
					errs.WithCause(ctx.Err()))
			case err := <-p.ch:
				if err != nil {
					return err
				}
				// Retry with the freed slot.
			}
		}
	}
}

// Fail records the terminal error. Buffered values still drain; a consumer
// waiting on an empty buffer is woken immediately. Only the first error sticks.
func (b *Bounded[T]) Fail(err error) {
	if err == nil {
		return
	}
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	b.terminal = err
	b.drainWaitersLocked(err)
	b.failProducersLocked()
	b.mu.Unlock()
}

// Abort discards all buffered values and terminates the queue with err
// immediately; unlike Fail, nothing drains. Used for cancellation, where
// delivery must stop at once.
func (b *Bounded[T]) Abort(err error) {
	if err == nil {
		err = ErrDone
	}
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	discarded := b.buf.Length()
	for b.buf.Length() > 0 {
		b.buf.Remove()
	}
	b.closed = true
	b.terminal = err
	b.drainWaitersLocked(err)
	b.failProducersLocked()
	b.mu.Unlock()
	if discarded > 0 {
		b.count(b.depthGauge, -int64(discarded))
	}
}

// Close marks that no more pushes will occur. Buffered values drain normally;
// once drained, Pull yields ErrDone. Idempotent.
func (b *Bounded[T]) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	b.drainWaitersLocked(ErrDone)
	b.failProducersLocked()
	b.mu.Unlock()
}

// Pull returns the next buffered value, or suspends until a value, terminal
// error, or close-with-empty-buffer occurs. Concurrent pulls are served in
// call order.
func (b *Bounded[T]) Pull(ctx context.Context) (T, error) {
	var zero T
	if ctx == nil {
		ctx = context.Background()
	}

	b.mu.Lock()
	if b.buf.Length() > 0 {
		v := b.buf.Remove().(T)
		b.wakeProducerLocked()
		b.mu.Unlock()
		b.count(b.depthGauge, -1)
		return v, nil
	}
	if b.closed {
		err := b.terminal
		b.mu.Unlock()
		if err != nil {
			return zero, err
		}
		return zero, ErrDone
	}
	w := &puller[T]{ch: make(chan outcome[T], 1)}
	b.pullers = append(b.pullers, w)
	b.mu.Unlock()

	select {
	case <-ctx.Done():
		b.mu.Lock()
		if w.state == stateDelivered {
			b.mu.Unlock()
			out := <-w.ch
			return out.value, out.err
		}
		w.state = stateCancelled
		b.mu.Unlock()
		return zero, errs.New("queue/pull", errs.CodeCanceled,
			errs.WithCause(ctx.Err()))
	case out := <-w.ch:
		return out.value, out.err
	}
}

// takePullerLocked pops the oldest live waiter, skipping cancelled entries.
func (b *Bounded[T]) takePullerLocked() *puller[T] {
	for len(b.pullers) > 0 {
		w := b.pullers[0]
		b.pullers = b.pullers[1:]
		if w.state == stateWaiting {
			return w
		}
	}
	return nil
}

func (b *Bounded[T]) drainWaitersLocked(err error) {
	for {
		w := b.takePullerLocked()
		if w == nil {
			return
		}
		w.state = stateDelivered
		w.ch <- outcome[T]{err: err}
	}
}

func (b *Bounded[T]) wakeProducerLocked() {
	for len(b.producers) > 0 {
		p := b.producers[0]
		b.producers = b.producers[1:]
		if p.state == stateWaiting {
			p.state = stateDelivered
			p.ch <- nil
			return
		}
	}
}

func (b *Bounded[T]) failProducersLocked() {
	err := errs.New("queue/push", errs.CodeClosed,
		errs.WithMessage("queue closed while producer suspended"))
	for _, p := range b.producers {
		if p.state != stateWaiting {
			continue
		}
		p.state = stateDelivered
		p.ch <- err
	}
	b.producers = nil
}

func (b *Bounded[T]) count(instrument interface {
	Add(context.Context, int64, ...metric.AddOption)
}, n int64) {
	if instrument == nil {
		return
	}
	attrs := telemetry.QueueAttributes(telemetry.Environment(), b.name, string(b.policy))
	instrument.Add(context.Background(), n, metric.WithAttributes(attrs...))
}

func (b *Bounded[T]) drop(reason string) {
	if b.droppedCounter == nil {
		return
	}
	attrs := telemetry.QueueAttributes(telemetry.Environment(), b.name, string(b.policy))
	attrs = append(attrs, telemetry.AttrReason.String(reason))
	b.droppedCounter.Add(context.Background(), 1, metric.WithAttributes(attrs...))
}
