package bridge

import (
	"context"
	"sync"

	"github.com/coachpo/rivulet/errs"
	"github.com/coachpo/rivulet/observability"
	"github.com/coachpo/rivulet/queue"
	"github.com/coachpo/rivulet/seq"
)

// Registry tracks live (source, event) attachments. It is a non-owning
// lookup relation: entries are added on attach and removed on detach, and a
// second attach for the same pair is rejected while the first is live.
type Registry struct {
	mu      sync.Mutex
	entries map[registryKey]*Bridge
}

type registryKey struct {
	src   Source
	event string
}

// NewRegistry constructs an empty attachment registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[registryKey]*Bridge)}
}

func (r *Registry) attach(b *Bridge) error {
	key := registryKey{src: b.src, event: b.event}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[key]; exists {
		return errs.New("bridge/attach", errs.CodeInvalid,
			errs.WithMessage("source already bridged for event"),
			errs.WithDetail("event", b.event))
	}
	r.entries[key] = b
	return nil
}

func (r *Registry) detach(b *Bridge) {
	key := registryKey{src: b.src, event: b.event}
	r.mu.Lock()
	defer r.mu.Unlock()
	if current, ok := r.entries[key]; ok && current == b {
		delete(r.entries, key)
	}
}

// Len reports the number of live attachments.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

var defaultRegistry = NewRegistry()

// Options configures a bridged sequence.
type Options struct {
	// Capacity bounds the backing queue; 0 means unbounded.
	Capacity int
	// Policy selects the overflow behaviour; empty means Reject.
	Policy queue.OverflowPolicy
	// Registry overrides the shared attachment registry.
	Registry *Registry
	// QueueName labels the backing queue in logs and metrics.
	QueueName string
}

// Bridge owns the listener lifecycle for one (source, event) attachment and
// exposes the received payloads as a pull-style sequence.
type Bridge struct {
	src      Source
	event    string
	q        *queue.Bounded[any]
	registry *Registry
	cancels  []func()
	detached sync.Once
}

// From adapts a push source into a sequence. The returned sequence yields
// payloads in emission order; firing ctx resolves any outstanding pull as
// cancelled and detaches the listener exactly once.
func From(ctx context.Context, src Source, event string, opts Options) (seq.Sequence[any], error) {
	if src == nil {
		return nil, errs.New("bridge/from", errs.CodeInvalid,
			errs.WithMessage("source required"))
	}
	if event == "" {
		return nil, errs.New("bridge/from", errs.CodeInvalid,
			errs.WithMessage("event key required"))
	}
	if ctx == nil {
		ctx = context.Background()
	}

	name := opts.QueueName
	if name == "" {
		name = "bridge:" + event
	}
	q, err := queue.New[any](opts.Capacity, opts.Policy, queue.WithName(name))
	if err != nil {
		return nil, err
	}

	registry := opts.Registry
	if registry == nil {
		registry = defaultRegistry
	}

	b := &Bridge{src: src, event: event, q: q, registry: registry}
	if err := registry.attach(b); err != nil {
		return nil, err
	}

	// Terminal-event handlers register before the payload handler so a
	// source that starts producing on first subscription cannot complete
	// before its completion is observable.
	if reporter, ok := src.(ErrorReporter); ok && reporter.ErrorEvent() != event {
		cancel, err := src.Subscribe(reporter.ErrorEvent(), b.forwardError)
		if err == nil {
			b.cancels = append(b.cancels, cancel)
		}
	}
	if completer, ok := src.(Completer); ok && completer.DoneEvent() != event {
		cancel, err := src.Subscribe(completer.DoneEvent(), func(any) { b.complete() })
		if err == nil {
			b.cancels = append(b.cancels, cancel)
		}
	}

	cancel, err := src.Subscribe(event, b.forward)
	if err != nil {
		b.detach(func() { b.q.Close() })
		return nil, errs.New("bridge/from", errs.CodeUnavailable,
			errs.WithMessage("subscribe failed"),
			errs.WithCause(err))
	}
	b.cancels = append(b.cancels, cancel)

	if ctx.Done() != nil {
		go func() {
			<-ctx.Done()
			b.cancelled(ctx.Err())
		}()
	}

	return b, nil
}

// Next implements seq.Sequence.
func (b *Bridge) Next(ctx context.Context) (any, error) {
	return b.q.Pull(ctx)
}

// Stop implements seq.Sequence: early consumer termination completes the
// sequence and detaches the listener.
func (b *Bridge) Stop() {
	b.detach(func() { b.q.Close() })
}

// forward pushes one source payload into the queue.
func (b *Bridge) forward(payload any) {
	if err := b.q.Push(context.Background(), payload); err != nil {
		if errs.IsClosed(err) {
			return
		}
		observability.Log().Warn("bridge push failed",
			observability.F("event", b.event),
			observability.F("error", err.Error()))
	}
}

// forwardError terminates the sequence with the source-reported error.
func (b *Bridge) forwardError(payload any) {
	err, ok := payload.(error)
	if !ok {
		err = errs.New("bridge/source", errs.CodeUnavailable,
			errs.WithMessage("source reported a non-error payload on its error event"))
	}
	b.detach(func() { b.q.Fail(err) })
}

func (b *Bridge) complete() {
	b.detach(func() { b.q.Close() })
}

func (b *Bridge) cancelled(cause error) {
	b.detach(func() {
		b.q.Abort(errs.New("bridge/cancel", errs.CodeCanceled, errs.WithCause(cause)))
	})
}

// detach unsubscribes before the queue reaches its terminal state, so no
// handler fires after teardown. Idempotent.
func (b *Bridge) detach(terminal func()) {
	b.detached.Do(func() {
		for _, cancel := range b.cancels {
			if cancel != nil {
				cancel()
			}
		}
		b.registry.detach(b)
		terminal()
	})
}
