package rpc

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/coachpo/rivulet/errs"
	"github.com/coachpo/rivulet/observability"
	"github.com/coachpo/rivulet/pool"
	"github.com/coachpo/rivulet/telemetry"
)

// Options configures a Client.
type Options struct {
	// Timeout bounds each call; default 30s.
	Timeout time.Duration
}

const defaultTimeout = 30 * time.Second

// WorkerError is the structured failure a handler produced on the worker
// side: a thrown panic, a returned error, or a script exception.
type WorkerError struct {
	Kind    string
	Message string
	Stack   string
}

func (e *WorkerError) Error() string {
	return fmt.Sprintf("worker %s: %s", e.Kind, e.Message)
}

type call struct {
	method string
	start  time.Time
	done   chan struct{}
	value  any
	err    error
}

// Client dispatches API calls onto a pool, correlating each call by a uuid
// and resolving it exactly once: from the worker result, the call timer, or
// Close, whichever lands first.
type Client struct {
	pool    *pool.Pool
	api     API
	timeout time.Duration

	mu      sync.Mutex
	pending map[string]*call
	closed  bool

	callCounter    metric.Int64Counter
	timeoutCounter metric.Int64Counter
	lateCounter    metric.Int64Counter
	durationHist   metric.Float64Histogram
}

// NewClient wraps api over p.
func NewClient(p *pool.Pool, api API, opts Options) (*Client, error) {
	if p == nil {
		return nil, errs.New("rpc/new", errs.CodeInvalid,
			errs.WithMessage("pool required"))
	}
	if api == nil {
		return nil, errs.New("rpc/new", errs.CodeInvalid,
			errs.WithMessage("api required"))
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}

	c := &Client{
		pool:    p,
		api:     api,
		timeout: opts.Timeout,
		pending: make(map[string]*call),
	}

	meter := otel.Meter("rivulet/rpc")
	c.callCounter, _ = meter.Int64Counter("rpc.calls",
		metric.WithDescription("Number of calls resolved, by result"),
		metric.WithUnit("{call}"))
	c.timeoutCounter, _ = meter.Int64Counter("rpc.calls.timeout",
		metric.WithDescription("Number of calls that hit the per-call deadline"),
		metric.WithUnit("{call}"))
	c.lateCounter, _ = meter.Int64Counter("rpc.calls.late_discarded",
		metric.WithDescription("Number of worker completions discarded after their call resolved"),
		metric.WithUnit("{call}"))
	c.durationHist, _ = meter.Float64Histogram("rpc.call.duration",
		metric.WithDescription("Call latency from submit to resolution"),
		metric.WithUnit("s"))
	return c, nil
}

// Call invokes method with args and waits for the result. Per-call failures
// come back as taxonomy envelopes: CodeTimeout after Options.Timeout,
// CodeCanceled when ctx ends first, CodeWorkerFault (with a WorkerError
// cause) when the handler fails, CodeClosed when the client shuts down.
func (c *Client) Call(ctx context.Context, method string, args ...any) (any, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	fn, err := c.api.resolve(method)
	if err != nil {
		return nil, err
	}

	ca := &call{method: method, start: time.Now(), done: make(chan struct{})}
	id := uuid.NewString()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, errs.New("rpc/call", errs.CodeClosed,
			errs.WithMessage("client closed"),
			errs.WithMethod(method))
	}
	c.pending[id] = ca
	c.mu.Unlock()

	timer := time.AfterFunc(c.timeout, func() {
		won := c.settle(id, nil, errs.New("rpc/call", errs.CodeTimeout,
			errs.WithMessage("call deadline exceeded"),
			errs.WithMethod(method),
			errs.WithBound(c.timeout)))
		if won {
			c.count(c.timeoutCounter, telemetry.CallAttributes(telemetry.Environment(), method, "timeout"))
		}
	})
	defer timer.Stop()

	future, err := c.pool.Submit(ctx, func(taskCtx context.Context) (any, error) {
		return invoke(taskCtx, method, fn, args)
	})
	if err != nil {
		c.settle(id, nil, err)
	} else {
		go func() {
			v, taskErr := future.Await(context.Background())
			if !c.settle(id, v, structureFault(method, taskErr)) {
				c.count(c.lateCounter, telemetry.CallAttributes(telemetry.Environment(), method, "late"))
				observability.Log().Debug("discarded late rpc completion",
					observability.F("method", method),
					observability.F("call", id))
			}
		}()
	}

	select {
	case <-ca.done:
	case <-ctx.Done():
		c.settle(id, nil, errs.New("rpc/call", errs.CodeCanceled,
			errs.WithMethod(method),
			errs.WithCause(ctx.Err())))
		<-ca.done
	}

	result := "ok"
	if ca.err != nil {
		result = "error"
	}
	attrs := telemetry.CallAttributes(telemetry.Environment(), method, result)
	c.count(c.callCounter, attrs)
	if c.durationHist != nil {
		c.durationHist.Record(context.Background(), time.Since(ca.start).Seconds(),
			metric.WithAttributes(attrs...))
	}
	return ca.value, ca.err
}

// Close rejects every pending call with CodeClosed and stops intake.
// Idempotent. The underlying pool is not closed; the caller owns it.
func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	pending := c.pending
	c.pending = make(map[string]*call)
	c.mu.Unlock()

	for _, ca := range pending {
		ca.err = errs.New("rpc/close", errs.CodeClosed,
			errs.WithMessage("client closed"),
			errs.WithMethod(ca.method))
		close(ca.done)
	}
}

// settle resolves the pending call once; later settlements for the same id
// report false and are discarded by the caller.
func (c *Client) settle(id string, value any, err error) bool {
	c.mu.Lock()
	ca, ok := c.pending[id]
	if !ok {
		c.mu.Unlock()
		return false
	}
	delete(c.pending, id)
	c.mu.Unlock()

	ca.value = value
	ca.err = err
	close(ca.done)
	return true
}

// structureFault rebuilds a pool worker fault as an rpc envelope carrying a
// WorkerError so callers see what actually failed on the worker side.
func structureFault(method string, err error) error {
	if err == nil {
		return nil
	}
	var e *errs.E
	if !errors.As(err, &e) || e.Code != errs.CodeWorkerFault {
		return err
	}

	we := &WorkerError{Kind: "error", Message: e.Message}
	if cause := errors.Unwrap(e); cause != nil {
		we.Message = cause.Error()
	}
	if p, ok := e.Detail["panic"]; ok {
		we.Kind = "panic"
		we.Message = p
		we.Stack = e.Detail["stack"]
	}
	return errs.New("rpc/call", errs.CodeWorkerFault,
		errs.WithMessage("handler failed"),
		errs.WithMethod(method),
		errs.WithCause(we))
}

func (c *Client) count(counter metric.Int64Counter, attrs []attribute.KeyValue) {
	if counter == nil {
		return
	}
	counter.Add(context.Background(), 1, metric.WithAttributes(attrs...))
}
