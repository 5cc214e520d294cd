// Package pool manages a dynamically sized set of OS-thread workers serving
// a FIFO task queue.
package pool

import (
	"context"
	"runtime"
	"sync"
	"time"

	eq "github.com/eapache/queue"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/coachpo/rivulet/errs"
	"github.com/coachpo/rivulet/observability"
	"github.com/coachpo/rivulet/telemetry"
)

// Task is a unit of work executed on a pool worker.
type Task func(ctx context.Context) (any, error)

// Options configures a Pool.
type Options struct {
	// MinWorkers is the floor kept alive while the pool is open; default 1.
	MinWorkers int
	// MaxWorkers is the scaling ceiling; default GOMAXPROCS.
	MaxWorkers int
	// IdleTimeout retires workers above MinWorkers after this much
	// inactivity; default 30s.
	IdleTimeout time.Duration
	// DrainGrace bounds how long Close waits for in-flight tasks before
	// force-terminating; default 5s.
	DrainGrace time.Duration
}

func (o Options) normalize() (Options, error) {
	if o.MinWorkers == 0 {
		o.MinWorkers = 1
	}
	if o.MaxWorkers == 0 {
		o.MaxWorkers = runtime.GOMAXPROCS(0)
	}
	if o.MinWorkers < 0 {
		return o, errs.New("pool/new", errs.CodeInvalid,
			errs.WithMessage("minWorkers must be non-negative"))
	}
	if o.MaxWorkers < o.MinWorkers {
		return o, errs.New("pool/new", errs.CodeInvalid,
			errs.WithMessage("maxWorkers must be >= minWorkers"))
	}
	if o.IdleTimeout <= 0 {
		o.IdleTimeout = 30 * time.Second
	}
	if o.DrainGrace <= 0 {
		o.DrainGrace = 5 * time.Second
	}
	return o, nil
}

type taskEnvelope struct {
	ctx    context.Context
	fn     Task
	future *Future
}

// Pool owns the worker registry and the pending-task queue; both are mutated
// only by the pool's own dispatch logic.
type Pool struct {
	opts Options

	ctx    context.Context
	cancel context.CancelFunc
	quit   chan struct{}

	mu       sync.Mutex
	workers  map[int]*worker
	idle     []*worker
	pending  *eq.Queue
	nextID   int
	closed   bool
	stopped  bool
	inflight sync.WaitGroup

	closeOnce sync.Once
	closeErr  error

	workerGauge      metric.Int64UpDownCounter
	spawnedCounter   metric.Int64Counter
	retiredCounter   metric.Int64Counter
	submittedCounter metric.Int64Counter
	completedCounter metric.Int64Counter
	faultedCounter   metric.Int64Counter
	depthGauge       metric.Int64UpDownCounter
}

// New constructs an open pool with MinWorkers workers pre-spawned.
func New(opts Options) (*Pool, error) {
	opts, err := opts.normalize()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := new(Pool)
	p.opts = opts
	p.ctx = ctx
	p.cancel = cancel
	p.quit = make(chan struct{})
	p.workers = make(map[int]*worker)
	p.pending = eq.New()

	meter := otel.Meter("rivulet/pool")
	p.workerGauge, _ = meter.Int64UpDownCounter("pool.workers",
		metric.WithDescription("Number of live workers"),
		metric.WithUnit("{worker}"))
	p.spawnedCounter, _ = meter.Int64Counter("pool.workers.spawned",
		metric.WithDescription("Number of workers spawned"),
		metric.WithUnit("{worker}"))
	p.retiredCounter, _ = meter.Int64Counter("pool.workers.retired",
		metric.WithDescription("Number of workers retired or removed"),
		metric.WithUnit("{worker}"))
	p.submittedCounter, _ = meter.Int64Counter("pool.tasks.submitted",
		metric.WithDescription("Number of tasks accepted"),
		metric.WithUnit("{task}"))
	p.completedCounter, _ = meter.Int64Counter("pool.tasks.completed",
		metric.WithDescription("Number of tasks resolved successfully"),
		metric.WithUnit("{task}"))
	p.faultedCounter, _ = meter.Int64Counter("pool.tasks.faulted",
		metric.WithDescription("Number of tasks resolved with a worker fault"),
		metric.WithUnit("{task}"))
	p.depthGauge, _ = meter.Int64UpDownCounter("pool.queue.depth",
		metric.WithDescription("Number of tasks waiting for a worker"),
		metric.WithUnit("{task}"))

	p.mu.Lock()
	for i := 0; i < opts.MinWorkers; i++ {
		p.spawnLocked(nil)
	}
	p.mu.Unlock()

	return p, nil
}

// Submit schedules fn and returns its future. Dispatch prefers an idle
// worker, then spawns below MaxWorkers, then queues FIFO.
func (p *Pool) Submit(ctx context.Context, fn Task) (*Future, error) {
	if fn == nil {
		return nil, errs.New("pool/submit", errs.CodeInvalid,
			errs.WithMessage("task must not be nil"))
	}
	if ctx == nil {
		ctx = context.Background()
	}

	env := &taskEnvelope{ctx: ctx, fn: fn, future: newFuture()}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, errs.New("pool/submit", errs.CodeClosed,
			errs.WithMessage("pool closed"))
	}
	p.inflight.Add(1)
	p.count(p.submittedCounter, 1)

	if w := p.takeIdleLocked(); w != nil {
		w.state = workerBusy
		w.tasks <- env
		p.mu.Unlock()
		return env.future, nil
	}
	if len(p.workers) < p.opts.MaxWorkers {
		p.spawnLocked(env)
		p.mu.Unlock()
		return env.future, nil
	}
	p.pending.Add(env)
	p.count(p.depthGauge, 1)
	p.mu.Unlock()
	return env.future, nil
}

// Close stops intake, drains in-flight and queued tasks within the grace
// period (bounded further by ctx), then force-terminates. Idempotent.
func (p *Pool) Close(ctx context.Context) error {
	p.closeOnce.Do(func() {
		if ctx == nil {
			ctx = context.Background()
		}
		p.mu.Lock()
		p.closed = true
		p.mu.Unlock()

		drained := make(chan struct{})
		go func() {
			p.inflight.Wait()
			close(drained)
		}()

		timer := time.NewTimer(p.opts.DrainGrace)
		defer timer.Stop()

		select {
		case <-drained:
		case <-timer.C:
			p.closeErr = errs.New("pool/close", errs.CodeTimeout,
				errs.WithMessage("drain grace expired; force-terminating"),
				errs.WithBound(p.opts.DrainGrace))
		case <-ctx.Done():
			p.closeErr = errs.New("pool/close", errs.CodeCanceled,
				errs.WithCause(ctx.Err()))
		}

		p.mu.Lock()
		p.stopped = true
		rejected := make([]*taskEnvelope, 0, p.pending.Length())
		for p.pending.Length() > 0 {
			rejected = append(rejected, p.pending.Remove().(*taskEnvelope))
		}
		p.mu.Unlock()

		for _, env := range rejected {
			p.resolve(env, nil, errs.New("pool/close", errs.CodeClosed,
				errs.WithMessage("pool closed before dispatch")))
			p.count(p.depthGauge, -1)
		}

		p.cancel()
		close(p.quit)
	})
	return p.closeErr
}

// Stats is a point-in-time snapshot of pool occupancy.
type Stats struct {
	Workers int
	Idle    int
	Busy    int
	Pending int
}

// Stats reports current worker and queue occupancy.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := Stats{Workers: len(p.workers), Pending: p.pending.Length()}
	for _, w := range p.workers {
		switch w.state {
		case workerIdle:
			s.Idle++
		case workerBusy, workerStarting:
			s.Busy++
		}
	}
	return s
}

// spawnLocked creates a worker, optionally seeded with a first task.
func (p *Pool) spawnLocked(first *taskEnvelope) {
	p.nextID++
	w := &worker{
		id:    p.nextID,
		pool:  p,
		state: workerStarting,
		tasks: make(chan *taskEnvelope, 1),
	}
	if first != nil {
		w.tasks <- first
	} else {
		w.state = workerIdle
		w.idleSince = time.Now()
		p.idle = append(p.idle, w)
	}
	p.workers[w.id] = w
	go w.run()
	p.count(p.workerGauge, 1)
	p.count(p.spawnedCounter, 1)
}

func (p *Pool) markBusy(w *worker) {
	p.mu.Lock()
	if w.state != workerTerminating {
		w.state = workerBusy
	}
	p.mu.Unlock()
}

func (p *Pool) takeIdleLocked() *worker {
	for len(p.idle) > 0 {
		w := p.idle[0]
		p.idle = p.idle[1:]
		if w.state == workerIdle {
			return w
		}
	}
	return nil
}

func (p *Pool) removeIdleLocked(target *worker) {
	for i, w := range p.idle {
		if w == target {
			p.idle = append(p.idle[:i], p.idle[i+1:]...)
			return
		}
	}
}

// afterTask decides the worker's next move once a task resolves: stay busy
// on the next queued task, exit on shutdown, or park idle.
func (p *Pool) afterTask(w *worker) bool {
	p.mu.Lock()
	if p.pending.Length() > 0 {
		env := p.pending.Remove().(*taskEnvelope)
		w.state = workerBusy
		w.tasks <- env
		p.mu.Unlock()
		p.count(p.depthGauge, -1)
		return true
	}
	if p.stopped {
		p.dropWorkerLocked(w)
		p.mu.Unlock()
		return false
	}
	w.state = workerIdle
	w.idleSince = time.Now()
	p.idle = append(p.idle, w)
	p.mu.Unlock()
	return true
}

// tryRetire removes an idle-timed-out worker when the floor allows it.
func (p *Pool) tryRetire(w *worker) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if w.state != workerIdle {
		return false
	}
	if len(p.workers) <= p.opts.MinWorkers && !p.stopped {
		return false
	}
	p.removeIdleLocked(w)
	p.dropWorkerLocked(w)
	return true
}

// forceRetire removes a worker unconditionally (shutdown path).
func (p *Pool) forceRetire(w *worker) {
	p.mu.Lock()
	p.removeIdleLocked(w)
	p.dropWorkerLocked(w)
	p.mu.Unlock()
}

// replaceCrashed removes a faulted worker and spawns a successor when the
// floor demands one or a backlog remains below the ceiling.
func (p *Pool) replaceCrashed(w *worker) {
	p.mu.Lock()
	p.dropWorkerLocked(w)
	needFloor := len(p.workers) < p.opts.MinWorkers
	needBacklog := p.pending.Length() > 0 && len(p.workers) < p.opts.MaxWorkers
	if !p.stopped && (needFloor || needBacklog) {
		var first *taskEnvelope
		if p.pending.Length() > 0 {
			first = p.pending.Remove().(*taskEnvelope)
		}
		p.spawnLocked(first)
		if first != nil {
			p.count(p.depthGauge, -1)
		}
	}
	p.mu.Unlock()
	observability.Log().Error("worker crashed; removed from pool",
		observability.F("worker", w.id))
}

func (p *Pool) dropWorkerLocked(w *worker) {
	if _, ok := p.workers[w.id]; !ok {
		return
	}
	delete(p.workers, w.id)
	w.state = workerTerminating
	p.count(p.workerGauge, -1)
	p.count(p.retiredCounter, 1)
}

// resolve completes the task future and settles inflight accounting.
func (p *Pool) resolve(env *taskEnvelope, value any, err error) {
	if env.future.complete(value, err) {
		p.inflight.Done()
		if err != nil {
			p.count(p.faultedCounter, 1)
			return
		}
		p.count(p.completedCounter, 1)
	}
}

func (p *Pool) count(instrument interface {
	Add(context.Context, int64, ...metric.AddOption)
}, n int64) {
	if instrument == nil {
		return
	}
	attrs := telemetry.OperationResultAttributes(telemetry.Environment(), "pool", "ok")
	instrument.Add(context.Background(), n, metric.WithAttributes(attrs...))
}
