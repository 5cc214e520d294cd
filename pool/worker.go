package pool

import (
	"context"
	"fmt"
	"runtime"
	"runtime/debug"
	"time"

	"github.com/coachpo/rivulet/errs"
)

type workerState int

const (
	workerStarting workerState = iota
	workerIdle
	workerBusy
	workerTerminating
)

// worker executes tasks on a dedicated OS thread. Its state field is guarded
// by the pool mutex; only pool dispatch logic mutates it.
type worker struct {
	id        int
	pool      *Pool
	state     workerState
	tasks     chan *taskEnvelope
	idleSince time.Time
}

func (w *worker) run() {
	// The goroutine exits with the thread still locked, so a worker's thread
	// dies with it and never hosts another worker's state.
	runtime.LockOSThread()
	p := w.pool

	for {
		select {
		case env := <-w.tasks:
			p.markBusy(w)
			if !w.execute(env) {
				return
			}
			if !p.afterTask(w) {
				return
			}
		case <-time.After(p.opts.IdleTimeout):
			if p.tryRetire(w) {
				return
			}
		case <-p.quit:
			// A task routed concurrently with shutdown must still resolve.
			select {
			case env := <-w.tasks:
				p.markBusy(w)
				if !w.execute(env) {
					return
				}
			default:
			}
			p.forceRetire(w)
			return
		}
	}
}

// execute runs one task, converting failures and panics into worker-fault
// results. Returns false when the worker crashed and must not be reused.
func (w *worker) execute(env *taskEnvelope) (ok bool) {
	p := w.pool
	ok = true
	defer func() {
		if r := recover(); r != nil {
			p.resolve(env, nil, errs.New("pool/task", errs.CodeWorkerFault,
				errs.WithMessage("task panicked"),
				errs.WithDetail("panic", fmt.Sprint(r)),
				errs.WithDetail("stack", string(debug.Stack()))))
			p.replaceCrashed(w)
			ok = false
		}
	}()

	runCtx, cancel := context.WithCancel(env.ctx)
	defer cancel()
	release := context.AfterFunc(p.ctx, cancel)
	defer release()

	v, err := env.fn(runCtx)
	if err != nil {
		p.resolve(env, nil, errs.New("pool/task", errs.CodeWorkerFault,
			errs.WithMessage("task failed"),
			errs.WithCause(err)))
		return true
	}
	p.resolve(env, v, nil)
	return true
}
