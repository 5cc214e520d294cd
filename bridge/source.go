// Package bridge translates push-style event sources into pull-style
// sequences backed by a bounded queue.
package bridge

import (
	"sync"

	"github.com/coachpo/rivulet/errs"
)

// Handler receives one event payload.
type Handler func(payload any)

// Source is the capability a push-style producer must offer: register a
// handler for an event key and get back a cancel func that removes exactly
// that registration.
type Source interface {
	Subscribe(event string, h Handler) (cancel func(), err error)
}

// ErrorReporter marks sources with a distinguished error event; payloads of
// that event are error values and terminate the bridged sequence.
type ErrorReporter interface {
	ErrorEvent() string
}

// Completer marks sources that signal their own completion via an event.
type Completer interface {
	DoneEvent() string
}

// Emitter is an in-process push source. It implements Source, ErrorReporter
// and Completer and doubles as the adapter for emitter-style objects.
type Emitter struct {
	mu       sync.Mutex
	handlers map[string]map[uint64]Handler
	order    map[string][]uint64
	nextID   uint64
}

// NewEmitter constructs an empty emitter.
func NewEmitter() *Emitter {
	e := new(Emitter)
	e.handlers = make(map[string]map[uint64]Handler)
	e.order = make(map[string][]uint64)
	return e
}

// Subscribe registers h for the given event key.
func (e *Emitter) Subscribe(event string, h Handler) (func(), error) {
	if h == nil {
		return nil, errs.New("bridge/subscribe", errs.CodeInvalid,
			errs.WithMessage("handler required"))
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.handlers[event]; !ok {
		e.handlers[event] = make(map[uint64]Handler)
	}
	e.nextID++
	id := e.nextID
	e.handlers[event][id] = h
	e.order[event] = append(e.order[event], id)

	return func() { e.unsubscribe(event, id) }, nil
}

func (e *Emitter) unsubscribe(event string, id uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if hs, ok := e.handlers[event]; ok {
		delete(hs, id)
		if len(hs) == 0 {
			delete(e.handlers, event)
			delete(e.order, event)
		}
	}
}

// Emit invokes every handler registered for the event, in subscription
// order. Handlers run outside the emitter lock so a handler may emit again
// without deadlocking; nested emissions are processed in call order.
func (e *Emitter) Emit(event string, payload any) {
	e.mu.Lock()
	ids := append([]uint64(nil), e.order[event]...)
	hs := e.handlers[event]
	snapshot := make([]Handler, 0, len(ids))
	for _, id := range ids {
		if h, ok := hs[id]; ok {
			snapshot = append(snapshot, h)
		}
	}
	e.mu.Unlock()

	for _, h := range snapshot {
		h(payload)
	}
}

// ListenerCount reports how many handlers are registered for the event.
func (e *Emitter) ListenerCount(event string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.handlers[event])
}

// ErrorEvent names the distinguished error event.
func (e *Emitter) ErrorEvent() string { return "error" }

// DoneEvent names the completion event.
func (e *Emitter) DoneEvent() string { return "done" }
