package bridge

import (
	"context"
	"sync"
)

// ChanEvent is the event key under which ChanSource emits received values.
const ChanEvent = "message"

// ChanSource adapts a receive channel into a push source. Values are emitted
// under ChanEvent; channel close emits the done event.
type ChanSource[T any] struct {
	*Emitter
	ch     <-chan T
	ctx    context.Context
	cancel context.CancelFunc
	start  sync.Once
}

// NewChanSource wraps ch. The pump starts on the first subscription.
func NewChanSource[T any](ch <-chan T) *ChanSource[T] {
	ctx, cancel := context.WithCancel(context.Background())
	return &ChanSource[T]{Emitter: NewEmitter(), ch: ch, ctx: ctx, cancel: cancel}
}

// Subscribe registers h; the first subscription for ChanEvent starts the pump.
func (s *ChanSource[T]) Subscribe(event string, h Handler) (func(), error) {
	cancel, err := s.Emitter.Subscribe(event, h)
	if err != nil {
		return nil, err
	}
	if event == ChanEvent {
		s.start.Do(func() { go s.pump() })
	}
	return cancel, nil
}

// Close stops the pump; pending channel values are no longer forwarded.
func (s *ChanSource[T]) Close() { s.cancel() }

func (s *ChanSource[T]) pump() {
	for {
		select {
		case <-s.ctx.Done():
			s.Emit(s.DoneEvent(), nil)
			return
		case v, ok := <-s.ch:
			if !ok {
				s.Emit(s.DoneEvent(), nil)
				return
			}
			s.Emit(ChanEvent, v)
		}
	}
}
