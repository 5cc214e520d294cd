package bridge

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/coder/websocket"

	"github.com/coachpo/rivulet/observability"
)

// Websocket event keys.
const (
	WSMessageEvent = "message"
	WSErrorEvent   = "error"
	WSCloseEvent   = "close"
)

// WebsocketSource adapts a websocket endpoint into a push source. Each
// received frame is emitted under WSMessageEvent as a []byte payload. Read
// failures trigger reconnection with exponential backoff; once MaxDials
// consecutive dial attempts fail the error event fires and the source stops.
// The close event fires on shutdown.
type WebsocketSource struct {
	*Emitter
	url      string
	maxDials int
	ctx      context.Context
	cancel   context.CancelFunc
	start    sync.Once
	wg       sync.WaitGroup
}

// WSOption configures a WebsocketSource.
type WSOption func(*WebsocketSource)

// WithMaxDials bounds consecutive failed dial attempts; 0 retries forever.
func WithMaxDials(n int) WSOption {
	return func(w *WebsocketSource) { w.maxDials = n }
}

// NewWebsocketSource prepares a source for the given endpoint; the
// connection is dialed on the first subscription.
func NewWebsocketSource(ctx context.Context, url string, opts ...WSOption) *WebsocketSource {
	if ctx == nil {
		ctx = context.Background()
	}
	runCtx, cancel := context.WithCancel(ctx)
	w := &WebsocketSource{Emitter: NewEmitter(), url: url, ctx: runCtx, cancel: cancel}
	for _, opt := range opts {
		if opt != nil {
			opt(w)
		}
	}
	return w
}

// Subscribe registers h; the first subscription for WSMessageEvent starts
// the connection loop.
func (w *WebsocketSource) Subscribe(event string, h Handler) (func(), error) {
	cancel, err := w.Emitter.Subscribe(event, h)
	if err != nil {
		return nil, err
	}
	if event == WSMessageEvent {
		w.start.Do(func() {
			w.wg.Add(1)
			go w.connect()
		})
	}
	return cancel, nil
}

// ErrorEvent names the distinguished error event.
func (w *WebsocketSource) ErrorEvent() string { return WSErrorEvent }

// DoneEvent names the completion event.
func (w *WebsocketSource) DoneEvent() string { return WSCloseEvent }

// Close tears the connection down and waits for the read loop to exit.
func (w *WebsocketSource) Close() {
	w.cancel()
	w.wg.Wait()
}

// connect maintains the connection with automatic reconnection and
// exponential backoff, emitting each frame as a message event.
func (w *WebsocketSource) connect() {
	defer w.wg.Done()
	defer w.Emit(WSCloseEvent, nil)

	delay := backoff.NewExponentialBackOff()
	failures := 0

	for {
		select {
		case <-w.ctx.Done():
			return
		default:
		}

		conn, _, err := websocket.Dial(w.ctx, w.url, nil)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			failures++
			observability.Log().Warn("websocket dial failed",
				observability.F("url", w.url),
				observability.F("attempt", failures),
				observability.F("error", err.Error()))
			if w.maxDials > 0 && failures >= w.maxDials {
				w.Emit(WSErrorEvent, err)
				return
			}
			sleep := delay.NextBackOff()
			select {
			case <-w.ctx.Done():
				return
			case <-time.After(sleep):
				continue
			}
		}

		failures = 0
		delay.Reset()
		w.read(conn)
	}
}

func (w *WebsocketSource) read(conn *websocket.Conn) {
	defer conn.Close(websocket.StatusNormalClosure, "shutting down")
	for {
		_, data, err := conn.Read(w.ctx)
		if err != nil {
			if w.ctx.Err() != nil {
				return
			}
			observability.Log().Warn("websocket read failed; reconnecting",
				observability.F("url", w.url),
				observability.F("error", err.Error()))
			return
		}
		w.Emit(WSMessageEvent, data)
	}
}
