package transport

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"nhooyr.io/websocket"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsPingInterval = 20 * time.Second
	wsPingTimeout  = 5 * time.Second
)

// WSTransport moves messages over a single WebSocket connection. Origin
// filtering is the accept/dial layer's duty; by the time a connection
// reaches the transport it is already trusted.
type WSTransport struct {
	conn     *websocket.Conn
	source   string
	handlers handlerSet
	closed   atomic.Bool
	cancel   context.CancelFunc
	done     chan struct{}
}

// WSOptions configures a WebSocket transport.
type WSOptions struct {
	// Source labels inbound message metadata, e.g. a session id.
	Source string

	// Ping enables a keepalive ping loop on the connection.
	Ping bool
}

// NewWebSocket wraps an established connection and starts its read loop.
// The loop exits when ctx is cancelled, the connection drops, or Close is
// called.
func NewWebSocket(ctx context.Context, conn *websocket.Conn, opts WSOptions) *WSTransport {
	ctx, cancel := context.WithCancel(ctx)
	t := &WSTransport{
		conn:   conn,
		source: opts.Source,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	if opts.Ping {
		go t.pingLoop(ctx)
	}
	go t.readLoop(ctx)

	return t
}

// Send writes one text message.
func (t *WSTransport) Send(msg []byte) ([]byte, error) {
	if t.closed.Load() {
		return nil, errors.New("websocket transport closed")
	}

	ctx, cancel := context.WithTimeout(context.Background(), wsWriteTimeout)
	defer cancel()

	if err := t.conn.Write(ctx, websocket.MessageText, msg); err != nil {
		return nil, err
	}
	return nil, nil
}

// OnMessage registers a handler for inbound messages.
func (t *WSTransport) OnMessage(h Handler) func() {
	return t.handlers.add(h)
}

// Close cancels the read loop and closes the connection.
func (t *WSTransport) Close() error {
	if t.closed.Swap(true) {
		return nil
	}
	t.cancel()
	err := t.conn.Close(websocket.StatusNormalClosure, "transport closed")
	<-t.done
	return err
}

// Done is closed when the read loop has exited, whether from Close or a
// dropped connection.
func (t *WSTransport) Done() <-chan struct{} {
	return t.done
}

func (t *WSTransport) readLoop(ctx context.Context) {
	defer close(t.done)
	for {
		_, data, err := t.conn.Read(ctx)
		if err != nil {
			return
		}
		if t.closed.Load() {
			return
		}
		t.handlers.dispatch(data, Meta{Source: t.source})
	}
}

func (t *WSTransport) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, wsPingTimeout)
			_ = t.conn.Ping(pingCtx)
			cancel()
		}
	}
}
