package transport

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/nats-io/nats.go"
)

// NATSTransport crosses a machine boundary over a NATS subject pair, for
// preview sessions whose render worker runs on another host. The connection
// is shared and caller-owned; Close only tears down this transport's
// subscription.
type NATSTransport struct {
	conn        *nats.Conn
	sendSubject string
	recvSubject string
	sub         *nats.Subscription
	handlers    handlerSet
	closed      atomic.Bool
}

// NewNATS subscribes to recvSubject and sends on sendSubject. The two sides
// of a boundary use mirrored subject pairs.
func NewNATS(conn *nats.Conn, sendSubject, recvSubject string) (*NATSTransport, error) {
	if conn == nil {
		return nil, errors.New("nats connection required")
	}

	t := &NATSTransport{
		conn:        conn,
		sendSubject: sendSubject,
		recvSubject: recvSubject,
	}

	sub, err := conn.Subscribe(recvSubject, func(m *nats.Msg) {
		meta := Meta{Source: m.Subject}
		if m.Reply != "" {
			meta.Respond = m.Respond
		}
		t.handlers.dispatch(m.Data, meta)
	})
	if err != nil {
		return nil, fmt.Errorf("nats subscribe %s: %w", recvSubject, err)
	}
	t.sub = sub

	return t, nil
}

// Send publishes the message on the outbound subject.
func (t *NATSTransport) Send(msg []byte) ([]byte, error) {
	if t.closed.Load() {
		return nil, errors.New("nats transport closed")
	}
	if err := t.conn.Publish(t.sendSubject, msg); err != nil {
		return nil, fmt.Errorf("nats publish %s: %w", t.sendSubject, err)
	}
	return nil, nil
}

// OnMessage registers a handler for inbound messages.
func (t *NATSTransport) OnMessage(h Handler) func() {
	return t.handlers.add(h)
}

// Close drains this transport's subscription.
func (t *NATSTransport) Close() error {
	if t.closed.Swap(true) {
		return nil
	}
	return t.sub.Unsubscribe()
}
