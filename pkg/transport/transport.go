// Package transport provides raw message delivery across preview boundaries.
// A transport moves opaque byte payloads between a host and a rendering
// surface without interpreting them; request/response correlation lives one
// layer up, in pkg/channel. Implementations cover the in-process event bus,
// newline-delimited JSON pipes, WebSocket connections, NATS subjects, and
// host-bridge callback channels.
package transport

import (
	"sync"
)

// Meta carries delivery metadata for an inbound message.
type Meta struct {
	// Source identifies the sending side when the boundary exposes one.
	Source string

	// Respond, when non-nil, replies directly to the original sender.
	// Transports that cannot address the sender leave it nil and the
	// reply goes back through Send.
	Respond func(msg []byte) error
}

// Handler receives raw inbound messages.
type Handler func(msg []byte, meta Meta)

// Transport is the boundary-crossing primitive consumed by pkg/channel.
// Send may return an immediate reply payload; callers must feed that value
// back through the same inbound path used for asynchronous delivery, so
// correlation logic lives in exactly one place. Implementations may also
// satisfy io.Closer.
type Transport interface {
	// Send delivers a raw message to the far side. The returned payload,
	// if non-nil, is an immediate reply.
	Send(msg []byte) ([]byte, error)

	// OnMessage registers a handler for inbound messages and returns a
	// function that unregisters it.
	OnMessage(h Handler) (unsubscribe func())
}

// handlerSet is the listener registry shared by all transport
// implementations. Dispatch iterates a snapshot so handlers may
// unsubscribe themselves without deadlocking.
type handlerSet struct {
	mu       sync.Mutex
	next     int
	handlers map[int]Handler
}

func (s *handlerSet) add(h Handler) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handlers == nil {
		s.handlers = make(map[int]Handler)
	}
	id := s.next
	s.next++
	s.handlers[id] = h
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.handlers, id)
	}
}

func (s *handlerSet) dispatch(msg []byte, meta Meta) {
	s.mu.Lock()
	snapshot := make([]Handler, 0, len(s.handlers))
	for _, h := range s.handlers {
		snapshot = append(snapshot, h)
	}
	s.mu.Unlock()

	for _, h := range snapshot {
		h(msg, meta)
	}
}
