package transport

import (
	"fmt"
	"sync/atomic"

	"github.com/oklog/ulid/v2"

	"github.com/mdpeek/mdpeek/pkg/bus"
)

// BusTransport crosses an in-process boundary over a local event bus.
// Two ends share a subject pair: what one end sends, the other receives.
// Primarily for testing and same-process render hosting.
type BusTransport struct {
	bus         *bus.Bus
	ownsBus     bool
	sendSubject string
	recvSubject string
	source      string
	sub         bus.Subscription
	handlers    handlerSet
	closed      atomic.Bool
}

// NewBusPair wires two transport ends over eventBus, creating a bus if nil.
// The first end is conventionally the host side, the second the worker side.
func NewBusPair(eventBus *bus.Bus) (*BusTransport, *BusTransport, error) {
	ownsBus := false
	if eventBus == nil {
		eventBus = bus.New()
		ownsBus = true
	}

	pair := ulid.Make().String()
	fwd := fmt.Sprintf("mdpeek.pair.%s.fwd", pair)
	rev := fmt.Sprintf("mdpeek.pair.%s.rev", pair)

	host, err := newBusEnd(eventBus, fwd, rev, "bus-host")
	if err != nil {
		return nil, nil, err
	}
	// Only one end closes a bus we created, to keep Close idempotent.
	host.ownsBus = ownsBus

	worker, err := newBusEnd(eventBus, rev, fwd, "bus-worker")
	if err != nil {
		host.Close()
		return nil, nil, err
	}

	return host, worker, nil
}

func newBusEnd(eventBus *bus.Bus, sendSubject, recvSubject, source string) (*BusTransport, error) {
	t := &BusTransport{
		bus:         eventBus,
		sendSubject: sendSubject,
		recvSubject: recvSubject,
		source:      source,
	}

	sub, err := eventBus.Subscribe(recvSubject, func(msg *bus.Message) {
		t.handlers.dispatch(msg.Data, Meta{Source: t.source})
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", recvSubject, err)
	}
	t.sub = sub

	return t, nil
}

// Send publishes the message on this end's outbound subject.
func (t *BusTransport) Send(msg []byte) ([]byte, error) {
	if t.closed.Load() {
		return nil, bus.ErrClosed
	}
	if err := t.bus.Publish(t.sendSubject, msg); err != nil {
		return nil, fmt.Errorf("publish %s: %w", t.sendSubject, err)
	}
	return nil, nil
}

// OnMessage registers a handler for inbound messages.
func (t *BusTransport) OnMessage(h Handler) func() {
	return t.handlers.add(h)
}

// Close unsubscribes this end. If the pair created its own bus, closing the
// host end shuts the bus down.
func (t *BusTransport) Close() error {
	if t.closed.Swap(true) {
		return nil
	}
	err := t.sub.Unsubscribe()
	if t.ownsBus {
		if closeErr := t.bus.Close(); err == nil {
			err = closeErr
		}
	}
	return err
}
