package transport

import (
	"log/slog"
	"sync/atomic"
)

// BridgeTransport crosses a host-bridge boundary: sending invokes a
// host-provided post function, receiving installs a callback with the host,
// chaining to any receiver that was registered before us. When the host
// channel is absent, delivery is best-effort: a warning is logged and the
// message is dropped, never an error. That preserves the legacy behavior of
// embedded WebView hosts where the bridge object may not exist yet.
type BridgeTransport struct {
	post     func(payload string) error
	source   string
	log      *slog.Logger
	handlers handlerSet
	prev     func(payload string)
	closed   atomic.Bool
}

// BridgeOptions configures a bridge transport.
type BridgeOptions struct {
	// Post sends a payload to the host. May be nil when the host channel
	// is unavailable; Send then degrades to warn-and-drop.
	Post func(payload string) error

	// InstallReceiver registers fn as the host's receive callback and
	// returns the previously installed callback, if any. The transport
	// chains to it so pre-existing tooling keeps seeing traffic.
	InstallReceiver func(fn func(payload string)) (prev func(payload string))

	// Source labels inbound message metadata.
	Source string

	Logger *slog.Logger
}

// NewBridge creates a bridge transport and installs its receiver with the
// host when an installer is provided.
func NewBridge(opts BridgeOptions) *BridgeTransport {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	t := &BridgeTransport{
		post:   opts.Post,
		source: opts.Source,
		log:    log,
	}

	if opts.InstallReceiver != nil {
		t.prev = opts.InstallReceiver(t.Deliver)
	}

	return t
}

// Send posts the message through the host channel. Missing or failing host
// channels degrade to a logged warning, not an error.
func (t *BridgeTransport) Send(msg []byte) ([]byte, error) {
	if t.closed.Load() {
		return nil, nil
	}
	if t.post == nil {
		t.log.Warn("bridge host channel unavailable, dropping message")
		return nil, nil
	}
	if err := t.post(string(msg)); err != nil {
		t.log.Warn("bridge post failed", "error", err)
	}
	return nil, nil
}

// OnMessage registers a handler for inbound messages.
func (t *BridgeTransport) OnMessage(h Handler) func() {
	return t.handlers.add(h)
}

// Deliver injects a raw payload as if it arrived from the host. It is the
// installed receiver callback, and is exported so tooling can feed messages
// directly for debugging parity with plain message delivery.
func (t *BridgeTransport) Deliver(payload string) {
	if !t.closed.Load() {
		t.handlers.dispatch([]byte(payload), Meta{Source: t.source})
	}
	if t.prev != nil {
		t.prev(payload)
	}
}

// Close stops dispatching. The chained receiver, if any, keeps working.
func (t *BridgeTransport) Close() error {
	t.closed.Store(true)
	return nil
}
