// Package channel layers request/response correlation over a raw transport.
// It owns pending-request bookkeeping (ids, timeouts), fire-and-forget
// posting, push-listener dispatch, and an RPC-style request-handler registry
// with automatic success/error response envelopes. One channel owns one
// transport for its lifetime.
package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mdpeek/mdpeek/pkg/transport"
)

// DefaultTimeout bounds a request when no per-call timeout is given.
const DefaultTimeout = 30 * time.Second

// PushHandler receives inbound push messages.
type PushHandler func(msg *Message)

// RequestHandler answers an RPC request. The returned value is marshalled
// into a success envelope; a returned error becomes a failure envelope.
type RequestHandler func(ctx context.Context, msg *Message) (any, error)

// Options configures a channel.
type Options struct {
	// Timeout is the default request timeout. Zero means DefaultTimeout.
	Timeout time.Duration

	// Source stamps outbound envelopes so the far side can tell peers apart.
	Source string

	// AcceptRequest, when set, vetoes inbound requests before their handler
	// runs. A vetoed request is silently dropped: no response envelope is
	// sent, the requester times out. Used to scope which side of a boundary
	// answers which request types.
	AcceptRequest func(msg *Message, meta transport.Meta) bool

	Logger *slog.Logger
}

type settled struct {
	data json.RawMessage
	err  error
}

// Channel correlates requests and responses over one transport.
type Channel struct {
	transport transport.Transport
	timeout   time.Duration
	source    string
	accept    func(msg *Message, meta transport.Meta) bool
	log       *slog.Logger
	unsub     func()
	seq       atomic.Uint64

	mu           sync.Mutex
	closed       bool
	pending      map[string]chan settled
	nextListener int
	byType       map[string]map[int]PushHandler
	anyHandlers  map[int]PushHandler
	requests     map[string]RequestHandler
}

// New creates a channel over t. The channel owns t and closes it (when t
// supports closing) on Close.
func New(t transport.Transport, opts Options) *Channel {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	c := &Channel{
		transport:   t,
		timeout:     opts.Timeout,
		source:      opts.Source,
		accept:      opts.AcceptRequest,
		log:         log,
		pending:     make(map[string]chan settled),
		byType:      make(map[string]map[int]PushHandler),
		anyHandlers: make(map[int]PushHandler),
		requests:    make(map[string]RequestHandler),
	}
	c.unsub = t.OnMessage(c.dispatch)

	return c
}

// SendOption adjusts a single request.
type SendOption func(*sendConfig)

type sendConfig struct {
	timeout time.Duration
}

// WithTimeout overrides the channel's default timeout for one request.
func WithTimeout(d time.Duration) SendOption {
	return func(cfg *sendConfig) {
		cfg.timeout = d
	}
}

// Send issues a request and waits for the matching response envelope, the
// timeout, or ctx cancellation. The pending entry is removed on settle so a
// late response has no observable effect.
func (c *Channel) Send(ctx context.Context, msgType string, payload any, opts ...SendOption) (json.RawMessage, error) {
	cfg := sendConfig{timeout: c.timeout}
	for _, opt := range opts {
		opt(&cfg)
	}

	body, err := marshalPayload(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %q payload: %w", msgType, err)
	}

	id := c.newID()
	done := make(chan settled, 1)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	c.pending[id] = done
	c.mu.Unlock()

	raw, err := json.Marshal(&Message{
		ID:        id,
		Type:      msgType,
		Payload:   body,
		Timestamp: time.Now().UnixMilli(),
		Source:    c.source,
	})
	if err != nil {
		c.removePending(id)
		return nil, fmt.Errorf("marshal %q envelope: %w", msgType, err)
	}

	metricRequests.Inc()

	reply, err := c.transport.Send(raw)
	if err != nil {
		c.removePending(id)
		return nil, fmt.Errorf("send %q: %w", msgType, err)
	}
	if reply != nil {
		// Synchronous-ish transport reply: route it through the one
		// correlation path.
		c.dispatch(reply, transport.Meta{})
	}

	timer := time.NewTimer(cfg.timeout)
	defer timer.Stop()

	select {
	case result := <-done:
		if result.err != nil {
			return nil, result.err
		}
		return result.data, nil
	case <-timer.C:
		c.removePending(id)
		metricTimeouts.Inc()
		return nil, fmt.Errorf("request %q timed out after %s: %w", msgType, cfg.timeout, ErrTimeout)
	case <-ctx.Done():
		c.removePending(id)
		return nil, ctx.Err()
	}
}

// Post sends a fire-and-forget message: no id, no pending entry, no
// response expected.
func (c *Channel) Post(msgType string, payload any) error {
	body, err := marshalPayload(payload)
	if err != nil {
		return fmt.Errorf("marshal %q payload: %w", msgType, err)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.mu.Unlock()

	raw, err := json.Marshal(&Message{
		Type:      msgType,
		Payload:   body,
		Timestamp: time.Now().UnixMilli(),
		Source:    c.source,
	})
	if err != nil {
		return fmt.Errorf("marshal %q envelope: %w", msgType, err)
	}

	reply, err := c.transport.Send(raw)
	if err != nil {
		return fmt.Errorf("post %q: %w", msgType, err)
	}
	if reply != nil {
		c.dispatch(reply, transport.Meta{})
	}
	return nil
}

// On subscribes a handler to inbound push messages of msgType. Multiple
// handlers per type are allowed; a panicking handler is isolated and logged
// so it cannot break dispatch to the others.
func (c *Channel) On(msgType string, h PushHandler) (unsubscribe func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.nextListener
	c.nextListener++
	set := c.byType[msgType]
	if set == nil {
		set = make(map[int]PushHandler)
		c.byType[msgType] = set
	}
	set[id] = h

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if set, ok := c.byType[msgType]; ok {
			delete(set, id)
			if len(set) == 0 {
				delete(c.byType, msgType)
			}
		}
	}
}

// Off removes every push handler registered for msgType.
func (c *Channel) Off(msgType string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.byType, msgType)
}

// OnAny subscribes a handler to every inbound non-response message,
// regardless of type. For passive observation.
func (c *Channel) OnAny(h PushHandler) (unsubscribe func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.nextListener
	c.nextListener++
	c.anyHandlers[id] = h

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.anyHandlers, id)
	}
}

// Handle registers the RPC responder for msgType, replacing any previous
// one. An inbound message carrying both an id and msgType is treated as a
// request: the handler's result or error is sent back automatically.
func (c *Channel) Handle(msgType string, h RequestHandler) (unregister func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requests[msgType] = h

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.requests, msgType)
	}
}

// Close rejects all pending requests, clears listeners, unsubscribes from
// the transport, and closes the transport when it supports closing.
func (c *Channel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.closed = true
	waiting := c.pending
	c.pending = make(map[string]chan settled)
	c.byType = make(map[string]map[int]PushHandler)
	c.anyHandlers = make(map[int]PushHandler)
	c.requests = make(map[string]RequestHandler)
	c.mu.Unlock()

	for _, done := range waiting {
		done <- settled{err: ErrClosed}
	}

	c.unsub()

	if closer, ok := c.transport.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

// dispatch is the single inbound path: transport deliveries, immediate Send
// replies, and loopbacks all land here.
func (c *Channel) dispatch(raw []byte, meta transport.Meta) {
	msg, resp := decodeIncoming(raw)

	if resp != nil {
		c.settle(resp)
		return
	}
	if msg == nil {
		// Cross-boundary noise: non-object or missing type. Dropped
		// without logging.
		metricDropped.Inc()
		return
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	handler, isRequest := c.requests[msg.Type]
	isRequest = isRequest && msg.ID != ""
	var push []PushHandler
	if !isRequest {
		for _, h := range c.byType[msg.Type] {
			push = append(push, h)
		}
		for _, h := range c.anyHandlers {
			push = append(push, h)
		}
	}
	c.mu.Unlock()

	if isRequest {
		if c.accept != nil && !c.accept(msg, meta) {
			return
		}
		go c.serveRequest(handler, msg, meta)
		return
	}

	for _, h := range push {
		c.safeCall(h, msg)
	}
}

func (c *Channel) settle(resp *Response) {
	c.mu.Lock()
	done, ok := c.pending[resp.RequestID]
	if ok {
		delete(c.pending, resp.RequestID)
	}
	c.mu.Unlock()

	if !ok {
		// Late or unknown response; the request already settled.
		metricDropped.Inc()
		return
	}

	if resp.OK {
		done <- settled{data: resp.Data}
		return
	}

	metricRemoteErrors.Inc()
	if resp.Error != nil {
		done <- settled{err: resp.Error}
	} else {
		done <- settled{err: errors.New("request failed")}
	}
}

func (c *Channel) serveRequest(h RequestHandler, msg *Message, meta transport.Meta) {
	result, err := c.invoke(h, msg)

	resp := &Response{Type: ResponseType, RequestID: msg.ID}
	if err != nil {
		var ce *Error
		if errors.As(err, &ce) {
			resp.Error = ce
		} else {
			resp.Error = &Error{Message: err.Error()}
		}
	} else {
		data, merr := json.Marshal(result)
		if merr != nil {
			resp.Error = &Error{Message: fmt.Sprintf("marshal %q result: %v", msg.Type, merr)}
		} else {
			resp.OK = true
			resp.Data = data
		}
	}

	raw, merr := json.Marshal(resp)
	if merr != nil {
		c.log.Warn("marshal response envelope failed", "type", msg.Type, "error", merr)
		return
	}

	var sendErr error
	if meta.Respond != nil {
		sendErr = meta.Respond(raw)
	} else {
		_, sendErr = c.transport.Send(raw)
	}
	if sendErr != nil {
		c.log.Warn("send response failed", "type", msg.Type, "error", sendErr)
	}
}

func (c *Channel) invoke(h RequestHandler, msg *Message) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			metricHandlerPanics.Inc()
			err = fmt.Errorf("handler for %q panicked: %v", msg.Type, r)
		}
	}()
	return h(context.Background(), msg)
}

func (c *Channel) safeCall(h PushHandler, msg *Message) {
	defer func() {
		if r := recover(); r != nil {
			metricHandlerPanics.Inc()
			c.log.Warn("message handler panicked", "type", msg.Type, "panic", r)
		}
	}()
	h(msg)
}

func (c *Channel) removePending(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// newID combines a monotonic per-channel counter with a timestamp.
// Uniqueness needs to be astronomically likely, not cryptographic.
func (c *Channel) newID() string {
	return fmt.Sprintf("%d-%d", c.seq.Add(1), time.Now().UnixMilli())
}

func marshalPayload(payload any) (json.RawMessage, error) {
	switch p := payload.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return p, nil
	default:
		return json.Marshal(payload)
	}
}
