// Package renderhost runs the render side of the preview behind a message
// channel. A host drives a render frame (an in-process worker, or a worker
// subprocess) and hides the frame's startup handshake: the frame is started
// lazily on first use, and requests block until it has announced readiness,
// then flow as ordinary channel RPCs.
package renderhost

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mdpeek/mdpeek/pkg/channel"
	"github.com/mdpeek/mdpeek/pkg/render"
	"github.com/mdpeek/mdpeek/pkg/transport"
)

// Message types spoken between host and render frame.
const (
	TypeFrameReady    = "RENDER_FRAME_READY"
	TypeReadyAck      = "READY_ACK"
	TypeRender        = "RENDER"
	TypePing          = "PING"
	TypeListRenderers = "LIST_RENDERERS"
)

// DefaultReadyTimeout bounds how long a host waits for the frame's
// readiness beacon before failing requests.
const DefaultReadyTimeout = 15 * time.Second

// Frame is an isolated render surface the host can start and stop. Start
// returns the transport connected to the frame's worker.
type Frame interface {
	Start(ctx context.Context) (transport.Transport, error)
	Stop() error
}

// RenderRequest is the wire payload of a RENDER request.
type RenderRequest struct {
	Renderer string             `json:"renderer"`
	Input    json.RawMessage    `json:"input"`
	Theme    render.ThemeConfig `json:"theme"`
}

// HostOptions configures a Host.
type HostOptions struct {
	// Source stamps outbound envelopes.
	Source string

	// ReadyTimeout bounds EnsureReady. Zero means DefaultReadyTimeout.
	ReadyTimeout time.Duration

	// RequestTimeout is the channel's default RPC timeout.
	RequestTimeout time.Duration

	Logger *slog.Logger
}

// Host is the controlling side of a render frame. Safe for concurrent use;
// the frame starts once on first demand, and concurrent EnsureReady calls
// coalesce onto one wait.
type Host struct {
	frame        Frame
	opts         HostOptions
	log          *slog.Logger
	readyTimeout time.Duration

	mu       sync.Mutex
	ch       *channel.Channel
	ready    bool
	readyCh  chan struct{}
	cleaned  bool
	offReady func()
}

// NewHost creates a host over frame. The frame is not started until the
// first EnsureReady (or any request).
func NewHost(frame Frame, opts HostOptions) *Host {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	readyTimeout := opts.ReadyTimeout
	if readyTimeout <= 0 {
		readyTimeout = DefaultReadyTimeout
	}

	return &Host{
		frame:        frame,
		opts:         opts,
		log:          log,
		readyTimeout: readyTimeout,
		readyCh:      make(chan struct{}),
	}
}

func (h *Host) onFrameReady(msg *channel.Message) {
	h.mu.Lock()
	ch := h.ch
	first := !h.ready
	h.ready = true
	if first {
		close(h.readyCh)
	}
	h.mu.Unlock()

	if ch == nil {
		return
	}
	// Ack every beacon; the frame retries until one ack lands.
	if err := ch.Post(TypeReadyAck, nil); err != nil {
		h.log.Warn("ready ack failed", "error", err)
	}
	if first {
		h.log.Debug("render frame ready", "source", msg.Source)
	}
}

// EnsureReady starts the frame if needed and blocks until it has announced
// readiness, the ready timeout elapses, or ctx is cancelled.
func (h *Host) EnsureReady(ctx context.Context) error {
	h.mu.Lock()
	if h.cleaned {
		h.mu.Unlock()
		return channel.ErrClosed
	}
	if h.ready {
		h.mu.Unlock()
		return nil
	}
	if h.ch == nil {
		t, err := h.frame.Start(ctx)
		if err != nil {
			h.mu.Unlock()
			return fmt.Errorf("start render frame: %w", err)
		}
		h.ch = channel.New(t, channel.Options{
			Timeout: h.opts.RequestTimeout,
			Source:  h.opts.Source,
			Logger:  h.log,
		})
		h.offReady = h.ch.On(TypeFrameReady, h.onFrameReady)
	}
	readyCh := h.readyCh
	h.mu.Unlock()

	timer := time.NewTimer(h.readyTimeout)
	defer timer.Stop()

	select {
	case <-readyCh:
		return nil
	case <-timer.C:
		return fmt.Errorf("render frame not ready after %s", h.readyTimeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Send issues a request to the frame once it is ready.
func (h *Host) Send(ctx context.Context, msgType string, payload any, opts ...channel.SendOption) (json.RawMessage, error) {
	if err := h.EnsureReady(ctx); err != nil {
		return nil, err
	}
	h.mu.Lock()
	ch := h.ch
	h.mu.Unlock()
	if ch == nil {
		return nil, channel.ErrClosed
	}
	return ch.Send(ctx, msgType, payload, opts...)
}

// Render asks the frame to render input with the named renderer.
func (h *Host) Render(ctx context.Context, renderer string, input json.RawMessage, theme render.ThemeConfig) (*render.Result, error) {
	data, err := h.Send(ctx, TypeRender, &RenderRequest{
		Renderer: renderer,
		Input:    input,
		Theme:    theme,
	})
	if err != nil {
		return nil, err
	}

	var result render.Result
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("unmarshal render result: %w", err)
	}
	return &result, nil
}

// Ping round-trips a liveness check through the frame.
func (h *Host) Ping(ctx context.Context) error {
	_, err := h.Send(ctx, TypePing, nil)
	return err
}

// ListRenderers returns the renderer types the frame offers.
func (h *Host) ListRenderers(ctx context.Context) ([]string, error) {
	data, err := h.Send(ctx, TypeListRenderers, nil)
	if err != nil {
		return nil, err
	}

	var types []string
	if err := json.Unmarshal(data, &types); err != nil {
		return nil, fmt.Errorf("unmarshal renderer list: %w", err)
	}
	return types, nil
}

// Cleanup tears down the channel and stops the frame. Safe to call more
// than once; the host is unusable afterwards.
func (h *Host) Cleanup() error {
	h.mu.Lock()
	if h.cleaned {
		h.mu.Unlock()
		return nil
	}
	h.cleaned = true
	ch := h.ch
	offReady := h.offReady
	h.ch = nil
	h.mu.Unlock()

	var err error
	if ch != nil {
		offReady()
		err = ch.Close()
	}
	if stopErr := h.frame.Stop(); err == nil {
		err = stopErr
	}
	return err
}
