package renderhost

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/mdpeek/mdpeek/pkg/channel"
	"github.com/mdpeek/mdpeek/pkg/render"
	"github.com/mdpeek/mdpeek/pkg/transport"
)

// Beacon cadence for the readiness handshake. The worker announces itself
// repeatedly because the host may attach after the worker starts; it gives
// up after the ceiling and serves whatever requests still arrive.
const (
	DefaultBeaconInterval = 100 * time.Millisecond
	DefaultBeaconCeiling  = 10 * time.Second
)

// WorkerOptions configures a render worker.
type WorkerOptions struct {
	// Source stamps outbound envelopes.
	Source string

	// BeaconInterval is the readiness announce cadence. Zero means
	// DefaultBeaconInterval.
	BeaconInterval time.Duration

	// BeaconCeiling caps how long the worker announces without an ack.
	// Zero means DefaultBeaconCeiling.
	BeaconCeiling time.Duration

	Logger *slog.Logger
}

// Worker is the render side of a frame: it answers RENDER, PING and
// LIST_RENDERERS requests against a renderer registry and runs the
// readiness beacon until the host acknowledges.
type Worker struct {
	ch  *channel.Channel
	reg *render.Registry
	log *slog.Logger

	ackOnce   sync.Once
	closeOnce sync.Once
	acked     chan struct{}
	done      chan struct{}
}

// ServeWorker attaches a worker to t and starts the readiness beacon.
// The worker owns t.
func ServeWorker(t transport.Transport, reg *render.Registry, opts WorkerOptions) *Worker {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	interval := opts.BeaconInterval
	if interval <= 0 {
		interval = DefaultBeaconInterval
	}
	ceiling := opts.BeaconCeiling
	if ceiling <= 0 {
		ceiling = DefaultBeaconCeiling
	}

	w := &Worker{
		reg:   reg,
		log:   log,
		acked: make(chan struct{}),
		done:  make(chan struct{}),
	}
	w.ch = channel.New(t, channel.Options{
		Source: opts.Source,
		Logger: log,
	})

	w.ch.On(TypeReadyAck, func(*channel.Message) {
		w.ackOnce.Do(func() { close(w.acked) })
	})
	w.ch.Handle(TypeRender, w.handleRender)
	w.ch.Handle(TypePing, func(context.Context, *channel.Message) (any, error) {
		return "PONG", nil
	})
	w.ch.Handle(TypeListRenderers, func(context.Context, *channel.Message) (any, error) {
		return w.reg.Types(), nil
	})

	go w.beacon(interval, ceiling)

	return w
}

func (w *Worker) handleRender(ctx context.Context, msg *channel.Message) (any, error) {
	var req RenderRequest
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		return nil, channel.NewError("BAD_REQUEST", "malformed render request", nil)
	}
	return w.reg.Render(ctx, req.Renderer, req.Input, req.Theme)
}

// beacon posts readiness announcements until acked, the ceiling elapses,
// or the worker closes.
func (w *Worker) beacon(interval, ceiling time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	deadline := time.NewTimer(ceiling)
	defer deadline.Stop()

	for {
		if err := w.ch.Post(TypeFrameReady, nil); err != nil {
			return
		}
		select {
		case <-w.acked:
			return
		case <-deadline.C:
			w.log.Warn("readiness beacon gave up", "ceiling", ceiling)
			return
		case <-w.done:
			return
		case <-ticker.C:
		}
	}
}

// Channel exposes the worker's channel for registering extra handlers.
func (w *Worker) Channel() *channel.Channel { return w.ch }

// Close stops the beacon and tears down the channel and its transport.
// Safe to call concurrently; only the first call does the work.
func (w *Worker) Close() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.done)
		err = w.ch.Close()
	})
	return err
}
