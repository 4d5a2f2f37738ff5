package renderhost

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sync"

	"github.com/mdpeek/mdpeek/pkg/render"
	"github.com/mdpeek/mdpeek/pkg/transport"
)

// LocalFrame runs the render worker as a goroutine in the same process,
// connected over a bus-transport pair. The cheapest frame; no isolation.
type LocalFrame struct {
	Registry *render.Registry
	Worker   WorkerOptions

	mu     sync.Mutex
	worker *Worker
}

// Start wires a worker over a fresh bus pair and returns the host end.
func (f *LocalFrame) Start(ctx context.Context) (transport.Transport, error) {
	hostT, workerT, err := transport.NewBusPair(nil)
	if err != nil {
		return nil, fmt.Errorf("create bus pair: %w", err)
	}

	f.mu.Lock()
	f.worker = ServeWorker(workerT, f.Registry, f.Worker)
	f.mu.Unlock()

	return hostT, nil
}

// Stop shuts the worker down.
func (f *LocalFrame) Stop() error {
	f.mu.Lock()
	worker := f.worker
	f.worker = nil
	f.mu.Unlock()

	if worker == nil {
		return nil
	}
	return worker.Close()
}

// ProcessFrame runs the render worker as a subprocess speaking
// newline-delimited JSON over its stdio. The subprocess is expected to call
// ServeWorker on its end, as `mdpeek worker` does.
type ProcessFrame struct {
	Name string
	Args []string

	mu     sync.Mutex
	cmd    *exec.Cmd
	cancel context.CancelFunc
}

// Start launches the worker command and returns a pipe transport over its
// stdio. The worker's lifetime belongs to the frame, not to the starting
// request's ctx: the process runs until Stop.
func (f *ProcessFrame) Start(ctx context.Context) (transport.Transport, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	procCtx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(procCtx, f.Name, f.Args...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("start %s: %w", f.Name, err)
	}

	f.mu.Lock()
	f.cmd = cmd
	f.cancel = cancel
	f.mu.Unlock()

	return transport.NewPipe(stdout, stdin), nil
}

// Stop terminates the subprocess and reaps it. The host closes the channel
// and with it the stdio pipes first, which is the worker's signal to quit
// gracefully; a worker killed by the frame's cancel still counts as stopped.
func (f *ProcessFrame) Stop() error {
	f.mu.Lock()
	cmd := f.cmd
	cancel := f.cancel
	f.cmd = nil
	f.cancel = nil
	f.mu.Unlock()

	if cmd == nil {
		return nil
	}
	cancel()
	err := cmd.Wait()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && !exitErr.Exited() {
			return nil
		}
	}
	return err
}
