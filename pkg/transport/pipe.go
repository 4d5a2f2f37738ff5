package transport

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
)

// PipeTransport moves newline-delimited JSON messages over a reader/writer
// pair, typically a worker subprocess's stdin/stdout. Messages must not
// contain raw newlines; JSON encoding guarantees that.
type PipeTransport struct {
	reader   *bufio.Reader
	writer   io.Writer
	writeMu  sync.Mutex
	handlers handlerSet
	closed   atomic.Bool
	done     chan struct{}
	rc       io.Closer
	wc       io.Closer
}

// NewPipe creates a pipe transport and starts its read loop. The loop exits
// on EOF, read error, or Close.
func NewPipe(r io.Reader, w io.Writer) *PipeTransport {
	t := &PipeTransport{
		reader: bufio.NewReader(r),
		writer: w,
		done:   make(chan struct{}),
	}
	if rc, ok := r.(io.Closer); ok {
		t.rc = rc
	}
	if wc, ok := w.(io.Closer); ok {
		t.wc = wc
	}

	go t.readLoop()

	return t
}

// Send writes one message followed by a newline. Thread-safe.
func (t *PipeTransport) Send(msg []byte) ([]byte, error) {
	if t.closed.Load() {
		return nil, errors.New("pipe transport closed")
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if _, err := t.writer.Write(msg); err != nil {
		return nil, fmt.Errorf("write message: %w", err)
	}
	if _, err := t.writer.Write([]byte("\n")); err != nil {
		return nil, fmt.Errorf("write newline: %w", err)
	}

	return nil, nil
}

// OnMessage registers a handler for inbound messages.
func (t *PipeTransport) OnMessage(h Handler) func() {
	return t.handlers.add(h)
}

// Close stops the read loop and closes the underlying pipes when they
// support closing.
func (t *PipeTransport) Close() error {
	if t.closed.Swap(true) {
		return nil
	}
	var err error
	if t.rc != nil {
		err = t.rc.Close()
	}
	if t.wc != nil {
		if closeErr := t.wc.Close(); err == nil {
			err = closeErr
		}
	}
	// Without a closable reader the loop stays blocked in Read until the
	// far side closes; don't wait on it.
	if t.rc != nil {
		<-t.done
	}
	return err
}

func (t *PipeTransport) readLoop() {
	defer close(t.done)
	for {
		line, err := t.reader.ReadBytes('\n')

		// Trim trailing newline
		if n := len(line); n > 0 && line[n-1] == '\n' {
			line = line[:n-1]
		}
		if n := len(line); n > 0 && line[n-1] == '\r' {
			line = line[:n-1]
		}

		if len(line) > 0 && !t.closed.Load() {
			t.handlers.dispatch(line, Meta{})
		}

		if err != nil {
			return
		}
	}
}
