package transport

import (
	"io"
	"testing"
	"time"
)

func TestBusPair_RoundTrip(t *testing.T) {
	host, worker, err := NewBusPair(nil)
	if err != nil {
		t.Fatalf("NewBusPair failed: %v", err)
	}
	defer worker.Close()
	defer host.Close()

	fromHost := make(chan []byte, 1)
	fromWorker := make(chan []byte, 1)

	worker.OnMessage(func(msg []byte, meta Meta) {
		fromHost <- msg
	})
	host.OnMessage(func(msg []byte, meta Meta) {
		fromWorker <- msg
	})

	if _, err := host.Send([]byte("ping")); err != nil {
		t.Fatalf("host Send failed: %v", err)
	}
	select {
	case msg := <-fromHost:
		if string(msg) != "ping" {
			t.Errorf("worker got %q, want %q", msg, "ping")
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for worker delivery")
	}

	if _, err := worker.Send([]byte("pong")); err != nil {
		t.Fatalf("worker Send failed: %v", err)
	}
	select {
	case msg := <-fromWorker:
		if string(msg) != "pong" {
			t.Errorf("host got %q, want %q", msg, "pong")
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for host delivery")
	}
}

func TestBusPair_NoEchoToSender(t *testing.T) {
	host, worker, err := NewBusPair(nil)
	if err != nil {
		t.Fatalf("NewBusPair failed: %v", err)
	}
	defer worker.Close()
	defer host.Close()

	echoed := make(chan []byte, 1)
	host.OnMessage(func(msg []byte, meta Meta) {
		echoed <- msg
	})

	host.Send([]byte("out"))

	select {
	case msg := <-echoed:
		t.Fatalf("sender received its own message: %q", msg)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestBusPair_Unsubscribe(t *testing.T) {
	host, worker, err := NewBusPair(nil)
	if err != nil {
		t.Fatalf("NewBusPair failed: %v", err)
	}
	defer worker.Close()
	defer host.Close()

	received := make(chan []byte, 2)
	unsub := worker.OnMessage(func(msg []byte, meta Meta) {
		received <- msg
	})

	host.Send([]byte("one"))
	select {
	case <-received:
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for first delivery")
	}

	unsub()
	host.Send([]byte("two"))

	select {
	case msg := <-received:
		t.Fatalf("received after unsubscribe: %q", msg)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestPipe_RoundTrip(t *testing.T) {
	// Two crossed OS-style pipes, as between a host and a worker process.
	hostReader, workerWriter := io.Pipe()
	workerReader, hostWriter := io.Pipe()

	host := NewPipe(hostReader, hostWriter)
	worker := NewPipe(workerReader, workerWriter)
	defer worker.Close()
	defer host.Close()

	got := make(chan []byte, 1)
	worker.OnMessage(func(msg []byte, meta Meta) {
		got <- msg
	})

	if _, err := host.Send([]byte(`{"type":"PING"}`)); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	select {
	case msg := <-got:
		if string(msg) != `{"type":"PING"}` {
			t.Errorf("got %q", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for pipe delivery")
	}
}

func TestPipe_SkipsBlankLines(t *testing.T) {
	reader, writer := io.Pipe()
	pt := NewPipe(reader, io.Discard)
	defer pt.Close()

	got := make(chan []byte, 1)
	pt.OnMessage(func(msg []byte, meta Meta) {
		got <- msg
	})

	go writer.Write([]byte("\n\r\n{\"type\":\"X\"}\n"))

	select {
	case msg := <-got:
		if string(msg) != `{"type":"X"}` {
			t.Errorf("got %q", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for delivery")
	}
}

func TestBridge_PostAndDeliver(t *testing.T) {
	var posted []string
	var receiver func(string)

	bt := NewBridge(BridgeOptions{
		Post: func(payload string) error {
			posted = append(posted, payload)
			return nil
		},
		InstallReceiver: func(fn func(string)) func(string) {
			receiver = fn
			return nil
		},
	})
	defer bt.Close()

	if _, err := bt.Send([]byte("hello")); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if len(posted) != 1 || posted[0] != "hello" {
		t.Errorf("posted = %v", posted)
	}

	got := make(chan []byte, 1)
	bt.OnMessage(func(msg []byte, meta Meta) {
		got <- msg
	})
	receiver("inbound")

	select {
	case msg := <-got:
		if string(msg) != "inbound" {
			t.Errorf("got %q", msg)
		}
	default:
		t.Fatal("receiver did not dispatch synchronously")
	}
}

func TestBridge_MissingHostChannelIsBestEffort(t *testing.T) {
	bt := NewBridge(BridgeOptions{})
	defer bt.Close()

	// No post function: warn-and-drop, never an error.
	if _, err := bt.Send([]byte("dropped")); err != nil {
		t.Fatalf("Send with missing host channel returned error: %v", err)
	}
}

func TestBridge_ChainsToPriorReceiver(t *testing.T) {
	prior := make(chan string, 1)

	bt := NewBridge(BridgeOptions{
		InstallReceiver: func(fn func(string)) func(string) {
			return func(payload string) {
				prior <- payload
			}
		},
	})
	defer bt.Close()

	bt.Deliver("shared")

	select {
	case payload := <-prior:
		if payload != "shared" {
			t.Errorf("prior receiver got %q", payload)
		}
	default:
		t.Fatal("prior receiver was not chained")
	}
}
