package bus

import (
	"runtime"
	"sync/atomic"
	"testing"
	"time"
)

func TestBus_PublishSubscribe(t *testing.T) {
	b := New()
	defer b.Close()

	received := make(chan *Message, 1)

	sub, err := b.Subscribe("preview.render", func(msg *Message) {
		received <- msg
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer sub.Unsubscribe()

	if err := b.Publish("preview.render", []byte("hello")); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	select {
	case msg := <-received:
		if string(msg.Data) != "hello" {
			t.Errorf("Expected 'hello', got %q", string(msg.Data))
		}
		if msg.Subject != "preview.render" {
			t.Errorf("Expected subject 'preview.render', got %q", msg.Subject)
		}
	case <-time.After(time.Second):
		t.Fatal("Timeout waiting for message")
	}
}

func TestBus_Wildcard(t *testing.T) {
	b := New()
	defer b.Close()

	var received atomic.Int32

	sub, err := b.Subscribe("preview.frame.*", func(msg *Message) {
		received.Add(1)
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer sub.Unsubscribe()

	b.Publish("preview.frame.ready", []byte("1"))
	b.Publish("preview.frame.ack", []byte("2"))
	b.Publish("preview.channel.ready", []byte("3")) // Should not match

	time.Sleep(100 * time.Millisecond)

	if received.Load() != 2 {
		t.Errorf("Expected 2 messages, got %d", received.Load())
	}
}

func TestBus_WildcardGreaterThan(t *testing.T) {
	b := New()
	defer b.Close()

	var received atomic.Int32

	sub, err := b.Subscribe("preview.>", func(msg *Message) {
		received.Add(1)
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer sub.Unsubscribe()

	b.Publish("preview.frame.ready", []byte("1"))
	b.Publish("preview.pair.abc.fwd", []byte("2"))
	b.Publish("other.thing", []byte("3")) // Should not match

	time.Sleep(100 * time.Millisecond)

	if received.Load() != 2 {
		t.Errorf("Expected 2 messages, got %d", received.Load())
	}
}

func TestBus_Unsubscribe(t *testing.T) {
	b := New()
	defer b.Close()

	var received atomic.Int32

	sub, err := b.Subscribe("preview.render", func(msg *Message) {
		received.Add(1)
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	b.Publish("preview.render", []byte("1"))
	time.Sleep(50 * time.Millisecond)

	if err := sub.Unsubscribe(); err != nil {
		t.Fatalf("Unsubscribe failed: %v", err)
	}

	b.Publish("preview.render", []byte("2"))
	time.Sleep(50 * time.Millisecond)

	if received.Load() != 1 {
		t.Errorf("Expected 1 message after unsubscribe, got %d", received.Load())
	}
}

func TestBus_UnsubscribeStopsDeliveryGoroutine(t *testing.T) {
	b := New()
	defer b.Close()

	before := runtime.NumGoroutine()

	for i := 0; i < 50; i++ {
		sub, err := b.Subscribe("preview.churn", func(*Message) {})
		if err != nil {
			t.Fatalf("Subscribe failed: %v", err)
		}
		if err := sub.Unsubscribe(); err != nil {
			t.Fatalf("Unsubscribe failed: %v", err)
		}
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		if runtime.NumGoroutine() <= before+2 {
			return
		}
		if time.Now().After(deadline) {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("delivery goroutines still running: before=%d now=%d", before, runtime.NumGoroutine())
}

func TestBus_ClosedBusRejectsOperations(t *testing.T) {
	b := New()
	if err := b.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if err := b.Publish("x", nil); err != ErrClosed {
		t.Errorf("Expected ErrClosed from Publish, got %v", err)
	}
	if _, err := b.Subscribe("x", func(*Message) {}); err != ErrClosed {
		t.Errorf("Expected ErrClosed from Subscribe, got %v", err)
	}
	if err := b.Close(); err != ErrClosed {
		t.Errorf("Expected ErrClosed from second Close, got %v", err)
	}
}
