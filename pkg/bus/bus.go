// Package bus provides an in-process publish/subscribe event bus.
// It is the local boundary used when the render host and the render worker
// live in the same process, and the substrate for the in-process transport.
// Subjects are dotted tokens with NATS-style wildcards: "*" matches a single
// token, ">" matches the rest of the subject.
package bus

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
)

// ErrClosed is returned when operating on a closed bus or subscription.
var ErrClosed = errors.New("bus or subscription closed")

// Message is an event delivered to subscribers.
type Message struct {
	Subject string
	Data    []byte
}

// Handler processes incoming messages.
type Handler func(msg *Message)

// Subscription represents an active subscription that can be cancelled.
type Subscription interface {
	// Unsubscribe stops receiving messages and cleans up resources.
	Unsubscribe() error

	// Subject returns the subject pattern this subscription is for.
	Subject() string
}

// Bus fans events out to matching subscribers. Handlers run on a dedicated
// delivery goroutine per subscription, so a slow handler cannot stall
// publishers. Safe for concurrent use.
type Bus struct {
	mu            sync.RWMutex
	subscriptions map[string][]*subscription
	closed        atomic.Bool
	subCounter    atomic.Uint64
}

// New creates an in-process event bus.
func New() *Bus {
	return &Bus{
		subscriptions: make(map[string][]*subscription),
	}
}

// Publish sends a message to all subscribers whose pattern matches subject.
// Returns immediately; delivery is asynchronous and best-effort (a
// subscription whose buffer is full drops the message).
func (b *Bus) Publish(subject string, data []byte) error {
	if b.closed.Load() {
		return ErrClosed
	}

	msg := &Message{
		Subject: subject,
		Data:    data,
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for pattern, subs := range b.subscriptions {
		if matchSubject(pattern, subject) {
			for _, sub := range subs {
				if sub.closed.Load() {
					continue
				}
				select {
				case sub.messages <- msg:
				default:
					// Buffer full, drop message
				}
			}
		}
	}

	return nil
}

// Subscribe registers a handler for messages matching subject.
func (b *Bus) Subscribe(subject string, handler Handler) (Subscription, error) {
	if b.closed.Load() {
		return nil, ErrClosed
	}

	sub := &subscription{
		id:       fmt.Sprintf("sub-%d", b.subCounter.Add(1)),
		subject:  subject,
		messages: make(chan *Message, 256),
		handler:  handler,
		bus:      b,
	}

	b.mu.Lock()
	b.subscriptions[subject] = append(b.subscriptions[subject], sub)
	b.mu.Unlock()

	go sub.run()

	return sub, nil
}

// Close shuts down the bus and all subscriptions.
func (b *Bus) Close() error {
	if b.closed.Swap(true) {
		return ErrClosed
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for _, subs := range b.subscriptions {
		for _, sub := range subs {
			if !sub.closed.Swap(true) {
				close(sub.messages)
			}
		}
	}
	b.subscriptions = make(map[string][]*subscription)

	return nil
}

type subscription struct {
	id       string
	subject  string
	messages chan *Message
	handler  Handler
	bus      *Bus
	closed   atomic.Bool
}

func (s *subscription) Unsubscribe() error {
	if s.closed.Swap(true) {
		return nil
	}

	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()

	subs := s.bus.subscriptions[s.subject]
	for i, sub := range subs {
		if sub.id == s.id {
			s.bus.subscriptions[s.subject] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	// Closing messages lets run drain and exit. Publish holds the bus read
	// lock while sending, so under the write lock no send can race the close.
	close(s.messages)

	return nil
}

func (s *subscription) Subject() string {
	return s.subject
}

func (s *subscription) run() {
	for msg := range s.messages {
		if s.closed.Load() {
			return
		}
		s.handler(msg)
	}
}

// matchSubject checks if a subject matches a pattern with wildcards.
// Supports "*" for single token and ">" for multiple tokens.
func matchSubject(pattern, subject string) bool {
	if pattern == subject {
		return true
	}

	patternParts := strings.Split(pattern, ".")
	subjectParts := strings.Split(subject, ".")

	pi, si := 0, 0
	for pi < len(patternParts) && si < len(subjectParts) {
		switch patternParts[pi] {
		case "*":
			pi++
			si++
		case ">":
			// Matches one or more tokens (must be last)
			return true
		default:
			if patternParts[pi] != subjectParts[si] {
				return false
			}
			pi++
			si++
		}
	}

	return pi == len(patternParts) && si == len(subjectParts)
}
