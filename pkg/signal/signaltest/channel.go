// Package signaltest provides an in-memory signal.Channel for tests.
package signaltest

import (
	"context"
	"sync"
	"time"

	"example.com/vision_relay/pkg/signal"
)

// Channel records everything sent to it and replays pushed messages to Receive
type Channel struct {
	mu         sync.Mutex
	sent       []signal.Message
	sendErr    error
	closeCalls int

	in        chan signal.Message
	done      chan struct{}
	closeOnce sync.Once
}

func New() *Channel {
	return &Channel{
		in:   make(chan signal.Message, 64),
		done: make(chan struct{}),
	}
}

// Push queues an inbound message
func (c *Channel) Push(m signal.Message) {
	c.in <- m
}

// FailSends makes every later Send return err
func (c *Channel) FailSends(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sendErr = err
}

func (c *Channel) Send(m signal.Message) error {
	if c.Closed() {
		return signal.ErrChannelClosed
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	c.sent = append(c.sent, m)
	return nil
}

func (c *Channel) Receive(ctx context.Context) (signal.Message, error) {
	select {
	case m := <-c.in:
		return m, nil
	case <-c.done:
		return nil, signal.ErrChannelClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Channel) Close() error {
	c.mu.Lock()
	c.closeCalls++
	c.mu.Unlock()
	c.closeOnce.Do(func() { close(c.done) })
	return nil
}

func (c *Channel) Closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// CloseCalls returns how many times Close was called
func (c *Channel) CloseCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeCalls
}

// Sent returns a copy of every message sent so far
func (c *Channel) Sent() []signal.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]signal.Message(nil), c.sent...)
}

// SentKind returns the sent messages with the given tag
func (c *Channel) SentKind(kind signal.Kind) []signal.Message {
	var out []signal.Message
	for _, m := range c.Sent() {
		if m.Kind() == kind {
			out = append(out, m)
		}
	}
	return out
}

// WaitSent polls until at least n messages of kind were sent or timeout passes
func (c *Channel) WaitSent(kind signal.Kind, n int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		if len(c.SentKind(kind)) >= n {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(5 * time.Millisecond)
	}
}
