package signal

import (
	"context"
	"errors"
)

var (
	ErrChannelClosed = errors.New("channel closed")
	ErrBufferFull    = errors.New("send buffer full")
)

// Channel is an ordered, bidirectional stream of messages for one participant
type Channel interface {
	// Send queues a message without blocking
	Send(m Message) error

	// Receive blocks until the next inbound message, ctx is done, or the
	// channel closes (ErrChannelClosed).
	Receive(ctx context.Context) (Message, error)

	// Close closes the channel. Safe to call more than once.
	Close() error

	Closed() bool
}
