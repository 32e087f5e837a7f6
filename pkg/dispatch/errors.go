package dispatch

import (
	"errors"
	"fmt"

	"example.com/vision_relay/pkg/signal"
)

var (
	ErrProtocol    = errors.New("protocol error")
	ErrNegotiation = errors.New("negotiation failed")
	ErrNoPeer      = errors.New("no peer connection for this client")
)

// Reasons sent to clients in error messages
const (
	ReasonRoomBusy        = "room busy"
	ReasonDuplicateViewer = "duplicate viewer"
	ReasonNegotiation     = signal.ReasonNegotiation
	ReasonUnsupported     = "unsupported message"
	ReasonPeerUnavailable = "peer connection unavailable"
	ReasonRoomUnavailable = "room unavailable"
)

type Error struct {
	Op      string
	Err     error
	Details string
}

func (e *Error) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %v (%s)", e.Op, e.Err, e.Details)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func NewError(op string, err error) *Error {
	return &Error{Op: op, Err: err}
}

func WrapError(op string, err error, details string) *Error {
	return &Error{Op: op, Err: err, Details: details}
}
