package media

import (
	"context"
	"errors"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

var ErrPeerClosed = errors.New("peer connection closed")

// Peer is the negotiation surface of one peer connection. Implementations
// own the media transport; callers only sequence these calls.
type Peer interface {
	SetRemoteDescription(desc webrtc.SessionDescription) error
	CreateAnswer() (webrtc.SessionDescription, error)
	CreateOffer() (webrtc.SessionDescription, error)

	// SetLocalDescription applies desc and waits for ICE gathering, so that
	// LocalDescription afterwards carries every local candidate.
	SetLocalDescription(desc webrtc.SessionDescription) error
	LocalDescription() *webrtc.SessionDescription

	AddICECandidate(candidate webrtc.ICECandidateInit) error

	// AddTrack attaches an outbound track
	AddTrack(track webrtc.TrackLocal) error

	// AwaitTrack blocks until the first remote video track arrives.
	// It resolves once; later calls return the same track.
	AwaitTrack(ctx context.Context) (Track, error)

	Close() error
}

// Track is an inbound media track
type Track interface {
	ID() string
	StreamID() string
	Codec() webrtc.RTPCodecParameters
	ReadRTP() (*rtp.Packet, error)

	// RequestKeyframe asks the sender for a fresh keyframe
	RequestKeyframe() error
}

// Frame is one assembled video frame
type Frame struct {
	Seq       uint64
	Codec     string
	Data      []byte
	Keyframe  bool
	Width     int
	Height    int
	Timestamp uint32
}
