package room

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"example.com/vision_relay/pkg/media"
	"example.com/vision_relay/pkg/signal"
	"github.com/pion/webrtc/v4"
)

// Role is what a Session does in its Room. Fixed at creation.
type Role int

const (
	RoleBroadcaster Role = iota + 1
	RoleViewer
)

func (r Role) String() string {
	switch r {
	case RoleBroadcaster:
		return "broadcaster"
	case RoleViewer:
		return "viewer"
	default:
		return "unknown"
	}
}

// Session is the server side of one connected participant. It exclusively
// owns its channel and peer and releases both exactly once.
type Session struct {
	id      string
	role    Role
	channel signal.Channel
	peer    media.Peer
	logger  *slog.Logger

	subscribeOnce sync.Once
	subscribeErr  error
	offerPending  atomic.Bool

	closeOnce sync.Once
}

// NewSession creates a Session
func NewSession(id string, role Role, ch signal.Channel, peer media.Peer, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		id:      id,
		role:    role,
		channel: ch,
		peer:    peer,
		logger:  logger.With("client", id, "role", role.String()),
	}
}

func (s *Session) ID() string              { return s.id }
func (s *Session) Role() Role              { return s.role }
func (s *Session) Channel() signal.Channel { return s.channel }
func (s *Session) Peer() media.Peer        { return s.peer }

// Subscribe attaches track to this viewer and sends it a fresh offer. Only
// the first call does anything; later calls return the first call's result.
// A negotiation failure is reported to the viewer as an error message.
func (s *Session) Subscribe(track SharedTrack) error {
	s.subscribeOnce.Do(func() {
		s.subscribeErr = s.subscribe(track)
	})
	return s.subscribeErr
}

func (s *Session) subscribe(track SharedTrack) error {
	offer, err := s.negotiate(track)
	if err != nil {
		if sendErr := s.channel.Send(signal.Error{Reason: signal.ReasonNegotiation}); sendErr != nil {
			s.logger.Debug("Negotiation error not delivered", "error", sendErr)
		}
		return err
	}

	s.offerPending.Store(true)
	if err := s.channel.Send(signal.Offer{SDP: offer}); err != nil {
		s.offerPending.Store(false)
		return fmt.Errorf("send offer: %w", err)
	}
	s.logger.Info("Sent offer with shared track")

	if err := track.RequestKeyframe(); err != nil {
		s.logger.Debug("Keyframe request failed", "error", err)
	}
	return nil
}

// negotiate adds track to the peer and produces the offer for it
func (s *Session) negotiate(track SharedTrack) (webrtc.SessionDescription, error) {
	if err := s.peer.AddTrack(track.Local()); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("add track: %w", err)
	}

	// Adding a track changes the media description, so renegotiate
	offer, err := s.peer.CreateOffer()
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("create offer: %w", err)
	}
	if err := s.peer.SetLocalDescription(offer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("set local description: %w", err)
	}
	if local := s.peer.LocalDescription(); local != nil {
		offer = *local
	}
	return offer, nil
}

// TakePendingOffer reports whether an offer was awaiting an answer and
// clears it, so each offer accepts exactly one answer.
func (s *Session) TakePendingOffer() bool {
	return s.offerPending.CompareAndSwap(true, false)
}

// Close releases the peer and the channel. Only the first call has an effect.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		if err := s.peer.Close(); err != nil {
			s.logger.Debug("Peer close failed", "error", err)
		}
		s.channel.Close()
		s.logger.Info("Session closed")
	})
}
