// Package mediatest provides in-memory media.Peer and media.Track fakes.
package mediatest

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"example.com/vision_relay/pkg/media"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

// Peer records every call and resolves AwaitTrack when DeliverTrack is called
type Peer struct {
	mu         sync.Mutex
	remote     []webrtc.SessionDescription
	candidates []webrtc.ICECandidateInit
	tracks     []webrtc.TrackLocal
	local      *webrtc.SessionDescription
	offers     int
	closeCalls int

	// Fail* make the matching call return the error
	FailRemote   error
	FailAnswer   error
	FailOffer    error
	FailAddTrack error

	trackOnce sync.Once
	ready     chan struct{}
	track     media.Track

	closeOnce sync.Once
	closed    chan struct{}
}

func NewPeer() *Peer {
	return &Peer{
		ready:  make(chan struct{}),
		closed: make(chan struct{}),
	}
}

// DeliverTrack simulates the remote video track arriving
func (p *Peer) DeliverTrack(t media.Track) {
	p.trackOnce.Do(func() {
		p.track = t
		close(p.ready)
	})
}

func (p *Peer) SetRemoteDescription(desc webrtc.SessionDescription) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.FailRemote != nil {
		return p.FailRemote
	}
	p.remote = append(p.remote, desc)
	return nil
}

func (p *Peer) CreateAnswer() (webrtc.SessionDescription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.FailAnswer != nil {
		return webrtc.SessionDescription{}, p.FailAnswer
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "answer-sdp"}, nil
}

func (p *Peer) CreateOffer() (webrtc.SessionDescription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.FailOffer != nil {
		return webrtc.SessionDescription{}, p.FailOffer
	}
	p.offers++
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: fmt.Sprintf("offer-sdp-%d", p.offers)}, nil
}

func (p *Peer) SetLocalDescription(desc webrtc.SessionDescription) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.local = &desc
	return nil
}

func (p *Peer) LocalDescription() *webrtc.SessionDescription {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.local == nil {
		return nil
	}
	desc := *p.local
	return &desc
}

func (p *Peer) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.candidates = append(p.candidates, candidate)
	return nil
}

func (p *Peer) AddTrack(track webrtc.TrackLocal) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.FailAddTrack != nil {
		return p.FailAddTrack
	}
	p.tracks = append(p.tracks, track)
	return nil
}

func (p *Peer) AwaitTrack(ctx context.Context) (media.Track, error) {
	select {
	case <-p.ready:
		return p.track, nil
	default:
	}
	select {
	case <-p.ready:
		return p.track, nil
	case <-p.closed:
		return nil, media.ErrPeerClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *Peer) Close() error {
	p.mu.Lock()
	p.closeCalls++
	p.mu.Unlock()
	p.closeOnce.Do(func() { close(p.closed) })
	return nil
}

func (p *Peer) CloseCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closeCalls
}

func (p *Peer) Closed() bool {
	select {
	case <-p.closed:
		return true
	default:
		return false
	}
}

func (p *Peer) Candidates() []webrtc.ICECandidateInit {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]webrtc.ICECandidateInit(nil), p.candidates...)
}

func (p *Peer) Tracks() []webrtc.TrackLocal {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]webrtc.TrackLocal(nil), p.tracks...)
}

func (p *Peer) RemoteDescriptions() []webrtc.SessionDescription {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]webrtc.SessionDescription(nil), p.remote...)
}

// Track is an inbound track that produces no packets until closed
type Track struct {
	Name   string
	closed chan struct{}
	once   sync.Once
}

func NewTrack(name string) *Track {
	return &Track{Name: name, closed: make(chan struct{})}
}

func (t *Track) ID() string       { return t.Name }
func (t *Track) StreamID() string { return "stream-" + t.Name }
func (t *Track) RequestKeyframe() error {
	return nil
}

func (t *Track) Codec() webrtc.RTPCodecParameters {
	return webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000},
		PayloadType:        96,
	}
}

func (t *Track) ReadRTP() (*rtp.Packet, error) {
	<-t.closed
	return nil, io.EOF
}

func (t *Track) Close() {
	t.once.Do(func() { close(t.closed) })
}

// Shared is a stand-in for the relayed track viewers attach to
type Shared struct {
	local     webrtc.TrackLocal
	keyframes atomic.Int32
	stops     atomic.Int32
}

// NewShared creates a Shared backed by a real, unbound local track
func NewShared() *Shared {
	local, err := webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000}, "video", "relay-test")
	if err != nil {
		panic(err)
	}
	return &Shared{local: local}
}

func (s *Shared) Local() webrtc.TrackLocal { return s.local }

func (s *Shared) RequestKeyframe() error {
	s.keyframes.Add(1)
	return nil
}

func (s *Shared) Stop() { s.stops.Add(1) }

func (s *Shared) Keyframes() int { return int(s.keyframes.Load()) }
func (s *Shared) Stops() int     { return int(s.stops.Load()) }
