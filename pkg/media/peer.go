package media

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

// PionPeer is a Peer backed by a pion PeerConnection
type PionPeer struct {
	pc            *webrtc.PeerConnection
	gatherTimeout time.Duration
	logger        *slog.Logger

	trackOnce sync.Once
	ready     chan struct{}
	track     Track

	closeOnce sync.Once
	closed    chan struct{}
}

func newPionPeer(pc *webrtc.PeerConnection, gatherTimeout time.Duration, logger *slog.Logger) *PionPeer {
	p := &PionPeer{
		pc:            pc,
		gatherTimeout: gatherTimeout,
		logger:        logger,
		ready:         make(chan struct{}),
		closed:        make(chan struct{}),
	}

	pc.OnTrack(func(remote *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		p.logger.Info("Received remote track", "kind", remote.Kind().String(), "codec", remote.Codec().MimeType)

		first := false
		if remote.Kind() == webrtc.RTPCodecTypeVideo {
			p.trackOnce.Do(func() {
				p.track = &remoteTrack{remote: remote, pc: pc}
				close(p.ready)
				first = true
			})
		}
		if !first {
			// Nothing consumes this track; keep reading so the receiver doesn't stall
			go drain(remote)
		}
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		p.logger.Debug("Peer connection state", "state", state.String())
	})

	return p
}

func drain(remote *webrtc.TrackRemote) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := remote.Read(buf); err != nil {
			return
		}
	}
}

func (p *PionPeer) SetRemoteDescription(desc webrtc.SessionDescription) error {
	return p.pc.SetRemoteDescription(desc)
}

func (p *PionPeer) CreateAnswer() (webrtc.SessionDescription, error) {
	return p.pc.CreateAnswer(nil)
}

func (p *PionPeer) CreateOffer() (webrtc.SessionDescription, error) {
	return p.pc.CreateOffer(nil)
}

func (p *PionPeer) SetLocalDescription(desc webrtc.SessionDescription) error {
	gatherComplete := webrtc.GatheringCompletePromise(p.pc)
	if err := p.pc.SetLocalDescription(desc); err != nil {
		return err
	}

	timer := time.NewTimer(p.gatherTimeout)
	defer timer.Stop()

	select {
	case <-gatherComplete:
	case <-timer.C:
		p.logger.Warn("ICE gathering timed out, sending partial candidates", "timeout", p.gatherTimeout)
	case <-p.closed:
		return ErrPeerClosed
	}
	return nil
}

func (p *PionPeer) LocalDescription() *webrtc.SessionDescription {
	return p.pc.LocalDescription()
}

func (p *PionPeer) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	return p.pc.AddICECandidate(candidate)
}

func (p *PionPeer) AddTrack(track webrtc.TrackLocal) error {
	sender, err := p.pc.AddTrack(track)
	if err != nil {
		return err
	}

	// Read and discard RTCP packets to keep the interceptors running
	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				return
			}
		}
	}()
	return nil
}

func (p *PionPeer) AwaitTrack(ctx context.Context) (Track, error) {
	select {
	case <-p.ready:
		return p.track, nil
	default:
	}

	select {
	case <-p.ready:
		return p.track, nil
	case <-p.closed:
		return nil, ErrPeerClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close closes the peer connection. Only the first call has an effect.
func (p *PionPeer) Close() error {
	var err error
	p.closeOnce.Do(func() {
		close(p.closed)
		err = p.pc.Close()
	})
	return err
}

type remoteTrack struct {
	remote *webrtc.TrackRemote
	pc     *webrtc.PeerConnection
}

func (t *remoteTrack) ID() string                       { return t.remote.ID() }
func (t *remoteTrack) StreamID() string                 { return t.remote.StreamID() }
func (t *remoteTrack) Codec() webrtc.RTPCodecParameters { return t.remote.Codec() }

func (t *remoteTrack) ReadRTP() (*rtp.Packet, error) {
	pkt, _, err := t.remote.ReadRTP()
	return pkt, err
}

func (t *remoteTrack) RequestKeyframe() error {
	return t.pc.WriteRTCP([]rtcp.Packet{
		&rtcp.PictureLossIndication{MediaSSRC: uint32(t.remote.SSRC())},
	})
}
