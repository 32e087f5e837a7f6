package relay

import (
	"context"

	"example.com/vision_relay/pkg/detect"
	"example.com/vision_relay/pkg/media"
	"github.com/pion/webrtc/v4"
)

// Pipeline is a running Forwarder + Relay for one broadcaster track
type Pipeline struct {
	forwarder *media.Forwarder
	relay     *Relay
	cancel    context.CancelFunc
	done      chan struct{}
}

// Start forwards track to a shareable local track and runs detection on it
// in the background until Stop is called or the track ends.
func Start(track media.Track, detector detect.Detector, subscribers Subscribers, cfg Config) (*Pipeline, error) {
	cfg.applyDefaults()

	fwd, err := media.NewForwarder(track, cfg.Logger)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pipeline{
		forwarder: fwd,
		relay:     New(fwd, detector, subscribers, cfg),
		cancel:    cancel,
		done:      make(chan struct{}),
	}

	go func() {
		defer close(p.done)
		logger := cfg.Logger.With("track", track.ID())
		logger.Info("Relay started", "codec", track.Codec().MimeType, "interval", cfg.Interval)
		if err := p.relay.Run(ctx); err != nil {
			logger.Warn("Relay stopped with error", "error", err)
		}
		st := p.relay.Stats()
		logger.Info("Relay finished",
			"frames", st.Frames,
			"inferences", st.Inferences,
			"reused", st.Reused,
			"dropped", st.Dropped,
			"failures", st.Failures,
		)
	}()

	return p, nil
}

// Local is the track viewers attach to
func (p *Pipeline) Local() webrtc.TrackLocal {
	return p.forwarder.Local()
}

func (p *Pipeline) RequestKeyframe() error {
	return p.forwarder.RequestKeyframe()
}

func (p *Pipeline) Stats() Stats {
	return p.relay.Stats()
}

// Stop cancels the relay. Forwarding ends once the source track closes.
func (p *Pipeline) Stop() {
	p.cancel()
}

// Done is closed when the relay goroutine has exited
func (p *Pipeline) Done() <-chan struct{} {
	return p.done
}
