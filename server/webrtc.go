package main

import (
	"log/slog"

	"example.com/vision_relay/pkg/config"
	"example.com/vision_relay/pkg/detect"
	"example.com/vision_relay/pkg/detect/remote"
	"example.com/vision_relay/pkg/dispatch"
	"example.com/vision_relay/pkg/media"
	"example.com/vision_relay/pkg/relay"
	"example.com/vision_relay/pkg/room"
	"example.com/vision_relay/pkg/signal"
	"github.com/pion/webrtc/v4"
)

// newPeerFactory creates peer connections sharing one media engine
func newPeerFactory(cfg *config.Config, logger *slog.Logger) (dispatch.PeerFactory, error) {
	api, err := media.NewAPI(media.Config{
		ICEServers:    cfg.ICEServers(),
		GatherTimeout: cfg.GatherTimeout,
		PLIInterval:   cfg.PLIInterval,
		VideoCodecs:   offeredVideoCodecs(cfg),
		Logger:        logger,
	})
	if err != nil {
		return nil, err
	}
	return func() (media.Peer, error) {
		pc, err := api.NewPeer()
		if err != nil {
			return nil, err
		}
		return pc, nil
	}, nil
}

// offeredVideoCodecs keeps broadcasters on a codec the relay can decode for
// detection. Without a detector any forwardable codec will do.
func offeredVideoCodecs(cfg *config.Config) []string {
	if cfg.DetectionEnabled() {
		return []string{webrtc.MimeTypeVP8}
	}
	return []string{webrtc.MimeTypeVP8, webrtc.MimeTypeH264}
}

// newDetector returns the remote inference client, or a detector that never
// finds anything when no worker is configured
func newDetector(cfg *config.Config, logger *slog.Logger) detect.Detector {
	if !cfg.DetectionEnabled() {
		logger.Info("No detector configured, video is relayed without detections")
		return detect.Nop{}
	}
	return remote.NewClient(remote.Config{
		URL:    cfg.DetectorURL,
		Logger: logger,
	})
}

// trackWrapper relays a broadcaster track through a detection pipeline
func trackWrapper(cfg *config.Config, detector detect.Detector, logger *slog.Logger) room.TrackWrapper {
	labels := detect.NewLabels(nil, cfg.Relabel)
	return func(track media.Track, subscribers func() []signal.Channel) (room.SharedTrack, error) {
		p, err := relay.Start(track, detector, subscribers, relay.Config{
			Interval:   cfg.FrameSkip,
			Confidence: cfg.Confidence,
			InputSize:  cfg.InputSize,
			Format:     cfg.Format,
			QueueDepth: cfg.QueueDepth,
			Labels:     labels,
			Logger:     logger,
		})
		if err != nil {
			return nil, err
		}
		return p, nil
	}
}
