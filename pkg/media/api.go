package media

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/interceptor/pkg/intervalpli"
	"github.com/pion/webrtc/v4"
)

// Config holds the settings shared by every peer connection of the process
type Config struct {
	ICEServers    []webrtc.ICEServer
	GatherTimeout time.Duration // bound on waiting for ICE gathering
	PLIInterval   time.Duration // periodic keyframe requests on inbound video
	// VideoCodecs lists the video MIME types offered in negotiation, in
	// preference order. Empty means VP8 then H264.
	VideoCodecs []string
	Logger      *slog.Logger
}

var videoCodecParams = map[string]webrtc.RTPCodecParameters{
	webrtc.MimeTypeVP8: {
		RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000},
		PayloadType:        96,
	},
	webrtc.MimeTypeH264: {
		RTPCodecCapability: webrtc.RTPCodecCapability{
			MimeType:    webrtc.MimeTypeH264,
			ClockRate:   90000,
			SDPFmtpLine: "level-asymmetry-allowed=1;packetization-mode=1;profile-level-id=42e01f",
		},
		PayloadType: 102,
	},
}

var opusParams = webrtc.RTPCodecParameters{
	RTPCodecCapability: webrtc.RTPCodecCapability{
		MimeType:    webrtc.MimeTypeOpus,
		ClockRate:   48000,
		Channels:    2,
		SDPFmtpLine: "minptime=10;useinbandfec=1",
	},
	PayloadType: 111,
}

// videoCodecs resolves MIME types to codec parameters
func videoCodecs(mimeTypes []string) ([]webrtc.RTPCodecParameters, error) {
	if len(mimeTypes) == 0 {
		mimeTypes = []string{webrtc.MimeTypeVP8, webrtc.MimeTypeH264}
	}
	out := make([]webrtc.RTPCodecParameters, 0, len(mimeTypes))
	for _, m := range mimeTypes {
		params, ok := videoCodecParams[m]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnsupportedCodec, m)
		}
		out = append(out, params)
	}
	return out, nil
}

// API creates peer connections with a shared media engine and interceptor chain
type API struct {
	api           *webrtc.API
	config        webrtc.Configuration
	gatherTimeout time.Duration
	logger        *slog.Logger
}

// NewAPI builds the media engine (configured video codecs plus Opus) and interceptors
func NewAPI(cfg Config) (*API, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.GatherTimeout <= 0 {
		cfg.GatherTimeout = 5 * time.Second
	}

	video, err := videoCodecs(cfg.VideoCodecs)
	if err != nil {
		return nil, err
	}

	mediaEngine := &webrtc.MediaEngine{}
	for _, params := range video {
		if err := mediaEngine.RegisterCodec(params, webrtc.RTPCodecTypeVideo); err != nil {
			return nil, fmt.Errorf("register codec %s: %w", params.MimeType, err)
		}
	}
	if err := mediaEngine.RegisterCodec(opusParams, webrtc.RTPCodecTypeAudio); err != nil {
		return nil, fmt.Errorf("register codec %s: %w", opusParams.MimeType, err)
	}

	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, registry); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}
	if cfg.PLIInterval > 0 {
		pli, err := intervalpli.NewReceiverInterceptor(intervalpli.GeneratorInterval(cfg.PLIInterval))
		if err != nil {
			return nil, fmt.Errorf("interval pli: %w", err)
		}
		registry.Add(pli)
	}

	return &API{
		api: webrtc.NewAPI(
			webrtc.WithMediaEngine(mediaEngine),
			webrtc.WithInterceptorRegistry(registry),
		),
		config:        webrtc.Configuration{ICEServers: cfg.ICEServers},
		gatherTimeout: cfg.GatherTimeout,
		logger:        cfg.Logger,
	}, nil
}

// NewPeer creates a new peer connection
func (a *API) NewPeer() (*PionPeer, error) {
	pc, err := a.api.NewPeerConnection(a.config)
	if err != nil {
		return nil, err
	}
	return newPionPeer(pc, a.gatherTimeout, a.logger), nil
}
