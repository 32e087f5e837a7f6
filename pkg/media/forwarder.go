package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/pion/rtp"
	"github.com/pion/rtp/codecs"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media/samplebuilder"
)

// maxLate is how many packets the sample builder holds back for reordering
const maxLate = 256

var ErrUnsupportedCodec = errors.New("unsupported video codec")

// Forwarder relays an inbound track to a local track that any number of
// peers can attach, and assembles the same packets into frames.
type Forwarder struct {
	remote  Track
	local   *webrtc.TrackLocalStaticRTP
	builder *samplebuilder.SampleBuilder
	codec   string
	seq     uint64
	logger  *slog.Logger
}

// NewForwarder creates a forwarder for a VP8 or H264 track
func NewForwarder(remote Track, logger *slog.Logger) (*Forwarder, error) {
	if logger == nil {
		logger = slog.Default()
	}

	codec := remote.Codec()
	var depacketizer rtp.Depacketizer
	switch {
	case strings.EqualFold(codec.MimeType, webrtc.MimeTypeVP8):
		depacketizer = &codecs.VP8Packet{}
	case strings.EqualFold(codec.MimeType, webrtc.MimeTypeH264):
		depacketizer = &codecs.H264Packet{}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedCodec, codec.MimeType)
	}

	local, err := webrtc.NewTrackLocalStaticRTP(
		codec.RTPCodecCapability,
		"video",
		fmt.Sprintf("relay-%s", remote.StreamID()),
	)
	if err != nil {
		return nil, fmt.Errorf("create local track: %w", err)
	}

	return &Forwarder{
		remote:  remote,
		local:   local,
		builder: samplebuilder.New(maxLate, depacketizer, codec.ClockRate),
		codec:   codec.MimeType,
		logger:  logger,
	}, nil
}

// Local returns the outbound track viewers attach to
func (f *Forwarder) Local() webrtc.TrackLocal {
	return f.local
}

// RequestKeyframe forwards a keyframe request to the source
func (f *Forwarder) RequestKeyframe() error {
	return f.remote.RequestKeyframe()
}

// NextFrame reads packets until a full frame is assembled. Every packet is
// written to the local track as soon as it is read.
func (f *Forwarder) NextFrame(ctx context.Context) (Frame, error) {
	for {
		if sample := f.builder.Pop(); sample != nil {
			f.seq++
			frame := Frame{
				Seq:       f.seq,
				Codec:     f.codec,
				Data:      sample.Data,
				Timestamp: sample.PacketTimestamp,
			}
			if strings.EqualFold(f.codec, webrtc.MimeTypeVP8) {
				frame.Keyframe, frame.Width, frame.Height = vp8Keyframe(sample.Data)
			} else {
				frame.Keyframe = h264Keyframe(sample.Data)
			}
			return frame, nil
		}

		if err := ctx.Err(); err != nil {
			return Frame{}, err
		}

		pkt, err := f.remote.ReadRTP()
		if err != nil {
			return Frame{}, err
		}

		buffered := pkt.Clone()
		if err := f.local.WriteRTP(pkt); err != nil && !errors.Is(err, io.ErrClosedPipe) {
			f.logger.Debug("Local track write failed", "error", err)
		}
		f.builder.Push(buffered)
	}
}
