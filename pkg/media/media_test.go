package media

import (
	"context"
	"io"
	"testing"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func vp8Frame(key bool) []byte {
	if !key {
		return []byte{0x11, 0x00, 0x00, 0xaa, 0xbb}
	}
	// 640x480 keyframe header
	return []byte{0x10, 0x00, 0x00, 0x9d, 0x01, 0x2a, 0x80, 0x02, 0xe0, 0x01, 0x00}
}

func TestVP8Keyframe(t *testing.T) {
	key, w, h := vp8Keyframe(vp8Frame(true))
	assert.True(t, key)
	assert.Equal(t, 640, w)
	assert.Equal(t, 480, h)

	key, w, h = vp8Keyframe(vp8Frame(false))
	assert.False(t, key)
	assert.Zero(t, w)
	assert.Zero(t, h)

	key, _, _ = vp8Keyframe([]byte{0x10})
	assert.False(t, key, "truncated header")
}

func TestH264Keyframe(t *testing.T) {
	idr := []byte{0, 0, 0, 1, 0x67, 0x42, 0, 0, 1, 0x65, 0x88}
	nonIDR := []byte{0, 0, 0, 1, 0x41, 0x9a}

	assert.True(t, h264Keyframe(idr))
	assert.False(t, h264Keyframe(nonIDR))
	assert.False(t, h264Keyframe(nil))
}

type fakeTrack struct {
	codec   webrtc.RTPCodecParameters
	packets []*rtp.Packet
	reads   int
}

func (t *fakeTrack) ID() string                       { return "video" }
func (t *fakeTrack) StreamID() string                 { return "cam" }
func (t *fakeTrack) Codec() webrtc.RTPCodecParameters { return t.codec }
func (t *fakeTrack) RequestKeyframe() error           { return nil }

func (t *fakeTrack) ReadRTP() (*rtp.Packet, error) {
	if t.reads >= len(t.packets) {
		return nil, io.EOF
	}
	p := t.packets[t.reads]
	t.reads++
	return p, nil
}

func vp8Track(frames int) *fakeTrack {
	track := &fakeTrack{codec: webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000},
		PayloadType:        96,
	}}
	for i := 0; i < frames; i++ {
		payload := append([]byte{0x10}, vp8Frame(i == 0)...)
		track.packets = append(track.packets, &rtp.Packet{
			Header: rtp.Header{
				Version:        2,
				Marker:         true,
				PayloadType:    96,
				SequenceNumber: uint16(100 + i),
				Timestamp:      uint32(3000 * (i + 1)),
				SSRC:           1234,
			},
			Payload: payload,
		})
	}
	return track
}

func TestForwarderAssemblesFrames(t *testing.T) {
	track := vp8Track(5)
	fwd, err := NewForwarder(track, nil)
	require.NoError(t, err)
	require.NotNil(t, fwd.Local())

	var frames []Frame
	for {
		f, err := fwd.NextFrame(context.Background())
		if err != nil {
			require.ErrorIs(t, err, io.EOF)
			break
		}
		frames = append(frames, f)
	}

	assert.Equal(t, len(track.packets), track.reads, "every packet is read and forwarded")
	require.NotEmpty(t, frames)
	assert.Equal(t, uint64(1), frames[0].Seq)
	assert.True(t, frames[0].Keyframe)
	assert.Equal(t, 640, frames[0].Width)
	for i, f := range frames[1:] {
		assert.False(t, f.Keyframe)
		assert.Equal(t, uint64(i+2), f.Seq)
	}
}

func TestForwarderRejectsUnknownCodec(t *testing.T) {
	track := &fakeTrack{codec: webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: "video/AV1", ClockRate: 90000},
	}}
	_, err := NewForwarder(track, nil)
	assert.ErrorIs(t, err, ErrUnsupportedCodec)
}

func TestForwarderStopsOnCancel(t *testing.T) {
	fwd, err := NewForwarder(vp8Track(1), nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = fwd.NextFrame(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestVideoCodecs(t *testing.T) {
	all, err := videoCodecs(nil)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, webrtc.MimeTypeVP8, all[0].MimeType)
	assert.Equal(t, webrtc.MimeTypeH264, all[1].MimeType)

	vp8Only, err := videoCodecs([]string{webrtc.MimeTypeVP8})
	require.NoError(t, err)
	require.Len(t, vp8Only, 1)
	assert.Equal(t, webrtc.MimeTypeVP8, vp8Only[0].MimeType)

	_, err = videoCodecs([]string{webrtc.MimeTypeAV1})
	assert.ErrorIs(t, err, ErrUnsupportedCodec)

	_, err = NewAPI(Config{VideoCodecs: []string{"video/theora"}})
	assert.ErrorIs(t, err, ErrUnsupportedCodec)
}
