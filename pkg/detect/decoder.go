package detect

import (
	"bytes"
	"fmt"
	"image"
	"strings"

	"example.com/vision_relay/pkg/media"
	"github.com/pion/webrtc/v4"
	"golang.org/x/image/vp8"
)

// Decoder turns encoded frames into images
type Decoder interface {
	Decode(f media.Frame) (*image.YCbCr, error)
}

// NewDecoder returns a decoder for the codec MIME type of a track
func NewDecoder(mimeType string) (Decoder, error) {
	if strings.EqualFold(mimeType, webrtc.MimeTypeVP8) {
		return NewVP8Decoder(), nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedCodec, mimeType)
}

// VP8Decoder decodes VP8 keyframes. Inter frames are answered with the most
// recent keyframe image, so detections on them lag by up to one keyframe interval.
type VP8Decoder struct {
	dec  *vp8.Decoder
	last *image.YCbCr
}

// NewVP8Decoder creates a new VP8 keyframe decoder
func NewVP8Decoder() *VP8Decoder {
	return &VP8Decoder{dec: vp8.NewDecoder()}
}

func (d *VP8Decoder) Decode(f media.Frame) (*image.YCbCr, error) {
	if !f.Keyframe {
		if d.last == nil {
			return nil, ErrNoReference
		}
		return d.last, nil
	}

	d.dec.Init(bytes.NewReader(f.Data), len(f.Data))
	if _, err := d.dec.DecodeFrameHeader(); err != nil {
		return nil, fmt.Errorf("vp8 header: %w", err)
	}
	img, err := d.dec.DecodeFrame()
	if err != nil {
		return nil, fmt.Errorf("vp8 frame: %w", err)
	}
	d.last = img
	return img, nil
}
