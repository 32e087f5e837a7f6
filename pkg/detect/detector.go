package detect

import (
	"context"
	"errors"
)

var (
	ErrDetection        = errors.New("detection failed")
	ErrNotConnected     = errors.New("detector not connected")
	ErrUnsupportedCodec = errors.New("unsupported codec")
	ErrNoReference      = errors.New("no reference frame decoded yet")
)

// Detection is a single labelled object found in a frame.
// Box is x1, y1, x2, y2 in source-frame pixels.
type Detection struct {
	Label      string     `json:"label"`
	Confidence float64    `json:"confidence"`
	Box        [4]float64 `json:"box"`
}

// Raw is a detection as reported by the inference backend, before labelling
type Raw struct {
	Class      int
	Confidence float64
	Box        [4]float64
}

// Options are the per-call inference parameters
type Options struct {
	Confidence float64 // minimum confidence, 0.0-1.0
	InputSize  int     // model input dimension, e.g. 320 or 640
}

// Detector defines the interface for object-detection backends
type Detector interface {
	// Detect runs inference on a single image
	Detect(ctx context.Context, img Image, opts Options) ([]Raw, error)

	// Close releases backend resources
	Close() error
}

// Nop is a Detector that never finds anything. Used when no backend is configured.
type Nop struct{}

func (Nop) Detect(context.Context, Image, Options) ([]Raw, error) { return nil, nil }

func (Nop) Close() error { return nil }

// Label maps raw detections to labelled ones, dropping anything below minConf.
func Label(raw []Raw, labels *Labels, minConf float64) []Detection {
	out := make([]Detection, 0, len(raw))
	for _, r := range raw {
		if r.Confidence < minConf {
			continue
		}
		out = append(out, Detection{
			Label:      labels.Name(r.Class),
			Confidence: r.Confidence,
			Box:        r.Box,
		})
	}
	return out
}
