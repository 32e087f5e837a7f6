// Package relay samples frames from a live track, runs object detection on
// the samples and pushes the results to subscribed viewers. Frames always
// pass through unchanged; inference runs on its own goroutine behind a
// bounded queue.
package relay

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"sync/atomic"

	"example.com/vision_relay/pkg/detect"
	"example.com/vision_relay/pkg/fanout"
	"example.com/vision_relay/pkg/media"
	"example.com/vision_relay/pkg/signal"
	"golang.org/x/sync/errgroup"
)

// FrameSource yields frames in order
type FrameSource interface {
	NextFrame(ctx context.Context) (media.Frame, error)
}

// Subscribers returns the channels that should receive detection results
type Subscribers func() []signal.Channel

// Config controls sampling and inference
type Config struct {
	Interval   int     // every Interval-th frame is sampled
	Confidence float64 // minimum confidence
	InputSize  int     // model input dimension
	Format     detect.PixelFormat
	QueueDepth int // sampled frames waiting for inference
	Labels     *detect.Labels
	Logger     *slog.Logger
}

func (c *Config) applyDefaults() {
	if c.Interval < 1 {
		c.Interval = 3
	}
	if c.InputSize <= 0 {
		c.InputSize = 320
	}
	if c.Format == "" {
		c.Format = detect.FormatRGB24
	}
	if c.QueueDepth < 1 {
		c.QueueDepth = 4
	}
	if c.Labels == nil {
		c.Labels = detect.NewLabels(nil, nil)
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Stats are running counters of a Relay
type Stats struct {
	Frames     uint64 `json:"frames"`
	Sampled    uint64 `json:"sampled"`
	Inferences uint64 `json:"inferences"`
	Dropped    uint64 `json:"dropped"`
	Failures   uint64 `json:"failures"`
	Reused     uint64 `json:"reused"`
	Published  uint64 `json:"published"`
}

type job struct {
	frame  media.Frame
	sample bool // false: keyframe kept only as decoder reference
}

// Relay wraps a FrameSource with detection sampling
type Relay struct {
	source      FrameSource
	detector    detect.Detector
	subscribers Subscribers
	cfg         Config
	logger      *slog.Logger

	decoder    detect.Decoder
	decoderErr error
	newDecoder func(mimeType string) (detect.Decoder, error)

	// owned by the inference goroutine
	lastImage  *image.YCbCr
	lastResult *signal.DetectionResult

	detecting bool
	queue     chan job

	frames     atomic.Uint64
	sampled    atomic.Uint64
	inferences atomic.Uint64
	dropped    atomic.Uint64
	failures   atomic.Uint64
	reused     atomic.Uint64
	published  atomic.Uint64
}

// Option configures a Relay
type Option func(*Relay)

// WithDecoder fixes the decoder instead of picking one from the frame codec
func WithDecoder(d detect.Decoder) Option {
	return func(r *Relay) { r.decoder = d }
}

// New creates a Relay. Run drives it. A nil or Nop detector turns the relay
// into a plain pass-through.
func New(source FrameSource, detector detect.Detector, subscribers Subscribers, cfg Config, opts ...Option) *Relay {
	cfg.applyDefaults()
	if detector == nil {
		detector = detect.Nop{}
	}
	_, nop := detector.(detect.Nop)
	r := &Relay{
		source:      source,
		detector:    detector,
		subscribers: subscribers,
		cfg:         cfg,
		logger:      cfg.Logger,
		newDecoder:  detect.NewDecoder,
		detecting:   !nop,
		queue:       make(chan job, cfg.QueueDepth),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// NextFrame returns the next frame of the wrapped source. Sampled frames are
// queued for detection; a full queue drops the sample, never the frame.
func (r *Relay) NextFrame(ctx context.Context) (media.Frame, error) {
	frame, err := r.source.NextFrame(ctx)
	if err != nil {
		return frame, err
	}

	n := r.frames.Add(1)
	if !r.detecting {
		return frame, nil
	}
	sample := n%uint64(r.cfg.Interval) == 0
	if sample {
		r.sampled.Add(1)
	}
	if sample || frame.Keyframe {
		select {
		case r.queue <- job{frame: frame, sample: sample}:
		default:
			r.dropped.Add(1)
			r.logger.Warn("Detection queue full, dropping frame", "seq", frame.Seq, "sampled", sample)
		}
	}
	return frame, nil
}

// Run pumps frames until the source ends, then drains pending detections.
// It must be called at most once.
func (r *Relay) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(r.queue)
		for {
			if _, err := r.NextFrame(ctx); err != nil {
				if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) || errors.Is(err, context.Canceled) {
					return nil
				}
				return fmt.Errorf("read frame: %w", err)
			}
		}
	})

	g.Go(func() error {
		for j := range r.queue {
			r.process(ctx, j)
		}
		return nil
	})

	return g.Wait()
}

func (r *Relay) process(ctx context.Context, j job) {
	if r.decoder == nil {
		if r.decoderErr == nil {
			r.decoder, r.decoderErr = r.newDecoder(j.frame.Codec)
			if r.decoderErr != nil {
				r.logger.Warn("No decoder for track, detection disabled", "codec", j.frame.Codec, "error", r.decoderErr)
			}
		}
		if r.decoderErr != nil {
			if j.sample {
				r.failures.Add(1)
			}
			return
		}
	}

	img, err := r.decoder.Decode(j.frame)
	if err != nil {
		if j.sample {
			r.failures.Add(1)
			r.logger.Warn("Frame decode failed", "seq", j.frame.Seq, "error", err)
		}
		return
	}
	if !j.sample {
		return
	}

	// Inter frames decode to the last keyframe image
	if img == r.lastImage {
		r.reused.Add(1)
		if r.lastResult != nil {
			r.publish(ctx, *r.lastResult)
		}
		return
	}

	packed := detect.Convert(img, r.cfg.Format)
	r.inferences.Add(1)
	raw, err := r.detector.Detect(ctx, packed, detect.Options{
		Confidence: r.cfg.Confidence,
		InputSize:  r.cfg.InputSize,
	})
	if err != nil {
		r.failures.Add(1)
		r.logger.Warn("Detection failed", "seq", j.frame.Seq, "error", fmt.Errorf("%w: %v", detect.ErrDetection, err))
		return
	}

	r.lastImage = img
	r.lastResult = nil
	detections := detect.Label(raw, r.cfg.Labels, r.cfg.Confidence)
	if len(detections) == 0 {
		return
	}
	r.lastResult = &signal.DetectionResult{
		Detections: detections,
		OrigShape:  [2]int{packed.Height, packed.Width},
	}
	r.publish(ctx, *r.lastResult)
}

// publish delivers msg to every open subscriber; failures stay per subscriber
func (r *Relay) publish(ctx context.Context, msg signal.DetectionResult) {
	if r.subscribers == nil {
		return
	}

	var open []signal.Channel
	for _, ch := range r.subscribers() {
		if !ch.Closed() {
			open = append(open, ch)
		}
	}

	errs := fanout.Each(ctx, open, func(_ context.Context, ch signal.Channel) error {
		return ch.Send(msg)
	})
	for _, err := range errs {
		if err != nil {
			r.logger.Warn("Detection delivery failed", "error", err)
		}
	}
	r.published.Add(uint64(len(open) - fanout.Failed(errs)))
}

// Stats returns a snapshot of the counters
func (r *Relay) Stats() Stats {
	return Stats{
		Frames:     r.frames.Load(),
		Sampled:    r.sampled.Load(),
		Inferences: r.inferences.Load(),
		Dropped:    r.dropped.Load(),
		Failures:   r.failures.Load(),
		Reused:     r.reused.Load(),
		Published:  r.published.Load(),
	}
}
