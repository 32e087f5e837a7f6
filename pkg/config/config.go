package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"example.com/vision_relay/pkg/detect"
	"github.com/pion/webrtc/v4"
)

// Default configuration values
const (
	DefaultListenAddr    = ":8080"
	DefaultSTUN          = "stun:stun.l.google.com:19302"
	DefaultFrameSkip     = 3
	DefaultConfidence    = 0.25
	DefaultInputSize     = 320
	DefaultFormat        = "rgb24"
	DefaultQueueDepth    = 4
	DefaultGatherTimeout = 5 * time.Second
	DefaultPLIInterval   = 2 * time.Second
)

var ErrInvalidConfig = errors.New("invalid configuration")

// Config holds the server configuration
type Config struct {
	ListenAddr string

	// ICE servers for WebRTC
	STUNServer string
	TURNServer string
	TURNUser   string
	TURNPass   string

	// DetectorURL is the websocket address of the inference worker.
	// Empty disables detection.
	DetectorURL string

	FrameSkip  int
	Confidence float64
	InputSize  int
	Format     detect.PixelFormat
	QueueDepth int
	Relabel    map[string]string

	GatherTimeout time.Duration
	PLIInterval   time.Duration
}

// Options carries CLI flag values. Zero values mean "not set"; fields where
// zero is a meaningful value are pointers.
type Options struct {
	ListenAddr    string
	STUNServer    string
	TURNServer    string
	TURNUser      string
	TURNPass      string
	DetectorURL   string
	FrameSkip     int
	Confidence    *float64
	InputSize     int
	Format        string
	QueueDepth    int
	Relabel       string
	GatherTimeout time.Duration
	PLIInterval   *time.Duration // zero disables periodic keyframe requests
}

// Load reads configuration with the following priority:
// 1. CLI flags (passed via Options) - highest priority
// 2. Environment variables
// 3. Hardcoded defaults - lowest priority
func Load(opts Options) (*Config, error) {
	cfg := &Config{
		ListenAddr:  pick(opts.ListenAddr, "LISTEN_ADDR", DefaultListenAddr),
		STUNServer:  pick(opts.STUNServer, "STUN_SERVER", DefaultSTUN),
		TURNServer:  pick(opts.TURNServer, "TURN_SERVER", ""),
		TURNUser:    pick(opts.TURNUser, "TURN_USERNAME", ""),
		TURNPass:    pick(opts.TURNPass, "TURN_PASSWORD", ""),
		DetectorURL: pick(opts.DetectorURL, "DETECTOR_URL", ""),
	}

	var err error
	if cfg.FrameSkip, err = pickInt(opts.FrameSkip, "FRAME_SKIP", DefaultFrameSkip); err != nil {
		return nil, err
	}
	if cfg.InputSize, err = pickInt(opts.InputSize, "DETECT_IMGSZ", DefaultInputSize); err != nil {
		return nil, err
	}
	if cfg.QueueDepth, err = pickInt(opts.QueueDepth, "DETECT_QUEUE", DefaultQueueDepth); err != nil {
		return nil, err
	}

	if opts.Confidence != nil {
		cfg.Confidence = *opts.Confidence
	} else if cfg.Confidence, err = envFloat("DETECT_CONFIDENCE", DefaultConfidence); err != nil {
		return nil, err
	}

	if cfg.Format, err = detect.ParsePixelFormat(pick(opts.Format, "DETECT_FORMAT", DefaultFormat)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if cfg.Relabel, err = detect.ParseRelabel(pick(opts.Relabel, "DETECT_RELABEL", "")); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	if cfg.GatherTimeout, err = pickDuration(opts.GatherTimeout, "ICE_GATHER_TIMEOUT", DefaultGatherTimeout); err != nil {
		return nil, err
	}
	if opts.PLIInterval != nil {
		cfg.PLIInterval = *opts.PLIInterval
	} else if cfg.PLIInterval, err = pickDuration(0, "PLI_INTERVAL", DefaultPLIInterval); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks value ranges
func (c *Config) Validate() error {
	switch {
	case c.FrameSkip < 1:
		return fmt.Errorf("%w: frame skip must be at least 1, got %d", ErrInvalidConfig, c.FrameSkip)
	case c.Confidence < 0 || c.Confidence > 1:
		return fmt.Errorf("%w: confidence must be within [0,1], got %g", ErrInvalidConfig, c.Confidence)
	case c.InputSize < 32:
		return fmt.Errorf("%w: input size must be at least 32, got %d", ErrInvalidConfig, c.InputSize)
	case c.QueueDepth < 1:
		return fmt.Errorf("%w: queue depth must be at least 1, got %d", ErrInvalidConfig, c.QueueDepth)
	case c.GatherTimeout <= 0:
		return fmt.Errorf("%w: ICE gather timeout must be positive", ErrInvalidConfig)
	case c.PLIInterval < 0:
		return fmt.Errorf("%w: PLI interval must not be negative", ErrInvalidConfig)
	}
	return nil
}

// ICEServers returns the STUN server plus the TURN server when one is set
func (c *Config) ICEServers() []webrtc.ICEServer {
	var servers []webrtc.ICEServer
	if c.STUNServer != "" {
		servers = append(servers, webrtc.ICEServer{URLs: []string{c.STUNServer}})
	}
	if c.TURNServer != "" {
		servers = append(servers, webrtc.ICEServer{
			URLs: []string{
				fmt.Sprintf("%s:3478?transport=udp", c.TURNServer),
				fmt.Sprintf("%s:3478?transport=tcp", c.TURNServer),
			},
			Username:   c.TURNUser,
			Credential: c.TURNPass,
		})
	}
	return servers
}

// DetectionEnabled reports whether an inference worker is configured
func (c *Config) DetectionEnabled() bool {
	return c.DetectorURL != ""
}

func pick(flag, env, def string) string {
	if flag != "" {
		return flag
	}
	if v := strings.TrimSpace(os.Getenv(env)); v != "" {
		return v
	}
	return def
}

func pickInt(flag int, env string, def int) (int, error) {
	if flag != 0 {
		return flag, nil
	}
	v := strings.TrimSpace(os.Getenv(env))
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%w: %s=%q: %v", ErrInvalidConfig, env, v, err)
	}
	return n, nil
}

func envFloat(env string, def float64) (float64, error) {
	v := strings.TrimSpace(os.Getenv(env))
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s=%q: %v", ErrInvalidConfig, env, v, err)
	}
	return f, nil
}

func pickDuration(flag time.Duration, env string, def time.Duration) (time.Duration, error) {
	if flag != 0 {
		return flag, nil
	}
	v := strings.TrimSpace(os.Getenv(env))
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%w: %s=%q: %v", ErrInvalidConfig, env, v, err)
	}
	return d, nil
}
