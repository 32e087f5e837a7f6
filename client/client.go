package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"example.com/vision_relay/pkg/media"
	"example.com/vision_relay/pkg/signal"
	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
)

var ErrAlreadyConnected = errors.New("already connected")

// TrackCallback is called once the relayed video track arrives
type TrackCallback func(track media.Track)

// DetectionsCallback is called for every detection_result message
type DetectionsCallback func(result signal.DetectionResult)

// ErrorCallback is called when the server rejects the viewer
type ErrorCallback func(reason string)

// Config holds viewer settings
type Config struct {
	ServerURL  string // e.g. ws://localhost:8080
	Room       string
	ID         string
	ICEServers []webrtc.ICEServer
	Logger     *slog.Logger
}

// Viewer joins a room as a viewer, answers the server's offers and surfaces
// the relayed track and detections through callbacks
type Viewer struct {
	cfg    Config
	logger *slog.Logger

	onTrack      TrackCallback
	onDetections DetectionsCallback
	onError      ErrorCallback

	mu        sync.Mutex
	conn      *signal.Conn
	peer      *media.PionPeer
	connected bool
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewViewer creates a viewer client
func NewViewer(cfg Config) *Viewer {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Viewer{
		cfg:    cfg,
		logger: cfg.Logger.With("room", cfg.Room, "client", cfg.ID),
		done:   make(chan struct{}),
	}
}

// OnTrack sets the callback for the relayed video track
func (v *Viewer) OnTrack(callback TrackCallback) {
	v.onTrack = callback
}

// OnDetections sets the callback for detection results
func (v *Viewer) OnDetections(callback DetectionsCallback) {
	v.onDetections = callback
}

// OnError sets the callback for server error messages
func (v *Viewer) OnError(callback ErrorCallback) {
	v.onError = callback
}

// SignalURL is the websocket address the viewer dials
func (v *Viewer) SignalURL() (string, error) {
	base, err := url.Parse(v.cfg.ServerURL)
	if err != nil {
		return "", fmt.Errorf("server url: %w", err)
	}
	switch base.Scheme {
	case "http":
		base.Scheme = "ws"
	case "https":
		base.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("server url: unsupported scheme %q", base.Scheme)
	}
	base.Path = strings.TrimRight(base.Path, "/") + "/ws/" + url.PathEscape(v.cfg.Room) + "/" + url.PathEscape(v.cfg.ID)
	return base.String(), nil
}

// Connect dials the server and declares the viewer role. The server sends
// an offer once the room's broadcaster track is live.
func (v *Viewer) Connect(ctx context.Context) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.connected {
		return ErrAlreadyConnected
	}

	signalURL, err := v.SignalURL()
	if err != nil {
		return err
	}

	api, err := media.NewAPI(media.Config{ICEServers: v.cfg.ICEServers, Logger: v.logger})
	if err != nil {
		return fmt.Errorf("media engine: %w", err)
	}
	peer, err := api.NewPeer()
	if err != nil {
		return fmt.Errorf("failed to create peer connection: %w", err)
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	ws, _, err := dialer.DialContext(ctx, signalURL, nil)
	if err != nil {
		peer.Close()
		return fmt.Errorf("websocket dial failed: %w", err)
	}

	conn := signal.NewConn(ws, v.logger)
	if err := conn.Send(signal.JoinAsViewer{}); err != nil {
		conn.Close()
		peer.Close()
		return fmt.Errorf("join: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	v.conn, v.peer, v.cancel = conn, peer, cancel
	v.connected = true

	go v.handleMessages(runCtx)
	go v.awaitTrack(runCtx)

	v.logger.Info("Connected as viewer", "url", signalURL)
	return nil
}

func (v *Viewer) awaitTrack(ctx context.Context) {
	track, err := v.peer.AwaitTrack(ctx)
	if err != nil {
		return
	}
	v.logger.Info("Receiving relayed track", "track", track.ID(), "codec", track.Codec().MimeType)
	if v.onTrack != nil {
		v.onTrack(track)
	}
}

func (v *Viewer) handleMessages(ctx context.Context) {
	defer close(v.done)
	defer v.Close()

	for {
		msg, err := v.conn.Receive(ctx)
		if err != nil {
			if !signal.IsClosed(err) && !errors.Is(err, context.Canceled) {
				v.logger.Warn("Signaling read failed", "error", err)
			}
			return
		}

		switch m := msg.(type) {
		case signal.Offer:
			v.handleOffer(m)
		case signal.Candidate:
			v.handleCandidate(m)
		case signal.DetectionResult:
			if v.onDetections != nil {
				v.onDetections(m)
			}
		case signal.Error:
			v.logger.Warn("Server rejected request", "reason", m.Reason)
			if v.onError != nil {
				v.onError(m.Reason)
			}
		default:
			v.logger.Debug("Ignoring message", "type", msg.Kind())
		}
	}
}

func (v *Viewer) handleOffer(msg signal.Offer) {
	if err := v.peer.SetRemoteDescription(msg.SDP); err != nil {
		v.logger.Warn("Failed to set remote description", "error", err)
		return
	}
	answer, err := v.peer.CreateAnswer()
	if err != nil {
		v.logger.Warn("Failed to create answer", "error", err)
		return
	}
	// Gathering completes inside SetLocalDescription, so the answer carries
	// every local candidate
	if err := v.peer.SetLocalDescription(answer); err != nil {
		v.logger.Warn("Failed to set local description", "error", err)
		return
	}
	if local := v.peer.LocalDescription(); local != nil {
		answer = *local
	}
	if err := v.conn.Send(signal.Answer{SDP: answer}); err != nil {
		v.logger.Warn("Failed to send answer", "error", err)
	}
}

func (v *Viewer) handleCandidate(msg signal.Candidate) {
	init, err := signal.ParseCandidate(msg.Raw)
	if err != nil {
		if !errors.Is(err, signal.ErrEmptyCandidate) {
			v.logger.Warn("Ignored malformed candidate", "error", err)
		}
		return
	}
	if err := v.peer.AddICECandidate(init); err != nil {
		v.logger.Warn("Failed to add ICE candidate", "error", err)
	}
}

// Done is closed when the signaling connection has ended
func (v *Viewer) Done() <-chan struct{} {
	return v.done
}

// Close disconnects from the server
func (v *Viewer) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if !v.connected {
		return nil
	}
	v.connected = false
	v.cancel()
	v.conn.Close()
	return v.peer.Close()
}
