// Package remote is a Detector backed by an inference worker reached over a
// websocket. Frames and results are msgpack encoded, one per binary message.
package remote

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"example.com/vision_relay/pkg/detect"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/vmihailenco/msgpack/v5"
)

// Request is one frame submitted for inference
type Request struct {
	ID     string  `msgpack:"id"`
	Width  int     `msgpack:"width"`
	Height int     `msgpack:"height"`
	Format string  `msgpack:"format"`
	Pixels []byte  `msgpack:"pixels"`
	Conf   float64 `msgpack:"conf"`
	ImgSz  int     `msgpack:"imgsz"`
}

// Box is one raw detection returned by the worker
type Box struct {
	Class int        `msgpack:"cls"`
	Conf  float64    `msgpack:"conf"`
	Box   [4]float64 `msgpack:"box"`
}

// Response answers the Request with the same ID
type Response struct {
	ID         string `msgpack:"id"`
	Detections []Box  `msgpack:"detections"`
	Error      string `msgpack:"error,omitempty"`
}

// Config holds inference worker connection settings
type Config struct {
	URL     string        // e.g. ws://localhost:9000/infer
	Token   string        // optional bearer token
	Timeout time.Duration // per-request bound (default: 5s)
	Logger  *slog.Logger
}

// Client is a remote inference client
type Client struct {
	url     string
	token   string
	timeout time.Duration
	logger  *slog.Logger

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool
	done      chan struct{}
	pending   map[string]chan Response

	writeMu sync.Mutex
}

// NewClient creates a new inference client. Connect is optional; Detect
// connects on demand.
func NewClient(config Config) *Client {
	if config.Timeout == 0 {
		config.Timeout = 5 * time.Second
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	return &Client{
		url:     config.URL,
		token:   config.Token,
		timeout: config.Timeout,
		logger:  config.Logger.With("component", "detector"),
		pending: make(map[string]chan Response),
	}
}

// Connect establishes the websocket connection to the worker
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connected {
		return nil
	}

	header := http.Header{}
	if c.token != "" {
		header.Set("Authorization", "Bearer "+c.token)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, c.url, header)
	if err != nil {
		return fmt.Errorf("inference worker connection failed: %w", err)
	}

	c.conn = conn
	c.connected = true
	c.done = make(chan struct{})

	go c.readResponses(conn, c.done)

	c.logger.Info("Connected to inference worker", "url", c.url)
	return nil
}

func (c *Client) readResponses(conn *websocket.Conn, done chan struct{}) {
	defer func() {
		c.mu.Lock()
		if c.conn == conn {
			c.connected = false
			c.conn = nil
		}
		// nobody will answer these any more
		for id, ch := range c.pending {
			ch <- Response{ID: id, Error: "connection lost"}
			delete(c.pending, id)
		}
		c.mu.Unlock()
	}()

	for {
		select {
		case <-done:
			return
		default:
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				c.logger.Warn("Inference worker read error", "error", err)
			}
			return
		}

		var resp Response
		if err := msgpack.Unmarshal(message, &resp); err != nil {
			c.logger.Warn("Undecodable inference response", "error", err)
			continue
		}

		c.mu.Lock()
		ch, ok := c.pending[resp.ID]
		delete(c.pending, resp.ID)
		c.mu.Unlock()

		if ok {
			ch <- resp
		}
	}
}

// Detect submits img and waits for its detections
func (c *Client) Detect(ctx context.Context, img detect.Image, opts detect.Options) ([]detect.Raw, error) {
	if !c.IsConnected() {
		if err := c.Connect(ctx); err != nil {
			return nil, errors.Join(detect.ErrNotConnected, err)
		}
	}

	req := Request{
		ID:     uuid.NewString(),
		Width:  img.Width,
		Height: img.Height,
		Format: string(img.Format),
		Pixels: img.Pixels,
		Conf:   opts.Confidence,
		ImgSz:  opts.InputSize,
	}
	data, err := msgpack.Marshal(&req)
	if err != nil {
		return nil, err
	}

	reply := make(chan Response, 1)
	c.mu.Lock()
	conn := c.conn
	if conn == nil {
		c.mu.Unlock()
		return nil, detect.ErrNotConnected
	}
	c.pending[req.ID] = reply
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, req.ID)
		c.mu.Unlock()
	}()

	c.writeMu.Lock()
	conn.SetWriteDeadline(time.Now().Add(c.timeout))
	err = conn.WriteMessage(websocket.BinaryMessage, data)
	c.writeMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("send frame: %w", err)
	}

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	select {
	case resp := <-reply:
		if resp.Error != "" {
			return nil, fmt.Errorf("%w: %s", detect.ErrDetection, resp.Error)
		}
		raw := make([]detect.Raw, 0, len(resp.Detections))
		for _, b := range resp.Detections {
			raw = append(raw, detect.Raw{Class: b.Class, Confidence: b.Conf, Box: b.Box})
		}
		return raw, nil
	case <-timer.C:
		return nil, fmt.Errorf("%w: timed out after %s", detect.ErrDetection, c.timeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close closes the connection
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected {
		return nil
	}

	close(c.done)

	if c.conn != nil {
		c.writeMu.Lock()
		c.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.writeMu.Unlock()
		c.conn.Close()
	}

	c.connected = false
	c.logger.Info("Disconnected from inference worker")
	return nil
}

// IsConnected returns connection status
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}
