package signal

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer. SDP with gathered candidates fits easily.
	maxMessageSize = 64 * 1024

	sendBuffer = 64
)

// Conn is a Channel over a websocket connection
type Conn struct {
	ws      *websocket.Conn
	send    chan []byte
	inbound chan Message
	logger  *slog.Logger

	closeOnce sync.Once
	done      chan struct{}
}

// NewConn wraps ws and starts its read and write pumps
func NewConn(ws *websocket.Conn, logger *slog.Logger) *Conn {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Conn{
		ws:      ws,
		send:    make(chan []byte, sendBuffer),
		inbound: make(chan Message),
		logger:  logger,
		done:    make(chan struct{}),
	}
	go c.readPump()
	go c.writePump()
	return c
}

// readPump is the only reader of the websocket
func (c *Conn) readPump() {
	defer c.Close()

	c.ws.SetReadLimit(maxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("WebSocket read error", "error", err)
			}
			return
		}

		msg, err := Decode(data)
		if err != nil {
			c.logger.Warn("Dropping undecodable message", "error", err)
			continue
		}

		select {
		case c.inbound <- msg:
		case <-c.done:
			return
		}
	}
}

// writePump is the only writer of the websocket
func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case data := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				c.logger.Warn("WebSocket write error", "error", err)
				c.Close()
				return
			}

		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}

		case <-c.done:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			c.ws.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

func (c *Conn) Send(m Message) error {
	if c.Closed() {
		return ErrChannelClosed
	}
	data, err := Encode(m)
	if err != nil {
		return err
	}

	select {
	case c.send <- data:
		return nil
	case <-c.done:
		return ErrChannelClosed
	default:
		return ErrBufferFull
	}
}

func (c *Conn) Receive(ctx context.Context) (Message, error) {
	select {
	case msg := <-c.inbound:
		return msg, nil
	case <-c.done:
		return nil, ErrChannelClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
	})
	return nil
}

func (c *Conn) Closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// IsClosed reports whether err means the channel has gone away
func IsClosed(err error) bool {
	return errors.Is(err, ErrChannelClosed)
}
