// Package ws accepts WebSocket connections and hands each one to a SessionHandler.
package ws

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/paate57/among-pale/internal/config"
)

// Conn wraps an upgraded WebSocket with deadlines, keepalive and a bounded read size.
//
// ReadFrame must be called from a single goroutine; WritePump from another. Close
// may be called from any goroutine.
type Conn struct {
	ws  *websocket.Conn
	id  string
	cfg config.WebSocketConfig

	closeOnce sync.Once
	closeErr  error
}

// NewConn configures an upgraded connection.
//
// Precondition: ws must be an open connection; cfg must be validated.
// Postcondition: The read limit, read deadline and pong handler are installed.
func NewConn(ws *websocket.Conn, id string, cfg config.WebSocketConfig) *Conn {
	c := &Conn{ws: ws, id: id, cfg: cfg}
	ws.SetReadLimit(cfg.MaxMessageBytes)
	_ = ws.SetReadDeadline(time.Now().Add(cfg.PongTimeout))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(cfg.PongTimeout))
	})
	return c
}

// ID returns the connection identifier.
func (c *Conn) ID() string {
	return c.id
}

// RemoteAddr returns the peer address.
func (c *Conn) RemoteAddr() net.Addr {
	return c.ws.RemoteAddr()
}

// ReadFrame blocks for the next data message.
//
// Postcondition: Returns the message payload, or an error once the peer closes, the
// pong deadline passes, or a frame exceeds the read limit.
func (c *Conn) ReadFrame() ([]byte, error) {
	_, data, err := c.ws.ReadMessage()
	if err != nil {
		return nil, err
	}
	_ = c.ws.SetReadDeadline(time.Now().Add(c.cfg.PongTimeout))
	return data, nil
}

// WritePump writes frames until the channel closes, ctx is cancelled, or a write fails.
// It pings the peer every PingPeriod.
//
// Postcondition: A close frame is attempted before returning.
func (c *Conn) WritePump(ctx context.Context, frames <-chan []byte) error {
	ticker := time.NewTicker(c.cfg.PingPeriod())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.writeClose(websocket.CloseGoingAway, "server shutting down")
			return ctx.Err()
		case frame, ok := <-frames:
			if !ok {
				c.writeClose(websocket.CloseNormalClosure, "")
				return nil
			}
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				return fmt.Errorf("writing frame: %w", err)
			}
		case <-ticker.C:
			deadline := time.Now().Add(c.cfg.WriteTimeout)
			if err := c.ws.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return fmt.Errorf("writing ping: %w", err)
			}
		}
	}
}

func (c *Conn) writeClose(code int, text string) {
	msg := websocket.FormatCloseMessage(code, text)
	_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.cfg.WriteTimeout))
}

// Close closes the underlying connection. It is safe to call more than once.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.ws.Close()
	})
	return c.closeErr
}

// IsUnexpectedClose reports whether err is a read error other than an orderly close.
func IsUnexpectedClose(err error) bool {
	return websocket.IsUnexpectedCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived,
	)
}
