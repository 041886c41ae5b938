// Package testutil provides a WebSocket test client for integration tests.
package testutil

import (
	"net/url"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/paate57/among-pale/internal/protocol"
)

// WSClient is a blocking WebSocket client that speaks the room protocol.
type WSClient struct {
	conn *websocket.Conn
	t    *testing.T
}

// URL builds a ws:// URL for host:port and path.
func URL(addr, path string) string {
	u := url.URL{Scheme: "ws", Host: addr, Path: path}
	return u.String()
}

// NewWSClient dials the given ws:// URL and returns a test client.
//
// Precondition: rawURL must point at a listening server.
// Postcondition: Returns a connected WSClient or fails the test. The connection is
// closed on test cleanup.
func NewWSClient(t *testing.T, rawURL string) *WSClient {
	t.Helper()
	start := time.Now()

	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	conn, _, err := dialer.Dial(rawURL, nil)
	if err != nil {
		t.Fatalf("connecting to %s: %v [%s]", rawURL, err, time.Since(start))
	}

	t.Cleanup(func() {
		conn.Close()
	})

	t.Logf("ws client connected to %s [%s]", rawURL, time.Since(start))
	return &WSClient{conn: conn, t: t}
}

// Send encodes and writes one client message.
func (c *WSClient) Send(msg protocol.ClientMessage) {
	c.t.Helper()
	data, err := protocol.EncodeClient(msg)
	if err != nil {
		c.t.Fatalf("encoding %s: %v", msg.Type(), err)
	}
	c.SendRaw(string(data))
}

// SendRaw writes text as a single frame without validation.
func (c *WSClient) SendRaw(text string) {
	c.t.Helper()
	_ = c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := c.conn.WriteMessage(websocket.TextMessage, []byte(text)); err != nil {
		c.t.Fatalf("sending %q: %v", text, err)
	}
}

// Receive reads and decodes the next server message.
//
// Postcondition: Returns the next message, or fails the test on timeout or a decode error.
func (c *WSClient) Receive(timeout time.Duration) protocol.ServerMessage {
	c.t.Helper()
	_ = c.conn.SetReadDeadline(time.Now().Add(timeout))
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		c.t.Fatalf("receiving: %v", err)
	}
	msg, err := protocol.DecodeServer(data)
	if err != nil {
		c.t.Fatalf("decoding %s: %v", data, err)
	}
	return msg
}

// ExpectNothing fails the test if any message arrives within d. The connection is
// unusable for reads afterwards if d elapses, so call it last.
func (c *WSClient) ExpectNothing(d time.Duration) {
	c.t.Helper()
	_ = c.conn.SetReadDeadline(time.Now().Add(d))
	_, data, err := c.conn.ReadMessage()
	if err == nil {
		c.t.Fatalf("expected no message, got %s", data)
	}
}

// Close sends a close frame and closes the connection.
func (c *WSClient) Close() {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	c.conn.Close()
}

// Expect reads the next message from c and requires it to be a T.
func Expect[T protocol.ServerMessage](c *WSClient, timeout time.Duration) T {
	c.t.Helper()
	msg := c.Receive(timeout)
	m, ok := msg.(T)
	if !ok {
		var zero T
		c.t.Fatalf("expected %T, got %T %+v", zero, msg, msg)
	}
	return m
}
