package channel

import (
	"context"
	"errors"
	"fmt"

	"nhooyr.io/websocket"
)

// Close codes with defined meaning on the wire. Anything else is an
// abnormal closure and triggers a reconnect with backoff.
const (
	// CodeNormalClosure is a clean, intentional close. No reconnect.
	CodeNormalClosure = 1000

	// CodeAuthFailure is the application-defined code the server uses
	// to reject a credential. Terminal: retrying cannot succeed
	// without a fresh token.
	CodeAuthFailure = 4401
)

// CloseError reports that the transport connection closed with a code.
type CloseError struct {
	Code   int
	Reason string
}

func (e *CloseError) Error() string {
	return fmt.Sprintf("connection closed: code %d (%s)", e.Code, e.Reason)
}

// CloseCode extracts the close code from an error, or -1 when the
// error carries none (plain network failure, cancellation).
func CloseCode(err error) int {
	var ce *CloseError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return -1
}

// Conn is a single live bidirectional connection.
type Conn interface {
	// Read blocks until the next inbound message or a connection
	// error. Closure with a code surfaces as *CloseError.
	Read(ctx context.Context) ([]byte, error)

	// Write sends one message.
	Write(ctx context.Context, data []byte) error

	// Close closes the connection with the given code. Safe to call
	// more than once.
	Close(code int, reason string) error
}

// Transport opens connections. Tests substitute a fake; production
// uses the WebSocket transport.
type Transport interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// WebSocketTransport dials real WebSocket connections.
type WebSocketTransport struct{}

// Dial opens a WebSocket connection to url.
func (WebSocketTransport) Dial(ctx context.Context, url string) (Conn, error) {
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("websocket dial: %w", err)
	}
	return &wsConn{conn: conn}, nil
}

type wsConn struct {
	conn *websocket.Conn
}

func (c *wsConn) Read(ctx context.Context) ([]byte, error) {
	_, data, err := c.conn.Read(ctx)
	if err != nil {
		if status := websocket.CloseStatus(err); status != -1 {
			return nil, &CloseError{Code: int(status), Reason: err.Error()}
		}
		return nil, err
	}
	return data, nil
}

func (c *wsConn) Write(ctx context.Context, data []byte) error {
	return c.conn.Write(ctx, websocket.MessageText, data)
}

func (c *wsConn) Close(code int, reason string) error {
	return c.conn.Close(websocket.StatusCode(code), reason)
}
