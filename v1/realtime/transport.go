package realtime

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/gorilla/websocket"

	teamerrors "github.com/mirkobrombin/go-teamcal/v1/errors"
)

// EndpointPath is the broker endpoint accepting raw WebSocket STOMP sessions.
const EndpointPath = "/ws-native"

// Conn is a duplex text transport.
type Conn interface {
	// ReadMessage blocks until a whole transport message arrives.
	ReadMessage() (string, error)
	WriteMessage(data string) error
	Close() error
}

// Dialer opens transport connections.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context, url string) (Conn, error)

// Dial implements Dialer.
func (f DialerFunc) Dial(ctx context.Context, url string) (Conn, error) {
	return f(ctx, url)
}

// WebSocketDialer dials with gorilla/websocket.
type WebSocketDialer struct {
	// Dialer defaults to websocket.DefaultDialer.
	Dialer *websocket.Dialer
	// Header is sent with the upgrade request (cookies, auth).
	Header http.Header
}

// Dial implements Dialer.
func (d WebSocketDialer) Dial(ctx context.Context, url string) (Conn, error) {
	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	ws, _, err := dialer.DialContext(ctx, url, d.Header)
	if err != nil {
		return nil, fmt.Errorf("realtime: dial %s: %w", url, err)
	}
	return &wsConn{ws: ws}, nil
}

type wsConn struct {
	ws *websocket.Conn
}

func (c *wsConn) ReadMessage() (string, error) {
	for {
		mt, data, err := c.ws.ReadMessage()
		if err != nil {
			return "", fmt.Errorf("%w: %v", teamerrors.ErrConnectionClosed, err)
		}
		if mt == websocket.TextMessage || mt == websocket.BinaryMessage {
			return string(data), nil
		}
	}
}

func (c *wsConn) WriteMessage(data string) error {
	return c.ws.WriteMessage(websocket.TextMessage, []byte(data))
}

func (c *wsConn) Close() error {
	return c.ws.Close()
}

// EndpointURL derives the broker URL and CONNECT host from the application
// base URL: http maps to ws, https to wss, and the path is EndpointPath.
func EndpointURL(baseURL string) (string, string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", "", fmt.Errorf("realtime: parse base url: %w", err)
	}
	switch u.Scheme {
	case "https", "wss":
		u.Scheme = "wss"
	case "http", "ws":
		u.Scheme = "ws"
	default:
		return "", "", fmt.Errorf("realtime: unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", "", fmt.Errorf("realtime: base url %q has no host", baseURL)
	}
	u.Path = EndpointPath
	u.RawQuery = ""
	u.Fragment = ""
	return u.String(), u.Host, nil
}
