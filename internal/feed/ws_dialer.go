package feed

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WSDialer opens the push transport over a websocket.
type WSDialer struct {
	url    string
	header http.Header
	dialer *websocket.Dialer
}

// NewWSDialer creates a dialer for url (ws:// or wss://).
func NewWSDialer(url string, handshakeTimeout time.Duration) *WSDialer {
	if handshakeTimeout <= 0 {
		handshakeTimeout = 10 * time.Second
	}
	return &WSDialer{
		url:    url,
		header: http.Header{"User-Agent": []string{"marketpulse-viewer"}},
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: handshakeTimeout,
		},
	}
}

func (d *WSDialer) Dial(ctx context.Context) (PushConn, error) {
	conn, _, err := d.dialer.DialContext(ctx, d.url, d.header)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", d.url, err)
	}
	return &wsConn{conn: conn}, nil
}

type wsConn struct {
	conn *websocket.Conn
	once sync.Once
	err  error
}

// ReadMessage returns the next data frame. Control frames are handled by the library
// (pings from the server are answered automatically).
func (c *wsConn) ReadMessage() ([]byte, error) {
	for {
		mt, b, err := c.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		if mt == websocket.TextMessage || mt == websocket.BinaryMessage {
			return b, nil
		}
	}
}

func (c *wsConn) Close() error {
	c.once.Do(func() {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		c.err = c.conn.Close()
	})
	return c.err
}

var _ PushDialer = (*WSDialer)(nil)
