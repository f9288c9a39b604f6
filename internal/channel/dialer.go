package channel

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// Conn is the part of a websocket connection the client uses
type Conn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Dialer opens connections to the control endpoint
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// Timer is a pending reconnect
type Timer interface {
	Stop() bool
}

// AfterFunc schedules fn after d
type AfterFunc func(d time.Duration, fn func()) Timer

func realAfterFunc(d time.Duration, fn func()) Timer {
	return time.AfterFunc(d, fn)
}

// WebSocketDialer dials with gorilla/websocket
type WebSocketDialer struct {
	Dialer *websocket.Dialer
	Header http.Header
}

// NewWebSocketDialer returns a dialer sending header on every handshake
func NewWebSocketDialer(header http.Header) *WebSocketDialer {
	return &WebSocketDialer{Dialer: websocket.DefaultDialer, Header: header}
}

func (d *WebSocketDialer) Dial(ctx context.Context, url string) (Conn, error) {
	conn, _, err := d.Dialer.DialContext(ctx, url, d.Header)
	if err != nil {
		return nil, err
	}
	return conn, nil
}
