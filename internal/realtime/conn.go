package realtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"nhooyr.io/websocket"
)

// Conn is a duplex text-message socket. Both the telephony stream and the
// model channel are carried over it.
type Conn interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, msg []byte) error
	Close(reason string) error
}

// Dialer opens model channels.
type Dialer interface {
	Dial(ctx context.Context) (Conn, error)
}

// readLimit covers the largest audio deltas the service sends; the websocket
// default of 32KiB is too small.
const readLimit = 1 << 22

// WSConn adapts a websocket connection to Conn.
type WSConn struct {
	ws *websocket.Conn
}

func NewWSConn(ws *websocket.Conn) *WSConn {
	ws.SetReadLimit(readLimit)
	return &WSConn{ws: ws}
}

func (c *WSConn) Read(ctx context.Context) ([]byte, error) {
	_, data, err := c.ws.Read(ctx)
	return data, err
}

func (c *WSConn) Write(ctx context.Context, msg []byte) error {
	return c.ws.Write(ctx, websocket.MessageText, msg)
}

func (c *WSConn) Close(reason string) error {
	err := c.ws.Close(websocket.StatusNormalClosure, reason)
	var ce websocket.CloseError
	if errors.As(err, &ce) {
		return nil
	}
	return err
}

// WSDialer dials the realtime endpoint for a configured model.
type WSDialer struct {
	URL         string
	Model       string
	APIKey      string
	DialTimeout time.Duration
}

func (d *WSDialer) endpoint() (string, error) {
	u, err := url.Parse(strings.TrimSpace(d.URL))
	if err != nil {
		return "", fmt.Errorf("realtime url: %w", err)
	}
	if d.Model != "" {
		q := u.Query()
		q.Set("model", d.Model)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

func (d *WSDialer) Dial(ctx context.Context) (Conn, error) {
	if d.APIKey == "" {
		return nil, errors.New("realtime: api key missing")
	}
	u, err := d.endpoint()
	if err != nil {
		return nil, err
	}
	timeout := d.DialTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	dctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	hdr := make(http.Header)
	hdr.Set("Authorization", "Bearer "+d.APIKey)
	hdr.Set("OpenAI-Beta", "realtime=v1")
	ws, _, err := websocket.Dial(dctx, u, &websocket.DialOptions{HTTPHeader: hdr})
	if err != nil {
		return nil, fmt.Errorf("realtime dial: %w", err)
	}
	return NewWSConn(ws), nil
}
