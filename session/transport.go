package session

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
)

// Conn is the part of *websocket.Conn the session needs. Reads happen on one
// goroutine and data writes on another. Only the close frame goes through
// WriteControl, which may run alongside a data write.
type Conn interface {
	ReadMessage() (messageType int, data []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Dialer opens a transport connection to url.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context, url string) (Conn, error)

func (f DialerFunc) Dial(ctx context.Context, url string) (Conn, error) {
	return f(ctx, url)
}

// WebsocketDialer dials with gorilla/websocket.
type WebsocketDialer struct {
	Dialer *websocket.Dialer
	Header http.Header
}

func (d WebsocketDialer) Dial(ctx context.Context, rawURL string) (Conn, error) {
	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, resp, err := dialer.DialContext(ctx, rawURL, d.Header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket handshake failed with %s: %w", resp.Status, err)
		}
		return nil, err
	}
	return conn, nil
}

// PrincipalProvider supplies the authenticated user and the bearer credential
// used on the transport URL.
type PrincipalProvider interface {
	PrincipalID() string
	Credential(ctx context.Context) (string, error)
}

// StaticPrincipal is a PrincipalProvider with a fixed token.
type StaticPrincipal struct {
	UserID string
	Token  string
}

func (p StaticPrincipal) PrincipalID() string { return p.UserID }

func (p StaticPrincipal) Credential(ctx context.Context) (string, error) { return p.Token, nil }

// TransportURL appends token to base as the token query parameter.
func TransportURL(base, token string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid transport url %q: %w", base, err)
	}
	if token != "" {
		q := u.Query()
		q.Set("token", token)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}
