// Package transport carries live protocol frames between the client and the backend.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/gorilla/websocket"
	"google.golang.org/genai"

	"github.com/parthfloyd/la-hacks/pkg/core"
	"github.com/parthfloyd/la-hacks/pkg/live/protocol"
)

// ErrClosed is returned by Receive after the backend closed the connection normally.
var ErrClosed = errors.New("live connection closed")

// Conn is an established live session that has completed setup.
type Conn interface {
	// Send writes one clientContent frame.
	Send(ctx context.Context, content *genai.LiveClientContent) error
	// Receive returns the next raw server frame as JSON, in receipt order.
	Receive(ctx context.Context) ([]byte, error)
	// Close releases the connection. It is safe to call more than once.
	Close() error
}

// DialOptions describes where and how to open a session.
type DialOptions struct {
	APIKey     string
	Host       string
	APIVersion string
	Project    string
	Location   string
	Setup      protocol.SetupOptions
}

// Dialer opens live sessions.
type Dialer interface {
	Dial(ctx context.Context, opts DialOptions) (Conn, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context, opts DialOptions) (Conn, error)

func (f DialerFunc) Dial(ctx context.Context, opts DialOptions) (Conn, error) {
	return f(ctx, opts)
}

// TransportError represents a network-level failure (DNS, TLS, refused upgrade)
// while talking to the live endpoint.
type TransportError struct {
	Op     string
	URL    string
	Status int
	Err    error
}

func (e *TransportError) Error() string {
	switch {
	case e == nil:
		return ""
	case e.Op != "" && e.URL != "" && e.Status != 0:
		return fmt.Sprintf("transport error during %s %s (status %d): %v", e.Op, redactURL(e.URL), e.Status, e.Err)
	case e.Op != "" && e.URL != "":
		return fmt.Sprintf("transport error during %s %s: %v", e.Op, redactURL(e.URL), e.Err)
	case e.Op != "":
		return fmt.Sprintf("transport error during %s: %v", e.Op, e.Err)
	default:
		return fmt.Sprintf("transport error: %v", e.Err)
	}
}

func (e *TransportError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// redactURL drops user info and the key query parameter.
func redactURL(raw string) string {
	if raw == "" {
		return raw
	}
	parsed, err := url.Parse(raw)
	if err != nil || parsed == nil {
		return raw
	}
	parsed.User = nil
	q := parsed.Query()
	if q.Has("key") {
		q.Set("key", "REDACTED")
		parsed.RawQuery = q.Encode()
	}
	return parsed.String()
}

// classifyReadErr maps a read failure to ErrClosed, a backend error, or itself.
func classifyReadErr(err error) error {
	if err == nil {
		return nil
	}
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		switch ce.Code {
		case websocket.CloseNormalClosure, websocket.CloseGoingAway:
			return ErrClosed
		default:
			msg := strings.TrimSpace(ce.Text)
			if msg == "" {
				msg = "backend closed the connection"
			}
			return core.NewBackendError(msg, strconv.Itoa(ce.Code))
		}
	}
	return err
}

func backendError(se protocol.ServerError) *core.Error {
	code := se.Status
	if code == "" {
		code = se.Code
	}
	return core.NewBackendError(se.Message, code)
}
