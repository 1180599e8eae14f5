package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"google.golang.org/genai"

	"github.com/parthfloyd/la-hacks/pkg/core"
	"github.com/parthfloyd/la-hacks/pkg/live/protocol"
)

const (
	defaultHandshakeTimeout = 15 * time.Second
	defaultSetupTimeout     = 10 * time.Second
	defaultWriteTimeout     = 10 * time.Second
	defaultPingInterval     = 30 * time.Second
	defaultMaxMessageSize   = 16 * 1024 * 1024
	frameBuffer             = 64
)

// WebsocketDialer speaks the live protocol directly over gorilla/websocket.
type WebsocketDialer struct {
	HandshakeTimeout time.Duration
	SetupTimeout     time.Duration
	WriteTimeout     time.Duration
	// PingInterval < 0 disables heartbeats.
	PingInterval   time.Duration
	MaxMessageSize int64
	Logger         *slog.Logger
}

// Dial opens the websocket, sends setup and waits for setupComplete.
func (d *WebsocketDialer) Dial(ctx context.Context, opts DialOptions) (Conn, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}

	endpoint := protocol.EndpointURL(opts.Host, opts.APIVersion)
	header := http.Header{}
	header.Set(protocol.APIKeyHeader, opts.APIKey)

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: durationOr(d.HandshakeTimeout, defaultHandshakeTimeout),
	}
	dialCtx := ctx
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, durationOr(d.HandshakeTimeout, defaultHandshakeTimeout))
		defer cancel()
	}

	conn, resp, err := dialer.DialContext(dialCtx, endpoint, header)
	if err != nil {
		te := &TransportError{Op: "GET", URL: endpoint, Err: err}
		if resp != nil {
			te.Status = resp.StatusCode
			_ = resp.Body.Close()
		}
		return nil, te
	}
	maxSize := d.MaxMessageSize
	if maxSize <= 0 {
		maxSize = defaultMaxMessageSize
	}
	conn.SetReadLimit(maxSize)

	c := &wsConn{
		conn:         conn,
		frames:       make(chan []byte, frameBuffer),
		done:         make(chan struct{}),
		closing:      make(chan struct{}),
		writeTimeout: durationOr(d.WriteTimeout, defaultWriteTimeout),
		logger:       logger,
	}

	setup, err := protocol.Encode(protocol.Setup(opts.Setup))
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	if err := c.write(websocket.TextMessage, setup); err != nil {
		_ = conn.Close()
		return nil, &TransportError{Op: "setup", URL: endpoint, Err: err}
	}
	if err := c.awaitSetup(durationOr(d.SetupTimeout, defaultSetupTimeout)); err != nil {
		_ = conn.Close()
		return nil, err
	}

	logger.Debug("live websocket connected", "url", redactURL(endpoint), "model", protocol.ModelName(opts.Setup.Model))
	go c.readLoop()
	if d.PingInterval >= 0 {
		go c.heartbeat(durationOr(d.PingInterval, defaultPingInterval))
	}
	return c, nil
}

type wsConn struct {
	conn   *websocket.Conn
	frames chan []byte
	done   chan struct{}
	// closing is closed by Close so a blocked readLoop can let go.
	closing chan struct{}

	writeMu      sync.Mutex
	writeTimeout time.Duration
	closeOnce    sync.Once
	closed       atomic.Bool

	errMu sync.Mutex
	err   error

	logger *slog.Logger
}

func (c *wsConn) awaitSetup(timeout time.Duration) error {
	if err := c.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return err
	}
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return &TransportError{Op: "setup", Err: classifyReadErr(err)}
		}
		if se, ok := protocol.ParseServerError(data); ok {
			return backendError(se)
		}
		if protocol.IsSetupComplete(data) {
			return c.conn.SetReadDeadline(time.Time{})
		}
		c.logger.Debug("live frame before setupComplete ignored", "bytes", len(data))
	}
}

func (c *wsConn) Send(ctx context.Context, content *genai.LiveClientContent) error {
	if c.closed.Load() {
		return ErrClosed
	}
	if ctx != nil {
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	data, err := protocol.EncodeContent(content)
	if err != nil {
		return err
	}
	return c.write(websocket.TextMessage, data)
}

func (c *wsConn) write(messageType int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.writeTimeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	return c.conn.WriteMessage(messageType, data)
}

func (c *wsConn) Receive(ctx context.Context) ([]byte, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case frame, ok := <-c.frames:
		if !ok {
			return nil, c.terminalErr()
		}
		return frame, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *wsConn) Close() error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		close(c.closing)
		c.writeMu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(2*time.Second))
		c.writeMu.Unlock()
		_ = c.conn.Close()
	})
	<-c.done
	return nil
}

func (c *wsConn) readLoop() {
	defer close(c.done)
	defer close(c.frames)

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if c.closed.Load() {
				c.setErr(ErrClosed)
				return
			}
			c.setErr(classifyReadErr(err))
			return
		}
		if se, ok := protocol.ParseServerError(data); ok {
			c.setErr(backendError(se))
			return
		}
		if left, ok := protocol.GoAway(data); ok {
			c.logger.Warn("live backend going away", "time_left", left)
		}
		select {
		case c.frames <- data:
		case <-c.closing:
			c.setErr(ErrClosed)
			return
		}
	}
}

func (c *wsConn) heartbeat(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.writeTimeout))
			c.writeMu.Unlock()
			if err != nil {
				c.logger.Debug("live heartbeat failed", "error", err)
				return
			}
		}
	}
}

func (c *wsConn) setErr(err error) {
	if err == nil {
		return
	}
	c.errMu.Lock()
	defer c.errMu.Unlock()
	if c.err == nil {
		c.err = err
	}
}

func (c *wsConn) terminalErr() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	if c.err == nil {
		return ErrClosed
	}
	if errors.Is(c.err, ErrClosed) || core.IsType(c.err, core.ErrBackend) {
		return c.err
	}
	return fmt.Errorf("live read: %w", c.err)
}

func durationOr(v, def time.Duration) time.Duration {
	if v > 0 {
		return v
	}
	return def
}
