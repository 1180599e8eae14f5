package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"google.golang.org/genai"

	"github.com/parthfloyd/la-hacks/pkg/core"
	"github.com/parthfloyd/la-hacks/pkg/live/protocol"
)

// GenaiDialer opens sessions through the google.golang.org/genai Live client. It
// also reaches Vertex AI when a project and location are configured.
type GenaiDialer struct {
	SetupTimeout time.Duration
	Logger       *slog.Logger
}

func (d *GenaiDialer) Dial(ctx context.Context, opts DialOptions) (Conn, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}

	cfg := &genai.ClientConfig{
		APIKey:  opts.APIKey,
		Backend: genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{
			APIVersion: opts.APIVersion,
		},
	}
	if cfg.HTTPOptions.APIVersion == "" {
		cfg.HTTPOptions.APIVersion = protocol.DefaultAPIVersion
	}
	if opts.Project != "" && opts.Location != "" {
		cfg.APIKey = ""
		cfg.Backend = genai.BackendVertexAI
		cfg.Project = opts.Project
		cfg.Location = opts.Location
		if opts.APIVersion == "" {
			cfg.HTTPOptions.APIVersion = "v1beta1"
		}
	}
	if host := strings.TrimSpace(opts.Host); host != "" {
		if !strings.Contains(host, "://") {
			host = "https://" + host
		}
		cfg.HTTPOptions.BaseURL = strings.TrimRight(host, "/") + "/"
	}

	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, &TransportError{Op: "client", Err: err}
	}
	model := strings.TrimPrefix(protocol.ModelName(opts.Setup.Model), "models/")
	session, err := client.Live.Connect(ctx, model, protocol.ConnectConfig(opts.Setup))
	if err != nil {
		return nil, &TransportError{Op: "connect", Err: err}
	}

	c := &genaiConn{
		session: session,
		frames:  make(chan []byte, frameBuffer),
		done:    make(chan struct{}),
		closing: make(chan struct{}),
		logger:  logger,
	}
	if err := c.awaitSetup(ctx, durationOr(d.SetupTimeout, defaultSetupTimeout)); err != nil {
		_ = session.Close()
		return nil, err
	}
	logger.Debug("live genai session connected", "backend", cfg.Backend.String(), "model", model)
	go c.readLoop()
	return c, nil
}

type genaiConn struct {
	session *genai.Session
	frames  chan []byte
	done    chan struct{}
	closing chan struct{}

	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    atomic.Bool

	errMu sync.Mutex
	err   error

	logger *slog.Logger
}

type receiveResult struct {
	msg *genai.LiveServerMessage
	err error
}

func (c *genaiConn) awaitSetup(ctx context.Context, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		ch := make(chan receiveResult, 1)
		go func() {
			msg, err := c.session.Receive()
			ch <- receiveResult{msg: msg, err: err}
		}()
		select {
		case res := <-ch:
			if res.err != nil {
				return &TransportError{Op: "setup", Err: classifyGenaiErr(res.err)}
			}
			if res.msg != nil && res.msg.SetupComplete != nil {
				return nil
			}
		case <-timer.C:
			return &TransportError{Op: "setup", Err: errors.New("timed out waiting for setupComplete")}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *genaiConn) Send(ctx context.Context, content *genai.LiveClientContent) error {
	if c.closed.Load() {
		return ErrClosed
	}
	if content == nil {
		return errors.New("nil client content")
	}
	if ctx != nil {
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.session.SendClientContent(genai.LiveClientContentInput{
		Turns:        content.Turns,
		TurnComplete: genai.Ptr(content.TurnComplete),
	})
}

func (c *genaiConn) Receive(ctx context.Context) ([]byte, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case frame, ok := <-c.frames:
		if !ok {
			c.errMu.Lock()
			defer c.errMu.Unlock()
			if c.err == nil {
				return nil, ErrClosed
			}
			return nil, c.err
		}
		return frame, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *genaiConn) Close() error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		close(c.closing)
		_ = c.session.Close()
	})
	<-c.done
	return nil
}

func (c *genaiConn) readLoop() {
	defer close(c.done)
	defer close(c.frames)

	for {
		msg, err := c.session.Receive()
		if err != nil {
			if c.closed.Load() {
				c.setErr(ErrClosed)
			} else {
				c.setErr(classifyGenaiErr(err))
			}
			return
		}
		if msg.GoAway != nil {
			c.logger.Warn("live backend going away", "time_left", msg.GoAway.TimeLeft.String())
		}
		data, err := json.Marshal(msg)
		if err != nil {
			c.setErr(fmt.Errorf("encode server message: %w", err))
			return
		}
		select {
		case c.frames <- data:
		case <-c.closing:
			c.setErr(ErrClosed)
			return
		}
	}
}

func (c *genaiConn) setErr(err error) {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	if c.err == nil {
		c.err = err
	}
}

// classifyGenaiErr recognises the SDK's error-frame failure in addition to close
// frames.
func classifyGenaiErr(err error) error {
	const prefix = "received error in response: "
	if msg := err.Error(); strings.HasPrefix(msg, prefix) {
		if se, ok := protocol.ParseServerError([]byte(strings.TrimPrefix(msg, prefix))); ok {
			return backendError(se)
		}
		return core.NewBackendError(strings.TrimPrefix(msg, prefix), "")
	}
	return classifyReadErr(err)
}
