// Package session owns one persistent live conversation with the backend: it opens the
// connection, serializes user turns against replies, paces context-only media and
// dispatches reassembled updates to callbacks.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"google.golang.org/genai"

	"github.com/parthfloyd/la-hacks/pkg/core"
	"github.com/parthfloyd/la-hacks/pkg/core/types"
	"github.com/parthfloyd/la-hacks/pkg/live/mediaqueue"
	"github.com/parthfloyd/la-hacks/pkg/live/protocol"
	"github.com/parthfloyd/la-hacks/pkg/live/reassembly"
	"github.com/parthfloyd/la-hacks/pkg/live/transport"
	"github.com/parthfloyd/la-hacks/pkg/metrics"
)

// ErrEmptyPayload is returned when a send carries no content.
var ErrEmptyPayload = errors.New("empty payload")

// Client is a live session handle. The zero value is not usable; call New.
type Client struct {
	dialer     transport.Dialer
	logger     *slog.Logger
	metrics    *metrics.Metrics
	engineOpts []reassembly.Option
	now        func() time.Time

	resources *resources

	mu           sync.Mutex
	id           string
	state        State
	cb           Callbacks
	conn         transport.Conn
	cancel       context.CancelFunc
	done         chan struct{}
	ending       bool
	turnInFlight bool
	turnSeq      uint64
	turnStarted  time.Time
	turnSignal   chan uint64
	queue        *mediaqueue.Queue[mediaqueue.Item]
	engine       *reassembly.Engine
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the client logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithMetrics records session activity on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithEngineOptions configures the reassembly engine built for each session.
func WithEngineOptions(opts ...reassembly.Option) Option {
	return func(c *Client) { c.engineOpts = append(c.engineOpts, opts...) }
}

// WithClock overrides time.Now for turn latency measurements.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

// New returns an idle client that dials through d.
func New(d transport.Dialer, opts ...Option) *Client {
	c := &Client{
		dialer:    d,
		logger:    slog.Default(),
		now:       time.Now,
		resources: newResources(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type inbound struct {
	raw []byte
	err error
}

// Start opens a session and begins dispatching events to cb. Configuration is
// validated before anything is dialed.
func (c *Client) Start(ctx context.Context, cfg Config, cb Callbacks) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if ctx == nil {
		ctx = context.Background()
	}

	c.mu.Lock()
	if c.state == StateConnecting || c.state == StateActive {
		c.mu.Unlock()
		return core.NewNotActiveError("session already started", core.CodeAlreadyStarted)
	}
	if c.cancel != nil {
		// A previous session ended on its own; finish tearing it down.
		c.mu.Unlock()
		c.End()
		c.mu.Lock()
		if c.state == StateConnecting || c.state == StateActive {
			c.mu.Unlock()
			return core.NewNotActiveError("session already started", core.CodeAlreadyStarted)
		}
	}
	c.state = StateConnecting
	c.ending = false
	c.mu.Unlock()

	conn, err := c.dialer.Dial(ctx, transport.DialOptions{
		APIKey:     cfg.APIKey,
		Host:       cfg.Host,
		APIVersion: cfg.APIVersion,
		Project:    cfg.Project,
		Location:   cfg.Location,
		Setup: protocol.SetupOptions{
			Model:             cfg.Model,
			SystemInstruction: cfg.SystemInstruction,
			GoogleSearch:      cfg.GoogleSearch,
		},
	})
	if err != nil {
		c.mu.Lock()
		if c.state == StateConnecting {
			c.state = StateErrored
		}
		c.mu.Unlock()
		c.metrics.SessionError(string(core.ErrConnection))
		c.logger.Error("live session dial failed", "model", cfg.Model, "error", err)
		return core.NewConnectionError("failed to open live session", err)
	}

	c.mu.Lock()
	if c.state != StateConnecting {
		c.mu.Unlock()
		_ = conn.Close()
		return core.NewNotActiveError("session ended while connecting", core.CodeNotActive)
	}

	sessCtx, cancel := context.WithCancel(context.Background())
	g, gctx := errgroup.WithContext(sessCtx)

	c.id = uuid.NewString()
	c.cb = cb
	c.conn = conn
	c.cancel = cancel
	c.done = make(chan struct{})
	c.turnInFlight = false
	c.turnSignal = make(chan uint64, 1)
	c.queue = mediaqueue.New[mediaqueue.Item]()
	c.engine = reassembly.New(append([]reassembly.Option{
		reassembly.WithLogger(c.logger),
		reassembly.WithMalformedHook(c.metrics.MalformedEvent),
	}, c.engineOpts...)...)
	c.state = StateActive

	inbox := make(chan inbound)
	signal := c.turnSignal
	engine := c.engine
	drainer := mediaqueue.NewDrainer(c.queue, cfg.MediaSendInterval, c.sendMedia).
		OnError(func(item mediaqueue.Item, err error) {
			c.metrics.Media("error", 1)
			c.logger.Warn("queued media send failed", "mime_type", item.Payload.MIMEType, "error", err)
		})

	c.metrics.SessionOpened()
	g.Go(func() error { return c.receiveLoop(gctx, conn, inbox) })
	g.Go(func() error { return c.dispatchLoop(gctx, engine, inbox, signal, cfg.TurnTimeout) })
	g.Go(func() error { return drainer.Run(gctx) })

	done := c.done
	go func() {
		if err := g.Wait(); err != nil {
			c.logger.Debug("live session goroutines exited", "error", err)
		}
		c.metrics.SessionClosed()
		close(done)
	}()
	id := c.id
	c.mu.Unlock()

	c.logger.Info("live session started", "session_id", id, "model", protocol.ModelName(cfg.Model))
	return nil
}

// SendText sends one complete text turn.
func (c *Client) SendText(ctx context.Context, text string) error {
	if text == "" {
		return ErrEmptyPayload
	}
	return c.sendTurn(ctx, types.ModalityText, protocol.TextTurn(text))
}

// SendAudio sends a recorded clip as one turn.
func (c *Client) SendAudio(ctx context.Context, data []byte, mimeType string) error {
	if len(data) == 0 {
		return ErrEmptyPayload
	}
	return c.sendTurn(ctx, types.ModalityAudio, protocol.AudioTurn(data, mimeType))
}

// SendImage sends a still frame as one turn.
func (c *Client) SendImage(ctx context.Context, data []byte, mimeType string) error {
	if len(data) == 0 {
		return ErrEmptyPayload
	}
	return c.sendTurn(ctx, types.ModalityVideo, protocol.ImageTurn(data, mimeType))
}

// SendFile sends an uploaded document as one turn.
func (c *Client) SendFile(ctx context.Context, data []byte, mimeType, name string) error {
	if len(data) == 0 {
		return ErrEmptyPayload
	}
	return c.sendTurn(ctx, types.ModalityFile, protocol.FileTurn(data, mimeType, name))
}

// EnqueueMedia queues p as context for the model without opening a turn.
func (c *Client) EnqueueMedia(p types.Payload) error {
	if p.Empty() {
		return ErrEmptyPayload
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateActive || c.ending {
		return core.NewNotActiveError("live session is not active", core.CodeNotActive)
	}
	c.queue.Put(mediaqueue.Item{Payload: p, EnqueuedAt: c.now()})
	return nil
}

// Track registers a capture resource to be cancelled when the session ends.
func (c *Client) Track(name string, cancel func()) (untrack func()) {
	return c.resources.register(name, cancel)
}

// End tears the session down. It is idempotent, and no callback runs after it returns.
func (c *Client) End() {
	c.mu.Lock()
	if c.cancel == nil {
		if c.state == StateConnecting {
			c.state = StateClosed
		}
		c.mu.Unlock()
		return
	}
	c.ending = true
	c.state = StateClosed
	c.turnInFlight = false
	cancel, conn, done, queue, id := c.cancel, c.conn, c.done, c.queue, c.id
	c.cancel = nil
	c.mu.Unlock()

	c.resources.cancelAll()
	c.metrics.Media("dropped", queue.Clear())
	cancel()
	if err := conn.Close(); err != nil {
		c.logger.Debug("live connection close failed", "session_id", id, "error", err)
	}
	<-done

	c.mu.Lock()
	c.engine.Reset()
	c.conn = nil
	c.mu.Unlock()
	c.logger.Info("live session ended", "session_id", id)
}

// IsActive reports whether sends are currently accepted by the session.
func (c *Client) IsActive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == StateActive && !c.ending
}

// TurnInFlight reports whether a sent turn is still waiting for its completion.
func (c *Client) TurnInFlight() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.turnInFlight
}

func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// ID returns the identifier of the current or last session.
func (c *Client) ID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.id
}

func (c *Client) sendTurn(ctx context.Context, modality types.Modality, content *genai.LiveClientContent) error {
	if ctx == nil {
		ctx = context.Background()
	}

	c.mu.Lock()
	if c.state != StateActive || c.ending {
		c.mu.Unlock()
		return core.NewNotActiveError("live session is not active", core.CodeNotActive)
	}
	if c.turnInFlight {
		c.mu.Unlock()
		return core.NewNotActiveError("a turn is already in flight", core.CodeTurnInFlight)
	}
	c.turnInFlight = true
	c.turnSeq++
	seq := c.turnSeq
	c.turnStarted = c.now()
	conn, signal, id := c.conn, c.turnSignal, c.id
	c.mu.Unlock()

	if err := conn.Send(ctx, content); err != nil {
		c.mu.Lock()
		if c.turnSeq == seq {
			c.turnInFlight = false
		}
		c.mu.Unlock()
		c.metrics.SessionError(string(core.ErrConnection))
		c.logger.Warn("live turn send failed", "session_id", id, "modality", modality, "error", err)
		return core.NewConnectionError("failed to send turn", err)
	}

	c.metrics.TurnStarted(string(modality))
	c.logger.Debug("live turn sent", "session_id", id, "modality", modality, "turn", seq)

	// Keep only the newest turn number; a stale one would be ignored anyway.
	select {
	case signal <- seq:
	default:
		select {
		case <-signal:
		default:
		}
		select {
		case signal <- seq:
		default:
		}
	}
	return nil
}

func (c *Client) sendMedia(ctx context.Context, item mediaqueue.Item) error {
	c.mu.Lock()
	conn := c.conn
	active := c.state == StateActive && !c.ending
	c.mu.Unlock()
	if !active || conn == nil {
		c.metrics.Media("dropped", 1)
		return core.NewNotActiveError("live session is not active", core.CodeNotActive)
	}
	if err := conn.Send(ctx, protocol.MediaContext(item.Payload.Data, item.Payload.MIMEType)); err != nil {
		return err
	}
	c.metrics.Media("sent", 1)
	return nil
}

func (c *Client) receiveLoop(ctx context.Context, conn transport.Conn, inbox chan<- inbound) error {
	for {
		raw, err := conn.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			select {
			case inbox <- inbound{err: err}:
			case <-ctx.Done():
			}
			return nil
		}
		select {
		case inbox <- inbound{raw: raw}:
		case <-ctx.Done():
			return nil
		}
	}
}

func (c *Client) dispatchLoop(ctx context.Context, engine *reassembly.Engine, inbox <-chan inbound, signal <-chan uint64, timeout time.Duration) error {
	c.deliver(func(cb Callbacks) {
		if cb.OnOpen != nil {
			cb.OnOpen()
		}
	})

	var (
		timer  *time.Timer
		timerC <-chan time.Time
		armed  uint64
	)
	stop := func() {
		if timer != nil {
			timer.Stop()
			timer, timerC = nil, nil
		}
	}
	defer stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case seq := <-signal:
			stop()
			if timeout > 0 {
				timer = time.NewTimer(timeout)
				timerC = timer.C
				armed = seq
			}
		case <-timerC:
			timer, timerC = nil, nil
			c.handleTimeout(engine, armed, timeout)
		case in := <-inbox:
			if in.err != nil {
				c.handleTerminal(engine, in.err)
				return nil
			}
			if c.handleFrame(engine, in.raw) {
				stop()
			}
		}
	}
}

// handleFrame feeds one event and reports whether it closed a turn.
func (c *Client) handleFrame(engine *reassembly.Engine, raw []byte) bool {
	c.metrics.EventReceived(reassembly.Kind(raw))

	update, ok := engine.Feed(raw)
	if !ok {
		return false
	}

	c.mu.Lock()
	if c.ending {
		c.mu.Unlock()
		return false
	}
	cb, seq := c.cb, c.turnSeq
	closing := update.Final() && c.turnInFlight
	if closing {
		c.metrics.TurnCompleted(c.now().Sub(c.turnStarted))
	}
	c.mu.Unlock()

	if cb.OnUpdate != nil {
		cb.OnUpdate(update)
	}

	// The turn stays in flight until the final update has been handed off, so no new
	// turn can be sent ahead of it.
	if closing {
		c.mu.Lock()
		if c.turnSeq == seq {
			c.turnInFlight = false
		}
		c.mu.Unlock()
	}
	return update.Final()
}

func (c *Client) handleTimeout(engine *reassembly.Engine, seq uint64, timeout time.Duration) {
	c.mu.Lock()
	if c.ending || !c.turnInFlight || c.turnSeq != seq {
		c.mu.Unlock()
		return
	}
	c.turnInFlight = false
	cb, id := c.cb, c.id
	c.mu.Unlock()

	engine.Reset()
	c.metrics.TurnTimedOut()
	c.logger.Warn("live turn timed out", "session_id", id, "turn", seq, "timeout", timeout)
	if cb.OnError != nil {
		cb.OnError(core.NewTurnTimeoutError("no completion signal within " + timeout.String()))
	}
}

func (c *Client) handleTerminal(engine *reassembly.Engine, err error) {
	engine.Reset()

	c.mu.Lock()
	if c.ending {
		c.mu.Unlock()
		return
	}
	var report error
	switch {
	case errors.Is(err, transport.ErrClosed):
		c.state = StateClosed
	case core.IsType(err, core.ErrBackend):
		c.state = StateClosed
		report = err
	default:
		c.state = StateErrored
		report = core.NewConnectionError("live connection lost", err)
	}
	c.turnInFlight = false
	cb, cancel, conn, queue, id, state := c.cb, c.cancel, c.conn, c.queue, c.id, c.state
	c.mu.Unlock()

	c.metrics.Media("dropped", queue.Clear())
	c.resources.cancelAll()
	c.logger.Info("live session terminated", "session_id", id, "state", state.String(), "error", err)

	if report != nil {
		var ce *core.Error
		if errors.As(report, &ce) {
			c.metrics.SessionError(string(ce.Type))
		}
		if cb.OnError != nil {
			cb.OnError(report)
		}
	}
	if cb.OnClose != nil {
		cb.OnClose()
	}

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		_ = conn.Close()
	}
}

// deliver runs fn with the current callbacks unless the session is ending.
func (c *Client) deliver(fn func(Callbacks)) {
	c.mu.Lock()
	if c.ending {
		c.mu.Unlock()
		return
	}
	cb := c.cb
	c.mu.Unlock()
	fn(cb)
}
