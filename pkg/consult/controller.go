// Package consult keeps the consultation transcript in step with a live session: it
// reconciles streamed updates into messages, surfaces in-band directives and gates
// user input while a reply is pending.
package consult

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/parthfloyd/la-hacks/pkg/core"
	"github.com/parthfloyd/la-hacks/pkg/core/types"
	"github.com/parthfloyd/la-hacks/pkg/directive"
	"github.com/parthfloyd/la-hacks/pkg/live/session"
)

// Transcript texts shown to the user.
const (
	DefaultGreeting = "Hello! I'm your virtual healthcare assistant. Please describe your symptoms, or share a photo, audio note or document, and I'll help you understand what might be going on."

	MsgServiceError = "An error occurred with the AI service. Please try again later."
	MsgInitFailed   = "Failed to initialize chat session. Please try again later."
	MsgTurnTimeout  = "The response took too long. Please try sending your message again."

	msgSendFailed = "Sorry, I encountered an error processing your %s."
)

var (
	// ErrInputBlocked is returned when a submission arrives while the session cannot
	// take a new turn.
	ErrInputBlocked = errors.New("input blocked: session inactive or reply in progress")
	// ErrEmptyInput is returned for blank text or empty media.
	ErrEmptyInput = errors.New("nothing to send")
)

// Session is the live session the controller drives. *session.Client implements it.
type Session interface {
	Start(ctx context.Context, cfg session.Config, cb session.Callbacks) error
	SendText(ctx context.Context, text string) error
	SendAudio(ctx context.Context, data []byte, mimeType string) error
	SendImage(ctx context.Context, data []byte, mimeType string) error
	SendFile(ctx context.Context, data []byte, mimeType, name string) error
	EnqueueMedia(p types.Payload) error
	End()
	IsActive() bool
	TurnInFlight() bool
}

// Notifier receives directives found in final assistant messages.
type Notifier interface {
	// Emergency receives the text inside the danger markers.
	Emergency(notice string)
	// Report receives the whole untouched message carrying a report title.
	Report(text string)
}

// NotifierFuncs adapts plain functions to Notifier. Nil fields are skipped.
type NotifierFuncs struct {
	OnEmergency func(notice string)
	OnReport    func(text string)
}

func (n NotifierFuncs) Emergency(notice string) {
	if n.OnEmergency != nil {
		n.OnEmergency(notice)
	}
}

func (n NotifierFuncs) Report(text string) {
	if n.OnReport != nil {
		n.OnReport(text)
	}
}

// Controller owns the transcript for one consultation.
type Controller struct {
	sess     Session
	cfg      session.Config
	parser   *directive.Parser
	notifier Notifier
	logger   *slog.Logger
	greeting string

	mu         sync.Mutex
	transcript []types.Message
	submitting bool
	lastErr    error
	lastReport string
	onChange   func([]types.Message)
}

// Option configures a Controller.
type Option func(*Controller)

func WithNotifier(n Notifier) Option {
	return func(c *Controller) { c.notifier = n }
}

// WithGrammar replaces the directive markers.
func WithGrammar(g directive.Grammar) Option {
	return func(c *Controller) { c.parser = directive.NewParser(g) }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithGreeting sets the assistant message the transcript starts with.
func WithGreeting(text string) Option {
	return func(c *Controller) { c.greeting = strings.TrimSpace(text) }
}

// New returns a controller seeded with the greeting. The session is not started.
func New(sess Session, cfg session.Config, opts ...Option) *Controller {
	c := &Controller{
		sess:     sess,
		cfg:      cfg,
		parser:   directive.NewParser(directive.DefaultGrammar()),
		notifier: NotifierFuncs{},
		logger:   slog.Default(),
		greeting: DefaultGreeting,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.seed()
	return c
}

// OnChange registers fn to receive a transcript snapshot after every mutation.
func (c *Controller) OnChange(fn func([]types.Message)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onChange = fn
}

// Start opens the live session. On failure the transcript explains it and the error
// is kept for LastError.
func (c *Controller) Start(ctx context.Context) error {
	err := c.sess.Start(ctx, c.cfg, session.Callbacks{
		OnOpen:   c.handleOpen,
		OnUpdate: c.handleUpdate,
		OnError:  c.handleError,
		OnClose:  c.handleClose,
	})
	if err != nil {
		c.logger.Error("consultation session failed to start", "error", err)
		c.mutate(func() {
			c.lastErr = err
			c.appendAssistant(MsgInitFailed)
		})
		return err
	}
	c.mu.Lock()
	c.lastErr = nil
	c.mu.Unlock()
	return nil
}

// Reconnect ends the current session and opens a fresh one. Model-side context from
// the old session is not carried over.
func (c *Controller) Reconnect(ctx context.Context) error {
	c.sess.End()
	c.mutate(c.finalizeTrailing)
	return c.Start(ctx)
}

// Close ends the session.
func (c *Controller) Close() {
	c.sess.End()
	c.mutate(c.finalizeTrailing)
}

// SubmitText sends a typed message.
func (c *Controller) SubmitText(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyInput
	}
	return c.submit(ctx, types.ModalityText, text, "message", func(ctx context.Context) error {
		return c.sess.SendText(ctx, text)
	})
}

// SubmitAudio sends a recorded clip.
func (c *Controller) SubmitAudio(ctx context.Context, p types.Payload) error {
	if p.Empty() {
		return ErrEmptyInput
	}
	return c.submit(ctx, types.ModalityAudio, "Sent an audio message", "audio", func(ctx context.Context) error {
		return c.sess.SendAudio(ctx, p.Data, p.MIMEType)
	})
}

// SubmitFrame sends one camera frame and asks for a description.
func (c *Controller) SubmitFrame(ctx context.Context, p types.Payload) error {
	if p.Empty() {
		return ErrEmptyInput
	}
	return c.submit(ctx, types.ModalityVideo, "Sent a video frame", "image", func(ctx context.Context) error {
		return c.sess.SendImage(ctx, p.Data, p.MIMEType)
	})
}

// SubmitFile sends an uploaded document.
func (c *Controller) SubmitFile(ctx context.Context, p types.Payload) error {
	if p.Empty() {
		return ErrEmptyInput
	}
	return c.submit(ctx, types.ModalityFile, "Uploaded file: "+p.Name, "file", func(ctx context.Context) error {
		return c.sess.SendFile(ctx, p.Data, p.MIMEType, p.Name)
	})
}

// StreamFrame queues a frame as silent context for the model. It adds nothing to the
// transcript and is not gated by a pending reply.
func (c *Controller) StreamFrame(p types.Payload) {
	if err := c.sess.EnqueueMedia(p); err != nil {
		c.logger.Debug("streamed frame dropped", "error", err)
	}
}

// CanSend reports whether a new turn would be accepted right now.
func (c *Controller) CanSend() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.canSendLocked()
}

// Connected reports whether the session is active.
func (c *Controller) Connected() bool {
	return c.sess.IsActive()
}

// CloseReport resets the transcript to the greeting. The session and the model's
// memory of the conversation are left alone.
func (c *Controller) CloseReport() {
	c.mutate(func() {
		c.lastReport = ""
		c.transcript = c.transcript[:0]
		c.appendGreeting()
	})
}

// Transcript returns a copy of the transcript.
func (c *Controller) Transcript() []types.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// LastError returns the most recent session error, if any.
func (c *Controller) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// LastReport returns the full text of the most recent report message.
func (c *Controller) LastReport() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastReport
}

func (c *Controller) submit(ctx context.Context, modality types.Modality, label, noun string, send func(context.Context) error) error {
	c.mu.Lock()
	if !c.canSendLocked() {
		c.mu.Unlock()
		return ErrInputBlocked
	}
	c.submitting = true
	c.transcript = append(c.transcript, types.NewMessage(types.OriginUser, modality, label, false))
	c.notifyUnlock()

	err := send(ctx)

	c.mu.Lock()
	c.submitting = false
	if err == nil {
		c.mu.Unlock()
		return nil
	}
	c.lastErr = err
	c.finalizeTrailing()
	c.appendAssistant(sendFailed(noun))
	c.notifyUnlock()
	c.logger.Warn("consultation send failed", "modality", modality, "error", err)
	return err
}

func (c *Controller) canSendLocked() bool {
	if c.submitting || c.trailingPartial() {
		return false
	}
	return c.sess.IsActive() && !c.sess.TurnInFlight()
}

func (c *Controller) handleOpen() {
	c.logger.Info("consultation session open")
}

func (c *Controller) handleUpdate(u types.Update) {
	text := u.Text
	var res directive.Result
	if u.Final() {
		res = c.parser.Parse(u.Text)
		text = res.Cleaned
	}

	c.mu.Lock()
	changed := c.reconcile(text, u.Partial)
	if u.Final() && res.Report {
		c.lastReport = u.Text
	}
	if changed {
		c.notifyUnlock()
	} else {
		c.mu.Unlock()
	}

	if res.HasEmergency {
		c.logger.Warn("danger signs reported")
		c.notifier.Emergency(res.Emergency)
	}
	if res.Report {
		c.notifier.Report(u.Text)
	}
}

// reconcile folds one update into the transcript and reports whether it changed.
// Callers hold c.mu.
func (c *Controller) reconcile(text string, partial bool) bool {
	if last := c.last(); last != nil && last.IsAssistant() && last.Partial {
		last.Body = text
		last.Partial = partial
		return true
	}
	if partial {
		c.transcript = append(c.transcript, types.NewMessage(types.OriginAssistant, types.ModalityText, text, true))
		return true
	}
	if strings.TrimSpace(text) == "" {
		return false
	}
	if last := c.last(); last != nil && last.IsAssistant() && last.Body == text {
		c.logger.Debug("duplicate final message dropped", "bytes", len(text))
		return false
	}
	c.appendAssistant(text)
	return true
}

func (c *Controller) handleError(err error) {
	msg := MsgServiceError
	if core.IsType(err, core.ErrTurnTimeout) {
		msg = MsgTurnTimeout
	}
	c.logger.Error("consultation session error", "error", err)
	c.mutate(func() {
		c.lastErr = err
		c.finalizeTrailing()
		c.appendAssistant(msg)
	})
}

func (c *Controller) handleClose() {
	c.logger.Info("consultation session closed")
	c.mutate(c.finalizeTrailing)
}

// finalizeTrailing freezes a trailing partial entry. Callers hold c.mu.
func (c *Controller) finalizeTrailing() {
	if last := c.last(); last != nil && last.Partial {
		last.Partial = false
	}
}

func (c *Controller) trailingPartial() bool {
	last := c.last()
	return last != nil && last.IsAssistant() && last.Partial
}

func (c *Controller) last() *types.Message {
	if len(c.transcript) == 0 {
		return nil
	}
	return &c.transcript[len(c.transcript)-1]
}

func (c *Controller) appendAssistant(text string) {
	c.transcript = append(c.transcript, types.NewMessage(types.OriginAssistant, types.ModalityText, text, false))
}

func (c *Controller) appendGreeting() {
	if c.greeting != "" {
		c.appendAssistant(c.greeting)
	}
}

func (c *Controller) seed() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.appendGreeting()
}

// mutate applies fn under the lock and notifies the observer.
func (c *Controller) mutate(fn func()) {
	c.mu.Lock()
	fn()
	c.notifyUnlock()
}

// notifyUnlock releases c.mu and then hands a snapshot to the observer.
func (c *Controller) notifyUnlock() {
	fn := c.onChange
	var snap []types.Message
	if fn != nil {
		snap = c.snapshotLocked()
	}
	c.mu.Unlock()
	if fn != nil {
		fn(snap)
	}
}

func (c *Controller) snapshotLocked() []types.Message {
	out := make([]types.Message, len(c.transcript))
	copy(out, c.transcript)
	return out
}

func sendFailed(noun string) string {
	return fmt.Sprintf(msgSendFailed, noun)
}
