package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/parthfloyd/la-hacks/pkg/capture"
	"github.com/parthfloyd/la-hacks/pkg/config"
	"github.com/parthfloyd/la-hacks/pkg/consult"
	"github.com/parthfloyd/la-hacks/pkg/core/types"
	"github.com/parthfloyd/la-hacks/pkg/live/session"
	"github.com/parthfloyd/la-hacks/pkg/live/transport"
	"github.com/parthfloyd/la-hacks/pkg/metrics"
	"github.com/parthfloyd/la-hacks/pkg/report"
)

const helpText = `Type a message to send it. Commands:
  /audio            start recording, run again to stop and send
  /frame            send one camera frame
  /video            start or stop streaming camera frames
  /file <path>      upload a document or image
  /report           show the last report
  /report save <p>  save the last report (.html or .md)
  /report close     close the report and start over
  /reconnect        open a fresh session
  /transcript       print the conversation
  /quit             exit`

type deps struct {
	dialer  transport.Dialer
	metrics *metrics.Metrics
	logger  *slog.Logger
	out     io.Writer
	now     func() time.Time

	// Nil openers use ffmpeg.
	mic    capture.Opener
	camera capture.Opener
}

type app struct {
	ctrl   *consult.Controller
	client *session.Client
	audio  *capture.Audio
	frame  *capture.Frame
	file   *capture.File
	logger *slog.Logger
	now    func() time.Time

	ctx context.Context

	mu      sync.Mutex
	out     io.Writer
	printer *printer
	untrack map[string]func()
}

func newApp(cfg config.Config, d deps) (*app, error) {
	sessCfg, err := cfg.Session()
	if err != nil {
		return nil, err
	}
	if d.logger == nil {
		d.logger = slog.Default()
	}
	if d.now == nil {
		d.now = time.Now
	}
	if d.mic == nil || d.camera == nil {
		ff := capture.FFmpeg{Binary: cfg.FFmpegPath, AudioInput: cfg.AudioDevice, VideoInput: cfg.VideoDevice}
		if d.mic == nil {
			d.mic = ff.Microphone()
		}
		if d.camera == nil {
			d.camera = ff.Camera()
		}
	}

	a := &app{
		logger:  d.logger,
		now:     d.now,
		out:     d.out,
		printer: &printer{},
		untrack: make(map[string]func()),
		ctx:     context.Background(),
	}
	a.client = session.New(d.dialer, session.WithLogger(d.logger), session.WithMetrics(d.metrics))
	a.ctrl = consult.New(a.client, sessCfg,
		consult.WithLogger(d.logger),
		consult.WithGreeting(orDefault(cfg.Greeting, consult.DefaultGreeting)),
		consult.WithNotifier(consult.NotifierFuncs{
			OnEmergency: a.printEmergency,
			OnReport: func(string) {
				a.println("[report ready: /report to view, /report save <path>, /report close]")
			},
		}),
	)
	a.ctrl.OnChange(a.render)

	capOpts := []capture.Option{capture.WithLogger(d.logger), capture.WithClock(d.now)}
	a.audio = capture.NewAudio(d.mic, a.sendAudio, append(capOpts, capture.WithMaxDuration(cfg.MaxRecording))...)
	a.frame = capture.NewFrame(d.camera, a.ctrl.StreamFrame, append(capOpts, capture.WithFrameInterval(cfg.FrameInterval))...)
	a.file = capture.NewFile(a.sendFile, capOpts...)
	return a, nil
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

func (a *app) start(ctx context.Context) {
	a.ctx = ctx
	a.render(a.ctrl.Transcript())
	a.println(helpText)
	if err := a.ctrl.Start(ctx); err != nil {
		a.printf("[connection failed: %v]\n", err)
		return
	}
	a.println("[connected]")
}

func (a *app) close() {
	a.audio.Cancel()
	a.frame.Cancel()
	a.file.Cancel()
	a.ctrl.Close()
}

// handle runs one input line and reports whether the user asked to quit.
func (a *app) handle(ctx context.Context, line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}
	if !strings.HasPrefix(line, "/") {
		a.report(a.ctrl.SubmitText(ctx, line))
		return false
	}

	cmd, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)
	switch cmd {
	case "/quit", "/exit":
		return true
	case "/help":
		a.println(helpText)
	case "/audio":
		a.toggleAudio(ctx)
	case "/frame":
		a.sendFrame(ctx)
	case "/video":
		a.toggleVideo(ctx)
	case "/file":
		a.uploadFile(ctx, arg)
	case "/report":
		a.reportCommand(arg)
	case "/reconnect":
		a.reconnect(ctx)
	case "/transcript":
		a.printTranscript()
	default:
		a.printf("[unknown command %s, try /help]\n", cmd)
	}
	return false
}

func (a *app) toggleAudio(ctx context.Context) {
	if a.audio.Recording() {
		if !a.ctrl.CanSend() {
			if !a.ctrl.Connected() {
				a.release(capture.DeviceMicrophone)
				a.audio.Cancel()
				a.println("[not connected, recording discarded]")
				return
			}
			a.println("[please wait for the reply to finish, still recording]")
			return
		}
		a.release(capture.DeviceMicrophone)
		if err := a.audio.Finish(); err != nil {
			a.printf("[recording failed: %v]\n", err)
		}
		return
	}
	if !a.ctrl.CanSend() {
		a.report(consult.ErrInputBlocked)
		return
	}
	if err := a.audio.CapabilityCheck(); err != nil {
		a.printf("[microphone unavailable: %v]\n", err)
		return
	}
	if err := a.audio.Begin(ctx); err != nil {
		a.printf("[microphone unavailable: %v]\n", err)
		return
	}
	a.track(capture.DeviceMicrophone, a.audio.Cancel)
	a.println("[recording... /audio again to send]")
}

func (a *app) sendAudio(p types.Payload) {
	err := a.ctrl.SubmitAudio(a.ctx, p)
	if errors.Is(err, consult.ErrInputBlocked) {
		a.println("[audio message dropped, the session cannot take it right now]")
		return
	}
	a.report(err)
}

func (a *app) sendFrame(ctx context.Context) {
	if !a.ctrl.CanSend() {
		a.report(consult.ErrInputBlocked)
		return
	}
	p, err := a.frame.Snapshot(ctx)
	if err != nil {
		a.printf("[camera unavailable: %v]\n", err)
		return
	}
	a.report(a.ctrl.SubmitFrame(ctx, p))
}

func (a *app) toggleVideo(ctx context.Context) {
	if a.frame.Streaming() {
		a.release(capture.DeviceCamera)
		a.frame.Cancel()
		a.println("[video stopped]")
		return
	}
	if !a.ctrl.Connected() {
		a.report(consult.ErrInputBlocked)
		return
	}
	if err := a.frame.Begin(ctx); err != nil {
		a.printf("[camera unavailable: %v]\n", err)
		return
	}
	a.track(capture.DeviceCamera, a.frame.Cancel)
	a.println("[video streaming... /video again to stop]")
}

func (a *app) uploadFile(ctx context.Context, path string) {
	if path == "" {
		a.println("[usage: /file <path>]")
		return
	}
	if !a.ctrl.CanSend() {
		a.report(consult.ErrInputBlocked)
		return
	}
	a.track(capture.DeviceFile, a.file.Cancel)
	if err := a.file.Begin(ctx, path); err != nil {
		a.release(capture.DeviceFile)
		a.printf("[cannot upload %s: %v]\n", filepath.Base(path), err)
	}
}

func (a *app) sendFile(p types.Payload) {
	a.release(capture.DeviceFile)
	a.report(a.ctrl.SubmitFile(a.ctx, p))
}

func (a *app) reportCommand(arg string) {
	sub, rest, _ := strings.Cut(arg, " ")
	switch sub {
	case "":
		text := a.ctrl.LastReport()
		if text == "" {
			a.println("[no report yet]")
			return
		}
		patient, title := report.Header(text)
		a.printf("=== %s ===\nPatient: %s\n\n%s\n", title, patient, text)
	case "save":
		a.saveReport(strings.TrimSpace(rest))
	case "close":
		a.ctrl.CloseReport()
	default:
		a.println("[usage: /report [save <path>|close]]")
	}
}

func (a *app) saveReport(path string) {
	text := a.ctrl.LastReport()
	if text == "" {
		a.println("[no report yet]")
		return
	}
	if path == "" {
		a.println("[usage: /report save <path>]")
		return
	}
	r, err := report.Render(text, a.now())
	if err != nil {
		a.printf("[report failed: %v]\n", err)
		return
	}
	if err := r.Save(path); err != nil {
		a.printf("[report failed: %v]\n", err)
		return
	}
	a.printf("[report saved to %s]\n", path)
}

func (a *app) reconnect(ctx context.Context) {
	a.audio.Cancel()
	a.frame.Cancel()
	a.file.Cancel()
	if err := a.ctrl.Reconnect(ctx); err != nil {
		a.printf("[reconnect failed: %v]\n", err)
		return
	}
	a.println("[reconnected]")
}

func (a *app) printTranscript() {
	for _, m := range a.ctrl.Transcript() {
		who := "you"
		if m.IsAssistant() {
			who = "assistant"
		}
		a.printf("%s: %s\n", who, m.Body)
	}
}

func (a *app) report(err error) {
	switch {
	case err == nil:
	case errors.Is(err, consult.ErrInputBlocked):
		if !a.ctrl.Connected() {
			a.println("[not connected, try /reconnect]")
			return
		}
		a.println("[please wait for the reply to finish]")
	case errors.Is(err, consult.ErrEmptyInput):
	default:
		a.logger.Debug("submission failed", "error", err)
	}
}

// track registers a capture cancel with the session so ending it releases the device.
func (a *app) track(name string, cancel func()) {
	untrack := a.client.Track(name, cancel)
	a.mu.Lock()
	a.untrack[name] = untrack
	a.mu.Unlock()
}

func (a *app) release(name string) {
	a.mu.Lock()
	untrack := a.untrack[name]
	delete(a.untrack, name)
	a.mu.Unlock()
	if untrack != nil {
		untrack()
	}
}

func (a *app) printEmergency(notice string) {
	bar := strings.Repeat("!", 60)
	a.printf("\n%s\n  DANGER SIGNS DETECTED\n  %s\n  Seek emergency care or call your local emergency number now.\n%s\n",
		bar, strings.ReplaceAll(notice, "\n", "\n  "), bar)
}

func (a *app) render(transcript []types.Message) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.printer.render(a.out, transcript)
}

func (a *app) println(s string) {
	a.printf("%s\n", s)
}

func (a *app) printf(format string, args ...any) {
	a.mu.Lock()
	defer a.mu.Unlock()
	fmt.Fprintf(a.out, format, args...)
}
