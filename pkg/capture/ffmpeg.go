package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/parthfloyd/la-hacks/pkg/core/live"
)

// FFmpeg opens microphone and camera devices by running ffmpeg and reading its stdout.
type FFmpeg struct {
	// Binary defaults to "ffmpeg" on PATH.
	Binary string
	// GOOS defaults to runtime.GOOS.
	GOOS string
	// AudioInput and VideoInput override the platform default device.
	AudioInput string
	VideoInput string
	Format     live.Format
	// StartTimeout bounds how long the microphone may take to produce its first
	// samples. Defaults to DefaultStartTimeout.
	StartTimeout time.Duration
}

const DefaultStartTimeout = 5 * time.Second

func (f FFmpeg) binary() string {
	if strings.TrimSpace(f.Binary) != "" {
		return f.Binary
	}
	return "ffmpeg"
}

func (f FFmpeg) goos() string {
	if f.GOOS != "" {
		return f.GOOS
	}
	return runtime.GOOS
}

func (f FFmpeg) format() live.Format {
	if f.Format.SampleRate > 0 {
		return f.Format
	}
	return live.MicFormat()
}

// Check reports whether the ffmpeg binary is available.
func (f FFmpeg) Check() error {
	if _, err := exec.LookPath(f.binary()); err != nil {
		return fmt.Errorf("%s is required for media capture (install ffmpeg and ensure it is in PATH)", f.binary())
	}
	return nil
}

func (f FFmpeg) startTimeout() time.Duration {
	if f.StartTimeout > 0 {
		return f.StartTimeout
	}
	return DefaultStartTimeout
}

// Microphone returns an Opener streaming raw PCM in Format. Open returns only once
// the first samples arrive, so a denied or missing microphone fails the open.
func (f FFmpeg) Microphone() Opener {
	return ffmpegOpener{
		ffmpeg: f,
		args:   func() ([]string, error) { return MicArgs(f.goos(), f.AudioInput, f.format()) },
		prime:  f.startTimeout(),
	}
}

// Camera returns an Opener producing exactly one JPEG frame per Open.
func (f FFmpeg) Camera() Opener {
	return ffmpegOpener{ffmpeg: f, args: func() ([]string, error) { return FrameArgs(f.goos(), f.VideoInput) }}
}

// MicArgs returns the ffmpeg arguments recording s16le PCM from the default microphone.
func MicArgs(goos, input string, format live.Format) ([]string, error) {
	var in []string
	switch goos {
	case "darwin":
		in = []string{"-f", "avfoundation", "-i", or(input, ":0")}
	case "linux":
		in = []string{"-f", "pulse", "-i", or(input, "default")}
	case "windows":
		if input == "" {
			return nil, errors.New("set an audio input device name for dshow capture on windows")
		}
		in = []string{"-f", "dshow", "-i", "audio=" + input}
	default:
		return nil, fmt.Errorf("microphone capture is not implemented for %s; supported platforms: darwin, linux, windows", goos)
	}
	args := []string{"-hide_banner", "-loglevel", "error"}
	args = append(args, in...)
	return append(args,
		"-ac", fmt.Sprint(format.Channels),
		"-ar", fmt.Sprint(format.SampleRate),
		"-f", "s16le", "-",
	), nil
}

// FrameArgs returns the ffmpeg arguments grabbing one JPEG from the default camera.
func FrameArgs(goos, input string) ([]string, error) {
	var in []string
	switch goos {
	case "darwin":
		in = []string{"-f", "avfoundation", "-framerate", "30", "-i", or(input, "0")}
	case "linux":
		in = []string{"-f", "v4l2", "-i", or(input, "/dev/video0")}
	case "windows":
		if input == "" {
			return nil, errors.New("set a video input device name for dshow capture on windows")
		}
		in = []string{"-f", "dshow", "-i", "video=" + input}
	default:
		return nil, fmt.Errorf("camera capture is not implemented for %s; supported platforms: darwin, linux, windows", goos)
	}
	args := []string{"-hide_banner", "-loglevel", "error"}
	args = append(args, in...)
	return append(args,
		"-frames:v", "1",
		"-q:v", "5",
		"-f", "image2pipe", "-vcodec", "mjpeg", "-",
	), nil
}

func or(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

type ffmpegOpener struct {
	ffmpeg FFmpeg
	args   func() ([]string, error)
	prime  time.Duration
}

func (o ffmpegOpener) Check() error {
	return o.ffmpeg.Check()
}

func (o ffmpegOpener) Open(ctx context.Context) (Handle, error) {
	if err := o.ffmpeg.Check(); err != nil {
		return nil, err
	}
	args, err := o.args()
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cmd := exec.Command(o.ffmpeg.binary(), args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("open ffmpeg stdout: %w", err)
	}
	stderr := &tailBuffer{max: 4096}
	cmd.Stderr = stderr
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start ffmpeg: %w", err)
	}
	h := &ffmpegHandle{cmd: cmd, stdout: stdout, stderr: stderr}
	if o.prime > 0 {
		if err := h.awaitFirst(ctx, o.prime); err != nil {
			_ = h.Close()
			return nil, err
		}
	}
	return h, nil
}

// ffmpegHandle is a running ffmpeg process. Close kills it and waits.
type ffmpegHandle struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser
	stderr *tailBuffer

	closeOnce sync.Once
	waitOnce  sync.Once
	waitErr   error

	mu     sync.Mutex
	closed bool

	// head holds bytes read by awaitFirst, returned before further reads.
	head    []byte
	headErr error
}

// awaitFirst blocks until ffmpeg writes its first bytes. An early exit or timeout fails it.
func (h *ffmpegHandle) awaitFirst(ctx context.Context, timeout time.Duration) error {
	type result struct {
		n   int
		err error
	}
	buf := make([]byte, 4096)
	ch := make(chan result, 1)
	go func() {
		n, err := h.read(buf)
		ch <- result{n, err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case r := <-ch:
		if r.n > 0 {
			h.head, h.headErr = buf[:r.n], r.err
			return nil
		}
		if r.err == nil || errors.Is(r.err, io.EOF) {
			return errors.New("ffmpeg exited without producing data")
		}
		return r.err
	case <-timer.C:
		return fmt.Errorf("ffmpeg produced no data within %s", timeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *ffmpegHandle) wait() error {
	h.waitOnce.Do(func() { h.waitErr = h.cmd.Wait() })
	return h.waitErr
}

func (h *ffmpegHandle) Read(p []byte) (int, error) {
	if len(h.head) > 0 {
		n := copy(p, h.head)
		h.head = h.head[n:]
		return n, nil
	}
	if h.headErr != nil {
		err := h.headErr
		h.headErr = nil
		return 0, err
	}
	return h.read(p)
}

func (h *ffmpegHandle) read(p []byte) (int, error) {
	n, err := h.stdout.Read(p)
	if errors.Is(err, io.EOF) {
		h.mu.Lock()
		closed := h.closed
		h.mu.Unlock()
		if !closed {
			if werr := h.wait(); werr != nil {
				if msg := strings.TrimSpace(h.stderr.String()); msg != "" {
					return n, fmt.Errorf("ffmpeg: %s: %w", msg, werr)
				}
				return n, fmt.Errorf("ffmpeg: %w", werr)
			}
		}
	}
	return n, err
}

func (h *ffmpegHandle) Close() error {
	h.closeOnce.Do(func() {
		h.mu.Lock()
		h.closed = true
		h.mu.Unlock()
		if h.cmd.Process != nil {
			_ = h.cmd.Process.Kill()
		}
		_ = h.wait()
	})
	return nil
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
	max int
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf.Write(p)
	if over := t.buf.Len() - t.max; over > 0 {
		t.buf.Next(over)
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.buf.String()
}
