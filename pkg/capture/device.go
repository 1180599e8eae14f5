// Package capture adapts microphone, camera and file inputs into opaque payloads for a
// live session. Devices sit behind Opener so the adapters can be driven by fakes.
package capture

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/parthfloyd/la-hacks/pkg/core/live"
)

// Device names used in DeviceUnavailableError.
const (
	DeviceMicrophone = "microphone"
	DeviceCamera     = "camera"
	DeviceFile       = "file"
)

var (
	// ErrNotCapturing is returned by Finish when no recording is running.
	ErrNotCapturing = errors.New("capture is not running")
	// ErrNoAudio is returned by Finish when the recording holds no samples.
	ErrNoAudio = errors.New("no audio captured")
)

// Handle is an acquired device stream. Close must release the device even when a
// read is blocked, and may be called more than once.
type Handle interface {
	io.Reader
	Close() error
}

// Opener acquires a device. An Opener that fails may still return a partially acquired
// handle; the adapters close it before reporting the error.
type Opener interface {
	Open(ctx context.Context) (Handle, error)
}

// OpenerFunc adapts a function to Opener.
type OpenerFunc func(ctx context.Context) (Handle, error)

func (f OpenerFunc) Open(ctx context.Context) (Handle, error) {
	return f(ctx)
}

// Checker is implemented by openers that can tell up front whether their device exists.
type Checker interface {
	Check() error
}

func checkOpener(device string, o Opener) error {
	if o == nil {
		return errors.New(device + " is not configured")
	}
	if c, ok := o.(Checker); ok {
		return c.Check()
	}
	return nil
}

type options struct {
	logger        *slog.Logger
	now           func() time.Time
	format        live.Format
	maxDuration   time.Duration
	frameInterval time.Duration
	maxFrameBytes int64
	maxFileBytes  int64
}

// Option configures an adapter. Options that do not apply to an adapter are ignored.
type Option func(*options)

func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithClock overrides time.Now for elapsed-time reporting.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithFormat sets the PCM format the microphone handle produces.
func WithFormat(f live.Format) Option {
	return func(o *options) { o.format = f }
}

// WithMaxDuration caps a recording. Zero keeps everything.
func WithMaxDuration(d time.Duration) Option {
	return func(o *options) { o.maxDuration = d }
}

// WithFrameInterval sets the gap between streamed frames.
func WithFrameInterval(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.frameInterval = d
		}
	}
}

// WithMaxFileBytes caps uploaded file size.
func WithMaxFileBytes(n int64) Option {
	return func(o *options) {
		if n > 0 {
			o.maxFileBytes = n
		}
	}
}

const (
	DefaultFrameInterval = time.Second
	DefaultMaxDuration   = 5 * time.Minute
	defaultMaxFrameBytes = 8 << 20
	DefaultMaxFileBytes  = 20 << 20
)

func buildOptions(opts []Option) options {
	o := options{
		logger:        slog.Default(),
		now:           time.Now,
		format:        live.MicFormat(),
		maxDuration:   DefaultMaxDuration,
		frameInterval: DefaultFrameInterval,
		maxFrameBytes: defaultMaxFrameBytes,
		maxFileBytes:  DefaultMaxFileBytes,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
