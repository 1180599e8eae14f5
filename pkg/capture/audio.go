package capture

import (
	"context"
	"errors"
	"io"
	"os"
	"sync"
	"time"

	"github.com/parthfloyd/la-hacks/pkg/core"
	"github.com/parthfloyd/la-hacks/pkg/core/live"
	"github.com/parthfloyd/la-hacks/pkg/core/types"
)

// Audio records one microphone clip at a time and delivers it as WAV.
type Audio struct {
	opener  Opener
	deliver func(types.Payload)
	opts    options

	mu        sync.Mutex
	handle    Handle
	clip      *live.Clip
	startedAt time.Time
	done      chan error
}

// NewAudio returns a microphone adapter. deliver receives each finished clip.
func NewAudio(opener Opener, deliver func(types.Payload), opts ...Option) *Audio {
	return &Audio{opener: opener, deliver: deliver, opts: buildOptions(opts)}
}

// CapabilityCheck reports whether a microphone can be opened at all.
func (a *Audio) CapabilityCheck() error {
	if err := checkOpener(DeviceMicrophone, a.opener); err != nil {
		return core.NewDeviceUnavailableError(DeviceMicrophone, err)
	}
	return nil
}

// Begin starts recording. It is a no-op while a recording is running.
func (a *Audio) Begin(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.handle != nil {
		return nil
	}
	if a.opener == nil {
		return core.NewDeviceUnavailableError(DeviceMicrophone, errors.New("microphone is not configured"))
	}

	h, err := a.opener.Open(ctx)
	if err != nil {
		if h != nil {
			_ = h.Close()
		}
		return core.NewDeviceUnavailableError(DeviceMicrophone, err)
	}

	clip := live.NewClip(a.opts.format, a.opts.maxDuration)
	done := make(chan error, 1)
	a.handle, a.clip, a.done, a.startedAt = h, clip, done, a.opts.now()
	go func() {
		_, err := io.Copy(clip, h)
		done <- err
	}()
	a.opts.logger.Debug("microphone recording started")
	return nil
}

// Recording reports whether a clip is being captured.
func (a *Audio) Recording() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.handle != nil
}

// Elapsed returns how long the current recording has run.
func (a *Audio) Elapsed() time.Duration {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.handle == nil {
		return 0
	}
	return a.opts.now().Sub(a.startedAt)
}

// Level returns the RMS level of the last 200ms, for a recording meter.
func (a *Audio) Level() float64 {
	a.mu.Lock()
	clip := a.clip
	recording := a.handle != nil
	a.mu.Unlock()
	if !recording {
		return 0
	}
	return live.RMS(clip.Tail(200 * time.Millisecond))
}

// Finish stops recording, releases the microphone and delivers the clip.
func (a *Audio) Finish() error {
	h, clip, done, ok := a.stop()
	if !ok {
		return ErrNotCapturing
	}
	readErr := release(h, done)

	pcm := clip.Bytes()
	if len(pcm) == 0 {
		if readErr != nil {
			return core.NewDeviceUnavailableError(DeviceMicrophone, readErr)
		}
		return ErrNoAudio
	}
	if clip.Truncated() {
		a.opts.logger.Warn("microphone recording truncated", "max_duration", a.opts.maxDuration)
	}

	p := types.Payload{
		Data:     live.WAV(a.opts.format, pcm),
		MIMEType: "audio/wav",
		Modality: types.ModalityAudio,
		Duration: clip.Duration(),
	}
	a.opts.logger.Debug("microphone recording finished", "duration", p.Duration, "bytes", len(p.Data))
	if a.deliver != nil {
		a.deliver(p)
	}
	return nil
}

// Cancel stops recording and discards the clip. It is safe to call at any time.
func (a *Audio) Cancel() {
	h, clip, done, ok := a.stop()
	if !ok {
		return
	}
	_ = release(h, done)
	clip.Reset()
	a.opts.logger.Debug("microphone recording cancelled")
}

func (a *Audio) stop() (Handle, *live.Clip, chan error, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.handle == nil {
		return nil, nil, nil, false
	}
	h, clip, done := a.handle, a.clip, a.done
	a.handle, a.done = nil, nil
	return h, clip, done, true
}

// release closes h and waits for its reader. Errors caused by the close are dropped.
func release(h Handle, done chan error) error {
	_ = h.Close()
	err := <-done
	if err == nil || errors.Is(err, io.EOF) || errors.Is(err, os.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
		return nil
	}
	return err
}
