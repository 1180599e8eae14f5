package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/parthfloyd/la-hacks/pkg/core"
	"github.com/parthfloyd/la-hacks/pkg/core/types"
)

// Frame grabs still JPEG frames from a camera, once or periodically.
type Frame struct {
	opener  Opener
	deliver func(types.Payload)
	opts    options

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewFrame returns a camera adapter. deliver receives every streamed frame.
func NewFrame(opener Opener, deliver func(types.Payload), opts ...Option) *Frame {
	return &Frame{opener: opener, deliver: deliver, opts: buildOptions(opts)}
}

// CapabilityCheck reports whether a camera can be opened at all.
func (f *Frame) CapabilityCheck() error {
	if err := checkOpener(DeviceCamera, f.opener); err != nil {
		return core.NewDeviceUnavailableError(DeviceCamera, err)
	}
	return nil
}

// Snapshot grabs one frame. The camera is held only for the duration of the call, and
// cancelling ctx closes it even while a read is blocked.
func (f *Frame) Snapshot(ctx context.Context) (types.Payload, error) {
	if f.opener == nil {
		return types.Payload{}, core.NewDeviceUnavailableError(DeviceCamera, errors.New("camera is not configured"))
	}
	h, err := f.opener.Open(ctx)
	if err != nil {
		if h != nil {
			_ = h.Close()
		}
		return types.Payload{}, core.NewDeviceUnavailableError(DeviceCamera, err)
	}
	defer h.Close()
	stop := context.AfterFunc(ctx, func() { _ = h.Close() })
	defer stop()

	data, err := io.ReadAll(io.LimitReader(h, f.opts.maxFrameBytes+1))
	switch {
	case ctx.Err() != nil:
		return types.Payload{}, core.NewDeviceUnavailableError(DeviceCamera, ctx.Err())
	case err != nil:
		return types.Payload{}, core.NewDeviceUnavailableError(DeviceCamera, err)
	case len(data) == 0:
		return types.Payload{}, core.NewDeviceUnavailableError(DeviceCamera, errors.New("camera produced no frame"))
	case int64(len(data)) > f.opts.maxFrameBytes:
		return types.Payload{}, core.NewDeviceUnavailableError(DeviceCamera, fmt.Errorf("frame exceeds %d bytes", f.opts.maxFrameBytes))
	}
	return types.Payload{Data: data, MIMEType: "image/jpeg", Modality: types.ModalityVideo}, nil
}

// Begin starts streaming a frame every interval. The first frame is grabbed before
// Begin returns so a missing camera surfaces as an error. Begin while streaming is a
// no-op.
func (f *Frame) Begin(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cancel != nil {
		return nil
	}

	first, err := f.Snapshot(ctx)
	if err != nil {
		return err
	}
	if f.deliver != nil {
		f.deliver(first)
	}

	streamCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	f.cancel, f.done = cancel, done
	go f.stream(streamCtx, done)
	f.opts.logger.Debug("camera streaming started", "interval", f.opts.frameInterval)
	return nil
}

func (f *Frame) stream(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(f.opts.frameInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p, err := f.Snapshot(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				f.opts.logger.Warn("camera frame failed", "error", err)
				continue
			}
			if ctx.Err() != nil {
				return
			}
			if f.deliver != nil {
				f.deliver(p)
			}
		}
	}
}

// Streaming reports whether periodic capture is running.
func (f *Frame) Streaming() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cancel != nil
}

// Cancel stops streaming and waits for the camera to be released.
func (f *Frame) Cancel() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cancel == nil {
		return
	}
	f.cancel()
	<-f.done
	f.cancel, f.done = nil, nil
	f.opts.logger.Debug("camera streaming stopped")
}
