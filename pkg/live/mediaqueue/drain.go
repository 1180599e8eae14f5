package mediaqueue

import (
	"context"
	"errors"
	"time"

	"golang.org/x/time/rate"
)

// DefaultSendInterval is the minimum gap between two queued sends.
const DefaultSendInterval = 300 * time.Millisecond

// Drainer sends queued items one at a time, never closer together than its interval.
type Drainer[T any] struct {
	queue   *Queue[T]
	limiter *rate.Limiter
	send    func(context.Context, T) error
	onError func(T, error)
}

// NewDrainer paces q through send. interval <= 0 uses DefaultSendInterval.
func NewDrainer[T any](q *Queue[T], interval time.Duration, send func(context.Context, T) error) *Drainer[T] {
	if interval <= 0 {
		interval = DefaultSendInterval
	}
	return &Drainer[T]{
		queue:   q,
		limiter: rate.NewLimiter(rate.Every(interval), 1),
		send:    send,
	}
}

// OnError registers a callback for failed sends. Draining continues after a failure.
func (d *Drainer[T]) OnError(fn func(T, error)) *Drainer[T] {
	d.onError = fn
	return d
}

// Run drains until ctx ends. It returns nil on cancellation.
func (d *Drainer[T]) Run(ctx context.Context) error {
	for {
		item, err := d.queue.Get(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return err
		}
		if err := d.limiter.Wait(ctx); err != nil {
			return nil
		}
		if err := d.send(ctx, item); err != nil && d.onError != nil {
			d.onError(item, err)
		}
	}
}
