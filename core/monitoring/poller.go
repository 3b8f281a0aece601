package monitoring

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrPollBoundExceeded is reported when a poll loop hits its duration or
// iteration bound before reaching a terminal state
var ErrPollBoundExceeded = errors.New("polling bound exceeded")

// PollConfig bounds a polling loop
type PollConfig struct {
	Interval      time.Duration
	MaxDuration   time.Duration // Zero means no duration bound
	MaxIterations int           // Zero means no iteration bound
}

// DefaultPollConfig polls every 5 seconds for at most 6 hours
func DefaultPollConfig() PollConfig {
	return PollConfig{
		Interval:      5 * time.Second,
		MaxDuration:   6 * time.Hour,
		MaxIterations: 5000,
	}
}

// Event is one element of a polled stream: either an observed value or the
// error that ended the stream
type Event[T any] struct {
	Value T
	Err   error
}

// Poll calls fetch immediately and then once per interval, sending every
// observation in order. The channel is closed after the first value for
// which done returns true, after a fetch error, after a bound is hit
// (reported as ErrPollBoundExceeded) or when ctx is cancelled.
func Poll[T any](ctx context.Context, cfg PollConfig, fetch func(context.Context) (T, error), done func(T) bool) <-chan Event[T] {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultPollConfig().Interval
	}
	out := make(chan Event[T])

	go func() {
		defer close(out)

		send := func(e Event[T]) bool {
			select {
			case out <- e:
				return true
			case <-ctx.Done():
				return false
			}
		}

		start := time.Now()
		ticker := time.NewTicker(cfg.Interval)
		defer ticker.Stop()

		for iteration := 1; ; iteration++ {
			value, err := fetch(ctx)
			if err != nil {
				if ctx.Err() == nil {
					send(Event[T]{Err: err})
				}
				return
			}
			if !send(Event[T]{Value: value}) || done(value) {
				return
			}

			if cfg.MaxIterations > 0 && iteration >= cfg.MaxIterations {
				send(Event[T]{Err: fmt.Errorf("%w: %d polls", ErrPollBoundExceeded, iteration)})
				return
			}
			if cfg.MaxDuration > 0 && time.Since(start)+cfg.Interval > cfg.MaxDuration {
				send(Event[T]{Err: fmt.Errorf("%w: %s elapsed", ErrPollBoundExceeded, time.Since(start).Round(time.Second))})
				return
			}

			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()

	return out
}

// Wait drains a poll stream and returns the last value. The error is the
// stream's terminal error, or ctx's error if the stream ended by cancellation.
func Wait[T any](ctx context.Context, events <-chan Event[T]) (T, error) {
	var last T
	for e := range events {
		if e.Err != nil {
			return last, e.Err
		}
		last = e.Value
	}
	return last, ctx.Err()
}
