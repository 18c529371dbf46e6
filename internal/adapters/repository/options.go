package repository

import "time"

const defaultBusyTimeout = 5 * time.Second

type options struct {
	clock       func() time.Time
	busyTimeout time.Duration
}

func newOptions(opts []Option) options {
	o := options{clock: time.Now, busyTimeout: defaultBusyTimeout}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Option configures a store.
type Option func(*options)

// WithClock sets the clock used to stamp when events were recorded. The
// sweeper's watermark is compared against these stamps.
func WithClock(clock func() time.Time) Option {
	return func(o *options) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// WithBusyTimeout sets how long SQLite waits on a locked database.
func WithBusyTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.busyTimeout = d
		}
	}
}
