package nonce

import "time"

type options struct {
	window time.Duration
	now    func() time.Time
}

// Option configures a ledger.
type Option func(*options)

// WithWindow sets the replay window. Non-positive values keep DefaultWindow.
func WithWindow(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.window = d
		}
	}
}

// WithClock overrides the time source used for compaction and TTLs.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

func newOptions(opts []Option) options {
	o := options{window: DefaultWindow, now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
