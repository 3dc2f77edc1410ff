package observer

import (
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/okian/stresstrack/pkg/logger"
)

// Defaults for a page observer.
const (
	DefaultFlushInterval  = 5 * time.Second
	DefaultSampleInterval = 50 * time.Millisecond
	DefaultMaxSamples     = 2000
	DefaultMaxAttempts    = 5
)

// Option configures an Observer.
type Option func(*Observer)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(o *Observer) {
		if now != nil {
			o.now = now
		}
	}
}

// WithFlushInterval sets how often Run flushes the window.
func WithFlushInterval(d time.Duration) Option {
	return func(o *Observer) {
		if d > 0 {
			o.flushInterval = d
		}
	}
}

// WithSampleInterval keeps at most one mouse sample per d. Zero keeps every sample.
func WithSampleInterval(d time.Duration) Option {
	return func(o *Observer) {
		if d >= 0 {
			o.sampleInterval = d
		}
	}
}

// WithMaxSamples caps mouse samples per window.
func WithMaxSamples(n int) Option {
	return func(o *Observer) {
		if n > 0 {
			o.maxSamples = n
		}
	}
}

// WithMaxAttempts bounds deliveries of one batch, the first included.
func WithMaxAttempts(n int) Option {
	return func(o *Observer) {
		if n > 0 {
			o.maxAttempts = n
		}
	}
}

// WithBackOff sets the retry delay policy. A fresh policy is built per batch.
func WithBackOff(newBackOff func() backoff.BackOff) Option {
	return func(o *Observer) {
		if newBackOff != nil {
			o.newBackOff = newBackOff
		}
	}
}

// WithIDGenerator overrides batch id generation.
func WithIDGenerator(newID func() string) Option {
	return func(o *Observer) {
		if newID != nil {
			o.newID = newID
		}
	}
}

// WithLogger sets the observer logger.
func WithLogger(l logger.Logger) Option {
	return func(o *Observer) {
		if l != nil {
			o.logger = l
		}
	}
}

func defaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.MaxInterval = time.Minute
	b.MaxElapsedTime = 0
	return b
}
