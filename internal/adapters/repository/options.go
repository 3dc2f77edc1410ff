package repository

import "time"

const (
	defaultMovementCap = 5000
	defaultTimeout     = 5 * time.Second
)

type settings struct {
	movementCap int
	timeout     time.Duration
	now         func() time.Time
}

func newSettings(opts []Option) settings {
	s := settings{
		movementCap: defaultMovementCap,
		timeout:     defaultTimeout,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

// Option applies a configuration option to a Store.
type Option func(*settings)

// WithMovementCap keeps only the newest n mouse samples per document.
// Zero keeps every sample.
func WithMovementCap(n int) Option {
	return func(s *settings) {
		if n >= 0 {
			s.movementCap = n
		}
	}
}

// WithTimeout bounds each MongoDB operation.
func WithTimeout(d time.Duration) Option {
	return func(s *settings) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithClock overrides the source of createdAt/updatedAt timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *settings) {
		if now != nil {
			s.now = now
		}
	}
}
