package dedupe

import "time"

// Option applies a configuration option to the in-memory deduper.
type Option func(*inMemoryDeduper)

// WithMaxSize sets the maximum number of IDs to keep in memory.
// If maxSize > 0 the oldest id is evicted once the limit is reached.
// If maxSize <= 0 there is no size limit.
func WithMaxSize(maxSize int) Option {
	return func(d *inMemoryDeduper) {
		d.maxSize = maxSize
	}
}

// WithTTL forgets ids after ttl. Zero keeps them until evicted by size.
func WithTTL(ttl time.Duration) Option {
	return func(d *inMemoryDeduper) {
		if ttl >= 0 {
			d.ttl = ttl
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(d *inMemoryDeduper) {
		if now != nil {
			d.now = now
		}
	}
}

// RedisOption applies a configuration option to the Redis deduper.
type RedisOption func(*redisDeduper)

// WithKeyPrefix namespaces the keys written to Redis.
func WithKeyPrefix(prefix string) RedisOption {
	return func(d *redisDeduper) {
		if prefix != "" {
			d.prefix = prefix
		}
	}
}

// WithRedisTTL sets how long a batch id is remembered.
func WithRedisTTL(ttl time.Duration) RedisOption {
	return func(d *redisDeduper) {
		if ttl > 0 {
			d.ttl = ttl
		}
	}
}
