package dedupe

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultRedisPrefix = "stresstrack:batch:"
	defaultRedisTTL    = 24 * time.Hour
)

// redisDeduper shares seen batch ids across server replicas using SET NX.
type redisDeduper struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedisDeduper creates a Deduper backed by client.
func NewRedisDeduper(client redis.UniversalClient, opts ...RedisOption) Deduper {
	d := &redisDeduper{
		client: client,
		prefix: defaultRedisPrefix,
		ttl:    defaultRedisTTL,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *redisDeduper) key(id string) string {
	return d.prefix + id
}

func (d *redisDeduper) SeenAndRecord(ctx context.Context, id string) (bool, error) {
	recorded, err := d.client.SetNX(ctx, d.key(id), "1", d.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("record batch %s: %w", id, err)
	}
	return !recorded, nil
}

func (d *redisDeduper) Unrecord(ctx context.Context, id string) error {
	if err := d.client.Del(ctx, d.key(id)).Err(); err != nil {
		return fmt.Errorf("unrecord batch %s: %w", id, err)
	}
	return nil
}

// Size counts tracked ids with SCAN. It walks the keyspace, so it is meant
// for the stats endpoint only. Returns -1 if Redis cannot be reached.
func (d *redisDeduper) Size(ctx context.Context) int64 {
	var n int64
	iter := d.client.Scan(ctx, 0, d.prefix+"*", 500).Iterator()
	for iter.Next(ctx) {
		n++
	}
	if iter.Err() != nil {
		return -1
	}
	return n
}
