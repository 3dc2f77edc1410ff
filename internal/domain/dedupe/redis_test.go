package dedupe_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dedupe "github.com/okian/stresstrack/internal/domain/dedupe"
)

func newRedisDeduper(t *testing.T, opts ...dedupe.RedisOption) (dedupe.Deduper, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return dedupe.NewRedisDeduper(client, opts...), mr
}

func TestRedisDeduper_SeenAndRecord(t *testing.T) {
	ctx := context.Background()
	d, mr := newRedisDeduper(t, dedupe.WithKeyPrefix("test:"))

	dup, err := d.SeenAndRecord(ctx, "batch-1")
	require.NoError(t, err)
	assert.False(t, dup)
	assert.True(t, mr.Exists("test:batch-1"))

	dup, err = d.SeenAndRecord(ctx, "batch-1")
	require.NoError(t, err)
	assert.True(t, dup)

	assert.Equal(t, int64(1), d.Size(ctx))
}

func TestRedisDeduper_Unrecord(t *testing.T) {
	ctx := context.Background()
	d, mr := newRedisDeduper(t)

	_, err := d.SeenAndRecord(ctx, "batch-1")
	require.NoError(t, err)
	require.NoError(t, d.Unrecord(ctx, "batch-1"))
	assert.False(t, mr.Exists("stresstrack:batch:batch-1"))

	dup, err := d.SeenAndRecord(ctx, "batch-1")
	require.NoError(t, err)
	assert.False(t, dup)
}

func TestRedisDeduper_TTL(t *testing.T) {
	ctx := context.Background()
	d, mr := newRedisDeduper(t, dedupe.WithRedisTTL(time.Minute))

	_, err := d.SeenAndRecord(ctx, "batch-1")
	require.NoError(t, err)
	assert.Equal(t, time.Minute, mr.TTL("stresstrack:batch:batch-1"))

	mr.FastForward(2 * time.Minute)

	dup, err := d.SeenAndRecord(ctx, "batch-1")
	require.NoError(t, err)
	assert.False(t, dup, "expired ids are forgotten")
}

func TestRedisDeduper_Unavailable(t *testing.T) {
	ctx := context.Background()
	d, mr := newRedisDeduper(t)
	mr.Close()

	_, err := d.SeenAndRecord(ctx, "batch-1")
	assert.Error(t, err)
	assert.Error(t, d.Unrecord(ctx, "batch-1"))
	assert.Equal(t, int64(-1), d.Size(ctx))
}
