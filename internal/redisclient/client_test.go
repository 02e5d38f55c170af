package redisclient

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewFromClient(rdb), mr
}

func TestEventIdempotency(t *testing.T) {
	c, mr := newTestClient(t)
	ctx := context.Background()

	done, err := c.IsEventProcessed(ctx, "evt-1")
	require.NoError(t, err)
	assert.False(t, done)

	require.NoError(t, c.MarkEventProcessed(ctx, "evt-1", time.Hour))

	done, err = c.IsEventProcessed(ctx, "evt-1")
	require.NoError(t, err)
	assert.True(t, done)

	mr.FastForward(2 * time.Hour)

	done, err = c.IsEventProcessed(ctx, "evt-1")
	require.NoError(t, err)
	assert.False(t, done, "marker must expire with its TTL")
}

func TestLock(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()

	token, ok, err := c.AcquireLock(ctx, "evt-1", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NotEmpty(t, token)

	_, ok, err = c.AcquireLock(ctx, "evt-1", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.ReleaseLock(ctx, "evt-1", token))

	_, ok, err = c.AcquireLock(ctx, "evt-1", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestExpiredLockHolderCannotReleaseSuccessor(t *testing.T) {
	c, mr := newTestClient(t)
	ctx := context.Background()

	stale, ok, err := c.AcquireLock(ctx, "evt-1", time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(2 * time.Second)

	current, ok, err := c.AcquireLock(ctx, "evt-1", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, c.ReleaseLock(ctx, "evt-1", stale))
	got, err := mr.Get("lock:evt-1")
	require.NoError(t, err)
	assert.Equal(t, current, got)

	_, ok, err = c.AcquireLock(ctx, "evt-1", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "successor still holds the lock")

	require.NoError(t, c.ReleaseLock(ctx, "evt-1", current))
	assert.False(t, mr.Exists("lock:evt-1"))
}

func TestJSONRoundTrip(t *testing.T) {
	c, mr := newTestClient(t)
	ctx := context.Background()

	type entry struct {
		Name  string `json:"name"`
		Stock int    `json:"stock"`
	}

	var got entry
	assert.ErrorIs(t, c.GetJSON(ctx, "product:1", &got), ErrCacheMiss)

	require.NoError(t, c.SetJSON(ctx, "product:1", entry{Name: "mug", Stock: 3}, time.Minute))
	require.NoError(t, c.GetJSON(ctx, "product:1", &got))
	assert.Equal(t, entry{Name: "mug", Stock: 3}, got)
	assert.True(t, mr.Exists("product:1"))

	require.NoError(t, c.Delete(ctx, "product:1", "product:missing"))
	assert.False(t, mr.Exists("product:1"))
}
