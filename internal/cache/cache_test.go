package cache

import (
	"context"
	"testing"
	"time"

	"livechat/internal/metrics"
	"livechat/internal/models"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 需要本地 6379 端口上的 Redis
const testRedisAddr = "localhost:6379"

func setupTestCache(t *testing.T) *Redis {
	t.Helper()

	client, err := Dial(context.Background(), testRedisAddr)
	if err != nil {
		t.Skipf("Redis not available at %s: %v", testRedisAddr, err)
	}
	t.Cleanup(func() { _ = client.Close() })

	// 唯一前缀，避免并行运行互相干扰
	return NewRedis(client, "test:"+uuid.NewString()+":", time.Minute)
}

func testRoom(a, b string) *models.DirectRoom {
	return &models.DirectRoom{
		ID:        uuid.NewString(),
		MemberA:   a,
		MemberB:   b,
		PairKey:   a + ":" + b,
		CreatedAt: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
}

func counter(result string) float64 {
	return testutil.ToFloat64(metrics.RoomCacheTotal.WithLabelValues(result))
}

func TestNoop(t *testing.T) {
	var c RoomCache = Noop{}
	require.NoError(t, c.SetDirectRoom(context.Background(), testRoom("alice", "bob")))

	room, ok, err := c.GetDirectRoom(context.Background(), "alice:bob")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, room)
}

func TestRedis_GetSet(t *testing.T) {
	c := setupTestCache(t)
	ctx := context.Background()
	hits, misses, sets := counter("hit"), counter("miss"), counter("set")

	_, ok, err := c.GetDirectRoom(ctx, "alice:bob")
	require.NoError(t, err)
	assert.False(t, ok)

	want := testRoom("alice", "bob")
	require.NoError(t, c.SetDirectRoom(ctx, want))

	got, ok, err := c.GetDirectRoom(ctx, "alice:bob")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, want.ID, got.ID)
	assert.Equal(t, "alice", got.MemberA)
	assert.Equal(t, "bob", got.MemberB)
	assert.Equal(t, "alice:bob", got.PairKey)
	assert.Equal(t, []string{"alice", "bob"}, got.Members)
	assert.True(t, want.CreatedAt.Equal(got.CreatedAt))

	assert.Equal(t, hits+1, counter("hit"))
	assert.Equal(t, misses+1, counter("miss"))
	assert.Equal(t, sets+1, counter("set"))
}

func TestRedis_CorruptEntry(t *testing.T) {
	c := setupTestCache(t)
	ctx := context.Background()
	require.NoError(t, c.client.Set(ctx, c.prefix+"alice:bob", "{not json", time.Minute).Err())

	_, ok, err := c.GetDirectRoom(ctx, "alice:bob")
	assert.Error(t, err)
	assert.False(t, ok)
}

func TestRedis_TTL(t *testing.T) {
	c := setupTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.SetDirectRoom(ctx, testRoom("carol", "dave")))
	ttl, err := c.client.TTL(ctx, c.prefix+"carol:dave").Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))
	assert.LessOrEqual(t, ttl, time.Minute)
}
