// Package cache 以成员对为键缓存私聊房间（cache-aside）。
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"livechat/internal/metrics"
	"livechat/internal/models"

	"github.com/redis/go-redis/v9"
)

// RoomCache 按 pair key 读写完整的私聊房间，命中时无需访问数据库。
type RoomCache interface {
	GetDirectRoom(ctx context.Context, pairKey string) (*models.DirectRoom, bool, error)
	SetDirectRoom(ctx context.Context, room *models.DirectRoom) error
}

// entry 是缓存中的房间快照；DirectRoom 的成员列在 JSON 输出中是隐藏的。
type entry struct {
	ID        string    `json:"id"`
	MemberA   string    `json:"member_a"`
	MemberB   string    `json:"member_b"`
	PairKey   string    `json:"pair_key"`
	CreatedAt time.Time `json:"created_at"`
}

func (e entry) room() *models.DirectRoom {
	return &models.DirectRoom{
		ID:        e.ID,
		MemberA:   e.MemberA,
		MemberB:   e.MemberB,
		PairKey:   e.PairKey,
		Members:   []string{e.MemberA, e.MemberB},
		CreatedAt: e.CreatedAt,
	}
}

type Redis struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedis 创建 Redis 房间缓存，键为 prefix+pairKey。
func NewRedis(client *redis.Client, prefix string, ttl time.Duration) *Redis {
	return &Redis{client: client, prefix: prefix, ttl: ttl}
}

// Dial 连接 addr 并用 PING 校验。
func Dial(ctx context.Context, addr string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return client, nil
}

func (c *Redis) GetDirectRoom(ctx context.Context, pairKey string) (*models.DirectRoom, bool, error) {
	data, err := c.client.Get(ctx, c.prefix+pairKey).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			metrics.RoomCacheTotal.WithLabelValues("miss").Inc()
			return nil, false, nil
		}
		metrics.RoomCacheTotal.WithLabelValues("error").Inc()
		return nil, false, fmt.Errorf("cache get: %w", err)
	}
	var e entry
	if err := json.Unmarshal(data, &e); err != nil {
		metrics.RoomCacheTotal.WithLabelValues("error").Inc()
		return nil, false, fmt.Errorf("cache decode: %w", err)
	}
	metrics.RoomCacheTotal.WithLabelValues("hit").Inc()
	return e.room(), true, nil
}

func (c *Redis) SetDirectRoom(ctx context.Context, room *models.DirectRoom) error {
	data, err := json.Marshal(entry{
		ID:        room.ID,
		MemberA:   room.MemberA,
		MemberB:   room.MemberB,
		PairKey:   room.PairKey,
		CreatedAt: room.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("cache encode: %w", err)
	}
	if err := c.client.Set(ctx, c.prefix+room.PairKey, data, c.ttl).Err(); err != nil {
		metrics.RoomCacheTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("cache set: %w", err)
	}
	metrics.RoomCacheTotal.WithLabelValues("set").Inc()
	return nil
}

// Noop 永不命中，未配置 Redis 时使用。
type Noop struct{}

func (Noop) GetDirectRoom(context.Context, string) (*models.DirectRoom, bool, error) {
	return nil, false, nil
}

func (Noop) SetDirectRoom(context.Context, *models.DirectRoom) error { return nil }
