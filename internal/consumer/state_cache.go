package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// ErrStateNotFound 缓存中没有运行状态
var ErrStateNotFound = errors.New("live state not found")

// StateCache Redis 运行状态缓存
//
// 键为 {prefix}state，值为 LiveSnapshot 的 JSON，带 TTL，数据流长时间无更新时自然过期。
type StateCache struct {
	redisClient *redis.Client
	prefix      string
	ttl         time.Duration
	logger      *zap.Logger
}

// NewStateCache 创建状态缓存
func NewStateCache(redisClient *redis.Client, prefix string, ttl time.Duration, logger *zap.Logger) *StateCache {
	return &StateCache{
		redisClient: redisClient,
		prefix:      prefix,
		ttl:         ttl,
		logger:      logger,
	}
}

// Key 缓存键
func (c *StateCache) Key() string {
	return c.prefix + "state"
}

// SaveState 写入运行状态
func (c *StateCache) SaveState(ctx context.Context, snapshot LiveSnapshot) error {
	jsonData, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal live state: %w", err)
	}

	if err := c.redisClient.Set(ctx, c.Key(), jsonData, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set live state cache: %w", err)
	}

	c.logger.Debug("Updated live state cache",
		zap.String("key", c.Key()),
		zap.Uint64("revision", snapshot.State.Revision),
		zap.String("alert_level", string(snapshot.Assessment.Level)),
	)
	return nil
}

// GetState 读取运行状态
func (c *StateCache) GetState(ctx context.Context) (*LiveSnapshot, error) {
	val, err := c.redisClient.Get(ctx, c.Key()).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrStateNotFound
		}
		return nil, fmt.Errorf("failed to get live state cache: %w", err)
	}

	var snapshot LiveSnapshot
	if err := json.Unmarshal([]byte(val), &snapshot); err != nil {
		return nil, fmt.Errorf("failed to unmarshal live state: %w", err)
	}
	return &snapshot, nil
}
