package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// RedisTransport Redis 传输
//
// 约定：发布端 SET path 当前值，并 PUBLISH path 同样的载荷。
// 订阅端先 SUBSCRIBE 再 GET，避免两步之间的变更丢失。
type RedisTransport struct {
	client     *redis.Client
	logger     *zap.Logger
	retryDelay time.Duration
}

// NewRedisTransport 创建 Redis 传输
func NewRedisTransport(client *redis.Client, logger *zap.Logger) *RedisTransport {
	return &RedisTransport{
		client:     client,
		logger:     logger,
		retryDelay: 2 * time.Second,
	}
}

// Name 传输名称
func (t *RedisTransport) Name() string { return "redis" }

// Watch 订阅 path 频道并读取当前值
func (t *RedisTransport) Watch(path string, onValue func(json.RawMessage), onError func(error)) (func(), error) {
	ctx, cancel := context.WithCancel(context.Background())

	pubsub := t.client.Subscribe(ctx, path)
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		cancel()
		return nil, fmt.Errorf("failed to subscribe to channel %s: %w", path, err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		t.run(ctx, path, pubsub, onValue, onError)
	}()

	return func() {
		cancel()
		pubsub.Close()
		<-done
	}, nil
}

func (t *RedisTransport) run(ctx context.Context, path string, pubsub *redis.PubSub, onValue func(json.RawMessage), onError func(error)) {
	needSnapshot := true

	for {
		// 首次以及每次错误恢复后，先补发一次当前值
		if needSnapshot {
			value, err := t.currentValue(ctx, path)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				onError(err)
				if !t.sleep(ctx) {
					return
				}
				continue
			}
			onValue(value)
			needSnapshot = false
		}

		msg, err := pubsub.ReceiveMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, redis.ErrClosed) {
				return
			}
			t.logger.Warn("Redis subscription interrupted", zap.String("channel", path), zap.Error(err))
			onError(fmt.Errorf("redis subscription interrupted: %w", err))
			needSnapshot = true
			if !t.sleep(ctx) {
				return
			}
			continue
		}
		onValue(normalizePayload([]byte(msg.Payload)))
	}
}

func (t *RedisTransport) currentValue(ctx context.Context, path string) (json.RawMessage, error) {
	val, err := t.client.Get(ctx, path).Result()
	if err == redis.Nil {
		return json.RawMessage("null"), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get current value of %s: %w", path, err)
	}
	return normalizePayload([]byte(val)), nil
}

func (t *RedisTransport) sleep(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(t.retryDelay):
		return true
	}
}
