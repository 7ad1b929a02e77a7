package service

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Akshita1414/Taarini/common/database"
	mqttcommon "github.com/Akshita1414/Taarini/common/mqtt"
	rediscommon "github.com/Akshita1414/Taarini/common/redis"
	"github.com/Akshita1414/Taarini/internal/config"
	"github.com/Akshita1414/Taarini/internal/store"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// infra 外部连接（按配置需要建立）
type infra struct {
	db          *sql.DB
	redisClient *redis.Client
	mqttClient  *mqttcommon.Client
	logger      *zap.Logger
}

type needs struct {
	database bool
	redis    bool
	mqtt     bool
}

func connect(ctx context.Context, cfg *config.Config, n needs, logger *zap.Logger) (*infra, error) {
	inf := &infra{logger: logger}

	// 1. 连接数据库
	if n.database {
		db, err := database.NewPostgresDB(ctx, &cfg.Database)
		if err != nil {
			return nil, err
		}
		inf.db = db
	}

	// 2. 连接 Redis
	if n.redis {
		client := rediscommon.NewRedisClient(&cfg.Redis)
		if err := rediscommon.Ping(ctx, client); err != nil {
			client.Close()
			inf.close()
			return nil, err
		}
		inf.redisClient = client
	}

	// 3. 连接 MQTT
	if n.mqtt {
		client, err := mqttcommon.NewClient(&cfg.MQTT, logger)
		if err != nil {
			inf.close()
			return nil, err
		}
		inf.mqttClient = client
	}

	return inf, nil
}

func (i *infra) close() {
	if i.mqttClient != nil {
		i.mqttClient.Disconnect()
	}
	if err := rediscommon.Close(i.redisClient); err != nil {
		i.logger.Error("Failed to close redis", zap.Error(err))
	}
	if err := database.Close(i.db); err != nil {
		i.logger.Error("Failed to close database", zap.Error(err))
	}
}

// openResultKV 按 CACHE_BACKEND 创建分析结果存储；返回的 closer 可能为 nil
func openResultKV(ctx context.Context, cfg *config.Config, inf *infra) (store.KV, func() error, error) {
	switch cfg.Cache.Backend {
	case config.CacheBackendPebble:
		kv, err := store.OpenPebbleKV(cfg.Cache.Dir)
		if err != nil {
			return nil, nil, err
		}
		return kv, kv.Close, nil
	case config.CacheBackendRedis:
		return store.NewRedisKV(inf.redisClient), nil, nil
	case config.CacheBackendPostgres:
		kv := store.NewPostgresKV(inf.db)
		if err := kv.EnsureSchema(ctx); err != nil {
			return nil, nil, err
		}
		return kv, nil, nil
	case config.CacheBackendMemory:
		return store.NewMemoryKV(), nil, nil
	default:
		return nil, nil, fmt.Errorf("unsupported cache backend: %s", cfg.Cache.Backend)
	}
}
