package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Akshita1414/Taarini/internal/models"

	"go.uber.org/zap"
)

// envelopeVersion 持久化格式版本
const envelopeVersion = 1

type envelope struct {
	Version int                         `json:"version"`
	SavedAt time.Time                   `json:"saved_at"`
	Result  *models.VideoAnalysisResult `json:"result"`
}

// StorageError 结果缓存读写失败（非致命）
type StorageError struct {
	Op  string // persist / load / clear
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("result cache %s failed: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// ResultCache 最近一次视频分析结果的持久化缓存
//
// 单槽位、整体替换；Current 反映最近一次交付的结果，即使持久化失败也会更新。
type ResultCache struct {
	kv     KV
	key    string
	logger *zap.Logger
	now    func() time.Time

	mu      sync.RWMutex
	current *models.VideoAnalysisResult
	savedAt time.Time
}

// NewResultCache 创建结果缓存
func NewResultCache(kv KV, key string, logger *zap.Logger) *ResultCache {
	return &ResultCache{
		kv:     kv,
		key:    key,
		logger: logger,
		now:    time.Now,
	}
}

// Persist 写入结果
func (c *ResultCache) Persist(ctx context.Context, result *models.VideoAnalysisResult) error {
	if result == nil {
		return &StorageError{Op: "persist", Err: errors.New("nil result")}
	}

	savedAt := c.now().UTC()
	c.mu.Lock()
	c.current = result
	c.savedAt = savedAt
	c.mu.Unlock()

	data, err := json.Marshal(envelope{Version: envelopeVersion, SavedAt: savedAt, Result: result})
	if err != nil {
		return &StorageError{Op: "persist", Err: err}
	}
	if err := c.kv.Set(ctx, c.key, string(data), 0); err != nil {
		return &StorageError{Op: "persist", Err: err}
	}

	c.logger.Info("Analysis result persisted",
		zap.String("key", c.key),
		zap.String("video_id", result.VideoID),
		zap.Int("bytes", len(data)),
	)
	return nil
}

// Load 读取已持久化的结果；槽位为空返回 (nil, nil)
func (c *ResultCache) Load(ctx context.Context) (*models.VideoAnalysisResult, error) {
	raw, err := c.kv.Get(ctx, c.key)
	if err != nil {
		if errors.Is(err, ErrMiss) {
			return nil, nil
		}
		return nil, &StorageError{Op: "load", Err: err}
	}

	var env envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return nil, &StorageError{Op: "load", Err: fmt.Errorf("failed to decode cached result: %w", err)}
	}
	if env.Version != envelopeVersion {
		return nil, &StorageError{Op: "load", Err: fmt.Errorf("unsupported cache version %d", env.Version)}
	}
	if env.Result == nil {
		return nil, &StorageError{Op: "load", Err: errors.New("cached entry has no result")}
	}

	c.mu.Lock()
	if c.current == nil {
		c.current = env.Result
		c.savedAt = env.SavedAt
	}
	c.mu.Unlock()

	return env.Result, nil
}

// Restore 启动时恢复上次结果；读取失败按无缓存处理
func (c *ResultCache) Restore(ctx context.Context) *models.VideoAnalysisResult {
	result, err := c.Load(ctx)
	if err != nil {
		c.logger.Error("Failed to restore cached analysis result (non-fatal)",
			zap.String("key", c.key),
			zap.Error(err),
		)
		return nil
	}
	if result != nil {
		c.logger.Info("Restored cached analysis result",
			zap.String("key", c.key),
			zap.String("video_id", result.VideoID),
			zap.String("overall_status", string(result.OverallStatus)),
		)
	}
	return result
}

// Clear 删除缓存
func (c *ResultCache) Clear(ctx context.Context) error {
	if err := c.kv.Delete(ctx, c.key); err != nil {
		return &StorageError{Op: "clear", Err: err}
	}

	c.mu.Lock()
	c.current = nil
	c.savedAt = time.Time{}
	c.mu.Unlock()

	c.logger.Info("Analysis result cache cleared", zap.String("key", c.key))
	return nil
}

// Current 最近交付的结果及其保存时间
func (c *ResultCache) Current() (*models.VideoAnalysisResult, time.Time) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current, c.savedAt
}
