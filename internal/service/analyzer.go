package service

import (
	"context"
	"fmt"

	"github.com/Akshita1414/Taarini/internal/analysis"
	"github.com/Akshita1414/Taarini/internal/config"
	"github.com/Akshita1414/Taarini/internal/store"

	"go.uber.org/zap"
)

// Analyzer 视频分析组件（命令行工具使用，不连接实时数据流）
type Analyzer struct {
	Client *analysis.Client
	Cache  *store.ResultCache

	inf     *infra
	closeKV func() error
	logger  *zap.Logger
}

// NewAnalyzer 创建分析组件，并从缓存恢复上一次的结果
func NewAnalyzer(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Analyzer, error) {
	inf, err := connect(ctx, cfg, needs{
		database: cfg.Cache.Backend == config.CacheBackendPostgres,
		redis:    cfg.Cache.Backend == config.CacheBackendRedis,
	}, logger)
	if err != nil {
		return nil, err
	}

	kv, closeKV, err := openResultKV(ctx, cfg, inf)
	if err != nil {
		inf.close()
		return nil, fmt.Errorf("failed to open result cache: %w", err)
	}

	cache := store.NewResultCache(kv, cfg.Cache.Key, logger)
	cache.Restore(ctx)

	client := analysis.NewClient(analysisConfig(cfg), cache, logger)

	return &Analyzer{
		Client:  client,
		Cache:   cache,
		inf:     inf,
		closeKV: closeKV,
		logger:  logger,
	}, nil
}

// Close 释放存储与连接
func (a *Analyzer) Close() error {
	var err error
	if a.closeKV != nil {
		err = a.closeKV()
	}
	a.inf.close()
	return err
}

func analysisConfig(cfg *config.Config) analysis.Config {
	return analysis.Config{
		BaseURL:        cfg.Analysis.BaseURL,
		Timeout:        cfg.Analysis.Timeout,
		MaxUploadBytes: cfg.MaxUploadBytes(),
		Supersede:      cfg.Analysis.Supersede,
	}
}
