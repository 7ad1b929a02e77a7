package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	commonconfig "github.com/Akshita1414/Taarini/common/config"
	"github.com/Akshita1414/Taarini/internal/analysis"
	"github.com/Akshita1414/Taarini/internal/config"
	"github.com/Akshita1414/Taarini/internal/consumer"
	"github.com/Akshita1414/Taarini/internal/evaluator"
	"github.com/Akshita1414/Taarini/internal/fusion"
	httpapi "github.com/Akshita1414/Taarini/internal/http"
	"github.com/Akshita1414/Taarini/internal/metrics"
	"github.com/Akshita1414/Taarini/internal/models"
	"github.com/Akshita1414/Taarini/internal/repository"
	"github.com/Akshita1414/Taarini/internal/store"
	"github.com/Akshita1414/Taarini/internal/stream"

	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

// MonitorService 监测服务（整合各层）
type MonitorService struct {
	config *config.Config
	logger *zap.Logger
	inf    *infra

	// 各层组件
	engine         *fusion.Engine
	liveConsumer   *consumer.LiveConsumer
	hub            *httpapi.Hub
	analysisClient *analysis.Client
	resultCache    *store.ResultCache
	closeKV        func() error
	alertRepo      *repository.AlertEventRepository
	metrics        *metrics.Metrics
	server         *Server
}

// NewMonitorService 创建监测服务
func NewMonitorService(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*MonitorService, error) {
	// 1. 建立外部连接
	inf, err := connect(ctx, cfg, needs{
		database: cfg.NeedsDatabase(),
		redis:    cfg.NeedsRedis(),
		mqtt:     cfg.NeedsMQTT(),
	}, logger)
	if err != nil {
		return nil, err
	}

	s := &MonitorService{config: cfg, logger: logger, inf: inf}
	if err := s.build(ctx); err != nil {
		s.Stop()
		return nil, err
	}
	return s, nil
}

func (s *MonitorService) build(ctx context.Context) error {
	cfg := s.config

	// 2. 实时数据流
	sensorTransport, err := s.newTransport(cfg.Live.SensorTransport, cfg.Live.SensorFirebase)
	if err != nil {
		return fmt.Errorf("failed to create sensor transport: %w", err)
	}
	detectionFirebase := cfg.Live.DetectionFirebase
	if detectionFirebase.DatabaseURL == "" {
		// 两路数据通常位于同一个实时数据库
		detectionFirebase = cfg.Live.SensorFirebase
	}
	detectionTransport, err := s.newTransport(cfg.Live.DetectionTransport, detectionFirebase)
	if err != nil {
		return fmt.Errorf("failed to create detection transport: %w", err)
	}

	// 3. 融合 + 分级
	s.engine = fusion.NewEngine(s.logger)
	var station *evaluator.Station
	if cfg.Station.Enabled {
		station = &evaluator.Station{Lat: cfg.Station.Lat, Lng: cfg.Station.Lng}
	}
	classifier := evaluator.NewClassifier(station)

	s.liveConsumer = consumer.NewLiveConsumer(
		consumer.Config{
			SensorPath:    cfg.Live.SensorPath,
			DetectionPath: cfg.Live.DetectionPath,
			QueueSize:     cfg.Live.QueueSize,
		},
		s.engine,
		classifier,
		stream.NewSubscriber(sensorTransport, s.logger),
		stream.NewSubscriber(detectionTransport, s.logger),
		s.logger,
	)

	// 4. 发布目标
	s.hub = httpapi.NewHub(s.logger)
	s.liveConsumer.UseBroadcaster(s.hub)
	if cfg.Publish.StateCacheEnabled {
		s.liveConsumer.UseStateCache(consumer.NewStateCache(s.inf.redisClient, cfg.Publish.StatePrefix, cfg.Publish.StateTTL, s.logger))
	}
	if cfg.Publish.AlertStream != "" {
		s.liveConsumer.AddAlertPublisher(consumer.NewStreamAlertPublisher(s.inf.redisClient, cfg.Publish.AlertStream))
	}
	if cfg.Publish.AlertTopic != "" {
		s.liveConsumer.AddAlertPublisher(consumer.NewMQTTAlertPublisher(s.inf.mqttClient, cfg.Publish.AlertTopic, cfg.MQTT.QoS))
	}
	if cfg.Publish.AlertHistoryEnabled {
		s.alertRepo = repository.NewAlertEventRepository(s.inf.db, s.logger)
		if err := s.alertRepo.EnsureSchema(ctx); err != nil {
			return err
		}
		s.liveConsumer.AddAlertPublisher(consumer.NewHistoryAlertPublisher(s.alertRepo))
	}

	// 5. 视频分析 + 结果缓存
	kv, closeKV, err := openResultKV(ctx, cfg, s.inf)
	if err != nil {
		return fmt.Errorf("failed to open result cache: %w", err)
	}
	s.closeKV = closeKV
	s.resultCache = store.NewResultCache(kv, cfg.Cache.Key, s.logger)
	s.analysisClient = analysis.NewClient(analysisConfig(cfg), s.resultCache, s.logger)

	// 6. 指标
	s.metrics = metrics.New()
	s.metrics.RegisterConsumer(s.liveConsumer.Metrics())
	s.metrics.RegisterLiveState(s.liveConsumer.Current)
	s.analysisClient.OnUpdate(s.metrics.ObserveJob)

	// 7. HTTP
	router := httpapi.NewRouter(s.logger)
	router.RegisterLiveRoutes(httpapi.NewLiveHandler(s.liveConsumer, s.hub, s.logger))
	router.RegisterAnalysisRoutes(httpapi.NewAnalysisHandler(s.analysisClient, s.resultCache, s.logger))
	if s.alertRepo != nil {
		router.RegisterAlertRoutes(httpapi.NewAlertHandler(s.alertRepo, s.logger))
	}
	router.RegisterMetricsRoute(s.metrics.Handler())
	s.server = NewServer(cfg.HTTP.Addr, router, s.logger)

	return nil
}

// newTransport 按类型创建数据流传输
func (s *MonitorService) newTransport(kind string, firebase commonconfig.FirebaseConfig) (stream.Transport, error) {
	switch kind {
	case config.TransportFirebase:
		if firebase.DatabaseURL == "" {
			return nil, errors.New("firebase database url is required (SENSOR_FIREBASE_URL)")
		}
		return stream.NewFirebaseTransport(firebase, s.logger), nil
	case config.TransportMQTT:
		return stream.NewMQTTTransport(s.inf.mqttClient, s.config.MQTT.QoS, s.logger), nil
	case config.TransportRedis:
		return stream.NewRedisTransport(s.inf.redisClient, s.logger), nil
	default:
		return nil, fmt.Errorf("unsupported transport: %s", kind)
	}
}

// Start 启动服务，阻塞直到 ctx 取消或 HTTP 服务失败
func (s *MonitorService) Start(ctx context.Context) error {
	s.logger.Info("Starting monitor service",
		zap.String("sensor_transport", s.config.Live.SensorTransport),
		zap.String("detection_transport", s.config.Live.DetectionTransport),
		zap.String("cache_backend", s.config.Cache.Backend),
	)

	// 恢复上一次的分析结果（失败视为无结果）
	if restored := s.resultCache.Restore(ctx); restored != nil {
		s.logger.Info("Restored last analysis result",
			zap.String("video_id", restored.VideoID),
			zap.String("overall_status", string(restored.OverallStatus)),
		)
	}

	s.analysisClient.OnUpdate(func(job models.AnalysisJob) {
		if job.Status.Terminal() {
			s.logger.Info("Analysis job finished",
				zap.Uint64("job_id", job.ID),
				zap.String("status", string(job.Status)),
				zap.String("error_kind", string(job.ErrorKind)),
			)
		}
	})

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go s.hub.Run(runCtx)

	serverErr := make(chan error, 1)
	go func() {
		if err := s.server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	consumerDone := make(chan error, 1)
	go func() {
		consumerDone <- s.liveConsumer.Start(runCtx)
	}()

	var result error
	consumerFinished := false
	select {
	case <-ctx.Done():
	case err := <-serverErr:
		result = fmt.Errorf("http server failed: %w", err)
	case err := <-consumerDone:
		consumerFinished = true
		if err != nil {
			result = fmt.Errorf("live consumer failed: %w", err)
		}
	}

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := s.server.Stop(shutdownCtx); err != nil {
		s.logger.Error("Failed to stop HTTP server", zap.Error(err))
	}
	if !consumerFinished {
		<-consumerDone
	}
	s.logger.Info("Monitor service stopped")
	return result
}

// Stop 释放存储与连接
func (s *MonitorService) Stop() error {
	s.logger.Info("Stopping monitor service")

	if s.closeKV != nil {
		if err := s.closeKV(); err != nil {
			s.logger.Error("Failed to close result store", zap.Error(err))
		}
	}
	s.inf.close()
	return nil
}
