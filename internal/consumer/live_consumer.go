// Package consumer 将两路实时数据流接入融合引擎，并把每次产生的运行状态分级后发布出去
//
// 处理流程：
// 1. 订阅传感器 / 人体标记两个 path，回调直接交给 fusion.Engine
// 2. Engine 每发布一次状态，分级（evaluator）并放入发布队列
// 3. 单个发布协程依次：推送 WebSocket、写 Redis 状态缓存、
//    报警级别变化时发布到 Redis Streams / MQTT / alert_events 表
package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/Akshita1414/Taarini/internal/evaluator"
	"github.com/Akshita1414/Taarini/internal/fusion"
	"github.com/Akshita1414/Taarini/internal/models"
	"github.com/Akshita1414/Taarini/internal/stream"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	defaultQueueSize       = 256
	defaultMetricsInterval = 60 * time.Second
	flushTimeout           = 5 * time.Second
)

// LiveSnapshot 对外发布的实时视图：运行状态 + 分级结果
type LiveSnapshot struct {
	State      models.OperationalState `json:"state"`
	Assessment evaluator.Assessment    `json:"assessment"`
}

// Broadcaster 实时视图推送（WebSocket hub）
type Broadcaster interface {
	Broadcast(snapshot LiveSnapshot)
}

// Config 消费者配置
type Config struct {
	SensorPath      string
	DetectionPath   string
	QueueSize       int
	MetricsInterval time.Duration
}

type publication struct {
	snapshot LiveSnapshot
	alert    *models.AlertEvent
}

// LiveConsumer 实时数据流消费者
type LiveConsumer struct {
	cfg        Config
	engine     *fusion.Engine
	classifier *evaluator.Classifier
	sensor     *stream.Subscriber
	detection  *stream.Subscriber
	logger     *zap.Logger
	metrics    *Metrics

	cache       *StateCache
	broadcaster Broadcaster
	publishers  []AlertPublisher

	queue    chan publication
	stopping chan struct{}

	mu        sync.RWMutex
	latest    LiveSnapshot
	lastLevel models.AlertLevel
	overflow  []publication // 停止期间无法入队的报警
}

// NewLiveConsumer 创建消费者
//
// sensor 与 detection 可以是同一个 Subscriber（两个 path 使用同一传输时）。
func NewLiveConsumer(
	cfg Config,
	engine *fusion.Engine,
	classifier *evaluator.Classifier,
	sensor *stream.Subscriber,
	detection *stream.Subscriber,
	logger *zap.Logger,
) *LiveConsumer {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if cfg.MetricsInterval <= 0 {
		cfg.MetricsInterval = defaultMetricsInterval
	}

	initial := engine.State()
	c := &LiveConsumer{
		cfg:        cfg,
		engine:     engine,
		classifier: classifier,
		sensor:     sensor,
		detection:  detection,
		logger:     logger,
		metrics:    NewMetrics(),
		queue:      make(chan publication, cfg.QueueSize),
		stopping:   make(chan struct{}),
		latest: LiveSnapshot{
			State:      initial,
			Assessment: classifier.Assess(initial),
		},
		lastLevel: models.AlertNone,
	}
	engine.Observe(c.onState)
	return c
}

// UseStateCache 设置 Redis 状态缓存
func (c *LiveConsumer) UseStateCache(cache *StateCache) { c.cache = cache }

// UseBroadcaster 设置实时推送
func (c *LiveConsumer) UseBroadcaster(b Broadcaster) { c.broadcaster = b }

// AddAlertPublisher 添加报警发布目标
func (c *LiveConsumer) AddAlertPublisher(p AlertPublisher) {
	c.publishers = append(c.publishers, p)
}

// Metrics 监控指标
func (c *LiveConsumer) Metrics() *Metrics { return c.metrics }

// Current 最新的实时视图
func (c *LiveConsumer) Current() LiveSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.latest
}

// Start 订阅两路数据流并开始发布，阻塞直到 ctx 取消
//
// 返回前取消订阅，并发出队列中剩余的状态与报警。
func (c *LiveConsumer) Start(ctx context.Context) error {
	sensorHandle, err := c.subscribe(c.sensor, c.cfg.SensorPath, models.StreamSensor)
	if err != nil {
		return err
	}
	detectionHandle, err := c.subscribe(c.detection, c.cfg.DetectionPath, models.StreamDetection)
	if err != nil {
		_ = c.sensor.Unsubscribe(sensorHandle)
		return err
	}

	c.logger.Info("Live consumer started",
		zap.String("sensor_path", c.cfg.SensorPath),
		zap.String("detection_path", c.cfg.DetectionPath),
		zap.Int("queue_size", c.cfg.QueueSize),
	)

	// 启动指标报告协程
	go c.reportMetrics(ctx)

	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		c.runWorker(ctx)
	}()

	<-ctx.Done()
	close(c.stopping)

	if err := c.sensor.Unsubscribe(sensorHandle); err != nil {
		c.logger.Warn("Failed to unsubscribe sensor stream", zap.Error(err))
	}
	if err := c.detection.Unsubscribe(detectionHandle); err != nil {
		c.logger.Warn("Failed to unsubscribe detection stream", zap.Error(err))
	}
	<-workerDone

	c.flush()
	c.logger.Info("Live consumer stopped")
	return nil
}

// subscribe 订阅 path，回调经过计数后交给 Engine
func (c *LiveConsumer) subscribe(sub *stream.Subscriber, path string, source models.StreamID) (*stream.Handle, error) {
	onSnapshot, onError := c.engine.Sink(source)

	h, err := sub.Subscribe(path,
		func(value json.RawMessage) {
			c.metrics.IncrementSnapshot(source)
			onSnapshot(value)
		},
		func(err error) {
			c.metrics.IncrementStreamError(source)
			c.logger.Warn("Live stream error",
				zap.String("stream", string(source)),
				zap.String("path", path),
				zap.Error(err),
			)
			onError(err)
		},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe %s stream: %w", source, err)
	}
	return h, nil
}

// onState Engine 观察者，在 Engine.Apply 内同步调用
func (c *LiveConsumer) onState(state models.OperationalState) {
	snapshot := LiveSnapshot{
		State:      state,
		Assessment: c.classifier.Assess(state),
	}

	c.mu.Lock()
	c.latest = snapshot
	previous := c.lastLevel
	c.lastLevel = snapshot.Assessment.Level
	c.mu.Unlock()

	item := publication{snapshot: snapshot}
	if snapshot.Assessment.Level != previous {
		c.metrics.IncrementTransition(snapshot.Assessment.Level)
		item.alert = c.buildAlertEvent(previous, snapshot)
		c.logger.Info("Alert level changed",
			zap.String("event_id", item.alert.EventID),
			zap.String("previous_level", string(previous)),
			zap.String("alert_level", string(snapshot.Assessment.Level)),
			zap.Uint64("revision", state.Revision),
		)
	}
	c.enqueue(item)
}

// enqueue 队列满时丢弃普通状态；报警级别变化不丢弃
func (c *LiveConsumer) enqueue(item publication) {
	if item.alert != nil {
		select {
		case c.queue <- item:
		case <-c.stopping:
			c.mu.Lock()
			c.overflow = append(c.overflow, item)
			c.mu.Unlock()
		}
		return
	}
	select {
	case c.queue <- item:
	default:
		c.metrics.IncrementDropped()
		c.logger.Debug("Publication queue full, dropping live state",
			zap.Uint64("revision", item.snapshot.State.Revision),
		)
	}
}

func (c *LiveConsumer) buildAlertEvent(previous models.AlertLevel, snapshot LiveSnapshot) *models.AlertEvent {
	state := snapshot.State
	event := &models.AlertEvent{
		EventID:       uuid.NewString(),
		AlertLevel:    snapshot.Assessment.Level,
		PreviousLevel: previous,
		Message:       snapshot.Assessment.Message,
		Detection:     state.Detection,
		NearestCM:     snapshot.Assessment.NearestCM,
		Revision:      state.Revision,
		TriggeredAt:   state.UpdatedAt,
		CreatedAt:     time.Now(),
	}
	if state.Sensor.HasFix() {
		event.Latitude = state.Sensor.Latitude
		event.Longitude = state.Sensor.Longitude
	}

	triggerData, err := json.Marshal(snapshot)
	if err != nil {
		c.logger.Warn("Failed to marshal alert trigger data", zap.Error(err))
		triggerData = []byte("{}")
	}
	event.TriggerData = string(triggerData)
	return event
}

func (c *LiveConsumer) runWorker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case item := <-c.queue:
			c.publish(ctx, item)
		}
	}
}

// flush 发出队列中剩余的项
func (c *LiveConsumer) flush() {
	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()

drain:
	for {
		select {
		case item := <-c.queue:
			c.publish(ctx, item)
		default:
			break drain
		}
	}

	c.mu.Lock()
	overflow := c.overflow
	c.overflow = nil
	c.mu.Unlock()
	for _, item := range overflow {
		c.publish(ctx, item)
	}
}

// publish 单个发布目标失败只记录日志，不影响其它目标
func (c *LiveConsumer) publish(ctx context.Context, item publication) {
	if c.broadcaster != nil {
		c.broadcaster.Broadcast(item.snapshot)
	}

	if c.cache != nil {
		if err := c.cache.SaveState(ctx, item.snapshot); err != nil {
			c.metrics.IncrementFailed("state_cache")
			c.logger.Error("Failed to update live state cache",
				zap.Uint64("revision", item.snapshot.State.Revision),
				zap.Error(err),
			)
		}
	}

	if item.alert != nil {
		for _, p := range c.publishers {
			if err := p.PublishAlert(ctx, item.alert); err != nil {
				c.metrics.IncrementFailed("alert_sink")
				c.logger.Error("Failed to publish alert event",
					zap.String("publisher", p.Name()),
					zap.String("event_id", item.alert.EventID),
					zap.String("alert_level", string(item.alert.AlertLevel)),
					zap.Error(err),
				)
			}
		}
	}

	c.metrics.IncrementPublished()
}

// reportMetrics 定期报告指标
func (c *LiveConsumer) reportMetrics(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.MetricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snapshot := c.metrics.GetSnapshot()
			current := c.Current()

			c.logger.Info("Live consumer metrics",
				zap.Int64("sensor_snapshots", snapshot.SensorSnapshots),
				zap.Int64("detection_snapshots", snapshot.DetectionSnapshots),
				zap.Int64("sensor_errors", snapshot.SensorErrors),
				zap.Int64("detection_errors", snapshot.DetectionErrors),
				zap.Int64("states_published", snapshot.StatesPublished),
				zap.Int64("states_dropped", snapshot.StatesDropped),
				zap.Int64("alert_transitions", snapshot.AlertTransitions),
				zap.Int64("errors_state_cache", snapshot.ErrorsStateCache),
				zap.Int64("errors_alert_sink", snapshot.ErrorsAlertSink),
				zap.String("alert_level", string(current.Assessment.Level)),
				zap.Duration("uptime", time.Since(snapshot.StartTime)),
			)
		}
	}
}
