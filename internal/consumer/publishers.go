package consumer

import (
	"context"
	"encoding/json"
	"fmt"

	rediscommon "github.com/Akshita1414/Taarini/common/redis"
	"github.com/Akshita1414/Taarini/internal/models"

	"github.com/go-redis/redis/v8"
)

// AlertPublisher 报警级别变化的发布目标
type AlertPublisher interface {
	Name() string
	PublishAlert(ctx context.Context, event *models.AlertEvent) error
}

// StreamAlertPublisher 发布到 Redis Streams
type StreamAlertPublisher struct {
	client *redis.Client
	stream string
}

// NewStreamAlertPublisher 创建 Redis Streams 发布者
func NewStreamAlertPublisher(client *redis.Client, stream string) *StreamAlertPublisher {
	return &StreamAlertPublisher{client: client, stream: stream}
}

func (p *StreamAlertPublisher) Name() string { return "redis_stream" }

func (p *StreamAlertPublisher) PublishAlert(ctx context.Context, event *models.AlertEvent) error {
	_, err := rediscommon.PublishJSONToStream(ctx, p.client, p.stream, event)
	return err
}

// MQTTPublisher MQTT 发布接口（common/mqtt.Client 实现）
type MQTTPublisher interface {
	Publish(topic string, qos byte, retained bool, payload []byte) error
}

// MQTTAlertPublisher 发布到 MQTT 主题
//
// 使用 retained 消息，新订阅者立即拿到当前报警级别。
type MQTTAlertPublisher struct {
	client MQTTPublisher
	topic  string
	qos    byte
}

// NewMQTTAlertPublisher 创建 MQTT 发布者
func NewMQTTAlertPublisher(client MQTTPublisher, topic string, qos byte) *MQTTAlertPublisher {
	return &MQTTAlertPublisher{client: client, topic: topic, qos: qos}
}

func (p *MQTTAlertPublisher) Name() string { return "mqtt" }

func (p *MQTTAlertPublisher) PublishAlert(_ context.Context, event *models.AlertEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal alert event: %w", err)
	}
	return p.client.Publish(p.topic, p.qos, true, payload)
}

// AlertEventWriter 报警历史写入接口（repository.AlertEventRepository 实现）
type AlertEventWriter interface {
	CreateAlertEvent(ctx context.Context, event *models.AlertEvent) error
}

// HistoryAlertPublisher 写入 alert_events 表
type HistoryAlertPublisher struct {
	repo AlertEventWriter
}

// NewHistoryAlertPublisher 创建报警历史发布者
func NewHistoryAlertPublisher(repo AlertEventWriter) *HistoryAlertPublisher {
	return &HistoryAlertPublisher{repo: repo}
}

func (p *HistoryAlertPublisher) Name() string { return "alert_history" }

func (p *HistoryAlertPublisher) PublishAlert(ctx context.Context, event *models.AlertEvent) error {
	return p.repo.CreateAlertEvent(ctx, event)
}
