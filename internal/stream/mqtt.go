package stream

import (
	"encoding/json"
	"fmt"
	"sync"

	mqttcommon "github.com/Akshita1414/Taarini/common/mqtt"

	"go.uber.org/zap"
)

// MQTTClient MQTT 客户端（common/mqtt.Client 实现）
type MQTTClient interface {
	Subscribe(topic string, qos byte, handler mqttcommon.MessageHandler) error
	Unsubscribe(topics ...string) error
	OnConnectionLost(h mqttcommon.ConnectionLostHandler)
}

// MQTTTransport MQTT 传输
//
// path 即主题；发布端使用 retained 消息，订阅时 broker 立即下发当前值。
type MQTTTransport struct {
	client MQTTClient
	qos    byte
	logger *zap.Logger

	mu       sync.Mutex
	nextID   uint64
	watchers map[uint64]func(error)
}

// NewMQTTTransport 创建 MQTT 传输
func NewMQTTTransport(client MQTTClient, qos byte, logger *zap.Logger) *MQTTTransport {
	t := &MQTTTransport{
		client:   client,
		qos:      qos,
		logger:   logger,
		watchers: make(map[uint64]func(error)),
	}
	client.OnConnectionLost(t.broadcastError)
	return t
}

// Name 传输名称
func (t *MQTTTransport) Name() string { return "mqtt" }

// Watch 订阅主题
func (t *MQTTTransport) Watch(path string, onValue func(json.RawMessage), onError func(error)) (func(), error) {
	t.mu.Lock()
	t.nextID++
	id := t.nextID
	t.watchers[id] = onError
	t.mu.Unlock()

	// paho 在同一路由协程内按序回调（OrderMatters）
	err := t.client.Subscribe(path, t.qos, func(topic string, payload []byte) error {
		onValue(normalizePayload(payload))
		return nil
	})
	if err != nil {
		t.removeWatcher(id)
		return nil, err
	}

	return func() {
		t.removeWatcher(id)
		if err := t.client.Unsubscribe(path); err != nil {
			t.logger.Warn("Failed to unsubscribe MQTT topic", zap.String("topic", path), zap.Error(err))
		}
	}, nil
}

func (t *MQTTTransport) removeWatcher(id uint64) {
	t.mu.Lock()
	delete(t.watchers, id)
	t.mu.Unlock()
}

// broadcastError broker 连接断开时通知所有监听者
func (t *MQTTTransport) broadcastError(err error) {
	t.mu.Lock()
	handlers := make([]func(error), 0, len(t.watchers))
	for _, h := range t.watchers {
		handlers = append(handlers, h)
	}
	t.mu.Unlock()

	for _, h := range handlers {
		h(fmt.Errorf("mqtt connection lost: %w", err))
	}
}
