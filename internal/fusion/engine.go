// Package fusion 提供双数据流融合
//
// 传感器（超声波测距 + GPS）与人体存在标记两路数据流相互独立、无序到达，
// 每次任一路更新都重新计算完整的 OperationalState 并同步通知所有观察者。
package fusion

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/Akshita1414/Taarini/internal/models"
	"github.com/Akshita1414/Taarini/internal/stream"

	"go.uber.org/zap"
)

// Observer 状态观察者
type Observer func(state models.OperationalState)

// Engine 传感器融合引擎
//
// OperationalState 只由 Engine 修改。观察者在 Apply 内同步调用，
// 调用期间不得再调用 Apply（可以调用 State）。
type Engine struct {
	logger *zap.Logger
	now    func() time.Time

	applyMu sync.Mutex // 串行化 Reduce + 发布

	mu        sync.RWMutex
	state     models.OperationalState
	observers []Observer
}

// NewEngine 创建融合引擎
func NewEngine(logger *zap.Logger) *Engine {
	return &Engine{
		logger: logger,
		now:    time.Now,
		state:  models.NewOperationalState(),
	}
}

// Observe 注册观察者
func (e *Engine) Observe(fn Observer) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.observers = append(e.observers, fn)
}

// State 当前状态
func (e *Engine) State() models.OperationalState {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

// Apply 应用一个事件并发布新状态
//
// 无论事件来源的另一路数据是否已就绪，都会生成并发布新状态。
func (e *Engine) Apply(ev Event) models.OperationalState {
	if ev.At.IsZero() {
		ev.At = e.now()
	}

	e.applyMu.Lock()
	defer e.applyMu.Unlock()

	e.mu.Lock()
	next := Reduce(e.state, ev)
	next.Revision = e.state.Revision + 1
	next.UpdatedAt = ev.At
	e.state = next
	observers := append([]Observer(nil), e.observers...)
	e.mu.Unlock()

	if ev.Source != models.StreamSensor && ev.Source != models.StreamDetection {
		e.logger.Warn("Event from unknown stream, state unchanged",
			zap.String("source", string(ev.Source)),
		)
	}

	e.logger.Debug("Operational state updated",
		zap.String("source", string(ev.Source)),
		zap.String("kind", ev.Kind.String()),
		zap.Uint64("revision", next.Revision),
		zap.String("sensor_status", string(next.SensorStatus)),
		zap.String("detection_status", string(next.DetectionStatus)),
	)

	for _, fn := range observers {
		fn(next)
	}
	return next
}

// Sink 返回可直接交给 stream.Subscriber 的回调对
func (e *Engine) Sink(source models.StreamID) (stream.SnapshotFunc, stream.ErrorFunc) {
	onSnapshot := func(value json.RawMessage) {
		e.Apply(SnapshotEvent(source, value, e.now()))
	}
	onError := func(err error) {
		e.Apply(FailureEvent(source, err, e.now()))
	}
	return onSnapshot, onError
}
