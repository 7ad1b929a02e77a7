package consumer

import (
	"sync"
	"time"

	"github.com/Akshita1414/Taarini/internal/models"
)

// Metrics 监控指标
type Metrics struct {
	mu sync.RWMutex

	// 数据流统计
	SensorSnapshots    int64 // 传感器快照数
	DetectionSnapshots int64 // 人体标记快照数
	SensorErrors       int64 // 传感器数据流错误数
	DetectionErrors    int64 // 人体标记数据流错误数

	// 发布统计
	StatesPublished  int64 // 已发布的运行状态数
	StatesDropped    int64 // 队列已满被丢弃的状态数
	AlertTransitions int64 // 报警级别变化次数
	CriticalAlerts   int64 // 进入 critical 的次数

	// 发布失败分类统计
	ErrorsStateCache int64 // 状态缓存写入失败
	ErrorsAlertSink  int64 // 报警发布失败（Stream / MQTT / 历史表）

	LastStateTime time.Time // 最后一次发布状态的时间
	StartTime     time.Time
}

// MetricsSnapshot 指标快照
type MetricsSnapshot struct {
	SensorSnapshots    int64     `json:"sensor_snapshots"`
	DetectionSnapshots int64     `json:"detection_snapshots"`
	SensorErrors       int64     `json:"sensor_errors"`
	DetectionErrors    int64     `json:"detection_errors"`
	StatesPublished    int64     `json:"states_published"`
	StatesDropped      int64     `json:"states_dropped"`
	AlertTransitions   int64     `json:"alert_transitions"`
	CriticalAlerts     int64     `json:"critical_alerts"`
	ErrorsStateCache   int64     `json:"errors_state_cache"`
	ErrorsAlertSink    int64     `json:"errors_alert_sink"`
	LastStateTime      time.Time `json:"last_state_time"`
	StartTime          time.Time `json:"start_time"`
}

// NewMetrics 创建指标
func NewMetrics() *Metrics {
	return &Metrics{StartTime: time.Now()}
}

// GetSnapshot 获取指标快照（线程安全）
func (m *Metrics) GetSnapshot() MetricsSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return MetricsSnapshot{
		SensorSnapshots:    m.SensorSnapshots,
		DetectionSnapshots: m.DetectionSnapshots,
		SensorErrors:       m.SensorErrors,
		DetectionErrors:    m.DetectionErrors,
		StatesPublished:    m.StatesPublished,
		StatesDropped:      m.StatesDropped,
		AlertTransitions:   m.AlertTransitions,
		CriticalAlerts:     m.CriticalAlerts,
		ErrorsStateCache:   m.ErrorsStateCache,
		ErrorsAlertSink:    m.ErrorsAlertSink,
		LastStateTime:      m.LastStateTime,
		StartTime:          m.StartTime,
	}
}

// IncrementSnapshot 增加快照计数
func (m *Metrics) IncrementSnapshot(source models.StreamID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if source == models.StreamDetection {
		m.DetectionSnapshots++
	} else {
		m.SensorSnapshots++
	}
}

// IncrementStreamError 增加数据流错误计数
func (m *Metrics) IncrementStreamError(source models.StreamID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if source == models.StreamDetection {
		m.DetectionErrors++
	} else {
		m.SensorErrors++
	}
}

// IncrementPublished 增加已发布计数
func (m *Metrics) IncrementPublished() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.StatesPublished++
	m.LastStateTime = time.Now()
}

// IncrementDropped 增加丢弃计数
func (m *Metrics) IncrementDropped() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.StatesDropped++
}

// IncrementTransition 增加报警级别变化计数
func (m *Metrics) IncrementTransition(level models.AlertLevel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.AlertTransitions++
	if level == models.AlertCritical {
		m.CriticalAlerts++
	}
}

// IncrementFailed 增加发布失败计数
func (m *Metrics) IncrementFailed(errorType string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch errorType {
	case "state_cache":
		m.ErrorsStateCache++
	case "alert_sink":
		m.ErrorsAlertSink++
	}
}
