package fusion

import (
	"encoding/json"
	"time"

	"github.com/Akshita1414/Taarini/internal/models"
)

// EventKind 事件类型
type EventKind int

const (
	EventSnapshot EventKind = iota // 收到一次完整快照
	EventFailure                   // 传输失败
)

func (k EventKind) String() string {
	if k == EventFailure {
		return "failure"
	}
	return "snapshot"
}

// Event 融合输入事件（来源 + 类型的标签联合）
type Event struct {
	Source models.StreamID
	Kind   EventKind
	Value  json.RawMessage // Kind == EventSnapshot 时有效
	Err    error           // Kind == EventFailure 时有效
	At     time.Time
}

// SnapshotEvent 构造快照事件
func SnapshotEvent(source models.StreamID, value json.RawMessage, at time.Time) Event {
	return Event{Source: source, Kind: EventSnapshot, Value: value, At: at}
}

// FailureEvent 构造失败事件
func FailureEvent(source models.StreamID, err error, at time.Time) Event {
	return Event{Source: source, Kind: EventFailure, Err: err, At: at}
}

// Reduce 根据一个事件计算下一个运行状态
//
// 纯函数：只改动事件来源对应的字段，另一路数据流的数据与状态原样保留。
// Revision 与 UpdatedAt 由 Engine 维护。
func Reduce(prev models.OperationalState, ev Event) models.OperationalState {
	next := prev

	switch ev.Source {
	case models.StreamSensor:
		switch ev.Kind {
		case EventSnapshot:
			next.Sensor = ParseSensorSnapshot(ev.Value, ev.At)
			next.SensorStatus = models.ConnectionLive
			next.SensorError = ""
		case EventFailure:
			next.SensorStatus = models.ConnectionErrored
			next.SensorError = errorText(ev.Err)
		}
	case models.StreamDetection:
		switch ev.Kind {
		case EventSnapshot:
			next.Detection = ParseDetectionFlag(ev.Value)
			next.DetectionStatus = models.ConnectionLive
			next.DetectionError = ""
		case EventFailure:
			next.DetectionStatus = models.ConnectionErrored
			next.DetectionError = errorText(ev.Err)
		}
	}

	return next
}

func errorText(err error) string {
	if err == nil {
		return "unknown transport error"
	}
	return err.Error()
}
