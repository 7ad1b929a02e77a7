package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// SensorCount 超声波测距探头数量
const SensorCount = 4

// NoEchoSentinel 探头无回波时上报的哨兵值
const NoEchoSentinel = -1.0

// StreamID 实时数据流标识
type StreamID string

const (
	StreamSensor    StreamID = "sensor"    // 超声波测距 + GPS
	StreamDetection StreamID = "detection" // 人体存在标记
)

// ConnectionStatus 单个数据流的连接状态
type ConnectionStatus string

const (
	ConnectionConnecting ConnectionStatus = "connecting"
	ConnectionLive       ConnectionStatus = "live"
	ConnectionErrored    ConnectionStatus = "errored"
)

// SensorReading 一次完整的传感器快照
//
// 快照整体替换，不做字段级合并；发布后不可修改。
// Distances 中 nil 表示从未收到该字段，-1 表示无回波。
type SensorReading struct {
	Latitude   *float64              `json:"latitude"`
	Longitude  *float64              `json:"longitude"`
	Distances  [SensorCount]*float64 `json:"distances"`
	ObservedAt time.Time             `json:"observed_at"`
}

// HasFix GPS 坐标是否完整
func (r *SensorReading) HasFix() bool {
	return r != nil && r.Latitude != nil && r.Longitude != nil
}

// DetectionFlag 人体存在标记（三态）
type DetectionFlag int

const (
	DetectionUnknown DetectionFlag = iota
	DetectionPresent
	DetectionAbsent
)

func (f DetectionFlag) String() string {
	switch f {
	case DetectionPresent:
		return "present"
	case DetectionAbsent:
		return "absent"
	default:
		return "unknown"
	}
}

func (f DetectionFlag) MarshalJSON() ([]byte, error) {
	return json.Marshal(f.String())
}

func (f *DetectionFlag) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	flag, err := DetectionFlagFromString(s)
	if err != nil {
		return err
	}
	*f = flag
	return nil
}

// DetectionFlagFromString 解析 String() 的输出
func DetectionFlagFromString(s string) (DetectionFlag, error) {
	switch s {
	case "present":
		return DetectionPresent, nil
	case "absent":
		return DetectionAbsent, nil
	case "unknown", "":
		return DetectionUnknown, nil
	default:
		return DetectionUnknown, fmt.Errorf("invalid detection flag: %q", s)
	}
}

// OperationalState 两路数据流融合后的实时运行状态
//
// 仅由 fusion.Engine 生成；其它组件只读。
type OperationalState struct {
	Sensor          *SensorReading   `json:"sensor"`
	Detection       DetectionFlag    `json:"detection"`
	SensorStatus    ConnectionStatus `json:"sensor_status"`
	DetectionStatus ConnectionStatus `json:"detection_status"`
	SensorError     string           `json:"sensor_error,omitempty"`
	DetectionError  string           `json:"detection_error,omitempty"`
	Revision        uint64           `json:"revision"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

// NewOperationalState 初始状态：两路均为 connecting，无数据
func NewOperationalState() OperationalState {
	return OperationalState{
		Detection:       DetectionUnknown,
		SensorStatus:    ConnectionConnecting,
		DetectionStatus: ConnectionConnecting,
	}
}

// Status 返回指定数据流的连接状态
func (s OperationalState) Status(id StreamID) ConnectionStatus {
	if id == StreamDetection {
		return s.DetectionStatus
	}
	return s.SensorStatus
}

// AnyErrored 任一数据流处于 errored
func (s OperationalState) AnyErrored() bool {
	return s.SensorStatus == ConnectionErrored || s.DetectionStatus == ConnectionErrored
}

// AlertLevel 报警级别
type AlertLevel string

const (
	AlertNone     AlertLevel = "none"
	AlertWarning  AlertLevel = "warning"
	AlertCritical AlertLevel = "critical"
)

// Valid 是否为已知报警级别
func (l AlertLevel) Valid() bool {
	switch l {
	case AlertNone, AlertWarning, AlertCritical:
		return true
	}
	return false
}
