package models

import "time"

// AlertEvent 报警级别变化事件（对应 alert_events 表）
type AlertEvent struct {
	EventID       string        `json:"event_id" db:"event_id"`
	AlertLevel    AlertLevel    `json:"alert_level" db:"alert_level"`
	PreviousLevel AlertLevel    `json:"previous_level" db:"previous_level"`
	Message       string        `json:"message" db:"message"`
	Detection     DetectionFlag `json:"detection" db:"detection"`
	Latitude      *float64      `json:"latitude,omitempty" db:"latitude"`
	Longitude     *float64      `json:"longitude,omitempty" db:"longitude"`
	NearestCM     *float64      `json:"nearest_cm,omitempty" db:"nearest_cm"`
	Revision      uint64        `json:"revision" db:"revision"`
	TriggerData   string        `json:"trigger_data" db:"trigger_data"` // JSONB，触发时的完整运行状态
	TriggeredAt   time.Time     `json:"triggered_at" db:"triggered_at"`
	CreatedAt     time.Time     `json:"created_at" db:"created_at"`
}
