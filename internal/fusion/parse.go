package fusion

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/Akshita1414/Taarini/internal/models"
)

// 传感器快照字段名（设备端固件上报格式）
const (
	keyLatitude  = "Latitude"
	keyLongitude = "Longitude"
)

var distanceKeys = [models.SensorCount]string{"Sensor1_cm", "Sensor2_cm", "Sensor3_cm", "Sensor4_cm"}

// ParseSensorSnapshot 解析传感器快照
//
// 字段缺失、类型不符或无法解析时置为 nil，不视为错误；
// 快照不是对象（包括 null）时返回所有字段为 nil 的读数。
// 负数距离原样保留，由分级逻辑统一按"无读数"处理。
func ParseSensorSnapshot(raw json.RawMessage, at time.Time) *models.SensorReading {
	reading := &models.SensorReading{ObservedAt: at}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
		return reading
	}

	reading.Latitude = parseNumber(fields[keyLatitude])
	reading.Longitude = parseNumber(fields[keyLongitude])
	for i, key := range distanceKeys {
		reading.Distances[i] = parseNumber(fields[key])
	}
	return reading
}

// ParseDetectionFlag 解析人体存在标记
//
// null（路径不存在）为 Unknown；数值 1 或字符串 "1" 为 Present；其余任何值为 Absent。
func ParseDetectionFlag(raw json.RawMessage) models.DetectionFlag {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || string(trimmed) == "null" {
		return models.DetectionUnknown
	}
	if v := parseNumber(trimmed); v != nil && *v == 1 {
		return models.DetectionPresent
	}
	return models.DetectionAbsent
}

// parseNumber 接受 JSON 数值或数值字符串
func parseNumber(raw json.RawMessage) *float64 {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil
	}

	var text string
	switch trimmed[0] {
	case '"':
		if err := json.Unmarshal(trimmed, &text); err != nil {
			return nil
		}
		text = strings.TrimSpace(text)
	case '-', '0', '1', '2', '3', '4', '5', '6', '7', '8', '9':
		text = string(trimmed)
	default:
		return nil
	}

	v, err := strconv.ParseFloat(text, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}
