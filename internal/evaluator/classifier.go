// Package evaluator 提供报警分级
//
// 分级是运行状态的纯函数：相同输入总是得到相同输出，结果不缓存。
package evaluator

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/Akshita1414/Taarini/internal/models"

	"github.com/golang/geo/s2"
)

// 距离分段阈值（厘米），边界值归入上一段
const (
	NearFieldLimitCM = 50.0
	MidFieldLimitCM  = 100.0
)

// earthRadiusKm 地球平均半径
const earthRadiusKm = 6371.0088

// Band 单个探头的距离分段
type Band string

const (
	BandNoReading Band = "no_reading"
	BandNear      Band = "near"
	BandMid       Band = "mid"
	BandFar       Band = "far"
)

// Label 展示文案
func (b Band) Label() string {
	switch b {
	case BandNear:
		return "near-field"
	case BandMid:
		return "mid-field"
	case BandFar:
		return "far-field"
	default:
		return "no reading"
	}
}

// ClassifyDistance 距离分段
//
// nil、-1 哨兵以及其它任何负数均视为无读数。
func ClassifyDistance(d *float64) Band {
	switch {
	case d == nil || *d < 0:
		return BandNoReading
	case *d < NearFieldLimitCM:
		return BandNear
	case *d < MidFieldLimitCM:
		return BandMid
	default:
		return BandFar
	}
}

// FormatDistance 格式化单个探头读数，如 "42 cm (near-field)"
func FormatDistance(d *float64) string {
	band := ClassifyDistance(d)
	if band == BandNoReading {
		return band.Label()
	}
	return fmt.Sprintf("%s cm (%s)", strconv.FormatFloat(*d, 'f', -1, 64), band.Label())
}

// Level 报警级别
//
//   - 检测到人体：Critical（与距离无关）
//   - 人体标记未知且任一数据流出错：Warning
//   - 其它：None
func Level(state models.OperationalState) models.AlertLevel {
	switch {
	case state.Detection == models.DetectionPresent:
		return models.AlertCritical
	case state.Detection == models.DetectionUnknown && state.AnyErrored():
		return models.AlertWarning
	default:
		return models.AlertNone
	}
}

// Assessment 一次完整的分级结果
type Assessment struct {
	Level             models.AlertLevel          `json:"level"`
	Message           string                     `json:"message"`
	Bands             [models.SensorCount]Band   `json:"bands"`
	Readings          [models.SensorCount]string `json:"readings"`
	NearestCM         *float64                   `json:"nearest_cm,omitempty"`
	StationDistanceKm *float64                   `json:"station_distance_km,omitempty"`
}

// Station 救援站坐标
type Station struct {
	Lat float64
	Lng float64
}

// Classifier 报警分级器
type Classifier struct {
	station *s2.LatLng
}

// NewClassifier 创建分级器；station 为 nil 时不计算救援站距离
func NewClassifier(station *Station) *Classifier {
	c := &Classifier{}
	if station != nil {
		ll := s2.LatLngFromDegrees(station.Lat, station.Lng)
		if ll.IsValid() {
			c.station = &ll
		}
	}
	return c
}

// Classify 无救援站信息的分级
func Classify(state models.OperationalState) Assessment {
	return (&Classifier{}).Assess(state)
}

// Assess 对运行状态分级
func (c *Classifier) Assess(state models.OperationalState) Assessment {
	a := Assessment{Level: Level(state)}

	for i := range a.Bands {
		var d *float64
		if state.Sensor != nil {
			d = state.Sensor.Distances[i]
		}
		a.Bands[i] = ClassifyDistance(d)
		a.Readings[i] = FormatDistance(d)
		if a.Bands[i] != BandNoReading && (a.NearestCM == nil || *d < *a.NearestCM) {
			v := *d
			a.NearestCM = &v
		}
	}

	if c.station != nil && state.Sensor.HasFix() {
		fix := s2.LatLngFromDegrees(*state.Sensor.Latitude, *state.Sensor.Longitude)
		if fix.IsValid() {
			km := fix.Distance(*c.station).Radians() * earthRadiusKm
			a.StationDistanceKm = &km
		}
	}

	a.Message = c.message(state, a)
	return a
}

func (c *Classifier) message(state models.OperationalState, a Assessment) string {
	switch a.Level {
	case models.AlertCritical:
		parts := []string{"Human detected in the water"}
		if a.NearestCM != nil {
			parts = append(parts, "nearest echo "+FormatDistance(a.NearestCM))
		}
		if state.Sensor.HasFix() {
			parts = append(parts, fmt.Sprintf("location (%.5f, %.5f)", *state.Sensor.Latitude, *state.Sensor.Longitude))
		}
		if a.StationDistanceKm != nil {
			parts = append(parts, fmt.Sprintf("rescue station %.1f km away", *a.StationDistanceKm))
		}
		return strings.Join(parts, ", ")
	case models.AlertWarning:
		var down []string
		if state.SensorStatus == models.ConnectionErrored {
			down = append(down, "sensor")
		}
		if state.DetectionStatus == models.ConnectionErrored {
			down = append(down, "detection")
		}
		return fmt.Sprintf("Live feed degraded (%s), human presence unknown", strings.Join(down, ", "))
	default:
		switch state.Detection {
		case models.DetectionAbsent:
			return "No human detected"
		default:
			return "Waiting for live data"
		}
	}
}
