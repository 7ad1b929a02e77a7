package analysis

import (
	"fmt"
	"math"

	"github.com/Akshita1414/Taarini/internal/models"
)

// TimelineEntry 时间轴上的一帧
type TimelineEntry struct {
	Index            int                `json:"index"`
	FrameNumber      int                `json:"frame_number"`
	TimestampSeconds float64            `json:"timestamp"`
	Label            string             `json:"label"` // mm:ss
	Status           models.FrameStatus `json:"status"`
	AlertLevel       models.AlertLevel  `json:"alert_level"`
	Message          string             `json:"message"`
	HumanCount       int                `json:"human_count"`
	SubmergedCount   int                `json:"submerged_count"`
	MaxConfidence    float64            `json:"max_confidence"`
	MaxWaterRatio    float64            `json:"max_water_ratio"`
	OriginalURL      string             `json:"original_url,omitempty"`
	YoloURL          string             `json:"yolo_url,omitempty"`
	UnetURL          string             `json:"unet_url,omitempty"`
}

// TimelineSummary 时间轴汇总
type TimelineSummary struct {
	VideoID              string                     `json:"video_id,omitempty"`
	OverallStatus        models.FrameStatus         `json:"overall_status"`
	OverallMessage       string                     `json:"overall_message"`
	DurationLabel        string                     `json:"duration_label"`
	FramesProcessed      int                        `json:"frames_processed"`
	TotalHumans          int                        `json:"total_humans"`
	TotalSubmerged       int                        `json:"total_submerged"`
	StatusCounts         map[models.FrameStatus]int `json:"status_counts"`
	FirstCriticalSeconds *float64                   `json:"first_critical_seconds,omitempty"`
	FirstCriticalLabel   string                     `json:"first_critical_label,omitempty"`
}

// Timeline 按帧重建的分析时间轴
type Timeline struct {
	Summary TimelineSummary `json:"summary"`
	Entries []TimelineEntry `json:"entries"`
}

// BuildTimeline 由分析结果构建时间轴
//
// 帧顺序与结果中的数组顺序一致。resolve 用于把图片相对路径转换为 URL，可为 nil。
func BuildTimeline(result *models.VideoAnalysisResult, resolve func(string) string) Timeline {
	if resolve == nil {
		resolve = func(ref string) string { return ref }
	}

	tl := Timeline{
		Summary: TimelineSummary{
			StatusCounts: map[models.FrameStatus]int{
				models.StatusSafe:     0,
				models.StatusWarning:  0,
				models.StatusCritical: 0,
			},
		},
		Entries: []TimelineEntry{},
	}
	if result == nil {
		return tl
	}

	tl.Summary.VideoID = result.VideoID
	tl.Summary.OverallStatus = result.OverallStatus
	tl.Summary.OverallMessage = result.OverallMessage
	tl.Summary.DurationLabel = FormatTimestamp(result.VideoDurationSeconds)
	tl.Summary.FramesProcessed = result.TotalFramesProcessed
	tl.Summary.TotalHumans = result.TotalHumansDetected
	tl.Summary.TotalSubmerged = result.TotalSubmerged

	tl.Entries = make([]TimelineEntry, 0, len(result.Frames))
	for i, f := range result.Frames {
		entry := TimelineEntry{
			Index:            i,
			FrameNumber:      f.FrameNumber,
			TimestampSeconds: f.TimestampSeconds,
			Label:            FormatTimestamp(f.TimestampSeconds),
			Status:           f.Status,
			AlertLevel:       f.AlertLevel,
			Message:          f.Message,
			HumanCount:       f.HumanCount,
			SubmergedCount:   f.SubmergedCount,
			OriginalURL:      resolve(f.OriginalFrameRef),
			YoloURL:          resolve(f.YoloOutputRef),
			UnetURL:          resolve(f.UnetOutputRef),
		}

		submerged := 0
		for _, d := range f.Detections {
			entry.MaxConfidence = math.Max(entry.MaxConfidence, d.Confidence)
			entry.MaxWaterRatio = math.Max(entry.MaxWaterRatio, d.WaterRatio)
			if d.IsSubmerged {
				submerged++
			}
		}
		if entry.SubmergedCount == 0 {
			entry.SubmergedCount = submerged
		}

		tl.Summary.StatusCounts[f.Status]++
		if f.Status == models.StatusCritical && tl.Summary.FirstCriticalSeconds == nil {
			ts := f.TimestampSeconds
			tl.Summary.FirstCriticalSeconds = &ts
			tl.Summary.FirstCriticalLabel = entry.Label
		}
		tl.Entries = append(tl.Entries, entry)
	}

	return tl
}

// FormatTimestamp 秒数格式化为 mm:ss，超过一小时为 h:mm:ss
func FormatTimestamp(seconds float64) string {
	if seconds < 0 || math.IsNaN(seconds) {
		seconds = 0
	}
	total := int(math.Floor(seconds))
	h, m, s := total/3600, (total%3600)/60, total%60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", m, s)
}
