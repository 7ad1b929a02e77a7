package analysis

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Akshita1414/Taarini/internal/models"
)

// 响应中必须存在的顶层字段
var requiredFields = []string{"overall_status", "frames"}

// DecodeResult 解析并校验 /api/detect-video 的响应体
//
// 任何结构或取值问题都返回 Kind 为 schema_error 的 *JobError，不返回部分结果。
func DecodeResult(body []byte) (*models.VideoAnalysisResult, error) {
	result, jobErr := decodeResult(body)
	if jobErr != nil {
		return nil, jobErr
	}
	return result, nil
}

func decodeResult(body []byte) (*models.VideoAnalysisResult, *JobError) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(body, &top); err != nil {
		return nil, schemaError(fmt.Errorf("response is not a JSON object: %w", err))
	}
	if top == nil {
		return nil, schemaError(errors.New("response is null"))
	}
	for _, key := range requiredFields {
		raw, ok := top[key]
		if !ok || string(bytes.TrimSpace(raw)) == "null" {
			return nil, schemaError(fmt.Errorf("missing required field %q", key))
		}
	}

	var result models.VideoAnalysisResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, schemaError(fmt.Errorf("failed to decode response: %w", err))
	}
	if err := Validate(&result); err != nil {
		return nil, schemaError(err)
	}
	return &result, nil
}

// Validate 校验分析结果的取值范围
//
// 帧顺序由服务端保证，这里不检查也不重排。
func Validate(r *models.VideoAnalysisResult) error {
	if !r.OverallStatus.Valid() {
		return fmt.Errorf("invalid overall_status %q", r.OverallStatus)
	}
	if r.TotalFramesProcessed < 0 {
		return fmt.Errorf("total_frames_processed must be non-negative, got %d", r.TotalFramesProcessed)
	}
	if r.VideoDurationSeconds < 0 {
		return fmt.Errorf("video_duration must be non-negative, got %v", r.VideoDurationSeconds)
	}
	if r.TotalHumansDetected < 0 {
		return fmt.Errorf("total_humans_detected must be non-negative, got %d", r.TotalHumansDetected)
	}
	if r.TotalSubmerged < 0 {
		return fmt.Errorf("total_submerged must be non-negative, got %d", r.TotalSubmerged)
	}

	for i, f := range r.Frames {
		if !f.Status.Valid() {
			return fmt.Errorf("frames[%d]: invalid status %q", i, f.Status)
		}
		if !f.AlertLevel.Valid() {
			return fmt.Errorf("frames[%d]: invalid alert_level %q", i, f.AlertLevel)
		}
		if f.TimestampSeconds < 0 {
			return fmt.Errorf("frames[%d]: timestamp must be non-negative, got %v", i, f.TimestampSeconds)
		}
		if f.HumanCount < 0 || f.SubmergedCount < 0 {
			return fmt.Errorf("frames[%d]: counts must be non-negative", i)
		}
		for j, d := range f.Detections {
			if d.Confidence < 0 || d.Confidence > 1 {
				return fmt.Errorf("frames[%d].detections[%d]: confidence %v out of [0,1]", i, j, d.Confidence)
			}
			if d.WaterRatio < 0 || d.WaterRatio > 1 {
				return fmt.Errorf("frames[%d].detections[%d]: water_ratio %v out of [0,1]", i, j, d.WaterRatio)
			}
		}
	}
	return nil
}
