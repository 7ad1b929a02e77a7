package models

import "time"

// FrameStatus 帧/视频整体安全状态
type FrameStatus string

const (
	StatusSafe     FrameStatus = "safe"
	StatusWarning  FrameStatus = "warning"
	StatusCritical FrameStatus = "critical"
)

// Valid 是否为已知状态
func (s FrameStatus) Valid() bool {
	switch s {
	case StatusSafe, StatusWarning, StatusCritical:
		return true
	}
	return false
}

// Detection 单个人体检测结果
type Detection struct {
	Confidence  float64   `json:"confidence"`     // [0,1]
	WaterRatio  float64   `json:"water_ratio"`    // [0,1]，检测框内水域像素占比
	IsSubmerged bool      `json:"is_submerged"`
	BBox        []float64 `json:"bbox,omitempty"` // x1,y1,x2,y2（原始帧像素）
}

// FrameResult 单帧分析结果
type FrameResult struct {
	TimestampSeconds float64     `json:"timestamp"`
	FrameNumber      int         `json:"frame_number"`
	Status           FrameStatus `json:"status"`
	AlertLevel       AlertLevel  `json:"alert_level"`
	Message          string      `json:"message"`
	HumanCount       int         `json:"human_count"`
	SubmergedCount   int         `json:"submerged_count"`
	Detections       []Detection `json:"detections"`
	OriginalFrameRef string      `json:"original_frame"`
	YoloOutputRef    string      `json:"yolo_output"`
	UnetOutputRef    string      `json:"unet_output"`
}

// VideoAnalysisResult 视频分析结果
//
// Frames 按 TimestampSeconds 升序（由服务端保证），消费方不得重排。
type VideoAnalysisResult struct {
	VideoID              string        `json:"video_id,omitempty"`
	OverallStatus        FrameStatus   `json:"overall_status"`
	OverallMessage       string        `json:"overall_message"`
	TotalFramesProcessed int           `json:"total_frames_processed"`
	VideoDurationSeconds float64       `json:"video_duration"`
	TotalHumansDetected  int           `json:"total_humans_detected"`
	TotalSubmerged       int           `json:"total_submerged"`
	Frames               []FrameResult `json:"frames"`
}

// ImageDetection 单张图片检测结果（/api/detect）
type ImageDetection struct {
	OriginalRef   string `json:"original"`
	YoloOutputRef string `json:"yolo_output"`
	UnetOutputRef string `json:"unet_output"`
}

// JobStatus 分析任务状态
type JobStatus string

const (
	JobIdle       JobStatus = "idle"
	JobUploading  JobStatus = "uploading"
	JobProcessing JobStatus = "processing"
	JobSucceeded  JobStatus = "succeeded"
	JobFailed     JobStatus = "failed"
)

// InFlight 是否处于上传/处理中
func (s JobStatus) InFlight() bool {
	return s == JobUploading || s == JobProcessing
}

// Terminal 是否为终态
func (s JobStatus) Terminal() bool {
	return s == JobSucceeded || s == JobFailed
}

// AnalysisJob 视频分析任务快照
type AnalysisJob struct {
	ID          uint64               `json:"id"` // 单调递增序号，用于丢弃过期响应
	RequestID   string               `json:"request_id,omitempty"`
	FileName    string               `json:"file_name,omitempty"`
	FileSize    int64                `json:"file_size,omitempty"`
	Status      JobStatus            `json:"status"`
	Progress    int                  `json:"progress"` // 0..100，仅 uploading 阶段有意义
	ErrorKind   ErrorKind            `json:"error_kind,omitempty"`
	Cause       string               `json:"cause,omitempty"`
	Result      *VideoAnalysisResult `json:"result,omitempty"`
	SubmittedAt time.Time            `json:"submitted_at,omitempty"`
	FinishedAt  time.Time            `json:"finished_at,omitempty"`
}

// ErrorKind 错误分类
type ErrorKind string

const (
	ErrorTransport ErrorKind = "transport_error" // 数据流订阅/推送失败，可恢复
	ErrorUpload    ErrorKind = "upload_error"    // 上传过程网络失败
	ErrorServer    ErrorKind = "server_error"    // 非 2xx 响应
	ErrorSchema    ErrorKind = "schema_error"    // 响应结构/取值校验失败
	ErrorStorage   ErrorKind = "storage_error"   // 结果缓存读写失败，非致命
)
