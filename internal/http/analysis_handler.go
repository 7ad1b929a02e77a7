package httpapi

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/Akshita1414/Taarini/internal/analysis"
	"github.com/Akshita1414/Taarini/internal/models"
	"github.com/Akshita1414/Taarini/internal/store"

	"go.uber.org/zap"
)

const (
	multipartOverhead = 1 << 20
	maxImageBytes     = 20 << 20
	xlsxContentType   = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

// AnalysisHandler 视频分析接口
type AnalysisHandler struct {
	client *analysis.Client
	cache  *store.ResultCache
	logger *zap.Logger
}

func NewAnalysisHandler(client *analysis.Client, cache *store.ResultCache, logger *zap.Logger) *AnalysisHandler {
	return &AnalysisHandler{client: client, cache: cache, logger: logger}
}

type submitView struct {
	JobID     uint64 `json:"job_id"`
	RequestID string `json:"request_id"`
}

type resultView struct {
	Result  *models.VideoAnalysisResult `json:"result"`
	SavedAt *time.Time                  `json:"saved_at,omitempty"`
}

// GetJob 当前任务状态
func (h *AnalysisHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, Ok(h.client.Current()))
}

// SubmitJob POST multipart，字段 video
//
// 上传内容先落到临时文件，任务结束后由 Upload 删除。
func (h *AnalysisHandler) SubmitJob(w http.ResponseWriter, r *http.Request) {
	if maxBytes := h.client.MaxUploadBytes(); maxBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, maxBytes+multipartOverhead)
	}

	file, header, err := r.FormFile("video")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, Fail("video exceeds the upload size limit"))
			return
		}
		writeJSON(w, http.StatusBadRequest, Fail("missing video file"))
		return
	}
	defer file.Close()
	if r.MultipartForm != nil {
		defer r.MultipartForm.RemoveAll()
	}

	tmpPath, err := spool(file, filepath.Ext(header.Filename))
	if err != nil {
		h.logger.Error("Failed to spool uploaded video", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, Fail("failed to receive video"))
		return
	}

	upload, err := analysis.OpenUpload(tmpPath, h.client.MaxUploadBytes(),
		analysis.WithName(header.Filename),
		analysis.RemoveOnClose(),
	)
	if err != nil {
		_ = os.Remove(tmpPath)
		h.writeSubmitError(w, err)
		return
	}

	// 任务生命周期独立于本次请求
	job, err := h.client.Submit(context.WithoutCancel(r.Context()), upload)
	if err != nil {
		upload.Close()
		h.writeSubmitError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, Ok(submitView{JobID: job.ID(), RequestID: job.RequestID()}))
}

func (h *AnalysisHandler) writeSubmitError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, analysis.ErrUnsupportedMedia):
		writeJSON(w, http.StatusUnsupportedMediaType, Fail(err.Error()))
	case errors.Is(err, analysis.ErrJobInFlight):
		writeJSON(w, http.StatusConflict, Fail("an analysis job is already in progress"))
	default:
		h.logger.Error("Failed to submit analysis job", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, Fail("failed to submit analysis job"))
	}
}

// spool 复制到临时文件，返回路径
func spool(src io.Reader, ext string) (string, error) {
	tmp, err := os.CreateTemp("", "taarini-upload-*"+ext)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(tmp, src); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	return tmp.Name(), nil
}

// GetResult 最近一次成功的分析结果（无结果时 result 为 null）
func (h *AnalysisHandler) GetResult(w http.ResponseWriter, r *http.Request) {
	result, savedAt := h.cache.Current()
	view := resultView{Result: result}
	if result != nil {
		view.SavedAt = &savedAt
	}
	writeJSON(w, http.StatusOK, Ok(view))
}

// ClearResult 清除缓存的分析结果
func (h *AnalysisHandler) ClearResult(w http.ResponseWriter, r *http.Request) {
	if err := h.cache.Clear(r.Context()); err != nil {
		h.logger.Error("Failed to clear analysis result", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, Fail("failed to clear analysis result"))
		return
	}
	writeJSON(w, http.StatusOK, Ok[any](nil))
}

// GetTimeline 逐帧时间线；format=xlsx 时下载表格
func (h *AnalysisHandler) GetTimeline(w http.ResponseWriter, r *http.Request) {
	result, _ := h.cache.Current()
	if result == nil {
		writeJSON(w, http.StatusNotFound, Fail("no analysis result"))
		return
	}
	timeline := analysis.BuildTimeline(result, h.client.ResolveRef)

	if r.URL.Query().Get("format") != "xlsx" {
		writeJSON(w, http.StatusOK, Ok(timeline))
		return
	}

	var buf bytes.Buffer
	if err := analysis.WriteTimelineXLSX(&buf, timeline); err != nil {
		h.logger.Error("Failed to export timeline", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, Fail("failed to export timeline"))
		return
	}
	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", `attachment; filename="taarini-timeline.xlsx"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

// DetectImage POST multipart，字段 image；同步返回检测图引用
func (h *AnalysisHandler) DetectImage(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxImageBytes+multipartOverhead)

	file, header, err := r.FormFile("image")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, Fail("missing image file"))
		return
	}
	defer file.Close()
	if r.MultipartForm != nil {
		defer r.MultipartForm.RemoveAll()
	}

	data, err := io.ReadAll(file)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, Fail("failed to read image"))
		return
	}

	detection, err := h.client.DetectImage(r.Context(), header.Filename, data)
	if err != nil {
		var jobErr *analysis.JobError
		switch {
		case errors.Is(err, analysis.ErrUnsupportedMedia):
			writeJSON(w, http.StatusUnsupportedMediaType, Fail(err.Error()))
		case errors.As(err, &jobErr):
			writeJSON(w, http.StatusBadGateway, Fail(jobErr.Cause))
		default:
			writeJSON(w, http.StatusInternalServerError, Fail("image detection failed"))
		}
		return
	}

	detection.OriginalRef = h.client.ResolveRef(detection.OriginalRef)
	detection.YoloOutputRef = h.client.ResolveRef(detection.YoloOutputRef)
	detection.UnetOutputRef = h.client.ResolveRef(detection.UnetOutputRef)
	writeJSON(w, http.StatusOK, Ok(detection))
}
