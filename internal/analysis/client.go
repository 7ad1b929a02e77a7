// Package analysis 提供视频分析任务客户端
//
// 视频以 multipart 流式上传到分析服务（POST /api/detect-video），
// 任务状态：idle → uploading（0..100）→ processing → succeeded / failed。
// 每次提交分配单调递增序号，只有序号等于最新提交的响应才能改变任务状态。
package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/textproto"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/Akshita1414/Taarini/internal/models"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	videoEndpoint   = "/api/detect-video"
	imageEndpoint   = "/api/detect"
	videoField      = "video"
	imageField      = "image"
	requestIDHeader = "X-Request-ID"

	persistTimeout = 10 * time.Second
)

// Config 客户端配置
type Config struct {
	BaseURL        string        // 分析服务地址，如 http://localhost:8000
	Timeout        time.Duration // 单个任务的整体超时，0 表示不限制
	MaxUploadBytes int64         // 上传大小上限，0 表示不限制
	Supersede      bool          // true：新提交取代进行中的任务；false：拒绝新提交
}

// ResultSink 成功结果的持久化目标
//
// 持久化失败只记录日志，不影响任务成功。
type ResultSink interface {
	Persist(ctx context.Context, result *models.VideoAnalysisResult) error
}

// Client 视频分析任务客户端
//
// 同一时刻至多一个任务处于 uploading / processing。
// OnUpdate 的回调在状态变更时同步调用，回调内不得调用 Submit（可以调用 Current）。
type Client struct {
	cfg        Config
	httpClient *resty.Client
	sink       ResultSink
	logger     *zap.Logger
	now        func() time.Time

	notifyMu sync.Mutex // 串行化状态变更 + 通知

	mu        sync.Mutex
	seq       uint64
	current   models.AnalysisJob
	active    *Job
	observers []func(models.AnalysisJob)

	persistMu   sync.Mutex
	persistedID uint64
}

// NewClient 创建客户端；sink 可为 nil
func NewClient(cfg Config, sink ResultSink, logger *zap.Logger) *Client {
	// 视频处理耗时较长，超时由任务上下文控制
	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetHeader("Accept", "application/json").
		SetLogger(logger.Sugar())

	return &Client{
		cfg:        cfg,
		httpClient: client,
		sink:       sink,
		logger:     logger,
		now:        time.Now,
		current:    models.AnalysisJob{Status: models.JobIdle},
	}
}

// MaxUploadBytes 上传大小上限
func (c *Client) MaxUploadBytes() int64 { return c.cfg.MaxUploadBytes }

// OnUpdate 注册任务状态观察者
func (c *Client) OnUpdate(fn func(models.AnalysisJob)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observers = append(c.observers, fn)
}

// Current 最新提交的任务状态
func (c *Client) Current() models.AnalysisJob {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Submit 提交视频
//
// 返回后任务在后台执行，ctx 控制任务的网络请求（HTTP 处理函数中应使用 context.WithoutCancel）。
// 提交成功后 upload 由 Client 关闭；返回错误时由调用方关闭。
func (c *Client) Submit(ctx context.Context, upload *Upload) (*Job, error) {
	if upload == nil {
		return nil, fmt.Errorf("%w: no file", ErrUnsupportedMedia)
	}
	if c.cfg.MaxUploadBytes > 0 && upload.Size > c.cfg.MaxUploadBytes {
		return nil, fmt.Errorf("%w: %s is %d bytes, limit is %d", ErrUnsupportedMedia, upload.Name, upload.Size, c.cfg.MaxUploadBytes)
	}

	c.notifyMu.Lock()
	c.mu.Lock()
	var superseded *Job
	if c.current.Status.InFlight() {
		if !c.cfg.Supersede {
			current := c.current.ID
			c.mu.Unlock()
			c.notifyMu.Unlock()
			return nil, fmt.Errorf("%w: job %d", ErrJobInFlight, current)
		}
		superseded = c.active
	}

	c.seq++
	job := newJob(c.seq, uuid.NewString())
	c.active = job
	c.current = models.AnalysisJob{
		ID:          job.id,
		RequestID:   job.requestID,
		FileName:    upload.Name,
		FileSize:    upload.Size,
		Status:      models.JobUploading,
		SubmittedAt: c.now(),
	}
	snapshot := c.current
	c.mu.Unlock()

	if superseded != nil {
		superseded.resolve(nil, ErrSuperseded)
		c.logger.Info("Analysis job superseded",
			zap.Uint64("job_id", superseded.id),
			zap.Uint64("by_job_id", job.id),
		)
	}
	c.notify(snapshot)
	c.notifyMu.Unlock()

	c.logger.Info("Analysis job submitted",
		zap.Uint64("job_id", job.id),
		zap.String("request_id", job.requestID),
		zap.String("file_name", upload.Name),
		zap.Int64("file_size", upload.Size),
	)

	go c.run(ctx, job, upload)
	return job, nil
}

// run 上传并等待结果
func (c *Client) run(ctx context.Context, job *Job, upload *Upload) {
	defer upload.Close()

	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	written := make(chan struct{})
	go func() {
		defer close(written)
		pw.CloseWithError(c.writeVideoPart(mw, upload, job.id))
	}()

	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetHeader("Content-Type", mw.FormDataContentType()).
		SetHeader(requestIDHeader, job.requestID).
		SetBody(pr).
		Post(videoEndpoint)

	// 服务端提前响应时结束写入协程
	pr.Close()
	<-written

	result, jobErr := c.interpret(resp, err)
	c.finish(job, result, jobErr)
}

// writeVideoPart 写入 multipart 请求体，写完即进入 processing
func (c *Client) writeVideoPart(mw *multipart.Writer, upload *Upload, id uint64) error {
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition",
		fmt.Sprintf(`form-data; name="%s"; filename="%s"`, videoField, quoteEscaper.Replace(upload.Name)))
	header.Set("Content-Type", upload.ContentType)

	part, err := mw.CreatePart(header)
	if err != nil {
		return err
	}

	body := &progressReader{
		r:     upload.body,
		total: upload.Size,
		onProgress: func(percent int) {
			c.update(id, func(j *models.AnalysisJob) bool {
				if j.Status != models.JobUploading || percent <= j.Progress {
					return false
				}
				j.Progress = percent
				return true
			})
		},
	}
	if _, err := io.Copy(part, body); err != nil {
		return err
	}
	if err := mw.Close(); err != nil {
		return err
	}

	c.update(id, func(j *models.AnalysisJob) bool {
		if j.Status != models.JobUploading {
			return false
		}
		j.Status = models.JobProcessing
		j.Progress = 100
		return true
	})
	return nil
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

// interpret 网络错误、非 2xx、结构错误统一归为失败
func (c *Client) interpret(resp *resty.Response, err error) (*models.VideoAnalysisResult, *JobError) {
	if err != nil {
		return nil, uploadError(err)
	}
	if resp.StatusCode() < 200 || resp.StatusCode() > 299 {
		return nil, serverError(resp.StatusCode(), resp.Body())
	}
	return decodeResult(resp.Body())
}

// finish 只有最新提交的任务可以进入终态
func (c *Client) finish(job *Job, result *models.VideoAnalysisResult, jobErr *JobError) {
	finishedAt := c.now()
	applied := c.update(job.id, func(j *models.AnalysisJob) bool {
		j.FinishedAt = finishedAt
		if jobErr != nil {
			j.Status = models.JobFailed
			j.ErrorKind = jobErr.Kind
			j.Cause = jobErr.Cause
			return true
		}
		j.Status = models.JobSucceeded
		j.Progress = 100
		j.Result = result
		return true
	})

	if !applied {
		c.logger.Info("Discarding result of superseded analysis job",
			zap.Uint64("job_id", job.id),
			zap.Bool("failed", jobErr != nil),
		)
		job.resolve(nil, ErrSuperseded)
		return
	}

	if jobErr != nil {
		c.logger.Warn("Analysis job failed",
			zap.Uint64("job_id", job.id),
			zap.String("error_kind", string(jobErr.Kind)),
			zap.String("cause", jobErr.Cause),
			zap.Error(jobErr.Err),
		)
		job.resolve(nil, jobErr)
		return
	}

	c.logger.Info("Analysis job succeeded",
		zap.Uint64("job_id", job.id),
		zap.String("overall_status", string(result.OverallStatus)),
		zap.Int("frames", len(result.Frames)),
	)
	c.persist(job.id, result)
	job.resolve(result, nil)
}

// persist 尽力持久化；序号更小的结果不会覆盖已持久化的更新结果
func (c *Client) persist(id uint64, result *models.VideoAnalysisResult) {
	if c.sink == nil {
		return
	}

	c.persistMu.Lock()
	defer c.persistMu.Unlock()
	if id < c.persistedID {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := c.sink.Persist(ctx, result); err != nil {
		c.logger.Error("Failed to persist analysis result (non-fatal)",
			zap.Uint64("job_id", id),
			zap.Error(err),
		)
		return
	}
	c.persistedID = id
}

// update 修改 id 对应的任务状态并通知；id 不是最新提交时返回 false
func (c *Client) update(id uint64, fn func(j *models.AnalysisJob) bool) bool {
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()

	c.mu.Lock()
	if c.current.ID != id {
		c.mu.Unlock()
		return false
	}
	changed := fn(&c.current)
	snapshot := c.current
	c.mu.Unlock()

	if changed {
		c.notify(snapshot)
	}
	return true
}

func (c *Client) notify(job models.AnalysisJob) {
	c.mu.Lock()
	observers := make([]func(models.AnalysisJob), len(c.observers))
	copy(observers, c.observers)
	c.mu.Unlock()

	for _, fn := range observers {
		fn(job)
	}
}

// DetectImage 单张图片检测（同步，不作为任务跟踪）
func (c *Client) DetectImage(ctx context.Context, name string, data []byte) (*models.ImageDetection, error) {
	mime := mimetype.Detect(data)
	if !hasTypePrefix(mime, "image/") {
		return nil, fmt.Errorf("%w: %s content is %s", ErrUnsupportedMedia, name, mime.String())
	}

	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetHeader(requestIDHeader, uuid.NewString()).
		SetFileReader(imageField, name, bytes.NewReader(data)).
		Post(imageEndpoint)
	if err != nil {
		return nil, uploadError(err)
	}
	if resp.StatusCode() < 200 || resp.StatusCode() > 299 {
		return nil, serverError(resp.StatusCode(), resp.Body())
	}

	var out models.ImageDetection
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return nil, schemaError(fmt.Errorf("failed to decode detection response: %w", err))
	}
	if out.OriginalRef == "" {
		return nil, schemaError(errors.New(`missing required field "original"`))
	}
	return &out, nil
}

// ResolveRef 将服务端返回的相对图片路径转换为完整 URL
func (c *Client) ResolveRef(ref string) string {
	if ref == "" {
		return ""
	}
	if u, err := url.Parse(ref); err == nil && u.IsAbs() {
		return ref
	}
	return strings.TrimRight(c.cfg.BaseURL, "/") + "/" + strings.TrimLeft(ref, "/")
}
