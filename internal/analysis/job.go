package analysis

import (
	"context"
	"sync"

	"github.com/Akshita1414/Taarini/internal/models"
)

// Job 一次提交的句柄
type Job struct {
	id        uint64
	requestID string

	once   sync.Once
	done   chan struct{}
	result *models.VideoAnalysisResult
	err    error
}

func newJob(id uint64, requestID string) *Job {
	return &Job{id: id, requestID: requestID, done: make(chan struct{})}
}

// ID 提交序号（单调递增）
func (j *Job) ID() uint64 { return j.id }

// RequestID 随请求发送的 X-Request-ID
func (j *Job) RequestID() string { return j.requestID }

// Done 任务结束（成功、失败或被取代）时关闭
func (j *Job) Done() <-chan struct{} { return j.done }

// Wait 等待任务结束
//
// 失败时返回 *JobError；被更新的提交取代时返回 ErrSuperseded。
func (j *Job) Wait(ctx context.Context) (*models.VideoAnalysisResult, error) {
	select {
	case <-j.done:
		return j.result, j.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// resolve 只生效一次
func (j *Job) resolve(result *models.VideoAnalysisResult, err error) {
	j.once.Do(func() {
		j.result = result
		j.err = err
		close(j.done)
	})
}
