package analysis

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/Akshita1414/Taarini/internal/models"
)

var (
	// ErrUnsupportedMedia 文件类型/大小不符合要求，提交前即拒绝
	ErrUnsupportedMedia = errors.New("unsupported media")
	// ErrJobInFlight 已有任务在上传/处理中（拒绝策略）
	ErrJobInFlight = errors.New("analysis job already in flight")
	// ErrSuperseded 任务已被更新的提交取代，其结果被丢弃
	ErrSuperseded = errors.New("analysis job superseded by a newer submission")
)

// GenericFailureMessage 服务端未给出原因时展示的通用提示
const GenericFailureMessage = "Video analysis failed, please try again"

// JobError 任务失败原因
//
// Cause 为可直接展示给用户的文案：服务端返回的 error 原文，或通用提示。
type JobError struct {
	Kind  models.ErrorKind
	Cause string
	Err   error
}

func (e *JobError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Cause, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Cause)
}

func (e *JobError) Unwrap() error { return e.Err }

func uploadError(err error) *JobError {
	return &JobError{Kind: models.ErrorUpload, Cause: GenericFailureMessage, Err: err}
}

func schemaError(err error) *JobError {
	return &JobError{Kind: models.ErrorSchema, Cause: GenericFailureMessage, Err: err}
}

// serverError 非 2xx 响应；body 形如 {"error": "..."}（FastAPI 校验错误为 {"detail": "..."}）
func serverError(status int, body []byte) *JobError {
	cause := GenericFailureMessage

	var payload struct {
		Error  string          `json:"error"`
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		var detail string
		_ = json.Unmarshal(payload.Detail, &detail)
		switch {
		case strings.TrimSpace(payload.Error) != "":
			cause = strings.TrimSpace(payload.Error)
		case strings.TrimSpace(detail) != "":
			cause = strings.TrimSpace(detail)
		}
	}

	return &JobError{
		Kind:  models.ErrorServer,
		Cause: cause,
		Err:   fmt.Errorf("analysis service returned HTTP %d", status),
	}
}
