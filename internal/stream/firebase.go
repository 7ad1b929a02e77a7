package stream

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Akshita1414/Taarini/common/config"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

const (
	defaultFirebaseIdleTimeout = 90 * time.Second // 服务端约每 30 秒发送 keep-alive
	firebaseMinBackoff         = time.Second
	firebaseMaxBackoff         = 30 * time.Second
)

// FirebaseTransport Firebase 实时数据库 REST streaming 传输
//
// GET {databaseURL}/{path}.json，Accept: text/event-stream。
// put/patch 事件合并到本地 JSON 树后，整树作为快照投递。
type FirebaseTransport struct {
	cfg        config.FirebaseConfig
	httpClient *resty.Client
	logger     *zap.Logger
	minBackoff time.Duration
	maxBackoff time.Duration
}

// NewFirebaseTransport 创建 Firebase 传输
func NewFirebaseTransport(cfg config.FirebaseConfig, logger *zap.Logger) *FirebaseTransport {
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = defaultFirebaseIdleTimeout
	}
	// 长连接，不设置整体超时
	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.DatabaseURL, "/")).
		SetHeader("Accept", "text/event-stream").
		SetHeader("Cache-Control", "no-cache")

	return &FirebaseTransport{
		cfg:        cfg,
		httpClient: client,
		logger:     logger,
		minBackoff: firebaseMinBackoff,
		maxBackoff: firebaseMaxBackoff,
	}
}

// Name 传输名称
func (t *FirebaseTransport) Name() string { return "firebase" }

// Watch 开始监听 path
func (t *FirebaseTransport) Watch(path string, onValue func(json.RawMessage), onError func(error)) (func(), error) {
	if t.cfg.DatabaseURL == "" {
		return nil, errors.New("firebase database url is not configured")
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		defer close(done)
		t.run(ctx, path, onValue, onError)
	}()

	return func() {
		cancel()
		<-done
	}, nil
}

// run 流式读取，断线后指数退避重连
func (t *FirebaseTransport) run(ctx context.Context, path string, onValue func(json.RawMessage), onError func(error)) {
	backoff := t.minBackoff

	for {
		received, err := t.stream(ctx, path, onValue)
		if ctx.Err() != nil {
			return
		}
		if err == nil {
			err = errors.New("stream closed by server")
		}

		// 收到过事件说明连接曾经正常，重置退避时间
		if received {
			backoff = t.minBackoff
		}

		t.logger.Warn("Firebase stream interrupted",
			zap.String("path", path),
			zap.Duration("backoff", backoff),
			zap.Error(err),
		)
		onError(err)

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
			backoff *= 2
			if backoff > t.maxBackoff {
				backoff = t.maxBackoff
			}
		}
	}
}

// stream 建立一次 EventSource 连接并持续读取，直到出错或被取消
func (t *FirebaseTransport) stream(ctx context.Context, path string, onValue func(json.RawMessage)) (bool, error) {
	reqCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// 空闲超时：长时间无任何事件（含 keep-alive）则断开重连
	idle := time.AfterFunc(t.cfg.IdleTimeout, cancel)
	defer idle.Stop()

	req := t.httpClient.R().
		SetContext(reqCtx).
		SetDoNotParseResponse(true)
	if t.cfg.AuthToken != "" {
		req.SetQueryParam("auth", t.cfg.AuthToken)
	}

	resp, err := req.Get("/" + strings.Trim(path, "/") + ".json")
	if err != nil {
		return false, fmt.Errorf("failed to open firebase stream: %w", err)
	}
	body := resp.RawBody()
	defer body.Close()

	if resp.StatusCode() != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(body, 512))
		return false, fmt.Errorf("firebase stream returned HTTP %d: %s", resp.StatusCode(), strings.TrimSpace(string(msg)))
	}

	tree := &valueTree{}
	reader := newEventReader(body)
	received := false

	for {
		ev, err := reader.Next()
		if err != nil {
			if reqCtx.Err() != nil && ctx.Err() == nil {
				return received, errors.New("firebase stream idle timeout")
			}
			if errors.Is(err, io.EOF) {
				return received, nil
			}
			return received, fmt.Errorf("failed to read firebase stream: %w", err)
		}
		idle.Reset(t.cfg.IdleTimeout)
		received = true

		switch ev.Name {
		case "put", "patch":
			var payload struct {
				Path string          `json:"path"`
				Data json.RawMessage `json:"data"`
			}
			if err := json.Unmarshal(ev.Data, &payload); err != nil {
				return received, fmt.Errorf("invalid %s event payload: %w", ev.Name, err)
			}
			if err := tree.apply(ev.Name, payload.Path, payload.Data); err != nil {
				return received, err
			}
			onValue(tree.snapshot())
		case "keep-alive":
		case "cancel":
			return received, fmt.Errorf("firebase stream cancelled: %s", strings.TrimSpace(string(ev.Data)))
		case "auth_revoked":
			return received, errors.New("firebase auth revoked")
		default:
			t.logger.Debug("Ignoring firebase event", zap.String("event", ev.Name))
		}
	}
}

// sseEvent 一条 Server-Sent Event
type sseEvent struct {
	Name string
	Data []byte
}

// eventReader 增量解析 text/event-stream
type eventReader struct {
	scanner *bufio.Scanner
}

func newEventReader(r io.Reader) *eventReader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	return &eventReader{scanner: scanner}
}

// Next 读取下一条事件；流结束返回 io.EOF
func (r *eventReader) Next() (sseEvent, error) {
	var ev sseEvent
	var data bytes.Buffer
	hasData := false

	for r.scanner.Scan() {
		line := r.scanner.Text()
		if line == "" {
			if ev.Name == "" && !hasData {
				continue
			}
			ev.Data = data.Bytes()
			return ev, nil
		}
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "event":
			ev.Name = value
		case "data":
			if hasData {
				data.WriteByte('\n')
			}
			data.WriteString(value)
			hasData = true
		}
	}

	if err := r.scanner.Err(); err != nil {
		return sseEvent{}, err
	}
	return sseEvent{}, io.EOF
}
