package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Akshita1414/Taarini/internal/analysis"
	"github.com/Akshita1414/Taarini/internal/consumer"
	"github.com/Akshita1414/Taarini/internal/evaluator"
	"github.com/Akshita1414/Taarini/internal/models"
	"github.com/Akshita1414/Taarini/internal/store"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const analysisResponse = `{
	"video_id": "vid-42",
	"video_duration": 21,
	"total_frames_processed": 2,
	"overall_status": "critical",
	"overall_message": "RESCUE ALERT: 1 submerged individual(s) detected!",
	"total_humans_detected": 1,
	"total_submerged": 1,
	"frames": [
		{"timestamp": 0, "frame_number": 0, "status": "safe", "alert_level": "none", "message": "No humans detected",
		 "human_count": 0, "submerged_count": 0, "detections": [],
		 "original_frame": "/static/uploads/frame_0.jpg", "yolo_output": "/static/uploads/yolo_0.jpg", "unet_output": "/static/uploads/unet_0.jpg"},
		{"timestamp": 20, "frame_number": 600, "status": "critical", "alert_level": "critical", "message": "RESCUE NEEDED",
		 "human_count": 1, "submerged_count": 1, "detections": [{"bbox": [5, 6, 7, 8], "confidence": 0.93, "water_ratio": 0.72, "is_submerged": true}],
		 "original_frame": "/static/uploads/frame_20.jpg", "yolo_output": "/static/uploads/yolo_20.jpg", "unet_output": "/static/uploads/unet_20.jpg"}
	]
}`

type fakeLive struct {
	snapshot consumer.LiveSnapshot
}

func (f *fakeLive) Current() consumer.LiveSnapshot { return f.snapshot }

func liveSnapshot(revision uint64, detection models.DetectionFlag, sensorStatus models.ConnectionStatus) consumer.LiveSnapshot {
	state := models.NewOperationalState()
	state.Revision = revision
	state.Detection = detection
	state.SensorStatus = sensorStatus
	state.DetectionStatus = models.ConnectionLive
	return consumer.LiveSnapshot{State: state, Assessment: evaluator.Classify(state)}
}

type fakeLister struct {
	level models.AlertLevel
	limit int
}

func (f *fakeLister) ListRecentAlertEvents(_ context.Context, level models.AlertLevel, limit int) ([]*models.AlertEvent, error) {
	f.level = level
	f.limit = limit
	return []*models.AlertEvent{{EventID: "evt-1", AlertLevel: models.AlertCritical}}, nil
}

func mp4Bytes(size int) []byte {
	header := []byte("\x00\x00\x00\x18ftypmp42\x00\x00\x00\x00mp42isom")
	data := make([]byte, size)
	copy(data, header)
	return data
}

func multipartBody(t *testing.T, field, name string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile(field, name)
	require.NoError(t, err)
	_, err = fw.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func decodeResult(t *testing.T, body []byte) Result[json.RawMessage] {
	t.Helper()
	var res Result[json.RawMessage]
	require.NoError(t, json.Unmarshal(body, &res), string(body))
	return res
}

type fixture struct {
	router   *Router
	client   *analysis.Client
	cache    *store.ResultCache
	requests *int32
}

func newFixture(t *testing.T, live LiveSource, hub *Hub) *fixture {
	t.Helper()

	var requests int32
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requests, 1)
		if _, _, err := r.FormFile("video"); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(analysisResponse))
	}))
	t.Cleanup(backend.Close)

	logger := zap.NewNop()
	cache := store.NewResultCache(store.NewMemoryKV(), "taarini:analysis:last-result", logger)
	client := analysis.NewClient(analysis.Config{
		BaseURL:        backend.URL,
		Timeout:        5 * time.Second,
		MaxUploadBytes: 1 << 20,
		Supersede:      true,
	}, cache, logger)

	router := NewRouter(logger)
	router.RegisterLiveRoutes(NewLiveHandler(live, hub, logger))
	router.RegisterAnalysisRoutes(NewAnalysisHandler(client, cache, logger))
	return &fixture{router: router, client: client, cache: cache, requests: &requests}
}

func (f *fixture) do(method, target string, body *bytes.Buffer, contentType string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, target, body)
		req.Header.Set("Content-Type", contentType)
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func TestHealth_ReportsDegradedStream(t *testing.T) {
	live := &fakeLive{snapshot: liveSnapshot(3, models.DetectionUnknown, models.ConnectionErrored)}
	f := newFixture(t, live, nil)

	rec := f.do(http.MethodGet, "/healthz", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)

	res := decodeResult(t, rec.Body.Bytes())
	assert.Equal(t, ResultSuccess, res.Code)
	assert.Contains(t, string(res.Result), `"status":"degraded"`)
	assert.Contains(t, string(res.Result), `"alert_level":"warning"`)
}

func TestGetState_ReturnsCurrentSnapshot(t *testing.T) {
	live := &fakeLive{snapshot: liveSnapshot(7, models.DetectionPresent, models.ConnectionLive)}
	f := newFixture(t, live, nil)

	rec := f.do(http.MethodGet, "/api/v1/live/state", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var res Result[consumer.LiveSnapshot]
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, uint64(7), res.Result.State.Revision)
	assert.Equal(t, models.AlertCritical, res.Result.Assessment.Level)

	rec = f.do(http.MethodPost, "/api/v1/live/state", nil, "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestLiveWebSocket_SendsInitialStateThenBroadcasts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := NewHub(zap.NewNop())
	go hub.Run(ctx)

	live := &fakeLive{snapshot: liveSnapshot(1, models.DetectionAbsent, models.ConnectionLive)}
	f := newFixture(t, live, hub)
	srv := httptest.NewServer(f.router)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/api/v1/live/ws", nil)
	require.NoError(t, err)
	defer conn.Close()

	read := func() liveMessage {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		var msg liveMessage
		require.NoError(t, conn.ReadJSON(&msg))
		return msg
	}

	first := read()
	assert.Equal(t, "state", first.Type)
	assert.Equal(t, uint64(1), first.Data.State.Revision)

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 2*time.Second, 5*time.Millisecond)
	hub.Broadcast(liveSnapshot(2, models.DetectionPresent, models.ConnectionLive))

	second := read()
	assert.Equal(t, uint64(2), second.Data.State.Revision)
	assert.Equal(t, models.AlertCritical, second.Data.Assessment.Level)
}

func TestLiveWebSocket_JoinAfterBroadcastGetsNewestState(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := NewHub(zap.NewNop())
	go hub.Run(ctx)

	// handler 读到的是旧状态，而更新的状态在客户端加入前已经广播
	live := &fakeLive{snapshot: liveSnapshot(1, models.DetectionAbsent, models.ConnectionLive)}
	hub.Broadcast(liveSnapshot(2, models.DetectionPresent, models.ConnectionLive))

	f := newFixture(t, live, hub)
	srv := httptest.NewServer(f.router)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/api/v1/live/ws", nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var first liveMessage
	require.NoError(t, conn.ReadJSON(&first))
	assert.Equal(t, uint64(2), first.Data.State.Revision)
	assert.Equal(t, models.AlertCritical, first.Data.Assessment.Level)

	// 已发送的状态不再重复推送
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 2*time.Second, 5*time.Millisecond)
	hub.Broadcast(liveSnapshot(3, models.DetectionAbsent, models.ConnectionLive))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var next liveMessage
	require.NoError(t, conn.ReadJSON(&next))
	assert.Equal(t, uint64(3), next.Data.State.Revision)
	assert.Equal(t, models.AlertNone, next.Data.Assessment.Level)
}

func TestHub_PendingKeepsEveryLevelChange(t *testing.T) {
	hub := NewHub(zap.NewNop())

	hub.Broadcast(liveSnapshot(1, models.DetectionAbsent, models.ConnectionLive))
	hub.Broadcast(liveSnapshot(2, models.DetectionAbsent, models.ConnectionLive))
	hub.Broadcast(liveSnapshot(3, models.DetectionAbsent, models.ConnectionLive))
	hub.Broadcast(liveSnapshot(4, models.DetectionPresent, models.ConnectionLive))
	hub.Broadcast(liveSnapshot(5, models.DetectionPresent, models.ConnectionLive))
	hub.Broadcast(liveSnapshot(6, models.DetectionAbsent, models.ConnectionLive))
	hub.Broadcast(liveSnapshot(7, models.DetectionAbsent, models.ConnectionLive))

	var revisions []uint64
	var transitions []uint64
	for _, m := range hub.takePending() {
		revisions = append(revisions, m.revision)
		if m.transition {
			transitions = append(transitions, m.revision)
		}
	}
	assert.Equal(t, []uint64{1, 3, 4, 5, 6, 7}, revisions)
	assert.Equal(t, []uint64{1, 4, 6}, transitions)

	latest := hub.newest(hubMessage{revision: 2, data: []byte("{}")})
	assert.Equal(t, uint64(7), latest.revision)
}

func TestHub_PendingIsBoundedWhenNotRunning(t *testing.T) {
	hub := NewHub(zap.NewNop())
	for i := 1; i <= hubPendingLimit+20; i++ {
		detection := models.DetectionAbsent
		if i%2 == 0 {
			detection = models.DetectionPresent
		}
		hub.Broadcast(liveSnapshot(uint64(i), detection, models.ConnectionLive))
	}

	pending := hub.takePending()
	require.Len(t, pending, hubPendingLimit)
	assert.Equal(t, uint64(hubPendingLimit+20), pending[len(pending)-1].revision)
}

func TestAnalysisRoutes_SubmitAwaitAndExport(t *testing.T) {
	f := newFixture(t, &fakeLive{}, nil)

	body, contentType := multipartBody(t, "video", "lake.mp4", mp4Bytes(4096))
	rec := f.do(http.MethodPost, "/api/v1/analysis/jobs", body, contentType)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var submitted Result[submitView]
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &submitted))
	assert.Equal(t, uint64(1), submitted.Result.JobID)
	assert.NotEmpty(t, submitted.Result.RequestID)

	require.Eventually(t, func() bool {
		return f.client.Current().Status == models.JobSucceeded
	}, 5*time.Second, 10*time.Millisecond)

	rec = f.do(http.MethodGet, "/api/v1/analysis/job", nil, "")
	assert.Contains(t, rec.Body.String(), `"status":"succeeded"`)
	assert.Contains(t, rec.Body.String(), `"file_name":"lake.mp4"`)

	rec = f.do(http.MethodGet, "/api/v1/analysis/result", nil, "")
	assert.Contains(t, rec.Body.String(), `"video_id":"vid-42"`)
	assert.Contains(t, rec.Body.String(), `"saved_at"`)

	rec = f.do(http.MethodGet, "/api/v1/analysis/timeline", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"first_critical_label":"00:20"`)
	assert.Contains(t, rec.Body.String(), "/static/uploads/yolo_20.jpg")

	rec = f.do(http.MethodGet, "/api/v1/analysis/timeline?format=xlsx", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, xlsxContentType, rec.Header().Get("Content-Type"))
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("PK")))

	rec = f.do(http.MethodDelete, "/api/v1/analysis/result", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	result, _ := f.cache.Current()
	assert.Nil(t, result)

	rec = f.do(http.MethodGet, "/api/v1/analysis/timeline", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSubmitJob_RejectsUnsupportedMedia(t *testing.T) {
	f := newFixture(t, &fakeLive{}, nil)

	body, contentType := multipartBody(t, "video", "notes.txt", []byte("not a video"))
	rec := f.do(http.MethodPost, "/api/v1/analysis/jobs", body, contentType)

	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
	res := decodeResult(t, rec.Body.Bytes())
	assert.Equal(t, ResultError, res.Code)
	assert.Equal(t, int32(0), atomic.LoadInt32(f.requests))
	assert.Equal(t, models.JobIdle, f.client.Current().Status)
}

func TestSubmitJob_MissingVideoField(t *testing.T) {
	f := newFixture(t, &fakeLive{}, nil)

	body, contentType := multipartBody(t, "file", "lake.mp4", mp4Bytes(1024))
	rec := f.do(http.MethodPost, "/api/v1/analysis/jobs", body, contentType)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListAlerts(t *testing.T) {
	lister := &fakeLister{}
	router := NewRouter(zap.NewNop())
	router.RegisterAlertRoutes(NewAlertHandler(lister, zap.NewNop()))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/alerts?level=critical&limit=5", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"event_id":"evt-1"`)
	assert.Equal(t, models.AlertCritical, lister.level)
	assert.Equal(t, 5, lister.limit)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/alerts?level=panic", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
