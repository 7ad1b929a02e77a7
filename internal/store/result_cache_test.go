package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Akshita1414/Taarini/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testKey = "taarini:analysis:last-result"

func sampleResult() *models.VideoAnalysisResult {
	return &models.VideoAnalysisResult{
		VideoID:              "abc123",
		OverallStatus:        models.StatusCritical,
		OverallMessage:       "RESCUE ALERT: 1 submerged individual(s) detected!",
		TotalFramesProcessed: 2,
		VideoDurationSeconds: 15.5,
		TotalHumansDetected:  1,
		TotalSubmerged:       1,
		Frames: []models.FrameResult{
			{
				TimestampSeconds: 0,
				Status:           models.StatusSafe,
				AlertLevel:       models.AlertNone,
				Message:          "No humans detected",
				Detections:       []models.Detection{},
				OriginalFrameRef: "/static/uploads/frame_0.jpg",
				YoloOutputRef:    "/static/uploads/yolo_frame_0.jpg",
				UnetOutputRef:    "/static/uploads/unet_frame_0.jpg",
			},
			{
				TimestampSeconds: 10,
				FrameNumber:      300,
				Status:           models.StatusCritical,
				AlertLevel:       models.AlertCritical,
				Message:          "RESCUE NEEDED: 1 human(s) detected in water!",
				HumanCount:       1,
				SubmergedCount:   1,
				Detections: []models.Detection{
					{Confidence: 0.91, WaterRatio: 0.64, IsSubmerged: true, BBox: []float64{10, 20, 30, 40}},
				},
			},
		},
	}
}

// 持久化后模拟重启：新实例 Load 得到相同结果；Clear 后 Load 为空
func assertRoundTripAndErasure(t *testing.T, kv KV) {
	t.Helper()
	ctx := context.Background()

	cache := NewResultCache(kv, testKey, zap.NewNop())
	empty, err := cache.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, empty)

	require.NoError(t, cache.Persist(ctx, sampleResult()))

	restarted := NewResultCache(kv, testKey, zap.NewNop())
	loaded, err := restarted.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, sampleResult(), loaded)

	current, savedAt := restarted.Current()
	assert.Equal(t, loaded, current)
	assert.False(t, savedAt.IsZero())

	require.NoError(t, restarted.Clear(ctx))
	loaded, err = restarted.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, loaded)
	current, _ = restarted.Current()
	assert.Nil(t, current)

	loaded, err = NewResultCache(kv, testKey, zap.NewNop()).Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestResultCache_Memory(t *testing.T) {
	assertRoundTripAndErasure(t, NewMemoryKV())
}

func TestResultCache_Redis(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	assertRoundTripAndErasure(t, NewRedisKV(client))
}

func TestResultCache_PebbleSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	kv, err := OpenPebbleKV(dir)
	require.NoError(t, err)
	require.NoError(t, NewResultCache(kv, testKey, zap.NewNop()).Persist(ctx, sampleResult()))
	require.NoError(t, kv.Close())

	reopened, err := OpenPebbleKV(dir)
	require.NoError(t, err)
	defer reopened.Close()

	loaded, err := NewResultCache(reopened, testKey, zap.NewNop()).Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, sampleResult(), loaded)

	require.NoError(t, NewResultCache(reopened, testKey, zap.NewNop()).Clear(ctx))
	assertRoundTripAndErasure(t, reopened)
}

type failingKV struct {
	*MemoryKV
	setErr error
	getErr error
}

func (f *failingKV) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if f.setErr != nil {
		return f.setErr
	}
	return f.MemoryKV.Set(ctx, key, value, ttl)
}

func (f *failingKV) Get(ctx context.Context, key string) (string, error) {
	if f.getErr != nil {
		return "", f.getErr
	}
	return f.MemoryKV.Get(ctx, key)
}

func TestResultCache_PersistFailureKeepsInMemoryResult(t *testing.T) {
	kv := &failingKV{MemoryKV: NewMemoryKV(), setErr: errors.New("disk full")}
	cache := NewResultCache(kv, testKey, zap.NewNop())

	err := cache.Persist(context.Background(), sampleResult())

	var storageErr *StorageError
	require.True(t, errors.As(err, &storageErr))
	assert.Equal(t, "persist", storageErr.Op)
	current, _ := cache.Current()
	assert.Equal(t, sampleResult(), current)
}

func TestResultCache_LoadErrors(t *testing.T) {
	ctx := context.Background()

	kv := &failingKV{MemoryKV: NewMemoryKV(), getErr: errors.New("connection refused")}
	_, err := NewResultCache(kv, testKey, zap.NewNop()).Load(ctx)
	var storageErr *StorageError
	require.True(t, errors.As(err, &storageErr))
	assert.Equal(t, "load", storageErr.Op)

	for name, raw := range map[string]string{
		"corrupt":        "{not json",
		"future version": `{"version":99,"result":{"overall_status":"safe","frames":[]}}`,
		"no result":      `{"version":1}`,
	} {
		t.Run(name, func(t *testing.T) {
			mem := NewMemoryKV()
			require.NoError(t, mem.Set(ctx, testKey, raw, 0))
			cache := NewResultCache(mem, testKey, zap.NewNop())

			_, err := cache.Load(ctx)
			assert.True(t, errors.As(err, new(*StorageError)))
			assert.Nil(t, cache.Restore(ctx))
		})
	}
}

func TestResultCache_LoadDoesNotReplaceNewerResult(t *testing.T) {
	ctx := context.Background()
	kv := NewMemoryKV()

	old := sampleResult()
	old.VideoID = "old"
	require.NoError(t, NewResultCache(kv, testKey, zap.NewNop()).Persist(ctx, old))

	cache := NewResultCache(kv, testKey, zap.NewNop())
	fresh := sampleResult()
	fresh.VideoID = "fresh"
	cache.mu.Lock()
	cache.current = fresh
	cache.mu.Unlock()

	loaded, err := cache.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "old", loaded.VideoID)
	current, _ := cache.Current()
	assert.Equal(t, "fresh", current.VideoID)
}
