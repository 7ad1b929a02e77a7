package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultValues(t *testing.T) {
	// 清除环境变量
	os.Clearenv()

	cfg, err := Load()
	require.NoError(t, err)
	assert.NotNil(t, cfg)

	// 验证默认值
	assert.Equal(t, "localhost", cfg.Database.Host)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, "taarini", cfg.Database.Database)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, "tcp://localhost:1883", cfg.MQTT.Broker)
	assert.Equal(t, byte(1), cfg.MQTT.QoS)

	assert.Equal(t, TransportFirebase, cfg.Live.SensorTransport)
	assert.Equal(t, TransportFirebase, cfg.Live.DetectionTransport)
	assert.Equal(t, "UltrasonicBot/Data", cfg.Live.SensorPath)
	assert.Equal(t, "remote/state", cfg.Live.DetectionPath)

	assert.Equal(t, "http://localhost:8000", cfg.Analysis.BaseURL)
	assert.Equal(t, 10*time.Minute, cfg.Analysis.Timeout)
	assert.Equal(t, 200, cfg.Analysis.MaxUploadMB)
	assert.Equal(t, int64(200<<20), cfg.MaxUploadBytes())
	assert.True(t, cfg.Analysis.Supersede)

	assert.Equal(t, CacheBackendPebble, cfg.Cache.Backend)
	assert.Equal(t, "taarini:analysis:last-result", cfg.Cache.Key)

	assert.Equal(t, "taarini:live:", cfg.Publish.StatePrefix)
	assert.False(t, cfg.Station.Enabled)
	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)

	assert.False(t, cfg.NeedsRedis())
	assert.False(t, cfg.NeedsMQTT())
	assert.False(t, cfg.NeedsDatabase())
}

func TestLoad_EnvironmentVariables(t *testing.T) {
	os.Clearenv()
	defer os.Clearenv()

	// 设置环境变量
	os.Setenv("SENSOR_TRANSPORT", "MQTT")
	os.Setenv("DETECTION_TRANSPORT", "redis")
	os.Setenv("SENSOR_FIREBASE_URL", "https://lake-default-rtdb.firebaseio.com/")
	os.Setenv("ANALYSIS_TIMEOUT", "90s")
	os.Setenv("ANALYSIS_SUPERSEDE", "false")
	os.Setenv("CACHE_BACKEND", "postgres")
	os.Setenv("ALERT_TOPIC", "taarini/alerts")
	os.Setenv("STATION_LAT", "30.7333")
	os.Setenv("STATION_LNG", "76.7794")
	os.Setenv("DB_HOST", "db.internal")
	os.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, TransportMQTT, cfg.Live.SensorTransport)
	assert.Equal(t, TransportRedis, cfg.Live.DetectionTransport)
	assert.Equal(t, "https://lake-default-rtdb.firebaseio.com", cfg.Live.SensorFirebase.DatabaseURL)
	assert.Equal(t, 90*time.Second, cfg.Analysis.Timeout)
	assert.False(t, cfg.Analysis.Supersede)
	assert.Equal(t, CacheBackendPostgres, cfg.Cache.Backend)
	assert.True(t, cfg.Station.Enabled)
	assert.InDelta(t, 30.7333, cfg.Station.Lat, 1e-9)
	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.Equal(t, "debug", cfg.Log.Level)

	assert.True(t, cfg.NeedsRedis())
	assert.True(t, cfg.NeedsMQTT())
	assert.True(t, cfg.NeedsDatabase())
}

func TestLoad_InvalidValues(t *testing.T) {
	os.Clearenv()
	defer os.Clearenv()

	os.Setenv("SENSOR_TRANSPORT", "carrier-pigeon")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SENSOR_TRANSPORT")

	os.Clearenv()
	os.Setenv("CACHE_BACKEND", "floppy")
	_, err = Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CACHE_BACKEND")
}

func TestLoad_DotEnvFile(t *testing.T) {
	os.Clearenv()
	defer os.Clearenv()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("HTTP_ADDR=:9090\nCACHE_BACKEND=memory\n"), 0o600))

	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	defer os.Chdir(wd)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.HTTP.Addr)
	assert.Equal(t, CacheBackendMemory, cfg.Cache.Backend)
}

func TestGetEnvHelpers(t *testing.T) {
	os.Clearenv()
	defer os.Clearenv()

	assert.Equal(t, "default-value", getEnv("TEST_KEY", "default-value"))
	assert.Equal(t, 7, getEnvInt("TEST_INT", 7))
	assert.True(t, getEnvBool("TEST_BOOL", true))
	assert.Equal(t, time.Second, getEnvDuration("TEST_DURATION", time.Second))

	os.Setenv("TEST_INT", "not-a-number")
	os.Setenv("TEST_BOOL", "0")
	os.Setenv("TEST_DURATION", "-5s")
	assert.Equal(t, 7, getEnvInt("TEST_INT", 7))
	assert.False(t, getEnvBool("TEST_BOOL", true))
	assert.Equal(t, time.Second, getEnvDuration("TEST_DURATION", time.Second))
}
