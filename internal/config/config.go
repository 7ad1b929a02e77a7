package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Akshita1414/Taarini/common/config"

	"github.com/joho/godotenv"
)

// 数据流传输类型
const (
	TransportFirebase = "firebase"
	TransportMQTT     = "mqtt"
	TransportRedis    = "redis"
)

// 分析结果缓存后端
const (
	CacheBackendPebble   = "pebble"
	CacheBackendRedis    = "redis"
	CacheBackendPostgres = "postgres"
	CacheBackendMemory   = "memory"
)

// Config 监测服务配置
type Config struct {
	Database config.DatabaseConfig
	Redis    config.RedisConfig
	MQTT     config.MQTTConfig

	// 实时数据流
	Live struct {
		SensorTransport    string // firebase | mqtt | redis
		DetectionTransport string
		SensorPath         string // 如 "UltrasonicBot/Data"
		DetectionPath      string // 如 "remote/state"
		SensorFirebase     config.FirebaseConfig
		DetectionFirebase  config.FirebaseConfig
		QueueSize          int // 发布队列长度
	}

	// 视频分析服务
	Analysis struct {
		BaseURL     string
		Timeout     time.Duration
		MaxUploadMB int
		Supersede   bool // 新提交取代进行中的任务
	}

	// 分析结果缓存
	Cache struct {
		Backend string // pebble | redis | postgres | memory
		Dir     string // pebble 数据目录
		Key     string
	}

	// 发布配置
	Publish struct {
		StatePrefix         string        // 运行状态缓存键前缀，如 "taarini:live:"
		StateTTL            time.Duration // 运行状态缓存 TTL
		StateCacheEnabled   bool
		AlertStream         string // 报警 Redis Stream，空表示不发布
		AlertTopic          string // 报警 MQTT 主题，空表示不发布
		AlertHistoryEnabled bool   // 写入 alert_events 表
	}

	// 救援站坐标（可选）
	Station struct {
		Enabled bool
		Lat     float64
		Lng     float64
	}

	HTTP struct {
		Addr string
	}

	Log struct {
		Level  string
		Format string
	}
}

// Load 加载配置
//
// 先加载当前目录下的 .env（不存在则忽略），再从环境变量读取。
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}

	cfg.Database.Host = "localhost"
	cfg.Database.Port = 5432
	cfg.Database.User = "postgres"
	cfg.Database.Password = "postgres"
	cfg.Database.Database = "taarini"
	cfg.Database.SSLMode = "disable"
	cfg.Database.LoadFromEnv("DB")

	cfg.Redis.Addr = "localhost:6379"
	cfg.Redis.LoadFromEnv("REDIS")

	cfg.MQTT.Broker = "tcp://localhost:1883"
	cfg.MQTT.ClientID = "taarini-monitor"
	cfg.MQTT.QoS = 1
	cfg.MQTT.LoadFromEnv("MQTT")

	// 实时数据流
	cfg.Live.SensorTransport = strings.ToLower(getEnv("SENSOR_TRANSPORT", TransportFirebase))
	cfg.Live.DetectionTransport = strings.ToLower(getEnv("DETECTION_TRANSPORT", TransportFirebase))
	cfg.Live.SensorPath = getEnv("SENSOR_PATH", "UltrasonicBot/Data")
	cfg.Live.DetectionPath = getEnv("DETECTION_PATH", "remote/state")
	cfg.Live.SensorFirebase.LoadFromEnv("SENSOR_FIREBASE")
	cfg.Live.DetectionFirebase.LoadFromEnv("DETECTION_FIREBASE")
	cfg.Live.QueueSize = getEnvInt("LIVE_QUEUE_SIZE", 256)

	// 视频分析
	cfg.Analysis.BaseURL = getEnv("ANALYSIS_BASE_URL", "http://localhost:8000")
	cfg.Analysis.Timeout = getEnvDuration("ANALYSIS_TIMEOUT", 10*time.Minute)
	cfg.Analysis.MaxUploadMB = getEnvInt("ANALYSIS_MAX_UPLOAD_MB", 200)
	cfg.Analysis.Supersede = getEnvBool("ANALYSIS_SUPERSEDE", true)

	// 结果缓存
	cfg.Cache.Backend = strings.ToLower(getEnv("CACHE_BACKEND", CacheBackendPebble))
	cfg.Cache.Dir = getEnv("CACHE_DIR", "./data/taarini-cache")
	cfg.Cache.Key = getEnv("CACHE_KEY", "taarini:analysis:last-result")

	// 发布
	cfg.Publish.StatePrefix = getEnv("STATE_CACHE_PREFIX", "taarini:live:")
	cfg.Publish.StateTTL = getEnvDuration("STATE_CACHE_TTL", 5*time.Minute)
	cfg.Publish.StateCacheEnabled = getEnvBool("STATE_CACHE_ENABLED", false)
	cfg.Publish.AlertStream = getEnv("ALERT_STREAM", "")
	cfg.Publish.AlertTopic = getEnv("ALERT_TOPIC", "")
	cfg.Publish.AlertHistoryEnabled = getEnvBool("ALERT_HISTORY_ENABLED", false)

	// 救援站
	lat, latOK := lookupFloat("STATION_LAT")
	lng, lngOK := lookupFloat("STATION_LNG")
	if latOK && lngOK {
		cfg.Station.Enabled = true
		cfg.Station.Lat = lat
		cfg.Station.Lng = lng
	}

	cfg.HTTP.Addr = getEnv("HTTP_ADDR", ":8080")

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate 校验枚举类配置
func (c *Config) Validate() error {
	for name, transport := range map[string]string{
		"SENSOR_TRANSPORT":    c.Live.SensorTransport,
		"DETECTION_TRANSPORT": c.Live.DetectionTransport,
	} {
		switch transport {
		case TransportFirebase, TransportMQTT, TransportRedis:
		default:
			return fmt.Errorf("invalid %s: %q (want firebase, mqtt or redis)", name, transport)
		}
	}

	switch c.Cache.Backend {
	case CacheBackendPebble, CacheBackendRedis, CacheBackendPostgres, CacheBackendMemory:
	default:
		return fmt.Errorf("invalid CACHE_BACKEND: %q (want pebble, redis, postgres or memory)", c.Cache.Backend)
	}

	if c.Live.SensorPath == "" || c.Live.DetectionPath == "" {
		return fmt.Errorf("SENSOR_PATH and DETECTION_PATH must not be empty")
	}
	if c.Analysis.MaxUploadMB < 0 {
		return fmt.Errorf("invalid ANALYSIS_MAX_UPLOAD_MB: %d", c.Analysis.MaxUploadMB)
	}
	return nil
}

// MaxUploadBytes 上传大小上限（字节）
func (c *Config) MaxUploadBytes() int64 {
	return int64(c.Analysis.MaxUploadMB) << 20
}

// NeedsRedis 是否有组件使用 Redis
func (c *Config) NeedsRedis() bool {
	return c.Live.SensorTransport == TransportRedis ||
		c.Live.DetectionTransport == TransportRedis ||
		c.Cache.Backend == CacheBackendRedis ||
		c.Publish.StateCacheEnabled ||
		c.Publish.AlertStream != ""
}

// NeedsMQTT 是否有组件使用 MQTT
func (c *Config) NeedsMQTT() bool {
	return c.Live.SensorTransport == TransportMQTT ||
		c.Live.DetectionTransport == TransportMQTT ||
		c.Publish.AlertTopic != ""
}

// NeedsDatabase 是否有组件使用 PostgreSQL
func (c *Config) NeedsDatabase() bool {
	return c.Cache.Backend == CacheBackendPostgres || c.Publish.AlertHistoryEnabled
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value, err := strconv.ParseBool(os.Getenv(key)); err == nil {
		return value
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value, err := time.ParseDuration(os.Getenv(key)); err == nil && value > 0 {
		return value
	}
	return defaultValue
}

func lookupFloat(key string) (float64, bool) {
	value, err := strconv.ParseFloat(strings.TrimSpace(os.Getenv(key)), 64)
	if err != nil {
		return 0, false
	}
	return value, true
}
