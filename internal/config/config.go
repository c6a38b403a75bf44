package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	MaxConns int
	MaxIdle  int
}

// GetDSN 获取数据库连接字符串
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
}

// RedisConfig Redis配置
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// MQTTConfig MQTT配置
type MQTTConfig struct {
	Broker   string
	ClientID string
	Username string
	Password string
	QoS      byte
}

// Config 监控同步服务配置
type Config struct {
	Database DatabaseConfig
	Redis    RedisConfig
	MQTT     MQTTConfig

	// Monitor 数据源配置
	Monitor struct {
		// MQTT 快照主题（retained，订阅即收到最近一次全量快照）
		SnapshotTopic string
		// 连接后发布快照请求的主题（Monitor 端收到后重发全量快照）
		RequestTopic string
		// HTTP 轮询兜底（MQTT 断线期间使用）
		HTTPBaseURL  string
		PollInterval time.Duration

		// 重连退避策略
		ReconnectMinDelay   time.Duration
		ReconnectMaxDelay   time.Duration
		ReconnectMultiplier float64
		// 连接存活超过该时长后，下次断线的退避从最小值重新开始
		SustainedConnectionResetThreshold time.Duration
	}

	// 同步引擎配置
	Sync struct {
		// 消失防抖窗口：病例从 Monitor 消失持续超过该时长才允许判定完成
		DebounceWindow time.Duration
		// 术后字段补录复查间隔（pending data 状态的病例定期复查）
		PostOpRecheckInterval time.Duration
		// Schedule Store 写失败的有界重试次数
		StoreWriteRetries int
		// 写重试初始退避
		StoreWriteBackoff time.Duration
		// 队列模式: "numeric" 或 "time_ordered"
		QueueMode string

		// Redis Streams / 缓存配置
		Stream struct {
			Transitions string // 状态跃迁事件流，如 "surgibot:transitions:stream"
		}
		Cache struct {
			CaseViewKeyPrefix string // 病例视图缓存键前缀，如 "surgibot:case:"
			CaseViewTTL       int    // 病例视图 TTL（秒）
			HealthKey         string // 健康状态缓存键
		}
	}

	// 共享设置（跨实例同步，load-on-start + 周期刷新）
	Settings struct {
		Key             string
		RefreshInterval time.Duration
	}

	Log struct {
		Level  string
		Format string
	}
}

// Load 加载配置
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.Database.Host = getEnv("DB_HOST", "localhost")
	cfg.Database.Port = getEnvInt("DB_PORT", 5432)
	cfg.Database.User = getEnv("DB_USER", "postgres")
	cfg.Database.Password = getEnv("DB_PASSWORD", "postgres")
	cfg.Database.Database = getEnv("DB_NAME", "surgibot")
	cfg.Database.SSLMode = getEnv("DB_SSLMODE", "disable")
	cfg.Database.MaxConns = getEnvInt("DB_MAX_CONNS", 10)
	cfg.Database.MaxIdle = getEnvInt("DB_MAX_IDLE", 5)

	cfg.Redis.Addr = getEnv("REDIS_ADDR", "localhost:6379")
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", "")
	cfg.Redis.DB = getEnvInt("REDIS_DB", 0)

	cfg.MQTT.Broker = getEnv("MQTT_BROKER", "tcp://localhost:1883")
	cfg.MQTT.ClientID = getEnv("MQTT_CLIENT_ID", "surgibot-sync")
	cfg.MQTT.Username = getEnv("MQTT_USERNAME", "")
	cfg.MQTT.Password = getEnv("MQTT_PASSWORD", "")
	cfg.MQTT.QoS = 1

	cfg.Monitor.SnapshotTopic = getEnv("MONITOR_SNAPSHOT_TOPIC", "surgibot/monitor/snapshot")
	cfg.Monitor.RequestTopic = getEnv("MONITOR_REQUEST_TOPIC", "surgibot/monitor/request")
	cfg.Monitor.HTTPBaseURL = getEnv("MONITOR_HTTP_BASE_URL", "http://localhost:5000")
	cfg.Monitor.PollInterval = getEnvDuration("MONITOR_POLL_INTERVAL", 3*time.Second)
	cfg.Monitor.ReconnectMinDelay = getEnvDuration("MONITOR_RECONNECT_MIN_DELAY", 1*time.Second)
	cfg.Monitor.ReconnectMaxDelay = getEnvDuration("MONITOR_RECONNECT_MAX_DELAY", 60*time.Second)
	cfg.Monitor.ReconnectMultiplier = getEnvFloat("MONITOR_RECONNECT_MULTIPLIER", 2.0)
	cfg.Monitor.SustainedConnectionResetThreshold = getEnvDuration("MONITOR_SUSTAINED_RESET_THRESHOLD", 60*time.Second)

	cfg.Sync.DebounceWindow = getEnvDuration("SYNC_DEBOUNCE_WINDOW", 2*time.Minute)
	cfg.Sync.PostOpRecheckInterval = getEnvDuration("SYNC_POSTOP_RECHECK_INTERVAL", 30*time.Second)
	cfg.Sync.StoreWriteRetries = getEnvInt("SYNC_STORE_WRITE_RETRIES", 3)
	cfg.Sync.StoreWriteBackoff = getEnvDuration("SYNC_STORE_WRITE_BACKOFF", 200*time.Millisecond)
	cfg.Sync.QueueMode = getEnv("SYNC_QUEUE_MODE", "numeric")
	cfg.Sync.Stream.Transitions = getEnv("SYNC_TRANSITIONS_STREAM", "surgibot:transitions:stream")
	cfg.Sync.Cache.CaseViewKeyPrefix = getEnv("SYNC_CASE_VIEW_PREFIX", "surgibot:case:")
	cfg.Sync.Cache.CaseViewTTL = getEnvInt("SYNC_CASE_VIEW_TTL", 300)
	cfg.Sync.Cache.HealthKey = getEnv("SYNC_HEALTH_KEY", "surgibot:health")

	cfg.Settings.Key = getEnv("SETTINGS_SHARED_KEY", "surgibot:settings:shared")
	cfg.Settings.RefreshInterval = getEnvDuration("SETTINGS_REFRESH_INTERVAL", 30*time.Second)

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// validate 校验关键参数，避免退避/防抖配置为非法值
func (c *Config) validate() error {
	if c.Monitor.ReconnectMinDelay <= 0 {
		return fmt.Errorf("MONITOR_RECONNECT_MIN_DELAY must be positive")
	}
	if c.Monitor.ReconnectMaxDelay < c.Monitor.ReconnectMinDelay {
		return fmt.Errorf("MONITOR_RECONNECT_MAX_DELAY must be >= min delay")
	}
	if c.Monitor.ReconnectMultiplier < 1.0 {
		return fmt.Errorf("MONITOR_RECONNECT_MULTIPLIER must be >= 1.0")
	}
	if c.Sync.DebounceWindow <= 0 {
		return fmt.Errorf("SYNC_DEBOUNCE_WINDOW must be positive")
	}
	if c.Sync.QueueMode != "numeric" && c.Sync.QueueMode != "time_ordered" {
		return fmt.Errorf("SYNC_QUEUE_MODE must be \"numeric\" or \"time_ordered\", got %q", c.Sync.QueueMode)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
