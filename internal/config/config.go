package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/viper"

	"sudooom.im.realtime/internal/model"
)

type Config struct {
	App       AppConfig       `mapstructure:"app"`
	JWT       JWTConfig       `mapstructure:"jwt"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	NATS      NATSConfig      `mapstructure:"nats"`
	Presence  PresenceConfig  `mapstructure:"presence"`
	Typing    TypingConfig    `mapstructure:"typing"`
	Workers   WorkersConfig   `mapstructure:"workers"`
	WebSocket WebSocketConfig `mapstructure:"websocket"`
	CORS      CORSConfig      `mapstructure:"cors"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Limits    LimitsConfig    `mapstructure:"limits"`
}

type AppConfig struct {
	Name     string `mapstructure:"name"`
	Port     int    `mapstructure:"port"`
	Mode     string `mapstructure:"mode"`
	NodeID   int64  `mapstructure:"node_id"`
	LogLevel string `mapstructure:"log_level"`
}

type JWTConfig struct {
	SecretKey    string        `mapstructure:"secret_key"`
	AccessExpire time.Duration `mapstructure:"access_expire"`
}

// StorageConfig 存储后端选择：postgres 或 memory
type StorageConfig struct {
	Driver   string `mapstructure:"driver"`
	SeedFile string `mapstructure:"seed_file"`
}

type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// DSN 拼接 PostgreSQL 连接串
func (c *DatabaseConfig) DSN() string {
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     c.Host + ":" + strconv.Itoa(c.Port),
		Path:     "/" + c.Name,
		RawQuery: "sslmode=" + sslMode,
	}
	return u.String()
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

// Addr Redis 地址
func (c *RedisConfig) Addr() string {
	return c.Host + ":" + strconv.Itoa(c.Port)
}

type NATSConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	URL           string        `mapstructure:"url"`
	MaxReconnects int           `mapstructure:"max_reconnects"`
	ReconnectWait time.Duration `mapstructure:"reconnect_wait"`
	SubjectPrefix string        `mapstructure:"subject_prefix"`
	Breaker       BreakerConfig `mapstructure:"breaker"`
}

// BreakerConfig 跨节点转发的熔断参数
type BreakerConfig struct {
	MaxRequests      uint32        `mapstructure:"max_requests"`
	Interval         time.Duration `mapstructure:"interval"`
	Timeout          time.Duration `mapstructure:"timeout"`
	FailureThreshold uint32        `mapstructure:"failure_threshold"`
}

type PresenceConfig struct {
	OfflineThreshold time.Duration `mapstructure:"offline_threshold"`
	SweepInterval    time.Duration `mapstructure:"sweep_interval"`
	SyncInterval     time.Duration `mapstructure:"sync_interval"`
}

type TypingConfig struct {
	TTL          time.Duration `mapstructure:"ttl"`
	TickInterval time.Duration `mapstructure:"tick_interval"`
	WheelSlots   int           `mapstructure:"wheel_slots"`
}

type WorkersConfig struct {
	Size      int `mapstructure:"size"`
	QueueSize int `mapstructure:"queue_size"`
}

type WebSocketConfig struct {
	AuthTimeout     time.Duration `mapstructure:"auth_timeout"`
	PingInterval    time.Duration `mapstructure:"ping_interval"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ReadLimit       string        `mapstructure:"read_limit"`
	SendBuffer      int           `mapstructure:"send_buffer"`
	FramesPerSecond float64       `mapstructure:"frames_per_second"`
	Burst           int           `mapstructure:"burst"`
}

// ReadLimitBytes 单帧读取上限
func (c *WebSocketConfig) ReadLimitBytes() (int64, error) {
	n, err := humanize.ParseBytes(c.ReadLimit)
	if err != nil {
		return 0, fmt.Errorf("websocket.read_limit: %w", err)
	}
	return int64(n), nil
}

type CORSConfig struct {
	AllowedOrigins   []string `mapstructure:"allowed_origins"`
	AllowedMethods   []string `mapstructure:"allowed_methods"`
	AllowCredentials bool     `mapstructure:"allow_credentials"`
}

type RateLimitConfig struct {
	Enabled           bool `mapstructure:"enabled"`
	RequestsPerMinute int  `mapstructure:"requests_per_minute"`
}

// LimitsConfig 消息限制，大小使用人类可读格式如 "100MB"
type LimitsConfig struct {
	MaxAttachments    int    `mapstructure:"max_attachments"`
	MaxAttachmentSize string `mapstructure:"max_attachment_size"`
}

// Message 转换为消息限制，配置值不能超过存储层上限
func (c *LimitsConfig) Message() (model.Limits, error) {
	size, err := humanize.ParseBytes(c.MaxAttachmentSize)
	if err != nil {
		return model.Limits{}, fmt.Errorf("limits.max_attachment_size: %w", err)
	}
	limits := model.DefaultLimits()
	if c.MaxAttachments > 0 {
		limits.MaxAttachments = min(c.MaxAttachments, model.MaxAttachments)
	}
	if size > 0 {
		limits.MaxAttachmentSize = min(int64(size), model.MaxAttachmentSize)
	}
	return limits, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "im-realtime")
	v.SetDefault("app.port", 8090)
	v.SetDefault("app.mode", "release")
	v.SetDefault("app.node_id", 1)
	v.SetDefault("app.log_level", "info")

	v.SetDefault("jwt.access_expire", 2*time.Hour)

	v.SetDefault("storage.driver", "postgres")

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.name", "im_realtime")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", time.Hour)

	v.SetDefault("redis.enabled", true)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.pool_size", 20)

	v.SetDefault("nats.enabled", false)
	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.max_reconnects", -1)
	v.SetDefault("nats.reconnect_wait", 2*time.Second)
	v.SetDefault("nats.subject_prefix", "im.fanout")
	v.SetDefault("nats.breaker.max_requests", 1)
	v.SetDefault("nats.breaker.interval", time.Minute)
	v.SetDefault("nats.breaker.timeout", 30*time.Second)
	v.SetDefault("nats.breaker.failure_threshold", 5)

	v.SetDefault("presence.offline_threshold", 3*time.Minute)
	v.SetDefault("presence.sweep_interval", 30*time.Second)
	v.SetDefault("presence.sync_interval", 5*time.Minute)

	v.SetDefault("typing.ttl", 5*time.Second)
	v.SetDefault("typing.tick_interval", 100*time.Millisecond)
	v.SetDefault("typing.wheel_slots", 60)

	v.SetDefault("workers.size", 8)
	v.SetDefault("workers.queue_size", 1024)

	v.SetDefault("websocket.auth_timeout", 10*time.Second)
	v.SetDefault("websocket.ping_interval", 30*time.Second)
	v.SetDefault("websocket.write_timeout", 10*time.Second)
	v.SetDefault("websocket.read_limit", "64KB")
	v.SetDefault("websocket.send_buffer", 256)
	v.SetDefault("websocket.frames_per_second", 20)
	v.SetDefault("websocket.burst", 40)

	v.SetDefault("cors.allowed_origins", []string{"*"})
	v.SetDefault("cors.allowed_methods", []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"})

	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.requests_per_minute", 600)

	v.SetDefault("limits.max_attachments", model.MaxAttachments)
	v.SetDefault("limits.max_attachment_size", "100MB")
}

// Load 加载配置，path 为空时只使用默认值和环境变量
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// 从环境变量覆盖配置
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnv 从环境变量覆盖配置
func (c *Config) applyEnv() {
	// App
	c.App.Port = GetEnvInt("REALTIME_PORT", c.App.Port)
	c.App.Mode = GetEnv("REALTIME_MODE", c.App.Mode)
	c.App.NodeID = int64(GetEnvInt("REALTIME_NODE_ID", int(c.App.NodeID)))
	c.App.LogLevel = GetEnv("REALTIME_LOG_LEVEL", c.App.LogLevel)

	// JWT
	c.JWT.SecretKey = GetEnv("JWT_SECRET", c.JWT.SecretKey)
	c.JWT.AccessExpire = GetEnvDuration("JWT_ACCESS_EXPIRE", c.JWT.AccessExpire)

	// Storage
	c.Storage.Driver = GetEnv("REALTIME_STORAGE_DRIVER", c.Storage.Driver)
	c.Storage.SeedFile = GetEnv("REALTIME_SEED_FILE", c.Storage.SeedFile)

	// Database
	c.Database.Host = GetEnv("POSTGRES_HOST", c.Database.Host)
	c.Database.Port = GetEnvInt("POSTGRES_PORT", c.Database.Port)
	c.Database.User = GetEnv("POSTGRES_USER", c.Database.User)
	c.Database.Password = GetEnv("POSTGRES_PASSWORD", c.Database.Password)
	c.Database.Name = GetEnv("POSTGRES_DB", c.Database.Name)
	c.Database.MaxOpenConns = GetEnvInt("POSTGRES_MAX_OPEN_CONNS", c.Database.MaxOpenConns)
	c.Database.MaxIdleConns = GetEnvInt("POSTGRES_MAX_IDLE_CONNS", c.Database.MaxIdleConns)

	// Redis
	c.Redis.Enabled = GetEnvBool("REDIS_ENABLED", c.Redis.Enabled)
	c.Redis.Host = GetEnv("REDIS_HOST", c.Redis.Host)
	c.Redis.Port = GetEnvInt("REDIS_PORT", c.Redis.Port)
	c.Redis.Password = GetEnv("REDIS_PASSWORD", c.Redis.Password)
	c.Redis.DB = GetEnvInt("REDIS_DB", c.Redis.DB)
	c.Redis.PoolSize = GetEnvInt("REDIS_POOL_SIZE", c.Redis.PoolSize)

	// NATS
	c.NATS.Enabled = GetEnvBool("NATS_ENABLED", c.NATS.Enabled)
	c.NATS.URL = GetEnv("NATS_URL", c.NATS.URL)

	// Presence & Typing
	c.Presence.OfflineThreshold = GetEnvDuration("REALTIME_OFFLINE_THRESHOLD", c.Presence.OfflineThreshold)
	c.Presence.SweepInterval = GetEnvDuration("REALTIME_SWEEP_INTERVAL", c.Presence.SweepInterval)
	c.Presence.SyncInterval = GetEnvDuration("REALTIME_SYNC_INTERVAL", c.Presence.SyncInterval)
	c.Typing.TTL = GetEnvDuration("REALTIME_TYPING_TTL", c.Typing.TTL)

	// CORS
	c.CORS.AllowedOrigins = GetEnvSlice("REALTIME_CORS_ORIGINS", c.CORS.AllowedOrigins)
}

// Validate 校验配置
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case "postgres", "memory":
	default:
		return fmt.Errorf("storage.driver must be postgres or memory, got %q", c.Storage.Driver)
	}
	switch c.App.Mode {
	case "debug", "release", "test":
	default:
		return fmt.Errorf("app.mode must be debug, release or test, got %q", c.App.Mode)
	}
	if c.JWT.SecretKey == "" {
		return fmt.Errorf("jwt.secret_key is required")
	}
	if c.App.NodeID < 0 || c.App.NodeID > 1023 {
		return fmt.Errorf("app.node_id must be in [0, 1023], got %d", c.App.NodeID)
	}
	if c.Presence.OfflineThreshold <= 0 || c.Presence.SweepInterval <= 0 || c.Presence.SyncInterval <= 0 {
		return fmt.Errorf("presence intervals must be positive")
	}
	if c.Typing.TTL <= 0 || c.Typing.TickInterval <= 0 || c.Typing.WheelSlots <= 0 {
		return fmt.Errorf("typing ttl, tick_interval and wheel_slots must be positive")
	}
	if _, err := c.Limits.Message(); err != nil {
		return err
	}
	if _, err := c.WebSocket.ReadLimitBytes(); err != nil {
		return err
	}
	return nil
}

// SlogLevel 解析日志级别
func (c *AppConfig) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
