package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config 全局配置结构
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Kafka       KafkaConfig       `mapstructure:"kafka"`
	Log         LogConfig         `mapstructure:"log"`
	Idempotency IdempotencyConfig `mapstructure:"idempotency"`
	Outbox      OutboxConfig      `mapstructure:"outbox"`
	Integrity   IntegrityConfig   `mapstructure:"integrity"`
	Posting     PostingConfig     `mapstructure:"posting"`
}

type ServerConfig struct {
	Port   int `mapstructure:"port"`
	NodeID int `mapstructure:"node_id"`
}

// DatabaseConfig 数据库配置，driver 支持 mysql / postgres / sqlite
type DatabaseConfig struct {
	Driver       string `mapstructure:"driver"`
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	SQLitePath   string `mapstructure:"sqlite_path"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
	LogLevel     string `mapstructure:"log_level"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type KafkaConfig struct {
	Brokers  []string `mapstructure:"brokers"`
	ClientID string   `mapstructure:"client_id"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// IdempotencyConfig 幂等配置
type IdempotencyConfig struct {
	TTL               time.Duration `mapstructure:"ttl"`
	RetryAttempts     int           `mapstructure:"retry_attempts"`
	RetryInitial      time.Duration `mapstructure:"retry_initial"`
	RetryMax          time.Duration `mapstructure:"retry_max"`
	InFlightWait      time.Duration `mapstructure:"in_flight_wait"`
	BreakerFailures   uint32        `mapstructure:"breaker_failures"`
	BreakerOpenWindow time.Duration `mapstructure:"breaker_open_window"`
}

// OutboxConfig 发件箱转发配置
type OutboxConfig struct {
	RelayInterval           time.Duration `mapstructure:"relay_interval"`
	BatchSize               int           `mapstructure:"batch_size"`
	RetryStreakThreshold    int           `mapstructure:"retry_streak_threshold"`
	OldestUnpublishedAlert  time.Duration `mapstructure:"oldest_unpublished_alert"`
	BreakerFailures         uint32        `mapstructure:"breaker_failures"`
	BreakerOpenWindow       time.Duration `mapstructure:"breaker_open_window"`
	BreakerHalfOpenRequests uint32        `mapstructure:"breaker_half_open_requests"`
	LockTTL                 time.Duration `mapstructure:"lock_ttl"`
	CleanupInterval         time.Duration `mapstructure:"cleanup_interval"`
	Retention               time.Duration `mapstructure:"retention"`
}

type IntegrityConfig struct {
	CheckInterval time.Duration `mapstructure:"check_interval"`
}

// PostingConfig 记账相关配置
type PostingConfig struct {
	EventDomain string `mapstructure:"event_domain"`
}

// EventType 记账完成事件类型，同时作为 Kafka topic
func (c PostingConfig) EventType() string {
	return c.EventDomain + ".journal.posted"
}

var GlobalConfig *Config

// SetDefaults 注册默认值
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.node_id", 1)

	v.SetDefault("database.driver", "mysql")
	v.SetDefault("database.port", 3306)
	v.SetDefault("database.sqlite_path", "ledger.db")
	v.SetDefault("database.max_open_conns", 50)
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("database.log_level", "warn")

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)

	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.client_id", "ledger-system")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("idempotency.ttl", 72*time.Hour)
	v.SetDefault("idempotency.retry_attempts", 3)
	v.SetDefault("idempotency.retry_initial", 10*time.Millisecond)
	v.SetDefault("idempotency.retry_max", 100*time.Millisecond)
	v.SetDefault("idempotency.in_flight_wait", 5*time.Second)
	v.SetDefault("idempotency.breaker_failures", 5)
	v.SetDefault("idempotency.breaker_open_window", 10*time.Second)

	v.SetDefault("outbox.relay_interval", time.Second)
	v.SetDefault("outbox.batch_size", 100)
	v.SetDefault("outbox.retry_streak_threshold", 5)
	v.SetDefault("outbox.oldest_unpublished_alert", 5*time.Minute)
	v.SetDefault("outbox.breaker_failures", 5)
	v.SetDefault("outbox.breaker_open_window", 30*time.Second)
	v.SetDefault("outbox.breaker_half_open_requests", 1)
	v.SetDefault("outbox.lock_ttl", 30*time.Second)
	v.SetDefault("outbox.cleanup_interval", time.Hour)
	v.SetDefault("outbox.retention", 7*24*time.Hour)

	v.SetDefault("integrity.check_interval", time.Hour)

	v.SetDefault("posting.event_domain", "ledger")
}

// LoadConfig 加载配置文件，环境变量 LEDGER_* 优先
func LoadConfig(configPath string) (*Config, error) {
	// .env 不存在时忽略
	_ = godotenv.Load()

	v := viper.New()
	SetDefaults(v)
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("LEDGER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	config := &Config{}
	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}

	GlobalConfig = config
	return config, nil
}
