package config

import (
	"time"
)

type Config struct {
	Server         ServerConfig         `mapstructure:"server"`
	Database       DatabaseConfig       `mapstructure:"database"`
	Broker         BrokerConfig         `mapstructure:"broker"`
	Logging        LoggingConfig        `mapstructure:"logging"`
	Dedup          DedupConfig          `mapstructure:"dedup"`
	Quota          QuotaConfig          `mapstructure:"quota"`
	Rules          RulesConfig          `mapstructure:"rules"`
	Delivery       DeliveryConfig       `mapstructure:"delivery"`
	CircuitBreaker CircuitBreakerConfig `mapstructure:"circuit_breaker"`
	QuietHours     QuietHoursConfig     `mapstructure:"quiet_hours"`
	Messenger      MessengerConfig      `mapstructure:"messenger"`
	Audit          AuditConfig          `mapstructure:"audit"`
	Workers        WorkersConfig        `mapstructure:"workers"`
	Tracing        TracingConfig        `mapstructure:"tracing"`
}

type ServerConfig struct {
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type DatabaseConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
	MongoDB  MongoDBConfig  `mapstructure:"mongodb"`
}

type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
	MaxConns int    `mapstructure:"max_conns"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type MongoDBConfig struct {
	URI      string `mapstructure:"uri"`
	Database string `mapstructure:"database"`
}

type BrokerConfig struct {
	Type  string      `mapstructure:"type"`
	Kafka KafkaConfig `mapstructure:"kafka"`
}

type KafkaConfig struct {
	Brokers           []string    `mapstructure:"brokers"`
	GroupID           string      `mapstructure:"group_id"`
	InputTopic        string      `mapstructure:"input_topic"`
	AlertTopic        string      `mapstructure:"alert_topic"`
	ConfigUpdateTopic string      `mapstructure:"config_update_topic"`
	DLQTopic          string      `mapstructure:"dlq_topic"`
	Retry             RetryConfig `mapstructure:"retry"`
}

type RetryConfig struct {
	MaxAttempts     int           `mapstructure:"max_attempts"`
	InitialInterval time.Duration `mapstructure:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval"`
	Multiplier      float64       `mapstructure:"multiplier"`
	MaxElapsedTime  time.Duration `mapstructure:"max_elapsed_time"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type DedupConfig struct {
	Backend       string        `mapstructure:"backend"` // "memory" (default) or "redis"
	TTL           time.Duration `mapstructure:"ttl"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

type QuotaConfig struct {
	WarningPercent  float64 `mapstructure:"warning_percent"`
	CriticalPercent float64 `mapstructure:"critical_percent"`
}

type RulesConfig struct {
	CacheTTL time.Duration `mapstructure:"cache_ttl"` // zero disables the cache
}

type DeliveryConfig struct {
	TierTimeout  time.Duration `mapstructure:"tier_timeout"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
	// SkipEmergencyWithoutAlternate stops the sequence after tier 3 when the tenant has
	// no second channel instead of falling through to the emergency path.
	SkipEmergencyWithoutAlternate bool `mapstructure:"skip_emergency_without_alternate"`
}

type CircuitBreakerConfig struct {
	Threshold uint32        `mapstructure:"threshold"`
	Cooldown  time.Duration `mapstructure:"cooldown"`
}

type QuietHoursConfig struct {
	SweepInterval time.Duration `mapstructure:"sweep_interval"` // zero leaves sweeping to an external scheduler
	BatchSize     int           `mapstructure:"batch_size"`
	MaxAttempts   int           `mapstructure:"max_attempts"`
	MaxAge        time.Duration `mapstructure:"max_age"`
	Lease         time.Duration `mapstructure:"lease"`
	RetryInterval time.Duration `mapstructure:"retry_interval"`
}

type MessengerConfig struct {
	Timeout       time.Duration `mapstructure:"timeout"`
	RatePerSecond float64       `mapstructure:"rate_per_second"`
	Burst         int           `mapstructure:"burst"`
	Username      string        `mapstructure:"username"`
}

type AuditConfig struct {
	Backend string `mapstructure:"backend"` // "postgres" (default) or "mongodb"
}

type WorkersConfig struct {
	Count     int `mapstructure:"count"`
	QueueSize int `mapstructure:"queue_size"`
}

type TracingConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	ServiceName string        `mapstructure:"service_name"`
	OTLP        OTLPConfig    `mapstructure:"otlp"`
	Sampler     SamplerConfig `mapstructure:"sampler"`
}

type OTLPConfig struct {
	Endpoint string `mapstructure:"endpoint"`
	Insecure bool   `mapstructure:"insecure"`
}

type SamplerConfig struct {
	Type  string  `mapstructure:"type"`
	Param float64 `mapstructure:"param"`
}

func Load(configFile string) (*Config, error) {
	return LoadConfig(configFile)
}
