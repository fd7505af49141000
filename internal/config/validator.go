package config

import (
	"fmt"
	"strings"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

func ValidateStatic(cfg *Config) error {
	var errors []error

	if err := validateServer(cfg.Server); err != nil {
		errors = append(errors, err)
	}

	if err := validateBroker(cfg.Broker); err != nil {
		errors = append(errors, err)
	}

	if err := validateDatabase(cfg.Database); err != nil {
		errors = append(errors, err)
	}

	if err := validateDedup(cfg.Dedup, cfg.Database); err != nil {
		errors = append(errors, err)
	}

	if err := validateQuota(cfg.Quota); err != nil {
		errors = append(errors, err)
	}

	if err := validateDelivery(cfg.Delivery, cfg.CircuitBreaker); err != nil {
		errors = append(errors, err)
	}

	if err := validateAudit(cfg.Audit, cfg.Database); err != nil {
		errors = append(errors, err)
	}

	if err := validateWorkers(cfg.Workers); err != nil {
		errors = append(errors, err)
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errors)
	}

	return nil
}

func validateServer(cfg ServerConfig) error {
	if cfg.Port < 1 || cfg.Port > 65535 {
		return &ValidationError{
			Field:   "server.port",
			Message: fmt.Sprintf("port must be between 1 and 65535, got %d", cfg.Port),
		}
	}

	if cfg.ReadTimeout <= 0 {
		return &ValidationError{
			Field:   "server.read_timeout",
			Message: "read timeout must be positive",
		}
	}

	if cfg.WriteTimeout <= 0 {
		return &ValidationError{
			Field:   "server.write_timeout",
			Message: "write timeout must be positive",
		}
	}

	return nil
}

func validateBroker(cfg BrokerConfig) error {
	if cfg.Type == "" {
		return &ValidationError{
			Field:   "broker.type",
			Message: "broker type is required",
		}
	}

	switch cfg.Type {
	case "kafka":
		return validateKafka(cfg.Kafka)
	case "none":
		return nil
	default:
		return &ValidationError{
			Field:   "broker.type",
			Message: fmt.Sprintf("unknown broker type: %s (supported: kafka, none)", cfg.Type),
		}
	}
}

func validateKafka(cfg KafkaConfig) error {
	if len(cfg.Brokers) == 0 {
		return &ValidationError{
			Field:   "broker.kafka.brokers",
			Message: "at least one Kafka broker is required",
		}
	}

	for i, broker := range cfg.Brokers {
		if broker == "" {
			return &ValidationError{
				Field:   fmt.Sprintf("broker.kafka.brokers[%d]", i),
				Message: "broker address cannot be empty",
			}
		}
	}

	if cfg.GroupID == "" {
		return &ValidationError{
			Field:   "broker.kafka.group_id",
			Message: "Kafka consumer group ID is required",
		}
	}

	if cfg.Retry.MaxAttempts < 0 {
		return &ValidationError{
			Field:   "broker.kafka.retry.max_attempts",
			Message: "max_attempts must be non-negative",
		}
	}

	if cfg.Retry.InitialInterval < 0 {
		return &ValidationError{
			Field:   "broker.kafka.retry.initial_interval",
			Message: "initial_interval must be non-negative",
		}
	}

	if cfg.Retry.MaxInterval < 0 {
		return &ValidationError{
			Field:   "broker.kafka.retry.max_interval",
			Message: "max_interval must be non-negative",
		}
	}

	if cfg.Retry.MaxInterval > 0 && cfg.Retry.InitialInterval > 0 && cfg.Retry.MaxInterval < cfg.Retry.InitialInterval {
		return &ValidationError{
			Field:   "broker.kafka.retry.max_interval",
			Message: "max_interval must be greater than or equal to initial_interval",
		}
	}

	if cfg.Retry.Multiplier <= 0 {
		return &ValidationError{
			Field:   "broker.kafka.retry.multiplier",
			Message: "multiplier must be positive",
		}
	}

	return nil
}

func validateDatabase(cfg DatabaseConfig) error {
	if cfg.Postgres.Host != "" || cfg.Postgres.Port > 0 {
		if err := validatePostgres(cfg.Postgres); err != nil {
			return err
		}
	}

	if cfg.Redis.Host != "" || cfg.Redis.Port > 0 {
		if err := validateRedis(cfg.Redis); err != nil {
			return err
		}
	}

	if cfg.MongoDB.URI != "" {
		if err := validateMongoDB(cfg.MongoDB); err != nil {
			return err
		}
	}

	return nil
}

func validatePostgres(cfg PostgresConfig) error {
	if cfg.Host == "" {
		return &ValidationError{
			Field:   "database.postgres.host",
			Message: "PostgreSQL host is required",
		}
	}

	if cfg.Port < 1 || cfg.Port > 65535 {
		return &ValidationError{
			Field:   "database.postgres.port",
			Message: fmt.Sprintf("port must be between 1 and 65535, got %d", cfg.Port),
		}
	}

	if cfg.User == "" {
		return &ValidationError{
			Field:   "database.postgres.user",
			Message: "PostgreSQL user is required",
		}
	}

	if cfg.DBName == "" {
		return &ValidationError{
			Field:   "database.postgres.dbname",
			Message: "PostgreSQL database name is required",
		}
	}

	validSSLModes := map[string]bool{
		"disable": true, "allow": true, "prefer": true,
		"require": true, "verify-ca": true, "verify-full": true,
	}
	if cfg.SSLMode != "" && !validSSLModes[strings.ToLower(cfg.SSLMode)] {
		return &ValidationError{
			Field:   "database.postgres.sslmode",
			Message: fmt.Sprintf("invalid SSL mode: %s (valid: disable, allow, prefer, require, verify-ca, verify-full)", cfg.SSLMode),
		}
	}

	return nil
}

func validateRedis(cfg RedisConfig) error {
	if cfg.Host == "" {
		return &ValidationError{
			Field:   "database.redis.host",
			Message: "Redis host is required",
		}
	}

	if cfg.Port < 1 || cfg.Port > 65535 {
		return &ValidationError{
			Field:   "database.redis.port",
			Message: fmt.Sprintf("port must be between 1 and 65535, got %d", cfg.Port),
		}
	}

	return nil
}

func validateMongoDB(cfg MongoDBConfig) error {
	if cfg.URI == "" {
		return &ValidationError{
			Field:   "database.mongodb.uri",
			Message: "MongoDB URI is required",
		}
	}

	if !strings.HasPrefix(cfg.URI, "mongodb://") && !strings.HasPrefix(cfg.URI, "mongodb+srv://") {
		return &ValidationError{
			Field:   "database.mongodb.uri",
			Message: "MongoDB URI must start with mongodb:// or mongodb+srv://",
		}
	}

	if cfg.Database == "" {
		return &ValidationError{
			Field:   "database.mongodb.database",
			Message: "MongoDB database name is required",
		}
	}

	return nil
}

func validateDedup(cfg DedupConfig, db DatabaseConfig) error {
	switch strings.ToLower(cfg.Backend) {
	case "", "memory":
	case "redis":
		if db.Redis.Host == "" {
			return &ValidationError{
				Field:   "dedup.backend",
				Message: "redis backend requires database.redis.host",
			}
		}
	default:
		return &ValidationError{
			Field:   "dedup.backend",
			Message: fmt.Sprintf("invalid dedup backend: %s (valid: memory, redis)", cfg.Backend),
		}
	}

	if cfg.TTL < 0 {
		return &ValidationError{
			Field:   "dedup.ttl",
			Message: "TTL must be non-negative",
		}
	}

	if cfg.SweepInterval < 0 {
		return &ValidationError{
			Field:   "dedup.sweep_interval",
			Message: "sweep interval must be non-negative",
		}
	}

	return nil
}

func validateQuota(cfg QuotaConfig) error {
	if cfg.WarningPercent < 0 || cfg.WarningPercent > 100 {
		return &ValidationError{
			Field:   "quota.warning_percent",
			Message: fmt.Sprintf("must be between 0 and 100, got %v", cfg.WarningPercent),
		}
	}

	if cfg.CriticalPercent < 0 || cfg.CriticalPercent > 100 {
		return &ValidationError{
			Field:   "quota.critical_percent",
			Message: fmt.Sprintf("must be between 0 and 100, got %v", cfg.CriticalPercent),
		}
	}

	if cfg.CriticalPercent > 0 && cfg.WarningPercent > cfg.CriticalPercent {
		return &ValidationError{
			Field:   "quota.warning_percent",
			Message: "warning threshold must not exceed critical threshold",
		}
	}

	return nil
}

func validateDelivery(cfg DeliveryConfig, cb CircuitBreakerConfig) error {
	if cfg.TierTimeout <= 0 {
		return &ValidationError{
			Field:   "delivery.tier_timeout",
			Message: "tier timeout must be positive",
		}
	}

	if cfg.RetryBackoff < 0 {
		return &ValidationError{
			Field:   "delivery.retry_backoff",
			Message: "retry backoff must be non-negative",
		}
	}

	if cb.Threshold == 0 {
		return &ValidationError{
			Field:   "circuit_breaker.threshold",
			Message: "threshold must be at least 1",
		}
	}

	if cb.Cooldown <= 0 {
		return &ValidationError{
			Field:   "circuit_breaker.cooldown",
			Message: "cooldown must be positive",
		}
	}

	return nil
}

func validateAudit(cfg AuditConfig, db DatabaseConfig) error {
	switch strings.ToLower(cfg.Backend) {
	case "", "postgres":
		return nil
	case "mongodb":
		if db.MongoDB.URI == "" {
			return &ValidationError{
				Field:   "audit.backend",
				Message: "mongodb backend requires database.mongodb.uri",
			}
		}
		return nil
	default:
		return &ValidationError{
			Field:   "audit.backend",
			Message: fmt.Sprintf("invalid audit backend: %s (valid: postgres, mongodb)", cfg.Backend),
		}
	}
}

func validateWorkers(cfg WorkersConfig) error {
	if cfg.Count < 1 {
		return &ValidationError{
			Field:   "workers.count",
			Message: "at least one worker is required",
		}
	}

	if cfg.QueueSize < 0 {
		return &ValidationError{
			Field:   "workers.queue_size",
			Message: "queue size must be non-negative",
		}
	}

	return nil
}
