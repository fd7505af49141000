package constants

import "time"

const ServiceName = "relay-service"

const (
	KafkaBatchTimeout = 10 * time.Millisecond
	KafkaWriteTimeout = 10 * time.Second
)

const (
	DefaultHTTPTimeout = 10 * time.Second
)

const (
	CacheKeyPrefixDedup = "dedup:"
)

const (
	DefaultInputTopic = "crm_events"
	DefaultAlertTopic = "relay_alerts"
)

const (
	DefaultMongoDBName         = "relay"
	AuditCollection            = "notification_logs"
	DefaultAuditPayloadMaxSize = 16 * 1024
)

const (
	ShutdownTimeout = 5 * time.Second
)

const (
	DedupBackendMemory = "memory"
	DedupBackendRedis  = "redis"
)

const (
	AuditBackendPostgres = "postgres"
	AuditBackendMongoDB  = "mongodb"
)

const (
	HTTPStatusOKMin = 200
	HTTPStatusOKMax = 300
)
