package metrics

import (
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	DispatchEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_events_total",
			Help: "Total number of inbound events dispatched, by outcome (count)",
		},
		[]string{"outcome"},
	)

	DispatchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dispatch_duration_ms",
			Help:    "End-to-end dispatch duration of one inbound event in milliseconds",
			Buckets: []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000},
		},
		[]string{"outcome"},
	)

	NotificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifications_total",
			Help: "Total number of per-rule notification outcomes (count)",
		},
		[]string{"status", "reason"},
	)

	DeliveryAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "delivery_attempts_total",
			Help: "Total number of delivery tier attempts (count)",
		},
		[]string{"tier", "result"},
	)

	DeliveryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "delivery_duration_ms",
			Help:    "Duration of a full delivery sequence in milliseconds",
			Buckets: []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000},
		},
		[]string{"result"},
	)

	BackupTierTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "delivery_backup_tier_total",
			Help: "Total number of deliveries that succeeded on a backup tier (count)",
		},
		[]string{"tier"},
	)

	DedupEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dedup_events_total",
			Help: "Total number of dedup checks, by result (count)",
		},
		[]string{"status"},
	)

	DedupCacheSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "dedup_cache_size",
			Help: "Number of keys held by the in-memory dedup cache (count)",
		},
	)

	TenantResolutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tenant_resolutions_total",
			Help: "Total number of tenant resolutions, by winning strategy (count)",
		},
		[]string{"strategy"},
	)

	QuotaChecksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quota_checks_total",
			Help: "Total number of quota checks, by result and level (count)",
		},
		[]string{"result", "level"},
	)

	RuleMatchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rule_matches_total",
			Help: "Total number of rule lookups, by the pass that produced rules (count)",
		},
		[]string{"pass"},
	)

	FilterEvaluationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "filter_evaluations_total",
			Help: "Total number of rule filter evaluations (count)",
		},
		[]string{"result"},
	)

	DelayedQueueTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "delayed_queue_total",
			Help: "Total number of delayed queue operations (count)",
		},
		[]string{"operation"},
	)

	MessengerRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "messenger_requests_total",
			Help: "Total number of outbound chat webhook requests, by status class (count)",
		},
		[]string{"status"},
	)

	MessengerRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "messenger_request_duration_ms",
			Help:    "Duration of outbound chat webhook requests in milliseconds",
			Buckets: []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
		},
		[]string{"status"},
	)

	AuditWritesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audit_writes_total",
			Help: "Total number of audit log writes (count)",
		},
		[]string{"backend", "status"},
	)

	WorkerQueueSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "worker_queue_size",
			Help: "Current number of events waiting for a dispatch worker (count)",
		},
	)

	InlineFallbackTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inline_fallback_total",
			Help: "Total number of events processed inline because the queue was unavailable (count)",
		},
		[]string{"reason"},
	)

	RetryAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "retry_attempts_total",
			Help: "Total number of retry attempts (count)",
		},
		[]string{"service", "topic"},
	)

	DLQMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dlq_messages_total",
			Help: "Total number of messages sent to DLQ (count)",
		},
		[]string{"service", "topic", "reason"},
	)

	KafkaMessagesReadTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kafka_messages_read_total",
			Help: "Total number of messages read from Kafka (count)",
		},
		[]string{"service", "topic"},
	)

	KafkaMessagesWrittenTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kafka_messages_written_total",
			Help: "Total number of messages written to Kafka (count)",
		},
		[]string{"service", "topic"},
	)

	KafkaConsumerLag = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "kafka_consumer_lag",
			Help: "Kafka consumer lag (difference between latest offset and committed offset) (count)",
		},
		[]string{"service", "topic", "partition"},
	)

	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open) (state code)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_requests_total",
			Help: "Total number of requests through circuit breaker (count)",
		},
		[]string{"name", "state"},
	)

	CircuitBreakerFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_failures_total",
			Help: "Total number of failures through circuit breaker (count)",
		},
		[]string{"name"},
	)

	FallbackUsageTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fallback_usage_total",
			Help: "Total number of times fallback strategies were used (count)",
		},
		[]string{"service", "strategy", "reason"},
	)
)

var (
	dispatchOnce       sync.Once
	brokerOnce         sync.Once
	circuitBreakerOnce sync.Once
)

func RegisterDispatchMetrics() {
	dispatchOnce.Do(func() {
		prometheus.MustRegister(DispatchEventsTotal)
		prometheus.MustRegister(DispatchDuration)
		prometheus.MustRegister(NotificationsTotal)
		prometheus.MustRegister(DeliveryAttemptsTotal)
		prometheus.MustRegister(DeliveryDuration)
		prometheus.MustRegister(BackupTierTotal)
		prometheus.MustRegister(DedupEventsTotal)
		prometheus.MustRegister(DedupCacheSize)
		prometheus.MustRegister(TenantResolutionsTotal)
		prometheus.MustRegister(QuotaChecksTotal)
		prometheus.MustRegister(RuleMatchesTotal)
		prometheus.MustRegister(FilterEvaluationsTotal)
		prometheus.MustRegister(DelayedQueueTotal)
		prometheus.MustRegister(MessengerRequestsTotal)
		prometheus.MustRegister(MessengerRequestDuration)
		prometheus.MustRegister(AuditWritesTotal)
		prometheus.MustRegister(WorkerQueueSize)
		prometheus.MustRegister(InlineFallbackTotal)
		prometheus.MustRegister(FallbackUsageTotal)
	})
}

func RegisterBrokerMetrics() {
	brokerOnce.Do(func() {
		prometheus.MustRegister(RetryAttemptsTotal)
		prometheus.MustRegister(DLQMessagesTotal)
		prometheus.MustRegister(KafkaMessagesReadTotal)
		prometheus.MustRegister(KafkaMessagesWrittenTotal)
		prometheus.MustRegister(KafkaConsumerLag)
	})
}

func RegisterCircuitBreakerMetrics() {
	circuitBreakerOnce.Do(func() {
		prometheus.MustRegister(CircuitBreakerState)
		prometheus.MustRegister(CircuitBreakerRequests)
		prometheus.MustRegister(CircuitBreakerFailures)
	})
}

func ObserveDispatch(outcome string, duration time.Duration) {
	DispatchEventsTotal.WithLabelValues(outcome).Inc()
	DispatchDuration.WithLabelValues(outcome).Observe(float64(duration.Milliseconds()))
}

func IncNotification(status, reason string) {
	NotificationsTotal.WithLabelValues(status, reason).Inc()
}

func IncDeliveryAttempt(tier int, result string) {
	DeliveryAttemptsTotal.WithLabelValues(fmt.Sprintf("%d", tier), result).Inc()
}

func ObserveDeliveryDuration(result string, duration time.Duration) {
	DeliveryDuration.WithLabelValues(result).Observe(float64(duration.Milliseconds()))
}

func IncBackupTier(tier int) {
	BackupTierTotal.WithLabelValues(fmt.Sprintf("%d", tier)).Inc()
}

func IncDedup(status string) {
	DedupEventsTotal.WithLabelValues(status).Inc()
}

func SetDedupCacheSize(size int) {
	DedupCacheSize.Set(float64(size))
}

func IncTenantResolution(strategy string) {
	TenantResolutionsTotal.WithLabelValues(strategy).Inc()
}

func IncQuotaCheck(result, level string) {
	QuotaChecksTotal.WithLabelValues(result, level).Inc()
}

func IncRuleMatch(pass string) {
	RuleMatchesTotal.WithLabelValues(pass).Inc()
}

func IncFilterEvaluation(result string) {
	FilterEvaluationsTotal.WithLabelValues(result).Inc()
}

func IncDelayedQueue(operation string) {
	DelayedQueueTotal.WithLabelValues(operation).Inc()
}

func ObserveMessengerRequest(status string, duration time.Duration) {
	MessengerRequestsTotal.WithLabelValues(status).Inc()
	MessengerRequestDuration.WithLabelValues(status).Observe(float64(duration.Milliseconds()))
}

func IncAuditWrite(backend, status string) {
	AuditWritesTotal.WithLabelValues(backend, status).Inc()
}

func SetWorkerQueueSize(size int) {
	WorkerQueueSize.Set(float64(size))
}

func IncInlineFallback(reason string) {
	InlineFallbackTotal.WithLabelValues(reason).Inc()
}

func IncKafkaMessagesRead(service, topic string) {
	KafkaMessagesReadTotal.WithLabelValues(service, topic).Inc()
}

func IncKafkaMessagesWritten(service, topic string) {
	KafkaMessagesWrittenTotal.WithLabelValues(service, topic).Inc()
}

func SetKafkaConsumerLag(service, topic string, partition int, lag int64) {
	KafkaConsumerLag.WithLabelValues(service, topic, fmt.Sprintf("%d", partition)).Set(float64(lag))
}
