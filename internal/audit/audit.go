package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"relay/internal/constants"
	"relay/internal/logger"
	"relay/pkg/metrics"
)

type Status string

const (
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
	StatusPending Status = "pending"
	StatusSkipped Status = "skipped"
)

// Reasons recorded alongside skipped, pending and failed entries.
const (
	ReasonDuplicate           = "duplicate"
	ReasonUnresolvedTenant    = "unresolved_tenant"
	ReasonQuotaExceeded       = "quota_exceeded"
	ReasonQuotaUnavailable    = "quota_unavailable"
	ReasonRuleLookupFailed    = "rule_lookup_failed"
	ReasonTenantLookupFailed  = "tenant_lookup_failed"
	ReasonChannelLookupFailed = "channel_lookup_failed"
	ReasonNoChannel           = "no_channel_available"
	ReasonQuietHours          = "quiet_hours"
	ReasonEnqueueFailed       = "enqueue_failed"
	ReasonCircuitOpen         = "circuit_open"
	ReasonAllTiersFailed      = "all_tiers_failed"
	ReasonDelayedExpired      = "delayed_expired"
	ReasonProcessingPanicked  = "processing_panic"
)

// Entry is one notification outcome. An empty TenantID is stored as NULL.
type Entry struct {
	ID               string          `bson:"_id" json:"id"`
	TenantID         string          `bson:"tenant_id,omitempty" json:"tenant_id,omitempty"`
	RuleID           string          `bson:"rule_id,omitempty" json:"rule_id,omitempty"`
	ChannelID        string          `bson:"channel_id,omitempty" json:"channel_id,omitempty"`
	EventType        string          `bson:"event_type" json:"event_type"`
	Payload          json.RawMessage `bson:"-" json:"payload,omitempty"`
	FormattedMessage string          `bson:"formatted_message,omitempty" json:"formatted_message,omitempty"`
	Status           Status          `bson:"status" json:"status"`
	Reason           string          `bson:"reason,omitempty" json:"reason,omitempty"`
	ErrorMessage     string          `bson:"error_message,omitempty" json:"error_message,omitempty"`
	ResponseCode     int             `bson:"response_code,omitempty" json:"response_code,omitempty"`
	ResponseTimeMs   int64           `bson:"response_time_ms,omitempty" json:"response_time_ms,omitempty"`
	RetryCount       int             `bson:"retry_count" json:"retry_count"`
	Tier             int             `bson:"tier,omitempty" json:"tier,omitempty"`
	ScheduledFor     *time.Time      `bson:"scheduled_for,omitempty" json:"scheduled_for,omitempty"`
	CreatedAt        time.Time       `bson:"created_at" json:"created_at"`
}

type Sink interface {
	Record(ctx context.Context, entry Entry) error
	Name() string
}

// Recorder stamps entries and writes them to a sink. Write failures are logged and
// swallowed; an audit outage never changes a dispatch outcome.
type Recorder struct {
	sink           Sink
	logger         logger.Logger
	maxPayloadSize int
}

func NewRecorder(sink Sink, log logger.Logger) *Recorder {
	return &Recorder{
		sink:           sink,
		logger:         log,
		maxPayloadSize: constants.DefaultAuditPayloadMaxSize,
	}
}

func (r *Recorder) Record(ctx context.Context, entry Entry) {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	if len(entry.Payload) > r.maxPayloadSize || (len(entry.Payload) > 0 && !json.Valid(entry.Payload)) {
		entry.Payload = nil
	}

	if err := r.sink.Record(ctx, entry); err != nil {
		metrics.IncAuditWrite(r.sink.Name(), "error")
		r.logger.ErrorwCtx(ctx, "Failed to write audit entry",
			"error", err,
			"status", entry.Status,
			"reason", entry.Reason,
			"rule_id", entry.RuleID,
		)
		return
	}
	metrics.IncAuditWrite(r.sink.Name(), "ok")
}

// MarshalPayload encodes v for Entry.Payload, returning nil when it cannot.
func MarshalPayload(v interface{}) json.RawMessage {
	if v == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return b
}
