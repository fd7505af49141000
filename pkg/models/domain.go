package models

import (
	"encoding/json"
	"time"
)

type TenantStatus string

const (
	TenantStatusActive   TenantStatus = "active"
	TenantStatusInactive TenantStatus = "inactive"
)

// Tenant is owned by the account service; the pipeline only reads it.
type Tenant struct {
	ID       string
	Name     string
	Status   TenantStatus
	PlanTier string
}

func (t Tenant) IsActive() bool {
	return t.Status == TenantStatusActive
}

type TemplateMode string

const (
	TemplateDetailed TemplateMode = "detailed"
	TemplateCompact  TemplateMode = "compact"
	TemplateSimple   TemplateMode = "simple"
	TemplateCustom   TemplateMode = "custom"
)

// Rule maps an event pattern and filter to a notification. Patterns are an exact event
// type, "entity.*" or a bare "entity".
type Rule struct {
	ID               string
	TenantID         string
	Name             string
	EventPattern     string
	Filter           map[string]interface{}
	TargetChannelID  *string
	DefaultChannelID *string
	TemplateMode     TemplateMode
	CustomTemplate   string
	Enabled          bool
	Priority         int
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

type Channel struct {
	ID       string
	TenantID string
	Name     string
	URL      string
	Active   bool
}

// QueuedNotification is a delivery deferred by quiet hours.
type QueuedNotification struct {
	ID           string
	TenantID     string
	RuleID       string
	ChannelID    string
	ChannelURL   string
	TemplateMode TemplateMode
	Payload      json.RawMessage
	ScheduledFor time.Time
	Reason       string
	Attempts     int
	CreatedAt    time.Time
}

// Event decodes the stored event snapshot.
func (q QueuedNotification) Event() (*InboundEvent, error) {
	return ParseInboundEvent(q.Payload)
}

// QuotaCounter is the tenant's notification budget for the current billing period.
type QuotaCounter struct {
	TenantID    string
	PeriodUsage int64
	PeriodLimit int64
}

// Percentage of the limit already used; a zero limit counts as fully used.
func (q QuotaCounter) Percentage() float64 {
	if q.PeriodLimit <= 0 {
		return 100
	}
	return float64(q.PeriodUsage) / float64(q.PeriodLimit) * 100
}

// QuietHoursSettings is a tenant's do-not-disturb window in its own timezone.
type QuietHoursSettings struct {
	TenantID string
	Enabled  bool
	Start    string // "HH:MM"
	End      string // "HH:MM"
	Timezone string
}
