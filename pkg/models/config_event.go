package models

import "time"

type ConfigUpdateEvent struct {
	EventType string                 `json:"event_type"` // "rule_updated", "channel_updated"
	TenantID  string                 `json:"tenant_id"`
	RuleID    string                 `json:"rule_id,omitempty"`
	Action    string                 `json:"action"` // "create", "update", "delete", "toggle"
	Timestamp time.Time              `json:"timestamp"`
	ChangedBy string                 `json:"changed_by,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

const (
	EventTypeRuleUpdated    = "rule_updated"
	EventTypeChannelUpdated = "channel_updated"
)

const (
	ActionCreate = "create"
	ActionUpdate = "update"
	ActionDelete = "delete"
	ActionToggle = "toggle"
	ActionReload = "reload"
)
