package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// ID is an identifier that may arrive from a CRM either as a JSON string or a number.
type ID string

func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("id must be a string or number: %w", err)
	}
	*id = ID(n.String())
	return nil
}

func (id ID) String() string {
	return string(id)
}

// RawMeta carries identifiers the CRM attaches to a delivery.
type RawMeta struct {
	CorrelationID ID `json:"correlation_id,omitempty"`
	EntityID      ID `json:"entity_id,omitempty"`
}

// InboundEvent is one CRM change notification. It is treated as immutable once accepted.
type InboundEvent struct {
	EventType  string                 `json:"event"`
	Current    map[string]interface{} `json:"current"`
	Previous   map[string]interface{} `json:"previous,omitempty"`
	CompanyID  ID                     `json:"company_id,omitempty"`
	UserID     ID                     `json:"user_id,omitempty"`
	APIDomain  string                 `json:"api_domain,omitempty"`
	AccountID  ID                     `json:"account_id,omitempty"`
	RawMeta    *RawMeta               `json:"raw_meta,omitempty"`
	ReceivedAt time.Time              `json:"received_at"`
}

// TenantHint groups the identifiers used to find the owning tenant.
type TenantHint struct {
	CompanyID string
	UserID    string
	Domain    string
	AccountID string
}

// ParseInboundEvent decodes the wire representation and stamps ReceivedAt when absent.
func ParseInboundEvent(data []byte) (*InboundEvent, error) {
	var evt InboundEvent
	if err := json.Unmarshal(data, &evt); err != nil {
		return nil, fmt.Errorf("failed to decode inbound event: %w", err)
	}
	if evt.ReceivedAt.IsZero() {
		evt.ReceivedAt = time.Now().UTC()
	}
	if err := ValidateInboundEvent(&evt); err != nil {
		return nil, err
	}
	return &evt, nil
}

func (e *InboundEvent) Hint() TenantHint {
	return TenantHint{
		CompanyID: e.CompanyID.String(),
		UserID:    e.UserID.String(),
		Domain:    strings.ToLower(strings.TrimSpace(e.APIDomain)),
		AccountID: e.AccountID.String(),
	}
}

// Entity returns the part of the event type before the first dot ("deal" for "deal.updated").
func (e *InboundEvent) Entity() string {
	entity, _, _ := strings.Cut(e.EventType, ".")
	return entity
}

// Action returns the part of the event type after the first dot, or "" when there is none.
func (e *InboundEvent) Action() string {
	_, action, _ := strings.Cut(e.EventType, ".")
	return action
}

func (e *InboundEvent) CorrelationID() string {
	if e.RawMeta == nil {
		return ""
	}
	return e.RawMeta.CorrelationID.String()
}

func (e *InboundEvent) EntityID() string {
	if e.RawMeta != nil && e.RawMeta.EntityID != "" {
		return e.RawMeta.EntityID.String()
	}
	if id, ok := e.CurrentField("id"); ok {
		return fmt.Sprintf("%v", id)
	}
	return ""
}

func (e *InboundEvent) CurrentField(name string) (interface{}, bool) {
	if e.Current == nil {
		return nil, false
	}
	v, ok := e.Current[name]
	return v, ok
}

func (e *InboundEvent) PreviousField(name string) (interface{}, bool) {
	if e.Previous == nil {
		return nil, false
	}
	v, ok := e.Previous[name]
	return v, ok
}

// ChangedFields lists keys whose current value differs from the previous snapshot.
func (e *InboundEvent) ChangedFields() []string {
	if e.Previous == nil {
		return nil
	}
	var changed []string
	for k, cur := range e.Current {
		prev, ok := e.Previous[k]
		if !ok || fmt.Sprintf("%v", prev) != fmt.Sprintf("%v", cur) {
			changed = append(changed, k)
		}
	}
	return changed
}
