package models

import "time"

type InboundEventBuilder struct {
	event *InboundEvent
}

func NewInboundEventBuilder(eventType string) *InboundEventBuilder {
	return &InboundEventBuilder{
		event: &InboundEvent{
			EventType: eventType,
			Current:   make(map[string]interface{}),
		},
	}
}

func (b *InboundEventBuilder) WithCompanyID(id string) *InboundEventBuilder {
	b.event.CompanyID = ID(id)
	return b
}

func (b *InboundEventBuilder) WithAPIDomain(domain string) *InboundEventBuilder {
	b.event.APIDomain = domain
	return b
}

func (b *InboundEventBuilder) WithAccountID(id string) *InboundEventBuilder {
	b.event.AccountID = ID(id)
	return b
}

func (b *InboundEventBuilder) WithMeta(correlationID, entityID string) *InboundEventBuilder {
	b.event.RawMeta = &RawMeta{
		CorrelationID: ID(correlationID),
		EntityID:      ID(entityID),
	}
	return b
}

func (b *InboundEventBuilder) WithCurrent(current map[string]interface{}) *InboundEventBuilder {
	b.event.Current = current
	return b
}

func (b *InboundEventBuilder) WithField(name string, value interface{}) *InboundEventBuilder {
	b.event.Current[name] = value
	return b
}

func (b *InboundEventBuilder) WithPrevious(previous map[string]interface{}) *InboundEventBuilder {
	b.event.Previous = previous
	return b
}

func (b *InboundEventBuilder) WithReceivedAt(t time.Time) *InboundEventBuilder {
	b.event.ReceivedAt = t
	return b
}

func (b *InboundEventBuilder) Build() *InboundEvent {
	if b.event.ReceivedAt.IsZero() {
		b.event.ReceivedAt = time.Now()
	}
	return b.event
}
