package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Envelope wraps every message relay reads from or writes to the broker.
type Envelope struct {
	ID        string           `json:"id"`
	Source    string           `json:"source"`
	Timestamp time.Time        `json:"timestamp"`
	Payload   json.RawMessage  `json:"payload"`
	Metadata  EnvelopeMetadata `json:"metadata"`
}

type EnvelopeMetadata struct {
	TraceID       string            `json:"trace_id,omitempty"`
	CorrelationID string            `json:"correlation_id,omitempty"`
	Attributes    map[string]string `json:"attributes,omitempty"`
}

// NewEnvelope marshals payload and stamps a fresh id and timestamp.
func NewEnvelope(source string, payload interface{}) (Envelope, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{
		ID:        uuid.NewString(),
		Source:    source,
		Timestamp: time.Now().UTC(),
		Payload:   body,
	}, nil
}

func (e *Envelope) SetAttribute(key, value string) {
	if e.Metadata.Attributes == nil {
		e.Metadata.Attributes = make(map[string]string)
	}
	e.Metadata.Attributes[key] = value
}

func (e *Envelope) Attribute(key string) string {
	return e.Metadata.Attributes[key]
}
