package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relay/internal/config"
	"relay/internal/logger"
	"relay/pkg/models"
)

func configFor(threshold uint32) config.CircuitBreakerConfig {
	return config.CircuitBreakerConfig{Threshold: threshold, Cooldown: time.Minute}
}

type capturePublisher struct {
	topic string
	env   models.Envelope
	err   error
}

func (c *capturePublisher) Publish(_ context.Context, topic string, msg models.Envelope) error {
	c.topic = topic
	c.env = msg
	return c.err
}

func TestBrokerAlerter_PublishesAlert(t *testing.T) {
	pub := &capturePublisher{}
	a := NewBrokerAlerter(pub, "relay_alerts", logger.NopLogger())

	a.BackupTierUsed(context.Background(), BackupAlert{TenantID: "t-1", RuleID: "r-1", Tier: 3, TierName: "alternate_channel"})

	assert.Equal(t, "relay_alerts", pub.topic)
	assert.Equal(t, Source, pub.env.Source)
	assert.Equal(t, "t-1", pub.env.Attribute("tenant_id"))

	var got BackupAlert
	require.NoError(t, json.Unmarshal(pub.env.Payload, &got))
	assert.Equal(t, 3, got.Tier)
	assert.Equal(t, "r-1", got.RuleID)
}

func TestBrokerAlerter_PublishFailureIsSwallowed(t *testing.T) {
	a := NewBrokerAlerter(&capturePublisher{err: errors.New("broker down")}, "relay_alerts", logger.NopLogger())
	assert.NotPanics(t, func() {
		a.BackupTierUsed(context.Background(), BackupAlert{Tier: 2})
	})
}
