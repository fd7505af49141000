package delivery

import (
	"context"
	"sort"
	"time"

	"relay/internal/logger"
	"relay/pkg/models"
)

// Source is stamped on envelopes this package publishes.
const Source = "relay.delivery"

// BackupAlert says a notification only got through on a fallback tier.
type BackupAlert struct {
	TenantID  string    `json:"tenant_id"`
	RuleID    string    `json:"rule_id"`
	EventType string    `json:"event_type"`
	Tier      int       `json:"tier"`
	TierName  string    `json:"tier_name"`
	ChannelID string    `json:"channel_id"`
	Failures  []string  `json:"failures"`
	At        time.Time `json:"at"`
}

type Alerter interface {
	BackupTierUsed(ctx context.Context, alert BackupAlert)
}

func newBackupAlert(req Request, result Result) BackupAlert {
	alert := BackupAlert{
		TenantID:  req.TenantID,
		RuleID:    req.Rule.ID,
		ChannelID: result.ChannelID,
		Tier:      result.Tier,
		At:        time.Now().UTC(),
	}
	if req.Event != nil {
		alert.EventType = req.Event.EventType
	}
	errs := tierErrors(result.Attempts)
	keys := make([]string, 0, len(errs))
	for k := range errs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		alert.Failures = append(alert.Failures, k+": "+errs[k])
	}
	for _, a := range result.Attempts {
		if a.Tier == result.Tier {
			alert.TierName = a.Name
		}
	}
	return alert
}

type LogAlerter struct {
	logger logger.Logger
}

func NewLogAlerter(log logger.Logger) *LogAlerter {
	return &LogAlerter{logger: log}
}

func (a *LogAlerter) BackupTierUsed(ctx context.Context, alert BackupAlert) {
	a.logger.WarnwCtx(ctx, "Notification delivered on backup tier",
		"tier", alert.Tier,
		"tier_name", alert.TierName,
		"rule_id", alert.RuleID,
		"channel_id", alert.ChannelID,
		"failures", alert.Failures,
	)
}

// Publisher is the slice of broker.Producer the Kafka alerter needs.
type Publisher interface {
	Publish(ctx context.Context, topic string, msg models.Envelope) error
}

// BrokerAlerter publishes alerts to a topic and always logs them as well.
type BrokerAlerter struct {
	publisher Publisher
	topic     string
	log       *LogAlerter
}

func NewBrokerAlerter(publisher Publisher, topic string, log logger.Logger) *BrokerAlerter {
	return &BrokerAlerter{publisher: publisher, topic: topic, log: NewLogAlerter(log)}
}

func (a *BrokerAlerter) BackupTierUsed(ctx context.Context, alert BackupAlert) {
	a.log.BackupTierUsed(ctx, alert)

	env, err := models.NewEnvelope(Source, alert)
	if err != nil {
		a.log.logger.ErrorwCtx(ctx, "Failed to build reliability alert envelope", "error", err)
		return
	}
	env.SetAttribute("tenant_id", alert.TenantID)
	env.SetAttribute("alert", "backup_tier_used")

	if err := a.publisher.Publish(ctx, a.topic, env); err != nil {
		a.log.logger.ErrorwCtx(ctx, "Failed to publish reliability alert",
			"error", err,
			"topic", a.topic,
		)
	}
}
