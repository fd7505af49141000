package main

import (
	"os"

	"github.com/google/uuid"

	"relay/internal/broker"
	"relay/internal/config"
	"relay/internal/logger"
)

// newConfigConsumer reads config updates in a group of its own so every replica sees
// every invalidation.
func newConfigConsumer(cfg *config.Config, log logger.Logger) (broker.Consumer, error) {
	brokerCfg := cfg.Broker
	brokerCfg.Kafka.GroupID = configGroupID(brokerCfg.Kafka.GroupID)
	brokerCfg.Kafka.DLQTopic = ""

	consumer, err := broker.NewConsumer(brokerCfg, log)
	if err != nil {
		return nil, err
	}
	consumer.SetServiceName("relay-config")
	return consumer, nil
}

func configGroupID(base string) string {
	if base == "" {
		base = "relay"
	}
	replica, err := os.Hostname()
	if err != nil || replica == "" {
		replica = uuid.NewString()
	}
	return base + "-config-" + replica
}
