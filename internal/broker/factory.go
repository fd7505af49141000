package broker

import (
	"fmt"

	"relay/internal/config"
	"relay/internal/logger"
)

// ErrBrokerDisabled is returned when broker.type is "none"; callers fall back to inline intake.
var ErrBrokerDisabled = fmt.Errorf("broker disabled")

func NewProducer(cfg config.BrokerConfig, log logger.Logger) (Producer, error) {
	switch cfg.Type {
	case "kafka":
		return NewKafkaProducer(cfg.Kafka, log), nil
	case "none":
		return nil, ErrBrokerDisabled
	default:
		return nil, fmt.Errorf("unknown broker type: %s", cfg.Type)
	}
}

func NewConsumer(cfg config.BrokerConfig, log logger.Logger) (Consumer, error) {
	switch cfg.Type {
	case "kafka":
		if len(cfg.Kafka.Brokers) == 0 {
			return nil, fmt.Errorf("kafka consumer requires at least one broker")
		}
		return NewKafkaConsumer(cfg.Kafka, log), nil
	case "none":
		return nil, ErrBrokerDisabled
	default:
		return nil, fmt.Errorf("unknown broker type: %s", cfg.Type)
	}
}
