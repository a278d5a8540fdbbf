// Package kafka provides a Kafka forwarding backend for runebus.
package kafka

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-kafka/v3/pkg/kafka"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/runeforged/runebus/forward"
)

// ForwarderName is the name used to register this backend.
const ForwarderName = "kafka"

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(cfg kafka.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return kafka.NewPublisher(cfg, logger)
}

func init() {
	Register()
}

// Register registers the Kafka backend with the default registry.
func Register() {
	forward.RegisterWithCapabilities(ForwarderName, Build, forward.KafkaCapabilities)
}

// Build creates a new Kafka forwarder.
func Build(ctx context.Context, cfg forward.Config, logger watermill.LoggerAdapter) (forward.Forwarder, error) {
	publisher, err := PublisherFactory(
		kafka.PublisherConfig{
			Brokers:   cfg.GetKafkaBrokers(),
			Marshaler: kafka.DefaultMarshaler{},
		},
		logger,
	)
	if err != nil {
		return nil, err
	}

	return forward.NewPublisherForwarder(publisher, cfg.GetForwardTopic()), nil
}

// Capabilities returns the capabilities of this backend.
func Capabilities() forward.Capabilities {
	return forward.KafkaCapabilities
}
