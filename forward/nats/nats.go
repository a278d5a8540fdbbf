// Package nats provides a NATS Core forwarding backend for runebus. Delivery
// is fire-and-forget; use the jetstream backend when records must survive a
// broker restart.
package nats

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/runeforged/runebus/forward"
)

// ForwarderName is the name used to register this backend.
const ForwarderName = "nats"

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(cfg nats.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return nats.NewPublisher(cfg, logger)
}

func init() {
	Register()
}

// Register registers the NATS backend with the default registry.
func Register() {
	forward.RegisterWithCapabilities(ForwarderName, Build, forward.NATSCapabilities)
}

// Build creates a new NATS forwarder.
func Build(ctx context.Context, cfg forward.Config, logger watermill.LoggerAdapter) (forward.Forwarder, error) {
	publisher, err := PublisherFactory(
		nats.PublisherConfig{
			URL:       cfg.GetNATSURL(),
			Marshaler: &nats.NATSMarshaler{},
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
	return forward.NATSCapabilities
}
