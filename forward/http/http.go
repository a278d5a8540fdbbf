// Package http provides an HTTP forwarding backend for runebus. Each record
// is posted to the configured URL with the topic appended as the path.
package http

import (
	"context"
	nethttp "net/http"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-http/v2/pkg/http"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/runeforged/runebus/forward"
)

// ForwarderName is the name used to register this backend.
const ForwarderName = "http"

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(config http.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return http.NewPublisher(config, logger)
}

func init() {
	Register()
}

// Register registers the HTTP backend with the default registry.
func Register() {
	forward.RegisterWithCapabilities(ForwarderName, Build, forward.HTTPCapabilities)
}

// Build creates a new HTTP forwarder.
func Build(ctx context.Context, cfg forward.Config, logger watermill.LoggerAdapter) (forward.Forwarder, error) {
	publisherURL := cfg.GetHTTPPublisherURL()

	publisher, err := PublisherFactory(
		http.PublisherConfig{
			MarshalMessageFunc: func(topic string, msg *message.Message) (*nethttp.Request, error) {
				url := publisherURL + topic
				return http.DefaultMarshalMessageFunc(url, msg)
			},
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
	return forward.HTTPCapabilities
}
