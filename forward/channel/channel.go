// Package channel provides an in-memory Go channel backend for runebus
// forwarding. This backend is useful for testing and local development: the
// same process can consume the forwarded records through Subscribe.
package channel

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/runeforged/runebus/forward"
	"github.com/runeforged/runebus/internal/bus/store"
)

// ForwarderName is the name used to register this backend.
const ForwarderName = "channel"

// Factory allows overriding the channel creation for testing.
var Factory = func(cfg gochannel.Config, logger watermill.LoggerAdapter) *gochannel.GoChannel {
	return gochannel.NewGoChannel(cfg, logger)
}

func init() {
	Register()
}

// Register registers the channel backend with the default registry.
func Register() {
	forward.RegisterWithCapabilities(ForwarderName, Build, forward.ChannelCapabilities)
}

// Build creates a new Go channel forwarder.
func Build(ctx context.Context, cfg forward.Config, logger watermill.LoggerAdapter) (forward.Forwarder, error) {
	pubSub := Factory(gochannel.Config{}, logger)
	return &Loopback{
		pubSub: pubSub,
		inner:  forward.NewPublisherForwarder(pubSub, cfg.GetForwardTopic()),
	}, nil
}

// Capabilities returns the capabilities of this backend.
func Capabilities() forward.Capabilities {
	return forward.ChannelCapabilities
}

// Loopback forwards records through an in-process pub/sub channel. Consumers
// in the same process read them back with Subscribe.
type Loopback struct {
	pubSub *gochannel.GoChannel
	inner  *forward.PublisherForwarder
}

// Forward publishes one record to the in-process channel.
func (l *Loopback) Forward(ctx context.Context, rec *store.Record) error {
	return l.inner.Forward(ctx, rec)
}

// Subscribe returns the stream of forwarded messages. Only records forwarded
// after Subscribe is called are delivered.
func (l *Loopback) Subscribe(ctx context.Context) (<-chan *message.Message, error) {
	return l.pubSub.Subscribe(ctx, l.inner.Topic())
}

// Close shuts down the channel. Pending subscribers are closed.
func (l *Loopback) Close() error {
	return l.pubSub.Close()
}
