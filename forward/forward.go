// Package forward defines the core interfaces and types for runebus
// forwarding backends. Each backend (kafka, rabbitmq, aws, etc.) lives in its
// own sub-package and registers itself with the forwarder registry. A
// Forwarder receives every journal record the dispatch pipeline produces and
// publishes it to downstream infrastructure.
package forward

import (
	"context"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/runeforged/runebus/internal/bus/jsoncodec"
	"github.com/runeforged/runebus/internal/bus/store"
)

// DefaultTopic is the downstream topic used when the config leaves
// ForwardTopic empty.
const DefaultTopic = "runebus.events"

// Metadata keys set on every forwarded message.
const (
	MetaEventName     = "event_name"
	MetaCorrelationID = "correlation_id"
	MetaDispatchedAt  = "dispatched_at"
)

// Forwarder publishes dispatched event records downstream.
type Forwarder interface {
	Forward(ctx context.Context, rec *store.Record) error
	Close() error
}

// Builder is the function signature for creating a forwarder from config.
// Each backend package provides a Builder that can be registered.
type Builder func(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Forwarder, error)

// Config provides the configuration values needed by forwarding backends.
// This interface allows backends to access only the config they need
// without depending on the full config package.
type Config interface {
	// GetForwarder returns the backend name.
	GetForwarder() string

	// GetForwardTopic returns the downstream topic records are published
	// under. Empty means DefaultTopic.
	GetForwardTopic() string

	// Kafka
	GetKafkaBrokers() []string

	// RabbitMQ
	GetRabbitMQURL() string

	// NATS / JetStream
	GetNATSURL() string
	GetJetStreamStream() string

	// HTTP
	GetHTTPPublisherURL() string

	// IO
	GetIOFile() string

	// AWS
	GetAWSRegion() string
	GetAWSAccountID() string
	GetAWSAccessKeyID() string
	GetAWSSecretAccessKey() string
	GetAWSEndpoint() string
}

// CapabilitiesProvider is implemented by forwarders that can report their
// capabilities.
type CapabilitiesProvider interface {
	Capabilities() Capabilities
}

// MarshalRecord converts a journal record into the wire message published by
// every backend: a JSON body whose message UUID is the record id, with the
// event name, correlation id and dispatch time mirrored into metadata so
// downstream consumers can route without parsing the body.
func MarshalRecord(rec *store.Record) (*message.Message, error) {
	body, err := jsoncodec.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("marshal record: %w", err)
	}

	msg := message.NewMessage(rec.ID, body)
	msg.Metadata.Set(MetaEventName, rec.Name)
	msg.Metadata.Set(MetaCorrelationID, rec.CorrelationID)
	msg.Metadata.Set(MetaDispatchedAt, time.Now().UTC().Format(time.RFC3339Nano))
	return msg, nil
}

// UnmarshalRecord decodes a wire message produced by MarshalRecord. Used by
// loopback consumers and tests.
func UnmarshalRecord(msg *message.Message) (*store.Record, error) {
	var rec store.Record
	if err := jsoncodec.Unmarshal(msg.Payload, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal record: %w", err)
	}
	return &rec, nil
}

// PublisherForwarder adapts a watermill publisher into a Forwarder. All
// built-in backends are publishers under the hood.
type PublisherForwarder struct {
	publisher message.Publisher
	topic     string
}

// NewPublisherForwarder wraps a publisher. An empty topic falls back to
// DefaultTopic.
func NewPublisherForwarder(pub message.Publisher, topic string) *PublisherForwarder {
	if topic == "" {
		topic = DefaultTopic
	}
	return &PublisherForwarder{publisher: pub, topic: topic}
}

// Forward publishes one record.
func (f *PublisherForwarder) Forward(ctx context.Context, rec *store.Record) error {
	msg, err := MarshalRecord(rec)
	if err != nil {
		return err
	}
	msg.SetContext(ctx)
	if err := f.publisher.Publish(f.topic, msg); err != nil {
		return fmt.Errorf("forward %q: %w", rec.Name, err)
	}
	return nil
}

// Topic returns the downstream topic this forwarder publishes to.
func (f *PublisherForwarder) Topic() string { return f.topic }

// Close closes the underlying publisher.
func (f *PublisherForwarder) Close() error {
	return f.publisher.Close()
}
