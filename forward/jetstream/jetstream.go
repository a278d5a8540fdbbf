// Package jetstream provides a NATS JetStream forwarding backend for
// runebus. Records are published into a stream so they survive consumer and
// broker restarts.
package jetstream

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/nats-io/nats.go"

	"github.com/runeforged/runebus/forward"
	"github.com/runeforged/runebus/internal/bus/store"
)

// ForwarderName is the name used to register this backend.
const ForwarderName = "jetstream"

// DefaultStream is the JetStream stream used when the config leaves it empty.
const DefaultStream = "RUNEBUS"

// ConnectFactory allows overriding the NATS connection creation for testing.
var ConnectFactory = func(url string) (*nats.Conn, error) {
	return nats.Connect(url)
}

func init() {
	Register()
}

// Register registers the JetStream backend with the default registry.
func Register() {
	forward.RegisterWithCapabilities(ForwarderName, Build, forward.JetStreamCapabilities)
}

// Build creates a new JetStream forwarder.
func Build(ctx context.Context, cfg forward.Config, logger watermill.LoggerAdapter) (forward.Forwarder, error) {
	return New(Config{
		URL:    cfg.GetNATSURL(),
		Stream: cfg.GetJetStreamStream(),
		Topic:  cfg.GetForwardTopic(),
	}, logger)
}

// Capabilities returns the capabilities of this backend.
func Capabilities() forward.Capabilities {
	return forward.JetStreamCapabilities
}

// Config holds JetStream-specific configuration.
type Config struct {
	// URL is the NATS server URL.
	URL string

	// Stream is the JetStream stream records are published into.
	// If empty, defaults to DefaultStream.
	Stream string

	// Topic is appended to the stream name to form the subject.
	// If empty, defaults to forward.DefaultTopic.
	Topic string

	// MaxAge is how long the stream retains records. Zero means one week.
	MaxAge time.Duration

	// Replicas is the number of stream replicas (for clustering).
	Replicas int
}

func (c Config) withDefaults() Config {
	if c.Stream == "" {
		c.Stream = DefaultStream
	}
	if c.Topic == "" {
		c.Topic = forward.DefaultTopic
	}
	if c.MaxAge <= 0 {
		c.MaxAge = 7 * 24 * time.Hour
	}
	if c.Replicas <= 0 {
		c.Replicas = 1
	}
	return c
}

// Subject returns the stream subject records are published under.
func (c Config) Subject() string {
	return c.Stream + "." + c.Topic
}

// Forwarder publishes records into a JetStream stream.
type Forwarder struct {
	nc     *nats.Conn
	js     nats.JetStreamContext
	config Config
	logger watermill.LoggerAdapter

	closed   bool
	closedMu sync.RWMutex
}

// New creates a JetStream forwarder and ensures the stream exists.
func New(cfg Config, logger watermill.LoggerAdapter) (*Forwarder, error) {
	cfg = cfg.withDefaults()

	nc, err := ConnectFactory(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	f := &Forwarder{nc: nc, js: js, config: cfg, logger: logger}
	if err := f.ensureStream(); err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to ensure stream: %w", err)
	}

	return f, nil
}

func (f *Forwarder) ensureStream() error {
	streamCfg := &nats.StreamConfig{
		Name:      f.config.Stream,
		Subjects:  []string{f.config.Stream + ".>"},
		Retention: nats.LimitsPolicy,
		MaxAge:    f.config.MaxAge,
		Replicas:  f.config.Replicas,
	}

	_, err := f.js.AddStream(streamCfg)
	if err != nil {
		_, err = f.js.UpdateStream(streamCfg)
		if err != nil && f.logger != nil {
			f.logger.Info("JetStream stream exists", watermill.LogFields{
				"stream": f.config.Stream,
			})
		}
	}

	return nil
}

// Forward publishes one record and waits for the stream acknowledgment.
func (f *Forwarder) Forward(ctx context.Context, rec *store.Record) error {
	f.closedMu.RLock()
	if f.closed {
		f.closedMu.RUnlock()
		return fmt.Errorf("forwarder is closed")
	}
	f.closedMu.RUnlock()

	msg, err := forward.MarshalRecord(rec)
	if err != nil {
		return err
	}

	headers := nats.Header{}
	for k, v := range msg.Metadata {
		headers.Set(k, v)
	}

	_, err = f.js.PublishMsg(&nats.Msg{
		Subject: f.config.Subject(),
		Data:    msg.Payload,
		Header:  headers,
	}, nats.Context(ctx))
	if err != nil {
		return fmt.Errorf("failed to publish to JetStream: %w", err)
	}

	return nil
}

// Close closes the NATS connection. Idempotent.
func (f *Forwarder) Close() error {
	f.closedMu.Lock()
	defer f.closedMu.Unlock()
	if f.closed {
		return nil
	}
	f.closed = true
	f.nc.Close()
	return nil
}

// Capabilities returns the JetStream backend capabilities.
func (f *Forwarder) Capabilities() forward.Capabilities {
	return forward.JetStreamCapabilities
}
