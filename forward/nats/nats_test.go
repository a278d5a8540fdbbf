package nats

import (
	"context"
	"errors"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runeforged/runebus/forward"
	"github.com/runeforged/runebus/internal/bus/store"
)

func TestRegister(t *testing.T) {
	forward.DefaultRegistry = forward.NewRegistry()
	Register()

	caps := forward.GetCapabilities(ForwarderName)
	assert.Equal(t, "nats", caps.Name)
	assert.False(t, caps.Durable)
	assert.True(t, caps.FireAndForget())
}

func TestCapabilities(t *testing.T) {
	caps := Capabilities()
	assert.Equal(t, forward.NATSCapabilities, caps)
	assert.Equal(t, "nats", caps.Name)
}

func TestForwarderName(t *testing.T) {
	assert.Equal(t, "nats", ForwarderName)
}

func TestBuild(t *testing.T) {
	t.Run("creates forwarder with mocked factory", func(t *testing.T) {
		originalFactory := PublisherFactory
		defer func() { PublisherFactory = originalFactory }()

		mockPub := &mockPublisher{}
		PublisherFactory = func(cfg nats.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
			assert.Equal(t, "nats://localhost:4222", cfg.URL)
			return mockPub, nil
		}

		cfg := &mockConfig{natsURL: "nats://localhost:4222", topic: "audit.journal"}
		fwd, err := Build(context.Background(), cfg, watermill.NopLogger{})
		require.NoError(t, err)

		pf, ok := fwd.(*forward.PublisherForwarder)
		require.True(t, ok)
		assert.Equal(t, "audit.journal", pf.Topic())

		err = fwd.Forward(context.Background(), &store.Record{ID: "rec-1", Name: "user.created"})
		require.NoError(t, err)
		require.Len(t, mockPub.messages, 1)
		assert.Equal(t, "rec-1", mockPub.messages[0].UUID)
	})

	t.Run("returns error when publisher factory fails", func(t *testing.T) {
		originalFactory := PublisherFactory
		defer func() { PublisherFactory = originalFactory }()

		PublisherFactory = func(cfg nats.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
			return nil, errors.New("connection refused")
		}

		cfg := &mockConfig{natsURL: "nats://localhost:4222"}
		_, err := Build(context.Background(), cfg, watermill.NopLogger{})

		assert.Error(t, err)
		assert.Contains(t, err.Error(), "connection refused")
	})
}

type mockConfig struct {
	natsURL string
	topic   string
}

func (m *mockConfig) GetForwarder() string          { return "nats" }
func (m *mockConfig) GetForwardTopic() string       { return m.topic }
func (m *mockConfig) GetKafkaBrokers() []string     { return nil }
func (m *mockConfig) GetRabbitMQURL() string        { return "" }
func (m *mockConfig) GetNATSURL() string            { return m.natsURL }
func (m *mockConfig) GetJetStreamStream() string    { return "" }
func (m *mockConfig) GetHTTPPublisherURL() string   { return "" }
func (m *mockConfig) GetIOFile() string             { return "" }
func (m *mockConfig) GetAWSRegion() string          { return "" }
func (m *mockConfig) GetAWSAccountID() string       { return "" }
func (m *mockConfig) GetAWSAccessKeyID() string     { return "" }
func (m *mockConfig) GetAWSSecretAccessKey() string { return "" }
func (m *mockConfig) GetAWSEndpoint() string        { return "" }

type mockPublisher struct {
	messages []*message.Message
}

func (m *mockPublisher) Publish(topic string, messages ...*message.Message) error {
	m.messages = append(m.messages, messages...)
	return nil
}
func (m *mockPublisher) Close() error { return nil }
