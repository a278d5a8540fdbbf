// Package io provides a file-based forwarding backend for runebus. Records
// are appended to a local file as JSON lines, one record per line.
package io

import (
	"context"
	"os"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/runeforged/runebus/forward"
	"github.com/runeforged/runebus/internal/bus/jsoncodec"
)

// ForwarderName is the name used to register this backend.
const ForwarderName = "io"

// DefaultFilePath is the default file path if none is specified.
const DefaultFilePath = "records.log"

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(filePath string, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return &Publisher{filePath: filePath, logger: logger}, nil
}

func init() {
	Register()
}

// Register registers the I/O backend with the default registry.
func Register() {
	forward.RegisterWithCapabilities(ForwarderName, Build, forward.IOCapabilities)
}

// Build creates a new I/O forwarder.
func Build(ctx context.Context, cfg forward.Config, logger watermill.LoggerAdapter) (forward.Forwarder, error) {
	filePath := cfg.GetIOFile()
	if filePath == "" {
		filePath = DefaultFilePath
	}

	pub, err := PublisherFactory(filePath, logger)
	if err != nil {
		return nil, err
	}

	return forward.NewPublisherForwarder(pub, cfg.GetForwardTopic()), nil
}

// Capabilities returns the capabilities of this backend.
func Capabilities() forward.Capabilities {
	return forward.IOCapabilities
}

// storedMessage is the JSON structure for persisted records.
type storedMessage struct {
	UUID     string            `json:"uuid"`
	Metadata map[string]string `json:"metadata"`
	Payload  []byte            `json:"payload"`
	Topic    string            `json:"topic"`
}

// Publisher appends messages to a file.
type Publisher struct {
	filePath string
	logger   watermill.LoggerAdapter
	mu       sync.Mutex
}

// Publish appends messages to the file.
func (p *Publisher) Publish(topic string, messages ...*message.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	f, err := os.OpenFile(p.filePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return err
	}
	defer f.Close()

	for _, msg := range messages {
		sm := storedMessage{
			UUID:     msg.UUID,
			Metadata: msg.Metadata,
			Payload:  msg.Payload,
			Topic:    topic,
		}

		b, err := jsoncodec.Marshal(sm)
		if err != nil {
			return err
		}

		if _, err := f.Write(b); err != nil {
			return err
		}
		if _, err := f.WriteString("\n"); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the publisher.
func (p *Publisher) Close() error {
	return nil
}
