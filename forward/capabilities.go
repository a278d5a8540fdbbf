package forward

// Capabilities describes the delivery properties of a forwarding backend.
// Use this to introspect what guarantees forwarded records carry at runtime.
type Capabilities struct {
	// Name is the human-readable name of the backend.
	Name string

	// Durable indicates records survive a downstream restart once Forward
	// returns.
	Durable bool

	// Ordered indicates records arrive downstream in Forward call order.
	Ordered bool

	// Blocking indicates Forward waits for a downstream acknowledgment.
	// When false, a returned nil error only means the record was handed off.
	Blocking bool

	// RequiresNetwork indicates the backend needs a reachable broker or
	// endpoint. In-process and file backends report false.
	RequiresNetwork bool

	// MaxMessageSize is the maximum record size in bytes (0 = unlimited/unknown).
	MaxMessageSize int64
}

// FireAndForget reports whether a nil Forward error carries no delivery
// guarantee.
func (c Capabilities) FireAndForget() bool {
	return !c.Blocking
}

// LocalOnly reports whether the backend works without any infrastructure.
func (c Capabilities) LocalOnly() bool {
	return !c.RequiresNetwork
}

// Predefined capability sets for the built-in backends.
var (
	// ChannelCapabilities for the in-memory Go channel backend.
	ChannelCapabilities = Capabilities{
		Name:            "channel",
		Durable:         false,
		Ordered:         true,
		Blocking:        false,
		RequiresNetwork: false,
	}

	// KafkaCapabilities for the Apache Kafka backend.
	KafkaCapabilities = Capabilities{
		Name:            "kafka",
		Durable:         true,
		Ordered:         true,
		Blocking:        true,
		RequiresNetwork: true,
		MaxMessageSize:  1048576, // Default 1MB
	}

	// NATSCapabilities for the NATS Core backend.
	NATSCapabilities = Capabilities{
		Name:            "nats",
		Durable:         false,
		Ordered:         false,
		Blocking:        false,
		RequiresNetwork: true,
		MaxMessageSize:  1048576, // Default 1MB
	}

	// JetStreamCapabilities for the NATS JetStream backend.
	JetStreamCapabilities = Capabilities{
		Name:            "jetstream",
		Durable:         true,
		Ordered:         true,
		Blocking:        true,
		RequiresNetwork: true,
		MaxMessageSize:  1048576, // Default 1MB
	}

	// RabbitMQCapabilities for the RabbitMQ/AMQP backend.
	RabbitMQCapabilities = Capabilities{
		Name:            "rabbitmq",
		Durable:         true,
		Ordered:         true,
		Blocking:        true,
		RequiresNetwork: true,
	}

	// HTTPCapabilities for the HTTP webhook backend.
	HTTPCapabilities = Capabilities{
		Name:            "http",
		Durable:         false,
		Ordered:         false,
		Blocking:        true,
		RequiresNetwork: true,
	}

	// AWSCapabilities for the AWS SNS backend.
	AWSCapabilities = Capabilities{
		Name:            "aws",
		Durable:         true,
		Ordered:         true,
		Blocking:        true,
		RequiresNetwork: true,
		MaxMessageSize:  262144, // 256KB
	}

	// IOCapabilities for the append-only file backend.
	IOCapabilities = Capabilities{
		Name:            "io",
		Durable:         true,
		Ordered:         true,
		Blocking:        true,
		RequiresNetwork: false,
	}
)

// GetCapabilities returns the capabilities for a backend by name. Uses the
// default registry to look up capabilities registered by each backend
// package. Returns a zero Capabilities struct if the backend is unknown.
func GetCapabilities(name string) Capabilities {
	return DefaultRegistry.GetCapabilities(name)
}
