// Package forwarders imports all built-in forwarding backends for
// auto-registration. Import this package to have all backends registered
// with the default registry.
package forwarders

import (
	// Import all backends for side-effect registration
	_ "github.com/runeforged/runebus/forward/aws"
	_ "github.com/runeforged/runebus/forward/channel"
	_ "github.com/runeforged/runebus/forward/http"
	_ "github.com/runeforged/runebus/forward/io"
	_ "github.com/runeforged/runebus/forward/jetstream"
	_ "github.com/runeforged/runebus/forward/kafka"
	_ "github.com/runeforged/runebus/forward/nats"
	_ "github.com/runeforged/runebus/forward/rabbitmq"
)
