// Package transport defines the interfaces and registry for orderlink broker
// transports. Each implementation (channel, rabbitmq, nats) lives in its own
// sub-package and registers itself with the registry.
package transport

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
)

// Transport combines a publisher and subscriber pair produced by a builder.
type Transport struct {
	Publisher  message.Publisher
	Subscriber message.Subscriber
}

// Builder is the function signature for creating a transport from config.
type Builder func(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Transport, error)

// Config provides the configuration values needed by transports. The narrow
// interface keeps transport packages independent of the full config package.
type Config interface {
	GetPubSubSystem() string
	GetRabbitMQURL() string
	GetNATSURL() string
}
