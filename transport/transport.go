// Package transport defines the delivery-mechanism contract the flowbus
// engine is built against. Each concrete transport (channel, kafka, rabbitmq,
// nats, aws, http) lives in its own sub-package and registers itself with the
// transport registry.
package transport

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"

	"github.com/drblury/flowbus/internal/runtime/metadata"
)

// Status describes the connection lifecycle of a transport.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusReconnecting Status = "reconnecting"
	StatusError        Status = "error"
)

// Capabilities describes the features supported by a transport backend.
// Operations a transport does not support fail with CapabilityError instead
// of silently degrading.
type Capabilities struct {
	// Name is the human-readable name of the transport.
	Name string

	// CanSubscribe indicates the transport can deliver inbound messages.
	CanSubscribe bool

	// CanPublish indicates the transport can send outbound messages.
	CanPublish bool

	// Bidirectional indicates a single instance can do both at once.
	Bidirectional bool

	// SupportsTargeting indicates messages can be addressed to specific
	// connection IDs rather than every subscriber of a channel.
	SupportsTargeting bool

	// SupportsChannels indicates the transport routes by channel/topic.
	SupportsChannels bool

	// SupportsFiltering indicates the transport can apply a wire filter
	// policy server-side. The engine always re-checks filters locally.
	SupportsFiltering bool
}

// Message is a single delivery produced by a transport.
type Message struct {
	Channel      string
	Payload      []byte
	MessageID    string
	ConnectionID string
	Metadata     metadata.Metadata
	Attributes   map[string]any
}

// MessageHandler consumes an inbound message. Handler failures are the
// engine's concern; transports only deliver.
type MessageHandler func(msg Message)

// Unsubscribe tears down a channel subscription.
type Unsubscribe func() error

// SubscribeOptions carries per-subscription settings.
type SubscribeOptions struct {
	// Filter is a wire filter policy for transports with native server-side
	// filtering. Ignored by transports whose capabilities do not include it.
	Filter map[string][]any
}

// PublishOptions carries per-publish settings.
type PublishOptions struct {
	// TargetIDs addresses the message to specific connections. Requires the
	// SupportsTargeting capability.
	TargetIDs []string
	Metadata  metadata.Metadata
	// Attributes travel alongside the payload and drive filter matching.
	Attributes map[string]any
}

// Transport is the pluggable delivery mechanism the engine publishes and
// subscribes through. Connect and Disconnect are idempotent.
type Transport interface {
	ID() string
	Capabilities() Capabilities
	State() Status

	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error

	Subscribe(ctx context.Context, channel string, handler MessageHandler, opts SubscribeOptions) (Unsubscribe, error)
	Publish(ctx context.Context, channel string, payload []byte, opts PublishOptions) error

	// Events exposes the connect/disconnect/error/reconnecting/message
	// emitter surface.
	Events() *Emitter
}

// CapabilityError reports an operation the active transport does not support.
type CapabilityError struct {
	Transport string
	Operation string
}

func (e *CapabilityError) Error() string {
	return fmt.Sprintf("flowbus: transport %q does not support %s", e.Transport, e.Operation)
}

// CheckCapability returns a CapabilityError when ok is false.
func CheckCapability(transportID, operation string, ok bool) error {
	if ok {
		return nil
	}
	return &CapabilityError{Transport: transportID, Operation: operation}
}

// Config provides the configuration values needed by transports. The
// interface allows transports to access only the config they need without
// depending on the full config package.
type Config interface {
	// GetPubSubSystem returns the transport type name.
	GetPubSubSystem() string

	// Kafka
	GetKafkaBrokers() []string
	GetKafkaConsumerGroup() string

	// RabbitMQ
	GetRabbitMQURL() string

	// NATS
	GetNATSURL() string

	// HTTP
	GetHTTPServerAddress() string
	GetHTTPPublisherURL() string

	// AWS
	GetAWSRegion() string
	GetAWSAccountID() string
	GetAWSAccessKeyID() string
	GetAWSSecretAccessKey() string
	GetAWSEndpoint() string
}

// Builder is the function signature for creating a transport from config.
// Each transport package provides a Builder that can be registered.
type Builder func(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Transport, error)

// Predefined capability sets for the bundled transports.
var (
	// ChannelCapabilities for the in-memory Go channel transport.
	ChannelCapabilities = Capabilities{
		Name:             "channel",
		CanSubscribe:     true,
		CanPublish:       true,
		Bidirectional:    true,
		SupportsChannels: true,
	}

	// KafkaCapabilities for the Apache Kafka transport.
	KafkaCapabilities = Capabilities{
		Name:             "kafka",
		CanSubscribe:     true,
		CanPublish:       true,
		Bidirectional:    true,
		SupportsChannels: true,
	}

	// RabbitMQCapabilities for the RabbitMQ/AMQP transport.
	RabbitMQCapabilities = Capabilities{
		Name:             "rabbitmq",
		CanSubscribe:     true,
		CanPublish:       true,
		Bidirectional:    true,
		SupportsChannels: true,
	}

	// NATSCapabilities for the NATS Core transport.
	NATSCapabilities = Capabilities{
		Name:             "nats",
		CanSubscribe:     true,
		CanPublish:       true,
		Bidirectional:    true,
		SupportsChannels: true,
	}

	// AWSCapabilities for the AWS SNS/SQS transport.
	AWSCapabilities = Capabilities{
		Name:             "aws",
		CanSubscribe:     true,
		CanPublish:       true,
		Bidirectional:    true,
		SupportsChannels: true,
	}

	// HTTPCapabilities for the HTTP push transport.
	HTTPCapabilities = Capabilities{
		Name:             "http",
		CanSubscribe:     true,
		CanPublish:       true,
		Bidirectional:    true,
		SupportsChannels: true,
	}
)
