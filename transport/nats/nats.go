// Package nats provides a NATS Core transport for flowbus.
package nats

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	nc "github.com/nats-io/nats.go"

	"github.com/drblury/flowbus/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "nats"

// ConnectionName identifies flowbus connections on the NATS server.
const ConnectionName = "flowbus"

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(cfg nats.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return nats.NewPublisher(cfg, logger)
}

// SubscriberFactory allows overriding the subscriber creation for testing.
var SubscriberFactory = func(cfg nats.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	return nats.NewSubscriber(cfg, logger)
}

func init() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.NATSCapabilities)
}

// Build creates a new NATS transport.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	url := cfg.GetNATSURL()

	dial := func(ctx context.Context) (message.Publisher, message.Subscriber, error) {
		marshaler := &nats.NATSMarshaler{}
		// Reconnection at the NATS client level is disabled; the engine's
		// connection manager owns the retry schedule.
		options := []nc.Option{
			nc.Name(ConnectionName),
			nc.NoReconnect(),
		}

		publisher, err := PublisherFactory(
			nats.PublisherConfig{
				URL:         url,
				NatsOptions: options,
				Marshaler:   marshaler,
			},
			logger,
		)
		if err != nil {
			return nil, nil, err
		}

		subscriber, err := SubscriberFactory(
			nats.SubscriberConfig{
				URL:         url,
				NatsOptions: options,
				Unmarshaler: marshaler,
			},
			logger,
		)
		if err != nil {
			return nil, nil, err
		}

		return publisher, subscriber, nil
	}

	return transport.NewWatermillTransport(TransportName, transport.NATSCapabilities, logger, dial), nil
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.NATSCapabilities
}
