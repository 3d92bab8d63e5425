package runtime

import (
	"context"

	errspkg "github.com/drblury/flowbus/internal/runtime/errors"
	"github.com/drblury/flowbus/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/flowbus/internal/runtime/logging"
	transportpkg "github.com/drblury/flowbus/transport"
)

// MetadataKeyEventName is the wire metadata key carrying the event name so
// subscribers can route deliveries back to their registry definition.
const MetadataKeyEventName = "flowbus_event_name"

// ChannelStrategy maps an event name to the channel it travels on when
// neither the publish call nor the event definition names one. The default is
// the identity mapping.
type ChannelStrategy func(eventName string) string

func defaultChannelStrategy(eventName string) string {
	return eventName
}

// Publisher validates payloads against the event registry and emits them
// through the publish middleware pipeline onto the transport.
type Publisher struct {
	registry  *EventRegistry
	conn      *ConnectionManager
	transport transportpkg.Transport
	logger    loggingpkg.ServiceLogger

	pipeline        Pipeline[*PublishOptions]
	channelStrategy ChannelStrategy
	skipValidation  bool
}

// NewPublisher constructs a Publisher. The connection manager is shared with
// the subscriber so both sides reuse one transport connection; a nil manager
// disables lazy connect and leaves the connection lifecycle to the caller.
func NewPublisher(registry *EventRegistry, conn *ConnectionManager, t transportpkg.Transport, log loggingpkg.ServiceLogger) (*Publisher, error) {
	if registry == nil {
		return nil, errspkg.ErrRegistryRequired
	}
	if t == nil {
		return nil, errspkg.ErrTransportRequired
	}
	if log == nil {
		log = loggingpkg.Nop()
	}
	return &Publisher{
		registry:        registry,
		conn:            conn,
		transport:       t,
		logger:          log,
		channelStrategy: defaultChannelStrategy,
	}, nil
}

// Use appends publish middlewares. The first middleware added is the
// outermost. Install middlewares during setup, before publishing starts.
func (p *Publisher) Use(mw ...PublishMiddleware) {
	p.pipeline.Use(mw...)
}

// SetChannelStrategy replaces the default identity channel mapping.
func (p *Publisher) SetChannelStrategy(strategy ChannelStrategy) {
	if strategy != nil {
		p.channelStrategy = strategy
	}
}

// SetSkipValidation disables schema validation on publish.
func (p *Publisher) SetSkipValidation(skip bool) {
	p.skipValidation = skip
}

// Publish validates the payload against the event's schema, runs the publish
// pipeline, and hands the encoded message to the transport. Unknown events
// and validation failures are reported before any network traffic.
func (p *Publisher) Publish(ctx context.Context, eventName string, payload any, opts ...PublishOption) error {
	if eventName == "" {
		return errspkg.ErrEventNameRequired
	}

	def, ok := p.registry.Get(eventName)
	if !ok {
		return &errspkg.UnknownEventError{Event: eventName}
	}

	options := &PublishOptions{}
	for _, opt := range opts {
		opt(options)
	}

	validated := payload
	if !p.skipValidation && def.Schema != nil {
		value, issues := def.Schema.Validate(payload)
		if len(issues) > 0 {
			return &errspkg.ValidationError{Event: eventName, Issues: issues}
		}
		validated = value
	}

	return p.pipeline.Run(ctx, eventName, validated, options, p.send(def))
}

func (p *Publisher) send(def EventDefinition) Action[*PublishOptions] {
	return func(ctx context.Context, eventName string, payload any, options *PublishOptions) error {
		if p.conn != nil {
			if err := p.conn.EnsureConnected(ctx); err != nil {
				return err
			}
		}

		encoded, err := encodePayload(payload)
		if err != nil {
			return err
		}

		channel := p.resolveChannel(def, options)
		md := options.Metadata.With(MetadataKeyEventName, eventName)

		p.logger.Debug("Publishing event", loggingpkg.LogFields{
			"event":   eventName,
			"channel": channel,
		})

		return p.transport.Publish(ctx, channel, encoded, transportpkg.PublishOptions{
			TargetIDs:  options.TargetIDs,
			Metadata:   md,
			Attributes: options.Attributes,
		})
	}
}

// resolveChannel applies the precedence: explicit publish option, event-level
// channel, then the channel strategy.
func (p *Publisher) resolveChannel(def EventDefinition, options *PublishOptions) string {
	if options.Channel != "" {
		return options.Channel
	}
	if def.Channel != "" {
		return def.Channel
	}
	return p.channelStrategy(def.Name)
}

// encodePayload passes raw bytes through untouched and JSON-encodes anything
// else.
func encodePayload(payload any) ([]byte, error) {
	if raw, ok := payload.([]byte); ok {
		return raw, nil
	}
	return jsoncodec.Marshal(payload)
}
