package runtime

import (
	"context"
	"time"

	metadatapkg "github.com/drblury/flowbus/internal/runtime/metadata"
)

// Middleware wraps a pipeline stage. E is the mutable envelope threaded
// through the chain: *PublishOptions on the publish side, *MessageContext on
// the subscribe side. A middleware that returns without calling next
// short-circuits the pipeline; that is a valid outcome, not an error.
type Middleware[E any] func(ctx context.Context, eventName string, payload any, env E, next func() error) error

// Action is the terminal stage of a pipeline run.
type Action[E any] func(ctx context.Context, eventName string, payload any, env E) error

// Pipeline executes middlewares in registration order around a terminal
// action. Use is not safe for concurrent use with Run; install middlewares
// during setup.
type Pipeline[E any] struct {
	middlewares []Middleware[E]
}

// Use appends middlewares to the chain.
func (p *Pipeline[E]) Use(mw ...Middleware[E]) {
	p.middlewares = append(p.middlewares, mw...)
}

// Len returns the number of installed middlewares.
func (p *Pipeline[E]) Len() int {
	return len(p.middlewares)
}

// Run threads the payload and envelope through every middleware and finally
// the terminal action. The first middleware registered is the outermost.
func (p *Pipeline[E]) Run(ctx context.Context, eventName string, payload any, env E, terminal Action[E]) error {
	var call func(i int) error
	call = func(i int) error {
		if i == len(p.middlewares) {
			return terminal(ctx, eventName, payload, env)
		}
		return p.middlewares[i](ctx, eventName, payload, env, func() error {
			return call(i + 1)
		})
	}
	return call(0)
}

// PublishMiddleware runs on the publish side and may rewrite PublishOptions
// before the payload reaches the transport.
type PublishMiddleware = Middleware[*PublishOptions]

// SubscribeMiddleware runs on the subscribe side around each handler
// invocation.
type SubscribeMiddleware = Middleware[*MessageContext]

// PublishOptions is the envelope for a single publish. Middlewares may mutate
// it before the transport sees the message.
type PublishOptions struct {
	// Channel overrides both the event-level channel and the channel strategy.
	Channel string

	// TargetIDs addresses the message to specific connections. Requires a
	// transport with the targeting capability.
	TargetIDs []string

	// Metadata travels with the message as string key/value pairs.
	Metadata metadatapkg.Metadata

	// Attributes drive subscriber-side filter matching.
	Attributes map[string]any
}

// PublishOption mutates PublishOptions.
type PublishOption func(*PublishOptions)

// WithChannel publishes to an explicit channel.
func WithChannel(channel string) PublishOption {
	return func(o *PublishOptions) { o.Channel = channel }
}

// WithTargetIDs addresses the message to specific connection IDs.
func WithTargetIDs(ids ...string) PublishOption {
	return func(o *PublishOptions) { o.TargetIDs = append(o.TargetIDs, ids...) }
}

// WithMetadata merges the given metadata into the message.
func WithMetadata(md metadatapkg.Metadata) PublishOption {
	return func(o *PublishOptions) {
		if o.Metadata == nil {
			o.Metadata = metadatapkg.Metadata{}
		}
		for k, v := range md {
			o.Metadata[k] = v
		}
	}
}

// WithAttributes merges the given attributes into the message.
func WithAttributes(attrs map[string]any) PublishOption {
	return func(o *PublishOptions) {
		if o.Attributes == nil {
			o.Attributes = make(map[string]any, len(attrs))
		}
		for k, v := range attrs {
			o.Attributes[k] = v
		}
	}
}

// MessageContext is the envelope handed to subscribe middlewares and handlers
// alongside the validated payload.
type MessageContext struct {
	// MessageID is the transport-assigned unique ID of this delivery.
	MessageID string

	// Timestamp records when the engine received the message.
	Timestamp time.Time

	// Metadata carries the message's string key/value pairs.
	Metadata metadatapkg.Metadata

	// Attributes are the publisher-supplied attributes used for filtering.
	Attributes map[string]any

	// Values is scratch space for middlewares and context factories.
	Values map[string]any

	// Publisher, when non-nil, lets a handler emit follow-up events on the
	// same engine.
	Publisher *Publisher
}

// ContextFactory enriches the MessageContext built for each delivery, for
// example by decoding auth metadata into Values.
type ContextFactory func(mctx *MessageContext)
