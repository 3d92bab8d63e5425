package flowbus

import (
	"time"

	"google.golang.org/protobuf/proto"

	runtimepkg "github.com/drblury/flowbus/internal/runtime"
	configpkg "github.com/drblury/flowbus/internal/runtime/config"
	errspkg "github.com/drblury/flowbus/internal/runtime/errors"
	filterpkg "github.com/drblury/flowbus/internal/runtime/filter"
	idspkg "github.com/drblury/flowbus/internal/runtime/ids"
	jsoncodec "github.com/drblury/flowbus/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/flowbus/internal/runtime/logging"
	metadatapkg "github.com/drblury/flowbus/internal/runtime/metadata"
	schemapkg "github.com/drblury/flowbus/internal/runtime/schema"
	transportpkg "github.com/drblury/flowbus/transport"
)

type (
	Config       = configpkg.Config
	PubSub       = runtimepkg.PubSub
	Dependencies = runtimepkg.Dependencies
	Publisher    = runtimepkg.Publisher
	Subscriber   = runtimepkg.Subscriber

	EventRegistry   = runtimepkg.EventRegistry
	EventDefinition = runtimepkg.EventDefinition

	ConnectionManager = runtimepkg.ConnectionManager
	ChannelStrategy   = runtimepkg.ChannelStrategy

	Handler         = runtimepkg.Handler
	ErrorHandler    = runtimepkg.ErrorHandler
	UnsubscribeFunc = runtimepkg.UnsubscribeFunc
	SubscribeOption = runtimepkg.SubscribeOption

	PublishOptions = runtimepkg.PublishOptions
	PublishOption  = runtimepkg.PublishOption
	MessageContext = runtimepkg.MessageContext
	ContextFactory = runtimepkg.ContextFactory

	Middleware[E any] = runtimepkg.Middleware[E]
	Pipeline[E any]   = runtimepkg.Pipeline[E]

	PublishMiddleware   = runtimepkg.PublishMiddleware
	SubscribeMiddleware = runtimepkg.SubscribeMiddleware

	RetryConfig          = runtimepkg.RetryConfig
	CircuitBreakerConfig = runtimepkg.CircuitBreakerConfig

	IdempotencyStore       = runtimepkg.IdempotencyStore
	MemoryIdempotencyStore = runtimepkg.MemoryIdempotencyStore

	BusMetrics    = runtimepkg.BusMetrics
	DispatchStats = runtimepkg.DispatchStats
	EventStats    = runtimepkg.EventStats
	CatalogEntry  = runtimepkg.CatalogEntry

	Metadata = metadatapkg.Metadata

	LogFields     = loggingpkg.LogFields
	ServiceLogger = loggingpkg.ServiceLogger

	SchemaAdapter  = schemapkg.Adapter
	SchemaFunc     = schemapkg.Func
	SchemaIssue    = schemapkg.Issue
	ProtoValidator = schemapkg.ProtoValidator

	FilterPolicy = filterpkg.Policy
	FilterCond   = filterpkg.Cond
	WirePolicy   = filterpkg.WirePolicy

	UnknownEventError = errspkg.UnknownEventError
	ValidationError   = errspkg.ValidationError
	ConnectionError   = errspkg.ConnectionError

	// Transport contract types
	Transport             = transportpkg.Transport
	TransportBuilder      = transportpkg.Builder
	TransportConfig       = transportpkg.Config
	TransportRegistry     = transportpkg.Registry
	TransportCapabilities = transportpkg.Capabilities
	TransportStatus       = transportpkg.Status
	TransportMessage      = transportpkg.Message
	CapabilityError       = transportpkg.CapabilityError
)

var (
	NewPubSub            = runtimepkg.NewPubSub
	NewEventRegistry     = runtimepkg.NewEventRegistry
	NewPublisher         = runtimepkg.NewPublisher
	NewSubscriber        = runtimepkg.NewSubscriber
	NewConnectionManager = runtimepkg.NewConnectionManager
	ValidateConfig       = configpkg.ValidateConfig

	// Built-in middlewares
	IdempotencyMiddleware      = runtimepkg.IdempotencyMiddleware
	NewMemoryIdempotencyStore  = runtimepkg.NewMemoryIdempotencyStore
	NewBusMetrics              = runtimepkg.NewBusMetrics
	TracingPublishMiddleware   = runtimepkg.TracingPublishMiddleware
	TracingSubscribeMiddleware = runtimepkg.TracingSubscribeMiddleware

	// Publish options
	WithChannel    = runtimepkg.WithChannel
	WithTargetIDs  = runtimepkg.WithTargetIDs
	WithMetadata   = runtimepkg.WithMetadata
	WithAttributes = runtimepkg.WithAttributes

	// Subscribe options
	WithFilter = runtimepkg.WithFilter

	// Filter conditions and evaluation
	In           = filterpkg.In
	Exists       = filterpkg.Exists
	Prefix       = filterpkg.Prefix
	Ne           = filterpkg.Ne
	Gt           = filterpkg.Gt
	Gte          = filterpkg.Gte
	Lt           = filterpkg.Lt
	Lte          = filterpkg.Lte
	Between      = filterpkg.Between
	Matches      = filterpkg.Matches
	ToWirePolicy = filterpkg.ToWirePolicy

	// Schema adapters
	SchemaAny = schemapkg.Any

	Marshal       = jsoncodec.Marshal
	MarshalIndent = jsoncodec.MarshalIndent
	Unmarshal     = jsoncodec.Unmarshal
	Encode        = jsoncodec.Encode
	Decode        = jsoncodec.Decode

	ErrRegistryRequired  = errspkg.ErrRegistryRequired
	ErrTransportRequired = errspkg.ErrTransportRequired
	ErrHandlerRequired   = errspkg.ErrHandlerRequired
	ErrEventNameRequired = errspkg.ErrEventNameRequired
	ErrPayloadRequired   = errspkg.ErrPayloadRequired
	ErrChannelRequired   = errspkg.ErrChannelRequired
	Retryable            = errspkg.Retryable

	NewSlogServiceLogger      = loggingpkg.NewSlogServiceLogger
	NewWatermillServiceLogger = loggingpkg.NewWatermillServiceLogger
	NopLogger                 = loggingpkg.Nop

	NewMetadata = metadatapkg.New

	NewMessageID = idspkg.NewMessageID

	// Modular transport registry.
	// Import individual transports via: _ "github.com/drblury/flowbus/transport/kafka"
	// or all of them via: _ "github.com/drblury/flowbus/transport/transports"
	DefaultTransportRegistry = transportpkg.DefaultRegistry
	RegisterTransport        = transportpkg.Register
	BuildTransport           = transportpkg.Build
	GetCapabilities          = transportpkg.GetCapabilities
	NewWatermillTransport    = transportpkg.NewWatermillTransport
)

// Connection states reported by Transport.State and PubSub.Status.
const (
	StatusDisconnected = transportpkg.StatusDisconnected
	StatusConnecting   = transportpkg.StatusConnecting
	StatusConnected    = transportpkg.StatusConnected
	StatusReconnecting = transportpkg.StatusReconnecting
	StatusError        = transportpkg.StatusError
)

// Metadata keys - use these constants for standard metadata fields.
const (
	MetadataKeyEventName  = runtimepkg.MetadataKeyEventName
	MetadataKeyAttributes = transportpkg.MetadataKeyAttributes
	MetadataKeyTargetIDs  = transportpkg.MetadataKeyTargetIDs
)

// SchemaJSON builds a schema adapter that decodes payloads into T and runs
// the optional checks.
func SchemaJSON[T any](checks ...schemapkg.CheckFunc[T]) SchemaAdapter {
	return schemapkg.JSON[T](checks...)
}

// SchemaProto builds a schema adapter for protobuf messages with an optional
// validator.
func SchemaProto[T proto.Message](validator ProtoValidator) SchemaAdapter {
	return schemapkg.Proto[T](validator)
}

// LoggingMiddleware logs every pipeline pass. Works on both the publish and
// subscribe pipelines.
func LoggingMiddleware[E any](log ServiceLogger, stage string) Middleware[E] {
	return runtimepkg.LoggingMiddleware[E](log, stage)
}

// TimingMiddleware logs the duration of each pipeline pass.
func TimingMiddleware[E any](log ServiceLogger, stage string, slowThreshold time.Duration) Middleware[E] {
	return runtimepkg.TimingMiddleware[E](log, stage, slowThreshold)
}

// RateLimitMiddleware drops passes beyond limit per sliding window.
func RateLimitMiddleware[E any](limit int, window time.Duration, onLimit func(eventName string)) Middleware[E] {
	return runtimepkg.RateLimitMiddleware[E](limit, window, onLimit)
}

// RetryMiddleware re-runs failing passes with exponential backoff.
func RetryMiddleware[E any](cfg RetryConfig) Middleware[E] {
	return runtimepkg.RetryMiddleware[E](cfg)
}

// CircuitBreakerMiddleware fails fast after consecutive failures.
func CircuitBreakerMiddleware[E any](cfg CircuitBreakerConfig) Middleware[E] {
	return runtimepkg.CircuitBreakerMiddleware[E](cfg)
}
