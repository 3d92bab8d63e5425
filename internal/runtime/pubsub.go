package runtime

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	configpkg "github.com/drblury/flowbus/internal/runtime/config"
	loggingpkg "github.com/drblury/flowbus/internal/runtime/logging"
	transportpkg "github.com/drblury/flowbus/transport"
)

const defaultMetricsPort = 9090

// Dependencies holds the optional collaborators for a PubSub. Leave fields
// nil/empty to use the defaults.
type Dependencies struct {
	// Transport overrides the transport built from the config. Useful for
	// tests and custom backends.
	Transport transportpkg.Transport

	// TransportRegistry selects transports by config name. Defaults to the
	// package-level registry populated by the transport sub-packages.
	TransportRegistry *transportpkg.Registry

	// PublishMiddlewares and SubscribeMiddlewares are appended after the
	// default middleware chain.
	PublishMiddlewares   []PublishMiddleware
	SubscribeMiddlewares []SubscribeMiddleware

	// DisableDefaultMiddlewares skips the logging and timing middlewares.
	DisableDefaultMiddlewares bool

	// ErrorHandler receives handler and validation failures on the
	// subscribe side. Defaults to logging them.
	ErrorHandler ErrorHandler

	// ChannelStrategy maps event names to channels for both sides. Defaults
	// to the identity mapping.
	ChannelStrategy ChannelStrategy

	// ContextFactory enriches each MessageContext before middlewares run.
	ContextFactory ContextFactory

	// IdempotencyStore enables the idempotency middleware on the subscribe
	// side.
	IdempotencyStore IdempotencyStore

	// Metrics overrides the collectors created when the config enables
	// metrics.
	Metrics *BusMetrics
}

// PubSub bundles an event registry, publisher, and subscriber over one shared
// transport connection. It is the top-level engine most applications use.
type PubSub struct {
	Conf       *configpkg.Config
	Logger     loggingpkg.ServiceLogger
	Registry   *EventRegistry
	Publisher  *Publisher
	Subscriber *Subscriber

	transport transportpkg.Transport
	conn      *ConnectionManager
	metrics   *BusMetrics

	httpServers    map[int]*http.ServeMux
	httpServersMu  sync.Mutex
	serversStarted bool

	mu      sync.Mutex
	started bool
}

// NewPubSub constructs the engine. Register handlers on the returned PubSub
// before calling Start. Unless EagerConnect is set the transport connection is
// deferred until the first operation that needs it.
func NewPubSub(ctx context.Context, conf *configpkg.Config, log loggingpkg.ServiceLogger, registry *EventRegistry, deps Dependencies) (*PubSub, error) {
	if conf == nil {
		conf = &configpkg.Config{}
	}
	if log == nil {
		log = loggingpkg.Nop()
	}
	if registry == nil {
		registry = NewEventRegistry()
	}
	if err := conf.Validate(); err != nil {
		return nil, fmt.Errorf("flowbus: invalid config: %w", err)
	}

	log.Info("Creating pubsub engine", loggingpkg.LogFields{
		"pubsub_system": conf.PubSubSystem,
		"config":        conf,
	})

	t := deps.Transport
	if t == nil {
		transportRegistry := deps.TransportRegistry
		if transportRegistry == nil {
			transportRegistry = transportpkg.DefaultRegistry
		}
		built, err := transportRegistry.Build(ctx, conf, loggingpkg.NewWatermillAdapter(log))
		if err != nil {
			return nil, err
		}
		t = built
	}

	conn := NewConnectionManager(t, conf, log)

	publisher, err := NewPublisher(registry, conn, t, log)
	if err != nil {
		return nil, err
	}
	subscriber, err := NewSubscriber(registry, conn, t, log)
	if err != nil {
		return nil, err
	}

	publisher.SetSkipValidation(conf.SkipValidation)
	subscriber.SetSkipValidation(conf.SkipValidation)
	subscriber.SetReplyPublisher(publisher)

	if deps.ChannelStrategy != nil {
		publisher.SetChannelStrategy(deps.ChannelStrategy)
		subscriber.SetChannelStrategy(deps.ChannelStrategy)
	}
	if deps.ErrorHandler != nil {
		subscriber.SetErrorHandler(deps.ErrorHandler)
	}
	if deps.ContextFactory != nil {
		subscriber.SetContextFactory(deps.ContextFactory)
	}

	ps := &PubSub{
		Conf:       conf,
		Logger:     log,
		Registry:   registry,
		Publisher:  publisher,
		Subscriber: subscriber,
		transport:  t,
		conn:       conn,
	}

	if err := ps.installMiddlewares(deps); err != nil {
		return nil, err
	}
	ps.registerCatalogEndpoints()

	if conf.EagerConnect {
		if err := conn.EnsureConnected(ctx); err != nil {
			return nil, err
		}
	}

	return ps, nil
}

func (ps *PubSub) installMiddlewares(deps Dependencies) error {
	if !deps.DisableDefaultMiddlewares {
		ps.Publisher.Use(
			LoggingMiddleware[*PublishOptions](ps.Logger, "publish"),
			TimingMiddleware[*PublishOptions](ps.Logger, "publish", 0),
		)
		ps.Subscriber.Use(
			LoggingMiddleware[*MessageContext](ps.Logger, "consume"),
			TimingMiddleware[*MessageContext](ps.Logger, "consume", 0),
		)
	}

	if ps.Conf.MetricsEnabled {
		metrics := deps.Metrics
		if metrics == nil {
			metrics = NewBusMetrics(nil)
		}
		if err := metrics.Register(); err != nil {
			return err
		}
		ps.metrics = metrics
		ps.Publisher.Use(metrics.PublishMiddleware())
		ps.Subscriber.Use(metrics.SubscribeMiddleware())

		port := ps.Conf.MetricsPort
		if port == 0 {
			port = defaultMetricsPort
		}
		ps.RegisterHTTPHandler(port, "/metrics", promhttp.Handler())
	}

	if deps.IdempotencyStore != nil {
		ps.Subscriber.Use(IdempotencyMiddleware(deps.IdempotencyStore))
	}

	ps.Publisher.Use(deps.PublishMiddlewares...)
	ps.Subscriber.Use(deps.SubscribeMiddlewares...)
	return nil
}

// Publish emits an event through the publisher.
func (ps *PubSub) Publish(ctx context.Context, eventName string, payload any, opts ...PublishOption) error {
	return ps.Publisher.Publish(ctx, eventName, payload, opts...)
}

// On registers a handler through the subscriber.
func (ps *PubSub) On(ctx context.Context, eventName string, handler Handler, opts ...SubscribeOption) (UnsubscribeFunc, error) {
	return ps.Subscriber.On(ctx, eventName, handler, opts...)
}

// OnMany registers one handler for several events.
func (ps *PubSub) OnMany(ctx context.Context, eventNames []string, handler Handler, opts ...SubscribeOption) (UnsubscribeFunc, error) {
	return ps.Subscriber.OnMany(ctx, eventNames, handler, opts...)
}

// Off removes every handler for an event.
func (ps *PubSub) Off(eventName string) error {
	return ps.Subscriber.Off(eventName)
}

// Status reports the connection state.
func (ps *PubSub) Status() transportpkg.Status {
	return ps.conn.Status()
}

// Start connects the transport, begins delivery for all registered handlers,
// and starts the metrics/catalog HTTP servers. Calling Start twice is a
// no-op.
func (ps *PubSub) Start(ctx context.Context) error {
	ps.mu.Lock()
	if ps.started {
		ps.mu.Unlock()
		return nil
	}
	ps.started = true
	ps.mu.Unlock()

	if err := ps.Subscriber.Subscribe(ctx); err != nil {
		ps.mu.Lock()
		ps.started = false
		ps.mu.Unlock()
		return err
	}

	ps.startHTTPServers()
	return nil
}

// Stop halts delivery and disconnects the transport. Handler registrations
// survive, so Start can resume later. Calling Stop twice is a no-op.
func (ps *PubSub) Stop(ctx context.Context) error {
	ps.mu.Lock()
	if !ps.started {
		ps.mu.Unlock()
		return nil
	}
	ps.started = false
	ps.mu.Unlock()

	if err := ps.Subscriber.Unsubscribe(ctx); err != nil {
		ps.Logger.Error("Failed to stop subscriber", err, nil)
	}
	return ps.conn.Disconnect(ctx)
}

// RegisterHTTPHandler mounts a handler on the engine's HTTP server for the
// given port. Servers are started by Start.
func (ps *PubSub) RegisterHTTPHandler(port int, pattern string, handler http.Handler) {
	ps.httpServersMu.Lock()
	defer ps.httpServersMu.Unlock()

	if ps.httpServers == nil {
		ps.httpServers = make(map[int]*http.ServeMux)
	}

	mux, ok := ps.httpServers[port]
	if !ok {
		mux = http.NewServeMux()
		ps.httpServers[port] = mux
	}

	mux.Handle(pattern, handler)
}

func (ps *PubSub) startHTTPServers() {
	ps.httpServersMu.Lock()
	defer ps.httpServersMu.Unlock()

	if ps.serversStarted {
		return
	}
	ps.serversStarted = true

	for port, mux := range ps.httpServers {
		addr := fmt.Sprintf(":%d", port)
		ps.Logger.Info("Starting HTTP server", loggingpkg.LogFields{"address": addr})
		go func(addr string, handler http.Handler) {
			if err := http.ListenAndServe(addr, handler); err != nil {
				ps.Logger.Error("Failed to start HTTP server", err, loggingpkg.LogFields{"address": addr})
			}
		}(addr, mux)
	}
}
