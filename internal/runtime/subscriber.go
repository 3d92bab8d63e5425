package runtime

import (
	"context"
	"fmt"
	"sync"
	"time"

	errspkg "github.com/drblury/flowbus/internal/runtime/errors"
	filterpkg "github.com/drblury/flowbus/internal/runtime/filter"
	loggingpkg "github.com/drblury/flowbus/internal/runtime/logging"
	transportpkg "github.com/drblury/flowbus/transport"
)

// Handler consumes a validated event payload. Returning an error marks this
// delivery as failed for this handler only; other handlers still run.
type Handler func(ctx context.Context, payload any, mctx *MessageContext) error

// ErrorHandler receives handler and validation failures. The raw payload is
// included so failures can be inspected or parked elsewhere.
type ErrorHandler func(err error, eventName string, payload []byte)

// UnsubscribeFunc removes a single handler registration.
type UnsubscribeFunc func() error

// SubscribeOption tunes a single handler registration.
type SubscribeOption func(*handlerRegistration)

// WithFilter attaches an attribute filter policy to the registration. The
// handler only runs for messages whose attributes match.
func WithFilter(policy filterpkg.Policy) SubscribeOption {
	return func(r *handlerRegistration) { r.policy = policy }
}

type handlerRegistration struct {
	id      uint64
	handler Handler
	policy  filterpkg.Policy
}

// eventSubscription tracks the handlers for one event plus the transport
// subscription feeding them. The transport subscription exists exactly while
// the subscriber is started and at least one handler is registered.
type eventSubscription struct {
	handlers    []handlerRegistration
	unsubscribe transportpkg.Unsubscribe
}

// Subscriber routes transport deliveries to registered handlers through the
// subscribe middleware pipeline. Handler registration is independent of the
// transport lifecycle: handlers added before Subscribe are picked up when it
// starts, handlers added after bind immediately.
type Subscriber struct {
	registry  *EventRegistry
	conn      *ConnectionManager
	transport transportpkg.Transport
	logger    loggingpkg.ServiceLogger

	pipeline        Pipeline[*MessageContext]
	channelStrategy ChannelStrategy
	contextFactory  ContextFactory
	errorHandler    ErrorHandler
	replyPublisher  *Publisher
	skipValidation  bool
	stats           *DispatchStats

	mu      sync.Mutex
	subs    map[string]*eventSubscription
	nextID  uint64
	started bool
}

// NewSubscriber constructs a Subscriber sharing the publisher's connection
// manager. Handler errors are logged unless an ErrorHandler is installed.
func NewSubscriber(registry *EventRegistry, conn *ConnectionManager, t transportpkg.Transport, log loggingpkg.ServiceLogger) (*Subscriber, error) {
	if registry == nil {
		return nil, errspkg.ErrRegistryRequired
	}
	if t == nil {
		return nil, errspkg.ErrTransportRequired
	}
	if log == nil {
		log = loggingpkg.Nop()
	}

	s := &Subscriber{
		registry:        registry,
		conn:            conn,
		transport:       t,
		logger:          log,
		channelStrategy: defaultChannelStrategy,
		stats:           NewDispatchStats(),
		subs:            make(map[string]*eventSubscription),
	}
	s.errorHandler = func(err error, eventName string, payload []byte) {
		log.Error("Handler failed", err, loggingpkg.LogFields{"event": eventName})
	}

	// After an automatic reconnect the transport-side subscriptions are gone;
	// re-establish them for every event that still has handlers.
	if conn != nil {
		conn.OnStateChange(func(status transportpkg.Status) {
			if status == transportpkg.StatusConnected {
				s.resubscribeAll()
			}
		})
	}

	return s, nil
}

// Use appends subscribe middlewares around every handler invocation.
func (s *Subscriber) Use(mw ...SubscribeMiddleware) {
	s.pipeline.Use(mw...)
}

// SetChannelStrategy replaces the default identity channel mapping. It must
// match the publisher's strategy for deliveries to arrive.
func (s *Subscriber) SetChannelStrategy(strategy ChannelStrategy) {
	if strategy != nil {
		s.channelStrategy = strategy
	}
}

// SetContextFactory installs a hook that enriches each MessageContext before
// middlewares run.
func (s *Subscriber) SetContextFactory(factory ContextFactory) {
	s.contextFactory = factory
}

// SetErrorHandler replaces the default log-only error handler.
func (s *Subscriber) SetErrorHandler(handler ErrorHandler) {
	if handler != nil {
		s.errorHandler = handler
	}
}

// SetReplyPublisher makes the given publisher available to handlers through
// MessageContext.Publisher.
func (s *Subscriber) SetReplyPublisher(p *Publisher) {
	s.replyPublisher = p
}

// SetSkipValidation disables schema validation of inbound payloads.
func (s *Subscriber) SetSkipValidation(skip bool) {
	s.skipValidation = skip
}

// Stats exposes per-event dispatch counters.
func (s *Subscriber) Stats() *DispatchStats {
	return s.stats
}

// On registers a handler for an event. The first handler for an event opens
// the transport subscription (once the subscriber is started); the returned
// function removes this handler and closes the transport subscription when it
// was the last one.
func (s *Subscriber) On(ctx context.Context, eventName string, handler Handler, opts ...SubscribeOption) (UnsubscribeFunc, error) {
	if eventName == "" {
		return nil, errspkg.ErrEventNameRequired
	}
	if handler == nil {
		return nil, errspkg.ErrHandlerRequired
	}
	if _, ok := s.registry.Get(eventName); !ok {
		return nil, &errspkg.UnknownEventError{Event: eventName}
	}

	reg := handlerRegistration{handler: handler}
	for _, opt := range opts {
		opt(&reg)
	}

	s.mu.Lock()
	s.nextID++
	reg.id = s.nextID
	id := reg.id

	sub, ok := s.subs[eventName]
	if !ok {
		sub = &eventSubscription{}
		s.subs[eventName] = sub
	}
	sub.handlers = append(sub.handlers, reg)
	needsTransport := s.started && sub.unsubscribe == nil
	s.mu.Unlock()

	if needsTransport {
		if err := s.openTransportSubscription(ctx, eventName); err != nil {
			s.removeHandler(eventName, id)
			return nil, err
		}
	}

	return func() error {
		return s.removeHandler(eventName, id)
	}, nil
}

// OnMany registers one handler for several events.
func (s *Subscriber) OnMany(ctx context.Context, eventNames []string, handler Handler, opts ...SubscribeOption) (UnsubscribeFunc, error) {
	unsubscribes := make([]UnsubscribeFunc, 0, len(eventNames))
	for _, name := range eventNames {
		unsubscribe, err := s.On(ctx, name, handler, opts...)
		if err != nil {
			for _, u := range unsubscribes {
				_ = u()
			}
			return nil, err
		}
		unsubscribes = append(unsubscribes, unsubscribe)
	}
	return func() error {
		var errs []error
		for _, u := range unsubscribes {
			if err := u(); err != nil {
				errs = append(errs, err)
			}
		}
		if len(errs) > 0 {
			return fmt.Errorf("flowbus: unsubscribe failed: %v", errs)
		}
		return nil
	}, nil
}

// Off removes every handler for an event and closes its transport
// subscription.
func (s *Subscriber) Off(eventName string) error {
	s.mu.Lock()
	sub, ok := s.subs[eventName]
	if !ok {
		s.mu.Unlock()
		return nil
	}
	sub.handlers = nil
	unsubscribe := sub.unsubscribe
	sub.unsubscribe = nil
	delete(s.subs, eventName)
	s.mu.Unlock()

	if unsubscribe != nil {
		return unsubscribe()
	}
	return nil
}

// Subscribe starts delivery: it connects the transport and opens a transport
// subscription for every event that has handlers. Calling Subscribe twice is
// a no-op.
func (s *Subscriber) Subscribe(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	pending := make([]string, 0, len(s.subs))
	for name, sub := range s.subs {
		if len(sub.handlers) > 0 && sub.unsubscribe == nil {
			pending = append(pending, name)
		}
	}
	s.mu.Unlock()

	if s.conn != nil {
		if err := s.conn.EnsureConnected(ctx); err != nil {
			s.mu.Lock()
			s.started = false
			s.mu.Unlock()
			return err
		}
	}

	for _, name := range pending {
		if err := s.openTransportSubscription(ctx, name); err != nil {
			return err
		}
	}
	return nil
}

// Unsubscribe stops delivery but keeps all handler registrations, so a later
// Subscribe resumes where it left off.
func (s *Subscriber) Unsubscribe(ctx context.Context) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = false
	var unsubscribes []transportpkg.Unsubscribe
	for _, sub := range s.subs {
		if sub.unsubscribe != nil {
			unsubscribes = append(unsubscribes, sub.unsubscribe)
			sub.unsubscribe = nil
		}
	}
	s.mu.Unlock()

	var errs []error
	for _, unsubscribe := range unsubscribes {
		if err := unsubscribe(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("flowbus: unsubscribe failed: %v", errs)
	}
	return nil
}

func (s *Subscriber) removeHandler(eventName string, id uint64) error {
	s.mu.Lock()
	sub, ok := s.subs[eventName]
	if !ok {
		s.mu.Unlock()
		return nil
	}
	for i, reg := range sub.handlers {
		if reg.id == id {
			sub.handlers = append(sub.handlers[:i:i], sub.handlers[i+1:]...)
			break
		}
	}
	var unsubscribe transportpkg.Unsubscribe
	if len(sub.handlers) == 0 {
		unsubscribe = sub.unsubscribe
		sub.unsubscribe = nil
		delete(s.subs, eventName)
	}
	s.mu.Unlock()

	if unsubscribe != nil {
		return unsubscribe()
	}
	return nil
}

func (s *Subscriber) openTransportSubscription(ctx context.Context, eventName string) error {
	def, ok := s.registry.Get(eventName)
	if !ok {
		return &errspkg.UnknownEventError{Event: eventName}
	}
	channel := s.resolveChannel(def)

	unsubscribe, err := s.transport.Subscribe(ctx, channel, func(msg transportpkg.Message) {
		s.dispatch(eventName, msg)
	}, transportpkg.SubscribeOptions{})
	if err != nil {
		return err
	}

	s.mu.Lock()
	sub, ok := s.subs[eventName]
	if !ok || len(sub.handlers) == 0 {
		// Everything unregistered while we were subscribing.
		s.mu.Unlock()
		return unsubscribe()
	}
	if sub.unsubscribe != nil {
		s.mu.Unlock()
		return unsubscribe()
	}
	sub.unsubscribe = unsubscribe
	s.mu.Unlock()

	s.logger.Debug("Subscribed to event", loggingpkg.LogFields{
		"event":   eventName,
		"channel": channel,
	})
	return nil
}

func (s *Subscriber) resubscribeAll() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	pending := make([]string, 0, len(s.subs))
	for name, sub := range s.subs {
		if len(sub.handlers) > 0 {
			sub.unsubscribe = nil
			pending = append(pending, name)
		}
	}
	s.mu.Unlock()

	for _, name := range pending {
		if err := s.openTransportSubscription(context.Background(), name); err != nil {
			s.logger.Error("Failed to re-subscribe after reconnect", err, loggingpkg.LogFields{
				"event": name,
			})
		}
	}
}

func (s *Subscriber) resolveChannel(def EventDefinition) string {
	if def.Channel != "" {
		return def.Channel
	}
	return s.channelStrategy(def.Name)
}

// dispatch validates the payload once and fans it out to every matching
// handler in registration order. A failing or panicking handler never stops
// the others.
func (s *Subscriber) dispatch(eventName string, msg transportpkg.Message) {
	if name := msg.Metadata[MetadataKeyEventName]; name != "" && name != eventName {
		// Another event sharing this channel; not ours.
		return
	}

	s.stats.Received(eventName)

	def, ok := s.registry.Get(eventName)
	if !ok {
		s.errorHandler(&errspkg.UnknownEventError{Event: eventName}, eventName, msg.Payload)
		return
	}

	payload := any(msg.Payload)
	if !s.skipValidation && def.Schema != nil {
		value, issues := def.Schema.Validate(msg.Payload)
		if len(issues) > 0 {
			err := &errspkg.ValidationError{Event: eventName, Issues: issues}
			s.stats.Failed(eventName, err)
			s.errorHandler(err, eventName, msg.Payload)
			return
		}
		payload = value
	}

	mctx := &MessageContext{
		MessageID:  msg.MessageID,
		Timestamp:  time.Now(),
		Metadata:   msg.Metadata,
		Attributes: msg.Attributes,
		Values:     make(map[string]any),
		Publisher:  s.replyPublisher,
	}
	if s.contextFactory != nil {
		s.contextFactory(mctx)
	}

	s.mu.Lock()
	sub, ok := s.subs[eventName]
	var handlers []handlerRegistration
	if ok {
		handlers = make([]handlerRegistration, len(sub.handlers))
		copy(handlers, sub.handlers)
	}
	s.mu.Unlock()

	ctx := context.Background()
	for _, reg := range handlers {
		if !filterpkg.Matches(msg.Attributes, reg.policy) {
			continue
		}
		if err := s.invoke(ctx, eventName, payload, mctx, reg.handler); err != nil {
			s.stats.Failed(eventName, err)
			s.errorHandler(err, eventName, msg.Payload)
			continue
		}
		s.stats.Succeeded(eventName)
	}
}

// invoke runs the subscribe pipeline around a single handler and converts
// panics into errors so one handler cannot take down the pump.
func (s *Subscriber) invoke(ctx context.Context, eventName string, payload any, mctx *MessageContext, handler Handler) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("flowbus: handler panic for event %q: %v", eventName, r)
		}
	}()

	return s.pipeline.Run(ctx, eventName, payload, mctx, func(ctx context.Context, eventName string, payload any, mctx *MessageContext) error {
		return handler(ctx, payload, mctx)
	})
}
