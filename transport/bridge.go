package transport

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/flowbus/internal/runtime/ids"
	"github.com/drblury/flowbus/internal/runtime/jsoncodec"
	"github.com/drblury/flowbus/internal/runtime/metadata"
)

// Metadata keys used on the wire by watermill-backed transports.
const (
	// MetadataKeyAttributes carries the JSON-encoded attribute map.
	MetadataKeyAttributes = "flowbus_attributes"
	// MetadataKeyTargetIDs carries the comma-joined target connection IDs.
	MetadataKeyTargetIDs = "flowbus_target_ids"
)

// ErrNotConnected is returned for operations attempted before Connect.
var ErrNotConnected = errors.New("flowbus: transport is not connected")

// ErrConnectionLost is emitted as an EventError when the broker closes the
// message stream without a local Disconnect or Unsubscribe.
var ErrConnectionLost = errors.New("flowbus: transport connection lost")

// DialFunc lazily constructs the watermill publisher/subscriber pair. It is
// invoked on every Connect so a reconnect gets a fresh pair.
type DialFunc func(ctx context.Context) (message.Publisher, message.Subscriber, error)

// WatermillTransport adapts a watermill publisher/subscriber pair to the
// Transport contract: explicit connect/disconnect lifecycle, capability
// gating, the emitter surface, and attribute encoding on the wire.
type WatermillTransport struct {
	name    string
	caps    Capabilities
	logger  watermill.LoggerAdapter
	dial    DialFunc
	emitter *Emitter

	mu       sync.Mutex
	state    Status
	pub      message.Publisher
	sub      message.Subscriber
	pumps    map[uint64]context.CancelFunc
	nextPump uint64
}

// NewWatermillTransport wraps a watermill pair factory as a Transport.
func NewWatermillTransport(name string, caps Capabilities, logger watermill.LoggerAdapter, dial DialFunc) *WatermillTransport {
	if logger == nil {
		logger = watermill.NopLogger{}
	}
	return &WatermillTransport{
		name:    name,
		caps:    caps,
		logger:  logger,
		dial:    dial,
		emitter: NewEmitter(),
		state:   StatusDisconnected,
		pumps:   make(map[uint64]context.CancelFunc),
	}
}

func (t *WatermillTransport) ID() string {
	return t.name
}

func (t *WatermillTransport) Capabilities() Capabilities {
	return t.caps
}

func (t *WatermillTransport) State() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *WatermillTransport) Events() *Emitter {
	return t.emitter
}

// Connect dials the watermill pair. Calling Connect while connected is a no-op.
func (t *WatermillTransport) Connect(ctx context.Context) error {
	t.mu.Lock()
	if t.state == StatusConnected {
		t.mu.Unlock()
		return nil
	}
	t.state = StatusConnecting
	t.mu.Unlock()

	pub, sub, err := t.dial(ctx)

	t.mu.Lock()
	if err != nil {
		t.state = StatusError
		t.mu.Unlock()
		t.emitter.Emit(Event{Kind: EventError, Err: err})
		return err
	}
	t.pub = pub
	t.sub = sub
	t.state = StatusConnected
	t.mu.Unlock()

	t.logger.Debug("Transport connected", watermill.LogFields{"transport": t.name})
	t.emitter.Emit(Event{Kind: EventConnect})
	return nil
}

// Disconnect stops all message pumps and closes the watermill pair. Calling
// Disconnect while disconnected is a no-op.
func (t *WatermillTransport) Disconnect(ctx context.Context) error {
	t.mu.Lock()
	if t.state == StatusDisconnected {
		t.mu.Unlock()
		return nil
	}
	pub, sub := t.pub, t.sub
	pumps := t.pumps
	t.pub, t.sub = nil, nil
	t.pumps = make(map[uint64]context.CancelFunc)
	t.state = StatusDisconnected
	t.mu.Unlock()

	for _, cancel := range pumps {
		cancel()
	}

	var errs []error
	if sub != nil {
		errs = append(errs, sub.Close())
	}
	// Some backends (gochannel) return one object for both roles; avoid
	// closing it twice.
	if pub != nil && any(pub) != any(sub) {
		errs = append(errs, pub.Close())
	}

	t.emitter.Emit(Event{Kind: EventDisconnect})
	return errors.Join(errs...)
}

// Subscribe attaches a handler to a channel. The returned Unsubscribe stops
// delivery; a transport Disconnect stops it as well.
func (t *WatermillTransport) Subscribe(ctx context.Context, channel string, handler MessageHandler, opts SubscribeOptions) (Unsubscribe, error) {
	if err := CheckCapability(t.name, "subscribe", t.caps.CanSubscribe); err != nil {
		return nil, err
	}

	t.mu.Lock()
	if t.state != StatusConnected || t.sub == nil {
		t.mu.Unlock()
		return nil, ErrNotConnected
	}
	sub := t.sub
	pumpCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	t.nextPump++
	id := t.nextPump
	t.pumps[id] = cancel
	t.mu.Unlock()

	messages, err := sub.Subscribe(pumpCtx, channel)
	if err != nil {
		t.removePump(id)
		cancel()
		return nil, err
	}

	go t.pump(pumpCtx, id, channel, messages, handler)

	unsubscribe := func() error {
		t.removePump(id)
		cancel()
		return nil
	}
	return unsubscribe, nil
}

func (t *WatermillTransport) removePump(id uint64) {
	t.mu.Lock()
	delete(t.pumps, id)
	t.mu.Unlock()
}

func (t *WatermillTransport) pump(ctx context.Context, id uint64, channel string, messages <-chan *message.Message, handler MessageHandler) {
	for msg := range messages {
		decoded := t.decode(channel, msg)
		t.emitter.Emit(Event{Kind: EventMessage, Message: &decoded})
		handler(decoded)
		msg.Ack()
	}
	if ctx.Err() != nil {
		// Unsubscribe or Disconnect cancelled the pump.
		return
	}
	t.handleStreamClosed(id, channel)
}

// handleStreamClosed handles the broker dropping the connection: watermill
// closes the message stream without any local cancellation. The transport
// tears the pair down, moves to StatusError, and emits an EventError so the
// connection manager can schedule a reconnect.
func (t *WatermillTransport) handleStreamClosed(id uint64, channel string) {
	t.mu.Lock()
	if t.state != StatusConnected {
		t.mu.Unlock()
		return
	}
	if _, ok := t.pumps[id]; !ok {
		// The pump was unsubscribed; the closure is intentional.
		t.mu.Unlock()
		return
	}
	pub, sub := t.pub, t.sub
	pumps := t.pumps
	t.pub, t.sub = nil, nil
	t.pumps = make(map[uint64]context.CancelFunc)
	t.state = StatusError
	t.mu.Unlock()

	for _, cancel := range pumps {
		cancel()
	}
	if sub != nil {
		_ = sub.Close()
	}
	if pub != nil && any(pub) != any(sub) {
		_ = pub.Close()
	}

	t.logger.Error("Message stream closed unexpectedly", ErrConnectionLost, watermill.LogFields{
		"transport": t.name,
		"channel":   channel,
	})
	t.emitter.Emit(Event{Kind: EventError, Err: ErrConnectionLost})
}

func (t *WatermillTransport) decode(channel string, msg *message.Message) Message {
	md := metadata.FromWatermill(msg.Metadata)

	var attributes map[string]any
	if raw, ok := md[MetadataKeyAttributes]; ok {
		if err := jsoncodec.Unmarshal([]byte(raw), &attributes); err != nil {
			t.logger.Error("Failed to decode message attributes", err, watermill.LogFields{
				"transport":    t.name,
				"message_uuid": msg.UUID,
			})
		}
		delete(md, MetadataKeyAttributes)
	}

	return Message{
		Channel:    channel,
		Payload:    msg.Payload,
		MessageID:  msg.UUID,
		Metadata:   md,
		Attributes: attributes,
	}
}

// Publish sends a payload to a channel, encoding attributes and target IDs
// into wire metadata.
func (t *WatermillTransport) Publish(ctx context.Context, channel string, payload []byte, opts PublishOptions) error {
	if err := CheckCapability(t.name, "publish", t.caps.CanPublish); err != nil {
		return err
	}
	if len(opts.TargetIDs) > 0 {
		if err := CheckCapability(t.name, "targeting", t.caps.SupportsTargeting); err != nil {
			return err
		}
	}

	t.mu.Lock()
	pub := t.pub
	connected := t.state == StatusConnected
	t.mu.Unlock()
	if !connected || pub == nil {
		return ErrNotConnected
	}

	msg := message.NewMessage(ids.NewMessageID(), payload)
	msg.Metadata = metadata.ToWatermill(opts.Metadata)
	if len(opts.Attributes) > 0 {
		encoded, err := jsoncodec.Marshal(opts.Attributes)
		if err != nil {
			return err
		}
		msg.Metadata[MetadataKeyAttributes] = string(encoded)
	}
	if len(opts.TargetIDs) > 0 {
		msg.Metadata[MetadataKeyTargetIDs] = strings.Join(opts.TargetIDs, ",")
	}
	msg.SetContext(ctx)

	return pub.Publish(channel, msg)
}
