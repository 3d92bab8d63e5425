package runtime

import (
	"context"
	"sync"
	"testing"
	"time"

	configpkg "github.com/drblury/flowbus/internal/runtime/config"
	transportpkg "github.com/drblury/flowbus/transport"
)

type publishRecord struct {
	channel string
	payload []byte
	opts    transportpkg.PublishOptions
}

type subEntry struct {
	id      uint64
	channel string
	fn      transportpkg.MessageHandler
}

// fakeTransport is an in-memory Transport for engine tests. Failure injection
// covers connect and subscribe; deliver pushes a message to every live
// subscription on a channel.
type fakeTransport struct {
	mu           sync.Mutex
	state        transportpkg.Status
	caps         transportpkg.Capabilities
	emitter      *transportpkg.Emitter
	connectErr   error
	connectFails int
	connectCalls int
	connectGate  chan struct{}
	subscribeErr error
	subscribes   int
	unsubscribes int
	nextSub      uint64
	subs         []subEntry
	published    []publishRecord
	publishErr   error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		state:   transportpkg.StatusDisconnected,
		caps:    transportpkg.ChannelCapabilities,
		emitter: transportpkg.NewEmitter(),
	}
}

func (f *fakeTransport) ID() string                              { return "fake" }
func (f *fakeTransport) Capabilities() transportpkg.Capabilities { return f.caps }
func (f *fakeTransport) Events() *transportpkg.Emitter           { return f.emitter }

func (f *fakeTransport) State() transportpkg.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeTransport) Connect(ctx context.Context) error {
	f.mu.Lock()
	gate := f.connectGate
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.connectCalls++
	if f.connectFails > 0 {
		f.connectFails--
		f.state = transportpkg.StatusError
		return f.connectErr
	}
	f.state = transportpkg.StatusConnected
	return nil
}

func (f *fakeTransport) Disconnect(ctx context.Context) error {
	f.mu.Lock()
	f.state = transportpkg.StatusDisconnected
	f.subs = nil
	f.mu.Unlock()
	f.emitter.Emit(transportpkg.Event{Kind: transportpkg.EventDisconnect})
	return nil
}

func (f *fakeTransport) Subscribe(ctx context.Context, channel string, handler transportpkg.MessageHandler, opts transportpkg.SubscribeOptions) (transportpkg.Unsubscribe, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subscribeErr != nil {
		return nil, f.subscribeErr
	}
	f.subscribes++
	f.nextSub++
	id := f.nextSub
	f.subs = append(f.subs, subEntry{id: id, channel: channel, fn: handler})

	return func() error {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.unsubscribes++
		for i, entry := range f.subs {
			if entry.id == id {
				f.subs = append(f.subs[:i:i], f.subs[i+1:]...)
				break
			}
		}
		return nil
	}, nil
}

func (f *fakeTransport) Publish(ctx context.Context, channel string, payload []byte, opts transportpkg.PublishOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.publishErr != nil {
		return f.publishErr
	}
	f.published = append(f.published, publishRecord{channel: channel, payload: payload, opts: opts})
	return nil
}

// deliver pushes a message to every subscription on the channel, the way a
// broker would.
func (f *fakeTransport) deliver(channel string, msg transportpkg.Message) {
	msg.Channel = channel
	f.mu.Lock()
	handlers := make([]transportpkg.MessageHandler, 0, len(f.subs))
	for _, entry := range f.subs {
		if entry.channel == channel {
			handlers = append(handlers, entry.fn)
		}
	}
	f.mu.Unlock()

	for _, fn := range handlers {
		fn(msg)
	}
}

// drop simulates an unexpected connection loss.
func (f *fakeTransport) drop(err error) {
	f.mu.Lock()
	f.state = transportpkg.StatusError
	f.subs = nil
	f.mu.Unlock()
	f.emitter.Emit(transportpkg.Event{Kind: transportpkg.EventError, Err: err})
}

func (f *fakeTransport) publishedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.published)
}

func (f *fakeTransport) subscribeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subscribes
}

// instantManager builds a ConnectionManager whose backoff sleeps are recorded
// instead of slept.
func instantManager(t *testing.T, ft *fakeTransport, conf *configpkg.Config) (*ConnectionManager, *[]time.Duration) {
	t.Helper()

	m := NewConnectionManager(ft, conf, nil)
	t.Cleanup(m.Close)

	var mu sync.Mutex
	delays := &[]time.Duration{}
	m.sleep = func(ctx context.Context, d time.Duration) error {
		mu.Lock()
		*delays = append(*delays, d)
		mu.Unlock()
		return nil
	}
	return m, delays
}

// waitFor polls until the condition holds or the deadline expires.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}
