package runtime

import (
	"context"
	"sync"
	"time"

	configpkg "github.com/drblury/flowbus/internal/runtime/config"
	errspkg "github.com/drblury/flowbus/internal/runtime/errors"
	loggingpkg "github.com/drblury/flowbus/internal/runtime/logging"
	transportpkg "github.com/drblury/flowbus/transport"
)

type connectAttempt struct {
	done chan struct{}
	err  error
}

// ConnectionManager owns the transport lifecycle: lazy single-flight
// connection, manual disconnect, and automatic reconnection with exponential
// backoff after an unexpected drop.
type ConnectionManager struct {
	transport transportpkg.Transport
	logger    loggingpkg.ServiceLogger

	base        time.Duration
	max         time.Duration
	maxAttempts int

	// sleep is swapped out in tests to avoid real delays.
	sleep func(ctx context.Context, d time.Duration) error

	mu            sync.Mutex
	pending       *connectAttempt
	reconnecting  bool
	manualDown    bool
	onStateChange []func(transportpkg.Status)
	removals      []func()
}

// NewConnectionManager wraps the transport with reconnect behaviour taken from
// the config. It registers listeners on the transport's emitter; call Close to
// detach them.
func NewConnectionManager(t transportpkg.Transport, conf *configpkg.Config, log loggingpkg.ServiceLogger) *ConnectionManager {
	if log == nil {
		log = loggingpkg.Nop()
	}
	if conf == nil {
		conf = &configpkg.Config{}
	}

	m := &ConnectionManager{
		transport:   t,
		logger:      log,
		base:        conf.ReconnectBaseOrDefault(),
		max:         conf.ReconnectMaxOrDefault(),
		maxAttempts: conf.MaxReconnectAttemptsOrDefault(),
		sleep:       sleepContext,
	}

	events := t.Events()
	m.removals = append(m.removals,
		events.On(transportpkg.EventDisconnect, m.handleDrop),
		events.On(transportpkg.EventError, m.handleDrop),
	)

	return m
}

// OnStateChange registers a hook invoked after the manager changes the
// connection state: connected after EnsureConnected or a successful reconnect,
// disconnected after the reconnect budget is exhausted.
func (m *ConnectionManager) OnStateChange(fn func(status transportpkg.Status)) {
	if fn == nil {
		return
	}
	m.mu.Lock()
	m.onStateChange = append(m.onStateChange, fn)
	m.mu.Unlock()
}

// Status reports the current connection state. While a reconnect loop is
// running it reports StatusReconnecting regardless of the transport's own
// state.
func (m *ConnectionManager) Status() transportpkg.Status {
	m.mu.Lock()
	reconnecting := m.reconnecting
	m.mu.Unlock()
	if reconnecting {
		return transportpkg.StatusReconnecting
	}
	return m.transport.State()
}

// EnsureConnected connects the transport if it is not already connected.
// Concurrent callers share a single connection attempt and all receive its
// outcome.
func (m *ConnectionManager) EnsureConnected(ctx context.Context) error {
	if m.transport.State() == transportpkg.StatusConnected {
		return nil
	}

	m.mu.Lock()
	if m.transport.State() == transportpkg.StatusConnected {
		m.mu.Unlock()
		return nil
	}
	if m.pending != nil {
		attempt := m.pending
		m.mu.Unlock()
		select {
		case <-attempt.done:
			return attempt.err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	attempt := &connectAttempt{done: make(chan struct{})}
	m.pending = attempt
	m.manualDown = false
	m.mu.Unlock()

	err := m.transport.Connect(ctx)
	if err != nil {
		err = &errspkg.ConnectionError{Transport: m.transport.ID(), Err: err}
	}

	m.mu.Lock()
	attempt.err = err
	m.pending = nil
	m.mu.Unlock()
	close(attempt.done)

	if err == nil {
		m.notify(transportpkg.StatusConnected)
	}
	return err
}

// Disconnect tears the connection down and suppresses auto-reconnect until
// the next EnsureConnected.
func (m *ConnectionManager) Disconnect(ctx context.Context) error {
	m.mu.Lock()
	m.manualDown = true
	m.mu.Unlock()
	return m.transport.Disconnect(ctx)
}

// Close detaches the manager from the transport's event emitter.
func (m *ConnectionManager) Close() {
	for _, remove := range m.removals {
		remove()
	}
	m.removals = nil
}

func (m *ConnectionManager) handleDrop(ev transportpkg.Event) {
	m.mu.Lock()
	if m.manualDown || m.reconnecting || m.pending != nil {
		m.mu.Unlock()
		return
	}
	m.reconnecting = true
	m.mu.Unlock()

	if ev.Err != nil {
		m.logger.Error("Transport connection dropped", ev.Err, loggingpkg.LogFields{
			"transport": m.transport.ID(),
		})
	}

	go m.reconnectLoop()
}

func (m *ConnectionManager) reconnectLoop() {
	defer func() {
		m.mu.Lock()
		m.reconnecting = false
		m.mu.Unlock()
	}()

	ctx := context.Background()
	for attempt := 0; attempt < m.maxAttempts; attempt++ {
		m.mu.Lock()
		down := m.manualDown
		m.mu.Unlock()
		if down {
			return
		}

		delay := m.reconnectDelay(attempt)
		m.logger.Info("Reconnecting transport", loggingpkg.LogFields{
			"transport": m.transport.ID(),
			"attempt":   attempt + 1,
			"delay":     delay.String(),
		})
		m.notify(transportpkg.StatusReconnecting)
		m.transport.Events().Emit(transportpkg.Event{Kind: transportpkg.EventReconnecting})

		if err := m.sleep(ctx, delay); err != nil {
			return
		}

		if err := m.transport.Connect(ctx); err != nil {
			m.logger.Error("Reconnect attempt failed", err, loggingpkg.LogFields{
				"transport": m.transport.ID(),
				"attempt":   attempt + 1,
			})
			continue
		}

		m.logger.Info("Transport reconnected", loggingpkg.LogFields{
			"transport": m.transport.ID(),
			"attempts":  attempt + 1,
		})
		m.notify(transportpkg.StatusConnected)
		return
	}

	m.logger.Error("Giving up on reconnect", nil, loggingpkg.LogFields{
		"transport":    m.transport.ID(),
		"max_attempts": m.maxAttempts,
	})
	m.mu.Lock()
	m.manualDown = true
	m.mu.Unlock()
	m.notify(transportpkg.StatusDisconnected)
}

// reconnectDelay returns min(base * 2^attempt, max). Attempt counting starts
// at zero, so the first retry waits for the base delay.
func (m *ConnectionManager) reconnectDelay(attempt int) time.Duration {
	delay := m.base
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= m.max {
			return m.max
		}
	}
	if delay > m.max {
		return m.max
	}
	return delay
}

func (m *ConnectionManager) notify(status transportpkg.Status) {
	m.mu.Lock()
	hooks := make([]func(transportpkg.Status), len(m.onStateChange))
	copy(hooks, m.onStateChange)
	m.mu.Unlock()

	for _, fn := range hooks {
		fn(status)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
