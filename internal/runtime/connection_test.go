package runtime

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	configpkg "github.com/drblury/flowbus/internal/runtime/config"
	errspkg "github.com/drblury/flowbus/internal/runtime/errors"
	transportpkg "github.com/drblury/flowbus/transport"
)

func TestEnsureConnected(t *testing.T) {
	t.Parallel()

	ft := newFakeTransport()
	m, _ := instantManager(t, ft, nil)

	var statuses []transportpkg.Status
	var mu sync.Mutex
	m.OnStateChange(func(status transportpkg.Status) {
		mu.Lock()
		statuses = append(statuses, status)
		mu.Unlock()
	})

	ctx := context.Background()
	if err := m.EnsureConnected(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if m.Status() != transportpkg.StatusConnected {
		t.Fatalf("status = %s", m.Status())
	}

	// Already connected; no second dial.
	if err := m.EnsureConnected(ctx); err != nil {
		t.Fatalf("repeat connect: %v", err)
	}
	if ft.connectCalls != 1 {
		t.Fatalf("connect calls = %d", ft.connectCalls)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(statuses) != 1 || statuses[0] != transportpkg.StatusConnected {
		t.Fatalf("state changes = %v", statuses)
	}
}

func TestEnsureConnected_WrapsFailure(t *testing.T) {
	t.Parallel()

	ft := newFakeTransport()
	ft.connectErr = errors.New("broker down")
	ft.connectFails = 1
	m, _ := instantManager(t, ft, nil)

	err := m.EnsureConnected(context.Background())
	var connErr *errspkg.ConnectionError
	if !errors.As(err, &connErr) {
		t.Fatalf("expected ConnectionError, got %v", err)
	}
	if connErr.Transport != "fake" {
		t.Fatalf("transport = %q", connErr.Transport)
	}
	if !errors.Is(err, ft.connectErr) {
		t.Fatalf("cause not wrapped: %v", err)
	}
}

func TestEnsureConnected_SingleFlight(t *testing.T) {
	t.Parallel()

	ft := newFakeTransport()
	ft.connectGate = make(chan struct{})
	m, _ := instantManager(t, ft, nil)

	ctx := context.Background()
	results := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() { results <- m.EnsureConnected(ctx) }()
	}

	// Let both callers reach the manager before the dial completes.
	time.Sleep(20 * time.Millisecond)
	close(ft.connectGate)

	for i := 0; i < 2; i++ {
		select {
		case err := <-results:
			if err != nil {
				t.Fatalf("connect: %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Fatal("EnsureConnected did not return")
		}
	}

	ft.mu.Lock()
	calls := ft.connectCalls
	ft.mu.Unlock()
	if calls != 1 {
		t.Fatalf("connect calls = %d, concurrent callers must share one attempt", calls)
	}
}

func TestReconnectDelay(t *testing.T) {
	t.Parallel()

	ft := newFakeTransport()
	m, _ := instantManager(t, ft, &configpkg.Config{
		ReconnectBase: 100 * time.Millisecond,
		ReconnectMax:  2 * time.Second,
	})

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{attempt: 0, want: 100 * time.Millisecond},
		{attempt: 1, want: 200 * time.Millisecond},
		{attempt: 2, want: 400 * time.Millisecond},
		{attempt: 3, want: 800 * time.Millisecond},
		{attempt: 4, want: 1600 * time.Millisecond},
		{attempt: 5, want: 2 * time.Second},
		{attempt: 10, want: 2 * time.Second},
	}
	for _, tt := range tests {
		if got := m.reconnectDelay(tt.attempt); got != tt.want {
			t.Fatalf("reconnectDelay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestAutoReconnect(t *testing.T) {
	t.Parallel()

	ft := newFakeTransport()
	m, delays := instantManager(t, ft, &configpkg.Config{
		ReconnectBase:        100 * time.Millisecond,
		ReconnectMax:         time.Second,
		MaxReconnectAttempts: 5,
	})

	statusCh := make(chan transportpkg.Status, 16)
	m.OnStateChange(func(status transportpkg.Status) { statusCh <- status })

	if err := m.EnsureConnected(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	<-statusCh // connected

	// Two reconnect attempts fail before the third succeeds.
	ft.mu.Lock()
	ft.connectErr = errors.New("broker down")
	ft.connectFails = 2
	ft.mu.Unlock()
	ft.drop(errors.New("connection reset"))

	var observed []transportpkg.Status
	deadline := time.After(5 * time.Second)
	for {
		select {
		case status := <-statusCh:
			observed = append(observed, status)
		case <-deadline:
			t.Fatalf("reconnect did not complete, observed %v", observed)
		}
		if len(observed) > 0 && observed[len(observed)-1] == transportpkg.StatusConnected {
			break
		}
	}

	// Three reconnecting notifications, then connected.
	if len(observed) != 4 {
		t.Fatalf("observed = %v", observed)
	}
	for _, status := range observed[:3] {
		if status != transportpkg.StatusReconnecting {
			t.Fatalf("observed = %v", observed)
		}
	}

	want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond}
	if len(*delays) != len(want) {
		t.Fatalf("delays = %v", *delays)
	}
	for i, d := range want {
		if (*delays)[i] != d {
			t.Fatalf("delays = %v, want %v", *delays, want)
		}
	}
}

func TestReconnectEmitsTransportEvents(t *testing.T) {
	t.Parallel()

	ft := newFakeTransport()
	m, _ := instantManager(t, ft, &configpkg.Config{
		ReconnectBase:        time.Millisecond,
		ReconnectMax:         time.Millisecond,
		MaxReconnectAttempts: 5,
	})

	var mu sync.Mutex
	var reconnecting int
	ft.Events().On(transportpkg.EventReconnecting, func(transportpkg.Event) {
		mu.Lock()
		reconnecting++
		mu.Unlock()
	})

	if err := m.EnsureConnected(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}

	// One failed attempt, then success: one reconnecting event per attempt.
	ft.mu.Lock()
	ft.connectErr = errors.New("broker down")
	ft.connectFails = 1
	ft.mu.Unlock()
	ft.drop(errors.New("connection reset"))

	waitFor(t, 5*time.Second, func() bool {
		return m.Status() == transportpkg.StatusConnected
	})
	mu.Lock()
	got := reconnecting
	mu.Unlock()
	if got != 2 {
		t.Fatalf("reconnecting events = %d", got)
	}
}

func TestManualDisconnectSuppressesReconnect(t *testing.T) {
	t.Parallel()

	ft := newFakeTransport()
	m, delays := instantManager(t, ft, nil)

	ctx := context.Background()
	if err := m.EnsureConnected(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := m.Disconnect(ctx); err != nil {
		t.Fatalf("disconnect: %v", err)
	}

	// Any reconnect loop would record a sleep almost immediately.
	time.Sleep(50 * time.Millisecond)
	if len(*delays) != 0 {
		t.Fatalf("reconnect ran after manual disconnect: %v", *delays)
	}
	if m.Status() != transportpkg.StatusDisconnected {
		t.Fatalf("status = %s", m.Status())
	}

	// EnsureConnected revives the connection.
	if err := m.EnsureConnected(ctx); err != nil {
		t.Fatalf("reconnect: %v", err)
	}
	if m.Status() != transportpkg.StatusConnected {
		t.Fatalf("status = %s", m.Status())
	}
}

func TestReconnectGivesUp(t *testing.T) {
	t.Parallel()

	ft := newFakeTransport()
	m, _ := instantManager(t, ft, &configpkg.Config{
		ReconnectBase:        time.Millisecond,
		ReconnectMax:         time.Millisecond,
		MaxReconnectAttempts: 2,
	})

	statusCh := make(chan transportpkg.Status, 16)
	m.OnStateChange(func(status transportpkg.Status) { statusCh <- status })

	if err := m.EnsureConnected(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	<-statusCh // connected

	ft.mu.Lock()
	ft.connectErr = errors.New("broker down")
	ft.connectFails = 100
	ft.mu.Unlock()
	ft.drop(errors.New("connection reset"))

	var observed []transportpkg.Status
	deadline := time.After(5 * time.Second)
	for {
		select {
		case status := <-statusCh:
			observed = append(observed, status)
		case <-deadline:
			t.Fatalf("give-up notification missing, observed %v", observed)
		}
		if observed[len(observed)-1] == transportpkg.StatusDisconnected {
			break
		}
	}

	// Both budgeted attempts reconnecting, then the terminal disconnect.
	if len(observed) != 3 {
		t.Fatalf("observed = %v", observed)
	}

	// Further drops do nothing until an explicit EnsureConnected.
	ft.drop(errors.New("still down"))
	time.Sleep(20 * time.Millisecond)
	select {
	case status := <-statusCh:
		t.Fatalf("unexpected state change after give-up: %v", status)
	default:
	}

	ft.mu.Lock()
	ft.connectFails = 0
	ft.mu.Unlock()
	if err := m.EnsureConnected(context.Background()); err != nil {
		t.Fatalf("revive: %v", err)
	}
}

func TestStatus_WhileReconnecting(t *testing.T) {
	t.Parallel()

	ft := newFakeTransport()
	m := NewConnectionManager(ft, nil, nil)
	t.Cleanup(m.Close)

	release := make(chan struct{})
	var once sync.Once
	m.sleep = func(ctx context.Context, d time.Duration) error {
		once.Do(func() { <-release })
		return nil
	}

	if err := m.EnsureConnected(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	ft.drop(errors.New("connection reset"))

	waitFor(t, 5*time.Second, func() bool {
		return m.Status() == transportpkg.StatusReconnecting
	})

	close(release)
	waitFor(t, 5*time.Second, func() bool {
		return m.Status() == transportpkg.StatusConnected
	})
}
