package transport

import "sync"

// EventKind names a transport lifecycle event.
type EventKind string

const (
	EventConnect      EventKind = "connect"
	EventDisconnect   EventKind = "disconnect"
	EventError        EventKind = "error"
	EventReconnecting EventKind = "reconnecting"
	EventMessage      EventKind = "message"
)

// Event is delivered to emitter listeners.
type Event struct {
	Kind    EventKind
	Err     error
	Message *Message
}

// Listener consumes transport events.
type Listener func(ev Event)

type registration struct {
	id uint64
	fn Listener
}

// Emitter is the transport event surface. Listeners registered for a kind
// are invoked synchronously in registration order.
type Emitter struct {
	mu        sync.Mutex
	nextID    uint64
	listeners map[EventKind][]registration
}

// NewEmitter constructs an empty emitter.
func NewEmitter() *Emitter {
	return &Emitter{listeners: make(map[EventKind][]registration)}
}

// On registers a listener for the given kind and returns its removal function.
func (e *Emitter) On(kind EventKind, fn Listener) func() {
	if fn == nil {
		return func() {}
	}

	e.mu.Lock()
	e.nextID++
	id := e.nextID
	e.listeners[kind] = append(e.listeners[kind], registration{id: id, fn: fn})
	e.mu.Unlock()

	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		regs := e.listeners[kind]
		for i, reg := range regs {
			if reg.id == id {
				e.listeners[kind] = append(regs[:i:i], regs[i+1:]...)
				return
			}
		}
	}
}

// Emit delivers the event to every listener registered for its kind.
func (e *Emitter) Emit(ev Event) {
	e.mu.Lock()
	snapshot := make([]Listener, 0, len(e.listeners[ev.Kind]))
	for _, reg := range e.listeners[ev.Kind] {
		snapshot = append(snapshot, reg.fn)
	}
	e.mu.Unlock()

	for _, fn := range snapshot {
		fn(ev)
	}
}
