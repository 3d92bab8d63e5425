package runtime

import (
	"fmt"
	"sort"
	"sync"

	errspkg "github.com/drblury/flowbus/internal/runtime/errors"
	schemapkg "github.com/drblury/flowbus/internal/runtime/schema"
)

// EventDefinition declares a named event: its payload contract and, optionally,
// the channel it travels on. Events without a channel fall back to the engine's
// channel strategy.
type EventDefinition struct {
	// Name uniquely identifies the event within a registry.
	Name string

	// Schema validates payloads on publish and on receipt. Nil means the
	// payload is accepted as-is.
	Schema schemapkg.Adapter

	// Channel overrides the channel strategy for this event.
	Channel string

	// Description is surfaced by the catalog API and the protocol document.
	Description string
}

// EventRegistry is the authoritative catalog of known events. Publishing or
// subscribing to an event that is not registered fails fast with
// UnknownEventError before any network traffic happens.
type EventRegistry struct {
	mu     sync.RWMutex
	events map[string]EventDefinition
}

// NewEventRegistry creates an empty registry.
func NewEventRegistry() *EventRegistry {
	return &EventRegistry{events: make(map[string]EventDefinition)}
}

// Register adds an event definition. Registering the same name twice is an
// error so that two packages cannot silently fight over a contract.
func (r *EventRegistry) Register(def EventDefinition) error {
	if def.Name == "" {
		return errspkg.ErrEventNameRequired
	}
	if def.Schema == nil {
		def.Schema = schemapkg.Any()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.events[def.Name]; exists {
		return fmt.Errorf("flowbus: event %q is already registered", def.Name)
	}
	r.events[def.Name] = def
	return nil
}

// MustRegister registers the definition and panics on conflict. Intended for
// package-level event declarations.
func (r *EventRegistry) MustRegister(def EventDefinition) {
	if err := r.Register(def); err != nil {
		panic(err)
	}
}

// Get returns the definition for an event name.
func (r *EventRegistry) Get(name string) (EventDefinition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.events[name]
	return def, ok
}

// Names returns all registered event names in sorted order.
func (r *EventRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.events))
	for name := range r.events {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Definitions returns all registered definitions sorted by name.
func (r *EventRegistry) Definitions() []EventDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]EventDefinition, 0, len(r.events))
	for _, def := range r.events {
		defs = append(defs, def)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// Len returns the number of registered events.
func (r *EventRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.events)
}
