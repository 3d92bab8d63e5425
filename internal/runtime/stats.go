package runtime

import (
	"sort"
	"sync"
	"time"
)

// EventStats are the dispatch counters for a single event.
type EventStats struct {
	Event     string    `json:"event"`
	Received  uint64    `json:"received"`
	Succeeded uint64    `json:"succeeded"`
	Failed    uint64    `json:"failed"`
	LastError string    `json:"last_error,omitempty"`
	LastAt    time.Time `json:"last_at,omitzero"`
}

// DispatchStats tracks per-event delivery counters for the subscriber. All
// methods are safe for concurrent use.
type DispatchStats struct {
	mu     sync.Mutex
	events map[string]*EventStats
}

// NewDispatchStats creates empty counters.
func NewDispatchStats() *DispatchStats {
	return &DispatchStats{events: make(map[string]*EventStats)}
}

func (d *DispatchStats) get(event string) *EventStats {
	stats, ok := d.events[event]
	if !ok {
		stats = &EventStats{Event: event}
		d.events[event] = stats
	}
	return stats
}

// Received records an inbound delivery for the event.
func (d *DispatchStats) Received(event string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	stats := d.get(event)
	stats.Received++
	stats.LastAt = time.Now()
}

// Succeeded records one successful handler invocation.
func (d *DispatchStats) Succeeded(event string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.get(event).Succeeded++
}

// Failed records one failed handler invocation or validation failure.
func (d *DispatchStats) Failed(event string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	stats := d.get(event)
	stats.Failed++
	if err != nil {
		stats.LastError = err.Error()
	}
}

// Snapshot returns a copy of all counters sorted by event name.
func (d *DispatchStats) Snapshot() []EventStats {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]EventStats, 0, len(d.events))
	for _, stats := range d.events {
		out = append(out, *stats)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Event < out[j].Event })
	return out
}
