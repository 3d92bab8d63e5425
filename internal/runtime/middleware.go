package runtime

import (
	"context"
	"sync"
	"time"

	loggingpkg "github.com/drblury/flowbus/internal/runtime/logging"
)

// LoggingMiddleware logs each pipeline pass at debug level, and failures at
// error level. The stage label distinguishes publish from subscribe chains.
func LoggingMiddleware[E any](log loggingpkg.ServiceLogger, stage string) Middleware[E] {
	if log == nil {
		log = loggingpkg.Nop()
	}
	return func(ctx context.Context, eventName string, payload any, env E, next func() error) error {
		log.Debug("Event "+stage, loggingpkg.LogFields{"event": eventName})
		err := next()
		if err != nil {
			log.Error("Event "+stage+" failed", err, loggingpkg.LogFields{"event": eventName})
		}
		return err
	}
}

// TimingMiddleware logs the duration of each pipeline pass. Passes slower
// than slowThreshold are logged at info level instead of debug; zero disables
// the threshold.
func TimingMiddleware[E any](log loggingpkg.ServiceLogger, stage string, slowThreshold time.Duration) Middleware[E] {
	if log == nil {
		log = loggingpkg.Nop()
	}
	return func(ctx context.Context, eventName string, payload any, env E, next func() error) error {
		start := time.Now()
		err := next()
		elapsed := time.Since(start)

		fields := loggingpkg.LogFields{
			"event":       eventName,
			"duration_ms": elapsed.Milliseconds(),
		}
		if slowThreshold > 0 && elapsed >= slowThreshold {
			log.Info("Slow event "+stage, fields)
		} else {
			log.Debug("Event "+stage+" timing", fields)
		}
		return err
	}
}

// IdempotencyStore remembers which message IDs have completed successfully.
type IdempotencyStore interface {
	HasProcessed(ctx context.Context, messageID string) (bool, error)
	MarkProcessed(ctx context.Context, messageID string) error
}

// IdempotencyMiddleware skips deliveries whose message ID was already
// processed. A message is marked processed only after the rest of the chain
// succeeds, so failed deliveries can be retried.
func IdempotencyMiddleware(store IdempotencyStore) SubscribeMiddleware {
	return func(ctx context.Context, eventName string, payload any, mctx *MessageContext, next func() error) error {
		if store == nil || mctx.MessageID == "" {
			return next()
		}

		seen, err := store.HasProcessed(ctx, mctx.MessageID)
		if err != nil {
			return err
		}
		if seen {
			return nil
		}

		if err := next(); err != nil {
			return err
		}
		return store.MarkProcessed(ctx, mctx.MessageID)
	}
}

// MemoryIdempotencyStore keeps processed message IDs in memory. MaxEntries
// bounds growth; when the cap is reached the store drops the oldest half.
type MemoryIdempotencyStore struct {
	mu         sync.Mutex
	seen       map[string]struct{}
	order      []string
	maxEntries int
}

// NewMemoryIdempotencyStore creates a store holding at most maxEntries IDs.
// Zero or negative means unbounded.
func NewMemoryIdempotencyStore(maxEntries int) *MemoryIdempotencyStore {
	return &MemoryIdempotencyStore{
		seen:       make(map[string]struct{}),
		maxEntries: maxEntries,
	}
}

func (s *MemoryIdempotencyStore) HasProcessed(ctx context.Context, messageID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.seen[messageID]
	return ok, nil
}

func (s *MemoryIdempotencyStore) MarkProcessed(ctx context.Context, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.seen[messageID]; ok {
		return nil
	}
	s.seen[messageID] = struct{}{}
	s.order = append(s.order, messageID)

	if s.maxEntries > 0 && len(s.order) > s.maxEntries {
		drop := len(s.order) / 2
		for _, id := range s.order[:drop] {
			delete(s.seen, id)
		}
		s.order = append(s.order[:0:0], s.order[drop:]...)
	}
	return nil
}

// RateLimitMiddleware drops passes beyond limit per sliding window. Dropped
// passes are reported through onLimit and are not errors. Counting is per
// event name.
func RateLimitMiddleware[E any](limit int, window time.Duration, onLimit func(eventName string)) Middleware[E] {
	var mu sync.Mutex
	hits := make(map[string][]time.Time)

	return func(ctx context.Context, eventName string, payload any, env E, next func() error) error {
		if limit <= 0 || window <= 0 {
			return next()
		}

		now := time.Now()
		mu.Lock()
		recent := hits[eventName]
		cutoff := now.Add(-window)
		kept := recent[:0]
		for _, t := range recent {
			if t.After(cutoff) {
				kept = append(kept, t)
			}
		}
		if len(kept) >= limit {
			hits[eventName] = kept
			mu.Unlock()
			if onLimit != nil {
				onLimit(eventName)
			}
			return nil
		}
		hits[eventName] = append(kept, now)
		mu.Unlock()

		return next()
	}
}
