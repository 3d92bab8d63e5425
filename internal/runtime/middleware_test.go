package runtime

import (
	"context"
	"errors"
	"testing"
	"time"
)

func runSubscribeChain(t *testing.T, mw SubscribeMiddleware, mctx *MessageContext, terminal func() error) error {
	t.Helper()

	var pipeline Pipeline[*MessageContext]
	pipeline.Use(mw)
	return pipeline.Run(context.Background(), "test.event", nil, mctx,
		func(ctx context.Context, eventName string, payload any, env *MessageContext) error {
			return terminal()
		})
}

func TestIdempotencyMiddleware_SkipsDuplicates(t *testing.T) {
	t.Parallel()

	store := NewMemoryIdempotencyStore(0)
	mw := IdempotencyMiddleware(store)

	var calls int
	mctx := &MessageContext{MessageID: "m-1"}
	for i := 0; i < 3; i++ {
		if err := runSubscribeChain(t, mw, mctx, func() error {
			calls++
			return nil
		}); err != nil {
			t.Fatalf("run: %v", err)
		}
	}

	if calls != 1 {
		t.Fatalf("terminal ran %d times", calls)
	}
}

func TestIdempotencyMiddleware_FailedDeliveryIsRetryable(t *testing.T) {
	t.Parallel()

	store := NewMemoryIdempotencyStore(0)
	mw := IdempotencyMiddleware(store)
	mctx := &MessageContext{MessageID: "m-1"}

	boom := errors.New("boom")
	if err := runSubscribeChain(t, mw, mctx, func() error { return boom }); !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}

	// The failed delivery was not marked processed; the next one runs.
	var calls int
	if err := runSubscribeChain(t, mw, mctx, func() error {
		calls++
		return nil
	}); err != nil {
		t.Fatalf("run: %v", err)
	}
	if calls != 1 {
		t.Fatalf("terminal ran %d times", calls)
	}
}

func TestIdempotencyMiddleware_NoStoreOrID(t *testing.T) {
	t.Parallel()

	var calls int
	terminal := func() error { calls++; return nil }

	if err := runSubscribeChain(t, IdempotencyMiddleware(nil), &MessageContext{MessageID: "m-1"}, terminal); err != nil {
		t.Fatalf("run: %v", err)
	}
	mw := IdempotencyMiddleware(NewMemoryIdempotencyStore(0))
	if err := runSubscribeChain(t, mw, &MessageContext{}, terminal); err != nil {
		t.Fatalf("run: %v", err)
	}
	if err := runSubscribeChain(t, mw, &MessageContext{}, terminal); err != nil {
		t.Fatalf("run: %v", err)
	}

	if calls != 3 {
		t.Fatalf("terminal ran %d times", calls)
	}
}

func TestMemoryIdempotencyStore_Eviction(t *testing.T) {
	t.Parallel()

	store := NewMemoryIdempotencyStore(4)
	ctx := context.Background()
	ids := []string{"a", "b", "c", "d", "e"}
	for _, id := range ids {
		if err := store.MarkProcessed(ctx, id); err != nil {
			t.Fatalf("mark: %v", err)
		}
	}

	// Exceeding the cap drops the oldest half.
	for _, id := range []string{"a", "b"} {
		seen, err := store.HasProcessed(ctx, id)
		if err != nil {
			t.Fatalf("has: %v", err)
		}
		if seen {
			t.Fatalf("id %q survived eviction", id)
		}
	}
	for _, id := range []string{"c", "d", "e"} {
		seen, err := store.HasProcessed(ctx, id)
		if err != nil {
			t.Fatalf("has: %v", err)
		}
		if !seen {
			t.Fatalf("id %q evicted too early", id)
		}
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	t.Parallel()

	var limited []string
	mw := RateLimitMiddleware[*MessageContext](2, time.Minute, func(eventName string) {
		limited = append(limited, eventName)
	})

	var calls int
	for i := 0; i < 4; i++ {
		if err := runSubscribeChain(t, mw, &MessageContext{}, func() error {
			calls++
			return nil
		}); err != nil {
			t.Fatalf("run: %v", err)
		}
	}

	if calls != 2 {
		t.Fatalf("terminal ran %d times", calls)
	}
	if len(limited) != 2 {
		t.Fatalf("onLimit calls = %d", len(limited))
	}
	if limited[0] != "test.event" {
		t.Fatalf("limited = %v", limited)
	}
}

func TestRateLimitMiddleware_PerEventCounting(t *testing.T) {
	t.Parallel()

	mw := RateLimitMiddleware[*MessageContext](1, time.Minute, nil)
	var pipeline Pipeline[*MessageContext]
	pipeline.Use(mw)

	var calls int
	terminal := func(ctx context.Context, eventName string, payload any, env *MessageContext) error {
		calls++
		return nil
	}

	ctx := context.Background()
	for _, event := range []string{"a", "b", "a", "b"} {
		if err := pipeline.Run(ctx, event, nil, &MessageContext{}, terminal); err != nil {
			t.Fatalf("run: %v", err)
		}
	}

	// One pass per event name within the window.
	if calls != 2 {
		t.Fatalf("terminal ran %d times", calls)
	}
}

func TestRateLimitMiddleware_Disabled(t *testing.T) {
	t.Parallel()

	mw := RateLimitMiddleware[*MessageContext](0, time.Minute, nil)
	var calls int
	for i := 0; i < 5; i++ {
		if err := runSubscribeChain(t, mw, &MessageContext{}, func() error {
			calls++
			return nil
		}); err != nil {
			t.Fatalf("run: %v", err)
		}
	}
	if calls != 5 {
		t.Fatalf("terminal ran %d times", calls)
	}
}

func TestLoggingAndTimingMiddlewaresPassThrough(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	for _, mw := range []SubscribeMiddleware{
		LoggingMiddleware[*MessageContext](nil, "dispatch"),
		TimingMiddleware[*MessageContext](nil, "dispatch", time.Millisecond),
	} {
		var calls int
		if err := runSubscribeChain(t, mw, &MessageContext{}, func() error {
			calls++
			return nil
		}); err != nil {
			t.Fatalf("run: %v", err)
		}
		if calls != 1 {
			t.Fatalf("terminal ran %d times", calls)
		}

		if err := runSubscribeChain(t, mw, &MessageContext{}, func() error { return boom }); !errors.Is(err, boom) {
			t.Fatalf("err = %v", err)
		}
	}
}
