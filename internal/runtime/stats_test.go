package runtime

import (
	"errors"
	"testing"
)

func TestDispatchStats_Counters(t *testing.T) {
	t.Parallel()

	stats := NewDispatchStats()
	stats.Received("order.placed")
	stats.Received("order.placed")
	stats.Succeeded("order.placed")
	stats.Failed("order.placed", errors.New("handler failed"))

	snapshot := stats.Snapshot()
	if len(snapshot) != 1 {
		t.Fatalf("snapshot = %+v", snapshot)
	}
	got := snapshot[0]
	if got.Received != 2 || got.Succeeded != 1 || got.Failed != 1 {
		t.Fatalf("counters = %+v", got)
	}
	if got.LastError != "handler failed" {
		t.Fatalf("last error = %q", got.LastError)
	}
	if got.LastAt.IsZero() {
		t.Fatal("last-at not recorded")
	}
}

func TestDispatchStats_SnapshotSortedAndDetached(t *testing.T) {
	t.Parallel()

	stats := NewDispatchStats()
	for _, event := range []string{"charlie", "alpha", "bravo"} {
		stats.Received(event)
	}

	snapshot := stats.Snapshot()
	want := []string{"alpha", "bravo", "charlie"}
	for i, event := range want {
		if snapshot[i].Event != event {
			t.Fatalf("snapshot order = %+v", snapshot)
		}
	}

	// Mutating the snapshot does not touch the live counters.
	snapshot[0].Received = 99
	if stats.Snapshot()[0].Received != 1 {
		t.Fatal("snapshot aliases internal state")
	}
}

func TestDispatchStats_Empty(t *testing.T) {
	t.Parallel()

	if snapshot := NewDispatchStats().Snapshot(); len(snapshot) != 0 {
		t.Fatalf("snapshot = %+v", snapshot)
	}
}
