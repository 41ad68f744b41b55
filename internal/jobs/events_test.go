package jobs

import (
	"testing"

	"gif-studio/internal/domain"
)

// TestEventBusAssignsSequence checks monotonically increasing sequences.
func TestEventBusAssignsSequence(t *testing.T) {
	bus := NewEventBus(10)

	first := bus.Publish(Event{JobID: "job-1", Type: EventTypeStatus, Status: domain.JobStatusPalette})
	second := bus.Publish(Event{JobID: "job-1", Type: EventTypeProgress, Fraction: 0.5})

	if first.Seq != 1 || second.Seq != 2 {
		t.Fatalf("seqs = %d, %d, want 1, 2", first.Seq, second.Seq)
	}
	if first.Timestamp.IsZero() || second.Timestamp.IsZero() {
		t.Fatal("expected assigned timestamps")
	}
}

// TestEventBusSince checks incremental reads.
func TestEventBusSince(t *testing.T) {
	bus := NewEventBus(10)
	for i := 0; i < 5; i++ {
		bus.Publish(Event{JobID: "job-1", Type: EventTypeProgress})
	}

	got := bus.Since(3)
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].Seq != 4 || got[1].Seq != 5 {
		t.Fatalf("seqs = %d, %d, want 4, 5", got[0].Seq, got[1].Seq)
	}

	if got := bus.Since(5); len(got) != 0 {
		t.Fatalf("len = %d, want 0 for caught-up reader", len(got))
	}
}

// TestEventBusBounded checks eviction while sequence numbers keep growing.
func TestEventBusBounded(t *testing.T) {
	bus := NewEventBus(3)
	for i := 0; i < 6; i++ {
		bus.Publish(Event{JobID: "job-1", Type: EventTypeProgress})
	}

	got := bus.Since(0)
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	if got[0].Seq != 4 || got[2].Seq != 6 {
		t.Fatalf("seqs = %d..%d, want 4..6", got[0].Seq, got[2].Seq)
	}
}
