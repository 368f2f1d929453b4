package plan

import (
	"context"
	"testing"

	"github.com/conciergehq/concierge/internal/events"
	"github.com/conciergehq/concierge/internal/intent"
)

func TestSweepFlagsEmptyTitle(t *testing.T) {
	store := NewMemoryStore()
	b := NewBuilder(store, nil, events.NewBus())

	flagged, _, err := b.Create(context.Background(), CreateRequest{
		UserID:  "u1",
		Kind:    intent.KindEmail,
		Payload: intent.EmailPayload{To: "a@b.c", Subject: "", Body: "x"},
	})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	healthy, _, err := b.Create(context.Background(), CreateRequest{
		UserID:  "u1",
		Kind:    intent.KindEmail,
		Payload: intent.EmailPayload{To: "a@b.c", Subject: "Call John", Body: "x"},
	})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	zombies, scanned, err := NewSweeper(store).Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}
	if scanned != 2 {
		t.Fatalf("scanned = %d, want 2", scanned)
	}
	if len(zombies) != 1 {
		t.Fatalf("zombies = %d, want 1", len(zombies))
	}
	if zombies[0].Plan.ID != flagged.ID {
		t.Fatalf("flagged plan = %q, want %q", zombies[0].Plan.ID, flagged.ID)
	}
	if zombies[0].Reason != "missing_title" {
		t.Fatalf("reason = %q, want %q", zombies[0].Reason, "missing_title")
	}
	for _, z := range zombies {
		if z.Plan.ID == healthy.ID {
			t.Fatalf("healthy plan flagged as zombie")
		}
	}
}

func TestSweepFlagsLowConfidenceVoicePlans(t *testing.T) {
	store := NewMemoryStore()
	b := NewBuilder(store, nil, events.NewBus())

	p, _, err := b.Create(context.Background(), CreateRequest{
		UserID:     "u1",
		Kind:       intent.KindWhatsApp,
		Payload:    intent.MessagePayload{To: "+123", Text: "maybe send this"},
		Source:     intent.SourceVoice,
		Confidence: 0.41,
	})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	zombies, _, err := NewSweeper(store).Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}
	if len(zombies) != 1 || zombies[0].Plan.ID != p.ID {
		t.Fatalf("zombies = %+v, want exactly the low-confidence plan", zombies)
	}
	if zombies[0].Reason != "low_confidence" {
		t.Fatalf("reason = %q, want %q", zombies[0].Reason, "low_confidence")
	}
}

func TestSweepIgnoresConfidentUIButtonPlans(t *testing.T) {
	store := NewMemoryStore()
	b := NewBuilder(store, nil, events.NewBus())

	// Same low confidence, but not voice-sourced.
	_, _, err := b.Create(context.Background(), CreateRequest{
		UserID:     "u1",
		Kind:       intent.KindEmail,
		Payload:    intent.EmailPayload{To: "a@b.c", Subject: "Quarterly report", Body: "x"},
		Source:     intent.SourceUIButton,
		Confidence: 0.2,
	})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	zombies, _, err := NewSweeper(store).Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}
	if len(zombies) != 0 {
		t.Fatalf("zombies = %d, want 0", len(zombies))
	}
}
