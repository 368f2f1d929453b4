package events

import (
	"testing"
	"time"
)

func TestBusDeliversToSubscriber(t *testing.T) {
	b := NewBus()
	ch, cancel := b.Subscribe("u1")
	defer cancel()

	b.Publish(Event{Type: TypePlanCreated, UserID: "u1", PlanID: "p1", At: time.Now()})

	select {
	case evt := <-ch:
		if evt.PlanID != "p1" {
			t.Fatalf("evt.PlanID = %q, want %q", evt.PlanID, "p1")
		}
	default:
		t.Fatalf("no event delivered")
	}
}

func TestBusDoesNotCrossUsers(t *testing.T) {
	b := NewBus()
	ch, cancel := b.Subscribe("u1")
	defer cancel()

	b.Publish(Event{Type: TypePlanCreated, UserID: "u2", PlanID: "p1", At: time.Now()})

	select {
	case evt := <-ch:
		t.Fatalf("unexpected event for other user: %+v", evt)
	default:
	}
}

func TestBusPublishNeverBlocks(t *testing.T) {
	b := NewBus()
	_, cancel := b.Subscribe("u1")
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 1000; i++ {
			b.Publish(Event{Type: TypePlanCreated, UserID: "u1", PlanID: "p", At: time.Now()})
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Publish blocked on saturated subscriber")
	}
}

func TestBusUnsubscribeClosesChannel(t *testing.T) {
	b := NewBus()
	ch, cancel := b.Subscribe("u1")
	cancel()

	if _, ok := <-ch; ok {
		t.Fatalf("channel still open after unsubscribe")
	}
}
