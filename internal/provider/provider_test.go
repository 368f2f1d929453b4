package provider

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/conciergehq/concierge/internal/intent"
)

func TestBuiltinRegistryCoversEveryKind(t *testing.T) {
	r := NewBuiltinRegistry()
	kinds := []intent.Kind{
		intent.KindTask, intent.KindEvent, intent.KindEmail, intent.KindWhatsApp,
		intent.KindReminder, intent.KindAlarm, intent.KindNotification,
	}
	for _, k := range kinds {
		if _, err := r.Lookup(k); err != nil {
			t.Fatalf("Lookup(%q) error = %v", k, err)
		}
	}
}

func TestLookupUnknownKind(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Lookup(intent.KindTask); !errors.Is(err, ErrNoProvider) {
		t.Fatalf("Lookup() error = %v, want ErrNoProvider", err)
	}
}

func TestTaskProviderRejectsEmptyTitleAsBusinessFailure(t *testing.T) {
	r := NewBuiltinRegistry()
	p, err := r.Lookup(intent.KindTask)
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}

	res, err := p.Execute(context.Background(), intent.TaskPayload{Title: "  "})
	if err != nil {
		t.Fatalf("Execute() error = %v, business failures must not be errors", err)
	}
	if res.Success {
		t.Fatalf("Execute() success = true, want false for empty title")
	}
	if res.Error == "" {
		t.Fatalf("Execute() business failure carries no error message")
	}
}

func TestEmailProviderSucceedsWithValidPayload(t *testing.T) {
	r := NewBuiltinRegistry()
	p, err := r.Lookup(intent.KindEmail)
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}

	res, err := p.Execute(context.Background(), intent.EmailPayload{
		To: "john@example.com", Subject: "Lunch", Body: "Tomorrow?",
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !res.Success {
		t.Fatalf("Execute() success = false: %s", res.Error)
	}
	if res.Detail == "" {
		t.Fatalf("Execute() detail empty, want result snapshot")
	}
}

func TestProviderRejectsMismatchedPayloadType(t *testing.T) {
	r := NewBuiltinRegistry()
	p, _ := r.Lookup(intent.KindEmail)
	if _, err := p.Execute(context.Background(), intent.TaskPayload{Title: "x"}); err == nil {
		t.Fatalf("Execute() error = nil for mismatched payload type")
	}
}

func TestRetryableClassification(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	<-ctx.Done()

	if !Retryable(ctx.Err()) {
		t.Fatalf("Retryable(deadline) = false, want true")
	}
	if Retryable(ErrNoProvider) {
		t.Fatalf("Retryable(ErrNoProvider) = true, want false")
	}
	if Retryable(nil) {
		t.Fatalf("Retryable(nil) = true, want false")
	}
}
