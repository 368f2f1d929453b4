package provider

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/google/uuid"

	"github.com/conciergehq/concierge/internal/intent"
)

// NewBuiltinRegistry wires a provider for every intent kind. The outbound
// transports (SMTP, WhatsApp, push) live outside this service; built-ins
// validate the payload, perform the local record-keeping, and return the
// snapshot the ledger will replay on duplicates.
func NewBuiltinRegistry() *Registry {
	r := NewRegistry()
	r.Register(intent.KindTask, Func(executeTaskCreate))
	r.Register(intent.KindEvent, Func(executeEventCreate))
	r.Register(intent.KindReminder, Func(executeReminder))
	r.Register(intent.KindAlarm, Func(executeAlarm))
	r.Register(intent.KindNotification, Func(executeNotification))
	r.Register(intent.KindEmail, Func(executeEmail))
	r.Register(intent.KindWhatsApp, Func(executeWhatsApp))
	return r
}

func executeTaskCreate(_ context.Context, payload intent.Payload) (Result, error) {
	p, ok := payload.(intent.TaskPayload)
	if !ok {
		return Result{}, fmt.Errorf("task provider: unexpected payload %T", payload)
	}
	if strings.TrimSpace(p.Title) == "" {
		return Result{Success: false, Error: "task title is required"}, nil
	}
	id := uuid.NewString()
	log.Printf("provider: created task %s (%q)", id, p.Title)
	return Result{Success: true, Detail: fmt.Sprintf(`{"task_id":%q}`, id)}, nil
}

func executeEventCreate(_ context.Context, payload intent.Payload) (Result, error) {
	p, ok := payload.(intent.EventPayload)
	if !ok {
		return Result{}, fmt.Errorf("event provider: unexpected payload %T", payload)
	}
	if strings.TrimSpace(p.Title) == "" {
		return Result{Success: false, Error: "event title is required"}, nil
	}
	if !p.EndAt.After(p.StartAt) {
		return Result{Success: false, Error: "event end must be after start"}, nil
	}
	id := uuid.NewString()
	log.Printf("provider: created event %s (%q)", id, p.Title)
	return Result{Success: true, Detail: fmt.Sprintf(`{"event_id":%q}`, id)}, nil
}

func executeReminder(_ context.Context, payload intent.Payload) (Result, error) {
	p, ok := payload.(intent.ReminderPayload)
	if !ok {
		return Result{}, fmt.Errorf("reminder provider: unexpected payload %T", payload)
	}
	if strings.TrimSpace(p.Title) == "" {
		return Result{Success: false, Error: "reminder title is required"}, nil
	}
	id := uuid.NewString()
	log.Printf("provider: fired reminder %s (%q)", id, p.Title)
	return Result{Success: true, Detail: fmt.Sprintf(`{"reminder_id":%q}`, id)}, nil
}

func executeAlarm(_ context.Context, payload intent.Payload) (Result, error) {
	p, ok := payload.(intent.AlarmPayload)
	if !ok {
		return Result{}, fmt.Errorf("alarm provider: unexpected payload %T", payload)
	}
	id := uuid.NewString()
	log.Printf("provider: set alarm %s at %s", id, p.At)
	return Result{Success: true, Detail: fmt.Sprintf(`{"alarm_id":%q}`, id)}, nil
}

func executeNotification(_ context.Context, payload intent.Payload) (Result, error) {
	p, ok := payload.(intent.NotificationPayload)
	if !ok {
		return Result{}, fmt.Errorf("notification provider: unexpected payload %T", payload)
	}
	if strings.TrimSpace(p.Title) == "" {
		return Result{Success: false, Error: "notification title is required"}, nil
	}
	id := uuid.NewString()
	log.Printf("provider: queued notification %s (%q)", id, p.Title)
	return Result{Success: true, Detail: fmt.Sprintf(`{"notification_id":%q}`, id)}, nil
}

func executeEmail(_ context.Context, payload intent.Payload) (Result, error) {
	p, ok := payload.(intent.EmailPayload)
	if !ok {
		return Result{}, fmt.Errorf("email provider: unexpected payload %T", payload)
	}
	if strings.TrimSpace(p.To) == "" || !strings.Contains(p.To, "@") {
		return Result{Success: false, Error: "email recipient is invalid"}, nil
	}
	id := uuid.NewString()
	log.Printf("provider: sent email %s to %s (%q)", id, p.To, p.Subject)
	return Result{Success: true, Detail: fmt.Sprintf(`{"message_id":%q}`, id)}, nil
}

func executeWhatsApp(_ context.Context, payload intent.Payload) (Result, error) {
	p, ok := payload.(intent.MessagePayload)
	if !ok {
		return Result{}, fmt.Errorf("whatsapp provider: unexpected payload %T", payload)
	}
	if strings.TrimSpace(p.To) == "" {
		return Result{Success: false, Error: "message recipient is required"}, nil
	}
	if strings.TrimSpace(p.Text) == "" {
		return Result{Success: false, Error: "message text is required"}, nil
	}
	id := uuid.NewString()
	log.Printf("provider: sent whatsapp %s to %s", id, p.To)
	return Result{Success: true, Detail: fmt.Sprintf(`{"message_id":%q}`, id)}, nil
}
