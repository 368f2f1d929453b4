package intent

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestParseKind(t *testing.T) {
	k, err := ParseKind("  Email ")
	if err != nil {
		t.Fatalf("ParseKind() error = %v", err)
	}
	if k != KindEmail {
		t.Fatalf("ParseKind() = %q, want %q", k, KindEmail)
	}

	if _, err := ParseKind("teleport"); !errors.Is(err, ErrInvalidIntent) {
		t.Fatalf("ParseKind(teleport) error = %v, want ErrInvalidIntent", err)
	}
}

func TestRequiresApprovalTable(t *testing.T) {
	cases := map[Kind]bool{
		KindEmail:        true,
		KindWhatsApp:     true,
		KindTask:         false,
		KindReminder:     false,
		KindAlarm:        false,
		KindEvent:        false,
		KindNotification: false,
	}
	for kind, want := range cases {
		if got := RequiresApproval(kind); got != want {
			t.Fatalf("RequiresApproval(%q) = %v, want %v", kind, got, want)
		}
	}
}

func TestDecodePayloadByKind(t *testing.T) {
	p, err := DecodePayload(KindEmail, json.RawMessage(`{"to":"john@example.com","subject":"Lunch","body":"Tomorrow?"}`))
	if err != nil {
		t.Fatalf("DecodePayload(email) error = %v", err)
	}
	email, ok := p.(EmailPayload)
	if !ok {
		t.Fatalf("DecodePayload(email) type = %T, want EmailPayload", p)
	}
	if email.Subject != "Lunch" {
		t.Fatalf("email.Subject = %q, want %q", email.Subject, "Lunch")
	}
	if p.DisplayTitle() != "Lunch" {
		t.Fatalf("DisplayTitle() = %q, want %q", p.DisplayTitle(), "Lunch")
	}

	if _, err := DecodePayload(Kind("bogus"), nil); !errors.Is(err, ErrInvalidIntent) {
		t.Fatalf("DecodePayload(bogus) error = %v, want ErrInvalidIntent", err)
	}
}

func TestDecodePayloadRejectsUnknownFields(t *testing.T) {
	raw := json.RawMessage(`{"title":"buy milk","urgency":"high"}`)
	if _, err := DecodePayload(KindTask, raw); err == nil {
		t.Fatal("DecodePayload() error = nil, want unknown-field rejection")
	}
}

func TestPayloadSummaryNormalizes(t *testing.T) {
	a := TaskPayload{Title: "  Call   JOHN "}
	b := TaskPayload{Title: "call john"}
	if a.Summary() != b.Summary() {
		t.Fatalf("Summary() mismatch: %q vs %q", a.Summary(), b.Summary())
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	raw, err := EncodePayload(ReminderPayload{Title: "water the plants"})
	if err != nil {
		t.Fatalf("EncodePayload() error = %v", err)
	}
	p, err := DecodePayload(KindReminder, raw)
	if err != nil {
		t.Fatalf("DecodePayload() error = %v", err)
	}
	if p.DisplayTitle() != "water the plants" {
		t.Fatalf("DisplayTitle() = %q, want original title", p.DisplayTitle())
	}
}
