package intent

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Kind identifies the action a classified intent should produce.
type Kind string

const (
	KindTask         Kind = "task"
	KindEvent        Kind = "event"
	KindEmail        Kind = "email"
	KindWhatsApp     Kind = "whatsapp"
	KindReminder     Kind = "reminder"
	KindAlarm        Kind = "alarm"
	KindNotification Kind = "notification"
)

// Source identifies the channel the intent arrived through.
type Source string

const (
	SourceVoice    Source = "voice"
	SourceUIButton Source = "ui-button"
	SourceAskPanel Source = "ask-panel"
)

var ErrInvalidIntent = errors.New("invalid intent type")

var allKinds = []Kind{
	KindTask, KindEvent, KindEmail, KindWhatsApp,
	KindReminder, KindAlarm, KindNotification,
}

// ParseKind validates a raw intent type string.
func ParseKind(raw string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(raw)))
	for _, known := range allKinds {
		if k == known {
			return k, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidIntent, raw)
}

// RequiresApproval reports whether a kind needs a human approval gate
// before execution. Outbound messages on the user's behalf do; everything
// else runs unattended.
func RequiresApproval(k Kind) bool {
	switch k {
	case KindEmail, KindWhatsApp:
		return true
	default:
		return false
	}
}

// Payload is the typed parameter set of an intent, one variant per Kind.
type Payload interface {
	Kind() Kind
	// DisplayTitle is the human-readable label shown in approval views.
	DisplayTitle() string
	// Summary is the normalized content used for action fingerprinting.
	Summary() string
}

type TaskPayload struct {
	Title    string     `json:"title"`
	Notes    string     `json:"notes,omitempty"`
	Priority string     `json:"priority,omitempty"`
	DueDate  *time.Time `json:"dueDate,omitempty"`
}

func (TaskPayload) Kind() Kind             { return KindTask }
func (p TaskPayload) DisplayTitle() string { return p.Title }
func (p TaskPayload) Summary() string      { return normalize(p.Title) }

type EventPayload struct {
	Title   string    `json:"title"`
	StartAt time.Time `json:"startAt"`
	EndAt   time.Time `json:"endAt"`
	Place   string    `json:"place,omitempty"`
}

func (EventPayload) Kind() Kind             { return KindEvent }
func (p EventPayload) DisplayTitle() string { return p.Title }
func (p EventPayload) Summary() string {
	return normalize(p.Title) + "|" + p.StartAt.UTC().Format(time.RFC3339)
}

type EmailPayload struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

func (EmailPayload) Kind() Kind             { return KindEmail }
func (p EmailPayload) DisplayTitle() string { return p.Subject }
func (p EmailPayload) Summary() string {
	return normalize(p.To) + "|" + normalize(p.Subject)
}

type MessagePayload struct {
	To   string `json:"to"`
	Text string `json:"text"`
}

func (MessagePayload) Kind() Kind             { return KindWhatsApp }
func (p MessagePayload) DisplayTitle() string { return p.Text }
func (p MessagePayload) Summary() string {
	return normalize(p.To) + "|" + normalize(p.Text)
}

type ReminderPayload struct {
	Title        string     `json:"title"`
	ScheduledFor *time.Time `json:"scheduledFor,omitempty"`
}

func (ReminderPayload) Kind() Kind             { return KindReminder }
func (p ReminderPayload) DisplayTitle() string { return p.Title }
func (p ReminderPayload) Summary() string      { return normalize(p.Title) }

type AlarmPayload struct {
	Label string    `json:"label,omitempty"`
	At    time.Time `json:"at"`
}

func (AlarmPayload) Kind() Kind             { return KindAlarm }
func (p AlarmPayload) DisplayTitle() string { return p.Label }
func (p AlarmPayload) Summary() string {
	return normalize(p.Label) + "|" + p.At.UTC().Format(time.RFC3339)
}

type NotificationPayload struct {
	Title    string `json:"title"`
	Body     string `json:"body,omitempty"`
	Category string `json:"category,omitempty"`
	Priority string `json:"priority,omitempty"`
}

func (NotificationPayload) Kind() Kind             { return KindNotification }
func (p NotificationPayload) DisplayTitle() string { return p.Title }
func (p NotificationPayload) Summary() string      { return normalize(p.Title) }

// DecodePayload parses raw JSON into the payload variant for kind.
// Unknown kinds are rejected so new variants cannot silently fall through.
func DecodePayload(kind Kind, raw json.RawMessage) (Payload, error) {
	if len(raw) == 0 {
		raw = json.RawMessage(`{}`)
	}
	switch kind {
	case KindTask:
		var p TaskPayload
		return p, strictDecode(raw, &p)
	case KindEvent:
		var p EventPayload
		return p, strictDecode(raw, &p)
	case KindEmail:
		var p EmailPayload
		return p, strictDecode(raw, &p)
	case KindWhatsApp:
		var p MessagePayload
		return p, strictDecode(raw, &p)
	case KindReminder:
		var p ReminderPayload
		return p, strictDecode(raw, &p)
	case KindAlarm:
		var p AlarmPayload
		return p, strictDecode(raw, &p)
	case KindNotification:
		var p NotificationPayload
		return p, strictDecode(raw, &p)
	}
	return nil, fmt.Errorf("%w: %q", ErrInvalidIntent, kind)
}

// EncodePayload is the inverse of DecodePayload, used when payloads are
// persisted as JSON documents.
func EncodePayload(p Payload) (json.RawMessage, error) {
	if p == nil {
		return json.RawMessage(`{}`), nil
	}
	out, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", p.Kind(), err)
	}
	return out, nil
}

func strictDecode(raw json.RawMessage, out any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	return nil
}

// Classified is the output shape of the external intent classifier.
type Classified struct {
	Kind       Kind
	Confidence float64
	Payload    Payload
}

func normalize(in string) string {
	in = strings.ToLower(strings.TrimSpace(in))
	if in == "" {
		return ""
	}
	return strings.Join(strings.Fields(in), " ")
}
