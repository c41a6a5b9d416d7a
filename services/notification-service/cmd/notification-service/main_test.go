package main

import (
	"testing"

	"github.com/carebridge-au/carebridge/services/notification-service/internal/storage"
)

func TestPickChannelDefaultsToEmail(t *testing.T) {
	contact := storage.Contact{UserID: "u1", Email: "p@example.com", Phone: "+61400000000"}

	channel, recipient := pickChannel(contact, "email")
	if channel != "email" || recipient != "p@example.com" {
		t.Fatalf("expected email delivery, got %s/%s", channel, recipient)
	}
}

func TestPickChannelSMSRequiresPhone(t *testing.T) {
	withPhone := storage.Contact{UserID: "u1", Email: "p@example.com", Phone: "+61400000000"}
	channel, recipient := pickChannel(withPhone, "sms")
	if channel != "sms" || recipient != "+61400000000" {
		t.Fatalf("expected sms delivery, got %s/%s", channel, recipient)
	}

	noPhone := storage.Contact{UserID: "u2", Email: "q@example.com"}
	channel, recipient = pickChannel(noPhone, "sms")
	if channel != "email" || recipient != "q@example.com" {
		t.Fatalf("expected email fallback, got %s/%s", channel, recipient)
	}
}

func TestReminderBodyPrefersScheduledAt(t *testing.T) {
	payload := reminderPayload{
		BookingID: "b1",
		RemindAt:  "2026-03-01T08:00:00Z",
		TemplateData: map[string]any{
			"scheduled_at": "2026-03-01T09:00:00Z",
		},
	}
	body := reminderBody(payload)
	if body != "Reminder: your booking b1 is scheduled for 2026-03-01T09:00:00Z." {
		t.Fatalf("unexpected body: %q", body)
	}

	payload.TemplateData = nil
	body = reminderBody(payload)
	if body != "Reminder: your booking b1 is scheduled for 2026-03-01T08:00:00Z." {
		t.Fatalf("unexpected fallback body: %q", body)
	}
}
