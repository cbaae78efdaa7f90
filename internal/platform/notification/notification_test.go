package notification

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestTemplateEngine_Render(t *testing.T) {
	e := NewTemplateEngine()
	subject, body, err := e.Render(TemplateAppointmentReminder, map[string]string{
		"client_name":  "Ana",
		"service":      "Fisioterapia",
		"date":         "01/06/2024",
		"time":         "10:00",
		"professional": "Laura",
		"clinic":       "Clínica Sol",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if subject != "Recordatorio de cita en Clínica Sol" {
		t.Errorf("unexpected subject %q", subject)
	}
	if !strings.Contains(body, "Fisioterapia") || !strings.Contains(body, "10:00") {
		t.Errorf("expected body to be filled, got %q", body)
	}
}

func TestTemplateEngine_EscapesBodyValues(t *testing.T) {
	e := NewTemplateEngine()
	_, body, err := e.Render(TemplateMemberInvite, map[string]string{"name": "<script>x</script>"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.Contains(body, "<script>") {
		t.Errorf("expected value to be escaped, got %q", body)
	}
}

func TestTemplateEngine_UnknownTemplate(t *testing.T) {
	if _, _, err := NewTemplateEngine().Render("nope", nil); err == nil {
		t.Fatal("expected error for unknown template")
	}
}

func TestMailer_Send(t *testing.T) {
	rec := &RecordingSender{}
	m := NewMailer(rec, NewTemplateEngine(), zerolog.New(io.Discard))

	err := m.Send(context.Background(), TemplateConsentRequest, "ana@example.com", map[string]string{
		"client_name": "Ana", "form_title": "RGPD", "link": "https://x/consent/abc", "clinic": "Sol",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	calls := rec.Calls()
	if len(calls) != 1 || calls[0].To != "ana@example.com" {
		t.Fatalf("expected one email to ana@example.com, got %+v", calls)
	}
	if !strings.Contains(calls[0].Body, "https://x/consent/abc") {
		t.Errorf("expected link in body, got %q", calls[0].Body)
	}
}

func TestMailer_NoRecipient(t *testing.T) {
	m := NewMailer(&RecordingSender{}, NewTemplateEngine(), zerolog.New(io.Discard))
	if err := m.Send(context.Background(), TemplateMemberInvite, " ", nil); !errors.Is(err, ErrNoRecipient) {
		t.Fatalf("expected ErrNoRecipient, got %v", err)
	}
}

func TestMailer_SenderFailure(t *testing.T) {
	rec := &RecordingSender{Err: errors.New("relay down")}
	m := NewMailer(rec, NewTemplateEngine(), zerolog.New(io.Discard))
	if err := m.Send(context.Background(), TemplateMemberInvite, "a@b.c", nil); err == nil {
		t.Fatal("expected sender error to propagate")
	}
}
