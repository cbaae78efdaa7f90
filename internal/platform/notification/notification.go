// Package notification renders and delivers transactional email: appointment
// reminders, consent links, staff invitations and issued invoices.
package notification

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// EmailSender delivers one HTML email.
type EmailSender interface {
	SendEmail(ctx context.Context, to, subject, htmlBody string) error
}

type Template struct {
	ID      string
	Subject string
	Body    string
}

// TemplateEngine renders {{key}} placeholders. Values are HTML escaped.
type TemplateEngine struct {
	mu        sync.RWMutex
	templates map[string]Template
}

const (
	TemplateAppointmentReminder = "appointment-reminder"
	TemplateConsentRequest      = "consent-request"
	TemplateMemberInvite        = "member-invite"
	TemplateInvoiceIssued       = "invoice-issued"
)

func NewTemplateEngine() *TemplateEngine {
	e := &TemplateEngine{templates: make(map[string]Template)}
	for _, t := range []Template{
		{
			ID:      TemplateAppointmentReminder,
			Subject: "Recordatorio de cita en {{clinic}}",
			Body:    "<p>Hola {{client_name}},</p><p>Te recordamos tu cita de <strong>{{service}}</strong> el {{date}} a las {{time}} con {{professional}}.</p><p>{{clinic}}</p>",
		},
		{
			ID:      TemplateConsentRequest,
			Subject: "{{clinic}}: firma del consentimiento \"{{form_title}}\"",
			Body:    "<p>Hola {{client_name}},</p><p>Para continuar necesitamos tu firma en el consentimiento <strong>{{form_title}}</strong>.</p><p><a href=\"{{link}}\">Firmar consentimiento</a></p><p>El enlace caduca el {{expires}}.</p>",
		},
		{
			ID:      TemplateMemberInvite,
			Subject: "Te han invitado a {{clinic}}",
			Body:    "<p>Hola {{name}},</p><p>Ya tienes acceso a {{clinic}} con el rol {{role}}. Entra con tu email {{email}}.</p>",
		},
		{
			ID:      TemplateInvoiceIssued,
			Subject: "Factura {{number}} de {{clinic}}",
			Body:    "<p>Hola {{client_name}},</p><p>Hemos emitido la factura {{number}} por importe de {{total}}.</p><p><a href=\"{{link}}\">Descargar PDF</a></p>",
		},
	} {
		e.templates[t.ID] = t
	}
	return e
}

func (e *TemplateEngine) Register(t Template) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.templates[t.ID] = t
}

// Render fills a template. Placeholders without data are left as-is.
func (e *TemplateEngine) Render(templateID string, data map[string]string) (subject, body string, err error) {
	e.mu.RLock()
	t, ok := e.templates[templateID]
	e.mu.RUnlock()
	if !ok {
		return "", "", fmt.Errorf("template %q not found", templateID)
	}

	subject, body = t.Subject, t.Body
	for k, v := range data {
		placeholder := "{{" + k + "}}"
		subject = strings.ReplaceAll(subject, placeholder, v)
		body = strings.ReplaceAll(body, placeholder, html.EscapeString(v))
	}
	return subject, body, nil
}

// Mailer renders a template and hands it to the configured sender.
type Mailer struct {
	sender    EmailSender
	templates *TemplateEngine
	logger    zerolog.Logger
}

func NewMailer(sender EmailSender, templates *TemplateEngine, logger zerolog.Logger) *Mailer {
	return &Mailer{sender: sender, templates: templates, logger: logger}
}

var ErrNoRecipient = errors.New("recipient email is empty")

func (m *Mailer) Send(ctx context.Context, templateID, to string, data map[string]string) error {
	if strings.TrimSpace(to) == "" {
		return ErrNoRecipient
	}
	subject, body, err := m.templates.Render(templateID, data)
	if err != nil {
		return err
	}
	if err := m.sender.SendEmail(ctx, to, subject, body); err != nil {
		m.logger.Error().Err(err).Str("template", templateID).Msg("email delivery failed")
		return fmt.Errorf("send %s email: %w", templateID, err)
	}
	m.logger.Debug().Str("template", templateID).Msg("email sent")
	return nil
}

// LogSender writes emails to the log instead of delivering them. It is used
// when SMTP is not configured.
type LogSender struct {
	Logger zerolog.Logger
}

func (s LogSender) SendEmail(_ context.Context, to, subject, _ string) error {
	s.Logger.Info().Str("to", to).Str("subject", subject).Msg("smtp not configured, email logged only")
	return nil
}

type EmailCall struct {
	To      string
	Subject string
	Body    string
}

// RecordingSender captures sent emails for tests.
type RecordingSender struct {
	mu   sync.Mutex
	sent []EmailCall
	Err  error
}

func (r *RecordingSender) SendEmail(_ context.Context, to, subject, body string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, EmailCall{To: to, Subject: subject, Body: body})
	return r.Err
}

func (r *RecordingSender) Calls() []EmailCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EmailCall, len(r.sent))
	copy(out, r.sent)
	return out
}
