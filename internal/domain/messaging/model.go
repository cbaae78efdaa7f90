package messaging

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/clinicdesk/clinicdesk/internal/platform/apperr"
)

const (
	StatusPending     = "pending"
	StatusConfiguring = "configuring"
	StatusActive      = "active"
	StatusFailed      = "failed"
)

// Setup steps, run in this order.
const (
	StepWebhook  = "webhook"
	stepTemplate = "template:"
)

const (
	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"

	KindText     = "text"
	KindTemplate = "template"
)

// WabaProject is a WhatsApp Business Account phone number connected to one
// organization.
type WabaProject struct {
	ID                uuid.UUID `json:"id"`
	PhoneNumberID     string    `json:"phone_number_id"`
	BusinessAccountID string    `json:"business_account_id"`
	AccessToken       string    `json:"-"`
	DisplayPhone      string    `json:"display_phone"`
	WebhookURL        string    `json:"webhook_url"`
	VerifyToken       string    `json:"-"`
	Status            string    `json:"status"`
	CompletedSteps    []string  `json:"completed_steps"`
	LastError         string    `json:"last_error,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

func (p *WabaProject) Done(step string) bool {
	for _, s := range p.CompletedSteps {
		if s == step {
			return true
		}
	}
	return false
}

func (p *WabaProject) complete(step string) {
	if !p.Done(step) {
		p.CompletedSteps = append(p.CompletedSteps, step)
	}
}

// ConnectInput registers the credentials of a Cloud API phone number.
type ConnectInput struct {
	PhoneNumberID     string `json:"phone_number_id"`
	BusinessAccountID string `json:"business_account_id"`
	AccessToken       string `json:"access_token"`
	DisplayPhone      string `json:"display_phone"`
}

func (in *ConnectInput) Validate() error {
	in.PhoneNumberID = strings.TrimSpace(in.PhoneNumberID)
	in.BusinessAccountID = strings.TrimSpace(in.BusinessAccountID)
	in.AccessToken = strings.TrimSpace(in.AccessToken)
	in.DisplayPhone = strings.TrimSpace(in.DisplayPhone)

	var v apperr.ValidationError
	if !numericID(in.PhoneNumberID) {
		v.Add("phone_number_id", "must be the numeric Graph id")
	}
	if !numericID(in.BusinessAccountID) {
		v.Add("business_account_id", "must be the numeric Graph id")
	}
	if in.AccessToken == "" {
		v.Add("access_token", "is required")
	}
	return v.OrNil()
}

func numericID(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// Message is one WhatsApp message in either direction. Phone is E.164.
type Message struct {
	ID             uuid.UUID  `json:"id"`
	OrganizationID uuid.UUID  `json:"organization_id"`
	ClientID       *uuid.UUID `json:"client_id,omitempty"`
	Direction      string     `json:"direction"`
	WAMessageID    string     `json:"wa_message_id"`
	Phone          string     `json:"phone"`
	Kind           string     `json:"kind"`
	Body           string     `json:"body"`
	TemplateName   string     `json:"template_name,omitempty"`
	Status         string     `json:"status"`
	CreatedAt      time.Time  `json:"created_at"`
}

// Profile is the public business profile shown in WhatsApp.
type Profile struct {
	About       string   `json:"about"`
	Description string   `json:"description"`
	Email       string   `json:"email"`
	Websites    []string `json:"websites"`
}

func (p *Profile) Validate() error {
	var v apperr.ValidationError
	if len(p.About) > 139 {
		v.Add("about", "must be at most 139 characters")
	}
	if len(p.Description) > 512 {
		v.Add("description", "must be at most 512 characters")
	}
	if len(p.Websites) > 2 {
		v.Add("websites", "at most 2 websites")
	}
	for _, w := range p.Websites {
		if !strings.HasPrefix(w, "http://") && !strings.HasPrefix(w, "https://") {
			v.Add("websites", "must be http(s) URLs")
		}
	}
	return v.OrNil()
}
