package consent

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"html/template"
	"image/png"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/clinicdesk/clinicdesk/internal/platform/apperr"
)

type Form struct {
	ID             uuid.UUID `json:"id"`
	OrganizationID uuid.UUID `json:"organization_id"`
	Title          string    `json:"title"`
	Body           string    `json:"body"`
	Version        int       `json:"version"`
	Active         bool      `json:"active"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

type FormInput struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// Token grants one signature of a form by a client until ExpiresAt.
type Token struct {
	ID             uuid.UUID  `json:"id"`
	OrganizationID uuid.UUID  `json:"organization_id"`
	FormID         uuid.UUID  `json:"form_id"`
	ClientID       uuid.UUID  `json:"client_id"`
	ExpiresAt      time.Time  `json:"expires_at"`
	UsedAt         *time.Time `json:"used_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// Expired reports whether the token can no longer be used at now. A token
// is already expired at exactly ExpiresAt.
func (t *Token) Expired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

type PatientConsent struct {
	ID             uuid.UUID  `json:"id"`
	OrganizationID uuid.UUID  `json:"organization_id"`
	ClientID       uuid.UUID  `json:"client_id"`
	FormID         uuid.UUID  `json:"form_id"`
	FormVersion    int        `json:"form_version"`
	TokenID        uuid.UUID  `json:"token_id"`
	RenderedHTML   string     `json:"rendered_html"`
	SignatureImage string     `json:"signature_image"`
	SignatureKey   string     `json:"signature_key"`
	ContentHash    string     `json:"content_hash"`
	SignerName     string     `json:"signer_name"`
	SignerIP       string     `json:"signer_ip"`
	UserAgent      string     `json:"user_agent"`
	SignedAt       time.Time  `json:"signed_at"`
	Valid          bool       `json:"valid"`
	RevokedAt      *time.Time `json:"revoked_at,omitempty"`
}

// Link is what staff send to a client.
type Link struct {
	TokenID   uuid.UUID `json:"token_id"`
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
}

// OpenedForm is the public view of a form behind a link.
type OpenedForm struct {
	Title      string    `json:"title"`
	HTML       string    `json:"html"`
	ClinicName string    `json:"clinic_name"`
	ClientName string    `json:"client_name"`
	ExpiresAt  time.Time `json:"expires_at"`
}

type SignatureInput struct {
	// Image is a data URL, data:image/png;base64,...
	Image      string `json:"image"`
	SignerName string `json:"signer_name"`
}

type RequestMeta struct {
	IP        string
	UserAgent string
}

// RenderData is what form bodies can reference, e.g. {{.ClientName}}.
type RenderData struct {
	ClientName  string
	ClientTaxID string
	ClinicName  string
	ClinicTaxID string
	Date        string
}

const (
	maxSignatureBytes = 1 << 20
	maxSignatureSide  = 4000
	pngDataURLPrefix  = "data:image/png;base64,"
)

func parseBody(body string) (*template.Template, error) {
	return template.New("consent").Option("missingkey=error").Parse(body)
}

func (in *FormInput) Validate() error {
	v := &apperr.ValidationError{}
	if strings.TrimSpace(in.Title) == "" {
		v.Add("title", "is required")
	}
	if strings.TrimSpace(in.Body) == "" {
		v.Add("body", "is required")
	} else if tmpl, err := parseBody(in.Body); err != nil {
		v.Add("body", "invalid template: "+err.Error())
	} else if err := tmpl.Execute(&bytes.Buffer{}, RenderData{}); err != nil {
		v.Add("body", "invalid template: "+err.Error())
	}
	return v.OrNil()
}

// Render executes the form body against data. The body is staff-authored
// HTML; values are escaped by html/template.
func (f *Form) Render(data RenderData) (string, error) {
	tmpl, err := parseBody(f.Body)
	if err != nil {
		return "", fmt.Errorf("parse form %s: %w", f.ID, err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render form %s: %w", f.ID, err)
	}
	return buf.String(), nil
}

// DecodeSignature validates a PNG data URL and returns the image bytes.
func DecodeSignature(dataURL string) ([]byte, error) {
	if !strings.HasPrefix(dataURL, pngDataURLPrefix) {
		return nil, apperr.Invalid("image", "must be a PNG data URL")
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(dataURL, pngDataURLPrefix))
	if err != nil {
		return nil, apperr.Invalid("image", "is not valid base64")
	}
	if len(raw) > maxSignatureBytes {
		return nil, apperr.Invalid("image", "is too large")
	}
	cfg, err := png.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		return nil, apperr.Invalid("image", "is not a PNG image")
	}
	if cfg.Width == 0 || cfg.Height == 0 || cfg.Width > maxSignatureSide || cfg.Height > maxSignatureSide {
		return nil, apperr.Invalid("image", "has invalid dimensions")
	}
	return raw, nil
}

func (in *SignatureInput) Validate() ([]byte, error) {
	if strings.TrimSpace(in.SignerName) == "" {
		return nil, apperr.Invalid("signer_name", "is required")
	}
	return DecodeSignature(in.Image)
}
