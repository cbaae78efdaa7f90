package identity

import (
	"net/mail"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/clinicdesk/clinicdesk/internal/platform/apperr"
	"github.com/clinicdesk/clinicdesk/internal/platform/auth"
)

type Organization struct {
	ID            uuid.UUID `json:"id"`
	Name          string    `json:"name"`
	TaxID         string    `json:"tax_id"`
	Address       string    `json:"address"`
	Email         string    `json:"email"`
	Phone         string    `json:"phone"`
	Timezone      string    `json:"timezone"`
	Region        string    `json:"region"`
	InvoiceSeries string    `json:"invoice_series"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Location returns the organization's time zone, UTC if it cannot be loaded.
func (o *Organization) Location() *time.Location {
	loc, err := time.LoadLocation(o.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

var seriesPattern = regexp.MustCompile(`^[A-Z0-9]{1,8}$`)

func (o *Organization) Validate() error {
	v := &apperr.ValidationError{}
	if strings.TrimSpace(o.Name) == "" {
		v.Add("name", "is required")
	}
	if _, err := time.LoadLocation(o.Timezone); err != nil || o.Timezone == "" {
		v.Add("timezone", "must be an IANA time zone")
	}
	if len(o.Region) != 2 {
		v.Add("region", "must be a two letter country code")
	}
	if !seriesPattern.MatchString(o.InvoiceSeries) {
		v.Add("invoice_series", "must be 1-8 uppercase letters or digits")
	}
	if o.Email != "" && !validEmail(o.Email) {
		v.Add("email", "is not a valid address")
	}
	return v.OrNil()
}

type User struct {
	ID           uuid.UUID `json:"id"`
	Email        string    `json:"email"`
	FullName     string    `json:"full_name"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

type Membership struct {
	OrganizationID uuid.UUID `json:"organization_id"`
	UserID         uuid.UUID `json:"user_id"`
	Role           string    `json:"role"`
	CreatedAt      time.Time `json:"created_at"`
}

// Member is a membership joined with its user.
type Member struct {
	UserID    uuid.UUID `json:"user_id"`
	Email     string    `json:"email"`
	FullName  string    `json:"full_name"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

type SignupInput struct {
	OrganizationName string `json:"organization_name"`
	TaxID            string `json:"tax_id"`
	Timezone         string `json:"timezone"`
	Region           string `json:"region"`
	FullName         string `json:"full_name"`
	Email            string `json:"email"`
	Password         string `json:"password"`
}

type LoginInput struct {
	Email          string     `json:"email"`
	Password       string     `json:"password"`
	OrganizationID *uuid.UUID `json:"organization_id,omitempty"`
}

type InviteInput struct {
	Email    string `json:"email"`
	FullName string `json:"full_name"`
	Role     string `json:"role"`
	// Password is only used when the invited email has no account yet.
	Password string `json:"password"`
}

func (in *InviteInput) Validate() error {
	v := &apperr.ValidationError{}
	if !validEmail(in.Email) {
		v.Add("email", "is not a valid address")
	}
	if !auth.IsValidRole(in.Role) {
		v.Add("role", "is not a valid role")
	}
	if in.Role == auth.RoleOwner {
		v.Add("role", "an organization has a single owner")
	}
	return v.OrNil()
}

type Session struct {
	Token          string    `json:"token"`
	ExpiresAt      time.Time `json:"expires_at"`
	UserID         uuid.UUID `json:"user_id"`
	OrganizationID uuid.UUID `json:"organization_id"`
	Roles          []string  `json:"roles"`
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validEmail(email string) bool {
	addr, err := mail.ParseAddress(email)
	return err == nil && addr.Address == strings.TrimSpace(email)
}
