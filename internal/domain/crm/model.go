package crm

import (
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/clinicdesk/clinicdesk/internal/platform/apperr"
)

type Client struct {
	ID             uuid.UUID  `json:"id"`
	OrganizationID uuid.UUID  `json:"organization_id"`
	FirstName      string     `json:"first_name"`
	LastName       string     `json:"last_name"`
	Email          string     `json:"email"`
	Phone          string     `json:"phone"`
	TaxID          string     `json:"tax_id"`
	BirthDate      *time.Time `json:"birth_date,omitempty"`
	Address        string     `json:"address"`
	Notes          string     `json:"notes"`
	MarketingOptIn bool       `json:"marketing_opt_in"`
	Tags           []string   `json:"tags"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

func (c *Client) FullName() string {
	return strings.TrimSpace(c.FirstName + " " + c.LastName)
}

// normalize trims fields and lower-cases the email. The phone is handled by
// the service since it needs the organization region.
func (c *Client) normalize() {
	c.FirstName = strings.TrimSpace(c.FirstName)
	c.LastName = strings.TrimSpace(c.LastName)
	c.Email = strings.ToLower(strings.TrimSpace(c.Email))
	c.TaxID = strings.ToUpper(strings.TrimSpace(c.TaxID))
	c.Address = strings.TrimSpace(c.Address)
}

func (c *Client) validate(v *apperr.ValidationError) {
	if c.FirstName == "" {
		v.Add("first_name", "is required")
	}
	if c.Email != "" {
		if addr, err := mail.ParseAddress(c.Email); err != nil || addr.Address != c.Email {
			v.Add("email", "is not a valid address")
		}
	}
	if c.BirthDate != nil && c.BirthDate.After(time.Now()) {
		v.Add("birth_date", "is in the future")
	}
}

type Tag struct {
	ID             uuid.UUID `json:"id"`
	OrganizationID uuid.UUID `json:"organization_id"`
	Name           string    `json:"name"`
	Color          string    `json:"color"`
	CreatedAt      time.Time `json:"created_at"`
}

const defaultTagColor = "#64748b"

type ClientFilter struct {
	// Query matches name, email or phone.
	Query string
	Tag   string
}

type ImportError struct {
	Row     int    `json:"row"`
	Message string `json:"message"`
}

type ImportReport struct {
	Imported int               `json:"imported"`
	Skipped  int               `json:"skipped"`
	Errors   []ImportError     `json:"errors"`
	Mapping  map[string]string `json:"mapping"`
}

// Importable client fields, the targets of a CSV column mapping.
const (
	FieldFirstName = "first_name"
	FieldLastName  = "last_name"
	FieldFullName  = "full_name"
	FieldEmail     = "email"
	FieldPhone     = "phone"
	FieldTaxID     = "tax_id"
	FieldBirthDate = "birth_date"
	FieldAddress   = "address"
	FieldNotes     = "notes"
	FieldTags      = "tags"
)

var ImportFields = []string{
	FieldFirstName, FieldLastName, FieldFullName, FieldEmail, FieldPhone,
	FieldTaxID, FieldBirthDate, FieldAddress, FieldNotes, FieldTags,
}

func IsImportField(f string) bool {
	for _, k := range ImportFields {
		if k == f {
			return true
		}
	}
	return false
}
