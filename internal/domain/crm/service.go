package crm

import (
	"context"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clinicdesk/clinicdesk/internal/domain/identity"
	"github.com/clinicdesk/clinicdesk/internal/platform/apperr"
	"github.com/clinicdesk/clinicdesk/internal/platform/db"
	"github.com/clinicdesk/clinicdesk/internal/platform/events"
	"github.com/clinicdesk/clinicdesk/pkg/phone"
)

var (
	ErrClientNotFound = apperr.New(apperr.ErrNotFound, "client not found")
	ErrTagNotFound    = apperr.New(apperr.ErrNotFound, "tag not found")
	ErrTagExists      = apperr.New(apperr.ErrConflict, "a tag with that name already exists")
)

// Organizations resolves the organization settings the CRM depends on.
type Organizations interface {
	GetOrganization(ctx context.Context, id uuid.UUID) (*identity.Organization, error)
}

// ColumnMapper proposes a CSV header to client field mapping.
type ColumnMapper interface {
	MapColumns(ctx context.Context, headers []string, sample [][]string) (map[string]string, error)
}

type Service struct {
	clients ClientRepository
	tags    TagRepository
	tx      db.TxRunner
	orgs    Organizations
	events  events.Publisher
	mapper  ColumnMapper
	logger  zerolog.Logger
}

func NewService(clients ClientRepository, tags TagRepository, tx db.TxRunner, orgs Organizations, pub events.Publisher, logger zerolog.Logger) *Service {
	return &Service{clients: clients, tags: tags, tx: tx, orgs: orgs, events: pub, logger: logger}
}

// SetColumnMapper wires the assistant in after construction, since the
// assistant itself is built from CRM field definitions.
func (s *Service) SetColumnMapper(m ColumnMapper) { s.mapper = m }

func (s *Service) region(ctx context.Context, orgID uuid.UUID) (string, error) {
	org, err := s.orgs.GetOrganization(ctx, orgID)
	if err != nil {
		return "", err
	}
	return org.Region, nil
}

// prepare normalizes and validates c for orgID.
func (s *Service) prepare(c *Client, region string) error {
	c.normalize()
	v := &apperr.ValidationError{}
	c.validate(v)
	if strings.TrimSpace(c.Phone) != "" {
		e164, err := phone.Normalize(c.Phone, region)
		if err != nil {
			v.Add("phone", "is not a valid phone number")
		}
		c.Phone = e164
	}
	return v.OrNil()
}

// -- Clients --

func (s *Service) CreateClient(ctx context.Context, orgID uuid.UUID, c *Client) error {
	region, err := s.region(ctx, orgID)
	if err != nil {
		return err
	}
	c.OrganizationID = orgID
	if err := s.prepare(c, region); err != nil {
		return err
	}
	tags := c.Tags
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.clients.Create(ctx, c); err != nil {
			return err
		}
		if len(tags) > 0 {
			applied, err := s.applyTags(ctx, orgID, c.ID, tags)
			if err != nil {
				return err
			}
			c.Tags = applied
		}
		return nil
	})
	if err != nil {
		return err
	}
	if c.Tags == nil {
		c.Tags = []string{}
	}
	return nil
}

func (s *Service) GetClient(ctx context.Context, orgID, id uuid.UUID) (*Client, error) {
	return s.clients.GetByID(ctx, orgID, id)
}

// UpdateClient replaces the client's fields. Tags are managed by SetTags.
func (s *Service) UpdateClient(ctx context.Context, orgID uuid.UUID, c *Client) error {
	region, err := s.region(ctx, orgID)
	if err != nil {
		return err
	}
	c.OrganizationID = orgID
	if err := s.prepare(c, region); err != nil {
		return err
	}
	return s.clients.Update(ctx, c)
}

func (s *Service) DeleteClient(ctx context.Context, orgID, id uuid.UUID) error {
	return s.clients.Delete(ctx, orgID, id)
}

func (s *Service) ListClients(ctx context.Context, orgID uuid.UUID, f ClientFilter, limit, offset int) ([]*Client, int, error) {
	return s.clients.List(ctx, orgID, f, limit, offset)
}

// FindByPhone matches an inbound number to a client. raw may be in any
// format the organization region understands.
func (s *Service) FindByPhone(ctx context.Context, orgID uuid.UUID, raw string) (*Client, error) {
	region, err := s.region(ctx, orgID)
	if err != nil {
		return nil, err
	}
	e164, err := phone.Normalize(raw, region)
	if err != nil {
		return nil, ErrClientNotFound
	}
	return s.clients.FindByPhone(ctx, orgID, e164)
}

// SetTags replaces the client's tag set, creating missing tags by name.
func (s *Service) SetTags(ctx context.Context, orgID, clientID uuid.UUID, names []string) ([]string, error) {
	var applied []string
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if _, err := s.clients.GetByID(ctx, orgID, clientID); err != nil {
			return err
		}
		var err error
		applied, err = s.applyTags(ctx, orgID, clientID, names)
		return err
	})
	if err != nil {
		return nil, err
	}

	events.Emit(ctx, s.events, s.logger, events.New(events.ClientTagsUpdated, orgID, map[string]interface{}{
		"client_id": clientID,
		"tags":      applied,
	}))
	return applied, nil
}

func (s *Service) applyTags(ctx context.Context, orgID, clientID uuid.UUID, names []string) ([]string, error) {
	wanted := dedupeNames(names)

	existing, err := s.tags.ByNames(ctx, orgID, wanted)
	if err != nil {
		return nil, err
	}
	byName := make(map[string]*Tag, len(existing))
	for _, t := range existing {
		byName[strings.ToLower(t.Name)] = t
	}

	ids := make([]uuid.UUID, 0, len(wanted))
	applied := make([]string, 0, len(wanted))
	for _, n := range wanted {
		t, ok := byName[strings.ToLower(n)]
		if !ok {
			t = &Tag{OrganizationID: orgID, Name: n, Color: defaultTagColor}
			if err := s.tags.Create(ctx, t); err != nil {
				return nil, err
			}
		}
		ids = append(ids, t.ID)
		applied = append(applied, t.Name)
	}
	if err := s.clients.ReplaceTags(ctx, orgID, clientID, ids); err != nil {
		return nil, err
	}
	sort.Slice(applied, func(i, j int) bool { return strings.ToLower(applied[i]) < strings.ToLower(applied[j]) })
	return applied, nil
}

func dedupeNames(names []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" || seen[strings.ToLower(n)] {
			continue
		}
		seen[strings.ToLower(n)] = true
		out = append(out, n)
	}
	return out
}

// -- Tags --

func (s *Service) CreateTag(ctx context.Context, orgID uuid.UUID, t *Tag) error {
	t.OrganizationID = orgID
	t.Name = strings.TrimSpace(t.Name)
	if t.Name == "" {
		return apperr.Invalid("name", "is required")
	}
	if t.Color == "" {
		t.Color = defaultTagColor
	}
	return s.tags.Create(ctx, t)
}

func (s *Service) UpdateTag(ctx context.Context, orgID uuid.UUID, t *Tag) error {
	t.OrganizationID = orgID
	t.Name = strings.TrimSpace(t.Name)
	if t.Name == "" {
		return apperr.Invalid("name", "is required")
	}
	if t.Color == "" {
		t.Color = defaultTagColor
	}
	return s.tags.Update(ctx, t)
}

func (s *Service) DeleteTag(ctx context.Context, orgID, id uuid.UUID) error {
	return s.tags.Delete(ctx, orgID, id)
}

func (s *Service) ListTags(ctx context.Context, orgID uuid.UUID) ([]*Tag, error) {
	return s.tags.List(ctx, orgID)
}

