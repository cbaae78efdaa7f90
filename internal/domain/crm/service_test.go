package crm

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clinicdesk/clinicdesk/internal/domain/identity"
	"github.com/clinicdesk/clinicdesk/internal/platform/apperr"
	"github.com/clinicdesk/clinicdesk/internal/platform/db/dbtest"
	"github.com/clinicdesk/clinicdesk/internal/platform/events"
)

// -- Mock Repositories --

type mockClientRepo struct {
	mu      sync.Mutex
	clients map[uuid.UUID]*Client
	tagIDs  map[uuid.UUID][]uuid.UUID
	tags    *mockTagRepo
}

func newMockClientRepo(tags *mockTagRepo) *mockClientRepo {
	return &mockClientRepo{clients: make(map[uuid.UUID]*Client), tagIDs: make(map[uuid.UUID][]uuid.UUID), tags: tags}
}

func (m *mockClientRepo) withTags(c *Client) *Client {
	cp := *c
	cp.Tags = []string{}
	for _, id := range m.tagIDs[c.ID] {
		if t, ok := m.tags.byID(id); ok {
			cp.Tags = append(cp.Tags, t.Name)
		}
	}
	sort.Strings(cp.Tags)
	return &cp
}

func (m *mockClientRepo) Create(_ context.Context, c *Client) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c.ID = uuid.New()
	c.CreatedAt, c.UpdatedAt = time.Now(), time.Now()
	cp := *c
	m.clients[c.ID] = &cp
	return nil
}

func (m *mockClientRepo) GetByID(_ context.Context, orgID, id uuid.UUID) (*Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.clients[id]
	if !ok || c.OrganizationID != orgID {
		return nil, ErrClientNotFound
	}
	return m.withTags(c), nil
}

func (m *mockClientRepo) Update(_ context.Context, c *Client) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	old, ok := m.clients[c.ID]
	if !ok || old.OrganizationID != c.OrganizationID {
		return ErrClientNotFound
	}
	cp := *c
	m.clients[c.ID] = &cp
	return nil
}

func (m *mockClientRepo) Delete(_ context.Context, orgID, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.clients[id]
	if !ok || c.OrganizationID != orgID {
		return ErrClientNotFound
	}
	delete(m.clients, id)
	return nil
}

func (m *mockClientRepo) List(_ context.Context, orgID uuid.UUID, f ClientFilter, limit, offset int) ([]*Client, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Client
	for _, c := range m.clients {
		if c.OrganizationID != orgID {
			continue
		}
		full := m.withTags(c)
		if f.Query != "" && !strings.Contains(strings.ToLower(c.FullName()+" "+c.Email+" "+c.Phone), strings.ToLower(f.Query)) {
			continue
		}
		if f.Tag != "" {
			found := false
			for _, t := range full.Tags {
				found = found || strings.EqualFold(t, f.Tag)
			}
			if !found {
				continue
			}
		}
		out = append(out, full)
	}
	return out, len(out), nil
}

func (m *mockClientRepo) FindByPhone(_ context.Context, orgID uuid.UUID, phone string) (*Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.clients {
		if c.OrganizationID == orgID && c.Phone == phone {
			return m.withTags(c), nil
		}
	}
	return nil, ErrClientNotFound
}

func (m *mockClientRepo) ContactKeys(_ context.Context, orgID uuid.UUID) (map[string]bool, map[string]bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	emails, phones := map[string]bool{}, map[string]bool{}
	for _, c := range m.clients {
		if c.OrganizationID != orgID {
			continue
		}
		if c.Email != "" {
			emails[c.Email] = true
		}
		if c.Phone != "" {
			phones[c.Phone] = true
		}
	}
	return emails, phones, nil
}

func (m *mockClientRepo) ReplaceTags(_ context.Context, _, clientID uuid.UUID, tagIDs []uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tagIDs[clientID] = append([]uuid.UUID(nil), tagIDs...)
	return nil
}

type mockTagRepo struct {
	mu   sync.Mutex
	tags map[uuid.UUID]*Tag
}

func newMockTagRepo() *mockTagRepo { return &mockTagRepo{tags: make(map[uuid.UUID]*Tag)} }

func (m *mockTagRepo) byID(id uuid.UUID) (*Tag, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tags[id]
	return t, ok
}

func (m *mockTagRepo) Create(_ context.Context, t *Tag) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.tags {
		if e.OrganizationID == t.OrganizationID && strings.EqualFold(e.Name, t.Name) {
			return ErrTagExists
		}
	}
	t.ID = uuid.New()
	t.CreatedAt = time.Now()
	cp := *t
	m.tags[t.ID] = &cp
	return nil
}

func (m *mockTagRepo) GetByID(_ context.Context, orgID, id uuid.UUID) (*Tag, error) {
	t, ok := m.byID(id)
	if !ok || t.OrganizationID != orgID {
		return nil, ErrTagNotFound
	}
	return t, nil
}

func (m *mockTagRepo) Update(_ context.Context, t *Tag) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tags[t.ID]; !ok {
		return ErrTagNotFound
	}
	cp := *t
	m.tags[t.ID] = &cp
	return nil
}

func (m *mockTagRepo) Delete(_ context.Context, orgID, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tags[id]
	if !ok || t.OrganizationID != orgID {
		return ErrTagNotFound
	}
	delete(m.tags, id)
	return nil
}

func (m *mockTagRepo) List(_ context.Context, orgID uuid.UUID) ([]*Tag, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Tag
	for _, t := range m.tags {
		if t.OrganizationID == orgID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *mockTagRepo) ByNames(_ context.Context, orgID uuid.UUID, names []string) ([]*Tag, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Tag
	for _, t := range m.tags {
		for _, n := range names {
			if t.OrganizationID == orgID && strings.EqualFold(t.Name, n) {
				out = append(out, t)
			}
		}
	}
	return out, nil
}

type staticOrgs map[uuid.UUID]*identity.Organization

func (s staticOrgs) GetOrganization(_ context.Context, id uuid.UUID) (*identity.Organization, error) {
	o, ok := s[id]
	if !ok {
		return nil, identity.ErrOrganizationNotFound
	}
	return o, nil
}

type testEnv struct {
	svc     *Service
	clients *mockClientRepo
	tags    *mockTagRepo
	events  *events.Recorder
	org     uuid.UUID
}

func newTestEnv() *testEnv {
	org := uuid.New()
	tags := newMockTagRepo()
	clients := newMockClientRepo(tags)
	rec := &events.Recorder{}
	orgs := staticOrgs{org: {ID: org, Name: "Clinica", Region: "ES", Timezone: "Europe/Madrid"}}
	return &testEnv{
		svc:     NewService(clients, tags, &dbtest.SerialTx{}, orgs, rec, zerolog.Nop()),
		clients: clients,
		tags:    tags,
		events:  rec,
		org:     org,
	}
}

func newTestService() *Service { return newTestEnv().svc }

func TestService_CreateClient_NormalizesPhone(t *testing.T) {
	env := newTestEnv()
	c := &Client{FirstName: " Marta ", LastName: "Ruiz", Email: "Marta@Example.com", Phone: "600 111 213"}
	if err := env.svc.CreateClient(context.Background(), env.org, c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Phone != "+34600111213" {
		t.Errorf("expected E.164 phone, got %s", c.Phone)
	}
	if c.Email != "marta@example.com" || c.FirstName != "Marta" {
		t.Errorf("expected normalized fields, got %+v", c)
	}
}

func TestService_CreateClient_InvalidPhone(t *testing.T) {
	env := newTestEnv()
	err := env.svc.CreateClient(context.Background(), env.org, &Client{FirstName: "Ana", Phone: "12"})
	var ve *apperr.ValidationError
	if !errors.As(err, &ve) || ve.Fields["phone"] == "" {
		t.Fatalf("expected phone validation error, got %v", err)
	}
}

func TestService_CreateClient_RequiresName(t *testing.T) {
	env := newTestEnv()
	if err := env.svc.CreateClient(context.Background(), env.org, &Client{Email: "a@b.co"}); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestService_CreateClient_WithTags(t *testing.T) {
	env := newTestEnv()
	c := &Client{FirstName: "Ana", Tags: []string{"VIP", "vip", "Pilates"}}
	if err := env.svc.CreateClient(context.Background(), env.org, c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(c.Tags) != 2 {
		t.Errorf("expected 2 deduplicated tags, got %v", c.Tags)
	}
}

func TestService_SetTags(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	c := &Client{FirstName: "Luis"}
	env.svc.CreateClient(ctx, env.org, c)
	env.svc.CreateTag(ctx, env.org, &Tag{Name: "Fisioterapia", Color: "#ff0000"})

	tags, err := env.svc.SetTags(ctx, env.org, c.ID, []string{"fisioterapia", "Nuevo", " "})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(tags) != 2 || tags[0] != "Fisioterapia" || tags[1] != "Nuevo" {
		t.Errorf("expected existing tag name to be kept, got %v", tags)
	}
	all, _ := env.svc.ListTags(ctx, env.org)
	if len(all) != 2 {
		t.Errorf("expected 2 tags in catalogue, got %d", len(all))
	}

	got, _ := env.svc.GetClient(ctx, env.org, c.ID)
	if len(got.Tags) != 2 {
		t.Errorf("expected client to carry 2 tags, got %v", got.Tags)
	}

	types := env.events.Types()
	if len(types) != 1 || types[0] != events.ClientTagsUpdated {
		t.Errorf("expected client.tags_updated event, got %v", types)
	}

	filtered, _, _ := env.svc.ListClients(ctx, env.org, ClientFilter{Tag: "nuevo"}, 20, 0)
	if len(filtered) != 1 {
		t.Errorf("expected tag filter to match 1 client, got %d", len(filtered))
	}
}

func TestService_SetTags_UnknownClient(t *testing.T) {
	env := newTestEnv()
	if _, err := env.svc.SetTags(context.Background(), env.org, uuid.New(), []string{"x"}); !errors.Is(err, ErrClientNotFound) {
		t.Fatalf("expected ErrClientNotFound, got %v", err)
	}
	if len(env.events.Events()) != 0 {
		t.Error("expected no event for a failed update")
	}
}

func TestService_FindByPhone(t *testing.T) {
	env := newTestEnv()
	c := &Client{FirstName: "Pablo", Phone: "+34 611 22 33 44"}
	env.svc.CreateClient(context.Background(), env.org, c)

	got, err := env.svc.FindByPhone(context.Background(), env.org, "611 22 33 44")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.ID != c.ID {
		t.Errorf("expected %s, got %s", c.ID, got.ID)
	}

	if _, err := env.svc.FindByPhone(context.Background(), env.org, "garbage"); !errors.Is(err, ErrClientNotFound) {
		t.Errorf("expected ErrClientNotFound, got %v", err)
	}
}

func TestService_OrganizationIsolation(t *testing.T) {
	env := newTestEnv()
	c := &Client{FirstName: "Eva"}
	env.svc.CreateClient(context.Background(), env.org, c)

	if _, err := env.svc.GetClient(context.Background(), uuid.New(), c.ID); !errors.Is(err, ErrClientNotFound) {
		t.Fatalf("expected other organization to miss, got %v", err)
	}
}

func TestService_CreateTag_Duplicate(t *testing.T) {
	env := newTestEnv()
	env.svc.CreateTag(context.Background(), env.org, &Tag{Name: "VIP"})
	if err := env.svc.CreateTag(context.Background(), env.org, &Tag{Name: "vip"}); !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}
