package consent

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"html/template"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clinicdesk/clinicdesk/internal/domain/crm"
	"github.com/clinicdesk/clinicdesk/internal/domain/identity"
	"github.com/clinicdesk/clinicdesk/internal/platform/apperr"
	"github.com/clinicdesk/clinicdesk/internal/platform/blobstore"
	"github.com/clinicdesk/clinicdesk/internal/platform/db"
	"github.com/clinicdesk/clinicdesk/internal/platform/events"
	"github.com/clinicdesk/clinicdesk/internal/platform/notification"
)

var (
	ErrFormNotFound    = apperr.New(apperr.ErrNotFound, "consent form not found")
	ErrTokenNotFound   = apperr.New(apperr.ErrNotFound, "consent link not found")
	ErrConsentNotFound = apperr.New(apperr.ErrNotFound, "consent not found")

	ErrFormInactive   = apperr.New(apperr.ErrConflict, "consent form is inactive")
	ErrAlreadyRevoked = apperr.New(apperr.ErrConflict, "consent is already revoked")
	ErrNoEmail        = apperr.New(apperr.ErrConflict, "client has no email address")

	ErrLinkInvalid = apperr.New(apperr.ErrForbidden, "invalid consent link")
	ErrLinkExpired = apperr.New(apperr.ErrGone, "consent link has expired")
	ErrLinkUsed    = apperr.New(apperr.ErrGone, "consent link has already been used")
)

type Organizations interface {
	GetOrganization(ctx context.Context, id uuid.UUID) (*identity.Organization, error)
}

type Clients interface {
	GetClient(ctx context.Context, orgID, id uuid.UUID) (*crm.Client, error)
}

type Repositories struct {
	Forms    FormRepository
	Tokens   TokenRepository
	Consents ConsentRepository
}

type Config struct {
	// PublicBaseURL prefixes links sent to clients.
	PublicBaseURL string
	TokenTTL      time.Duration
}

type Service struct {
	forms    FormRepository
	tokens   TokenRepository
	consents ConsentRepository

	tx      db.TxRunner
	orgs    Organizations
	clients Clients
	links   *LinkSigner
	blobs   blobstore.Store
	mailer  *notification.Mailer
	events  events.Publisher
	logger  zerolog.Logger
	cfg     Config
	now     func() time.Time
}

func NewService(repos Repositories, tx db.TxRunner, orgs Organizations, clients Clients, links *LinkSigner, blobs blobstore.Store, mailer *notification.Mailer, pub events.Publisher, cfg Config, logger zerolog.Logger) *Service {
	s := &Service{
		forms:    repos.Forms,
		tokens:   repos.Tokens,
		consents: repos.Consents,
		tx:       tx,
		orgs:     orgs,
		clients:  clients,
		links:    links,
		blobs:    blobs,
		mailer:   mailer,
		events:   pub,
		logger:   logger,
		cfg:      cfg,
	}
	s.setClock(time.Now)
	return s
}

// setClock keeps link verification and row checks on the same clock.
func (s *Service) setClock(now func() time.Time) {
	s.now = now
	s.links.now = now
}

// -- Forms --

func (s *Service) CreateForm(ctx context.Context, orgID uuid.UUID, in FormInput) (*Form, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	f := &Form{OrganizationID: orgID, Title: strings.TrimSpace(in.Title), Body: in.Body, Version: 1, Active: true}
	if err := s.forms.Create(ctx, f); err != nil {
		return nil, err
	}
	return f, nil
}

func (s *Service) GetForm(ctx context.Context, orgID, id uuid.UUID) (*Form, error) {
	return s.forms.GetByID(ctx, orgID, id)
}

func (s *Service) ListForms(ctx context.Context, orgID uuid.UUID, activeOnly bool) ([]*Form, error) {
	return s.forms.List(ctx, orgID, activeOnly)
}

// UpdateForm bumps the version when the wording changes. Signed consents keep
// the version and snapshot they were signed with.
func (s *Service) UpdateForm(ctx context.Context, orgID, id uuid.UUID, in FormInput) (*Form, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	f, err := s.forms.GetByID(ctx, orgID, id)
	if err != nil {
		return nil, err
	}
	title := strings.TrimSpace(in.Title)
	if f.Title != title || f.Body != in.Body {
		f.Version++
	}
	f.Title, f.Body = title, in.Body
	if err := s.forms.Update(ctx, f); err != nil {
		return nil, err
	}
	return f, nil
}

func (s *Service) SetFormActive(ctx context.Context, orgID, id uuid.UUID, active bool) (*Form, error) {
	f, err := s.forms.GetByID(ctx, orgID, id)
	if err != nil {
		return nil, err
	}
	f.Active = active
	if err := s.forms.Update(ctx, f); err != nil {
		return nil, err
	}
	return f, nil
}

// -- Links --

// IssueToken creates a one-time signing link for a client. A non-positive
// ttl uses the configured default.
func (s *Service) IssueToken(ctx context.Context, orgID, formID, clientID uuid.UUID, ttl time.Duration) (*Link, error) {
	f, err := s.forms.GetByID(ctx, orgID, formID)
	if err != nil {
		return nil, err
	}
	if !f.Active {
		return nil, ErrFormInactive
	}
	if _, err := s.clients.GetClient(ctx, orgID, clientID); err != nil {
		return nil, err
	}
	if ttl <= 0 {
		ttl = s.cfg.TokenTTL
	}

	// link tokens carry whole seconds
	now := s.now().UTC().Truncate(time.Second)
	t := &Token{
		ID:             uuid.New(),
		OrganizationID: orgID,
		FormID:         formID,
		ClientID:       clientID,
		ExpiresAt:      now.Add(ttl).Truncate(time.Second),
		CreatedAt:      now,
	}
	signed, err := s.links.Sign(t)
	if err != nil {
		return nil, err
	}
	if err := s.tokens.Create(ctx, t); err != nil {
		return nil, err
	}
	return &Link{
		TokenID:   t.ID,
		URL:       strings.TrimRight(s.cfg.PublicBaseURL, "/") + "/consent/" + signed,
		ExpiresAt: t.ExpiresAt,
	}, nil
}

// SendLink issues a link and emails it to the client.
func (s *Service) SendLink(ctx context.Context, orgID, formID, clientID uuid.UUID) (*Link, error) {
	client, err := s.clients.GetClient(ctx, orgID, clientID)
	if err != nil {
		return nil, err
	}
	if client.Email == "" {
		return nil, ErrNoEmail
	}
	org, err := s.orgs.GetOrganization(ctx, orgID)
	if err != nil {
		return nil, err
	}
	f, err := s.forms.GetByID(ctx, orgID, formID)
	if err != nil {
		return nil, err
	}
	link, err := s.IssueToken(ctx, orgID, formID, clientID, 0)
	if err != nil {
		return nil, err
	}
	err = s.mailer.Send(ctx, notification.TemplateConsentRequest, client.Email, map[string]string{
		"client_name": client.FullName(),
		"form_title":  f.Title,
		"link":        link.URL,
		"expires":     link.ExpiresAt.In(org.Location()).Format("02/01/2006 15:04"),
		"clinic":      org.Name,
	})
	if err != nil {
		return nil, err
	}
	return link, nil
}

// resolve verifies a link token and loads its row. The returned context is
// scoped to the link's organization.
func (s *Service) resolve(ctx context.Context, raw string) (context.Context, *Token, error) {
	orgID, tokenID, err := s.links.Parse(raw)
	if err != nil {
		return ctx, nil, err
	}
	ctx = db.WithOrganization(ctx, orgID)
	t, err := s.tokens.GetByID(ctx, orgID, tokenID)
	if err != nil {
		if errors.Is(err, ErrTokenNotFound) {
			return ctx, nil, ErrLinkInvalid
		}
		return ctx, nil, err
	}
	return ctx, t, checkUsable(t, s.now())
}

func checkUsable(t *Token, now time.Time) error {
	if t.UsedAt != nil {
		return ErrLinkUsed
	}
	if t.Expired(now) {
		return ErrLinkExpired
	}
	return nil
}

func (s *Service) document(ctx context.Context, t *Token) (*Form, *identity.Organization, *crm.Client, string, error) {
	f, err := s.forms.GetByID(ctx, t.OrganizationID, t.FormID)
	if err != nil {
		return nil, nil, nil, "", err
	}
	org, err := s.orgs.GetOrganization(ctx, t.OrganizationID)
	if err != nil {
		return nil, nil, nil, "", err
	}
	client, err := s.clients.GetClient(ctx, t.OrganizationID, t.ClientID)
	if err != nil {
		return nil, nil, nil, "", err
	}
	html, err := f.Render(RenderData{
		ClientName:  client.FullName(),
		ClientTaxID: client.TaxID,
		ClinicName:  org.Name,
		ClinicTaxID: org.TaxID,
		Date:        s.now().In(org.Location()).Format("02/01/2006"),
	})
	if err != nil {
		return nil, nil, nil, "", err
	}
	return f, org, client, html, nil
}

// Open returns the form behind a link for the client to read.
func (s *Service) Open(ctx context.Context, raw string) (*OpenedForm, error) {
	ctx, t, err := s.resolve(ctx, raw)
	if err != nil {
		return nil, err
	}
	f, org, client, html, err := s.document(ctx, t)
	if err != nil {
		return nil, err
	}
	return &OpenedForm{
		Title:      f.Title,
		HTML:       html,
		ClinicName: org.Name,
		ClientName: client.FullName(),
		ExpiresAt:  t.ExpiresAt,
	}, nil
}

var signatureBlock = template.Must(template.New("signature").Parse(
	`<hr><p>Firmado por {{.Name}} el {{.At}}</p><img alt="firma" src="{{.Image}}">`))

// Sign records a client's signature. The token row is locked for the whole
// transaction, so a link signs at most once.
func (s *Service) Sign(ctx context.Context, raw string, in SignatureInput, meta RequestMeta) (*PatientConsent, error) {
	png, err := in.Validate()
	if err != nil {
		return nil, err
	}
	ctx, t, err := s.resolve(ctx, raw)
	if err != nil {
		return nil, err
	}
	f, org, _, html, err := s.document(ctx, t)
	if err != nil {
		return nil, err
	}

	var pc *PatientConsent
	var uploaded string
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		locked, err := s.tokens.GetForUpdate(ctx, t.OrganizationID, t.ID)
		if err != nil {
			return err
		}
		now := s.now()
		if err := checkUsable(locked, now); err != nil {
			return err
		}

		obj, err := s.blobs.Put(ctx, blobstore.Key(t.OrganizationID, "signatures", ".png"), "image/png", bytes.NewReader(png))
		if err != nil {
			return err
		}
		uploaded = obj.Key

		var snapshot bytes.Buffer
		snapshot.WriteString(html)
		if err := signatureBlock.Execute(&snapshot, map[string]interface{}{
			"Name":  strings.TrimSpace(in.SignerName),
			"At":    now.In(org.Location()).Format("02/01/2006 15:04"),
			"Image": template.URL(in.Image),
		}); err != nil {
			return fmt.Errorf("render signature block: %w", err)
		}

		sum := sha256.New()
		sum.Write(snapshot.Bytes())
		sum.Write(png)

		pc = &PatientConsent{
			OrganizationID: t.OrganizationID,
			ClientID:       t.ClientID,
			FormID:         f.ID,
			FormVersion:    f.Version,
			TokenID:        t.ID,
			RenderedHTML:   snapshot.String(),
			SignatureImage: in.Image,
			SignatureKey:   obj.Key,
			ContentHash:    hex.EncodeToString(sum.Sum(nil)),
			SignerName:     strings.TrimSpace(in.SignerName),
			SignerIP:       meta.IP,
			UserAgent:      meta.UserAgent,
			SignedAt:       now,
			Valid:          true,
		}
		if err := s.consents.Create(ctx, pc); err != nil {
			return err
		}
		return s.tokens.MarkUsed(ctx, t.OrganizationID, t.ID, now)
	})
	if err != nil {
		if uploaded != "" {
			if derr := s.blobs.Delete(ctx, uploaded); derr != nil {
				s.logger.Warn().Err(derr).Str("key", uploaded).Msg("failed to remove orphaned signature")
			}
		}
		return nil, err
	}

	events.Emit(ctx, s.events, s.logger, events.New(events.ConsentSigned, pc.OrganizationID, map[string]interface{}{
		"consent_id": pc.ID, "client_id": pc.ClientID, "form_id": pc.FormID, "form_version": pc.FormVersion,
	}))
	return pc, nil
}

// -- Consents --

func (s *Service) GetConsent(ctx context.Context, orgID, id uuid.UUID) (*PatientConsent, error) {
	return s.consents.GetByID(ctx, orgID, id)
}

func (s *Service) ListClientConsents(ctx context.Context, orgID, clientID uuid.UUID) ([]*PatientConsent, error) {
	return s.consents.ListByClient(ctx, orgID, clientID)
}

func (s *Service) Revoke(ctx context.Context, orgID, id uuid.UUID) (*PatientConsent, error) {
	pc, err := s.consents.GetByID(ctx, orgID, id)
	if err != nil {
		return nil, err
	}
	if !pc.Valid {
		return nil, ErrAlreadyRevoked
	}
	now := s.now()
	if err := s.consents.Revoke(ctx, orgID, id, now); err != nil {
		return nil, err
	}
	pc.Valid = false
	pc.RevokedAt = &now
	return pc, nil
}

// CleanupExpiredTokens deletes unused links that expired before now.
func (s *Service) CleanupExpiredTokens(ctx context.Context) (int64, error) {
	ctx = db.WithSystemScope(ctx)
	n, err := s.tokens.DeleteExpired(ctx, s.now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Info().Int64("deleted", n).Msg("expired consent links removed")
	}
	return n, nil
}
