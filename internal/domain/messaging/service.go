package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/clinicdesk/clinicdesk/internal/domain/crm"
	"github.com/clinicdesk/clinicdesk/internal/domain/identity"
	"github.com/clinicdesk/clinicdesk/internal/platform/apperr"
	"github.com/clinicdesk/clinicdesk/internal/platform/db"
	"github.com/clinicdesk/clinicdesk/internal/platform/events"
	"github.com/clinicdesk/clinicdesk/internal/platform/websocket"
	"github.com/clinicdesk/clinicdesk/pkg/phone"
)

var (
	ErrNotConnected     = apperr.New(apperr.ErrNotFound, "whatsapp is not connected")
	ErrNotActive        = apperr.New(apperr.ErrConflict, "whatsapp setup has not completed")
	ErrAlreadyConnected = apperr.New(apperr.ErrConflict, "organization already has a whatsapp number")
	ErrPhoneInUse       = apperr.New(apperr.ErrConflict, "phone number is connected to another organization")
	ErrDuplicateMessage = apperr.New(apperr.ErrConflict, "message already stored")
	ErrVerifyFailed     = apperr.New(apperr.ErrForbidden, "webhook verification failed")
	ErrUnknownTemplate  = apperr.New(apperr.ErrValidation, "unknown template")
)

// LiveEventType is pushed to dashboards for each stored inbound message.
const LiveEventType = "whatsapp.message"

type Organizations interface {
	GetOrganization(ctx context.Context, id uuid.UUID) (*identity.Organization, error)
}

type Clients interface {
	GetClient(ctx context.Context, orgID, id uuid.UUID) (*crm.Client, error)
	FindByPhone(ctx context.Context, orgID uuid.UUID, raw string) (*crm.Client, error)
}

// Broadcaster pushes live events to connected dashboards.
type Broadcaster interface {
	Publish(ctx context.Context, event websocket.Event) error
}

type Config struct {
	// PublicBaseURL is where the Cloud API reaches the webhook.
	PublicBaseURL string
	// VerifyToken, when set, is accepted for webhook verification in addition
	// to the per-project tokens.
	VerifyToken string
}

type Service struct {
	projects ProjectRepository
	messages MessageRepository
	provider Provider
	orgs     Organizations
	clients  Clients
	live     Broadcaster
	events   events.Publisher
	cfg      Config
	logger   zerolog.Logger
	setups   singleflight.Group
}

func NewService(projects ProjectRepository, messages MessageRepository, provider Provider, orgs Organizations, clients Clients, live Broadcaster, pub events.Publisher, cfg Config, logger zerolog.Logger) *Service {
	return &Service{
		projects: projects,
		messages: messages,
		provider: provider,
		orgs:     orgs,
		clients:  clients,
		live:     live,
		events:   pub,
		cfg:      cfg,
		logger:   logger,
	}
}

func (s *Service) webhookURL() string {
	return strings.TrimRight(s.cfg.PublicBaseURL, "/") + "/webhooks/whatsapp"
}

// -- Project --

func (s *Service) GetProject(ctx context.Context, orgID uuid.UUID) (*WabaProject, error) {
	return s.projects.GetByOrganization(ctx, orgID)
}

// Connect stores the number's credentials. Reconnecting a different number
// or business account restarts setup from the first step.
func (s *Service) Connect(ctx context.Context, orgID uuid.UUID, in ConnectInput) (*WabaProject, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	p, err := s.projects.GetByOrganization(ctx, orgID)
	if errors.Is(err, ErrNotConnected) {
		p = &WabaProject{
			PhoneNumberID:     in.PhoneNumberID,
			BusinessAccountID: in.BusinessAccountID,
			AccessToken:       in.AccessToken,
			DisplayPhone:      in.DisplayPhone,
			WebhookURL:        s.webhookURL(),
			VerifyToken:       strings.ReplaceAll(uuid.NewString(), "-", ""),
			Status:            StatusPending,
			CompletedSteps:    []string{},
		}
		if err := s.projects.Connect(ctx, orgID, p); err != nil {
			return nil, err
		}
		return p, nil
	}
	if err != nil {
		return nil, err
	}

	if p.PhoneNumberID != in.PhoneNumberID || p.BusinessAccountID != in.BusinessAccountID {
		p.CompletedSteps = []string{}
		p.Status = StatusPending
	}
	p.PhoneNumberID = in.PhoneNumberID
	p.BusinessAccountID = in.BusinessAccountID
	p.AccessToken = in.AccessToken
	p.DisplayPhone = in.DisplayPhone
	p.WebhookURL = s.webhookURL()
	p.LastError = ""
	if err := s.projects.Update(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// setupTimeout bounds one shared setup run.
const setupTimeout = 2 * time.Minute

// Setup registers the webhook and the message templates. Each step is
// persisted as it completes, so a run after a failure resumes where the
// last one stopped. Concurrent calls for one organization share a run; the
// run is not tied to any caller's request, and each caller stops waiting
// when its own context ends.
func (s *Service) Setup(ctx context.Context, orgID uuid.UUID) (*WabaProject, error) {
	ch := s.setups.DoChan(orgID.String(), func() (interface{}, error) {
		runCtx, cancel := context.WithTimeout(context.WithoutCancel(db.Detached(ctx)), setupTimeout)
		defer cancel()
		return s.runSetup(runCtx, orgID)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*WabaProject), nil
	}
}

func (s *Service) runSetup(ctx context.Context, orgID uuid.UUID) (*WabaProject, error) {
	p, err := s.projects.GetByOrganization(ctx, orgID)
	if err != nil {
		return nil, err
	}
	log := s.logger.With().Str("organization_id", orgID.String()).Str("phone_number_id", p.PhoneNumberID).Logger()

	p.Status = StatusConfiguring
	p.LastError = ""
	if err := s.projects.Update(ctx, p); err != nil {
		return nil, err
	}

	for _, step := range SetupSteps() {
		if p.Done(step) {
			continue
		}
		if err := s.runStep(ctx, p, step); err != nil {
			p.Status = StatusFailed
			p.LastError = fmt.Sprintf("%s: %v", step, err)
			if uerr := s.projects.Update(ctx, p); uerr != nil {
				log.Error().Err(uerr).Msg("record setup failure")
			}
			log.Warn().Err(err).Str("step", step).Msg("whatsapp setup step failed")
			return nil, fmt.Errorf("setup step %s: %w", step, err)
		}
		p.complete(step)
		if err := s.projects.Update(ctx, p); err != nil {
			return nil, err
		}
		log.Info().Str("step", step).Msg("whatsapp setup step completed")
	}

	p.Status = StatusActive
	if err := s.projects.Update(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *Service) runStep(ctx context.Context, p *WabaProject, step string) error {
	if step == StepWebhook {
		return s.provider.SubscribeApp(ctx, p, p.WebhookURL, p.VerifyToken)
	}
	t, ok := TemplateByName(strings.TrimPrefix(step, stepTemplate))
	if !ok {
		return ErrUnknownTemplate
	}
	return s.provider.CreateTemplate(ctx, p, t)
}

// HasActiveChannel reports whether the organization can send WhatsApp
// messages.
func (s *Service) HasActiveChannel(ctx context.Context, orgID uuid.UUID) (bool, error) {
	p, err := s.projects.GetByOrganization(ctx, orgID)
	if errors.Is(err, ErrNotConnected) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return p.Status == StatusActive, nil
}

func (s *Service) activeProject(ctx context.Context, orgID uuid.UUID) (*WabaProject, error) {
	p, err := s.projects.GetByOrganization(ctx, orgID)
	if err != nil {
		return nil, err
	}
	if p.Status != StatusActive {
		return nil, ErrNotActive
	}
	return p, nil
}

// UpdateProfile sets the business profile of the connected number.
func (s *Service) UpdateProfile(ctx context.Context, orgID uuid.UUID, profile Profile) error {
	if err := profile.Validate(); err != nil {
		return err
	}
	p, err := s.projects.GetByOrganization(ctx, orgID)
	if err != nil {
		return err
	}
	return s.provider.UpdateProfile(ctx, p, profile)
}

// -- Outbound --

func (s *Service) recipient(ctx context.Context, orgID uuid.UUID, raw string) (string, error) {
	org, err := s.orgs.GetOrganization(ctx, orgID)
	if err != nil {
		return "", err
	}
	e164, err := phone.Normalize(raw, org.Region)
	if err != nil {
		return "", apperr.Invalid("to", "is not a valid phone number")
	}
	return e164, nil
}

func (s *Service) matchClient(ctx context.Context, orgID uuid.UUID, e164 string) *uuid.UUID {
	c, err := s.clients.FindByPhone(ctx, orgID, e164)
	if err != nil {
		if !errors.Is(err, crm.ErrClientNotFound) {
			s.logger.Warn().Err(err).Msg("match message to client")
		}
		return nil
	}
	return &c.ID
}

// record stores an outbound message the provider already accepted. A failed
// write is logged; the message was sent regardless.
func (s *Service) record(ctx context.Context, m *Message) {
	m.ClientID = s.matchClient(ctx, m.OrganizationID, m.Phone)
	if err := s.messages.Create(ctx, m); err != nil {
		s.logger.Error().Err(err).Str("wa_message_id", m.WAMessageID).Msg("store outbound message")
	}
}

// maxTextChars is the Cloud API limit for a text body, counted in characters.
const maxTextChars = 4096

// SendText sends a free-form message. The Cloud API only delivers these
// inside the 24h customer service window.
func (s *Service) SendText(ctx context.Context, orgID uuid.UUID, to, body string) (*Message, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, apperr.Invalid("body", "is required")
	}
	if utf8.RuneCountInString(body) > maxTextChars {
		return nil, apperr.Invalid("body", fmt.Sprintf("must be at most %d characters", maxTextChars))
	}
	p, err := s.activeProject(ctx, orgID)
	if err != nil {
		return nil, err
	}
	e164, err := s.recipient(ctx, orgID, to)
	if err != nil {
		return nil, err
	}
	wamid, err := s.provider.SendText(ctx, p, phone.Digits(e164), body)
	if err != nil {
		return nil, err
	}
	m := &Message{
		OrganizationID: orgID, Direction: DirectionOutbound, WAMessageID: wamid,
		Phone: e164, Kind: KindText, Body: body, Status: "sent",
	}
	s.record(ctx, m)
	return m, nil
}

// SendTemplate sends one of the built-in templates with positional params.
func (s *Service) SendTemplate(ctx context.Context, orgID uuid.UUID, to, name string, params []string) (*Message, error) {
	t, ok := TemplateByName(name)
	if !ok {
		return nil, ErrUnknownTemplate
	}
	if len(params) != t.Params() {
		return nil, apperr.Invalid("params", fmt.Sprintf("template %s takes %d parameters", t.Name, t.Params()))
	}
	p, err := s.activeProject(ctx, orgID)
	if err != nil {
		return nil, err
	}
	e164, err := s.recipient(ctx, orgID, to)
	if err != nil {
		return nil, err
	}
	wamid, err := s.provider.SendTemplate(ctx, p, phone.Digits(e164), t, params)
	if err != nil {
		return nil, err
	}
	m := &Message{
		OrganizationID: orgID, Direction: DirectionOutbound, WAMessageID: wamid,
		Phone: e164, Kind: KindTemplate, Body: renderTemplate(t, params), TemplateName: t.Name, Status: "sent",
	}
	s.record(ctx, m)
	return m, nil
}

// SendTemplateMessage is SendTemplate for the appointment reminder job.
func (s *Service) SendTemplateMessage(ctx context.Context, orgID uuid.UUID, to, template string, params []string) error {
	_, err := s.SendTemplate(ctx, orgID, to, template, params)
	return err
}

func renderTemplate(t Template, params []string) string {
	return placeholder.ReplaceAllStringFunc(t.Body, func(m string) string {
		i, _ := strconv.Atoi(m[2 : len(m)-2])
		if i >= 1 && i <= len(params) {
			return params[i-1]
		}
		return m
	})
}

// Conversations returns the client's message history, newest first.
func (s *Service) Conversations(ctx context.Context, orgID, clientID uuid.UUID, limit, offset int) ([]*Message, int, error) {
	if _, err := s.clients.GetClient(ctx, orgID, clientID); err != nil {
		return nil, 0, err
	}
	return s.messages.ListByClient(ctx, orgID, clientID, limit, offset)
}

// -- Inbound --

// VerifyWebhook answers the Cloud API subscription handshake.
func (s *Service) VerifyWebhook(ctx context.Context, mode, token, challenge string) (string, error) {
	if mode != "subscribe" || token == "" || challenge == "" {
		return "", ErrVerifyFailed
	}
	if s.cfg.VerifyToken != "" && token == s.cfg.VerifyToken {
		return challenge, nil
	}
	ok, err := s.projects.VerifyTokenExists(db.WithSystemScope(ctx), token)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", ErrVerifyFailed
	}
	return challenge, nil
}

type webhookPayload struct {
	Object string `json:"object"`
	Entry  []struct {
		ID      string `json:"id"`
		Changes []struct {
			Field string       `json:"field"`
			Value webhookValue `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

type webhookValue struct {
	Metadata struct {
		PhoneNumberID string `json:"phone_number_id"`
	} `json:"metadata"`
	Messages []inboundMessage `json:"messages"`
	Statuses []struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	} `json:"statuses"`
}

type inboundMessage struct {
	From      string `json:"from"`
	ID        string `json:"id"`
	Timestamp string `json:"timestamp"`
	Type      string `json:"type"`
	Text      *struct {
		Body string `json:"body"`
	} `json:"text"`
	Button *struct {
		Text string `json:"text"`
	} `json:"button"`
}

func (m inboundMessage) body() string {
	switch {
	case m.Text != nil:
		return m.Text.Body
	case m.Button != nil:
		return m.Button.Text
	}
	return "[" + m.Type + "]"
}

// HandleInbound processes a verified webhook body: stores each message
// against the client with that phone and pushes it to the organization's
// dashboards, and applies delivery status updates. Redelivered messages are
// skipped.
func (s *Service) HandleInbound(ctx context.Context, raw []byte) error {
	// statuses and numbers arrive before the organization is known
	ctx = db.WithSystemScope(ctx)
	var payload webhookPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return apperr.Invalid("body", "malformed webhook payload")
	}
	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			if change.Field != "messages" {
				continue
			}
			if err := s.handleChange(ctx, change.Value); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Service) handleChange(ctx context.Context, v webhookValue) error {
	for _, st := range v.Statuses {
		if err := s.messages.UpdateStatus(ctx, st.ID, st.Status); err != nil {
			return err
		}
	}
	if len(v.Messages) == 0 {
		return nil
	}

	_, orgID, err := s.projects.GetByPhoneNumberID(ctx, v.Metadata.PhoneNumberID)
	if errors.Is(err, ErrNotConnected) {
		s.logger.Warn().Str("phone_number_id", v.Metadata.PhoneNumberID).Msg("whatsapp message for unknown number")
		return nil
	}
	if err != nil {
		return err
	}
	ctx = db.WithOrganization(ctx, orgID)

	for _, in := range v.Messages {
		m := &Message{
			OrganizationID: orgID,
			Direction:      DirectionInbound,
			WAMessageID:    in.ID,
			Phone:          phone.FromDigits(in.From),
			Kind:           in.Type,
			Body:           in.body(),
			Status:         "received",
		}
		m.ClientID = s.matchClient(ctx, orgID, m.Phone)
		err := s.messages.Create(ctx, m)
		if errors.Is(err, ErrDuplicateMessage) {
			continue
		}
		if err != nil {
			return err
		}
		if m.CreatedAt.IsZero() {
			m.CreatedAt = time.Now().UTC()
		}

		if s.live != nil {
			evt, err := websocket.NewEvent(orgID, LiveEventType, m)
			if err == nil {
				err = s.live.Publish(ctx, evt)
			}
			if err != nil {
				s.logger.Warn().Err(err).Msg("push whatsapp message to dashboards")
			}
		}
		events.Emit(ctx, s.events, s.logger, events.New(events.MessageReceived, orgID, map[string]interface{}{
			"message_id": m.ID,
			"client_id":  m.ClientID,
			"kind":       m.Kind,
		}))
	}
	return nil
}
