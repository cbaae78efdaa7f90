package subscription

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clinicdesk/clinicdesk/internal/domain/identity"
	"github.com/clinicdesk/clinicdesk/internal/platform/apperr"
	"github.com/clinicdesk/clinicdesk/internal/platform/db"
	"github.com/clinicdesk/clinicdesk/internal/platform/events"
)

var (
	ErrAccountNotFound     = apperr.New(apperr.ErrNotFound, "billing account not found")
	ErrNoCustomer          = apperr.New(apperr.ErrConflict, "organization has no billing customer")
	ErrNoSubscription      = apperr.New(apperr.ErrConflict, "organization has no subscription")
	ErrAlreadySubscribed   = apperr.New(apperr.ErrConflict, "organization already has a live subscription")
	ErrCustomerInUse       = apperr.New(apperr.ErrConflict, "billing customer belongs to another organization")
	ErrInvalidSignature    = apperr.New(apperr.ErrValidation, "invalid webhook signature")
	ErrProviderUnavailable = apperr.New(apperr.ErrUnavailable, "payment provider unavailable")
	ErrBillingDisabled     = apperr.New(apperr.ErrUnavailable, "subscription billing is not configured")
)

type Organizations interface {
	GetOrganization(ctx context.Context, id uuid.UUID) (*identity.Organization, error)
}

type Service struct {
	repo         Repository
	gateway      Gateway
	orgs         Organizations
	events       events.Publisher
	defaultPrice string
	logger       zerolog.Logger
	now          func() time.Time
}

// NewService wires the subscription service. A nil gateway leaves billing
// disabled; reads still work and every provider call fails with
// ErrBillingDisabled.
func NewService(repo Repository, gateway Gateway, orgs Organizations, pub events.Publisher, defaultPrice string, logger zerolog.Logger) *Service {
	return &Service{
		repo:         repo,
		gateway:      gateway,
		orgs:         orgs,
		events:       pub,
		defaultPrice: defaultPrice,
		logger:       logger,
		now:          time.Now,
	}
}

// Get returns the organization's account, a fresh "none" account if it never
// subscribed.
func (s *Service) Get(ctx context.Context, orgID uuid.UUID) (*BillingAccount, error) {
	acct, err := s.repo.Get(ctx, orgID)
	if errors.Is(err, ErrAccountNotFound) {
		return &BillingAccount{OrganizationID: orgID, Status: StatusNone}, nil
	}
	return acct, err
}

func (s *Service) location(ctx context.Context, orgID uuid.UUID) (*time.Location, error) {
	org, err := s.orgs.GetOrganization(ctx, orgID)
	if err != nil {
		return nil, err
	}
	return org.Location(), nil
}

// Subscribe creates the customer (once), attaches the card and starts the
// subscription. The customer id is stored before anything else so a failure
// later on can be recovered by the sync job.
func (s *Service) Subscribe(ctx context.Context, orgID uuid.UUID, in SubscribeInput) (*BillingAccount, error) {
	if s.gateway == nil {
		return nil, ErrBillingDisabled
	}
	if err := in.normalize(s.defaultPrice); err != nil {
		return nil, err
	}
	loc, err := s.location(ctx, orgID)
	if err != nil {
		return nil, err
	}
	acct, err := s.Get(ctx, orgID)
	if err != nil {
		return nil, err
	}
	if acct.Live() {
		return nil, ErrAlreadySubscribed
	}
	req := requestKey(ctx)

	if acct.StripeCustomerID == "" {
		cus, err := s.gateway.CreateCustomer(ctx, orgID, in.Email, idempotencyKey(orgID, customerRequest, "customer", in.Email))
		if err != nil {
			return nil, err
		}
		acct.StripeCustomerID = cus
		if err := s.repo.Save(ctx, acct); err != nil {
			return nil, err
		}
	}

	card, err := s.gateway.AttachPaymentMethod(ctx, acct.StripeCustomerID, in.PaymentMethodID,
		idempotencyKey(orgID, req, "attach", in.PaymentMethodID))
	if err != nil {
		return nil, err
	}
	if err := s.gateway.SetDefaultPaymentMethod(ctx, acct.StripeCustomerID, in.PaymentMethodID,
		idempotencyKey(orgID, req, "default", in.PaymentMethodID)); err != nil {
		return nil, err
	}
	sub, err := s.gateway.CreateSubscription(ctx, acct.StripeCustomerID, in.PriceID, in.PaymentMethodID,
		idempotencyKey(orgID, req, "subscribe", in.PriceID+":"+in.PaymentMethodID))
	if err != nil {
		return nil, err
	}
	if sub.Card == nil {
		sub.Card = card
	}
	acct.apply(sub, loc, s.now())
	s.persist(ctx, acct, "subscribe")
	return acct, nil
}

// persist writes an account after the provider already accepted the change.
// The caller's request succeeded either way; a lost write is repaired by the
// next sync.
func (s *Service) persist(ctx context.Context, acct *BillingAccount, op string) {
	if err := s.repo.Save(ctx, acct); err != nil {
		s.logger.Error().Err(err).
			Str("organization_id", acct.OrganizationID.String()).
			Str("op", op).
			Msg("billing account write failed after provider call; left for subscription-sync")
		return
	}
	events.Emit(ctx, s.events, s.logger, events.New(events.SubscriptionSynced, acct.OrganizationID, map[string]interface{}{
		"status":               acct.Status,
		"cancel_at_period_end": acct.CancelAtPeriodEnd,
	}))
}

// Sync pulls the subscription from the provider and rewrites the local
// mirror. An account that only has a customer picks up the customer's latest
// subscription.
func (s *Service) Sync(ctx context.Context, orgID uuid.UUID) (*BillingAccount, error) {
	if s.gateway == nil {
		return nil, ErrBillingDisabled
	}
	acct, err := s.Get(ctx, orgID)
	if err != nil {
		return nil, err
	}
	if acct.StripeCustomerID == "" {
		return nil, ErrNoCustomer
	}
	loc, err := s.location(ctx, orgID)
	if err != nil {
		return nil, err
	}

	var sub *RemoteSubscription
	if acct.StripeSubscriptionID != "" {
		sub, err = s.gateway.GetSubscription(ctx, acct.StripeSubscriptionID)
	} else {
		sub, err = s.gateway.FindSubscription(ctx, acct.StripeCustomerID)
	}
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return acct, nil
	}
	acct.apply(sub, loc, s.now())
	if err := s.repo.Save(ctx, acct); err != nil {
		return nil, err
	}
	events.Emit(ctx, s.events, s.logger, events.New(events.SubscriptionSynced, orgID, map[string]interface{}{
		"status":               acct.Status,
		"cancel_at_period_end": acct.CancelAtPeriodEnd,
	}))
	return acct, nil
}

// SyncAll re-syncs every account with a customer. It is the subscription-sync
// job; one failing account does not stop the rest.
func (s *Service) SyncAll(ctx context.Context) error {
	if s.gateway == nil {
		return nil
	}
	ctx = db.WithSystemScope(ctx)
	accts, err := s.repo.ListWithCustomer(ctx)
	if err != nil {
		return err
	}
	failed := 0
	for _, a := range accts {
		if _, err := s.Sync(db.WithOrganization(ctx, a.OrganizationID), a.OrganizationID); err != nil {
			failed++
			s.logger.Warn().Err(err).Str("organization_id", a.OrganizationID.String()).Msg("subscription sync failed")
		}
	}
	if failed > 0 {
		return fmt.Errorf("subscription sync: %d of %d accounts failed", failed, len(accts))
	}
	return nil
}

// UpdatePaymentMethod attaches a new card and makes it the default for both
// the customer and the live subscription.
func (s *Service) UpdatePaymentMethod(ctx context.Context, orgID uuid.UUID, paymentMethodID string) (*BillingAccount, error) {
	if s.gateway == nil {
		return nil, ErrBillingDisabled
	}
	paymentMethodID = strings.TrimSpace(paymentMethodID)
	if !strings.HasPrefix(paymentMethodID, "pm_") {
		return nil, apperr.Invalid("payment_method_id", "must be a payment method id")
	}
	acct, err := s.Get(ctx, orgID)
	if err != nil {
		return nil, err
	}
	if acct.StripeCustomerID == "" {
		return nil, ErrNoCustomer
	}
	req := requestKey(ctx)

	card, err := s.gateway.AttachPaymentMethod(ctx, acct.StripeCustomerID, paymentMethodID,
		idempotencyKey(orgID, req, "attach", paymentMethodID))
	if err != nil {
		return nil, err
	}
	if err := s.gateway.SetDefaultPaymentMethod(ctx, acct.StripeCustomerID, paymentMethodID,
		idempotencyKey(orgID, req, "default", paymentMethodID)); err != nil {
		return nil, err
	}
	if acct.StripeSubscriptionID != "" {
		if err := s.gateway.UpdateSubscriptionPaymentMethod(ctx, acct.StripeSubscriptionID, paymentMethodID,
			idempotencyKey(orgID, req, "subscription-default", paymentMethodID)); err != nil {
			return nil, err
		}
	}
	if card != nil {
		acct.setCard(card)
	}
	s.persist(ctx, acct, "update-payment-method")
	return acct, nil
}

// Cancel ends the subscription now or at the end of the paid period.
func (s *Service) Cancel(ctx context.Context, orgID uuid.UUID, atPeriodEnd bool) (*BillingAccount, error) {
	if s.gateway == nil {
		return nil, ErrBillingDisabled
	}
	acct, err := s.Get(ctx, orgID)
	if err != nil {
		return nil, err
	}
	if acct.StripeSubscriptionID == "" || acct.Status == StatusCanceled {
		return nil, ErrNoSubscription
	}
	loc, err := s.location(ctx, orgID)
	if err != nil {
		return nil, err
	}
	mode := "now"
	if atPeriodEnd {
		mode = "period-end"
	}
	sub, err := s.gateway.CancelSubscription(ctx, acct.StripeSubscriptionID, atPeriodEnd,
		idempotencyKey(orgID, requestKey(ctx), "cancel", acct.StripeSubscriptionID+":"+mode))
	if err != nil {
		return nil, err
	}
	acct.apply(sub, loc, s.now())
	s.persist(ctx, acct, "cancel")
	return acct, nil
}

// HandleWebhook verifies a provider notification and re-syncs the
// organization that owns the customer. Events for unknown customers and
// unrelated event types are acknowledged and ignored.
func (s *Service) HandleWebhook(ctx context.Context, payload []byte, signature string) error {
	if s.gateway == nil {
		return ErrBillingDisabled
	}
	evt, err := s.gateway.ParseWebhook(payload, signature)
	if err != nil {
		return err
	}
	log := s.logger.With().Str("event_id", evt.ID).Str("event_type", evt.Type).Logger()

	if !resyncs(evt.Type) || evt.CustomerID == "" {
		log.Debug().Msg("stripe event ignored")
		return nil
	}
	// the customer id is the only link back to the organization
	ctx = db.WithSystemScope(ctx)
	acct, err := s.repo.GetByCustomer(ctx, evt.CustomerID)
	if errors.Is(err, ErrAccountNotFound) {
		log.Warn().Str("customer", evt.CustomerID).Msg("stripe event for unknown customer")
		return nil
	}
	if err != nil {
		return err
	}
	if acct.StripeSubscriptionID == "" && evt.SubscriptionID != "" {
		// the subscribe call may have lost its local write
		acct.StripeSubscriptionID = evt.SubscriptionID
		if err := s.repo.Save(ctx, acct); err != nil {
			return err
		}
	}
	if _, err := s.Sync(db.WithOrganization(ctx, acct.OrganizationID), acct.OrganizationID); err != nil {
		return err
	}
	log.Info().Str("organization_id", acct.OrganizationID.String()).Msg("subscription re-synced from webhook")
	return nil
}

func resyncs(eventType string) bool {
	if strings.HasPrefix(eventType, "customer.subscription.") {
		return true
	}
	switch eventType {
	case "invoice.paid", "invoice.payment_succeeded", "invoice.payment_failed":
		return true
	}
	return false
}
