package subscription

import (
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/clinicdesk/clinicdesk/internal/platform/apperr"
)

// Account statuses mirror Stripe subscription statuses, plus none for an
// organization that never subscribed.
const (
	StatusNone       = "none"
	StatusIncomplete = "incomplete"
	StatusTrialing   = "trialing"
	StatusActive     = "active"
	StatusPastDue    = "past_due"
	StatusCanceled   = "canceled"
	StatusUnpaid     = "unpaid"
)

// BillingAccount is the local mirror of an organization's Stripe billing state.
type BillingAccount struct {
	OrganizationID       uuid.UUID  `json:"organization_id"`
	StripeCustomerID     string     `json:"stripe_customer_id"`
	StripeSubscriptionID string     `json:"stripe_subscription_id"`
	Status               string     `json:"status"`
	PlanInterval         string     `json:"plan_interval"`
	CurrentPeriodStart   *time.Time `json:"current_period_start,omitempty"`
	CurrentPeriodEnd     *time.Time `json:"current_period_end,omitempty"`
	PeriodLabel          string     `json:"period_label"`
	ExpiresLabel         string     `json:"expires_label"`
	CancelAtPeriodEnd    bool       `json:"cancel_at_period_end"`
	CardBrand            string     `json:"card_brand"`
	CardLast4            string     `json:"card_last4"`
	CardExpMonth         int        `json:"card_exp_month"`
	CardExpYear          int        `json:"card_exp_year"`
	SyncedAt             *time.Time `json:"synced_at,omitempty"`
}

// Live reports whether the subscription still grants access or is awaiting
// payment. A live subscription blocks a second Subscribe.
func (a *BillingAccount) Live() bool {
	switch a.Status {
	case StatusActive, StatusTrialing, StatusPastDue, StatusIncomplete:
		return a.StripeSubscriptionID != ""
	}
	return false
}

type Card struct {
	Brand    string
	Last4    string
	ExpMonth int
	ExpYear  int
}

// RemoteSubscription is the provider's view of a subscription.
type RemoteSubscription struct {
	ID                string
	CustomerID        string
	Status            string
	Interval          string
	PeriodStart       time.Time
	PeriodEnd         time.Time
	CancelAtPeriodEnd bool
	Card              *Card
}

// WebhookEvent is a verified provider notification.
type WebhookEvent struct {
	ID             string
	Type           string
	SubscriptionID string
	CustomerID     string
}

const labelDate = "02/01/2006"

// PeriodLabel renders a billing period as "01/06/2024 – 01/07/2024".
func PeriodLabel(start, end time.Time, loc *time.Location) string {
	return start.In(loc).Format(labelDate) + " – " + end.In(loc).Format(labelDate)
}

// ExpiresLabel renders "expires 01/07/2024".
func ExpiresLabel(end time.Time, loc *time.Location) string {
	return "expires " + end.In(loc).Format(labelDate)
}

// apply copies a remote subscription onto the account and derives the labels.
func (a *BillingAccount) apply(sub *RemoteSubscription, loc *time.Location, now time.Time) {
	a.StripeSubscriptionID = sub.ID
	if sub.CustomerID != "" {
		a.StripeCustomerID = sub.CustomerID
	}
	a.Status = sub.Status
	a.PlanInterval = sub.Interval
	a.CancelAtPeriodEnd = sub.CancelAtPeriodEnd
	a.PeriodLabel, a.ExpiresLabel = "", ""
	a.CurrentPeriodStart, a.CurrentPeriodEnd = nil, nil
	if !sub.PeriodStart.IsZero() && !sub.PeriodEnd.IsZero() {
		start, end := sub.PeriodStart, sub.PeriodEnd
		a.CurrentPeriodStart, a.CurrentPeriodEnd = &start, &end
		a.PeriodLabel = PeriodLabel(start, end, loc)
		if sub.CancelAtPeriodEnd || sub.Status == StatusCanceled {
			a.ExpiresLabel = ExpiresLabel(end, loc)
		}
	}
	if sub.Card != nil {
		a.setCard(sub.Card)
	}
	a.SyncedAt = &now
}

func (a *BillingAccount) setCard(c *Card) {
	a.CardBrand = c.Brand
	a.CardLast4 = c.Last4
	a.CardExpMonth = c.ExpMonth
	a.CardExpYear = c.ExpYear
}

// SubscribeInput starts a subscription. PriceID falls back to the configured
// plan price.
type SubscribeInput struct {
	Email           string `json:"email"`
	PriceID         string `json:"price_id"`
	PaymentMethodID string `json:"payment_method_id"`
}

func (in *SubscribeInput) normalize(defaultPrice string) error {
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	in.PriceID = strings.TrimSpace(in.PriceID)
	in.PaymentMethodID = strings.TrimSpace(in.PaymentMethodID)
	if in.PriceID == "" {
		in.PriceID = defaultPrice
	}

	var v apperr.ValidationError
	if addr, err := mail.ParseAddress(in.Email); err != nil || addr.Address != in.Email {
		v.Add("email", "is not a valid address")
	}
	if in.PriceID == "" {
		v.Add("price_id", "is required")
	}
	if !strings.HasPrefix(in.PaymentMethodID, "pm_") {
		v.Add("payment_method_id", "must be a payment method id")
	}
	return v.OrNil()
}
