package subscription

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/client"
	"github.com/stripe/stripe-go/v79/webhook"

	"github.com/clinicdesk/clinicdesk/internal/platform/apperr"
)

// StripeGateway implements Gateway against the Stripe API.
type StripeGateway struct {
	api           *client.API
	webhookSecret string
}

func NewStripeGateway(secretKey, webhookSecret string) *StripeGateway {
	api := &client.API{}
	api.Init(secretKey, nil)
	return &StripeGateway{api: api, webhookSecret: webhookSecret}
}

func (g *StripeGateway) CreateCustomer(ctx context.Context, orgID uuid.UUID, email, key string) (string, error) {
	params := &stripe.CustomerParams{Email: stripe.String(email)}
	params.Context = ctx
	params.SetIdempotencyKey(key)
	params.AddMetadata("organization_id", orgID.String())
	cus, err := g.api.Customers.New(params)
	if err != nil {
		return "", stripeError("create customer", err)
	}
	return cus.ID, nil
}

func (g *StripeGateway) AttachPaymentMethod(ctx context.Context, customerID, paymentMethodID, key string) (*Card, error) {
	params := &stripe.PaymentMethodAttachParams{Customer: stripe.String(customerID)}
	params.Context = ctx
	params.SetIdempotencyKey(key)
	pm, err := g.api.PaymentMethods.Attach(paymentMethodID, params)
	if err != nil {
		return nil, stripeError("attach payment method", err)
	}
	return cardOf(pm), nil
}

func (g *StripeGateway) SetDefaultPaymentMethod(ctx context.Context, customerID, paymentMethodID, key string) error {
	params := &stripe.CustomerParams{
		InvoiceSettings: &stripe.CustomerInvoiceSettingsParams{
			DefaultPaymentMethod: stripe.String(paymentMethodID),
		},
	}
	params.Context = ctx
	params.SetIdempotencyKey(key)
	if _, err := g.api.Customers.Update(customerID, params); err != nil {
		return stripeError("set default payment method", err)
	}
	return nil
}

func (g *StripeGateway) CreateSubscription(ctx context.Context, customerID, priceID, paymentMethodID, key string) (*RemoteSubscription, error) {
	params := &stripe.SubscriptionParams{
		Customer:             stripe.String(customerID),
		Items:                []*stripe.SubscriptionItemsParams{{Price: stripe.String(priceID)}},
		DefaultPaymentMethod: stripe.String(paymentMethodID),
	}
	params.Context = ctx
	params.SetIdempotencyKey(key)
	params.AddExpand("default_payment_method")
	sub, err := g.api.Subscriptions.New(params)
	if err != nil {
		return nil, stripeError("create subscription", err)
	}
	return remoteOf(sub), nil
}

func (g *StripeGateway) GetSubscription(ctx context.Context, subscriptionID string) (*RemoteSubscription, error) {
	params := &stripe.SubscriptionParams{}
	params.Context = ctx
	params.AddExpand("default_payment_method")
	sub, err := g.api.Subscriptions.Get(subscriptionID, params)
	if err != nil {
		return nil, stripeError("get subscription", err)
	}
	return remoteOf(sub), nil
}

func (g *StripeGateway) FindSubscription(ctx context.Context, customerID string) (*RemoteSubscription, error) {
	params := &stripe.SubscriptionListParams{
		Customer: stripe.String(customerID),
		Status:   stripe.String("all"),
	}
	params.Context = ctx
	params.Limit = stripe.Int64(1)
	params.Single = true
	params.AddExpand("data.default_payment_method")
	it := g.api.Subscriptions.List(params)
	if it.Next() {
		return remoteOf(it.Subscription()), nil
	}
	if err := it.Err(); err != nil {
		return nil, stripeError("list subscriptions", err)
	}
	return nil, nil
}

func (g *StripeGateway) UpdateSubscriptionPaymentMethod(ctx context.Context, subscriptionID, paymentMethodID, key string) error {
	params := &stripe.SubscriptionParams{DefaultPaymentMethod: stripe.String(paymentMethodID)}
	params.Context = ctx
	params.SetIdempotencyKey(key)
	if _, err := g.api.Subscriptions.Update(subscriptionID, params); err != nil {
		return stripeError("update subscription payment method", err)
	}
	return nil
}

func (g *StripeGateway) CancelSubscription(ctx context.Context, subscriptionID string, atPeriodEnd bool, key string) (*RemoteSubscription, error) {
	var (
		sub *stripe.Subscription
		err error
	)
	if atPeriodEnd {
		params := &stripe.SubscriptionParams{CancelAtPeriodEnd: stripe.Bool(true)}
		params.Context = ctx
		params.SetIdempotencyKey(key)
		params.AddExpand("default_payment_method")
		sub, err = g.api.Subscriptions.Update(subscriptionID, params)
	} else {
		params := &stripe.SubscriptionCancelParams{}
		params.Context = ctx
		params.SetIdempotencyKey(key)
		params.AddExpand("default_payment_method")
		sub, err = g.api.Subscriptions.Cancel(subscriptionID, params)
	}
	if err != nil {
		return nil, stripeError("cancel subscription", err)
	}
	return remoteOf(sub), nil
}

// ParseWebhook verifies the Stripe-Signature header and extracts the
// subscription and customer the event refers to.
func (g *StripeGateway) ParseWebhook(payload []byte, signature string) (*WebhookEvent, error) {
	evt, err := webhook.ConstructEventWithOptions(payload, signature, g.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return nil, ErrInvalidSignature
	}
	out := &WebhookEvent{ID: evt.ID, Type: string(evt.Type)}
	if evt.Data == nil {
		return out, nil
	}

	switch {
	case strings.HasPrefix(out.Type, "customer.subscription."):
		var sub stripe.Subscription
		if err := json.Unmarshal(evt.Data.Raw, &sub); err != nil {
			return nil, apperr.Invalid("payload", "malformed subscription object")
		}
		out.SubscriptionID = sub.ID
		if sub.Customer != nil {
			out.CustomerID = sub.Customer.ID
		}
	case strings.HasPrefix(out.Type, "invoice."):
		var inv stripe.Invoice
		if err := json.Unmarshal(evt.Data.Raw, &inv); err != nil {
			return nil, apperr.Invalid("payload", "malformed invoice object")
		}
		if inv.Subscription != nil {
			out.SubscriptionID = inv.Subscription.ID
		}
		if inv.Customer != nil {
			out.CustomerID = inv.Customer.ID
		}
	}
	return out, nil
}

func remoteOf(sub *stripe.Subscription) *RemoteSubscription {
	out := &RemoteSubscription{
		ID:                sub.ID,
		Status:            string(sub.Status),
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
		Card:              cardOf(sub.DefaultPaymentMethod),
	}
	if sub.Customer != nil {
		out.CustomerID = sub.Customer.ID
	}
	if sub.CurrentPeriodStart > 0 {
		out.PeriodStart = time.Unix(sub.CurrentPeriodStart, 0).UTC()
	}
	if sub.CurrentPeriodEnd > 0 {
		out.PeriodEnd = time.Unix(sub.CurrentPeriodEnd, 0).UTC()
	}
	if sub.Items != nil {
		for _, item := range sub.Items.Data {
			if item.Price != nil && item.Price.Recurring != nil {
				out.Interval = string(item.Price.Recurring.Interval)
				break
			}
		}
	}
	return out
}

func cardOf(pm *stripe.PaymentMethod) *Card {
	if pm == nil || pm.Card == nil {
		return nil
	}
	return &Card{
		Brand:    string(pm.Card.Brand),
		Last4:    pm.Card.Last4,
		ExpMonth: int(pm.Card.ExpMonth),
		ExpYear:  int(pm.Card.ExpYear),
	}
}

// stripeError keeps card declines as validation errors for the caller and
// reports everything else as the provider being unavailable.
func stripeError(op string, err error) error {
	var se *stripe.Error
	if errors.As(err, &se) {
		switch se.Type {
		case stripe.ErrorTypeCard, stripe.ErrorTypeInvalidRequest:
			return fmt.Errorf("%s: %w", op, apperr.Invalid("payment_method_id", se.Msg))
		}
	}
	return fmt.Errorf("%s: %w: %v", op, ErrProviderUnavailable, err)
}
