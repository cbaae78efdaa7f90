package subscription

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/google/uuid"
)

// Gateway is the payment provider. Mutating calls take an idempotency key so
// a retried request never creates a second customer or subscription.
type Gateway interface {
	CreateCustomer(ctx context.Context, orgID uuid.UUID, email, key string) (string, error)
	AttachPaymentMethod(ctx context.Context, customerID, paymentMethodID, key string) (*Card, error)
	SetDefaultPaymentMethod(ctx context.Context, customerID, paymentMethodID, key string) error
	CreateSubscription(ctx context.Context, customerID, priceID, paymentMethodID, key string) (*RemoteSubscription, error)
	GetSubscription(ctx context.Context, subscriptionID string) (*RemoteSubscription, error)
	// FindSubscription returns the customer's most recent subscription, nil
	// when there is none.
	FindSubscription(ctx context.Context, customerID string) (*RemoteSubscription, error)
	UpdateSubscriptionPaymentMethod(ctx context.Context, subscriptionID, paymentMethodID, key string) error
	CancelSubscription(ctx context.Context, subscriptionID string, atPeriodEnd bool, key string) (*RemoteSubscription, error)
	ParseWebhook(payload []byte, signature string) (*WebhookEvent, error)
}

// IdempotencyHeader lets a client mark a retried request as the same request.
const IdempotencyHeader = "Idempotency-Key"

type requestKeyCtx struct{}

// WithRequestKey ties the provider idempotency keys of one operation to a
// client request. A retry carrying the same key gets the provider's first
// answer back; any other request gets fresh keys.
func WithRequestKey(ctx context.Context, key string) context.Context {
	key = strings.TrimSpace(key)
	if key == "" {
		return ctx
	}
	return context.WithValue(ctx, requestKeyCtx{}, key)
}

// requestKey returns the caller's request key, or a new one for calls that
// did not come through a handler.
func requestKey(ctx context.Context) string {
	if k, ok := ctx.Value(requestKeyCtx{}).(string); ok && k != "" {
		return k
	}
	return uuid.NewString()
}

// customerRequest scopes customer creation to the organization instead of
// the request: an organization never needs a second customer.
const customerRequest = "account"

// idempotencyKey is stable for one request, organization, operation and
// argument.
func idempotencyKey(orgID uuid.UUID, request, op, arg string) string {
	sum := sha256.Sum256([]byte(orgID.String() + ":" + request + ":" + op + ":" + arg))
	return hex.EncodeToString(sum[:])
}
