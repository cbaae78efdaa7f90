package subscription

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	Get(ctx context.Context, orgID uuid.UUID) (*BillingAccount, error)
	GetByCustomer(ctx context.Context, customerID string) (*BillingAccount, error)
	// Save upserts the account keyed by organization.
	Save(ctx context.Context, acct *BillingAccount) error
	// ListWithCustomer returns every account that reached Stripe, across
	// organizations. Used by the sync job.
	ListWithCustomer(ctx context.Context) ([]*BillingAccount, error)
}
