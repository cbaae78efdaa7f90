package subscription

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinicdesk/clinicdesk/internal/platform/db"
)

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

const accountCols = `organization_id, stripe_customer_id, stripe_subscription_id, status, plan_interval,
	current_period_start, current_period_end, period_label, expires_label, cancel_at_period_end,
	card_brand, card_last4, card_exp_month, card_exp_year, synced_at`

func scanAccount(row pgx.Row) (*BillingAccount, error) {
	var a BillingAccount
	err := row.Scan(&a.OrganizationID, &a.StripeCustomerID, &a.StripeSubscriptionID, &a.Status, &a.PlanInterval,
		&a.CurrentPeriodStart, &a.CurrentPeriodEnd, &a.PeriodLabel, &a.ExpiresLabel, &a.CancelAtPeriodEnd,
		&a.CardBrand, &a.CardLast4, &a.CardExpMonth, &a.CardExpYear, &a.SyncedAt)
	if db.IsNoRows(err) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *repoPG) Get(ctx context.Context, orgID uuid.UUID) (*BillingAccount, error) {
	return scanAccount(db.Executor(ctx, r.pool).QueryRow(ctx,
		`SELECT `+accountCols+` FROM billing_accounts WHERE organization_id = $1`, orgID))
}

func (r *repoPG) GetByCustomer(ctx context.Context, customerID string) (*BillingAccount, error) {
	if customerID == "" {
		return nil, ErrAccountNotFound
	}
	return scanAccount(db.Executor(ctx, r.pool).QueryRow(ctx,
		`SELECT `+accountCols+` FROM billing_accounts WHERE stripe_customer_id = $1`, customerID))
}

func (r *repoPG) Save(ctx context.Context, a *BillingAccount) error {
	_, err := db.Executor(ctx, r.pool).Exec(ctx, `
		INSERT INTO billing_accounts (`+accountCols+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
		ON CONFLICT (organization_id) DO UPDATE SET
			stripe_customer_id = EXCLUDED.stripe_customer_id,
			stripe_subscription_id = EXCLUDED.stripe_subscription_id,
			status = EXCLUDED.status,
			plan_interval = EXCLUDED.plan_interval,
			current_period_start = EXCLUDED.current_period_start,
			current_period_end = EXCLUDED.current_period_end,
			period_label = EXCLUDED.period_label,
			expires_label = EXCLUDED.expires_label,
			cancel_at_period_end = EXCLUDED.cancel_at_period_end,
			card_brand = EXCLUDED.card_brand,
			card_last4 = EXCLUDED.card_last4,
			card_exp_month = EXCLUDED.card_exp_month,
			card_exp_year = EXCLUDED.card_exp_year,
			synced_at = EXCLUDED.synced_at,
			updated_at = NOW()`,
		a.OrganizationID, a.StripeCustomerID, a.StripeSubscriptionID, a.Status, a.PlanInterval,
		a.CurrentPeriodStart, a.CurrentPeriodEnd, a.PeriodLabel, a.ExpiresLabel, a.CancelAtPeriodEnd,
		a.CardBrand, a.CardLast4, a.CardExpMonth, a.CardExpYear, a.SyncedAt)
	if db.IsUniqueViolation(err) {
		return ErrCustomerInUse
	}
	if err != nil {
		return fmt.Errorf("save billing account: %w", err)
	}
	return nil
}

func (r *repoPG) ListWithCustomer(ctx context.Context) ([]*BillingAccount, error) {
	rows, err := db.Executor(ctx, r.pool).Query(ctx,
		`SELECT `+accountCols+` FROM billing_accounts WHERE stripe_customer_id <> '' ORDER BY organization_id`)
	if err != nil {
		return nil, fmt.Errorf("list billing accounts: %w", err)
	}
	defer rows.Close()

	var out []*BillingAccount
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
