package billing

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type InvoiceRepository interface {
	// NextNumber atomically allocates the next number of a series and year.
	NextNumber(ctx context.Context, orgID uuid.UUID, series string, year int) (int, error)
	// Create inserts the invoice with its lines.
	Create(ctx context.Context, inv *Invoice) error
	GetByID(ctx context.Context, orgID, id uuid.UUID) (*Invoice, error)
	// GetForUpdate locks the invoice row until the transaction ends.
	GetForUpdate(ctx context.Context, orgID, id uuid.UUID) (*Invoice, error)
	// Update rewrites the invoice and replaces its lines.
	Update(ctx context.Context, inv *Invoice) error
	UpdateStatus(ctx context.Context, orgID, id uuid.UUID, status string) error
	// List returns invoices without their lines.
	List(ctx context.Context, orgID uuid.UUID, f InvoiceFilter, limit, offset int) ([]*Invoice, int, error)
	// Income sums the base amount of issued, paid and overdue invoices.
	Income(ctx context.Context, orgID uuid.UUID, from, to time.Time) (decimal.Decimal, error)
}

type ExpenseRepository interface {
	Create(ctx context.Context, e *Expense) error
	GetByID(ctx context.Context, orgID, id uuid.UUID) (*Expense, error)
	Update(ctx context.Context, e *Expense) error
	Delete(ctx context.Context, orgID, id uuid.UUID) error
	List(ctx context.Context, orgID uuid.UUID, f ExpenseFilter, limit, offset int) ([]*Expense, int, error)
	TotalsByCategory(ctx context.Context, orgID uuid.UUID, from, to time.Time) ([]CategoryTotal, error)
}
