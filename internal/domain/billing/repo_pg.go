package billing

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/clinicdesk/clinicdesk/internal/platform/db"
)

// =========== Invoice Repository ===========

type invoiceRepoPG struct{ pool *pgxpool.Pool }

func NewInvoiceRepoPG(pool *pgxpool.Pool) InvoiceRepository { return &invoiceRepoPG{pool: pool} }

const invoiceCols = `id, organization_id, client_id, number, series, year, issue_date, due_date, status,
	vat_rate, irpf_rate, base_amount, vat_amount, irpf_amount, total_amount, currency, notes,
	issuer_name, issuer_tax_id, issuer_address, client_name, client_tax_id, client_address,
	created_at, updated_at`

func scanInvoice(row pgx.Row) (*Invoice, error) {
	var inv Invoice
	err := row.Scan(&inv.ID, &inv.OrganizationID, &inv.ClientID, &inv.Number, &inv.Series, &inv.Year,
		&inv.IssueDate, &inv.DueDate, &inv.Status,
		&inv.VATRate, &inv.IRPFRate, &inv.BaseAmount, &inv.VATAmount, &inv.IRPFAmount, &inv.TotalAmount,
		&inv.Currency, &inv.Notes,
		&inv.IssuerName, &inv.IssuerTaxID, &inv.IssuerAddress, &inv.ClientName, &inv.ClientTaxID, &inv.ClientAddress,
		&inv.CreatedAt, &inv.UpdatedAt)
	if db.IsNoRows(err) {
		return nil, ErrInvoiceNotFound
	}
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

func (r *invoiceRepoPG) NextNumber(ctx context.Context, orgID uuid.UUID, series string, year int) (int, error) {
	var n int
	err := db.Executor(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO invoice_sequences (organization_id, series, year, last_number)
		VALUES ($1, $2, $3, 1)
		ON CONFLICT (organization_id, series, year)
		DO UPDATE SET last_number = invoice_sequences.last_number + 1
		RETURNING last_number`, orgID, series, year).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("allocate invoice number: %w", err)
	}
	return n, nil
}

func (r *invoiceRepoPG) Create(ctx context.Context, inv *Invoice) error {
	inv.ID = uuid.New()
	q := db.Executor(ctx, r.pool)
	err := q.QueryRow(ctx, `
		INSERT INTO invoices (id, organization_id, client_id, number, series, year, issue_date, due_date, status,
			vat_rate, irpf_rate, base_amount, vat_amount, irpf_amount, total_amount, currency, notes,
			issuer_name, issuer_tax_id, issuer_address, client_name, client_tax_id, client_address)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23)
		RETURNING created_at, updated_at`,
		inv.ID, inv.OrganizationID, inv.ClientID, inv.Number, inv.Series, inv.Year, inv.IssueDate, inv.DueDate, inv.Status,
		inv.VATRate, inv.IRPFRate, inv.BaseAmount, inv.VATAmount, inv.IRPFAmount, inv.TotalAmount, inv.Currency, inv.Notes,
		inv.IssuerName, inv.IssuerTaxID, inv.IssuerAddress, inv.ClientName, inv.ClientTaxID, inv.ClientAddress,
	).Scan(&inv.CreatedAt, &inv.UpdatedAt)
	if db.IsUniqueViolation(err) {
		return ErrDuplicateNumber
	}
	if err != nil {
		return fmt.Errorf("insert invoice: %w", err)
	}
	return r.insertLines(ctx, q, inv)
}

func (r *invoiceRepoPG) insertLines(ctx context.Context, q db.Querier, inv *Invoice) error {
	for i := range inv.Lines {
		l := &inv.Lines[i]
		l.ID = uuid.New()
		l.InvoiceID = inv.ID
		if _, err := q.Exec(ctx, `
			INSERT INTO invoice_lines (id, organization_id, invoice_id, position, description, quantity, unit_price, discount_pct, amount)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
			l.ID, inv.OrganizationID, inv.ID, l.Position, l.Description, l.Quantity, l.UnitPrice, l.DiscountPct, l.Amount,
		); err != nil {
			return fmt.Errorf("insert invoice line: %w", err)
		}
	}
	return nil
}

func (r *invoiceRepoPG) loadLines(ctx context.Context, inv *Invoice) error {
	rows, err := db.Executor(ctx, r.pool).Query(ctx, `
		SELECT id, invoice_id, position, description, quantity, unit_price, discount_pct, amount
		FROM invoice_lines WHERE invoice_id = $1 ORDER BY position`, inv.ID)
	if err != nil {
		return fmt.Errorf("query invoice lines: %w", err)
	}
	defer rows.Close()
	inv.Lines = []InvoiceLine{}
	for rows.Next() {
		var l InvoiceLine
		if err := rows.Scan(&l.ID, &l.InvoiceID, &l.Position, &l.Description, &l.Quantity, &l.UnitPrice, &l.DiscountPct, &l.Amount); err != nil {
			return err
		}
		inv.Lines = append(inv.Lines, l)
	}
	return rows.Err()
}

func (r *invoiceRepoPG) get(ctx context.Context, orgID, id uuid.UUID, lock string) (*Invoice, error) {
	inv, err := scanInvoice(db.Executor(ctx, r.pool).QueryRow(ctx,
		`SELECT `+invoiceCols+` FROM invoices WHERE organization_id = $1 AND id = $2`+lock, orgID, id))
	if err != nil {
		return nil, err
	}
	if err := r.loadLines(ctx, inv); err != nil {
		return nil, err
	}
	return inv, nil
}

func (r *invoiceRepoPG) GetByID(ctx context.Context, orgID, id uuid.UUID) (*Invoice, error) {
	return r.get(ctx, orgID, id, "")
}

func (r *invoiceRepoPG) GetForUpdate(ctx context.Context, orgID, id uuid.UUID) (*Invoice, error) {
	return r.get(ctx, orgID, id, " FOR UPDATE")
}

func (r *invoiceRepoPG) Update(ctx context.Context, inv *Invoice) error {
	q := db.Executor(ctx, r.pool)
	err := q.QueryRow(ctx, `
		UPDATE invoices SET client_id=$3, issue_date=$4, due_date=$5, vat_rate=$6, irpf_rate=$7,
			base_amount=$8, vat_amount=$9, irpf_amount=$10, total_amount=$11, currency=$12, notes=$13,
			client_name=$14, client_tax_id=$15, client_address=$16, updated_at=NOW()
		WHERE organization_id = $1 AND id = $2 RETURNING updated_at`,
		inv.OrganizationID, inv.ID, inv.ClientID, inv.IssueDate, inv.DueDate, inv.VATRate, inv.IRPFRate,
		inv.BaseAmount, inv.VATAmount, inv.IRPFAmount, inv.TotalAmount, inv.Currency, inv.Notes,
		inv.ClientName, inv.ClientTaxID, inv.ClientAddress,
	).Scan(&inv.UpdatedAt)
	if db.IsNoRows(err) {
		return ErrInvoiceNotFound
	}
	if err != nil {
		return fmt.Errorf("update invoice: %w", err)
	}
	if _, err := q.Exec(ctx, `DELETE FROM invoice_lines WHERE invoice_id = $1`, inv.ID); err != nil {
		return fmt.Errorf("clear invoice lines: %w", err)
	}
	return r.insertLines(ctx, q, inv)
}

func (r *invoiceRepoPG) UpdateStatus(ctx context.Context, orgID, id uuid.UUID, status string) error {
	tag, err := db.Executor(ctx, r.pool).Exec(ctx,
		`UPDATE invoices SET status = $3, updated_at = NOW() WHERE organization_id = $1 AND id = $2`, orgID, id, status)
	if err != nil {
		return fmt.Errorf("update invoice status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrInvoiceNotFound
	}
	return nil
}

func (r *invoiceRepoPG) List(ctx context.Context, orgID uuid.UUID, f InvoiceFilter, limit, offset int) ([]*Invoice, int, error) {
	where := []string{"organization_id = $1"}
	args := []interface{}{orgID}
	add := func(cond string, v interface{}) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.Status != "" {
		add("status = $%d", f.Status)
	}
	if f.ClientID != nil {
		add("client_id = $%d", *f.ClientID)
	}
	if f.From != nil {
		add("issue_date >= $%d", *f.From)
	}
	if f.To != nil {
		add("issue_date <= $%d", *f.To)
	}
	clause := strings.Join(where, " AND ")

	q := db.Executor(ctx, r.pool)
	var total int
	if err := q.QueryRow(ctx, "SELECT COUNT(*) FROM invoices WHERE "+clause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count invoices: %w", err)
	}
	args = append(args, limit, offset)
	rows, err := q.Query(ctx, fmt.Sprintf(`SELECT `+invoiceCols+` FROM invoices WHERE %s
		ORDER BY issue_date DESC, number DESC LIMIT $%d OFFSET $%d`, clause, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list invoices: %w", err)
	}
	defer rows.Close()
	var out []*Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, inv)
	}
	return out, total, rows.Err()
}

func (r *invoiceRepoPG) Income(ctx context.Context, orgID uuid.UUID, from, to time.Time) (decimal.Decimal, error) {
	var sum decimal.Decimal
	err := db.Executor(ctx, r.pool).QueryRow(ctx, `
		SELECT COALESCE(SUM(base_amount), 0) FROM invoices
		WHERE organization_id = $1 AND status IN ('issued', 'paid', 'overdue')
		  AND issue_date >= $2 AND issue_date <= $3`, orgID, from, to).Scan(&sum)
	if err != nil {
		return decimal.Zero, fmt.Errorf("sum income: %w", err)
	}
	return sum, nil
}

// =========== Expense Repository ===========

type expenseRepoPG struct{ pool *pgxpool.Pool }

func NewExpenseRepoPG(pool *pgxpool.Pool) ExpenseRepository { return &expenseRepoPG{pool: pool} }

const expenseCols = `id, organization_id, date, category, supplier, description, base_amount, vat_rate,
	vat_amount, total_amount, payment_method, receipt_key, created_at, updated_at`

func scanExpense(row pgx.Row) (*Expense, error) {
	var e Expense
	err := row.Scan(&e.ID, &e.OrganizationID, &e.Date, &e.Category, &e.Supplier, &e.Description,
		&e.BaseAmount, &e.VATRate, &e.VATAmount, &e.TotalAmount, &e.PaymentMethod, &e.ReceiptKey,
		&e.CreatedAt, &e.UpdatedAt)
	if db.IsNoRows(err) {
		return nil, ErrExpenseNotFound
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (r *expenseRepoPG) Create(ctx context.Context, e *Expense) error {
	e.ID = uuid.New()
	err := db.Executor(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO expenses (id, organization_id, date, category, supplier, description, base_amount,
			vat_rate, vat_amount, total_amount, payment_method, receipt_key)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12) RETURNING created_at, updated_at`,
		e.ID, e.OrganizationID, e.Date, e.Category, e.Supplier, e.Description, e.BaseAmount,
		e.VATRate, e.VATAmount, e.TotalAmount, e.PaymentMethod, e.ReceiptKey,
	).Scan(&e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert expense: %w", err)
	}
	return nil
}

func (r *expenseRepoPG) GetByID(ctx context.Context, orgID, id uuid.UUID) (*Expense, error) {
	return scanExpense(db.Executor(ctx, r.pool).QueryRow(ctx,
		`SELECT `+expenseCols+` FROM expenses WHERE organization_id = $1 AND id = $2`, orgID, id))
}

func (r *expenseRepoPG) Update(ctx context.Context, e *Expense) error {
	err := db.Executor(ctx, r.pool).QueryRow(ctx, `
		UPDATE expenses SET date=$3, category=$4, supplier=$5, description=$6, base_amount=$7, vat_rate=$8,
			vat_amount=$9, total_amount=$10, payment_method=$11, receipt_key=$12, updated_at=NOW()
		WHERE organization_id = $1 AND id = $2 RETURNING updated_at`,
		e.OrganizationID, e.ID, e.Date, e.Category, e.Supplier, e.Description, e.BaseAmount, e.VATRate,
		e.VATAmount, e.TotalAmount, e.PaymentMethod, e.ReceiptKey,
	).Scan(&e.UpdatedAt)
	if db.IsNoRows(err) {
		return ErrExpenseNotFound
	}
	if err != nil {
		return fmt.Errorf("update expense: %w", err)
	}
	return nil
}

func (r *expenseRepoPG) Delete(ctx context.Context, orgID, id uuid.UUID) error {
	tag, err := db.Executor(ctx, r.pool).Exec(ctx,
		`DELETE FROM expenses WHERE organization_id = $1 AND id = $2`, orgID, id)
	if err != nil {
		return fmt.Errorf("delete expense: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrExpenseNotFound
	}
	return nil
}

func (r *expenseRepoPG) List(ctx context.Context, orgID uuid.UUID, f ExpenseFilter, limit, offset int) ([]*Expense, int, error) {
	q := db.Executor(ctx, r.pool)
	const where = `organization_id = $1 AND ($2::date IS NULL OR date >= $2)
		AND ($3::date IS NULL OR date <= $3) AND ($4 = '' OR category = $4)`
	var total int
	if err := q.QueryRow(ctx, `SELECT COUNT(*) FROM expenses WHERE `+where,
		orgID, f.From, f.To, f.Category).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count expenses: %w", err)
	}
	rows, err := q.Query(ctx, `SELECT `+expenseCols+` FROM expenses WHERE `+where+`
		ORDER BY date DESC, created_at DESC LIMIT $5 OFFSET $6`, orgID, f.From, f.To, f.Category, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list expenses: %w", err)
	}
	defer rows.Close()
	var out []*Expense
	for rows.Next() {
		e, err := scanExpense(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, e)
	}
	return out, total, rows.Err()
}

func (r *expenseRepoPG) TotalsByCategory(ctx context.Context, orgID uuid.UUID, from, to time.Time) ([]CategoryTotal, error) {
	rows, err := db.Executor(ctx, r.pool).Query(ctx, `
		SELECT category, COUNT(*), SUM(base_amount), SUM(vat_amount), SUM(total_amount)
		FROM expenses WHERE organization_id = $1 AND date >= $2 AND date <= $3
		GROUP BY category ORDER BY category`, orgID, from, to)
	if err != nil {
		return nil, fmt.Errorf("sum expenses: %w", err)
	}
	defer rows.Close()
	var out []CategoryTotal
	for rows.Next() {
		var c CategoryTotal
		if err := rows.Scan(&c.Category, &c.Count, &c.Base, &c.VAT, &c.Total); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
