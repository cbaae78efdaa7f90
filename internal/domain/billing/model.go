package billing

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/clinicdesk/clinicdesk/internal/platform/apperr"
)

const (
	StatusDraft     = "draft"
	StatusIssued    = "issued"
	StatusPaid      = "paid"
	StatusOverdue   = "overdue"
	StatusCancelled = "cancelled"
)

// transitions lists the statuses reachable from each status.
var transitions = map[string][]string{
	StatusDraft:   {StatusIssued, StatusCancelled},
	StatusIssued:  {StatusPaid, StatusOverdue, StatusCancelled},
	StatusOverdue: {StatusPaid, StatusCancelled},
}

// CanTransition reports whether an invoice may move from one status to another.
func CanTransition(from, to string) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

var (
	hundred        = decimal.NewFromInt(100)
	DefaultVATRate = decimal.NewFromInt(21)
)

func round2(d decimal.Decimal) decimal.Decimal { return d.Round(2) }

type Invoice struct {
	ID             uuid.UUID       `json:"id"`
	OrganizationID uuid.UUID       `json:"organization_id"`
	ClientID       uuid.UUID       `json:"client_id"`
	Number         string          `json:"number"`
	Series         string          `json:"series"`
	Year           int             `json:"year"`
	IssueDate      time.Time       `json:"issue_date"`
	DueDate        *time.Time      `json:"due_date,omitempty"`
	Status         string          `json:"status"`
	VATRate        decimal.Decimal `json:"vat_rate"`
	IRPFRate       decimal.Decimal `json:"irpf_rate"`
	BaseAmount     decimal.Decimal `json:"base_amount"`
	VATAmount      decimal.Decimal `json:"vat_amount"`
	IRPFAmount     decimal.Decimal `json:"irpf_amount"`
	TotalAmount    decimal.Decimal `json:"total_amount"`
	Currency       string          `json:"currency"`
	Notes          string          `json:"notes"`

	IssuerName    string `json:"issuer_name"`
	IssuerTaxID   string `json:"issuer_tax_id"`
	IssuerAddress string `json:"issuer_address"`
	ClientName    string `json:"client_name"`
	ClientTaxID   string `json:"client_tax_id"`
	ClientAddress string `json:"client_address"`

	Lines     []InvoiceLine `json:"lines"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

type InvoiceLine struct {
	ID          uuid.UUID       `json:"id"`
	InvoiceID   uuid.UUID       `json:"invoice_id"`
	Position    int             `json:"position"`
	Description string          `json:"description"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	DiscountPct decimal.Decimal `json:"discount_pct"`
	Amount      decimal.Decimal `json:"amount"`
}

// LineAmount is quantity × unit price less the discount, to the cent.
func LineAmount(qty, unit, discountPct decimal.Decimal) decimal.Decimal {
	factor := decimal.NewFromInt(1).Sub(discountPct.Div(hundred))
	return round2(qty.Mul(unit).Mul(factor))
}

// Recalculate derives every amount from the lines and rates. The stored
// total always equals base + vat - irpf.
func (inv *Invoice) Recalculate() {
	base := decimal.Zero
	for i := range inv.Lines {
		l := &inv.Lines[i]
		l.Position = i + 1
		l.Amount = LineAmount(l.Quantity, l.UnitPrice, l.DiscountPct)
		base = base.Add(l.Amount)
	}
	inv.BaseAmount = round2(base)
	inv.VATAmount = round2(inv.BaseAmount.Mul(inv.VATRate).Div(hundred))
	inv.IRPFAmount = round2(inv.BaseAmount.Mul(inv.IRPFRate).Div(hundred))
	inv.TotalAmount = inv.BaseAmount.Add(inv.VATAmount).Sub(inv.IRPFAmount)
}

// FormatNumber renders SERIES-YYYY-NNNN.
func FormatNumber(series string, year, n int) string {
	return fmt.Sprintf("%s-%04d-%04d", series, year, n)
}

// Filename is the download name of the invoice PDF.
func (inv *Invoice) Filename() string {
	return strings.ReplaceAll(inv.Number, "/", "-") + ".pdf"
}

type LineInput struct {
	Description string          `json:"description"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	DiscountPct decimal.Decimal `json:"discount_pct"`
}

type InvoiceInput struct {
	ClientID  uuid.UUID        `json:"client_id"`
	Series    string           `json:"series"`
	IssueDate string           `json:"issue_date"` // 2006-01-02, defaults to today
	DueDate   string           `json:"due_date"`
	VATRate   *decimal.Decimal `json:"vat_rate"`
	IRPFRate  *decimal.Decimal `json:"irpf_rate"`
	Currency  string           `json:"currency"`
	Notes     string           `json:"notes"`
	Lines     []LineInput      `json:"lines"`
}

func validRate(d decimal.Decimal) bool {
	return !d.IsNegative() && d.LessThanOrEqual(hundred)
}

// apply validates the input and copies it onto inv.
func (in *InvoiceInput) apply(inv *Invoice, today time.Time) error {
	v := &apperr.ValidationError{}
	if in.ClientID == uuid.Nil {
		v.Add("client_id", "is required")
	}

	inv.IssueDate = today
	if in.IssueDate != "" {
		d, err := time.Parse("2006-01-02", in.IssueDate)
		if err != nil {
			v.Add("issue_date", "must be YYYY-MM-DD")
		}
		inv.IssueDate = d
	}
	inv.DueDate = nil
	if in.DueDate != "" {
		d, err := time.Parse("2006-01-02", in.DueDate)
		switch {
		case err != nil:
			v.Add("due_date", "must be YYYY-MM-DD")
		case d.Before(inv.IssueDate):
			v.Add("due_date", "must not be before issue_date")
		default:
			inv.DueDate = &d
		}
	}

	inv.VATRate = DefaultVATRate
	if in.VATRate != nil {
		inv.VATRate = *in.VATRate
	}
	inv.IRPFRate = decimal.Zero
	if in.IRPFRate != nil {
		inv.IRPFRate = *in.IRPFRate
	}
	if !validRate(inv.VATRate) {
		v.Add("vat_rate", "must be between 0 and 100")
	}
	if !validRate(inv.IRPFRate) {
		v.Add("irpf_rate", "must be between 0 and 100")
	}

	inv.Currency = strings.ToUpper(strings.TrimSpace(in.Currency))
	if inv.Currency == "" {
		inv.Currency = "EUR"
	}
	if len(inv.Currency) != 3 {
		v.Add("currency", "must be an ISO 4217 code")
	}

	if len(in.Lines) == 0 {
		v.Add("lines", "at least one line is required")
	}
	inv.Lines = make([]InvoiceLine, 0, len(in.Lines))
	for i, l := range in.Lines {
		field := fmt.Sprintf("lines[%d]", i)
		if strings.TrimSpace(l.Description) == "" {
			v.Add(field+".description", "is required")
		}
		if !l.Quantity.IsPositive() {
			v.Add(field+".quantity", "must be positive")
		}
		if l.UnitPrice.IsNegative() {
			v.Add(field+".unit_price", "must not be negative")
		}
		if !validRate(l.DiscountPct) {
			v.Add(field+".discount_pct", "must be between 0 and 100")
		}
		inv.Lines = append(inv.Lines, InvoiceLine{
			Description: strings.TrimSpace(l.Description),
			Quantity:    l.Quantity,
			UnitPrice:   l.UnitPrice,
			DiscountPct: l.DiscountPct,
		})
	}
	inv.ClientID = in.ClientID
	inv.Notes = in.Notes
	if err := v.OrNil(); err != nil {
		return err
	}
	inv.Recalculate()
	return nil
}

type InvoiceFilter struct {
	Status   string
	ClientID *uuid.UUID
	From     *time.Time
	To       *time.Time
}

// -- Expenses --

type Expense struct {
	ID             uuid.UUID       `json:"id"`
	OrganizationID uuid.UUID       `json:"organization_id"`
	Date           time.Time       `json:"date"`
	Category       string          `json:"category"`
	Supplier       string          `json:"supplier"`
	Description    string          `json:"description"`
	BaseAmount     decimal.Decimal `json:"base_amount"`
	VATRate        decimal.Decimal `json:"vat_rate"`
	VATAmount      decimal.Decimal `json:"vat_amount"`
	TotalAmount    decimal.Decimal `json:"total_amount"`
	PaymentMethod  string          `json:"payment_method"`
	ReceiptKey     *string         `json:"receipt_key,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

type ExpenseInput struct {
	Date          string          `json:"date"`
	Category      string          `json:"category"`
	Supplier      string          `json:"supplier"`
	Description   string          `json:"description"`
	BaseAmount    decimal.Decimal `json:"base_amount"`
	VATRate       decimal.Decimal `json:"vat_rate"`
	PaymentMethod string          `json:"payment_method"`
}

func (in *ExpenseInput) apply(e *Expense) error {
	v := &apperr.ValidationError{}
	d, err := time.Parse("2006-01-02", in.Date)
	if err != nil {
		v.Add("date", "must be YYYY-MM-DD")
	}
	category := strings.ToLower(strings.TrimSpace(in.Category))
	if category == "" {
		v.Add("category", "is required")
	}
	if in.BaseAmount.IsNegative() {
		v.Add("base_amount", "must not be negative")
	}
	if !validRate(in.VATRate) {
		v.Add("vat_rate", "must be between 0 and 100")
	}
	if err := v.OrNil(); err != nil {
		return err
	}
	e.Date = d
	e.Category = category
	e.Supplier = strings.TrimSpace(in.Supplier)
	e.Description = in.Description
	e.BaseAmount = round2(in.BaseAmount)
	e.VATRate = in.VATRate
	e.VATAmount = round2(e.BaseAmount.Mul(in.VATRate).Div(hundred))
	e.TotalAmount = e.BaseAmount.Add(e.VATAmount)
	e.PaymentMethod = in.PaymentMethod
	return nil
}

type ExpenseFilter struct {
	From     *time.Time
	To       *time.Time
	Category string
}

type CategoryTotal struct {
	Category string          `json:"category"`
	Count    int             `json:"count"`
	Base     decimal.Decimal `json:"base"`
	VAT      decimal.Decimal `json:"vat"`
	Total    decimal.Decimal `json:"total"`
}

// Summary totals expenses and invoiced income over a period.
type Summary struct {
	From       time.Time       `json:"from"`
	To         time.Time       `json:"to"`
	Categories []CategoryTotal `json:"categories"`
	Expenses   decimal.Decimal `json:"expenses"`
	Income     decimal.Decimal `json:"income"`
	Balance    decimal.Decimal `json:"balance"`
}
