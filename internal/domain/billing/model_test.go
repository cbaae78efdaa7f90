package billing

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/clinicdesk/clinicdesk/internal/platform/apperr"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestLineAmount(t *testing.T) {
	tests := []struct {
		qty, unit, disc string
		want            string
	}{
		{"1", "100", "0", "100.00"},
		{"2", "45.50", "10", "81.90"},
		{"3", "33.333", "0", "100.00"},
		{"1", "19.99", "100", "0.00"},
	}
	for _, tt := range tests {
		got := LineAmount(dec(tt.qty), dec(tt.unit), dec(tt.disc))
		if got.StringFixed(2) != tt.want {
			t.Errorf("LineAmount(%s, %s, %s): expected %s, got %s", tt.qty, tt.unit, tt.disc, tt.want, got.StringFixed(2))
		}
	}
}

func TestRecalculate_VAT(t *testing.T) {
	inv := &Invoice{
		VATRate:  dec("21"),
		IRPFRate: decimal.Zero,
		Lines:    []InvoiceLine{{Description: "Sesión", Quantity: dec("1"), UnitPrice: dec("100")}},
	}
	inv.Recalculate()

	if inv.BaseAmount.StringFixed(2) != "100.00" {
		t.Errorf("expected base 100.00, got %s", inv.BaseAmount.StringFixed(2))
	}
	if inv.VATAmount.StringFixed(2) != "21.00" {
		t.Errorf("expected vat 21.00, got %s", inv.VATAmount.StringFixed(2))
	}
	if inv.TotalAmount.StringFixed(2) != "121.00" {
		t.Errorf("expected total 121.00, got %s", inv.TotalAmount.StringFixed(2))
	}
	if inv.Lines[0].Position != 1 {
		t.Errorf("expected position 1, got %d", inv.Lines[0].Position)
	}
}

func TestRecalculate_IRPFWithholding(t *testing.T) {
	inv := &Invoice{
		VATRate:  dec("21"),
		IRPFRate: dec("15"),
		Lines: []InvoiceLine{
			{Description: "Sesión", Quantity: dec("2"), UnitPrice: dec("60")},
			{Description: "Informe", Quantity: dec("1"), UnitPrice: dec("33.33"), DiscountPct: dec("10")},
		},
	}
	inv.Recalculate()

	// 120 + 30.00 (33.33 less 10% = 29.997)
	if inv.BaseAmount.StringFixed(2) != "150.00" {
		t.Fatalf("expected base 150.00, got %s", inv.BaseAmount.StringFixed(2))
	}
	if inv.IRPFAmount.StringFixed(2) != "22.50" {
		t.Errorf("expected irpf 22.50, got %s", inv.IRPFAmount.StringFixed(2))
	}
	want := inv.BaseAmount.Add(inv.VATAmount).Sub(inv.IRPFAmount)
	if !inv.TotalAmount.Equal(want) {
		t.Errorf("expected total %s, got %s", want, inv.TotalAmount)
	}
	if inv.TotalAmount.StringFixed(2) != "159.00" {
		t.Errorf("expected total 159.00, got %s", inv.TotalAmount.StringFixed(2))
	}
}

func TestFormatNumber(t *testing.T) {
	if got := FormatNumber("F", 2024, 7); got != "F-2024-0007" {
		t.Errorf("expected F-2024-0007, got %s", got)
	}
	if got := FormatNumber("R", 2025, 12345); got != "R-2025-12345" {
		t.Errorf("expected R-2025-12345, got %s", got)
	}
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to string
		want     bool
	}{
		{StatusDraft, StatusIssued, true},
		{StatusDraft, StatusCancelled, true},
		{StatusDraft, StatusPaid, false},
		{StatusIssued, StatusPaid, true},
		{StatusIssued, StatusOverdue, true},
		{StatusIssued, StatusDraft, false},
		{StatusOverdue, StatusPaid, true},
		{StatusOverdue, StatusIssued, false},
		{StatusPaid, StatusCancelled, false},
		{StatusCancelled, StatusDraft, false},
	}
	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransition(%s, %s): expected %v, got %v", tt.from, tt.to, tt.want, got)
		}
	}
}

func TestInvoiceInput_Defaults(t *testing.T) {
	today := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	in := InvoiceInput{
		ClientID: uuid.New(),
		Lines:    []LineInput{{Description: " Sesión ", Quantity: dec("1"), UnitPrice: dec("50")}},
	}
	inv := &Invoice{}
	if err := in.apply(inv, today); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !inv.IssueDate.Equal(today) {
		t.Errorf("expected issue date %v, got %v", today, inv.IssueDate)
	}
	if !inv.VATRate.Equal(DefaultVATRate) {
		t.Errorf("expected default VAT %s, got %s", DefaultVATRate, inv.VATRate)
	}
	if inv.Currency != "EUR" {
		t.Errorf("expected EUR, got %s", inv.Currency)
	}
	if inv.Lines[0].Description != "Sesión" {
		t.Errorf("expected trimmed description, got %q", inv.Lines[0].Description)
	}
	if inv.TotalAmount.StringFixed(2) != "60.50" {
		t.Errorf("expected total 60.50, got %s", inv.TotalAmount.StringFixed(2))
	}
}

func TestInvoiceInput_Validation(t *testing.T) {
	neg := dec("-1")
	in := InvoiceInput{
		IssueDate: "2024-06-10",
		DueDate:   "2024-06-01",
		VATRate:   &neg,
		Lines:     []LineInput{{Quantity: dec("0"), UnitPrice: dec("-5")}},
	}
	err := in.apply(&Invoice{}, time.Now())
	var verr *apperr.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected validation error, got %v", err)
	}
	for _, field := range []string{"client_id", "due_date", "vat_rate", "lines[0].description", "lines[0].quantity", "lines[0].unit_price"} {
		if _, ok := verr.Fields[field]; !ok {
			t.Errorf("expected error on %s, got %v", field, verr.Fields)
		}
	}
}

func TestInvoiceInput_RequiresLines(t *testing.T) {
	in := InvoiceInput{ClientID: uuid.New()}
	err := in.apply(&Invoice{}, time.Now())
	if !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestExpenseInput_Apply(t *testing.T) {
	in := ExpenseInput{Date: "2024-03-15", Category: " Material ", BaseAmount: dec("80"), VATRate: dec("21")}
	e := &Expense{}
	if err := in.apply(e); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if e.Category != "material" {
		t.Errorf("expected category material, got %s", e.Category)
	}
	if e.VATAmount.StringFixed(2) != "16.80" || e.TotalAmount.StringFixed(2) != "96.80" {
		t.Errorf("expected vat 16.80 total 96.80, got %s %s", e.VATAmount.StringFixed(2), e.TotalAmount.StringFixed(2))
	}

	bad := ExpenseInput{Date: "15/03/2024", BaseAmount: dec("-1"), VATRate: dec("150")}
	if err := bad.apply(&Expense{}); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestInvoice_Filename(t *testing.T) {
	inv := &Invoice{Number: "F-2024-0001"}
	if inv.Filename() != "F-2024-0001.pdf" {
		t.Errorf("expected F-2024-0001.pdf, got %s", inv.Filename())
	}
}
