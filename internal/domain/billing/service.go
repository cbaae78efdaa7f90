package billing

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/clinicdesk/clinicdesk/internal/domain/crm"
	"github.com/clinicdesk/clinicdesk/internal/domain/identity"
	"github.com/clinicdesk/clinicdesk/internal/platform/apperr"
	"github.com/clinicdesk/clinicdesk/internal/platform/blobstore"
	"github.com/clinicdesk/clinicdesk/internal/platform/db"
	"github.com/clinicdesk/clinicdesk/internal/platform/events"
	"github.com/clinicdesk/clinicdesk/internal/platform/notification"
)

var (
	ErrInvoiceNotFound   = apperr.New(apperr.ErrNotFound, "invoice not found")
	ErrExpenseNotFound   = apperr.New(apperr.ErrNotFound, "expense not found")
	ErrNoReceipt         = apperr.New(apperr.ErrNotFound, "expense has no receipt")
	ErrNotEditable       = apperr.New(apperr.ErrConflict, "only draft invoices can be edited")
	ErrInvalidTransition = apperr.New(apperr.ErrConflict, "invalid invoice status transition")
	ErrDuplicateNumber   = apperr.New(apperr.ErrConflict, "invoice number already used")
)

const (
	// ExportConcurrency bounds the invoices fetched and rendered at once.
	ExportConcurrency = 5
	// MaxExportInvoices caps a single zip export.
	MaxExportInvoices = 500

	defaultSeries = "F"
	linkTTL       = 7 * 24 * time.Hour
)

var receiptTypes = map[string]string{
	"image/png":       ".png",
	"image/jpeg":      ".jpg",
	"image/webp":      ".webp",
	"application/pdf": ".pdf",
}

type Organizations interface {
	GetOrganization(ctx context.Context, id uuid.UUID) (*identity.Organization, error)
}

type Clients interface {
	GetClient(ctx context.Context, orgID, id uuid.UUID) (*crm.Client, error)
}

type Service struct {
	invoices InvoiceRepository
	expenses ExpenseRepository
	tx       db.TxRunner
	orgs     Organizations
	clients  Clients
	blobs    blobstore.Store
	mailer   *notification.Mailer
	events   events.Publisher
	logger   zerolog.Logger
	now      func() time.Time
}

func NewService(invoices InvoiceRepository, expenses ExpenseRepository, tx db.TxRunner, orgs Organizations, clients Clients, blobs blobstore.Store, mailer *notification.Mailer, pub events.Publisher, logger zerolog.Logger) *Service {
	return &Service{
		invoices: invoices,
		expenses: expenses,
		tx:       tx,
		orgs:     orgs,
		clients:  clients,
		blobs:    blobs,
		mailer:   mailer,
		events:   pub,
		logger:   logger,
		now:      time.Now,
	}
}

func (s *Service) today(org *identity.Organization) time.Time {
	y, m, d := s.now().In(org.Location()).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func snapshotClient(inv *Invoice, c *crm.Client) {
	inv.ClientName = c.FullName()
	inv.ClientTaxID = c.TaxID
	inv.ClientAddress = c.Address
}

// -- Invoices --

// CreateInvoice stores a draft. The number is allocated in the same
// transaction as the insert, so a failed insert rolls the sequence back.
func (s *Service) CreateInvoice(ctx context.Context, orgID uuid.UUID, in InvoiceInput) (*Invoice, error) {
	org, err := s.orgs.GetOrganization(ctx, orgID)
	if err != nil {
		return nil, err
	}
	inv := &Invoice{OrganizationID: orgID, Status: StatusDraft}
	if err := in.apply(inv, s.today(org)); err != nil {
		return nil, err
	}
	client, err := s.clients.GetClient(ctx, orgID, inv.ClientID)
	if err != nil {
		return nil, err
	}
	snapshotClient(inv, client)
	inv.IssuerName = org.Name
	inv.IssuerTaxID = org.TaxID
	inv.IssuerAddress = org.Address

	inv.Series = strings.ToUpper(strings.TrimSpace(in.Series))
	if inv.Series == "" {
		inv.Series = org.InvoiceSeries
	}
	if inv.Series == "" {
		inv.Series = defaultSeries
	}
	inv.Year = inv.IssueDate.Year()

	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		n, err := s.invoices.NextNumber(ctx, orgID, inv.Series, inv.Year)
		if err != nil {
			return err
		}
		inv.Number = FormatNumber(inv.Series, inv.Year, n)
		return s.invoices.Create(ctx, inv)
	})
	if err != nil {
		return nil, err
	}
	return inv, nil
}

func (s *Service) GetInvoice(ctx context.Context, orgID, id uuid.UUID) (*Invoice, error) {
	return s.invoices.GetByID(ctx, orgID, id)
}

func (s *Service) ListInvoices(ctx context.Context, orgID uuid.UUID, f InvoiceFilter, limit, offset int) ([]*Invoice, int, error) {
	return s.invoices.List(ctx, orgID, f, limit, offset)
}

// UpdateInvoice rewrites a draft. The number keeps its series and year.
func (s *Service) UpdateInvoice(ctx context.Context, orgID, id uuid.UUID, in InvoiceInput) (*Invoice, error) {
	org, err := s.orgs.GetOrganization(ctx, orgID)
	if err != nil {
		return nil, err
	}
	var inv *Invoice
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		inv, err = s.invoices.GetForUpdate(ctx, orgID, id)
		if err != nil {
			return err
		}
		if inv.Status != StatusDraft {
			return ErrNotEditable
		}
		previousClient := inv.ClientID
		if err := in.apply(inv, s.today(org)); err != nil {
			return err
		}
		if inv.IssueDate.Year() != inv.Year {
			return apperr.Invalid("issue_date", fmt.Sprintf("must stay within %d", inv.Year))
		}
		if inv.ClientID != previousClient {
			client, err := s.clients.GetClient(ctx, orgID, inv.ClientID)
			if err != nil {
				return err
			}
			snapshotClient(inv, client)
		}
		return s.invoices.Update(ctx, inv)
	})
	if err != nil {
		return nil, err
	}
	return inv, nil
}

// ChangeStatus applies a guarded transition. Issuing stores the PDF and
// emails the client; delivery failures do not undo the transition.
func (s *Service) ChangeStatus(ctx context.Context, orgID, id uuid.UUID, status string) (*Invoice, error) {
	var inv *Invoice
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		inv, err = s.invoices.GetForUpdate(ctx, orgID, id)
		if err != nil {
			return err
		}
		if !CanTransition(inv.Status, status) {
			return apperr.New(ErrInvalidTransition, fmt.Sprintf("cannot move invoice from %s to %s", inv.Status, status))
		}
		if err := s.invoices.UpdateStatus(ctx, orgID, id, status); err != nil {
			return err
		}
		inv.Status = status
		return nil
	})
	if err != nil {
		return nil, err
	}

	switch status {
	case StatusIssued:
		if err := s.deliver(ctx, inv); err != nil {
			s.logger.Warn().Err(err).Str("invoice", inv.Number).Msg("invoice delivery failed")
		}
		events.Emit(ctx, s.events, s.logger, events.New(events.InvoiceIssued, orgID, map[string]interface{}{
			"invoice_id": inv.ID, "number": inv.Number, "total": inv.TotalAmount.StringFixed(2),
		}))
	case StatusPaid:
		events.Emit(ctx, s.events, s.logger, events.New(events.InvoicePaid, orgID, map[string]interface{}{
			"invoice_id": inv.ID, "number": inv.Number, "total": inv.TotalAmount.StringFixed(2),
		}))
	}
	return inv, nil
}

func (s *Service) deliver(ctx context.Context, inv *Invoice) error {
	doc, err := renderPDF(inv)
	if err != nil {
		return err
	}
	key := path.Join(inv.OrganizationID.String(), "invoices", inv.Filename())
	if _, err := s.blobs.Put(ctx, key, "application/pdf", bytes.NewReader(doc)); err != nil {
		return fmt.Errorf("store invoice pdf: %w", err)
	}
	client, err := s.clients.GetClient(ctx, inv.OrganizationID, inv.ClientID)
	if err != nil {
		return err
	}
	if client.Email == "" {
		return nil
	}
	link, err := s.blobs.URL(ctx, key, linkTTL)
	if err != nil {
		return err
	}
	return s.mailer.Send(ctx, notification.TemplateInvoiceIssued, client.Email, map[string]string{
		"client_name": client.FullName(),
		"number":      inv.Number,
		"total":       money(inv.TotalAmount, inv.Currency),
		"link":        link,
		"clinic":      inv.IssuerName,
	})
}

func (s *Service) RenderPDF(ctx context.Context, orgID, id uuid.UUID) ([]byte, string, error) {
	inv, err := s.invoices.GetByID(ctx, orgID, id)
	if err != nil {
		return nil, "", err
	}
	doc, err := renderPDF(inv)
	if err != nil {
		return nil, "", err
	}
	return doc, inv.Filename(), nil
}

// ExportZip writes the PDFs of the requested invoices to w as a zip archive.
// Invoices are fetched and rendered concurrently, at most ExportConcurrency
// at a time, and written in request order. Duplicate ids are written once.
func (s *Service) ExportZip(ctx context.Context, orgID uuid.UUID, ids []uuid.UUID, w io.Writer) error {
	seen := make(map[uuid.UUID]bool, len(ids))
	unique := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			unique = append(unique, id)
		}
	}
	switch {
	case len(unique) == 0:
		return apperr.Invalid("ids", "at least one invoice is required")
	case len(unique) > MaxExportInvoices:
		return apperr.Invalid("ids", fmt.Sprintf("at most %d invoices per export", MaxExportInvoices))
	}

	type rendered struct {
		name string
		doc  []byte
	}
	out := make([]rendered, len(unique))

	g, gctx := errgroup.WithContext(db.Detached(ctx))
	g.SetLimit(ExportConcurrency)
	for i, id := range unique {
		i, id := i, id
		g.Go(func() error {
			inv, err := s.invoices.GetByID(gctx, orgID, id)
			if err != nil {
				return fmt.Errorf("invoice %s: %w", id, err)
			}
			doc, err := renderPDF(inv)
			if err != nil {
				return err
			}
			out[i] = rendered{name: inv.Filename(), doc: doc}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	zw := zip.NewWriter(w)
	for _, r := range out {
		f, err := zw.Create(r.name)
		if err != nil {
			return fmt.Errorf("zip %s: %w", r.name, err)
		}
		if _, err := f.Write(r.doc); err != nil {
			return fmt.Errorf("zip %s: %w", r.name, err)
		}
	}
	return zw.Close()
}

// -- Expenses --

func (s *Service) CreateExpense(ctx context.Context, orgID uuid.UUID, in ExpenseInput) (*Expense, error) {
	e := &Expense{OrganizationID: orgID}
	if err := in.apply(e); err != nil {
		return nil, err
	}
	if err := s.expenses.Create(ctx, e); err != nil {
		return nil, err
	}
	return e, nil
}

func (s *Service) GetExpense(ctx context.Context, orgID, id uuid.UUID) (*Expense, error) {
	return s.expenses.GetByID(ctx, orgID, id)
}

func (s *Service) UpdateExpense(ctx context.Context, orgID, id uuid.UUID, in ExpenseInput) (*Expense, error) {
	e, err := s.expenses.GetByID(ctx, orgID, id)
	if err != nil {
		return nil, err
	}
	if err := in.apply(e); err != nil {
		return nil, err
	}
	if err := s.expenses.Update(ctx, e); err != nil {
		return nil, err
	}
	return e, nil
}

func (s *Service) DeleteExpense(ctx context.Context, orgID, id uuid.UUID) error {
	e, err := s.expenses.GetByID(ctx, orgID, id)
	if err != nil {
		return err
	}
	if err := s.expenses.Delete(ctx, orgID, id); err != nil {
		return err
	}
	if e.ReceiptKey != nil {
		s.removeBlob(ctx, *e.ReceiptKey)
	}
	return nil
}

func (s *Service) ListExpenses(ctx context.Context, orgID uuid.UUID, f ExpenseFilter, limit, offset int) ([]*Expense, int, error) {
	return s.expenses.List(ctx, orgID, f, limit, offset)
}

// UploadReceipt stores a receipt image or PDF and replaces any previous one.
func (s *Service) UploadReceipt(ctx context.Context, orgID, id uuid.UUID, contentType string, r io.Reader) (*Expense, error) {
	ext, ok := receiptTypes[contentType]
	if !ok {
		return nil, apperr.Invalid("file", "receipt must be an image or a PDF")
	}
	e, err := s.expenses.GetByID(ctx, orgID, id)
	if err != nil {
		return nil, err
	}
	obj, err := s.blobs.Put(ctx, blobstore.Key(orgID, "receipts", ext), contentType, r)
	if err != nil {
		return nil, err
	}
	previous := e.ReceiptKey
	e.ReceiptKey = &obj.Key
	if err := s.expenses.Update(ctx, e); err != nil {
		s.removeBlob(ctx, obj.Key)
		return nil, err
	}
	if previous != nil {
		s.removeBlob(ctx, *previous)
	}
	return e, nil
}

func (s *Service) ReceiptURL(ctx context.Context, orgID, id uuid.UUID) (string, error) {
	e, err := s.expenses.GetByID(ctx, orgID, id)
	if err != nil {
		return "", err
	}
	if e.ReceiptKey == nil {
		return "", ErrNoReceipt
	}
	return s.blobs.URL(ctx, *e.ReceiptKey, time.Hour)
}

func (s *Service) removeBlob(ctx context.Context, key string) {
	if err := s.blobs.Delete(ctx, key); err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("failed to remove blob")
	}
}

// Summary totals expenses by category and invoiced income between two dates,
// both inclusive.
func (s *Service) Summary(ctx context.Context, orgID uuid.UUID, from, to time.Time) (*Summary, error) {
	if to.Before(from) {
		return nil, apperr.Invalid("to", "must not be before from")
	}
	cats, err := s.expenses.TotalsByCategory(ctx, orgID, from, to)
	if err != nil {
		return nil, err
	}
	income, err := s.invoices.Income(ctx, orgID, from, to)
	if err != nil {
		return nil, err
	}
	sum := &Summary{From: from, To: to, Categories: cats, Income: income}
	if sum.Categories == nil {
		sum.Categories = []CategoryTotal{}
	}
	for _, c := range cats {
		sum.Expenses = sum.Expenses.Add(c.Total)
	}
	sum.Balance = sum.Income.Sub(sum.Expenses)
	return sum, nil
}
