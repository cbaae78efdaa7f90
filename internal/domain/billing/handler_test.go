package billing

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/clinicdesk/clinicdesk/internal/platform/db"
)

func newTestHandler() (*Handler, *testEnv, *echo.Echo) {
	env := newTestEnv()
	return NewHandler(env.svc), env, echo.New()
}

func orgRequest(env *testEnv, method, target, body string) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	return req.WithContext(db.WithOrganization(req.Context(), env.org))
}

func TestHandler_CreateInvoice(t *testing.T) {
	h, env, e := newTestHandler()
	body := fmt.Sprintf(`{"client_id":%q,"lines":[{"description":"Sesión","quantity":"1","unit_price":"100"}]}`, env.client)
	rec := httptest.NewRecorder()
	c := e.NewContext(orgRequest(env, http.MethodPost, "/invoices", body), rec)

	if err := h.CreateInvoice(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}
	var inv Invoice
	if err := json.Unmarshal(rec.Body.Bytes(), &inv); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if inv.Number != "F-2024-0001" || inv.TotalAmount.StringFixed(2) != "121.00" {
		t.Errorf("unexpected invoice %s %s", inv.Number, inv.TotalAmount)
	}
}

func TestHandler_ChangeStatus_InvalidTransition(t *testing.T) {
	h, env, e := newTestHandler()
	inv := env.draft(t, "100")
	c := e.NewContext(orgRequest(env, http.MethodPatch, "/", `{"status":"paid"}`), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues(inv.ID.String())

	if err := h.ChangeStatus(c); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestHandler_DownloadPDF(t *testing.T) {
	h, env, e := newTestHandler()
	inv := env.draft(t, "100")
	rec := httptest.NewRecorder()
	c := e.NewContext(orgRequest(env, http.MethodGet, "/", ""), rec)
	c.SetParamNames("id")
	c.SetParamValues(inv.ID.String())

	if err := h.DownloadPDF(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ct := rec.Header().Get(echo.HeaderContentType); ct != "application/pdf" {
		t.Errorf("expected application/pdf, got %s", ct)
	}
	if !strings.Contains(rec.Header().Get(echo.HeaderContentDisposition), "F-2024-0001.pdf") {
		t.Errorf("unexpected disposition %s", rec.Header().Get(echo.HeaderContentDisposition))
	}
}

func TestHandler_ExportInvoices(t *testing.T) {
	h, env, e := newTestHandler()
	a, b := env.draft(t, "10"), env.draft(t, "20")
	body := fmt.Sprintf(`{"ids":[%q,%q]}`, a.ID, b.ID)
	rec := httptest.NewRecorder()
	c := e.NewContext(orgRequest(env, http.MethodPost, "/invoices/export", body), rec)

	if err := h.ExportInvoices(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Header().Get(echo.HeaderContentType) != "application/zip" {
		t.Errorf("expected application/zip, got %s", rec.Header().Get(echo.HeaderContentType))
	}
	if !bytes.HasPrefix(rec.Body.Bytes(), []byte("PK")) {
		t.Error("expected a zip archive")
	}
}

func TestHandler_Summary_RequiresPeriod(t *testing.T) {
	h, env, e := newTestHandler()
	c := e.NewContext(orgRequest(env, http.MethodGet, "/expenses/summary?from=2024-06-01", ""), httptest.NewRecorder())

	err := h.Summary(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %v", err)
	}
}

func TestHandler_UploadReceipt(t *testing.T) {
	h, env, e := newTestHandler()
	exp, err := env.svc.CreateExpense(context.Background(), env.org, ExpenseInput{Date: "2024-06-01", Category: "material", BaseAmount: dec("10"), VATRate: dec("21")})
	if err != nil {
		t.Fatalf("create expense: %v", err)
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	hdr := textproto.MIMEHeader{}
	hdr.Set("Content-Disposition", `form-data; name="file"; filename="ticket.pdf"`)
	hdr.Set("Content-Type", "application/pdf")
	fw, _ := mw.CreatePart(hdr)
	fw.Write([]byte("%PDF-1.4"))
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/", &buf)
	req.Header.Set(echo.HeaderContentType, mw.FormDataContentType())
	req = req.WithContext(db.WithOrganization(req.Context(), env.org))
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(exp.ID.String())

	if err := h.UploadReceipt(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var got Expense
	json.Unmarshal(rec.Body.Bytes(), &got)
	if got.ReceiptKey == nil || !strings.HasSuffix(*got.ReceiptKey, ".pdf") {
		t.Errorf("expected a pdf receipt key, got %v", got.ReceiptKey)
	}
}

func TestHandler_InvalidID(t *testing.T) {
	h, env, e := newTestHandler()
	c := e.NewContext(orgRequest(env, http.MethodGet, "/", ""), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues("not-a-uuid")

	err := h.GetInvoice(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %v", err)
	}
}
