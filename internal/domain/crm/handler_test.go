package crm

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/clinicdesk/clinicdesk/internal/platform/db"
	"github.com/clinicdesk/clinicdesk/pkg/pagination"
)

func newTestHandler() (*Handler, *testEnv, *echo.Echo) {
	env := newTestEnv()
	return NewHandler(env.svc), env, echo.New()
}

func orgRequest(env *testEnv, method, body string) *http.Request {
	req := httptest.NewRequest(method, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	return req.WithContext(db.WithOrganization(req.Context(), env.org))
}

func TestHandler_CreateClient(t *testing.T) {
	h, env, e := newTestHandler()
	rec := httptest.NewRecorder()
	c := e.NewContext(orgRequest(env, http.MethodPost, `{"first_name":"Lucía","phone":"600 111 444"}`), rec)

	if err := h.CreateClient(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}
	var cl Client
	json.Unmarshal(rec.Body.Bytes(), &cl)
	if cl.Phone != "+34600111444" {
		t.Errorf("expected normalized phone, got %s", cl.Phone)
	}
}

func TestHandler_GetClient_InvalidID(t *testing.T) {
	h, env, e := newTestHandler()
	c := e.NewContext(orgRequest(env, http.MethodGet, ""), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues("not-a-uuid")

	err := h.GetClient(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %v", err)
	}
}

func TestHandler_GetClient_NotFound(t *testing.T) {
	h, env, e := newTestHandler()
	c := e.NewContext(orgRequest(env, http.MethodGet, ""), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues(uuid.NewString())

	if err := h.GetClient(c); err != ErrClientNotFound {
		t.Fatalf("expected ErrClientNotFound, got %v", err)
	}
}

func TestHandler_ListClients(t *testing.T) {
	h, env, e := newTestHandler()
	env.svc.CreateClient(orgRequest(env, "GET", "").Context(), env.org, &Client{FirstName: "A"})

	rec := httptest.NewRecorder()
	if err := h.ListClients(e.NewContext(orgRequest(env, http.MethodGet, ""), rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var resp pagination.Response
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Total != 1 {
		t.Errorf("expected total 1, got %d", resp.Total)
	}
}

func TestHandler_ImportCSV(t *testing.T) {
	h, env, e := newTestHandler()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, _ := mw.CreateFormFile("file", "clientes.csv")
	fw.Write([]byte("cliente,movil\nRoberto Sanz,600111555\n"))
	mw.WriteField("mapping", `{"cliente":"full_name","movil":"phone"}`)
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/", &buf)
	req.Header.Set(echo.HeaderContentType, mw.FormDataContentType())
	req = req.WithContext(db.WithOrganization(req.Context(), env.org))
	rec := httptest.NewRecorder()

	if err := h.ImportCSV(e.NewContext(req, rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var report ImportReport
	json.Unmarshal(rec.Body.Bytes(), &report)
	if report.Imported != 1 {
		t.Errorf("expected 1 imported, got %+v", report)
	}
}

func TestHandler_ImportCSV_MissingFile(t *testing.T) {
	h, env, e := newTestHandler()
	err := h.ImportCSV(e.NewContext(orgRequest(env, http.MethodPost, "{}"), httptest.NewRecorder()))
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %v", err)
	}
}
