package identity

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/clinicdesk/clinicdesk/internal/platform/db"
)

func newTestHandler() (*Handler, *echo.Echo) {
	return NewHandler(newTestService()), echo.New()
}

func jsonRequest(method, body string) *http.Request {
	req := httptest.NewRequest(method, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	return req
}

func TestHandler_SignupAndLogin(t *testing.T) {
	h, e := newTestHandler()

	rec := httptest.NewRecorder()
	body := `{"organization_name":"Clinica Sol","full_name":"Eva","email":"eva@example.com","password":"supersecret"}`
	if err := h.Signup(e.NewContext(jsonRequest(http.MethodPost, body), rec)); err != nil {
		t.Fatalf("signup: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	if err := h.Login(e.NewContext(jsonRequest(http.MethodPost, `{"email":"eva@example.com","password":"supersecret"}`), rec)); err != nil {
		t.Fatalf("login: %v", err)
	}
	var sess Session
	json.Unmarshal(rec.Body.Bytes(), &sess)
	if sess.Token == "" {
		t.Error("expected a token")
	}
}

func TestHandler_Login_Unauthorized(t *testing.T) {
	h, e := newTestHandler()
	err := h.Login(e.NewContext(jsonRequest(http.MethodPost, `{"email":"x@example.com","password":"nope12345"}`), httptest.NewRecorder()))
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %v", err)
	}
}

func TestHandler_GetOrganization(t *testing.T) {
	h, e := newTestHandler()
	_, org, err := h.svc.Signup(context.Background(), validSignup())
	if err != nil {
		t.Fatalf("signup: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(db.WithOrganization(req.Context(), org.ID))
	rec := httptest.NewRecorder()
	if err := h.GetOrganization(e.NewContext(req, rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var got Organization
	json.Unmarshal(rec.Body.Bytes(), &got)
	if got.ID != org.ID {
		t.Errorf("expected %s, got %s", org.ID, got.ID)
	}
}

func TestHandler_GetOrganization_NoSession(t *testing.T) {
	h, e := newTestHandler()
	err := h.GetOrganization(e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder()))
	if err != db.ErrNoOrganization {
		t.Fatalf("expected ErrNoOrganization, got %v", err)
	}
}
