package consent

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/clinicdesk/clinicdesk/internal/platform/db"
)

func TestHandler_IssueLink(t *testing.T) {
	env := newTestEnv(t)
	h, e := NewHandler(env.svc), echo.New()
	body := fmt.Sprintf(`{"client_id":%q,"ttl":"2h"}`, env.client)
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req = req.WithContext(db.WithOrganization(req.Context(), env.org))
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(env.form.ID.String())

	if err := h.IssueLink(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var link Link
	json.Unmarshal(rec.Body.Bytes(), &link)
	if !link.ExpiresAt.Equal(baseTime.Add(2 * time.Hour)) {
		t.Errorf("expected 2h expiry, got %v", link.ExpiresAt)
	}
}

func TestHandler_IssueLink_BadTTL(t *testing.T) {
	env := newTestEnv(t)
	h, e := NewHandler(env.svc), echo.New()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"ttl":"-1h"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req = req.WithContext(db.WithOrganization(req.Context(), env.org))
	c := e.NewContext(req, httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues(env.form.ID.String())

	err := h.IssueLink(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %v", err)
	}
}

func TestHandler_SignPublic(t *testing.T) {
	env := newTestEnv(t)
	_, raw := env.link(t, time.Hour)
	h, e := NewHandler(env.svc), echo.New()

	body := fmt.Sprintf(`{"image":%q,"signer_name":"Lucía Martín"}`, signaturePNG(t))
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req.Header.Set(echo.HeaderXRealIP, "198.51.100.4")
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("token")
	c.SetParamValues(raw)

	if err := h.Sign(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}
	list, _ := env.svc.ListClientConsents(req.Context(), env.org, env.client)
	if len(list) != 1 || list[0].SignerIP != "198.51.100.4" {
		t.Errorf("expected consent with signer ip, got %+v", list)
	}

	// a second attempt sees the link as gone
	c = e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
	c.SetParamNames("token")
	c.SetParamValues(raw)
	if err := h.Open(c); !errors.Is(err, ErrLinkUsed) {
		t.Errorf("expected ErrLinkUsed, got %v", err)
	}
}
