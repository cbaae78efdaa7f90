package messaging

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/clinicdesk/clinicdesk/internal/platform/db"
	"github.com/clinicdesk/clinicdesk/internal/platform/middleware"
	"github.com/clinicdesk/clinicdesk/internal/platform/webhook"
)

const appSecret = "app-secret"

func webhookServer(env *testEnv) *echo.Echo {
	e := echo.New()
	e.HTTPErrorHandler = middleware.ErrorHandler(zerolog.Nop())
	NewHandler(env.svc, appSecret).RegisterWebhookRoutes(e.Group(""))
	return e
}

func TestHandler_VerifyEchoesChallenge(t *testing.T) {
	env := newTestEnv()
	e := webhookServer(env)

	req := httptest.NewRequest(http.MethodGet, "/webhooks/whatsapp?hub.mode=subscribe&hub.verify_token=global-token&hub.challenge=98765", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || rec.Body.String() != "98765" {
		t.Fatalf("expected 200 with challenge, got %d %q", rec.Code, rec.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/webhooks/whatsapp?hub.mode=subscribe&hub.verify_token=bad&hub.challenge=98765", nil)
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", rec.Code)
	}
}

func TestHandler_ReceiveRequiresSignature(t *testing.T) {
	env := newTestEnv()
	env.activate(t)
	e := webhookServer(env)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/whatsapp", strings.NewReader(inboundPayload))
	req.Header.Set(webhook.SignatureHeader, webhook.Sign([]byte(inboundPayload), "wrong"))
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for a bad signature, got %d", rec.Code)
	}
	if len(env.messages.msgs) != 0 {
		t.Fatal("expected nothing stored for a forged delivery")
	}

	req = httptest.NewRequest(http.MethodPost, "/webhooks/whatsapp", strings.NewReader(inboundPayload))
	req.Header.Set(webhook.SignatureHeader, webhook.Sign([]byte(inboundPayload), appSecret))
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(env.messages.msgs) != 2 {
		t.Errorf("expected 2 stored messages, got %d", len(env.messages.msgs))
	}
}

func TestHandler_SendValidation(t *testing.T) {
	env := newTestEnv()
	env.activate(t)
	h := NewHandler(env.svc, appSecret)

	req := httptest.NewRequest(http.MethodPost, "/whatsapp/messages", strings.NewReader(`{"to":"+34600111222","body":"  "}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req = req.WithContext(db.WithOrganization(req.Context(), env.org))
	rec := httptest.NewRecorder()

	err := h.Send(echo.New().NewContext(req, rec))
	if status, _ := middleware.StatusFor(err); status != http.StatusBadRequest {
		t.Errorf("expected 400 for an empty body, got %d (%v)", status, err)
	}
}
