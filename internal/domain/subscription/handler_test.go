package subscription

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stripe/stripe-go/v79/webhook"

	"github.com/clinicdesk/clinicdesk/internal/platform/db"
)

func orgRequest(env *testEnv, method, target, body string) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	return req.WithContext(db.WithOrganization(req.Context(), env.org))
}

func TestHandler_Subscribe(t *testing.T) {
	env := newTestEnv()
	h := NewHandler(env.svc)
	rec := httptest.NewRecorder()
	c := echo.New().NewContext(orgRequest(env, http.MethodPost, "/billing/subscription",
		`{"email":"owner@sol.es","payment_method_id":"pm_card_4242"}`), rec)

	if err := h.Subscribe(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	var acct BillingAccount
	if err := json.Unmarshal(rec.Body.Bytes(), &acct); err != nil {
		t.Fatal(err)
	}
	if acct.Status != StatusActive || acct.PeriodLabel == "" {
		t.Errorf("unexpected body %s", rec.Body.String())
	}
}

func TestHandler_CancelDefaultsToPeriodEnd(t *testing.T) {
	env := newTestEnv()
	env.subscribe(t)
	h := NewHandler(env.svc)
	rec := httptest.NewRecorder()
	c := echo.New().NewContext(orgRequest(env, http.MethodPost, "/billing/subscription/cancel", `{}`), rec)

	if err := h.Cancel(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	stored, _ := env.repo.Get(c.Request().Context(), env.org)
	if !stored.CancelAtPeriodEnd || stored.Status != StatusActive {
		t.Errorf("expected cancellation at period end, got %+v", stored)
	}
}

func TestHandler_IdempotencyKeyHeader(t *testing.T) {
	env := newTestEnv()
	env.subscribe(t)
	h := NewHandler(env.svc)

	update := func(hdr, rid string) {
		t.Helper()
		req := orgRequest(env, http.MethodPut, "/billing/subscription/payment-method", `{"payment_method_id":"pm_card_1111"}`)
		if hdr != "" {
			req.Header.Set(IdempotencyHeader, hdr)
		}
		c := echo.New().NewContext(req, httptest.NewRecorder())
		c.Set("request_id", rid)
		if err := h.UpdatePaymentMethod(c); err != nil {
			t.Fatalf("update: %v", err)
		}
	}
	update("client-key-1", "rid-1")
	update("", "rid-2")

	keys := env.gateway.keys("default")
	if want := idempotencyKey(env.org, "client-key-1", "default", "pm_card_1111"); keys[1] != want {
		t.Errorf("expected the header to scope the key, got %s", keys[1])
	}
	if want := idempotencyKey(env.org, "rid-2", "default", "pm_card_1111"); keys[2] != want {
		t.Errorf("expected the request id to scope the key, got %s", keys[2])
	}
}

func TestHandler_RequiresOrganization(t *testing.T) {
	env := newTestEnv()
	h := NewHandler(env.svc)
	req := httptest.NewRequest(http.MethodGet, "/billing/subscription", nil)
	c := echo.New().NewContext(req, httptest.NewRecorder())

	if err := h.Get(c); !errors.Is(err, db.ErrNoOrganization) {
		t.Errorf("expected no organization error, got %v", err)
	}
}

func TestStripeGateway_ParseWebhook(t *testing.T) {
	const secret = "whsec_test"
	g := NewStripeGateway("sk_test_unused", secret)
	payload := []byte(`{
		"id": "evt_1",
		"object": "event",
		"type": "customer.subscription.updated",
		"data": {"object": {"id": "sub_1", "object": "subscription", "customer": "cus_1", "status": "active"}}
	}`)

	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    secret,
		Timestamp: time.Now(),
	})
	evt, err := g.ParseWebhook(payload, signed.Header)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if evt.ID != "evt_1" || evt.SubscriptionID != "sub_1" || evt.CustomerID != "cus_1" {
		t.Errorf("unexpected event %+v", evt)
	}

	forged := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    "whsec_other",
		Timestamp: time.Now(),
	})
	if _, err := g.ParseWebhook(payload, forged.Header); !errors.Is(err, ErrInvalidSignature) {
		t.Errorf("expected invalid signature, got %v", err)
	}
}

func TestHandler_WebhookRejectsBadSignature(t *testing.T) {
	env := newTestEnv()
	h := NewHandler(env.svc)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", strings.NewReader(`{}`))
	req.Header.Set("Stripe-Signature", "t=1,v1=deadbeef")
	rec := httptest.NewRecorder()

	err := h.Webhook(echo.New().NewContext(req, rec))
	if !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected invalid signature, got %v", err)
	}
}
