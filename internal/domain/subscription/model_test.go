package subscription

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v79"

	"github.com/clinicdesk/clinicdesk/internal/platform/apperr"
)

func madrid(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("Europe/Madrid")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	return loc
}

func TestLabels_UseOrganizationZone(t *testing.T) {
	loc := madrid(t)
	// midnight in Madrid is the previous day in UTC
	start := time.Date(2024, 5, 31, 22, 0, 0, 0, time.UTC)
	end := time.Date(2024, 6, 30, 22, 0, 0, 0, time.UTC)

	if got := PeriodLabel(start, end, loc); got != "01/06/2024 – 01/07/2024" {
		t.Errorf("expected period label 01/06/2024 – 01/07/2024, got %q", got)
	}
	if got := ExpiresLabel(end, loc); got != "expires 01/07/2024" {
		t.Errorf("expected expires 01/07/2024, got %q", got)
	}
}

func TestApply_ExpiresOnlyWhenEnding(t *testing.T) {
	loc := madrid(t)
	now := time.Date(2024, 6, 2, 9, 0, 0, 0, time.UTC)
	sub := &RemoteSubscription{
		ID: "sub_1", CustomerID: "cus_1", Status: StatusActive, Interval: "month",
		PeriodStart: time.Date(2024, 5, 31, 22, 0, 0, 0, time.UTC),
		PeriodEnd:   time.Date(2024, 6, 30, 22, 0, 0, 0, time.UTC),
		Card:        &Card{Brand: "visa", Last4: "4242", ExpMonth: 12, ExpYear: 2030},
	}

	acct := &BillingAccount{OrganizationID: uuid.New(), Status: StatusNone}
	acct.apply(sub, loc, now)
	if acct.ExpiresLabel != "" {
		t.Errorf("expected no expiry label for a renewing subscription, got %q", acct.ExpiresLabel)
	}
	if acct.PeriodLabel != "01/06/2024 – 01/07/2024" || acct.PlanInterval != "month" {
		t.Errorf("unexpected period %q / %q", acct.PeriodLabel, acct.PlanInterval)
	}
	if acct.CardLast4 != "4242" || acct.CardExpYear != 2030 {
		t.Errorf("expected card to be mirrored, got %s %d", acct.CardLast4, acct.CardExpYear)
	}
	if acct.SyncedAt == nil || !acct.SyncedAt.Equal(now) {
		t.Errorf("expected synced_at %v, got %v", now, acct.SyncedAt)
	}

	sub.CancelAtPeriodEnd = true
	sub.Card = nil
	acct.apply(sub, loc, now)
	if acct.ExpiresLabel != "expires 01/07/2024" {
		t.Errorf("expected expiry label, got %q", acct.ExpiresLabel)
	}
	if acct.CardLast4 != "4242" {
		t.Error("expected card to survive a sync without payment method")
	}
}

func TestLive(t *testing.T) {
	tests := []struct {
		status string
		subID  string
		want   bool
	}{
		{StatusNone, "", false},
		{StatusActive, "sub_1", true},
		{StatusPastDue, "sub_1", true},
		{StatusIncomplete, "sub_1", true},
		{StatusCanceled, "sub_1", false},
		{StatusActive, "", false},
	}
	for _, tt := range tests {
		a := &BillingAccount{Status: tt.status, StripeSubscriptionID: tt.subID}
		if got := a.Live(); got != tt.want {
			t.Errorf("Live(%s, %q): expected %v, got %v", tt.status, tt.subID, tt.want, got)
		}
	}
}

func TestSubscribeInput_Normalize(t *testing.T) {
	in := SubscribeInput{Email: " Owner@Clinic.ES ", PaymentMethodID: "pm_123"}
	if err := in.normalize("price_basic"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if in.Email != "owner@clinic.es" || in.PriceID != "price_basic" {
		t.Errorf("unexpected normalized input %+v", in)
	}

	bad := SubscribeInput{Email: "nope", PaymentMethodID: "card_1"}
	err := bad.normalize("")
	var ve *apperr.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected validation error, got %v", err)
	}
	for _, f := range []string{"email", "price_id", "payment_method_id"} {
		if _, ok := ve.Fields[f]; !ok {
			t.Errorf("expected %s to be flagged", f)
		}
	}
}

func TestIdempotencyKey(t *testing.T) {
	org := uuid.New()
	a := idempotencyKey(org, "req-1", "subscribe", "price_1:pm_1")
	if a != idempotencyKey(org, "req-1", "subscribe", "price_1:pm_1") {
		t.Error("expected the same key for the same request")
	}
	if a == idempotencyKey(org, "req-2", "subscribe", "price_1:pm_1") {
		t.Error("expected a different key for a different request")
	}
	if a == idempotencyKey(org, "req-1", "subscribe", "price_1:pm_2") {
		t.Error("expected a different key for a different argument")
	}
	if a == idempotencyKey(uuid.New(), "req-1", "subscribe", "price_1:pm_1") {
		t.Error("expected a different key for a different organization")
	}
	if len(a) != 64 {
		t.Errorf("expected hex sha256, got %d chars", len(a))
	}
}

func TestRequestKey(t *testing.T) {
	ctx := WithRequestKey(context.Background(), "  req-7 ")
	if got := requestKey(ctx); got != "req-7" {
		t.Errorf("expected req-7, got %q", got)
	}
	if WithRequestKey(context.Background(), " ") != context.Background() {
		t.Error("expected a blank key to leave the context alone")
	}
	a, b := requestKey(context.Background()), requestKey(context.Background())
	if a == "" || a == b {
		t.Errorf("expected fresh keys without a request, got %q and %q", a, b)
	}
}

func TestRemoteOf(t *testing.T) {
	sub := &stripe.Subscription{
		ID:                 "sub_9",
		Status:             stripe.SubscriptionStatusPastDue,
		Customer:           &stripe.Customer{ID: "cus_9"},
		CurrentPeriodStart: 1717200000,
		CurrentPeriodEnd:   1719792000,
		CancelAtPeriodEnd:  true,
		Items: &stripe.SubscriptionItemList{Data: []*stripe.SubscriptionItem{
			{Price: &stripe.Price{Recurring: &stripe.PriceRecurring{Interval: stripe.PriceRecurringIntervalYear}}},
		}},
		DefaultPaymentMethod: &stripe.PaymentMethod{Card: &stripe.PaymentMethodCard{
			Brand: "mastercard", Last4: "4444", ExpMonth: 3, ExpYear: 2027,
		}},
	}

	got := remoteOf(sub)
	if got.CustomerID != "cus_9" || got.Status != StatusPastDue || got.Interval != "year" {
		t.Errorf("unexpected conversion %+v", got)
	}
	if !got.PeriodStart.Equal(time.Unix(1717200000, 0)) || !got.PeriodEnd.Equal(time.Unix(1719792000, 0)) {
		t.Errorf("unexpected period %v - %v", got.PeriodStart, got.PeriodEnd)
	}
	if got.Card == nil || got.Card.Brand != "mastercard" || got.Card.ExpMonth != 3 {
		t.Errorf("unexpected card %+v", got.Card)
	}
}
