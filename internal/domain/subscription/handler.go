package subscription

import (
	"context"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/clinicdesk/clinicdesk/internal/platform/auth"
	"github.com/clinicdesk/clinicdesk/internal/platform/db"
)

// maxWebhookBody bounds the Stripe payload read into memory.
const maxWebhookBody = 256 << 10

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes mounts the account endpoints. Billing is owner only.
func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/billing/subscription", auth.RequireRole(auth.RoleOwner))
	g.GET("", h.Get)
	g.POST("", h.Subscribe)
	g.POST("/sync", h.Sync)
	g.PUT("/payment-method", h.UpdatePaymentMethod)
	g.POST("/cancel", h.Cancel)
}

// RegisterWebhookRoutes mounts the Stripe callback. It sits outside
// authentication; the signature header is the credential.
func (h *Handler) RegisterWebhookRoutes(g *echo.Group) {
	g.POST("/webhooks/stripe", h.Webhook)
}

// withRequestKey scopes provider idempotency to this request. A client retry
// repeats its Idempotency-Key header; without one the request id is used.
func withRequestKey(c echo.Context) context.Context {
	key := c.Request().Header.Get(IdempotencyHeader)
	if key == "" {
		key, _ = c.Get("request_id").(string)
	}
	return WithRequestKey(c.Request().Context(), key)
}

func (h *Handler) Get(c echo.Context) error {
	orgID, err := db.RequireOrganization(c.Request().Context())
	if err != nil {
		return err
	}
	acct, err := h.svc.Get(c.Request().Context(), orgID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, acct)
}

func (h *Handler) Subscribe(c echo.Context) error {
	orgID, err := db.RequireOrganization(c.Request().Context())
	if err != nil {
		return err
	}
	var in SubscribeInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	acct, err := h.svc.Subscribe(withRequestKey(c), orgID, in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, acct)
}

func (h *Handler) Sync(c echo.Context) error {
	orgID, err := db.RequireOrganization(c.Request().Context())
	if err != nil {
		return err
	}
	acct, err := h.svc.Sync(c.Request().Context(), orgID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, acct)
}

func (h *Handler) UpdatePaymentMethod(c echo.Context) error {
	orgID, err := db.RequireOrganization(c.Request().Context())
	if err != nil {
		return err
	}
	var body struct {
		PaymentMethodID string `json:"payment_method_id"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	acct, err := h.svc.UpdatePaymentMethod(withRequestKey(c), orgID, body.PaymentMethodID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, acct)
}

func (h *Handler) Cancel(c echo.Context) error {
	orgID, err := db.RequireOrganization(c.Request().Context())
	if err != nil {
		return err
	}
	body := struct {
		AtPeriodEnd *bool `json:"at_period_end"`
	}{}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	atPeriodEnd := body.AtPeriodEnd == nil || *body.AtPeriodEnd
	acct, err := h.svc.Cancel(withRequestKey(c), orgID, atPeriodEnd)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, acct)
}

func (h *Handler) Webhook(c echo.Context) error {
	payload, err := io.ReadAll(io.LimitReader(c.Request().Body, maxWebhookBody+1))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "unreadable body")
	}
	if len(payload) > maxWebhookBody {
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge, "payload too large")
	}
	if err := h.svc.HandleWebhook(c.Request().Context(), payload, c.Request().Header.Get("Stripe-Signature")); err != nil {
		return err
	}
	return c.NoContent(http.StatusOK)
}
