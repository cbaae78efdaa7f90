package messaging

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/clinicdesk/clinicdesk/internal/platform/auth"
	"github.com/clinicdesk/clinicdesk/internal/platform/db"
	"github.com/clinicdesk/clinicdesk/internal/platform/webhook"
	"github.com/clinicdesk/clinicdesk/pkg/pagination"
)

const maxWebhookBody = 1 << 20

type Handler struct {
	svc       *Service
	appSecret string
}

func NewHandler(svc *Service, appSecret string) *Handler {
	return &Handler{svc: svc, appSecret: appSecret}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	admin := api.Group("/whatsapp", auth.RequireRole(auth.RoleAdmin))
	admin.GET("", h.GetProject)
	admin.PUT("", h.Connect)
	admin.POST("/setup", h.Setup)
	admin.PUT("/profile", h.UpdateProfile)

	staff := api.Group("", auth.RequireRole(auth.RoleStaff, auth.RoleProfessional))
	staff.POST("/whatsapp/messages", h.Send)
	staff.GET("/clients/:id/whatsapp", h.Conversations)
}

// RegisterWebhookRoutes mounts the Cloud API callback outside
// authentication. Deliveries are verified with the app secret.
func (h *Handler) RegisterWebhookRoutes(g *echo.Group) {
	g.GET("/webhooks/whatsapp", h.Verify)
	g.POST("/webhooks/whatsapp", h.Receive, webhook.RequireSignature(h.appSecret, maxWebhookBody))
}

func (h *Handler) GetProject(c echo.Context) error {
	orgID, err := db.RequireOrganization(c.Request().Context())
	if err != nil {
		return err
	}
	p, err := h.svc.GetProject(c.Request().Context(), orgID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) Connect(c echo.Context) error {
	orgID, err := db.RequireOrganization(c.Request().Context())
	if err != nil {
		return err
	}
	var in ConnectInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	p, err := h.svc.Connect(c.Request().Context(), orgID, in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) Setup(c echo.Context) error {
	orgID, err := db.RequireOrganization(c.Request().Context())
	if err != nil {
		return err
	}
	p, err := h.svc.Setup(c.Request().Context(), orgID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) UpdateProfile(c echo.Context) error {
	orgID, err := db.RequireOrganization(c.Request().Context())
	if err != nil {
		return err
	}
	var profile Profile
	if err := c.Bind(&profile); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := h.svc.UpdateProfile(c.Request().Context(), orgID, profile); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// Send delivers a text, or a template when "template" is set.
func (h *Handler) Send(c echo.Context) error {
	orgID, err := db.RequireOrganization(c.Request().Context())
	if err != nil {
		return err
	}
	var body struct {
		To       string   `json:"to"`
		Body     string   `json:"body"`
		Template string   `json:"template"`
		Params   []string `json:"params"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	var m *Message
	if body.Template != "" {
		m, err = h.svc.SendTemplate(c.Request().Context(), orgID, body.To, body.Template, body.Params)
	} else {
		m, err = h.svc.SendText(c.Request().Context(), orgID, body.To, body.Body)
	}
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, m)
}

func (h *Handler) Conversations(c echo.Context) error {
	orgID, err := db.RequireOrganization(c.Request().Context())
	if err != nil {
		return err
	}
	clientID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	pg := pagination.FromContext(c)
	msgs, total, err := h.svc.Conversations(c.Request().Context(), orgID, clientID, pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(msgs, total, pg.Limit, pg.Offset))
}

func (h *Handler) Verify(c echo.Context) error {
	challenge, err := h.svc.VerifyWebhook(c.Request().Context(),
		c.QueryParam("hub.mode"), c.QueryParam("hub.verify_token"), c.QueryParam("hub.challenge"))
	if err != nil {
		return err
	}
	return c.String(http.StatusOK, challenge)
}

func (h *Handler) Receive(c echo.Context) error {
	raw, _ := c.Get(webhook.RawBodyKey).([]byte)
	if err := h.svc.HandleInbound(c.Request().Context(), raw); err != nil {
		return err
	}
	return c.NoContent(http.StatusOK)
}
