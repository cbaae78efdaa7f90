package assistant

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/clinicdesk/clinicdesk/internal/platform/auth"
	"github.com/clinicdesk/clinicdesk/internal/platform/db"
	"github.com/clinicdesk/clinicdesk/internal/platform/llm"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/assistant", auth.RequireRole(auth.RoleStaff, auth.RoleProfessional))
	g.POST("/chat", h.Chat)
	g.POST("/map-columns", h.MapColumns)
}

func (h *Handler) Chat(c echo.Context) error {
	orgID, err := db.RequireOrganization(c.Request().Context())
	if err != nil {
		return err
	}
	var body struct {
		Messages []llm.Message `json:"messages"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	reply, err := h.svc.Chat(c.Request().Context(), orgID, body.Messages)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]string{"role": llm.RoleAssistant, "content": reply})
}

func (h *Handler) MapColumns(c echo.Context) error {
	var body struct {
		Headers []string   `json:"headers"`
		Sample  [][]string `json:"sample"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	mapping, err := h.svc.MapColumns(c.Request().Context(), body.Headers, body.Sample)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"mapping": mapping})
}
