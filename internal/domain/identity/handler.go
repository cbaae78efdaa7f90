package identity

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/clinicdesk/clinicdesk/internal/platform/auth"
	"github.com/clinicdesk/clinicdesk/internal/platform/db"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterPublicRoutes mounts signup and login, which run without a session.
func (h *Handler) RegisterPublicRoutes(g *echo.Group) {
	g.POST("/auth/signup", h.Signup)
	g.POST("/auth/login", h.Login)
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/organization", h.GetOrganization)
	api.GET("/members", h.ListMembers)

	admin := api.Group("", auth.RequireRole(auth.RoleAdmin))
	admin.PUT("/organization", h.UpdateOrganization)
	admin.POST("/members", h.Invite)
}

func (h *Handler) Signup(c echo.Context) error {
	var in SignupInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	sess, org, err := h.svc.Signup(c.Request().Context(), in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, map[string]interface{}{
		"session":      sess,
		"organization": org,
	})
}

func (h *Handler) Login(c echo.Context) error {
	var in LoginInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	sess, err := h.svc.Login(c.Request().Context(), in)
	if errors.Is(err, ErrInvalidCredentials) {
		return echo.NewHTTPError(http.StatusUnauthorized, err.Error())
	}
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, sess)
}

func (h *Handler) GetOrganization(c echo.Context) error {
	orgID, err := db.RequireOrganization(c.Request().Context())
	if err != nil {
		return err
	}
	org, err := h.svc.GetOrganization(c.Request().Context(), orgID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, org)
}

func (h *Handler) UpdateOrganization(c echo.Context) error {
	orgID, err := db.RequireOrganization(c.Request().Context())
	if err != nil {
		return err
	}
	var org Organization
	if err := c.Bind(&org); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	org.ID = orgID
	if err := h.svc.UpdateOrganization(c.Request().Context(), &org); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, org)
}

func (h *Handler) ListMembers(c echo.Context) error {
	orgID, err := db.RequireOrganization(c.Request().Context())
	if err != nil {
		return err
	}
	members, err := h.svc.ListMembers(c.Request().Context(), orgID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"data": members})
}

func (h *Handler) Invite(c echo.Context) error {
	orgID, err := db.RequireOrganization(c.Request().Context())
	if err != nil {
		return err
	}
	var in InviteInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	m, err := h.svc.Invite(c.Request().Context(), orgID, in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, m)
}
