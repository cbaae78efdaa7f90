package consent

import (
	"net/http"
	"time"

	"github.com/google/uuid"
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

// RegisterRoutes mounts the staff endpoints.
func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/consent-forms", h.ListForms)
	api.GET("/consent-forms/:id", h.GetForm)
	api.GET("/clients/:id/consents", h.ListClientConsents)
	api.GET("/consents/:id", h.GetConsent)

	staff := api.Group("", auth.RequireRole(auth.RoleStaff, auth.RoleProfessional))
	staff.POST("/consent-forms/:id/links", h.IssueLink)
	staff.POST("/consent-forms/:id/send", h.SendLink)
	staff.POST("/consents/:id/revoke", h.Revoke)

	manage := api.Group("", auth.RequireRole(auth.RoleStaff))
	manage.POST("/consent-forms", h.CreateForm)
	manage.PUT("/consent-forms/:id", h.UpdateForm)
	manage.DELETE("/consent-forms/:id", h.DeactivateForm)
}

// RegisterPublicRoutes mounts the link endpoints used by clients. They sit
// outside authentication; the link token is the credential.
func (h *Handler) RegisterPublicRoutes(g *echo.Group) {
	g.GET("/consent/:token", h.Open)
	g.POST("/consent/:token/sign", h.Sign)
}

func scope(c echo.Context) (uuid.UUID, uuid.UUID, error) {
	orgID, err := db.RequireOrganization(c.Request().Context())
	if err != nil {
		return uuid.Nil, uuid.Nil, err
	}
	if c.Param("id") == "" {
		return orgID, uuid.Nil, nil
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return orgID, id, nil
}

func (h *Handler) CreateForm(c echo.Context) error {
	orgID, _, err := scope(c)
	if err != nil {
		return err
	}
	var in FormInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	f, err := h.svc.CreateForm(c.Request().Context(), orgID, in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, f)
}

func (h *Handler) GetForm(c echo.Context) error {
	orgID, id, err := scope(c)
	if err != nil {
		return err
	}
	f, err := h.svc.GetForm(c.Request().Context(), orgID, id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, f)
}

func (h *Handler) ListForms(c echo.Context) error {
	orgID, _, err := scope(c)
	if err != nil {
		return err
	}
	forms, err := h.svc.ListForms(c.Request().Context(), orgID, c.QueryParam("active") == "true")
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"data": forms})
}

func (h *Handler) UpdateForm(c echo.Context) error {
	orgID, id, err := scope(c)
	if err != nil {
		return err
	}
	var in FormInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	f, err := h.svc.UpdateForm(c.Request().Context(), orgID, id, in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, f)
}

func (h *Handler) DeactivateForm(c echo.Context) error {
	orgID, id, err := scope(c)
	if err != nil {
		return err
	}
	f, err := h.svc.SetFormActive(c.Request().Context(), orgID, id, false)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, f)
}

type linkRequest struct {
	ClientID uuid.UUID `json:"client_id"`
	// TTL is a Go duration such as "72h". Empty uses the default.
	TTL string `json:"ttl"`
}

func (h *Handler) IssueLink(c echo.Context) error {
	orgID, formID, err := scope(c)
	if err != nil {
		return err
	}
	var req linkRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	var ttl time.Duration
	if req.TTL != "" {
		if ttl, err = time.ParseDuration(req.TTL); err != nil || ttl <= 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "ttl must be a positive duration")
		}
	}
	link, err := h.svc.IssueToken(c.Request().Context(), orgID, formID, req.ClientID, ttl)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, link)
}

func (h *Handler) SendLink(c echo.Context) error {
	orgID, formID, err := scope(c)
	if err != nil {
		return err
	}
	var req linkRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	link, err := h.svc.SendLink(c.Request().Context(), orgID, formID, req.ClientID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, link)
}

func (h *Handler) ListClientConsents(c echo.Context) error {
	orgID, clientID, err := scope(c)
	if err != nil {
		return err
	}
	items, err := h.svc.ListClientConsents(c.Request().Context(), orgID, clientID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"data": items})
}

func (h *Handler) GetConsent(c echo.Context) error {
	orgID, id, err := scope(c)
	if err != nil {
		return err
	}
	pc, err := h.svc.GetConsent(c.Request().Context(), orgID, id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pc)
}

func (h *Handler) Revoke(c echo.Context) error {
	orgID, id, err := scope(c)
	if err != nil {
		return err
	}
	pc, err := h.svc.Revoke(c.Request().Context(), orgID, id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pc)
}

// -- Public --

func (h *Handler) Open(c echo.Context) error {
	form, err := h.svc.Open(c.Request().Context(), c.Param("token"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, form)
}

func (h *Handler) Sign(c echo.Context) error {
	var in SignatureInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	meta := RequestMeta{IP: c.RealIP(), UserAgent: c.Request().UserAgent()}
	pc, err := h.svc.Sign(c.Request().Context(), c.Param("token"), in, meta)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, map[string]interface{}{
		"id":        pc.ID,
		"signed_at": pc.SignedAt,
	})
}
