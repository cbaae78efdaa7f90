package crm

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/clinicdesk/clinicdesk/internal/platform/auth"
	"github.com/clinicdesk/clinicdesk/internal/platform/db"
	"github.com/clinicdesk/clinicdesk/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/clients", h.ListClients)
	api.GET("/clients/:id", h.GetClient)
	api.GET("/tags", h.ListTags)

	write := api.Group("", auth.RequireRole(auth.RoleStaff, auth.RoleProfessional))
	write.POST("/clients", h.CreateClient)
	write.PUT("/clients/:id", h.UpdateClient)
	write.PUT("/clients/:id/tags", h.SetTags)
	write.POST("/tags", h.CreateTag)
	write.PUT("/tags/:id", h.UpdateTag)

	manage := api.Group("", auth.RequireRole(auth.RoleStaff))
	manage.DELETE("/clients/:id", h.DeleteClient)
	manage.DELETE("/tags/:id", h.DeleteTag)
	manage.POST("/clients/import", h.ImportCSV)
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

func (h *Handler) CreateClient(c echo.Context) error {
	orgID, _, err := scope(c)
	if err != nil {
		return err
	}
	var cl Client
	if err := c.Bind(&cl); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := h.svc.CreateClient(c.Request().Context(), orgID, &cl); err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, cl)
}

func (h *Handler) GetClient(c echo.Context) error {
	orgID, id, err := scope(c)
	if err != nil {
		return err
	}
	cl, err := h.svc.GetClient(c.Request().Context(), orgID, id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, cl)
}

func (h *Handler) ListClients(c echo.Context) error {
	orgID, _, err := scope(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	f := ClientFilter{Query: c.QueryParam("q"), Tag: c.QueryParam("tag")}
	items, total, err := h.svc.ListClients(c.Request().Context(), orgID, f, pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) UpdateClient(c echo.Context) error {
	orgID, id, err := scope(c)
	if err != nil {
		return err
	}
	var cl Client
	if err := c.Bind(&cl); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	cl.ID = id
	if err := h.svc.UpdateClient(c.Request().Context(), orgID, &cl); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, cl)
}

func (h *Handler) DeleteClient(c echo.Context) error {
	orgID, id, err := scope(c)
	if err != nil {
		return err
	}
	if err := h.svc.DeleteClient(c.Request().Context(), orgID, id); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) SetTags(c echo.Context) error {
	orgID, id, err := scope(c)
	if err != nil {
		return err
	}
	var body struct {
		Tags []string `json:"tags"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	tags, err := h.svc.SetTags(c.Request().Context(), orgID, id, body.Tags)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string][]string{"tags": tags})
}

// ImportCSV takes a multipart "file" and an optional "mapping" field holding
// a JSON object of header to client field.
func (h *Handler) ImportCSV(c echo.Context) error {
	orgID, _, err := scope(c)
	if err != nil {
		return err
	}
	fh, err := c.FormFile("file")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "file is required")
	}
	var mapping map[string]string
	if raw := c.FormValue("mapping"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &mapping); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "mapping must be a JSON object")
		}
	}
	f, err := fh.Open()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "unreadable file")
	}
	defer f.Close()

	report, err := h.svc.ImportCSV(c.Request().Context(), orgID, f, mapping)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, report)
}

func (h *Handler) ListTags(c echo.Context) error {
	orgID, _, err := scope(c)
	if err != nil {
		return err
	}
	tags, err := h.svc.ListTags(c.Request().Context(), orgID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"data": tags})
}

func (h *Handler) CreateTag(c echo.Context) error {
	orgID, _, err := scope(c)
	if err != nil {
		return err
	}
	var t Tag
	if err := c.Bind(&t); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := h.svc.CreateTag(c.Request().Context(), orgID, &t); err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, t)
}

func (h *Handler) UpdateTag(c echo.Context) error {
	orgID, id, err := scope(c)
	if err != nil {
		return err
	}
	var t Tag
	if err := c.Bind(&t); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	t.ID = id
	if err := h.svc.UpdateTag(c.Request().Context(), orgID, &t); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, t)
}

func (h *Handler) DeleteTag(c echo.Context) error {
	orgID, id, err := scope(c)
	if err != nil {
		return err
	}
	if err := h.svc.DeleteTag(c.Request().Context(), orgID, id); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}
