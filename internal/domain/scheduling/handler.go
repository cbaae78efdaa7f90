package scheduling

import (
	"net/http"
	"time"

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
	api.GET("/professionals", h.ListProfessionals)
	api.GET("/professionals/:id", h.GetProfessional)
	api.GET("/consultations", h.ListConsultations)
	api.GET("/consultations/free", h.FreeConsultations)
	api.GET("/consultations/:id", h.GetConsultation)
	api.GET("/appointments", h.ListAppointments)
	api.GET("/appointments/availability", h.CheckAvailability)
	api.GET("/appointments/:id", h.GetAppointment)
	api.GET("/group-activities", h.ListActivities)
	api.GET("/group-activities/:id", h.GetActivity)
	api.GET("/group-activities/:id/participants", h.ListParticipants)

	book := api.Group("", auth.RequireRole(auth.RoleStaff, auth.RoleProfessional))
	book.POST("/appointments", h.CreateAppointment)
	book.PUT("/appointments/:id", h.UpdateAppointment)
	book.PATCH("/appointments/:id/status", h.ChangeStatus)
	book.DELETE("/appointments/:id", h.CancelAppointment)
	book.DELETE("/appointments/:id/series", h.CancelSeries)
	book.POST("/group-activities/:id/participants", h.Enroll)
	book.POST("/participants/:id/cancel", h.CancelParticipant)
	book.POST("/participants/:id/attend", h.MarkAttended)

	manage := api.Group("", auth.RequireRole(auth.RoleStaff))
	manage.POST("/professionals", h.CreateProfessional)
	manage.PUT("/professionals/:id", h.UpdateProfessional)
	manage.DELETE("/professionals/:id", h.DeactivateProfessional)
	manage.POST("/consultations", h.CreateConsultation)
	manage.PUT("/consultations/:id", h.UpdateConsultation)
	manage.DELETE("/consultations/:id", h.DeactivateConsultation)
	manage.POST("/group-activities", h.CreateActivity)
	manage.PUT("/group-activities/:id", h.UpdateActivity)
	manage.DELETE("/group-activities/:id", h.CancelActivity)
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

func optionalUUID(c echo.Context, name string) (*uuid.UUID, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return nil, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name)
	}
	return &id, nil
}

func optionalTime(c echo.Context, name string) (*time.Time, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, name+" must be RFC 3339")
	}
	return &t, nil
}

func windowFromQuery(c echo.Context) Window {
	return Window{Date: c.QueryParam("date"), Start: c.QueryParam("start_time"), End: c.QueryParam("end_time")}
}

// -- Professionals --

func (h *Handler) CreateProfessional(c echo.Context) error {
	orgID, _, err := scope(c)
	if err != nil {
		return err
	}
	var p Professional
	if err := c.Bind(&p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := h.svc.CreateProfessional(c.Request().Context(), orgID, &p); err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, p)
}

func (h *Handler) GetProfessional(c echo.Context) error {
	orgID, id, err := scope(c)
	if err != nil {
		return err
	}
	p, err := h.svc.GetProfessional(c.Request().Context(), orgID, id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) UpdateProfessional(c echo.Context) error {
	orgID, id, err := scope(c)
	if err != nil {
		return err
	}
	var p Professional
	if err := c.Bind(&p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	p.ID = id
	if err := h.svc.UpdateProfessional(c.Request().Context(), orgID, &p); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) DeactivateProfessional(c echo.Context) error {
	orgID, id, err := scope(c)
	if err != nil {
		return err
	}
	p, err := h.svc.DeactivateProfessional(c.Request().Context(), orgID, id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) ListProfessionals(c echo.Context) error {
	orgID, _, err := scope(c)
	if err != nil {
		return err
	}
	items, err := h.svc.ListProfessionals(c.Request().Context(), orgID, c.QueryParam("active") == "true")
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"data": items})
}

// -- Consultations --

func (h *Handler) CreateConsultation(c echo.Context) error {
	orgID, _, err := scope(c)
	if err != nil {
		return err
	}
	var cons Consultation
	if err := c.Bind(&cons); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := h.svc.CreateConsultation(c.Request().Context(), orgID, &cons); err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, cons)
}

func (h *Handler) GetConsultation(c echo.Context) error {
	orgID, id, err := scope(c)
	if err != nil {
		return err
	}
	cons, err := h.svc.GetConsultation(c.Request().Context(), orgID, id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, cons)
}

func (h *Handler) UpdateConsultation(c echo.Context) error {
	orgID, id, err := scope(c)
	if err != nil {
		return err
	}
	var cons Consultation
	if err := c.Bind(&cons); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	cons.ID = id
	if err := h.svc.UpdateConsultation(c.Request().Context(), orgID, &cons); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, cons)
}

func (h *Handler) DeactivateConsultation(c echo.Context) error {
	orgID, id, err := scope(c)
	if err != nil {
		return err
	}
	cons, err := h.svc.DeactivateConsultation(c.Request().Context(), orgID, id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, cons)
}

func (h *Handler) ListConsultations(c echo.Context) error {
	orgID, _, err := scope(c)
	if err != nil {
		return err
	}
	items, err := h.svc.ListConsultations(c.Request().Context(), orgID, c.QueryParam("active") == "true")
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"data": items})
}

// FreeConsultations answers ?date=&start_time=&end_time=[&exclude_id=].
func (h *Handler) FreeConsultations(c echo.Context) error {
	orgID, _, err := scope(c)
	if err != nil {
		return err
	}
	exclude, err := optionalUUID(c, "exclude_id")
	if err != nil {
		return err
	}
	items, err := h.svc.FreeConsultations(c.Request().Context(), orgID, windowFromQuery(c), exclude)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"data": items})
}

// -- Appointments --

func (h *Handler) CheckAvailability(c echo.Context) error {
	orgID, _, err := scope(c)
	if err != nil {
		return err
	}
	q := AvailabilityQuery{Window: windowFromQuery(c)}
	if q.ProfessionalID, err = optionalUUID(c, "professional_id"); err != nil {
		return err
	}
	if q.ConsultationID, err = optionalUUID(c, "consultation_id"); err != nil {
		return err
	}
	if q.ExcludeAppointmentID, err = optionalUUID(c, "exclude_id"); err != nil {
		return err
	}
	av, err := h.svc.CheckAvailability(c.Request().Context(), orgID, q)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, av)
}

func (h *Handler) CreateAppointment(c echo.Context) error {
	orgID, _, err := scope(c)
	if err != nil {
		return err
	}
	var in AppointmentInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	created, err := h.svc.CreateAppointment(c.Request().Context(), orgID, in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, map[string]interface{}{"data": created, "count": len(created)})
}

func (h *Handler) GetAppointment(c echo.Context) error {
	orgID, id, err := scope(c)
	if err != nil {
		return err
	}
	a, err := h.svc.GetAppointment(c.Request().Context(), orgID, id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) ListAppointments(c echo.Context) error {
	orgID, _, err := scope(c)
	if err != nil {
		return err
	}
	f := AppointmentFilter{Status: c.QueryParam("status")}
	if f.From, err = optionalTime(c, "from"); err != nil {
		return err
	}
	if f.To, err = optionalTime(c, "to"); err != nil {
		return err
	}
	if f.ProfessionalID, err = optionalUUID(c, "professional_id"); err != nil {
		return err
	}
	if f.ConsultationID, err = optionalUUID(c, "consultation_id"); err != nil {
		return err
	}
	if f.ClientID, err = optionalUUID(c, "client_id"); err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListAppointments(c.Request().Context(), orgID, f, pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) UpdateAppointment(c echo.Context) error {
	orgID, id, err := scope(c)
	if err != nil {
		return err
	}
	var in AppointmentInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	a, err := h.svc.UpdateAppointment(c.Request().Context(), orgID, id, in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) ChangeStatus(c echo.Context) error {
	orgID, id, err := scope(c)
	if err != nil {
		return err
	}
	var body struct {
		Status string `json:"status"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	a, err := h.svc.ChangeStatus(c.Request().Context(), orgID, id, body.Status)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) CancelAppointment(c echo.Context) error {
	orgID, id, err := scope(c)
	if err != nil {
		return err
	}
	a, err := h.svc.CancelAppointment(c.Request().Context(), orgID, id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) CancelSeries(c echo.Context) error {
	orgID, id, err := scope(c)
	if err != nil {
		return err
	}
	n, err := h.svc.CancelSeries(c.Request().Context(), orgID, id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]int{"cancelled": n})
}

// -- Group activities --

func (h *Handler) CreateActivity(c echo.Context) error {
	orgID, _, err := scope(c)
	if err != nil {
		return err
	}
	var in ActivityInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	a, err := h.svc.CreateActivity(c.Request().Context(), orgID, in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, a)
}

func (h *Handler) GetActivity(c echo.Context) error {
	orgID, id, err := scope(c)
	if err != nil {
		return err
	}
	a, err := h.svc.GetActivity(c.Request().Context(), orgID, id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) ListActivities(c echo.Context) error {
	orgID, _, err := scope(c)
	if err != nil {
		return err
	}
	from, err := optionalTime(c, "from")
	if err != nil {
		return err
	}
	to, err := optionalTime(c, "to")
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListActivities(c.Request().Context(), orgID, from, to, pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) UpdateActivity(c echo.Context) error {
	orgID, id, err := scope(c)
	if err != nil {
		return err
	}
	var in ActivityInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	a, err := h.svc.UpdateActivity(c.Request().Context(), orgID, id, in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) CancelActivity(c echo.Context) error {
	orgID, id, err := scope(c)
	if err != nil {
		return err
	}
	a, err := h.svc.CancelActivity(c.Request().Context(), orgID, id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) Enroll(c echo.Context) error {
	orgID, id, err := scope(c)
	if err != nil {
		return err
	}
	var body struct {
		ClientID uuid.UUID `json:"client_id"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if body.ClientID == uuid.Nil {
		return echo.NewHTTPError(http.StatusBadRequest, "client_id is required")
	}
	p, err := h.svc.Enroll(c.Request().Context(), orgID, id, body.ClientID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, p)
}

func (h *Handler) ListParticipants(c echo.Context) error {
	orgID, id, err := scope(c)
	if err != nil {
		return err
	}
	items, err := h.svc.ListParticipants(c.Request().Context(), orgID, id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"data": items})
}

func (h *Handler) CancelParticipant(c echo.Context) error {
	orgID, id, err := scope(c)
	if err != nil {
		return err
	}
	p, err := h.svc.CancelParticipant(c.Request().Context(), orgID, id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) MarkAttended(c echo.Context) error {
	orgID, id, err := scope(c)
	if err != nil {
		return err
	}
	p, err := h.svc.MarkAttended(c.Request().Context(), orgID, id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, p)
}
