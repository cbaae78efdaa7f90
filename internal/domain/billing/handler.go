package billing

import (
	"bytes"
	"fmt"
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
	g := api.Group("", auth.RequireRole(auth.RoleStaff))

	g.GET("/invoices", h.ListInvoices)
	g.POST("/invoices", h.CreateInvoice)
	g.POST("/invoices/export", h.ExportInvoices)
	g.GET("/invoices/:id", h.GetInvoice)
	g.PUT("/invoices/:id", h.UpdateInvoice)
	g.PATCH("/invoices/:id/status", h.ChangeStatus)
	g.GET("/invoices/:id/pdf", h.DownloadPDF)

	g.GET("/expenses", h.ListExpenses)
	g.POST("/expenses", h.CreateExpense)
	g.GET("/expenses/summary", h.Summary)
	g.GET("/expenses/:id", h.GetExpense)
	g.PUT("/expenses/:id", h.UpdateExpense)
	g.DELETE("/expenses/:id", h.DeleteExpense)
	g.POST("/expenses/:id/receipt", h.UploadReceipt)
	g.GET("/expenses/:id/receipt", h.DownloadReceipt)
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

func optionalDate(c echo.Context, name string) (*time.Time, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return nil, nil
	}
	d, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, name+" must be YYYY-MM-DD")
	}
	return &d, nil
}

// -- Invoices --

func (h *Handler) CreateInvoice(c echo.Context) error {
	orgID, _, err := scope(c)
	if err != nil {
		return err
	}
	var in InvoiceInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	inv, err := h.svc.CreateInvoice(c.Request().Context(), orgID, in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, inv)
}

func (h *Handler) GetInvoice(c echo.Context) error {
	orgID, id, err := scope(c)
	if err != nil {
		return err
	}
	inv, err := h.svc.GetInvoice(c.Request().Context(), orgID, id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, inv)
}

func (h *Handler) UpdateInvoice(c echo.Context) error {
	orgID, id, err := scope(c)
	if err != nil {
		return err
	}
	var in InvoiceInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	inv, err := h.svc.UpdateInvoice(c.Request().Context(), orgID, id, in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, inv)
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
	inv, err := h.svc.ChangeStatus(c.Request().Context(), orgID, id, body.Status)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, inv)
}

func (h *Handler) ListInvoices(c echo.Context) error {
	orgID, _, err := scope(c)
	if err != nil {
		return err
	}
	f := InvoiceFilter{Status: c.QueryParam("status")}
	if raw := c.QueryParam("client_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid client_id")
		}
		f.ClientID = &id
	}
	if f.From, err = optionalDate(c, "from"); err != nil {
		return err
	}
	if f.To, err = optionalDate(c, "to"); err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListInvoices(c.Request().Context(), orgID, f, pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) DownloadPDF(c echo.Context) error {
	orgID, id, err := scope(c)
	if err != nil {
		return err
	}
	doc, name, err := h.svc.RenderPDF(c.Request().Context(), orgID, id)
	if err != nil {
		return err
	}
	c.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", name))
	return c.Blob(http.StatusOK, "application/pdf", doc)
}

// ExportInvoices returns a zip of invoice PDFs for {"ids": [...]}.
func (h *Handler) ExportInvoices(c echo.Context) error {
	orgID, _, err := scope(c)
	if err != nil {
		return err
	}
	var body struct {
		IDs []uuid.UUID `json:"ids"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	// buffered so a failed fetch still yields a JSON error
	var buf bytes.Buffer
	if err := h.svc.ExportZip(c.Request().Context(), orgID, body.IDs, &buf); err != nil {
		return err
	}
	c.Response().Header().Set(echo.HeaderContentDisposition, `attachment; filename="facturas.zip"`)
	return c.Blob(http.StatusOK, "application/zip", buf.Bytes())
}

// -- Expenses --

func (h *Handler) CreateExpense(c echo.Context) error {
	orgID, _, err := scope(c)
	if err != nil {
		return err
	}
	var in ExpenseInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	e, err := h.svc.CreateExpense(c.Request().Context(), orgID, in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, e)
}

func (h *Handler) GetExpense(c echo.Context) error {
	orgID, id, err := scope(c)
	if err != nil {
		return err
	}
	e, err := h.svc.GetExpense(c.Request().Context(), orgID, id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, e)
}

func (h *Handler) UpdateExpense(c echo.Context) error {
	orgID, id, err := scope(c)
	if err != nil {
		return err
	}
	var in ExpenseInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	e, err := h.svc.UpdateExpense(c.Request().Context(), orgID, id, in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, e)
}

func (h *Handler) DeleteExpense(c echo.Context) error {
	orgID, id, err := scope(c)
	if err != nil {
		return err
	}
	if err := h.svc.DeleteExpense(c.Request().Context(), orgID, id); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) ListExpenses(c echo.Context) error {
	orgID, _, err := scope(c)
	if err != nil {
		return err
	}
	f := ExpenseFilter{Category: c.QueryParam("category")}
	if f.From, err = optionalDate(c, "from"); err != nil {
		return err
	}
	if f.To, err = optionalDate(c, "to"); err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListExpenses(c.Request().Context(), orgID, f, pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) Summary(c echo.Context) error {
	orgID, _, err := scope(c)
	if err != nil {
		return err
	}
	from, err := optionalDate(c, "from")
	if err != nil {
		return err
	}
	to, err := optionalDate(c, "to")
	if err != nil {
		return err
	}
	if from == nil || to == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "from and to are required")
	}
	sum, err := h.svc.Summary(c.Request().Context(), orgID, *from, *to)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, sum)
}

func (h *Handler) UploadReceipt(c echo.Context) error {
	orgID, id, err := scope(c)
	if err != nil {
		return err
	}
	fh, err := c.FormFile("file")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "file is required")
	}
	f, err := fh.Open()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "unreadable file")
	}
	defer f.Close()

	e, err := h.svc.UploadReceipt(c.Request().Context(), orgID, id, fh.Header.Get(echo.HeaderContentType), f)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, e)
}

func (h *Handler) DownloadReceipt(c echo.Context) error {
	orgID, id, err := scope(c)
	if err != nil {
		return err
	}
	url, err := h.svc.ReceiptURL(c.Request().Context(), orgID, id)
	if err != nil {
		return err
	}
	return c.Redirect(http.StatusFound, url)
}
