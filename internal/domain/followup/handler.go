package followup

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/careloop/careloop/internal/platform/apperr"
	"github.com/careloop/careloop/internal/platform/auth"
	"github.com/careloop/careloop/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	view := auth.Require("view", "followups")
	edit := auth.Require("edit", "followups")

	api.POST("/followups", h.Create, edit)
	api.POST("/followups/extract", h.CreateFromExtraction, edit)
	api.GET("/followups", h.List, view)
	api.GET("/followups/slip-check", h.SlipCheck, view)
	api.GET("/followups/:id", h.Get, view)
	api.POST("/followups/:id/assign", h.Assign, edit)
	api.POST("/followups/:id/start", h.Start, edit)
	api.POST("/followups/:id/complete", h.Complete, edit)
	api.POST("/followups/:id/dismiss", h.Dismiss, edit)
	api.POST("/followups/:id/appointment", h.LinkAppointment, edit)
}

func (h *Handler) Create(c echo.Context) error {
	var item FollowupItem
	if err := c.Bind(&item); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.Create(c.Request().Context(), &item); err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusCreated, item)
}

func (h *Handler) CreateFromExtraction(c echo.Context) error {
	var body struct {
		PatientID uuid.UUID        `json:"patient_id"`
		Items     []ExtractionItem `json:"items"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if body.PatientID == uuid.Nil {
		return echo.NewHTTPError(http.StatusBadRequest, "patient_id is required")
	}

	items, err := h.svc.CreateFromExtraction(c.Request().Context(), body.PatientID, body.Items, time.Now().UTC())
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusCreated, items)
}

func (h *Handler) Get(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	item, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, item)
}

func (h *Handler) List(c echo.Context) error {
	var f Filter
	f.Status = c.QueryParam("status")
	f.OwnerRole = c.QueryParam("owner_role")
	f.Category = c.QueryParam("category")
	if v := c.QueryParam("patient_id"); v != "" {
		pid, err := uuid.Parse(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid patient_id")
		}
		f.PatientID = pid
	}

	pg := pagination.FromContext(c)
	items, total, err := h.svc.List(c.Request().Context(), f, pg.Limit, pg.Offset)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) Assign(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var body struct {
		Assignee string `json:"assignee"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	item, err := h.svc.Assign(c.Request().Context(), id, body.Assignee)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, item)
}

func (h *Handler) Start(c echo.Context) error {
	return h.applyTransition(c, h.svc.Start)
}

func (h *Handler) Complete(c echo.Context) error {
	return h.applyTransition(c, h.svc.Complete)
}

func (h *Handler) applyTransition(c echo.Context, fn func(ctx context.Context, id uuid.UUID) (*FollowupItem, error)) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	item, err := fn(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, item)
}

func (h *Handler) Dismiss(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var body struct {
		Reason string `json:"reason"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	item, err := h.svc.Dismiss(c.Request().Context(), id, body.Reason)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, item)
}

func (h *Handler) LinkAppointment(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var body struct {
		AppointmentID uuid.UUID `json:"appointment_id"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.LinkAppointment(c.Request().Context(), id, body.AppointmentID); err != nil {
		return apperr.HTTPError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) SlipCheck(c echo.Context) error {
	summary, err := h.svc.SlipCheck(c.Request().Context(), time.Now().UTC())
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, summary)
}
