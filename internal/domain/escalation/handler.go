package escalation

import (
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
	view := auth.Require("view", "escalations")
	edit := auth.Require("edit", "escalations")

	api.POST("/escalations", h.Schedule, edit)
	api.GET("/escalations", h.List, view)
	api.GET("/escalations/:id", h.Get, view)
	api.POST("/escalations/:id/resolve", h.Resolve, edit)
	api.POST("/escalations/sweep", h.Sweep, edit)
}

func (h *Handler) Schedule(c echo.Context) error {
	var esc Escalation
	if err := c.Bind(&esc); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.Schedule(c.Request().Context(), &esc); err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusCreated, esc)
}

func (h *Handler) Get(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	esc, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, esc)
}

func (h *Handler) List(c echo.Context) error {
	var f Filter
	f.TargetRole = c.QueryParam("target_role")
	f.Status = c.QueryParam("status")
	if v := c.QueryParam("followup_item_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid followup_item_id")
		}
		f.FollowupItemID = id
	}
	if v := c.QueryParam("reminder_instance_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid reminder_instance_id")
		}
		f.ReminderInstanceID = id
	}

	pg := pagination.FromContext(c)
	escs, total, err := h.svc.List(c.Request().Context(), f, pg.Limit, pg.Offset)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(escs, total, pg.Limit, pg.Offset))
}

func (h *Handler) Resolve(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	esc, err := h.svc.Resolve(c.Request().Context(), id, time.Now().UTC())
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, esc)
}

// Sweep runs one sweeper pass on demand, outside the scheduler cadence.
func (h *Handler) Sweep(c echo.Context) error {
	result, err := h.svc.Sweep(c.Request().Context(), time.Now().UTC())
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, result)
}
