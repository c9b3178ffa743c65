package routine

import (
	"net/http"

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
	view := auth.Require("view", "routines")
	edit := auth.Require("edit", "routines")

	api.POST("/routines", h.CreateRoutine, edit)
	api.GET("/routines/:id", h.GetRoutine, view)
	api.PUT("/routines/:id", h.UpdateRoutine, edit)
	api.POST("/routines/:id/deactivate", h.DeactivateRoutine, edit)
	api.GET("/patients/:id/routines", h.ListPatientRoutines, view)

	api.POST("/routines/:id/rules", h.CreateRule, edit)
	api.GET("/routines/:id/rules", h.ListRules, view)
	api.PUT("/rules/:id", h.UpdateRule, edit)
	api.POST("/rules/:id/deactivate", h.DeactivateRule, edit)

	api.POST("/routines/:id/steps", h.AddStep, edit)
	api.GET("/routines/:id/steps", h.ListSteps, view)
	api.PUT("/steps/:id/label", h.RelabelStep, edit)
}

func (h *Handler) CreateRoutine(c echo.Context) error {
	var rt Routine
	if err := c.Bind(&rt); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.CreateRoutine(c.Request().Context(), &rt); err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusCreated, rt)
}

func (h *Handler) GetRoutine(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	rt, err := h.svc.GetRoutine(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, rt)
}

func (h *Handler) UpdateRoutine(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var rt Routine
	if err := c.Bind(&rt); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	rt.ID = id
	if err := h.svc.UpdateRoutine(c.Request().Context(), &rt); err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, rt)
}

func (h *Handler) DeactivateRoutine(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	if err := h.svc.DeactivateRoutine(c.Request().Context(), id); err != nil {
		return apperr.HTTPError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) ListPatientRoutines(c echo.Context) error {
	patientID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid patient id")
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListByPatient(c.Request().Context(), patientID, pg.Limit, pg.Offset)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) CreateRule(c echo.Context) error {
	routineID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var rule ScheduleRule
	if err := c.Bind(&rule); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	rule.RoutineID = routineID
	if err := h.svc.CreateRule(c.Request().Context(), &rule); err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusCreated, rule)
}

func (h *Handler) ListRules(c echo.Context) error {
	routineID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	rules, err := h.svc.ListRulesByRoutine(c.Request().Context(), routineID)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, rules)
}

func (h *Handler) UpdateRule(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var rule ScheduleRule
	if err := c.Bind(&rule); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	rule.ID = id
	if err := h.svc.UpdateRule(c.Request().Context(), &rule); err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, rule)
}

func (h *Handler) DeactivateRule(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	if err := h.svc.DeactivateRule(c.Request().Context(), id); err != nil {
		return apperr.HTTPError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) AddStep(c echo.Context) error {
	routineID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var step RoutineStep
	if err := c.Bind(&step); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	step.RoutineID = routineID
	if err := h.svc.AddStep(c.Request().Context(), &step); err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusCreated, step)
}

func (h *Handler) ListSteps(c echo.Context) error {
	routineID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	steps, err := h.svc.ListSteps(c.Request().Context(), routineID)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, steps)
}

func (h *Handler) RelabelStep(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var body struct {
		Label string `json:"label"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.RelabelStep(c.Request().Context(), id, body.Label); err != nil {
		return apperr.HTTPError(err)
	}
	return c.NoContent(http.StatusNoContent)
}
